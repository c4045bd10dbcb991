package auth

import (
	"context"
	"errors"
	"strings"
)

// ErrUnauthorized is returned when a join cannot be bound to an identity.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the user a connection acts as.
type Identity struct {
	UserID      string
	DisplayName string
	Avatar      string
}

// Provider resolves the identity of a joining connection.
// claimed is what the client announced; token is optional.
type Provider interface {
	Identify(ctx context.Context, token string, claimed Identity) (Identity, error)
}

// Trusting accepts the identity announced by the client as is.
// It performs no verification and is meant for development setups.
type Trusting struct{}

// Identify implements Provider.
func (Trusting) Identify(_ context.Context, _ string, claimed Identity) (Identity, error) {
	claimed.UserID = strings.TrimSpace(claimed.UserID)
	if claimed.UserID == "" {
		return Identity{}, ErrUnauthorized
	}
	if claimed.DisplayName == "" {
		claimed.DisplayName = claimed.UserID
	}
	return claimed, nil
}

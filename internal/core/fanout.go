package core

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/metrics"
)

// Fanout delivers one event to every live connection of a user.
type Fanout struct {
	registry *Registry
	log      *zerolog.Logger
	metrics  *metrics.Metrics
}

// NewFanout builds a fanout over registry.
func NewFanout(registry *Registry, logger *zerolog.Logger, m *metrics.Metrics) *Fanout {
	return &Fanout{registry: registry, log: logger, metrics: m}
}

// Deliver pushes event to all of userID's connections and returns how many accepted it.
// A connection that rejects the event is stale: it is unregistered and closed.
func (f *Fanout) Deliver(userID string, event *Event) int {
	delivered := 0
	for _, conn := range f.registry.ConnectionsFor(userID) {
		if err := conn.Deliver(event); err != nil {
			if f.registry.Unregister(conn) {
				f.metrics.SetConnections(f.registry.Count())
			}
			conn.Close()
			f.metrics.FanoutFailed()
			f.log.Warn().
				Err(fmt.Errorf("%w: %w", ErrFanoutFailed, err)).
				Str("user_id", userID).
				Str("conn_id", conn.ID()).
				Msg("dropped stale connection")
			continue
		}
		delivered++
	}
	return delivered
}

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatrelay/internal/app"
	"github.com/vovakirdan/chatrelay/internal/auth"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		name string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <userId>",
		Short: "Mint a join token signed with the configured jwt_secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			jwtCfg := app.JWTConfig(&cfg)
			if jwtCfg == nil {
				return errors.New("jwt_secret is not configured")
			}
			if ttl > 0 {
				jwtCfg.TTL = ttl
			}

			token, err := auth.GenerateToken(jwtCfg, auth.Identity{UserID: args[0], DisplayName: name})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default 24h)")
	return cmd
}

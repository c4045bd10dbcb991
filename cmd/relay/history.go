package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatrelay/internal/app"
	"github.com/vovakirdan/chatrelay/internal/core"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var (
		after int64
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history <userA> <userB>",
		Short: "Print a stored conversation in order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}
			key, err := core.ConversationKey(args[0], args[1])
			if err != nil {
				return err
			}

			st, err := app.OpenStore(&cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			msgs, err := st.ListMessages(cmd.Context(), key, after, limit)
			if err != nil {
				return fmt.Errorf("list messages: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, m := range msgs {
				fmt.Fprintf(out, "%d\t%s\t%-9s\t%s: %s\n",
					m.ID,
					m.CreatedAt.Local().Format(time.DateTime),
					m.Status,
					m.SenderID,
					m.Body,
				)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "only messages with a larger id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum messages (0 = all)")
	return cmd
}

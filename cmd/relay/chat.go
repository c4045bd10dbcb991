package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/chatrelay/internal/client"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

type chatOptions struct {
	url   string
	user  string
	name  string
	token string
	peer  string
}

func newChatCmd(_ *rootOptions) *cobra.Command {
	opts := chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive direct chat with one peer",
		Long: `Interactive direct chat with one peer.

Lines are sent as messages. Commands:
  /typing      tell the peer you are typing
  /read <id>   mark a received message as read
  /open        reload the conversation
  /quit        leave`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.user == "" || opts.peer == "" {
				return errors.New("--user and --peer are required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			session, err := client.Dial(ctx, opts.url)
			if err != nil {
				return err
			}
			defer session.Close()

			return runChat(ctx, session, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "relay websocket address")
	flags.StringVar(&opts.user, "user", "", "your user id")
	flags.StringVar(&opts.name, "name", "", "display name")
	flags.StringVar(&opts.token, "token", "", "join token when the relay checks JWTs")
	flags.StringVar(&opts.peer, "peer", "", "user id to chat with")
	return cmd
}

// runChat drives one chat on an established session until input ends,
// /quit is entered, the relay goes away or ctx is cancelled.
func runChat(ctx context.Context, session *client.Session, opts chatOptions, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := session.Join(ctx, opts.user, opts.name, opts.token); err != nil {
		return err
	}
	if err := session.Open(ctx, opts.peer, 0); err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected as %s, chatting with %s. Type /quit to exit.\n", opts.user, opts.peer)

	timeline := client.NewTimeline()
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		for ev := range session.Events() {
			timeline.Apply(ev)
			printIncoming(out, opts.peer, ev)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return session.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, session, timeline, opts.peer, strings.TrimSpace(line), out)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, session *client.Session, timeline *client.Timeline, peer, line string, out io.Writer) (bool, error) {
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case line == "/typing":
		return false, session.Typing(ctx, peer, true)
	case line == "/open":
		return false, session.Open(ctx, peer, 0)
	case strings.HasPrefix(line, "/read "):
		id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/read ")), 10, 64)
		if err != nil {
			fmt.Fprintln(out, "usage: /read <message id>")
			return false, nil
		}
		return false, session.Read(ctx, peer, id)
	default:
		p, err := session.Send(ctx, peer, line)
		if err != nil {
			return false, err
		}
		timeline.AddProvisional(p)
		return false, nil
	}
}

func printIncoming(out io.Writer, peer string, in client.Incoming) {
	switch {
	case in.Error != nil:
		fmt.Fprintf(out, "! %s: %s\n", in.Error.Code, in.Error.Msg)
	case in.Joined != nil:
		fmt.Fprintf(out, "* joined as %s\n", in.Joined.Username)
	case in.Message != nil:
		fmt.Fprintf(out, "#%d %s: %s\n", in.Message.ID, senderLabel(*in.Message), in.Message.Message)
	case in.History != nil:
		for _, m := range in.History.Messages {
			fmt.Fprintf(out, "#%d %s: %s [%s]\n", m.ID, senderLabel(m), m.Message, m.Status)
		}
	case in.Typing != nil:
		if in.Typing.UserID == peer && in.Typing.IsTyping {
			fmt.Fprintf(out, "* %s is typing...\n", peer)
		}
	case in.Status != nil:
		fmt.Fprintf(out, "* #%d %s\n", in.Status.ID, in.Status.Status)
	}
}

func senderLabel(m proto.Message) string {
	if m.SenderName != "" {
		return m.SenderName
	}
	return m.SenderID
}

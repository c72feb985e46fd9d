package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/soyeahso/parley/internal/agent"
	"github.com/soyeahso/parley/internal/conversation"
	"github.com/spf13/cobra"
)

// cliChannel prefixes the channel part of terminal conversation keys.
const cliChannel = "cli"

var (
	toolColor   = color.New(color.FgCyan)
	errorColor  = color.New(color.FgRed, color.Bold)
	promptColor = color.New(color.FgGreen, color.Bold)
)

// keyFlags select the conversation a command works on.
type keyFlags struct {
	key  string
	user string
	chat string
}

func (f *keyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", "", "full conversation key, e.g. alice:irc:#general (overrides --user/--chat)")
	cmd.Flags().StringVar(&f.user, "user", "", "user part of the key (default $USER)")
	cmd.Flags().StringVar(&f.chat, "chat", "default", "terminal chat name")
}

func (f *keyFlags) resolve() conversation.Key {
	if f.key != "" {
		return conversation.Key(f.key)
	}
	user := f.user
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "local"
	}
	return conversation.NewKey(conversation.UserID(user), conversation.ChannelID(cliChannel+":"+f.chat))
}

func newChatCmd() *cobra.Command {
	var (
		keys   keyFlags
		model  string
		memory bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the AI backend; without a message, read one per line from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if model != "" {
				cfg.Backend.Model = model
			}
			if memory {
				cfg.Session.Store = "memory"
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := newStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			key := keys.resolve()
			user := conversation.UserID(strings.SplitN(string(key), ":", 2)[0])
			out := cmd.OutOrStdout()

			if len(args) > 0 {
				return renderChat(out, rt.orch.Chat(ctx, key, user, strings.Join(args, " ")))
			}
			return chatLoop(ctx, cmd.InOrStdin(), out, func(text string) iter.Seq2[agent.OutputEvent, error] {
				return rt.orch.Chat(ctx, key, user, text)
			})
		},
	}

	keys.register(cmd)
	cmd.Flags().StringVar(&model, "model", "", "model to request from the backend")
	cmd.Flags().BoolVar(&memory, "memory", false, "keep the conversation in memory only")

	return cmd
}

// chatLoop sends each non-empty input line as one chat turn.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, chat func(string) iter.Seq2[agent.OutputEvent, error]) error {
	sc := bufio.NewScanner(in)
	for {
		promptColor.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if err := renderChat(out, chat(text)); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// renderChat prints a chat as it streams. A failed turn is reported but is
// not an error; a store error or cancellation is.
func renderChat(w io.Writer, events iter.Seq2[agent.OutputEvent, error]) error {
	streamed := false
	for ev, err := range events {
		if err != nil {
			if streamed {
				fmt.Fprintln(w)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch e := ev.(type) {
		case agent.TextChunk:
			fmt.Fprint(w, e.Text)
			streamed = true
		case agent.ToolStarted:
			if streamed {
				fmt.Fprintln(w)
				streamed = false
			}
			toolColor.Fprintf(w, "[running %s]\n", e.Call.Name)
		case agent.ToolCompleted:
			if e.IsError {
				errorColor.Fprintf(w, "[tool failed: %s]\n", e.Result)
			}
		case agent.Completed:
			if !streamed {
				fmt.Fprint(w, e.Text)
			}
			fmt.Fprintln(w)
		case agent.Failed:
			if streamed {
				fmt.Fprintln(w)
			}
			errorColor.Fprintf(w, "error: %s\n", e.Error)
		}
	}
	return nil
}

package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/soyeahso/parley/internal/agent"
	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/store"
	"github.com/spf13/cobra"
)

var errNeedsSQLite = errors.New("this command needs the sqlite conversation store (session.store: sqlite)")

func newConversationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conversation",
		Aliases: []string{"conv"},
		Short:   "Inspect and manage stored conversations",
	}

	cmd.AddCommand(newConversationStatusCmd())
	cmd.AddCommand(newConversationClearCmd())
	cmd.AddCommand(newConversationListCmd())
	cmd.AddCommand(newConversationSearchCmd())
	return cmd
}

func newConversationStatusCmd() *cobra.Command {
	var keys keyFlags
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the size and age of a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openConfiguredStore(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			key := keys.resolve()
			conv, found, err := rt.store.FindByKey(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: no conversation\n", key)
				return nil
			}
			printStatus(cmd.OutOrStdout(), key, agent.StatusOf(conv))
			return nil
		},
	}
	keys.register(cmd)
	return cmd
}

func newConversationClearCmd() *cobra.Command {
	var keys keyFlags
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openConfiguredStore(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			key := keys.resolve()
			if err := rt.store.Delete(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", key)
			return nil
		},
	}
	keys.register(cmd)
	return cmd
}

func newConversationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored conversations, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openConfiguredStore(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.sqlite == nil {
				return errNeedsSQLite
			}

			keys, err := rt.sqlite.Keys(cmd.Context())
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
				return nil
			}
			for _, key := range keys {
				conv, found, err := rt.sqlite.FindByKey(cmd.Context(), key)
				if err != nil {
					return err
				}
				if found {
					printStatus(cmd.OutOrStdout(), key, agent.StatusOf(conv))
				}
			}
			return nil
		},
	}
}

func newConversationSearchCmd() *cobra.Command {
	var (
		keys  keyFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over conversation history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openConfiguredStore(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			if rt.sqlite == nil {
				return errNeedsSQLite
			}

			var key conversation.Key
			if cmd.Flags().Changed("key") || cmd.Flags().Changed("user") || cmd.Flags().Changed("chat") {
				key = keys.resolve()
			}
			hits, err := rt.sqlite.Search(cmd.Context(), args[0], key, limit)
			if err != nil {
				return err
			}
			printHits(cmd.OutOrStdout(), hits)
			return nil
		},
	}
	keys.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of hits")
	return cmd
}

// openConfiguredStore opens the store without starting a backend.
func openConfiguredStore(cmd *cobra.Command) (*stack, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openStore(cmd.Context(), cfg)
}

func printStatus(w io.Writer, key conversation.Key, st agent.Status) {
	fmt.Fprintf(w, "%s: %d messages, started %s, last active %s",
		key, st.MessageCount, st.CreatedAt.UTC().Format(time.RFC3339), st.UpdatedAt.UTC().Format(time.RFC3339))
	if st.InTurn {
		fmt.Fprint(w, ", reply in progress")
	}
	fmt.Fprintln(w)
}

func printHits(w io.Writer, hits []store.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No matches.")
		return
	}
	for _, h := range hits {
		fmt.Fprintf(w, "%s  %s  [%s] %s\n", h.CreatedAt.UTC().Format(time.RFC3339), h.Key, h.Kind, oneLine(h.Content, 120))
	}
}

// oneLine flattens s to a single line of at most n runes.
func oneLine(s string, n int) string {
	r := []rune(s)
	for i, c := range r {
		if c == '\n' || c == '\r' || c == '\t' {
			r[i] = ' '
		}
	}
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return string(r)
}

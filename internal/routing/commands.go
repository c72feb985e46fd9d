package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/parley/internal/conversation"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
)

// Chat commands.
const (
	CommandClear  = "clear"
	CommandStatus = "status"
	CommandHelp   = "help"
)

// parseCommand splits "<prefix>name args" into its lowercased name and
// arguments. A bare prefix is not a command.
func (r *Router) parseCommand(body string) (name, args string, ok bool) {
	rest, found := strings.CutPrefix(body, r.opts.CommandPrefix)
	if !found || rest == "" || strings.HasPrefix(rest, " ") {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

func (r *Router) runCommand(ctx context.Context, ch domain.Channel, msg domain.InboundMessage, key conversation.Key, name, _ string) {
	r.log.Info().Str("command", name).Str("key", string(key)).Msg("chat command")

	switch name {
	case CommandClear:
		if err := r.assistant.Clear(ctx, key); err != nil {
			r.log.Error().Err(err).Str("key", string(key)).Msg("clear failed")
			r.notice(ctx, ch, msg, "Sorry, the conversation could not be cleared.")
			return
		}
		r.emit(ctx, hooks.EventConversationCleared, map[string]any{
			"channel": msg.ChannelID,
			"from":    msg.From,
			"key":     string(key),
		})
		r.reply(ctx, ch, msg, "Conversation cleared.", false)

	case CommandStatus:
		st, found, err := r.assistant.Status(ctx, key)
		if err != nil {
			r.log.Error().Err(err).Str("key", string(key)).Msg("status failed")
			r.notice(ctx, ch, msg, "Sorry, the conversation status is unavailable.")
			return
		}
		if !found {
			r.reply(ctx, ch, msg, "No conversation yet.", false)
			return
		}
		line := fmt.Sprintf("%d messages, started %s, last active %s",
			st.MessageCount,
			st.CreatedAt.UTC().Format(time.RFC3339),
			st.UpdatedAt.UTC().Format(time.RFC3339))
		if st.InTurn {
			line += ", reply in progress"
		}
		r.reply(ctx, ch, msg, line, false)

	case CommandHelp:
		r.reply(ctx, ch, msg, r.helpText(), false)

	default:
		r.reply(ctx, ch, msg, fmt.Sprintf("Unknown command %s%s. Try %shelp.",
			r.opts.CommandPrefix, name, r.opts.CommandPrefix), false)
	}
}

func (r *Router) helpText() string {
	p := r.opts.CommandPrefix
	return fmt.Sprintf("%sclear: forget this conversation. %sstatus: show its size and age. %shelp: this text.", p, p, p)
}

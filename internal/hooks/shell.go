package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/parley/internal/config"
)

// DefaultShellTimeout bounds a shell hook without its own timeout.
const DefaultShellTimeout = 10 * time.Second

// ShellHandler returns a Handler that runs command with sh -c. The payload
// is written to the command's stdin as JSON and the event name is exported
// as PARLEY_EVENT. A non-zero exit is reported as an error carrying stderr.
func ShellHandler(command string, timeout time.Duration) Handler {
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	return func(ctx context.Context, p Payload) error {
		input, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Stdin = bytes.NewReader(input)
		cmd.Env = append(os.Environ(), "PARLEY_EVENT="+p.Event)
		cmd.WaitDelay = time.Second
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return fmt.Errorf("%s: %w: %s", command, err, msg)
			}
			return fmt.Errorf("%s: %w", command, err)
		}
		return nil
	}
}

// RegisterShellHooks registers every command in cfg on m. Handlers are
// named "shell:<index>" per event.
func RegisterShellHooks(m *Manager, cfg config.HooksConfig) int {
	n := 0
	for event, entries := range cfg {
		for i, e := range entries {
			timeout := time.Duration(e.Timeout) * time.Millisecond
			m.On(event, fmt.Sprintf("shell:%d", i), ShellHandler(e.Command, timeout))
			n++
		}
	}
	return n
}

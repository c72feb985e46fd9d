package llm

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/parley/internal/logging"
)

// LineParser turns one line of CLI output into zero or more events.
type LineParser func(line []byte) ([]Event, error)

// CLIConfig configures a CLI-based backend.
type CLIConfig struct {
	// Command is the CLI binary name (e.g., "claude", "gemini").
	Command string

	// ProviderName is the display name for this provider.
	ProviderName string

	// BuildArgs turns a Request into CLI arguments.
	BuildArgs func(req Request) []string

	// BuildPrompt renders what is piped to the CLI's stdin.
	// Defaults to PromptFor.
	BuildPrompt func(req Request) string

	// NewParser returns a parser for one stream. Parsers may keep state
	// between lines, so a fresh one is made per call.
	NewParser func() LineParser
}

// CLIBackend wraps any CLI tool as a streaming backend.
type CLIBackend struct {
	cfg CLIConfig
	log *logging.Logger
}

// NewCLIBackend creates a new CLI-based backend.
func NewCLIBackend(cfg CLIConfig, log *logging.Logger) *CLIBackend {
	if cfg.BuildPrompt == nil {
		cfg.BuildPrompt = PromptFor
	}
	return &CLIBackend{cfg: cfg, log: log.Sub("llm." + cfg.ProviderName)}
}

// Name returns the provider name.
func (c *CLIBackend) Name() string { return c.cfg.ProviderName }

// Command returns the binary this backend runs.
func (c *CLIBackend) Command() string { return c.cfg.Command }

const maxLineBytes = 256 * 1024

// Stream runs the CLI and returns its parsed events. The process is killed
// when ctx is cancelled. Exactly one terminal event is delivered unless ctx
// ends first: if the CLI exits without producing one, an ErrorEvent built
// from its exit status and stderr is synthesized.
func (c *CLIBackend) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	args := c.cfg.BuildArgs(req)

	c.log.Debug().
		Str("cmd", c.cfg.Command).
		Strs("args", args).
		Bool("resume", req.HasContinuity()).
		Int("messages", len(req.Messages)).
		Msg("starting stream")

	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	cmd.Stdin = strings.NewReader(c.cfg.BuildPrompt(req))
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProviderError{Provider: c.cfg.ProviderName, Message: "stdout pipe: " + err.Error()}
	}

	// Capture stderr so we can report CLI errors that would otherwise be lost.
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, &ProviderError{Provider: c.cfg.ProviderName, Message: fmt.Sprintf("starting %s: %v", c.cfg.Command, err)}
	}

	ch := make(chan Event, 64)
	start := time.Now()

	go func() {
		defer close(ch)

		// Unblock the reader when ctx ends even if a grandchild still holds stdout.
		stop := context.AfterFunc(ctx, func() { _ = stdout.Close() })
		defer stop()

		send := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		terminal, scanErr := c.streamOutput(stdout, c.cfg.NewParser(), send)
		waitErr := cmd.Wait()

		if terminal || ctx.Err() != nil {
			c.log.Debug().
				Dur("duration", time.Since(start)).
				Bool("terminal", terminal).
				AnErr("ctx", ctx.Err()).
				Msg("stream finished")
			return
		}

		msg := c.failureMessage(scanErr, waitErr, stderrBuf.String())
		c.log.Error().
			Str("cmd", c.cfg.Command).
			Str("reason", msg).
			Msg("CLI stream ended without result")
		send(ErrorEvent{Message: msg})
	}()

	return ch, nil
}

// streamOutput parses stdout until a terminal event has been delivered,
// then discards whatever the CLI still writes so it can exit.
func (c *CLIBackend) streamOutput(r io.Reader, parse LineParser, send func(Event) bool) (terminal bool, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		events, perr := parse(line)
		if perr != nil {
			c.log.Debug().Err(perr).Msg("skipping unparseable stream line")
			continue
		}
		for _, ev := range events {
			if !send(ev) {
				_, _ = io.Copy(io.Discard, r)
				return false, nil
			}
			if IsTerminal(ev) {
				_, _ = io.Copy(io.Discard, r)
				return true, nil
			}
		}
	}
	return false, scanner.Err()
}

func (c *CLIBackend) failureMessage(scanErr, waitErr error, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	switch {
	case scanErr != nil:
		return fmt.Sprintf("%s: reading output: %v", c.cfg.Command, scanErr)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if stderr == "" && errors.As(waitErr, &exitErr) {
			stderr = fmt.Sprintf("exited with status %d", exitErr.ExitCode())
		} else if stderr == "" {
			stderr = waitErr.Error()
		}
		return fmt.Sprintf("%s: %s", c.cfg.Command, stderr)
	default:
		return fmt.Sprintf("%s: stream ended without a result", c.cfg.Command)
	}
}

// CLIExists checks whether a CLI command is available in PATH.
func CLIExists(command string) bool {
	_, err := exec.LookPath(command)
	return err == nil
}

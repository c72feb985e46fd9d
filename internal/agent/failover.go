package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/parley/internal/llm"
	"github.com/soyeahso/parley/internal/logging"
)

// FailoverBackend opens streams on the primary provider and falls back
// through the list when opening fails with a retryable error. Once a stream
// is open it is never switched.
type FailoverBackend struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverBackend creates a backend that tries primary first, then each fallback.
func NewFailoverBackend(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverBackend {
	return &FailoverBackend{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Name returns the primary provider name.
func (f *FailoverBackend) Name() string { return f.primary }

// Stream opens a stream on the first provider that accepts it.
func (f *FailoverBackend) Stream(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	providers := append([]string{f.primary}, f.fallbacks...)

	var lastErr error
	for i, name := range providers {
		backend, err := f.registry.Resolve(name)
		if err != nil {
			f.log.Debug().Str("provider", name).Err(err).Msg("no backend for provider, skipping")
			lastErr = err
			continue
		}

		// A continuity token only means something to the backend that issued it.
		attempt := req
		if i > 0 {
			attempt.ContinuityToken = ""
		}

		ch, err := backend.Stream(ctx, attempt)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if isRetryable(err) {
			f.log.Warn().
				Str("provider", name).
				Err(err).
				Msg("retryable stream error, trying next provider")
			continue
		}
		return nil, err
	}

	return nil, lastErr
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *llm.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 529:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "executable file not found")
}

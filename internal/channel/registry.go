// Package channel manages the messaging channels parley listens on.
package channel

import (
	"context"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

// Registry manages a set of messaging channels.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]domain.Channel
	log      *logging.Logger
}

// NewRegistry creates a channel registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		channels: make(map[string]domain.Channel),
		log:      log.Sub("channels"),
	}
}

// Register adds a channel to the registry, replacing one with the same ID.
func (r *Registry) Register(ch domain.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID()] = ch
	r.log.Info().Str("channel", ch.ID()).Msg("channel registered")
}

// Get returns a channel by ID.
func (r *Registry) Get(id string) (domain.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// List returns all channel IDs, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.channels))
}

// Status returns the status of every registered channel, sorted by ID.
// Channels that do not report status are assumed running.
func (r *Registry) Status() []domain.ChannelStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]domain.ChannelStatus, 0, len(r.channels))
	for _, id := range slices.Sorted(maps.Keys(r.channels)) {
		ch := r.channels[id]
		if sr, ok := ch.(domain.StatusReporter); ok {
			statuses = append(statuses, sr.Status())
			continue
		}
		statuses = append(statuses, domain.ChannelStatus{ChannelID: id, Running: true})
	}
	return statuses
}

// Run starts every channel and waits until all of them have returned.
// Channel Start methods block for the life of their connection, so each
// runs on its own goroutine. A channel that fails is logged and does not
// stop the others; Run returns nil once ctx is done and all have exited.
func (r *Registry) Run(ctx context.Context) error {
	r.mu.RLock()
	chans := maps.Clone(r.channels)
	r.mu.RUnlock()

	var g errgroup.Group
	for id, ch := range chans {
		r.log.Info().Str("channel", id).Msg("starting channel")
		g.Go(func() error {
			if err := ch.Start(ctx); err != nil {
				r.log.Error().Err(err).Str("channel", id).Msg("channel exited with error")
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops all registered channels.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, ch := range r.channels {
		r.log.Info().Str("channel", id).Msg("stopping channel")
		if err := ch.Stop(ctx); err != nil {
			r.log.Error().Err(err).Str("channel", id).Msg("failed to stop channel")
		}
	}
}

// Count returns the number of registered channels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}

package service

import (
	"context"
	"sync"

	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/repository"
)

// ChannelRegistry fronts the channel table with a read-mostly cache.
// Resolution is done against a snapshot, so a mutation mid-dispatch never
// retroactively changes an already-resolved delivery; the next dispatch
// sees the new definition.
type ChannelRegistry struct {
	repo *repository.ChannelRepository

	mu     sync.RWMutex
	cache  []model.Channel
	loaded bool
}

func NewChannelRegistry(repo *repository.ChannelRepository) *ChannelRegistry {
	return &ChannelRegistry{repo: repo}
}

func (r *ChannelRegistry) snapshot(ctx context.Context) ([]model.Channel, error) {
	r.mu.RLock()
	if r.loaded {
		cached := r.cache
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	channels, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache = channels
	r.loaded = true
	r.mu.Unlock()
	return channels, nil
}

func (r *ChannelRegistry) invalidate() {
	r.mu.Lock()
	r.loaded = false
	r.cache = nil
	r.mu.Unlock()
}

// GetByName resolves the channel whose pattern accepts the literal name.
// An exact pattern beats a wildcard one; within each kind the oldest
// channel wins. A miss is (nil, nil) so callers can treat unmatched
// channels as silent denials.
func (r *ChannelRegistry) GetByName(ctx context.Context, name string) (*model.Channel, error) {
	channels, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return resolveChannel(channels, name), nil
}

// resolveChannel walks channels in creation order. Kept separate from the
// cache plumbing so the precedence rules are testable on plain slices.
func resolveChannel(channels []model.Channel, name string) *model.Channel {
	var wildcard *model.Channel
	for i := range channels {
		ch := &channels[i]
		if ch.Pattern == name {
			return ch
		}
		if wildcard == nil && ch.Matches(name) {
			wildcard = ch
		}
	}
	return wildcard
}

func (r *ChannelRegistry) Create(ctx context.Context, req *model.CreateChannelRequest) (*model.Channel, error) {
	ch, err := r.repo.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	r.invalidate()
	return ch, nil
}

func (r *ChannelRegistry) Update(ctx context.Context, id string, req *model.UpdateChannelRequest) (*model.Channel, error) {
	ch, err := r.repo.Update(ctx, id, req)
	if err != nil {
		return nil, err
	}
	r.invalidate()
	return ch, nil
}

func (r *ChannelRegistry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}
	r.invalidate()
	return nil
}

func (r *ChannelRegistry) GetByID(ctx context.Context, id string) (*model.Channel, error) {
	return r.repo.GetByID(ctx, id)
}

func (r *ChannelRegistry) List(ctx context.Context) ([]model.Channel, error) {
	channels, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Channel, len(channels))
	copy(out, channels)
	return out, nil
}

package calendar

import (
	"context"
	"time"

	"github.com/vthunder/budintel/internal/types"
)

// Store exposes the client through the per-user event store shape. The
// service account owns one calendar, so every user sees the same events.
type Store struct {
	client *Client
}

// NewStore wraps c
func NewStore(c *Client) *Store {
	return &Store{client: c}
}

func (s *Store) CreateEvent(ctx context.Context, _ string, ev types.Event) (types.Event, error) {
	return s.client.CreateEvent(ctx, ev)
}

func (s *Store) GetEvent(ctx context.Context, _ string, id string) (types.Event, error) {
	return s.client.GetEvent(ctx, id)
}

func (s *Store) ListEvents(ctx context.Context, _ string, from, to time.Time) ([]types.Event, error) {
	return s.client.ListEvents(ctx, from, to, "")
}

func (s *Store) UpdateEvent(ctx context.Context, _ string, ev types.Event) (types.Event, error) {
	return s.client.UpdateEvent(ctx, ev)
}

func (s *Store) DeleteEvent(ctx context.Context, _ string, id string) error {
	return s.client.DeleteEvent(ctx, id)
}

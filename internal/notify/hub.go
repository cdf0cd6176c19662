package notify

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jo-hoe/goberry/internal/preferences"
)

// LastUpdateKey is the preference key holding the last history change (unix millis).
const LastUpdateKey = "updateHistory"

// Listener is called with the time of a history change.
type Listener func(at time.Time)

// Broadcaster forwards a change to other server instances.
type Broadcaster interface {
	Broadcast(ctx context.Context, at time.Time) error
}

// Hub carries the "history changed" signal from the upload workflow to every history view.
type Hub struct {
	mu          sync.RWMutex
	nextID      int
	listeners   map[int]Listener
	store       preferences.Store
	broadcaster Broadcaster
	now         func() time.Time
}

// NewHub creates a hub that persists the last change in store (may be nil).
func NewHub(store preferences.Store) *Hub {
	return &Hub{
		listeners: make(map[int]Listener),
		store:     store,
		now:       time.Now,
	}
}

func (h *Hub) SetBroadcaster(b Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcaster = b
}

// Subscribe registers l and returns a function removing it again.
func (h *Hub) Subscribe(l Listener) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Publish records a change now, notifies local listeners and broadcasts it.
func (h *Hub) Publish(ctx context.Context) time.Time {
	at := h.now()

	if h.store != nil {
		if err := h.store.Set(ctx, LastUpdateKey, strconv.FormatInt(at.UnixMilli(), 10)); err != nil {
			slog.Warn("notify: failed to persist change signal", "error", err)
		}
	}

	h.Deliver(at)

	h.mu.RLock()
	broadcaster := h.broadcaster
	h.mu.RUnlock()
	if broadcaster != nil {
		if err := broadcaster.Broadcast(ctx, at); err != nil {
			slog.Warn("notify: failed to broadcast change signal", "error", err)
		}
	}
	return at
}

// Deliver notifies local listeners only.
func (h *Hub) Deliver(at time.Time) {
	h.mu.RLock()
	listeners := make([]Listener, 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.RUnlock()

	for _, l := range listeners {
		l(at)
	}
}

// LastUpdate returns the persisted time of the last change, if any.
func (h *Hub) LastUpdate(ctx context.Context) (time.Time, bool) {
	if h.store == nil {
		return time.Time{}, false
	}
	raw, err := h.store.Get(ctx, LastUpdateKey)
	if err != nil {
		if !errors.Is(err, preferences.ErrNotFound) {
			slog.Warn("notify: failed to read change signal", "error", err)
		}
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		slog.Warn("notify: invalid change signal value", "value", raw, "error", err)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// ListenerCount reports how many listeners are subscribed.
func (h *Hub) ListenerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

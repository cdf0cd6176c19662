package history

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jo-hoe/goberry/internal/notify"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Store is one client's view of the remote history.
type Store struct {
	mu       sync.Mutex
	remote   Remote
	records  []Record
	view     View
	loaded   bool
	format   TimeFormat
	collator *collate.Collator

	stale       atomic.Bool
	unsubscribe func()
	hub         *notify.Hub
	// last persisted change seen by the most recent successful load
	seen time.Time
}

type StoreOption func(*Store)

// WithTimeFormat sets how raw timestamps are displayed.
func WithTimeFormat(location *time.Location, layout string) StoreOption {
	return func(s *Store) {
		s.format = TimeFormat{Location: location, Layout: layout}.withDefaults()
	}
}

// WithLocale selects the collation used for the status sort.
func WithLocale(tag language.Tag) StoreOption {
	return func(s *Store) {
		s.collator = collate.New(tag)
	}
}

func NewStore(remote Remote, opts ...StoreOption) *Store {
	store := &Store{
		remote:   remote,
		view:     DefaultView(),
		format:   TimeFormat{}.withDefaults(),
		collator: collate.New(language.Russian),
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Watch marks the store stale whenever the hub signals a history change. The
// persisted signal is also compared on display, which catches changes made by
// other instances sharing the preferences store.
func (s *Store) Watch(hub *notify.Hub) {
	unsubscribe := hub.Subscribe(func(time.Time) {
		s.stale.Store(true)
	})
	s.mu.Lock()
	previous := s.unsubscribe
	s.unsubscribe = unsubscribe
	s.hub = hub
	s.mu.Unlock()
	if previous != nil {
		previous()
	}
}

// Load fetches the full record list. On failure the current list is kept.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// EnsureLoaded loads on first display and after a change signal.
func (s *Store) EnsureLoaded(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && !s.stale.Load() && !s.changedSinceLoadLocked(ctx) {
		return nil
	}
	return s.loadLocked(ctx)
}

func (s *Store) changedSinceLoadLocked(ctx context.Context) bool {
	if s.hub == nil {
		return false
	}
	last, ok := s.hub.LastUpdate(ctx)
	return ok && last.After(s.seen)
}

func (s *Store) loadLocked(ctx context.Context) error {
	// cleared before the request so a signal arriving mid-flight is not lost
	s.stale.Store(false)
	var seen time.Time
	if s.hub != nil {
		seen, _ = s.hub.LastUpdate(ctx)
	}
	records, err := s.remote.List(ctx)
	if err != nil {
		s.stale.Store(true)
		slog.Error("history: failed to load records", "error", err)
		return err
	}
	for i := range records {
		s.format.apply(&records[i])
	}
	s.records = records
	s.loaded = true
	s.seen = seen
	slog.Debug("history: records loaded", "count", len(records))
	return nil
}

// Delete removes one record remotely and, on success, locally.
func (s *Store) Delete(ctx context.Context, imageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.remote.Delete(ctx, imageID); err != nil {
		slog.Error("history: failed to delete record", "image_id", imageID, "error", err)
		return err
	}
	s.records = slices.DeleteFunc(s.records, func(r Record) bool {
		return r.ImageID == imageID
	})
	return nil
}

// Clear deletes the whole remote history. The local list is emptied and the
// status filter reset even when the request fails.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.remote.Clear(ctx)
	s.records = nil
	s.view.Status = AllStatuses
	if err != nil {
		slog.Error("history: failed to clear records", "error", err)
	}
	return err
}

// Export delegates PDF generation to the backend.
func (s *Store) Export(ctx context.Context) (*Export, error) {
	export, err := s.remote.Export(ctx)
	if err != nil {
		slog.Error("history: failed to export records", "error", err)
		return nil, err
	}
	return export, nil
}

func (s *Store) SetView(v View) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v.Normalize()
	return s.view
}

func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// Visible returns the records as the current view shows them.
func (s *Store) Visible() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.Apply(s.records, s.collator)
}

// Statuses lists the distinct statuses of all loaded records in first-seen order.
func (s *Store) Statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uniqueStatuses(s.records)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) Stale() bool {
	return s.stale.Load()
}

// Close stops watching for change signals.
func (s *Store) Close() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

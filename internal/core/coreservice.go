package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jo-hoe/goberry/internal/classifier"
	"github.com/jo-hoe/goberry/internal/history"
	"github.com/jo-hoe/goberry/internal/notify"
	"github.com/jo-hoe/goberry/internal/preferences"
	"github.com/jo-hoe/goberry/internal/preview"
	"github.com/jo-hoe/goberry/internal/workflow"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"
)

// CoreService owns the shared, process-wide parts: preferences, the change
// signal and the backend clients. Per-client workflows and history stores are
// created from it.
type CoreService struct {
	config        *ServiceConfig
	preferences   preferences.Store
	hub           *notify.Hub
	relay         *notify.RedisRelay
	relayClient   *redis.Client
	classifier    *classifier.Client
	encoder       *preview.Encoder
	historyRemote *history.HTTPRemote
	location      *time.Location
	locale        language.Tag
}

func NewCoreService(ctx context.Context, config *ServiceConfig) (*CoreService, error) {
	location, err := config.Location()
	if err != nil {
		return nil, err
	}
	locale, err := config.Locale()
	if err != nil {
		return nil, err
	}

	pipeline, err := preview.NewPipelineFromConfig(preview.DefaultRegistry, config.Commands)
	if err != nil {
		return nil, fmt.Errorf("failed to build preview pipeline: %w", err)
	}

	store, err := preferences.NewStore(ctx, config.Preferences.Type, config.Preferences.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize preferences store: %w", err)
	}

	service := &CoreService{
		config:      config,
		preferences: store,
		hub:         notify.NewHub(store),
		classifier: classifier.NewClient(config.Backend.URL,
			classifier.WithTimestampFormat(location, config.History.TimestampLayout)),
		encoder:       preview.NewEncoder(pipeline),
		historyRemote: history.NewHTTPRemote(config.Backend.URL, nil),
		location:      location,
		locale:        locale,
	}

	if err := service.initRelay(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	slog.Info("core service initialized",
		"backend", config.Backend.URL,
		"preferences", config.Preferences.Type,
		"preview_commands", pipeline.Len(),
		"relay", service.relay != nil)
	return service, nil
}

func (s *CoreService) initRelay(ctx context.Context) error {
	var client *redis.Client
	switch {
	case s.config.Signal.RedisURL != "":
		options, err := redis.ParseURL(s.config.Signal.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse signal redis url: %w", err)
		}
		client = redis.NewClient(options)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to ping signal redis: %w", err)
		}
		s.relayClient = client
	default:
		redisStore, ok := s.preferences.(*preferences.RedisStore)
		if !ok {
			return nil
		}
		client = redisStore.Client()
	}

	s.relay = notify.NewRedisRelay(client, s.config.Signal.Channel)
	s.hub.SetBroadcaster(s.relay)
	return nil
}

// RunRelay forwards change signals of other instances until ctx is done.
// Without a relay it only waits for ctx.
func (s *CoreService) RunRelay(ctx context.Context) error {
	if s.relay == nil {
		<-ctx.Done()
		return nil
	}
	subscription, err := s.relay.Subscribe(ctx)
	if err != nil {
		return err
	}
	slog.Info("change signal relay subscribed", "channel", s.config.Signal.Channel)
	return subscription.Forward(ctx, s.hub)
}

// NewWorkflow creates the upload workflow of one client.
func (s *CoreService) NewWorkflow() *workflow.Workflow {
	return workflow.New(s.classifier,
		workflow.WithEncoder(s.encoder),
		workflow.WithNotifier(s.hub),
		workflow.WithProgress(s.config.Progress))
}

// NewHistoryStore creates the history view of one client, watching the change signal.
func (s *CoreService) NewHistoryStore() *history.Store {
	store := history.NewStore(s.historyRemote,
		history.WithTimeFormat(s.location, s.config.History.TimestampLayout),
		history.WithLocale(s.locale))
	store.Watch(s.hub)
	return store
}

func (s *CoreService) Config() *ServiceConfig {
	return s.config
}

func (s *CoreService) Preferences() preferences.Store {
	return s.preferences
}

func (s *CoreService) Hub() *notify.Hub {
	return s.hub
}

func (s *CoreService) Encoder() *preview.Encoder {
	return s.encoder
}

func (s *CoreService) Close() error {
	var errs []error
	if s.relayClient != nil {
		errs = append(errs, s.relayClient.Close())
	}
	errs = append(errs, s.preferences.Close())
	return errors.Join(errs...)
}

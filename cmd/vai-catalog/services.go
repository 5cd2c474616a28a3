package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-catalog/pkg/app"
	"github.com/vango-go/vai-catalog/pkg/catalog"
	"github.com/vango-go/vai-catalog/pkg/catalog/pgcatalog"
	"github.com/vango-go/vai-catalog/pkg/gateway/config"
	"github.com/vango-go/vai-catalog/pkg/realtime/credentials"
	"github.com/vango-go/vai-catalog/pkg/realtime/media"
	"github.com/vango-go/vai-catalog/pkg/realtime/negotiate"
	"github.com/vango-go/vai-catalog/pkg/realtime/rtc"
	"github.com/vango-go/vai-catalog/pkg/realtime/session"
	"github.com/vango-go/vai-catalog/pkg/telemetry"
)

type waitingSink interface {
	media.AudioSink
	Wait()
}

// services is the wired application behind every subcommand.
type services struct {
	app       *app.App
	issuer    *credentials.Issuer
	telemetry *telemetry.Manager
	sink      waitingSink
	watcher   *catalog.Watcher
	logger    *slog.Logger

	bg      sync.WaitGroup
	closers []func(context.Context) error
}

func newUpstreamClient(cfg config.Config) *http.Client {
	return &http.Client{
		Timeout: cfg.UpstreamTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: cfg.UpstreamConnectTimeout,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          16,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func buildCatalog(ctx context.Context, cfg config.Config, logger *slog.Logger) (catalog.Provider, *catalog.Watcher, func(context.Context) error, error) {
	doc := catalog.Default()
	if cfg.CatalogFile != "" {
		var err error
		if doc, err = catalog.LoadFile(cfg.CatalogFile); err != nil {
			return nil, nil, nil, err
		}
	}

	if cfg.DatabaseURL != "" {
		store, err := pgcatalog.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if cfg.DatabaseSeed {
			if err := store.Seed(ctx, doc); err != nil {
				store.Close()
				return nil, nil, nil, err
			}
			logger.Info("catalog seeded", "products", len(doc.Products))
		}
		return store, nil, func(context.Context) error { store.Close(); return nil }, nil
	}

	var opts []catalog.MemoryOption
	if cfg.CatalogPredicate != "" {
		opts = append(opts, catalog.WithPredicate(cfg.CatalogPredicate))
	}
	mem, err := catalog.NewMemory(doc, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	var watcher *catalog.Watcher
	if cfg.CatalogWatch {
		watcher = catalog.NewWatcher(cfg.CatalogFile, mem, logger, catalog.WithReloadHook(func(d catalog.Document) {
			logger.Info("catalog reloaded", "path", cfg.CatalogFile, "products", len(d.Products))
		}))
	}
	return mem, watcher, func(context.Context) error { return nil }, nil
}

func buildServices(ctx context.Context, cfg config.Config, logger *slog.Logger, events app.Publisher) (*services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &services{logger: logger}

	tm, err := telemetry.NewManager(telemetry.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	svc.telemetry = tm
	svc.closers = append(svc.closers, tm.Shutdown)

	provider, watcher, closeCatalog, err := buildCatalog(ctx, cfg, logger)
	if err != nil {
		_ = svc.Close(context.Background())
		return nil, fmt.Errorf("catalog: %w", err)
	}
	svc.watcher = watcher
	svc.closers = append(svc.closers, closeCatalog)

	instructions := ""
	if cfg.InstructionsFile != "" {
		raw, err := os.ReadFile(cfg.InstructionsFile)
		if err != nil {
			_ = svc.Close(context.Background())
			return nil, fmt.Errorf("read instructions: %w", err)
		}
		instructions = strings.TrimSpace(string(raw))
	}

	httpClient := newUpstreamClient(cfg)
	svc.issuer = credentials.NewIssuer(credentials.IssuerConfig{
		APIKey:     cfg.OpenAIAPIKey,
		URL:        cfg.SessionsURL,
		Model:      cfg.Model,
		Voice:      cfg.Voice,
		HTTPClient: httpClient,
	})
	var creds session.CredentialSource = svc.issuer
	if cfg.TokenURL != "" {
		creds = credentials.NewHTTPSource(cfg.TokenURL, httpClient)
	}

	factory, err := rtc.NewFactory(rtc.Config{ICEServers: cfg.ICEServers, Logger: logger})
	if err != nil {
		_ = svc.Close(context.Background())
		return nil, err
	}

	var mic media.Microphone = rtc.SilentMicrophone{Logger: logger}
	if cfg.MicrophoneFile != "" {
		mic = rtc.FileMicrophone{Path: cfg.MicrophoneFile, Logger: logger}
	}
	if cfg.RecordDir != "" {
		if err := os.MkdirAll(cfg.RecordDir, 0o755); err != nil {
			_ = svc.Close(context.Background())
			return nil, fmt.Errorf("create record dir: %w", err)
		}
		svc.sink = &rtc.OggRecorder{Dir: cfg.RecordDir, Logger: logger}
	} else {
		svc.sink = &rtc.DiscardSink{Logger: logger}
	}

	svc.app, err = app.New(app.Config{
		Catalog:          provider,
		Credentials:      creds,
		Connections:      factory,
		Negotiator:       negotiate.NewClient(cfg.RealtimeURL, cfg.Model, httpClient),
		Microphone:       mic,
		Silence:          rtc.Silence{Logger: logger},
		Sink:             svc.sink,
		Instructions:     instructions,
		Voice:            cfg.Voice,
		PlaceholderImage: cfg.PlaceholderImage,
		MaxLogs:          cfg.MaxLogs,
		Events:           events,
		Logger:           logger,
		Telemetry:        tm,
	})
	if err != nil {
		_ = svc.Close(context.Background())
		return nil, err
	}
	return svc, nil
}

// Start runs background work such as the catalog file watcher until ctx ends.
func (s *services) Start(ctx context.Context) {
	if s.watcher == nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if err := s.watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("catalog watcher stopped", "error", err)
		}
	}()
}

// Close ends any session, waits for background work and releases resources
// in reverse order of acquisition.
func (s *services) Close(ctx context.Context) error {
	if s.app != nil {
		s.app.Disconnect()
	}
	s.bg.Wait()
	var result error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			result = errors.Join(result, err)
		}
	}
	s.closers = nil
	return result
}

// WaitSink waits for inbound audio tracks to finish, bounded by ctx.
func (s *services) WaitSink(ctx context.Context) bool {
	if s.sink == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		s.sink.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

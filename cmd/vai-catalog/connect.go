package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

type connectOptions struct {
	duration  time.Duration
	micFile   string
	recordDir string
}

func newConnectCmd(logger func() *slog.Logger, deps cliDeps) *cobra.Command {
	var opts connectOptions
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run one headless voice session and print its events",
		Long: `Connect opens a realtime session with a file or silent microphone and
writes every application event to stdout as a JSON line until interrupted or
--duration elapses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConnect(cmd.Context(), logger(), cmd.OutOrStdout(), deps, opts)
		},
	}
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "End the session after this long (0 waits for a signal)")
	cmd.Flags().StringVar(&opts.micFile, "mic-file", "", "Ogg/Opus file played as microphone input (overrides VAI_CATALOG_MIC_FILE)")
	cmd.Flags().StringVar(&opts.recordDir, "record-dir", "", "Directory for recorded model audio (overrides VAI_CATALOG_RECORD_DIR)")
	return cmd
}

// jsonLines publishes application events as one JSON object per line.
type jsonLines struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

func newJSONLines(w io.Writer) *jsonLines {
	return &jsonLines{enc: json.NewEncoder(w), now: time.Now}
}

func (p *jsonLines) Publish(eventType string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.enc.Encode(struct {
		Type string    `json:"type"`
		At   time.Time `json:"at"`
		Data any       `json:"data,omitempty"`
	}{Type: eventType, At: p.now().UTC(), Data: data})
}

func runConnect(ctx context.Context, logger *slog.Logger, out io.Writer, deps cliDeps, opts connectOptions) error {
	if deps.loadConfig == nil || deps.buildServices == nil {
		return errors.New("missing dependencies")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.micFile != "" {
		cfg.MicrophoneFile = opts.micFile
	}
	if opts.recordDir != "" {
		cfg.RecordDir = opts.recordDir
	}

	svc, err := deps.buildServices(ctx, cfg, logger, newJSONLines(out))
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Warn("close services", "error", err)
		}
	}()
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	svc.Start(bgCtx)

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.UpstreamTimeout)
	err = svc.app.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	logger.Info("session connected", "session_id", svc.app.Snapshot().Session.SessionID)

	var timeout <-chan time.Time
	if opts.duration > 0 {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-timeout:
		logger.Info("session duration elapsed", "duration", opts.duration)
	}

	svc.app.Disconnect()
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !svc.WaitSink(waitCtx) {
		logger.Warn("remote audio still open after disconnect")
	}
	logger.Info("session ended", "history_items", len(svc.app.History()))
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"livepatch/internal/api"
	"livepatch/internal/approval"
	"livepatch/internal/browser"
	"livepatch/internal/files"
	"livepatch/internal/telemetry"
	"livepatch/internal/types"
)

var (
	serveURL  string
	serveAddr string
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the approval server against a live browser",
	Long: `Connects to Chrome (or launches one), optionally opens --url in a new
tab, and serves the approval API used by the element inspector and chat
panel. Files with a ready patch are watched so an external edit
invalidates the patch before it can be written.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmdContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := browser.NewRegistry()
	mgr := browser.NewManager(browser.Config{
		DebuggerURL:         a.cfg.Browser.DebuggerURL,
		Headless:            a.cfg.Browser.Headless,
		ViewportWidth:       a.cfg.Browser.ViewportWidth,
		ViewportHeight:      a.cfg.Browser.ViewportHeight,
		NavigationTimeoutMs: a.cfg.Browser.NavigationTimeoutMs,
	}, reg)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}()

	if serveURL != "" {
		tab, err := mgr.OpenTab(ctx, serveURL)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", serveURL, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tab %s opened on %s\n", tab.ID, serveURL)
	}

	messages := api.NewMessageLog()
	recorder := telemetry.NewRecorder(telemetry.SinkFunc(func(s telemetry.Summary) {
		logger.Debug("Approval finished",
			zap.String("id", s.ID),
			zap.String("outcome", string(s.Outcome)),
			zap.Int("events", len(s.Events)))
	}))
	approvals := approval.NewManager(a.generator, a.applicator, a.settings, reg,
		approval.WithTimeout(a.cfg.GetPatchTimeout()),
		approval.WithMessageSink(messages),
		approval.WithTelemetry(recorder),
	)
	defer approvals.Close()
	reg.OnClose(approvals.TabClosed)

	watcher, err := files.NewWatcher(approvals.InvalidateFile)
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	events, unsubscribe := approvals.Subscribe()
	defer unsubscribe()

	addr := serveAddr
	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(approvals, a.applicator, a.settings, messages, a.root).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with ctx so event streams close on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Approval server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		watchPatchedFiles(gctx, events, watcher)
		return nil
	})

	err = g.Wait()
	logger.Info("Approval server stopped")
	return err
}

// fileWatcher is the part of files.Watcher the event loop needs.
type fileWatcher interface {
	Watch(path string) error
	Unwatch(path string)
}

// watchPatchedFiles watches the target of every ready patch until its
// approval closes or the patch is dropped.
func watchPatchedFiles(ctx context.Context, events <-chan approval.Event, w fileWatcher) {
	watched := make(map[string]string) // approval id -> path
	release := func(id string) {
		if path, ok := watched[id]; ok {
			w.Unwatch(path)
			delete(watched, id)
		}
	}
	defer func() {
		for id := range watched {
			release(id)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			id := ev.Approval.ID
			switch {
			case ev.Type == approval.EventClosed:
				release(id)
			case ev.Approval.Status == types.PatchReady && ev.Approval.Patch != nil:
				path := ev.Approval.Patch.FilePath
				if watched[id] == path {
					continue
				}
				release(id)
				if err := w.Watch(path); err != nil {
					logger.Warn("Cannot watch patched file", zap.String("path", path), zap.Error(err))
					continue
				}
				watched[id] = path
			default:
				release(id)
			}
		}
	}
}

// ABOUTME: Gateway orchestrator that wires storage, rules, conversation and ingest
// ABOUTME: Runs the HTTP server, rules watcher and maintenance scheduler until shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/hearth/internal/config"
	"github.com/2389/hearth/internal/conversation"
	"github.com/2389/hearth/internal/dedupe"
	"github.com/2389/hearth/internal/delivery"
	"github.com/2389/hearth/internal/fallback"
	"github.com/2389/hearth/internal/ingest"
	"github.com/2389/hearth/internal/maintenance"
	"github.com/2389/hearth/internal/metrics"
	"github.com/2389/hearth/internal/recorder"
	"github.com/2389/hearth/internal/responder"
	"github.com/2389/hearth/internal/rules"
	"github.com/2389/hearth/internal/session"
	"github.com/2389/hearth/internal/store"
)

// maxWebhookBody bounds a single webhook request.
const maxWebhookBody = 1 << 20

// Gateway owns every long-lived component of a hearth process.
type Gateway struct {
	config     *config.Config
	logger     *slog.Logger
	baseLogger *slog.Logger

	store        store.Store
	cache        *dedupe.Cache
	metrics      *metrics.Metrics
	responder    *responder.Responder
	loader       *rules.Loader
	recorder     *recorder.Recorder
	broadcaster  *conversation.Broadcaster
	conversation *conversation.Service
	pipeline     *ingest.Pipeline
	scheduler    *maintenance.Scheduler

	httpServer *http.Server

	// addr is filled once the listener is bound.
	addrMu sync.Mutex
	addr   net.Addr

	closeOnce sync.Once
	closeErr  error
}

// New creates a gateway from cfg. The database is opened immediately; nothing
// listens until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return newWithStore(cfg, s, logger)
}

func newWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	storageTimeout := cfg.Storage.Timeout

	m := metrics.New()
	resp := responder.New(s, storageTimeout, logger)
	loader := rules.NewLoader(s, resp, m, storageTimeout, logger)

	sessions := session.NewManager(s, session.Options{
		Timeout:        cfg.Session.Timeout,
		CloseCommands:  cfg.Session.CloseCommands,
		StorageTimeout: storageTimeout,
	}, logger)

	rec := recorder.New(s, storageTimeout, m, logger)
	broadcaster := conversation.NewBroadcaster(logger)
	conv := conversation.New(conversation.Deps{
		Sessions:    sessions,
		Matcher:     resp,
		Fallback:    fallbackChain(cfg),
		Recorder:    rec,
		Broadcaster: broadcaster,
		Metrics:     m,
		Replies: conversation.Replies{
			Restart: cfg.Replies.Restart,
			Close:   cfg.Replies.Close,
			Apology: cfg.Replies.Apology,
		},
	}, logger)

	cache := dedupe.New(dedupe.Options{
		TTL:     cfg.Dedupe.TTL,
		MaxSize: cfg.Dedupe.MaxSize,
	})

	pipeline := ingest.New(ingest.Deps{
		Store:        s,
		Cache:        cache,
		Conversation: conv,
		Sender:       newSender(cfg, logger),
		Metrics:      m,
	}, ingest.Options{
		ObjectTypes:     cfg.Ingest.ObjectTypes,
		StorageTimeout:  storageTimeout,
		DeliveryTimeout: cfg.Delivery.Timeout,
		Channels: ingest.ChannelDefaults{
			DailyLimit:    cfg.Channels.DailyLimit,
			RatePerSecond: cfg.Channels.RatePerSecond,
		},
	}, logger)

	scheduler, err := maintenance.New(s, maintenance.Options{
		Schedule:  cfg.Maintenance.Schedule,
		Retention: cfg.Maintenance.MessageRetention,
	}, logger)
	if err != nil {
		cache.Close()
		_ = s.Close()
		return nil, fmt.Errorf("creating maintenance scheduler: %w", err)
	}

	gw := &Gateway{
		config:       cfg,
		logger:       logger.With("component", "gateway"),
		baseLogger:   logger,
		store:        s,
		cache:        cache,
		metrics:      m,
		responder:    resp,
		loader:       loader,
		recorder:     rec,
		broadcaster:  broadcaster,
		conversation: conv,
		pipeline:     pipeline,
		scheduler:    scheduler,
	}
	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// fallbackChain builds the chain from config, keeping the built-ins for empty lists.
func fallbackChain(cfg *config.Config) *fallback.Chain {
	tiers := fallback.DefaultTiers()
	if len(cfg.Fallback.Tiers) > 0 {
		tiers = make([]fallback.Tier, 0, len(cfg.Fallback.Tiers))
		for _, t := range cfg.Fallback.Tiers {
			tiers = append(tiers, fallback.Tier{
				Category:   t.Category,
				Keywords:   t.Keywords,
				Reply:      t.Reply,
				Confidence: t.Confidence,
			})
		}
	}
	generic := fallback.DefaultGenericReplies()
	if len(cfg.Fallback.GenericReplies) > 0 {
		generic = cfg.Fallback.GenericReplies
	}
	return fallback.New(tiers, generic, cfg.Replies.Apology)
}

// newSender picks the HTTP sender when a token is configured, else the log sender.
func newSender(cfg *config.Config, logger *slog.Logger) delivery.Sender {
	if cfg.Delivery.Token == "" {
		logger.Warn("delivery.token not set, replies will be logged instead of sent")
		return delivery.NewLogSender(logger)
	}
	return delivery.NewHTTPSender(delivery.HTTPOptions{
		BaseURL: cfg.Delivery.BaseURL,
		Token:   cfg.Delivery.Token,
		Timeout: cfg.Delivery.Timeout,
	}, logger)
}

// Loader exposes the rules loader for one-shot commands.
func (g *Gateway) Loader() *rules.Loader {
	return g.loader
}

// Store exposes the gateway's store for one-shot commands.
func (g *Gateway) Store() store.Store {
	return g.store
}

// LoadRules syncs the rules directory (when configured) and publishes the
// stored rule sets. When the sync fails the stored rule sets are still
// reloaded, and the sync error is returned.
func (g *Gateway) LoadRules(ctx context.Context) (*rules.Report, error) {
	dir := g.config.Rules.Dir
	if dir == "" {
		return g.loader.Reload(ctx)
	}
	report, err := g.loader.SyncDir(ctx, dir)
	if err == nil {
		return report, nil
	}
	g.logger.Error("rules directory sync failed, loading stored rule sets", "dir", dir, "error", err)
	if _, reloadErr := g.loader.Reload(ctx); reloadErr != nil {
		return nil, errors.Join(err, reloadErr)
	}
	return nil, err
}

// Addr returns the bound HTTP address, or nil before Run has started listening.
func (g *Gateway) Addr() net.Addr {
	g.addrMu.Lock()
	defer g.addrMu.Unlock()
	return g.addr
}

// Run loads the rules, starts the HTTP server, rules watcher and maintenance
// scheduler, and blocks until ctx is canceled or a component fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	if _, err := g.LoadRules(ctx); err != nil {
		// Serving continues on the fallback chain; /ready stays 503 until a reload succeeds.
		g.logger.Error("initial rules load failed", "error", err)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = g.Close()
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	g.addrMu.Lock()
	g.addr = ln.Addr()
	g.addrMu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(egCtx), g.config.Server.ShutdownTimeout)
		defer cancel()
		if err := g.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP shutdown: %w", err)
		}
		return nil
	})
	if g.config.Rules.Watch {
		watcher := rules.NewWatcher(g.config.Rules.Dir, g.config.Rules.Debounce, g.loader, g.baseLogger)
		eg.Go(func() error { return watcher.Run(egCtx) })
	}
	eg.Go(func() error { return g.scheduler.Run(egCtx) })

	runErr := eg.Wait()
	if runErr != nil {
		g.logger.Error("gateway component failed", "error", runErr)
	} else {
		g.logger.Info("context canceled, shutting down")
	}

	shutdownErr := g.drain()
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// drain waits for in-flight work, then releases resources.
func (g *Gateway) drain() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := g.conversation.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for conversations: %w", err))
	}
	if err := g.recorder.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for interaction writes: %w", err))
	}
	if err := g.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases the cache, broadcaster and store. Safe to call more than once.
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.cache.Close()
		g.broadcaster.Close()
		if err := g.store.Close(); err != nil {
			g.closeErr = fmt.Errorf("store close: %w", err)
		}
		g.logger.Info("gateway stopped")
	})
	return g.closeErr
}

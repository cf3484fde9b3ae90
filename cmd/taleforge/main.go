package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/taleforge-client/internal/actions"
	"github.com/DoyleJ11/taleforge-client/internal/api"
	"github.com/DoyleJ11/taleforge-client/internal/archive"
	"github.com/DoyleJ11/taleforge-client/internal/channel"
	"github.com/DoyleJ11/taleforge-client/internal/config"
	"github.com/DoyleJ11/taleforge-client/internal/httpapi"
	"github.com/DoyleJ11/taleforge-client/internal/hub"
	"github.com/DoyleJ11/taleforge-client/internal/lobby"
	"github.com/DoyleJ11/taleforge-client/internal/logger"
	"github.com/DoyleJ11/taleforge-client/internal/session"
	"github.com/DoyleJ11/taleforge-client/internal/story"
	"github.com/DoyleJ11/taleforge-client/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Env:       logger.Env(cfg.Logging.Env),
		Backend:   logger.Backend(cfg.Logging.Backend),
		Debug:     cfg.Logging.Debug,
		AddSource: cfg.Logging.AddSource,
	})

	if err := run(cfg, log); err != nil {
		log.Error("taleforge stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openSession(cfg, log)
	defer store.Close()

	client, err := api.New(api.Options{BaseURL: cfg.Backend.APIURL, Timeout: cfg.Backend.Timeout, Logger: log})
	if err != nil {
		return err
	}
	fetcher := api.NewFetcher(client, cfg.Fetch.Attempts, cfg.Fetch.Delay, log)
	dialer := channel.StompDialer(ws.NewDialer(ws.Options{
		URL:              cfg.Backend.WSURL,
		HeartBeat:        cfg.Realtime.HeartBeat,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		Logger:           log,
	}))

	var archiver story.Archiver
	if cfg.Archive.DSN != "" {
		a, err := archive.Open(ctx, cfg.Archive.DSN, log)
		if err != nil {
			log.Warn("story archive disabled", slog.Any("err", err))
		} else {
			defer a.Close()
			archiver = a
		}
	}
	exporter := story.NewExporter(cfg.Export.Dir, client, archiver, log)

	// one channel manager per room, closed with its lobby
	h := hub.NewHub(ctx, func(ctx context.Context, code string) *lobby.Lobby {
		mgr := channel.NewManager(ctx, dialer, channel.Options{ReconnectDelay: cfg.Realtime.ReconnectDelay, Logger: log})
		lb := lobby.NewLobby(ctx, code, lobby.Deps{Fetcher: fetcher, Channel: mgr, Identity: store, Logger: log})
		go func() {
			<-lb.Done()
			mgr.Close()
		}()
		return lb
	}, log)

	dispatcher := actions.New(client, actions.HubRooms(h), store, actions.Options{
		SendRate:  cfg.Send.Rate,
		SendBurst: cfg.Send.Burst,
		Logger:    log,
	})

	if id := store.Get(); id.RoomCode != "" {
		log.Info("resuming room", slog.String("room", id.RoomCode), slog.String("player_id", id.PlayerID))
		h.Ensure(ctx, id.RoomCode)
	}

	srv := &http.Server{
		Addr: cfg.Bridge.Addr,
		Handler: httpapi.SetupRoutes(&httpapi.Handlers{
			Hub:      h,
			Actions:  dispatcher,
			Session:  store,
			Exporter: exporter,
			Origins:  cfg.Bridge.AllowedOrigins,
			Log:      log,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("bridge listening", slog.String("addr", cfg.Bridge.Addr), slog.String("backend", cfg.Backend.APIURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		h.Shutdown()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("bridge shutdown", slog.Any("err", err))
	}
	h.Shutdown()
	return nil
}

// openSession prefers the SQLite file and falls back to memory.
func openSession(cfg *config.Config, log *slog.Logger) *session.Store {
	sessLog := log.With(slog.String("component", "session"))
	if cfg.Session.Path == "" {
		return session.NewStore(nil, sessLog)
	}
	p, err := session.OpenSQLite(cfg.Session.Path, cfg.Session.Profile)
	if err != nil {
		sessLog.Warn("session file unavailable, keeping identity in memory", slog.Any("err", err))
		return session.NewStore(nil, sessLog)
	}
	return session.NewStore(p, sessLog)
}

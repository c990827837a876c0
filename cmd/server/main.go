package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"circle_go/internal/broker/memory"
	"circle_go/internal/broker/pgnotify"
	"circle_go/internal/broker/redisbus"
	"circle_go/internal/config"
	"circle_go/internal/domain"
	"circle_go/internal/httpserver"
	"circle_go/internal/live"
	"circle_go/internal/logging"
	"circle_go/internal/membership"
	"circle_go/internal/security"
	"circle_go/internal/service"
	"circle_go/internal/session"
	"circle_go/internal/store/postgres"
	"circle_go/internal/store/sqlite"
	"circle_go/internal/ws"
)

// stores groups the repositories of one backend.
type stores struct {
	db           *sql.DB
	activities   domain.ActivityStore
	participants domain.ParticipantStore
	messages     domain.MessageStore
	profiles     domain.ProfileStore
	friends      domain.FriendshipStore
}

// pushBroker is a broker with a receive loop and a connection to release.
type pushBroker interface {
	domain.PushBroker
	Close() error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.Debug)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Push broker first: the sqlite store publishes into it.
	brk, publisher, run, err := openBroker(cfg, logging.Component(logger, "broker"))
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.BrokerDriver).Msg("failed to open push broker")
	}
	defer brk.Close()
	if run != nil {
		go func() {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("push broker stopped")
			}
		}()
	}

	st, err := openStores(cfg, publisher, logging.Component(logger, "store"))
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer st.db.Close()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())

	// Live channels, websocket hub and per-user sessions
	mgr := live.NewManager(brk, logging.Component(logger, "live"))
	hub := ws.NewHub(logging.Component(logger, "hub"))
	ledger := membership.NewLedger(st.participants, logging.Component(logger, "membership"),
		membership.WithNotify(hub.PushMembership))
	if _, err := ledger.Watch(ctx, mgr); err != nil {
		logger.Fatal().Err(err).Msg("failed to watch participants")
	}
	sessions := session.NewRegistry(st.messages, mgr, logging.Component(logger, "conversation"), hub.PushConversation)

	// Services
	authSvc := service.NewAuthService(st.profiles, tokenSvc)
	activitySvc := service.NewActivityService(st.activities, st.profiles, st.friends, logging.Component(logger, "activity"),
		service.WithFeedLimit(cfg.FeedLimit),
		service.WithLiveWindow(cfg.LiveFriendsWindow),
	)

	// Build HTTP router
	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Hub:        hub,
		Auth:       authSvc,
		Activities: activitySvc,
		Ledger:     ledger,
		Sessions:   sessions,
		Log:        logging.Component(logger, "http"),
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr()).Str("store", cfg.StoreDriver).Str("broker", cfg.BrokerDriver).Msg("starting circle server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	sessions.Shutdown()
	mgr.Shutdown()
	stop()
}

// openBroker returns the broker subscriptions are opened on, the publisher
// store writes are reported to (nil when the database notifies by itself)
// and the receive loop to run, if any.
func openBroker(cfg *config.Config, log zerolog.Logger) (pushBroker, domain.EventPublisher, func(context.Context) error, error) {
	switch cfg.BrokerDriver {
	case config.BrokerDriverPostgres:
		b, err := pgnotify.New(cfg.DatabaseURL, postgres.NotifyChannel, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, nil, b.Run, nil
	case config.BrokerDriverRedis:
		b, err := redisbus.New(cfg.RedisURL, redisbus.DefaultChannel, log)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, b, b.Run, nil
	default:
		b := memory.NewBus(memory.DefaultBuffer)
		return nopCloser{b}, b, nil, nil
	}
}

type nopCloser struct {
	*memory.Bus
}

func (nopCloser) Close() error { return nil }

func openStores(cfg *config.Config, pub domain.EventPublisher, log zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		feed := sqlite.NewFeed(pub, log)
		return &stores{
			db:           db,
			activities:   sqlite.NewActivityRepo(db),
			participants: sqlite.NewParticipantRepo(db, feed),
			messages:     sqlite.NewMessageRepo(db, feed),
			profiles:     sqlite.NewProfileRepo(db),
			friends:      sqlite.NewFriendshipRepo(db),
		}, nil
	default:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return &stores{
			db:           db,
			activities:   postgres.NewActivityRepo(db),
			participants: postgres.NewParticipantRepo(db),
			messages:     postgres.NewMessageRepo(db),
			profiles:     postgres.NewProfileRepo(db),
			friends:      postgres.NewFriendshipRepo(db),
		}, nil
	}
}

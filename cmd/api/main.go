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

	firebase "firebase.google.com/go/v4"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/chachabrian/unipool-backend/internal/booking"
	"github.com/chachabrian/unipool-backend/internal/chat"
	"github.com/chachabrian/unipool-backend/internal/config"
	"github.com/chachabrian/unipool-backend/internal/database"
	"github.com/chachabrian/unipool-backend/internal/handlers"
	"github.com/chachabrian/unipool-backend/internal/identity"
	"github.com/chachabrian/unipool-backend/internal/logging"
	"github.com/chachabrian/unipool-backend/internal/notify"
	"github.com/chachabrian/unipool-backend/internal/ratings"
	"github.com/chachabrian/unipool-backend/internal/rides"
	"github.com/chachabrian/unipool-backend/internal/services"
	"github.com/chachabrian/unipool-backend/internal/storage"
	"github.com/chachabrian/unipool-backend/internal/store"
	"github.com/chachabrian/unipool-backend/internal/store/firestore"
	"github.com/chachabrian/unipool-backend/internal/store/gormstore"
	"github.com/chachabrian/unipool-backend/internal/store/memory"
)

func main() {
	configPath := pflag.StringP("config", "c", "config.yaml", "optional YAML config file")
	backend := pflag.String("store", "", "store backend: memory, postgres or firestore (overrides STORE_BACKEND)")
	devToken := pflag.String("dev-token", "", "print a 24h JWT for this user id and exit")
	pflag.Parse()

	if *backend != "" {
		os.Setenv("STORE_BACKEND", *backend)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(os.Stdout, cfg.Log)

	if *devToken != "" {
		token, err := identity.NewJWT(cfg.Auth.JWTSecret).Issue(identity.Principal{UserID: *devToken}, 24*time.Hour)
		if err != nil {
			log.Error("issue token", "error", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	// Firebase is optional unless the store or auth needs it.
	app, err := services.NewFirebaseApp(ctx, cfg.Firebase)
	switch {
	case errors.Is(err, services.ErrFirebaseNotConfigured):
		log.Warn("firebase not configured, push notifications disabled")
	case err != nil:
		return err
	}

	st, health, err := openStore(ctx, cfg, app, log)
	if err != nil {
		return err
	}
	defer st.Close()

	verifier, err := newVerifier(ctx, cfg.Auth, app)
	if err != nil {
		return err
	}

	hub := services.NewHub(log)
	go hub.Run(ctx)

	sinks := []notify.Sink{notify.HubSink{Hub: hub}}
	if app != nil {
		pusher, err := services.NewPusher(ctx, app)
		if err != nil {
			return err
		}
		sinks = append(sinks, notify.PushSink{Store: st, Pusher: pusher, Log: log})
	}

	deps := handlers.Deps{Log: log, CORSOrigins: cfg.HTTP.CORSOrigins, Health: health}

	if cfg.Redis.URL != "" {
		rdb, err := services.NewRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		origin := store.NewID()
		sinks = append(sinks, notify.RedisSink{Client: rdb, Origin: origin})
		relay := notify.Relay{Origin: origin, Hub: hub, Log: log}
		go func() {
			if err := relay.Run(ctx, rdb); err != nil {
				log.Error("redis relay stopped", "error", err)
			}
		}()
		deps.Idempotency = rdb
		health["redis"] = handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		log.Info("redis connected")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := services.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		sinks = append(sinks, notify.KafkaSink{Producer: producer})
		log.Info("publishing notification events to kafka", "topic", producer.Topic())
	}

	images, err := storage.New(cfg.Storage, log)
	if err != nil {
		return err
	}
	if local, ok := images.(*storage.Local); ok {
		deps.UploadDir = local.Dir()
	}

	notifier := notify.NewNotifier(st, log, sinks...)
	inventory := rides.NewInventory(st, notifier, log)

	deps.Verifier = verifier
	deps.Rides = inventory
	deps.Workflow = booking.NewWorkflow(st, inventory, notifier, log)
	deps.Ratings = ratings.NewService(st, inventory, notifier, log)
	deps.Chats = chat.NewService(st, inventory, notifier, log)
	deps.Inbox = notify.NewInbox(st)
	deps.Hub = hub
	deps.Images = images

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr, "store", cfg.Store.Backend, "auth", cfg.Auth.Provider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	notifier.Wait()
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, app *firebase.App, log *slog.Logger) (store.Store, map[string]handlers.Pinger, error) {
	health := map[string]handlers.Pinger{}
	switch cfg.Store.Backend {
	case "memory":
		log.Warn("using in-memory store, data is lost on restart")
		return memory.New(), health, nil
	case "postgres":
		db, err := database.InitDB(cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		health["postgres"] = handlers.PingFunc(sqlDB.PingContext)
		return gormstore.New(db), health, nil
	case "firestore":
		if app == nil {
			return nil, nil, errors.New("firestore backend needs firebase credentials")
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore: client: %w", err)
		}
		return firestore.New(client), health, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func newVerifier(ctx context.Context, cfg config.Auth, app *firebase.App) (identity.Verifier, error) {
	if cfg.Provider == "firebase" {
		if app == nil {
			return nil, errors.New("firebase auth needs firebase credentials")
		}
		return identity.NewFirebase(ctx, app)
	}
	return identity.NewJWT(cfg.JWTSecret), nil
}

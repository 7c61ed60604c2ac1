// Command edge runs the dispatcher process: it loads configuration, opens
// the control-plane database and blob store, takes an initial catalog
// snapshot, starts the pub/sub subscriber, and serves tenant traffic until
// signaled to shut down. Startup wiring runs in a fixed order — logger,
// config, database, blob store, catalog, pool, server, signal handling —
// so any step can fail fast before traffic is accepted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/edgecore/dispatcher/internal/affinity"
	"github.com/edgecore/dispatcher/internal/assets"
	"github.com/edgecore/dispatcher/internal/blobstore"
	"github.com/edgecore/dispatcher/internal/catalog"
	"github.com/edgecore/dispatcher/internal/config"
	"github.com/edgecore/dispatcher/internal/database"
	"github.com/edgecore/dispatcher/internal/dispatch"
	"github.com/edgecore/dispatcher/internal/isolate"
	"github.com/edgecore/dispatcher/internal/isolate/enginetest"
	"github.com/edgecore/dispatcher/internal/logger"
	"github.com/edgecore/dispatcher/internal/middleware"
	"github.com/edgecore/dispatcher/internal/server"
)

func main() {
	if err := run(); err != nil {
		zap.S().Fatalw("fatal startup error", "err", err)
	}
}

func run() error {
	log, err := logger.New(logger.Options{Tee: os.Getenv("EDGE_TEE_LOG") != ""})
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := database.Open(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := blobstore.New(ctx, blobstore.Options{
		Bucket:          cfg.S3.Bucket,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	})
	if err != nil {
		return err
	}

	cat := catalog.New()
	store := catalog.NewStore(db)
	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		return err
	}
	cat.Replace(snapshot)
	log.Info("catalog snapshot loaded", zap.Int("hostnames", cat.Len()))

	aff := affinity.New(cfg.HTTP.PoolSize)
	pool := isolate.NewPool(cfg.HTTP.PoolSize, 64)

	// The actual script-engine embedding (V8/QuickJS) is an external
	// collaborator outside this module's scope; enginetest.Engine stands in
	// for it until a real embedding is wired behind the isolate.Engine
	// interface.
	engine := &enginetest.Engine{}
	caches := isolate.NewCacheSet(pool, engine, blobs)
	assetsH := assets.New(blobs)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.PubSub.RedisAddr})
	defer rdb.Close()

	sub := catalog.NewSubscriber(rdb, cfg.PubSub.Channel, cat, caches, blobs, log)
	go func() {
		if err := sub.Run(ctx); err != nil {
			log.Error("catalog subscriber stopped", zap.Error(err))
		}
	}()

	dispatcher := dispatch.New(cat, aff, pool, caches, assetsH, log)

	mux := chi.NewRouter()
	mux.Handle("/metrics", middleware.Security(promhttp.Handler()))
	mux.Handle("/*", dispatcher)

	srv := server.New(cfg.HTTP.ListenAddr, mux)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.HTTP.ListenAddr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}

	caches.ShutdownAll()
	log.Info("dispatcher stopped")
	return nil
}

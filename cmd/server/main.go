package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/Xminent/shiki-server/internal/auth"
	"github.com/Xminent/shiki-server/internal/cache"
	"github.com/Xminent/shiki-server/internal/config"
	"github.com/Xminent/shiki-server/internal/hub"
	"github.com/Xminent/shiki-server/internal/id"
	"github.com/Xminent/shiki-server/internal/rest"
	"github.com/Xminent/shiki-server/internal/store"
	"github.com/Xminent/shiki-server/internal/stream"
	"github.com/Xminent/shiki-server/internal/zlog"
)

func newConfig() (*config.Config, error) {
	cfg, err := config.New(context.Background())
	if err != nil {
		return nil, err
	}
	zlog.Init(cfg.LogLevel)
	return cfg, nil
}

func newStore(cfg *config.Config) (*store.Store, error) {
	return store.New(cfg.DatabasePath)
}

// newRedis returns nil when no address is configured; the cache layer
// then degrades to store-only reads.
func newRedis(cfg *config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func newFetcher(st *store.Store, rdb *redis.Client) *cache.Fetcher {
	return cache.New(st, rdb)
}

func newGenerator(cfg *config.Config) (*id.Generator, error) {
	return id.New(cfg.NodeID)
}

// newPublisher returns nil when no brokers are configured.
func newPublisher(cfg *config.Config) (*stream.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}
	return stream.New(cfg.KafkaBrokers, cfg.KafkaTopic)
}

// newHub preloads the channel table; a load failure aborts startup.
func newHub(f *cache.Fetcher, pub *stream.Publisher) (*hub.Hub, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var opts []hub.Option
	if pub != nil {
		opts = append(opts, hub.WithPublisher(pub))
	}

	return hub.New(ctx, f, auth.NewValidator(f), f, opts...)
}

func newServer(cfg *config.Config, h *hub.Hub, st *store.Store, f *cache.Fetcher, gen *id.Generator) *rest.Server {
	return rest.New(cfg, h, st, f, gen)
}

func run(h *hub.Hub, srv *rest.Server, st *store.Store, pub *stream.Publisher) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go h.Run(ctx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		zlog.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown: %v", err)
	}
	if pub != nil {
		_ = pub.Close()
	}
	_ = st.Close()

	zlog.Info("server stopped")
	return nil
}

func main() {
	defer func() { _ = zlog.Sync() }()

	container := dig.New()

	constructors := []any{
		newConfig,
		newStore,
		newRedis,
		newFetcher,
		newGenerator,
		newPublisher,
		newHub,
		newServer,
	}
	for _, c := range constructors {
		if err := container.Provide(c); err != nil {
			zlog.Fatal("failed to provide constructor: %v", err)
		}
	}

	if err := container.Invoke(run); err != nil {
		zlog.Fatal("server error: %v", err)
	}
}

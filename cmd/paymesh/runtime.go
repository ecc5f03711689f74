package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/clockz"

	"paymesh/internal/circuitbreaker"
	"paymesh/internal/config"
	"paymesh/internal/domain"
	"paymesh/internal/gateway"
	"paymesh/internal/health"
	"paymesh/internal/infrastructure"
	"paymesh/internal/market"
	"paymesh/internal/provider"
	"paymesh/internal/usecase"
)

// runtime holds the wired engine and everything that must be closed with it.
type runtime struct {
	settings   *config.ApplicationSettings
	markets    *market.Registry
	gateways   *gateway.Registry
	store      domain.AuditStore
	dispatcher *usecase.PaymentDispatcher
	stats      *usecase.StatsEngine
	breakers   *circuitbreaker.Set
	health     *health.Monitor

	redis   *redis.Client
	closers []func(context.Context) error
}

func loadMarkets(s *config.ApplicationSettings) (*market.Registry, error) {
	if s.Markets.File == "" {
		return market.Default(), nil
	}
	return market.LoadFile(s.Markets.File)
}

// openStorage wires only the markets and the audit store, for the read-only
// commands.
func openStorage(ctx context.Context, s *config.ApplicationSettings) (*runtime, error) {
	rt := &runtime{settings: s}

	markets, err := loadMarkets(s)
	if err != nil {
		return nil, err
	}
	rt.markets = markets

	store, _, err := rt.openAuditStore(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.store = store
	rt.stats = usecase.NewStatsEngine(store, markets, clockz.RealClock, s.Dispatch.ReportingCurrency)
	return rt, nil
}

// openRuntime wires the full engine used by serve.
func openRuntime(ctx context.Context, s *config.ApplicationSettings) (*runtime, error) {
	rt := &runtime{settings: s}

	markets, err := loadMarkets(s)
	if err != nil {
		return nil, err
	}
	rt.markets = markets

	store, gatewayStore, err := rt.openAuditStore(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.store = store

	rt.gateways = gateway.NewRegistry(gatewayStore)
	if err := rt.gateways.Load(ctx); err != nil {
		rt.Close(ctx)
		return nil, err
	}
	if err := rt.gateways.Seed(ctx, s.SeedGateways()); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	events, err := rt.openEvents(ctx)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	clock := clockz.RealClock
	rt.breakers = circuitbreaker.NewSet(clock, s.Breaker.MaxFailures, s.Breaker.OpenTimeout, s.Breaker.ResetThreshold)
	rt.health = health.NewMonitor(clock, s.Health.Interval, s.Health.Timeout)

	opts := []usecase.DispatcherOption{
		usecase.WithClock(clock),
		usecase.WithAdapterTimeout(s.Dispatch.AdapterTimeout),
		usecase.WithCircuitBreakers(rt.breakers),
		usecase.WithHealthChecker(rt.health),
	}
	if events != nil {
		opts = append(opts, usecase.WithEventPublisher(events))
	}

	rt.dispatcher = usecase.NewPaymentDispatcher(rt.gateways, markets, provider.NewFactory(providerClient()), store, opts...)
	rt.stats = usecase.NewStatsEngine(store, markets, clock, s.Dispatch.ReportingCurrency)
	return rt, nil
}

func (rt *runtime) openAuditStore(ctx context.Context) (domain.AuditStore, domain.GatewayStore, error) {
	st := rt.settings.Storage

	switch st.Backend {
	case "sqlite":
		store, err := infrastructure.NewSQLiteAuditStore(st.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		rt.onClose(func(context.Context) error { return store.Close() })
		slog.Info("Audit store ready", "backend", "sqlite", "path", st.SQLitePath)
		return store, nil, nil

	case "postgres":
		pool, err := infrastructure.NewPool(ctx, infrastructure.PoolConfig{
			URL:      st.DatabaseURL,
			MaxConns: st.MaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		rt.onClose(func(context.Context) error { pool.Close(); return nil })
		if err := infrastructure.MigratePostgres(ctx, pool); err != nil {
			return nil, nil, err
		}
		slog.Info("Audit store ready", "backend", "postgres")
		return infrastructure.NewPostgresAuditStore(pool), infrastructure.NewPostgresGatewayStore(pool), nil

	case "redis":
		client, err := rt.redisClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Audit store ready", "backend", "redis", "addr", st.RedisAddr)
		return infrastructure.NewRedisAuditStore(client, st.RedisPrefix), nil, nil
	}

	slog.Warn("Audit store is in memory, entries are lost on restart")
	return infrastructure.NewMemoryAuditStore(), nil, nil
}

func (rt *runtime) openEvents(ctx context.Context) (domain.EventPublisher, error) {
	ev := rt.settings.Events

	var next domain.EventPublisher
	switch ev.Backend {
	case "redis":
		client, err := rt.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		next = infrastructure.NewRedisEventPublisher(client, ev.RedisChannel)
	case "rabbitmq":
		publisher, err := infrastructure.NewRabbitMQEventPublisher(ev.RabbitMQURL, ev.Queue)
		if err != nil {
			return nil, err
		}
		rt.onClose(func(context.Context) error { return publisher.Close() })
		next = publisher
	default:
		return nil, nil
	}

	queue := infrastructure.NewEventQueue(next, ev.Workers, ev.QueueCapacity, ev.PublishTimeout)
	queue.Start()
	rt.onClose(queue.Close)
	slog.Info("Payment events enabled", "backend", ev.Backend, "workers", ev.Workers)
	return queue, nil
}

func (rt *runtime) redisClient(ctx context.Context) (*redis.Client, error) {
	if rt.redis != nil {
		return rt.redis, nil
	}

	st := rt.settings.Storage
	client := redis.NewClient(&redis.Options{
		Addr:     st.RedisAddr,
		Password: st.RedisPassword,
		DB:       st.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", st.RedisAddr, err)
	}

	rt.redis = client
	rt.onClose(func(context.Context) error { return client.Close() })
	return client, nil
}

func (rt *runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close(ctx context.Context) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			slog.Warn("Shutdown step failed", "err", err)
		}
	}
	rt.closers = nil
}

func providerClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        512,
			MaxIdleConnsPerHost: 128,
			IdleConnTimeout:     120 * time.Second,
			MaxConnsPerHost:     512,
			DialContext: (&net.Dialer{
				Timeout:   time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}
}

package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/config"
	"github.com/sells-group/saleslist/internal/cost"
	"github.com/sells-group/saleslist/internal/store"
	"github.com/sells-group/saleslist/internal/usage"
)

// pricingFile is the optional YAML pricing table passed with --pricing.
var pricingFile string

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		return store.NewSQLite(sc.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// openStore connects and applies the schema. Callers close the store.
func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	st, err := initStore(ctx, sc)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initTracker picks the Redis counters when an address is configured and
// process memory otherwise. The returned func releases the backend.
func initTracker(ctx context.Context, uc config.UsageConfig) (*usage.Tracker, func(), error) {
	limits := usage.Limits{
		MonthlyCost: uc.MonthlyCostLimit,
		MonthlyCall: uc.MonthlyCallLimit,
		CostPerCall: uc.CostPerCall,
	}

	if uc.RedisAddr == "" {
		zap.L().Warn("usage counters kept in memory; set usage.redis_addr to share them")
		return usage.NewTracker(usage.NewMemoryBackend(), limits), func() {}, nil
	}

	backend, err := usage.NewRedisBackend(ctx, usage.RedisConfig{
		Addr:     uc.RedisAddr,
		Password: uc.RedisPassword,
		DB:       uc.RedisDB,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "init usage backend")
	}
	closer := func() {
		if err := backend.Close(); err != nil {
			zap.L().Warn("close usage backend", zap.Error(err))
		}
	}
	return usage.NewTracker(backend, limits), closer, nil
}

// loadRates returns the configured pricing, overlaid with --pricing when set.
func loadRates(base cost.Rates, path string) (cost.Rates, error) {
	if path == "" {
		return base, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cost.Rates{}, eris.Wrapf(err, "open pricing file %s", path)
	}
	defer f.Close() //nolint:errcheck

	return cost.LoadRates(f, base)
}

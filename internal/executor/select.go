package executor

import (
	"go.uber.org/zap"

	"github.com/autobiz/abp/backend/internal/config"
	"github.com/autobiz/abp/backend/internal/platform/workerauth"
)

// Select builds the executor for this process: a local pool, or the
// distributed runtime backed by the local pool when it is enabled.
func Select(cfg config.ExecutorConfig, registry *Registry, logger *zap.Logger) BatchExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	local := NewLocal(registry, cfg.LocalWorkers, logger.Named("local"))
	if !cfg.DistributedEnabled || len(cfg.Workers) == 0 {
		logger.Info("batch executor selected", zap.String("executor", local.Name()), zap.Int("workers", local.Workers()))
		return local
	}

	pool := DefaultConnectionPoolOptions()
	if cfg.DialTimeout > 0 {
		pool.ConnectionTimeout = cfg.DialTimeout
	}
	issuer := workerauth.Issuer{Secret: []byte(cfg.SharedSecret), Node: "api"}

	dist := NewDistributed(registry, DistributedOptions{
		Endpoints:     cfg.Workers,
		MaxConcurrent: cfg.MaxConcurrent,
		Pool:          pool,
		Header:        issuer.Header,
	}, logger.Named("distributed"))

	logger.Info("batch executor selected",
		zap.String("executor", "distributed"),
		zap.Strings("workers", cfg.Workers),
		zap.Int("fallbackWorkers", local.Workers()),
	)
	return NewFallback(dist, local, logger.Named("fallback"))
}

package schedule

import (
	"fmt"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/internal/config"
)

const defaultPoolSize = 10

// newPool creates the worker pool scheduled runs are dispatched on.
func newPool(cfg config.WorkerPoolConfig, log *zap.Logger) (*ants.Pool, error) {
	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}
	opts := []ants.Option{
		ants.WithLogger(newAntsLoggerAdapter(log.Named("ants_pool"))),
		ants.WithPanicHandler(func(p interface{}) {
			log.Error("Scheduler worker panic caught", zap.Any("panic", p), zap.Stack("stack"))
		}),
	}
	if cfg.ExpiryTime > 0 {
		opts = append(opts, ants.WithExpiryDuration(cfg.ExpiryTime))
	}
	if cfg.QueueSize > 0 {
		opts = append(opts, ants.WithMaxBlockingTasks(cfg.QueueSize))
	}

	pool, err := ants.NewPool(size, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler pool: %w", err)
	}
	return pool, nil
}

type antsLoggerAdapter struct {
	logger *zap.Logger
}

func newAntsLoggerAdapter(logger *zap.Logger) *antsLoggerAdapter {
	return &antsLoggerAdapter{logger: logger}
}

func (a *antsLoggerAdapter) Printf(format string, args ...interface{}) {
	a.logger.Info(fmt.Sprintf(format, args...))
}

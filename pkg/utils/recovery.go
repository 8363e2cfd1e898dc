package utils

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// RecoverFn receives a recovered panic value and its stack.
type RecoverFn func(r interface{}, stack []byte)

func logPanic(log *zap.Logger, msg string, r interface{}, stack []byte) {
	log.Error(msg, zap.Any("panic", r), zap.ByteString("stack", stack))
}

// SafeGo runs fn in a goroutine. A panic goes to onPanic, or to the global
// logger when onPanic is nil.
func SafeGo(fn func(), onPanic RecoverFn) {
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if onPanic != nil {
				onPanic(r, debug.Stack())
				return
			}
			logPanic(logger.Log, "[panic] goroutine crashed", r, debug.Stack())
		}()
		fn()
	}()
}

// RecoverWithLog must be deferred directly. It logs a panic raised during operation.
func RecoverWithLog(ctx context.Context, operation string) {
	if r := recover(); r != nil {
		logPanic(logger.FromContext(ctx), "[panic] recovered during "+operation, r, debug.Stack())
	}
}

// WrapWithContextRecovery turns a panic inside fn into an error.
func WrapWithContextRecovery(fn func(ctx context.Context) error) func(ctx context.Context) error {
	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(logger.FromContext(ctx), "[panic] recovered", r, debug.Stack())
				err = fmt.Errorf("panic recovered: %v", r)
			}
		}()
		return fn(ctx)
	}
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

const (
	retryInitialInterval      = 50 * time.Millisecond
	retryMaxInterval          = 2 * time.Second
	readRetryMaxElapsedTime   = 5 * time.Second
	commitRetryMaxElapsedTime = 15 * time.Second
)

// SQLSTATE codes the engine distinguishes.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgNotNullViolation     = "23502"
	pgCheckViolation       = "23514"
	pgStringTruncation     = "22001"
	pgInvalidText          = "22P02"
	pgSerializationFailure = "40001"
	pgDeadlock             = "40P01"

	pgClassConnection = "08"
	pgClassResources  = "53"
)

// badInput are the codes caused by the row being written rather than the server.
var badInput = map[string]bool{
	pgForeignKeyViolation: true,
	pgNotNullViolation:    true,
	pgCheckViolation:      true,
	pgStringTruncation:    true,
	pgInvalidText:         true,
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"connection timed out",
	"network is unreachable",
	"no route to host",
	"could not translate host name",
	"i/o timeout",
	"broken pipe",
	"database system is starting up",
}

func newRetryPolicy(ctx context.Context, maxElapsed time.Duration) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.MaxElapsedTime = maxElapsed
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// retryableOperation runs op until it succeeds, fails permanently or the
// policy gives up. Only transient errors are retried.
func retryableOperation(ctx context.Context, policy backoff.BackOffContext, opName string, op func() error) error {
	notify := func(err error, after time.Duration) {
		logger.FromContext(ctx).Warn("Retrying DB operation",
			zap.String("operation", opName),
			zap.Duration("after", after),
			zap.Error(err),
		)
	}
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil || isTransientError(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy, notify)
}

// isTransientError reports whether err is worth another attempt.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrDuplicate) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, pgClassConnection),
			strings.HasPrefix(pgErr.Code, pgClassResources),
			pgErr.Code == pgSerializationFailure,
			pgErr.Code == pgDeadlock:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// checkConstraintViolation maps a driver error onto the apperrors sentinels.
// The original error stays in the chain.
func checkConstraintViolation(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %w", apperrors.ErrNotFound, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", apperrors.ErrDuplicate, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	switch {
	case pgErr.Code == pgUniqueViolation:
		return fmt.Errorf("%w: %s: %w", apperrors.ErrDuplicate, pgSubject(pgErr), err)
	case badInput[pgErr.Code]:
		return fmt.Errorf("%w: %s: %w", apperrors.ErrBadRequest, pgSubject(pgErr), err)
	default:
		return fmt.Errorf("%w: sqlstate %s: %w", apperrors.ErrDatabase, pgErr.Code, err)
	}
}

// pgSubject names what an integrity error is about.
func pgSubject(e *pgconn.PgError) string {
	switch {
	case e.ConstraintName != "":
		return "constraint " + e.ConstraintName
	case e.ColumnName != "":
		return "column " + e.ColumnName
	case e.DataTypeName != "":
		return "type " + e.DataTypeName
	default:
		return "sqlstate " + e.Code
	}
}

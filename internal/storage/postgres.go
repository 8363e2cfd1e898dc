package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
	"gitlab.com/timkado/api/daisi-function-engine/internal/tenant"
	"gitlab.com/timkado/api/daisi-function-engine/pkg/logger"
)

// tenantModels are migrated into every tenant schema, parents first.
var tenantModels = []interface{}{
	&model.Function{},
	&model.Trigger{},
	&model.Condition{},
	&model.Parameter{},
	&model.Action{},
	&model.Behavior{},
	&model.Execution{},
	&model.Schedule{},
	&model.Conversation{},
	&model.Message{},
}

var requiredTables = []string{
	"functions", "triggers", "conditions", "parameters", "actions", "behaviors",
	"executions", "schedules", "conversations", "messages",
}

// PostgresRepo implements the function engine repositories on a tenant schema.
type PostgresRepo struct {
	db *gorm.DB
}

// tenantNamer qualifies every table with the tenant schema.
type tenantNamer struct {
	schema.NamingStrategy
	schemaName string
}

func (tn tenantNamer) TableName(table string) string {
	return fmt.Sprintf("%q.%s", tn.schemaName, table)
}

// SchemaName returns the tenant schema used for a company.
func SchemaName(companyID string) string {
	return "fn_engine_" + companyID
}

// NewPostgresRepo connects to Postgres, creates the tenant schema when it is
// missing, optionally migrates it and checks every table is present.
func NewPostgresRepo(dsn string, autoMigrate bool, companyID string) (*PostgresRepo, error) {
	schemaName := SchemaName(companyID)
	log := logger.Log.With(zap.String("schema", schemaName))

	if err := ensureSchema(dsn, schemaName); err != nil {
		return nil, err
	}

	db, err := openWithRetry(dsn, &gorm.Config{
		NamingStrategy: tenantNamer{schemaName: schemaName},
		TranslateError: true,
	}, schemaName)
	if err != nil {
		return nil, fmt.Errorf("%w: connect tenant schema %s: %w", apperrors.ErrDatabase, schemaName, err)
	}
	repo := &PostgresRepo{db: db}

	if autoMigrate {
		log.Info("Migrating tenant schema")
		if err := db.AutoMigrate(tenantModels...); err != nil {
			// verifyTables decides whether the schema is usable
			log.Error("Auto-migration failed", zap.Error(err))
		}
	}

	if err := verifyTables(db, schemaName); err != nil {
		_ = repo.Close(context.Background())
		return nil, err
	}
	log.Info("Postgres repository ready", zap.Bool("auto_migrate", autoMigrate))
	return repo, nil
}

// ensureSchema creates the tenant schema over a short-lived connection.
func ensureSchema(dsn, schemaName string) error {
	db, err := openWithRetry(dsn, &gorm.Config{}, "default")
	if err != nil {
		return fmt.Errorf("%w: connect: %w", apperrors.ErrDatabase, err)
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %q", schemaName)).Error; err != nil {
		return fmt.Errorf("%w: create schema %s: %w", apperrors.ErrDatabase, schemaName, err)
	}
	return nil
}

func openWithRetry(dsn string, cfg *gorm.Config, target string) (*gorm.DB, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = time.Minute

	return backoff.RetryNotifyWithData(func() (*gorm.DB, error) {
		db, err := gorm.Open(postgres.Open(dsn), cfg)
		if err != nil && !isTransientError(err) {
			return nil, backoff.Permanent(err)
		}
		return db, err
	}, b, func(err error, after time.Duration) {
		logger.Log.Warn("Postgres not reachable, retrying", zap.String("target", target), zap.Duration("after", after), zap.Error(err))
	})
}

// verifyTables fails when a required table is missing from the tenant schema.
func verifyTables(db *gorm.DB, schemaName string) error {
	const existsSQL = `SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = ? AND table_name = ?)`
	for _, table := range requiredTables {
		var exists bool
		if err := db.Raw(existsSQL, schemaName, table).Scan(&exists).Error; err != nil {
			return fmt.Errorf("%w: check table %s.%s: %w", apperrors.ErrDatabase, schemaName, table, err)
		}
		if !exists {
			return fmt.Errorf("%w: table %s.%s is missing", apperrors.ErrDatabase, schemaName, table)
		}
	}
	return nil
}

// Ping checks the database connection for readiness probes.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrDatabase, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *PostgresRepo) Close(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return nil
	}
	if err := sqlDB.Close(); err != nil {
		logger.FromContext(ctx).Error("Failed to close database connection", zap.Error(err))
		return fmt.Errorf("%w: close: %w", apperrors.ErrDatabase, err)
	}
	logger.FromContext(ctx).Info("Database connection closed")
	return nil
}

// tenantLabel is the company label for db metrics; empty when the context carries none.
func tenantLabel(ctx context.Context) string {
	companyID, _ := tenant.FromContext(ctx)
	return companyID
}

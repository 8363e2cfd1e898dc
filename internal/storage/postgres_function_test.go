package storage

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
)

func TestPostgresRepo_FindActiveFunctionsByBot(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(quote(`SELECT * FROM "functions" WHERE bot_id = $1 AND is_active = $2 ORDER BY created_at ASC`)).
		WithArgs("bot-1", true).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bot_id", "company_id", "name", "is_active", "accumulate_parameters"}).
			AddRow("fn-ok", "bot-1", testTenantID, "Order status", true, false).
			AddRow("fn-bad", "bot-1", testTenantID, "Broken", true, false))

	mock.ExpectQuery(quote(`SELECT * FROM "triggers" WHERE "triggers"."function_id" IN ($1,$2) ORDER BY priority DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "function_id", "type", "priority", "is_active", "config"}).
			AddRow("tr-1", "fn-ok", "keyword", 10, true, []byte(`{"keywords":["order status"],"mode":"any"}`)))
	mock.ExpectQuery(quote(`SELECT * FROM "conditions" WHERE "conditions"."trigger_id" = $1 ORDER BY position ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "trigger_id"}))
	mock.ExpectQuery(quote(`SELECT * FROM "parameters" WHERE "parameters"."function_id" IN ($1,$2) ORDER BY position ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "function_id", "code", "type", "is_required", "position"}).
			AddRow("p-1", "fn-ok", "order_id", "string", true, 0).
			AddRow("p-2", "fn-bad", "amount", "number", true, 0).
			AddRow("p-3", "fn-bad", "amount", "number", false, 1))
	mock.ExpectQuery(quote(`SELECT * FROM "actions" WHERE "actions"."function_id" IN ($1,$2) ORDER BY position ASC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "function_id", "type", "provider", "position"}).
			AddRow("a-1", "fn-ok", "post", "webhook", 0))
	mock.ExpectQuery(quote(`SELECT * FROM "behaviors" WHERE "behaviors"."function_id" IN ($1,$2)`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "function_id", "on_success", "on_error"}).
			AddRow("b-1", "fn-ok", "pause", "notify"))

	functions, err := repo.FindActiveFunctionsByBot(ctx, "bot-1")

	require.NoError(t, err)
	require.Len(t, functions, 1, "function with duplicate parameter codes is skipped")
	fn := functions[0]
	assert.Equal(t, "fn-ok", fn.ID)
	require.Len(t, fn.Triggers, 1)
	assert.Equal(t, 10, fn.Triggers[0].Priority)
	require.Len(t, fn.Parameters, 1)
	assert.Equal(t, "order_id", fn.Parameters[0].Code)
	require.Len(t, fn.Actions, 1)
	require.NotNil(t, fn.Behavior)
	assert.Equal(t, "pause", fn.Behavior.OnSuccess)
}

func TestPostgresRepo_FindFunctionByWebhookKey_NotFound(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)

	mock.ExpectQuery(quote(`SELECT * FROM "functions" WHERE webhook_key = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	fn, err := repo.FindFunctionByWebhookKey(ctx, "missing-key")
	assert.Nil(t, fn)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = repo.FindFunctionByWebhookKey(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

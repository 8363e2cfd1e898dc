package storage

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

var conversationColumns = []string{"id", "bot_id", "company_id", "external_key", "is_paused", "context", "accumulated_params"}

func TestPostgresRepo_EnsureConversation(t *testing.T) {
	key := "function:fn-1"
	selectByKey := quote(`SELECT * FROM "conversations" WHERE external_key = $1`)

	t.Run("Existing row is returned", func(t *testing.T) {
		repo, mock, ctx := newTestRepo(t)
		mock.ExpectQuery(selectByKey).
			WillReturnRows(sqlmock.NewRows(conversationColumns).
				AddRow("conv-old", "bot-1", testTenantID, key, true, "vip", []byte(`{"fn-1":{"name":"Ann"}}`)))

		conv, err := repo.EnsureConversation(ctx, model.Conversation{ID: "conv-new", CompanyID: testTenantID, ExternalKey: &key})
		require.NoError(t, err)
		assert.Equal(t, "conv-old", conv.ID)
		assert.True(t, conv.IsPaused)
		assert.Equal(t, "Ann", conv.AccumulatedParams.Get("fn-1")["name"])
	})

	t.Run("Absent row is created", func(t *testing.T) {
		repo, mock, ctx := newTestRepo(t)
		mock.ExpectQuery(selectByKey).WillReturnRows(sqlmock.NewRows(conversationColumns))
		mock.ExpectExec(quote(`INSERT INTO "conversations"`)).WillReturnResult(sqlmock.NewResult(0, 1))

		conv, err := repo.EnsureConversation(ctx, model.Conversation{ID: "conv-new", CompanyID: testTenantID, ExternalKey: &key})
		require.NoError(t, err)
		assert.Equal(t, "conv-new", conv.ID)
		assert.NotNil(t, conv.AccumulatedParams)
	})

	t.Run("Creation race returns the winner", func(t *testing.T) {
		repo, mock, ctx := newTestRepo(t)
		mock.ExpectQuery(selectByKey).WillReturnRows(sqlmock.NewRows(conversationColumns))
		mock.ExpectExec(quote(`INSERT INTO "conversations"`)).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_conversations_external_key"})
		mock.ExpectQuery(selectByKey).
			WillReturnRows(sqlmock.NewRows(conversationColumns).
				AddRow("conv-winner", "bot-1", testTenantID, key, false, "", nil))

		conv, err := repo.EnsureConversation(ctx, model.Conversation{ID: "conv-new", CompanyID: testTenantID, ExternalKey: &key})
		require.NoError(t, err)
		assert.Equal(t, "conv-winner", conv.ID)
	})

	t.Run("Tenant mismatch", func(t *testing.T) {
		repo, _, ctx := newTestRepo(t)
		_, err := repo.EnsureConversation(ctx, model.Conversation{ID: "conv-x", CompanyID: "other-tenant"})
		assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	})
}

func TestPostgresRepo_ConversationUpdates(t *testing.T) {
	t.Run("SaveAccumulatedParams", func(t *testing.T) {
		repo, mock, ctx := newTestRepo(t)
		mock.ExpectExec(quote(`UPDATE "conversations" SET "accumulated_params"=$1,"updated_at"=$2 WHERE id = $3`)).
			WithArgs(`{"fn-1":{"order_id":"A-1"}}`, AnyTime{}, "conv-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		acc := model.AccumulatedParams{"fn-1": {"order_id": "A-1"}}
		assert.NoError(t, repo.SaveAccumulatedParams(ctx, "conv-1", acc))
	})

	t.Run("SetConversationPaused on missing row", func(t *testing.T) {
		repo, mock, ctx := newTestRepo(t)
		mock.ExpectExec(quote(`UPDATE "conversations" SET "is_paused"=$1,"updated_at"=$2 WHERE id = $3`)).
			WithArgs(true, AnyTime{}, "conv-gone").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.SetConversationPaused(ctx, "conv-gone", true)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("AppendConversationContext", func(t *testing.T) {
		repo, mock, ctx := newTestRepo(t)
		mock.ExpectExec(quote(`UPDATE "conversations" SET "context"=CASE WHEN COALESCE(context, '') = '' THEN $1 ELSE context || $2 END,"updated_at"=$3 WHERE id = $4`)).
			WithArgs("Customer asked for a refund", "\nCustomer asked for a refund", AnyTime{}, "conv-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.AppendConversationContext(ctx, "conv-1", "Customer asked for a refund"))
	})
}

func TestPostgresRepo_AddMessage(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	mock.ExpectExec(quote(`INSERT INTO "messages"`) + `.*` + quote(`ON CONFLICT DO NOTHING`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	msg := model.NewMessage("conv-1", model.RoleUser, "where is my order?")
	require.NoError(t, repo.AddMessage(ctx, &msg))
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestPostgresRepo_RecentMessages(t *testing.T) {
	repo, mock, ctx := newTestRepo(t)
	t0 := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)

	mock.ExpectQuery(quote(`SELECT * FROM "messages" WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "created_at"}).
			AddRow("m-3", "conv-1", "user", "A-17", t0.Add(2*time.Minute)).
			AddRow("m-2", "conv-1", "assistant", "Which order?", t0.Add(time.Minute)).
			AddRow("m-1", "conv-1", "user", "order status", t0))

	messages, err := repo.RecentMessages(ctx, "conv-1", 3)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "m-1", messages[0].ID)
	assert.Equal(t, "m-3", messages[2].ID)
}

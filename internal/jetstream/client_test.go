package jetstream

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
)

func TestClient_PingWithoutConnection(t *testing.T) {
	c := &Client{}

	err := c.Ping(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNATS)
	assert.NotPanics(t, c.Close)
}

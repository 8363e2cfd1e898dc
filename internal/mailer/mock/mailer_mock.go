package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"gitlab.com/timkado/api/daisi-function-engine/internal/mailer"
)

// MailerMock is a mock implementation of mailer.Mailer
type MailerMock struct {
	mock.Mock
}

var _ mailer.Mailer = (*MailerMock)(nil)

func (m *MailerMock) Send(ctx context.Context, email mailer.Email) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

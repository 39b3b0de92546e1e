package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"classroom-relay/internal/telemetry"
)

var _ telemetry.Publisher = (*PublisherMock)(nil)

// PublisherMock records relay events and audit envelopes handed to the broker.
type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}

// AcceptRoutingKey lets every publish on routingKey through, for tests that
// only care about other keys.
func (m *PublisherMock) AcceptRoutingKey(routingKey string) *mock.Call {
	return m.On("Publish", mock.Anything, routingKey, mock.Anything, mock.Anything).Return(nil).Maybe()
}

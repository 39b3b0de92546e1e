package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"classroom-relay/internal/models"
	"classroom-relay/internal/repositories"
)

type RoomMessageRepositoryMock struct {
	mock.Mock
}

func (m *RoomMessageRepositoryMock) Append(ctx context.Context, roomID string, payload json.RawMessage) error {
	args := m.Called(ctx, roomID, payload)
	return args.Error(0)
}

func (m *RoomMessageRepositoryMock) ListRecent(ctx context.Context, roomID string, limit int) ([]models.ArchivedMessage, error) {
	args := m.Called(ctx, roomID, limit)
	var msgs []models.ArchivedMessage
	if val := args.Get(0); val != nil {
		msgs = val.([]models.ArchivedMessage)
	}
	return msgs, args.Error(1)
}

var _ repositories.RoomMessageRepository = (*RoomMessageRepositoryMock)(nil)

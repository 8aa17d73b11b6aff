package geonet

import (
	"context"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"athena/models"
)

// MockGeoNetClient implements the clients.QuakeClient interface for testing
type MockGeoNetClient struct {
	mock.Mock
}

func (m *MockGeoNetClient) LatestQuake(ctx context.Context, minimumMMI int) (mo.Option[*models.Quake], error) {
	args := m.Called(ctx, minimumMMI)
	return args.Get(0).(mo.Option[*models.Quake]), args.Error(1)
}

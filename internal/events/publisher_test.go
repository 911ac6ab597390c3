package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) Publish(subject string, data []byte) error {
	return m.Called(subject, data).Error(0)
}

func (m *mockConn) Drain() error {
	return m.Called().Error(0)
}

func TestPublishRouteReport(t *testing.T) {
	conn := &mockConn{}
	conn.On("Publish", "routeimpact.routes.hwy4-angels-murphys", []byte(`{"status":"restricted"}`)).Return(nil)

	p := newPublisher(conn, "")
	err := p.PublishRouteReport(context.Background(), "hwy4-angels-murphys", map[string]string{"status": "restricted"})
	require.NoError(t, err)

	conn.AssertExpectations(t)
}

func TestPublishRouteReport_CustomPrefix(t *testing.T) {
	p := newPublisher(&mockConn{}, "test.routes")
	assert.Equal(t, "test.routes.r1", p.Subject("r1"))
}

func TestPublishRouteReport_Errors(t *testing.T) {
	conn := &mockConn{}
	conn.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats: connection closed"))
	p := newPublisher(conn, "")

	err := p.PublishRouteReport(context.Background(), "r1", struct{}{})
	assert.ErrorContains(t, err, "publish routeimpact.routes.r1")

	err = p.PublishRouteReport(context.Background(), "r1", make(chan int))
	assert.ErrorContains(t, err, "marshal report")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishRouteReport(ctx, "r1", struct{}{}), context.Canceled)

	conn.AssertNumberOfCalls(t, "Publish", 1)
}

func TestClose(t *testing.T) {
	conn := &mockConn{}
	conn.On("Drain").Return(nil)
	newPublisher(conn, "").Close()
	conn.AssertExpectations(t)
}

package observability

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	return m.Called(ctx, routingKey, event, headers).Error(0)
}

func TestPublishEventWithoutPublisher(t *testing.T) {
	SetPublisher(nil)
	require.NoError(t, PublishEvent(context.Background(), RoutingKeyWSEvents, EventEnvelope{}, nil))
}

func TestPublishEventDelegates(t *testing.T) {
	pub := new(publisherMock)
	SetPublisher(pub)
	t.Cleanup(func() { SetPublisher(nil) })

	env := EventEnvelope{EventType: "ws_events", EventName: "ws_connect"}
	headers := BuildHeaders("req-1", "")
	pub.On("Publish", mock.Anything, RoutingKeyWSEvents, env, headers).Return(assert.AnError).Once()

	err := PublishEvent(context.Background(), RoutingKeyWSEvents, env, headers)
	require.ErrorIs(t, err, assert.AnError)
	pub.AssertExpectations(t)
}

func TestBuildHeaders(t *testing.T) {
	assert.Equal(t, map[string]string{"x-request-id": "r", "trace_id": "t"}, BuildHeaders("r", "t"))
	assert.Empty(t, BuildHeaders("", ""))
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "1.2.3.4", IPFromRequest(req))
}

func TestTraceIDFromContextWithoutSpan(t *testing.T) {
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}

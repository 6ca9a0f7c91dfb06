package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type recordingConn struct {
	msgs []*nats.Msg
	err  error
}

func (c *recordingConn) PublishMsg(msg *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestNatsPublisher_PublishesJSONOnTypeSubject(t *testing.T) {
	conn := &recordingConn{}
	pub := NewNatsPublisher(conn)

	event := NewFollowEvent(TypeFollowCreated, "a", "b")
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, conn.msgs, 1)
	msg := conn.msgs[0]
	assert.Equal(t, TypeFollowCreated, msg.Subject)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "a", decoded.ActorID)
	assert.Equal(t, "b", decoded.SubjectID)
	assert.Empty(t, decoded.Role)
}

func TestNatsPublisher_InjectsTraceContext(t *testing.T) {
	conn := &recordingConn{}
	pub := NewNatsPublisher(conn)

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	// グローバルプロパゲーターを差し替えてヘッダーに書き込まれることを確認する
	prev := propagationSwap(propagation.TraceContext{})
	defer propagationSwap(prev)

	require.NoError(t, pub.Publish(ctx, NewRoleEvent(TypeRoleGranted, "u", "MODERATOR")))
	require.Len(t, conn.msgs, 1)
	assert.NotEmpty(t, conn.msgs[0].Header.Get("traceparent"))
}

func TestNatsPublisher_WrapsConnError(t *testing.T) {
	boom := errors.New("connection closed")
	pub := NewNatsPublisher(&recordingConn{err: boom})

	err := pub.Publish(context.Background(), NewFollowEvent(TypeFollowRemoved, "a", "b"))
	assert.ErrorIs(t, err, boom)
}

func TestNewEvents_AssignUniqueIDs(t *testing.T) {
	e1 := NewFollowEvent(TypeFollowCreated, "a", "b")
	e2 := NewFollowEvent(TypeFollowCreated, "a", "b")
	assert.NotEqual(t, e1.ID, e2.ID)
	assert.False(t, e1.OccurredAt.IsZero())
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NopPublisher{}.Publish(context.Background(), Event{}))
}

// propagationSwap はグローバルプロパゲーターを差し替え、以前の値を返す。
func propagationSwap(p propagation.TextMapPropagator) propagation.TextMapPropagator {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(p)
	return prev
}

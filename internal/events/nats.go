package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// MsgPublisher はnats.Connのうち発行に必要な部分。
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NatsPublisher はNATSにイベントを発行するPublisher。
// トレースコンテキストはメッセージヘッダーに伝播する。
type NatsPublisher struct {
	conn MsgPublisher
}

// NewNatsPublisher はNatsPublisherを生成する。
func NewNatsPublisher(conn MsgPublisher) *NatsPublisher {
	return &NatsPublisher{conn: conn}
}

// Publish はイベントをJSONにしてevent.Typeのサブジェクトに発行する。
func (p *NatsPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &nats.Msg{
		Subject: event.Type,
		Data:    data,
		Header:  nats.Header{},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	slog.Debug("イベントを発行しました",
		slog.String("subject", event.Type),
		slog.String("event_id", event.ID),
	)
	return nil
}

// Connect はNATSに接続する。名前は接続元の識別に使われる。
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name(name))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}

// compile-time interface check
var (
	_ Publisher    = (*NatsPublisher)(nil)
	_ Publisher    = NopPublisher{}
	_ MsgPublisher = (*nats.Conn)(nil)
)

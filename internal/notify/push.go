package notify

import (
	"context"
	"encoding/json"
	"fmt"
)

// Publisher is the message bus used for in-app push.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload []byte) error
}

const PushSubjectPrefix = "alerts.push."

type PushChannel struct {
	publisher Publisher
}

func NewPushChannel(p Publisher) *PushChannel {
	return &PushChannel{publisher: p}
}

func (p *PushChannel) Type() ChannelType { return ChannelPush }

func (p *PushChannel) Send(ctx context.Context, to string, msg Message) error {
	msg.Recipient = to
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("push: marshal: %w", err)
	}
	return p.publisher.Publish(ctx, PushSubjectPrefix+to, payload)
}

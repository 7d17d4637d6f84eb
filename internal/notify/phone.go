package notify

import "context"

// PhoneChannel is routed for CRITICAL alerts but has no voice provider yet.
type PhoneChannel struct{}

func (PhoneChannel) Type() ChannelType { return ChannelPhoneCall }

func (PhoneChannel) Send(ctx context.Context, to string, msg Message) error {
	return ErrChannelNotImplemented
}

package delivery

import (
	"context"
)

// Message is a single outbound verification message. Subject is ignored by
// channels that have no subject line.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers verification messages through a specific channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

package commandbus

import "context"

// Consumer is a source of command deliveries.
type Consumer interface {
	// Commands returns the channel workers read deliveries from. It is closed
	// when the consumer stops.
	Commands() <-chan Delivery
	// Start begins consumption.
	Start(ctx context.Context) error
	// Stop ceases consumption and waits for background tasks to finish.
	Stop(ctx context.Context) error
	// Done is closed once the consumer has fully stopped.
	Done() <-chan struct{}
}

// Publisher sends encoded replies to the bridge.
type Publisher interface {
	// Publish blocks until the broker accepted the message or ctx is done.
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes pending messages.
	Stop(ctx context.Context) error
}

// Handler turns a command into a reply. A nil reply means the command is
// settled without answering. An error means it could not be handled and
// should be redelivered.
type Handler interface {
	Handle(ctx context.Context, cmd Command) (*Reply, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) (*Reply, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (*Reply, error) {
	return f(ctx, cmd)
}

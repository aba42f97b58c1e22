package bus

import "context"

// NoopBus is a Bus that does nothing (used when NATS is not configured).
type NoopBus struct{}

var _ Bus = (*NoopBus)(nil)

func (n *NoopBus) Publish(ctx context.Context, subject string, data []byte) error {
	return nil
}

func (n *NoopBus) Listen(ctx context.Context, subject, queue string, h Handler) (func(), error) {
	return func() {}, nil
}

func (n *NoopBus) Declare(subject string) error {
	return nil
}

func (n *NoopBus) Close() error {
	return nil
}

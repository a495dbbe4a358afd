package kafkanotify

import "context"

// Noop is a repository.NotificationChannel that never delivers anything,
// for single-device builds that have no broker and rely purely on the
// cloud's long-poll response to wake the registration refresh loop.
type Noop struct{}

func (Noop) Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (func(), error) {
	return func() {}, nil
}

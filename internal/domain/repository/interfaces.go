// Package repository declares the interfaces devicecore's domain services
// consume for everything spec.md §1 calls "out of scope": transport,
// storage, scheduling, clocks, randomness. internal/infrastructure holds
// the concrete adapters; internal/domain/service depends only on these
// interfaces so it stays free of any particular backend.
package repository

import (
	"context"
	"net/http"
	"time"
)

// DoneFunc is the completion callback shape used throughout the core:
// every long-running operation posts its result through one of these
// instead of blocking the caller (spec.md §5).
type DoneFunc func(err error)

// ConfigStore is the persistent key-value configuration store the core
// reads and writes settings and the revocation blacklist through. Writes
// may coalesce or complete asynchronously; callbacks are delivered on the
// same task runner the core itself runs on.
type ConfigStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte, done DoneFunc)
}

// TaskRunner is the scheduler abstraction the core posts immediate and
// delayed work through. It never blocks the caller; work runs later on
// the runner's own execution context.
type TaskRunner interface {
	PostTask(fn func())
	PostDelayedTask(delay time.Duration, fn func()) CancelToken
}

// CancelToken cancels a task scheduled with PostDelayedTask. Cancelling a
// task that has already fired (or was already cancelled) is a no-op,
// matching Design Notes §9's "cancellable token" model for weak
// back-references from scheduled tasks.
type CancelToken interface {
	Cancel()
}

// Clock is the injected time source, letting tests fast-forward TTLs and
// expiries deterministically.
type Clock interface {
	Now() time.Time
}

// RandomSource is the injected randomness source for pairing PIN
// generation and other low-entropy secrets that must not depend on
// package-level global state.
type RandomSource interface {
	// Intn returns a uniform random integer in [0, n).
	Intn(n int) int
	// Bytes fills and returns n cryptographically random bytes.
	Bytes(n int) []byte
}

// HTTPDoer is the outbound HTTP transport C7 (Registration Manager)
// issues cloud requests through.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NotificationChannel is the long-poll/XMPP-equivalent channel the cloud
// uses to wake the device for new commands, and (on hub/fleet
// deployments) the channel access-revocation events arrive on.
type NotificationChannel interface {
	// Subscribe registers fn to be called whenever a notification of the
	// given topic arrives. It returns a function that unsubscribes.
	Subscribe(ctx context.Context, topic string, fn func(payload []byte)) (unsubscribe func(), err error)
}

// SecretProvider custodies the device's long-term secrets (auth_secret,
// certificate fingerprint) outside of the domain layer, so a production
// deployment can back it with an HSM/KMS-like service instead of the
// plain config store.
type SecretProvider interface {
	AuthSecret(ctx context.Context) ([]byte, error)
	CertificateFingerprint(ctx context.Context) ([]byte, error)
}

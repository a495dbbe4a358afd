package models

import (
	"time"

	"github.com/edgeweave/devicecore/pkg/constants"
)

// PairingState is a PairingSession's position in the pending -> confirmed
// lifecycle (spec.md §3).
type PairingState string

const (
	PairingPending   PairingState = "pending"
	PairingConfirmed PairingState = "confirmed"
)

// KeyExchanger is the C3 strategy interface: a single-round
// password-authenticated key agreement. Message and Process are each
// legal to call exactly once per session (Process is a programmer error
// if called twice); Key is only meaningful after a successful Process.
type KeyExchanger interface {
	// Message returns the device's outgoing exchange message.
	Message() []byte
	// Process consumes the peer's message and derives the shared key.
	// Calling it more than once is a programmer error.
	Process(peerMessage []byte) error
	// Key returns the shared unverified key, valid only after a
	// successful Process call.
	Key() []byte
}

// PairingSession is one pairing attempt: an exchanger bound to a session
// id, a lifecycle state and an expiry deadline.
type PairingSession struct {
	ID         string
	Mode       constants.PairingMode
	Crypto     constants.CryptoType
	Exchanger  KeyExchanger
	State      PairingState
	Deadline   time.Time
}

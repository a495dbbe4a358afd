// Package constants defines small system-wide enumerations shared by
// devicecore's domain and infrastructure packages, mirroring the way the
// teacher keeps cross-cutting type-safe constants out of the domain model
// package itself.
package constants

import "time"

// PairingMode is the human-transcription channel a pairing session uses to
// derive its low-entropy shared code.
type PairingMode string

const (
	PairingModeEmbeddedCode PairingMode = "embeddedCode"
	PairingModePinCode      PairingMode = "pinCode"
)

// CryptoType selects the key-agreement algorithm a pairing session runs.
type CryptoType string

const (
	CryptoTypeSpakeP224 CryptoType = "p224-spake"
	CryptoTypeNone      CryptoType = "none"
)

// Timing constants from spec.md §4.4.
const (
	SessionTTL       = 5 * time.Minute
	PairingTTL       = 5 * time.Minute
	MaxPairingTries  = 3
	PairingBlockTime = 1 * time.Minute
	AccessTokenTTL   = 24 * time.Hour
)

// JournalCapacity bounds the per-component state-change journal (spec §3).
const JournalCapacity = 100

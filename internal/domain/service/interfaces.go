// Package service implements the core's seven components (C1-C7 in
// spec.md §2) against the repository interfaces, and declares the
// interfaces integrators code against.
package service

import (
	"context"
	"time"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/pkg/constants"
)

// RevocationStore is C1: a persistent, capacity-bounded blacklist of
// delegated credentials.
type RevocationStore interface {
	Load(ctx context.Context) error
	Block(ctx context.Context, entry models.RevocationEntry, done func(error)) error
	IsBlocked(userID, appID []byte, issuedAt time.Time) bool
	Size() int
	OnEntryAdded(fn func())
}

// AuthManager is C2: issuance and validation of short-lived access
// tokens, and custody of the device's certificate fingerprint.
type AuthManager interface {
	CreateAccessToken(user models.UserInfo, issuedAt time.Time) []byte
	ParseAccessToken(token []byte) (models.UserInfo, time.Time, error)
	CertificateFingerprint() []byte
}

// SecurityManager is C4: pairing session orchestration on top of C3's key
// exchange and C2's token issuance.
type SecurityManager interface {
	StartPairing(mode constants.PairingMode, crypto constants.CryptoType) (sessionID string, deviceCommitment []byte, err error)
	ConfirmPairing(sessionID string, clientCommitment []byte) (certFingerprint, signature []byte, err error)
	CancelPairing(sessionID string) error
	IsValidPairingCode(authCode []byte) bool
	AllowedPairingModes() []constants.PairingMode
	AllowedCryptoTypes() []constants.CryptoType
	CreateAccessToken(user models.UserInfo, issuedAt time.Time) []byte
	ParseAccessToken(token []byte) (models.UserInfo, time.Time, error)
}

// CommandHandler executes one dispatched command instance.
type CommandHandler func(cmd *models.CommandInstance)

// CommandQueue is C5: the pending-command table, per-component handler
// dispatch and delayed removal of completed commands.
type CommandQueue interface {
	Add(cmd *models.CommandInstance) error
	Find(id string) (*models.CommandInstance, bool)
	DelayedRemove(id string, delay time.Duration)
	AddHandler(componentPath, commandName string, handler CommandHandler)
	AddDefaultHandler(handler CommandHandler)
	OnAdded(fn func(*models.CommandInstance))
	OnRemoved(fn func(*models.CommandInstance))
	Count() int
}

// ComponentManager is C6: the typed component tree, trait registry and
// per-component state-change journal.
type ComponentManager interface {
	LoadTraits(defs map[string]models.Trait) error
	AddComponent(parentPath, name string, traits []string) error
	AddComponentArrayItem(parentPath, name string, traits []string) error
	FindComponent(path string) (*models.Component, error)
	AddCommand(componentPath, name string, params map[string]interface{}, role models.Scope, origin models.CommandOrigin) (id string, err error)
	SetStateProperties(componentPath string, diff map[string]interface{}) error
	SetStateProperty(componentPath, dottedName string, value interface{}) error
	GetAndClearRecordedStateChanges() StateSnapshot
	NotifyStateUpdatedOnServer(updateID uint64)
	OnStateUpdateAcked(fn func(updateID uint64))

	// Snapshot renders the whole component tree into a JSON-marshalable
	// shape (name -> {traits, state, components}), used by C7 to build
	// the device draft during registration.
	Snapshot() map[string]interface{}
}

// StateSnapshot is the result of draining every component journal:
// the frontier update-id and every recorded diff, sorted by timestamp.
type StateSnapshot struct {
	UpdateID uint64
	Changes  []models.JournalEntry
}

// RegistrationManager is C7: the unconfigured/connecting/connected/
// invalid-credentials state machine, claim-ticket registration flow,
// access-token refresh and command publishing.
type RegistrationManager interface {
	State() models.GcdState
	RegisterDevice(ctx context.Context, req RegistrationRequest, done func(error))
	RefreshAccessToken(ctx context.Context, done func(error))
	Deregister() error
	OnStateChanged(fn func(models.GcdState))
}

// RegistrationRequest is the caller-supplied portion of a register_device
// call (spec.md §4.7 step 2).
type RegistrationRequest struct {
	TicketID     string
	OAuthURL     string
	ServiceURL   string
	APIKey       string
	ClientID     string
	ClientSecret string
	XMPPEndpoint string
}

package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"

	"github.com/google/uuid"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/pkg/constants"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// ExchangerFactory builds the C3 key exchanger for a given crypto type
// and low-entropy shared code. Kept as an injected function (rather than
// a direct import of internal/infrastructure/crypto) so the domain layer
// never depends on a concrete primitive implementation.
type ExchangerFactory func(crypto constants.CryptoType, code []byte) (models.KeyExchanger, error)

type securityManager struct {
	auth              AuthManager
	revocation        RevocationStore
	exchangerFactory  ExchangerFactory
	runner            repository.TaskRunner
	clock             repository.Clock
	random            repository.RandomSource
	log               logger.Logger

	allowedModes  map[constants.PairingMode]bool
	embeddedCode  []byte
	securityOff   bool

	pending   *sessionEntry
	confirmed map[string]*sessionEntry

	attempts    int
	blockUntil  time.Time
	maxAttempts    int
	blockFor       time.Duration
	pairingTTL     time.Duration
	sessionTTL     time.Duration
	accessTokenTTL time.Duration
}

type sessionEntry struct {
	session *models.PairingSession
	cancel  repository.CancelToken
}

// SecurityManagerConfig groups C4's tunables (spec.md §4.4).
type SecurityManagerConfig struct {
	AllowedModes     []constants.PairingMode
	EmbeddedCode     []byte
	SecurityDisabled bool
	MaxAttempts      int
	BlockDuration    time.Duration
	PairingTTL       time.Duration
	SessionTTL       time.Duration
	AccessTokenTTL   time.Duration
}

// NewSecurityManager constructs C4, grounded on the original
// SecurityManager in original_source/src/privet/security_manager.cc.
func NewSecurityManager(
	auth AuthManager,
	revocation RevocationStore,
	exchangerFactory ExchangerFactory,
	runner repository.TaskRunner,
	clock repository.Clock,
	random repository.RandomSource,
	log logger.Logger,
	cfg SecurityManagerConfig,
) SecurityManager {
	modes := map[constants.PairingMode]bool{}
	for _, m := range cfg.AllowedModes {
		modes[m] = true
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = constants.MaxPairingTries
	}
	blockFor := cfg.BlockDuration
	if blockFor == 0 {
		blockFor = constants.PairingBlockTime
	}
	pairingTTL := cfg.PairingTTL
	if pairingTTL == 0 {
		pairingTTL = constants.PairingTTL
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL == 0 {
		sessionTTL = constants.SessionTTL
	}
	accessTokenTTL := cfg.AccessTokenTTL
	if accessTokenTTL == 0 {
		accessTokenTTL = constants.AccessTokenTTL
	}
	return &securityManager{
		auth:             auth,
		revocation:       revocation,
		exchangerFactory: exchangerFactory,
		runner:           runner,
		clock:            clock,
		random:           random,
		log:              log,
		allowedModes:     modes,
		embeddedCode:     cfg.EmbeddedCode,
		securityOff:      cfg.SecurityDisabled,
		confirmed:        map[string]*sessionEntry{},
		maxAttempts:      maxAttempts,
		blockFor:         blockFor,
		pairingTTL:       pairingTTL,
		sessionTTL:       sessionTTL,
		accessTokenTTL:   accessTokenTTL,
	}
}

func (m *securityManager) AllowedPairingModes() []constants.PairingMode {
	out := make([]constants.PairingMode, 0, len(m.allowedModes))
	for mode := range m.allowedModes {
		out = append(out, mode)
	}
	return out
}

func (m *securityManager) AllowedCryptoTypes() []constants.CryptoType {
	types := []constants.CryptoType{constants.CryptoTypeSpakeP224}
	if m.securityOff {
		types = append(types, constants.CryptoTypeNone)
	}
	return types
}

func (m *securityManager) CreateAccessToken(user models.UserInfo, issuedAt time.Time) []byte {
	return m.auth.CreateAccessToken(user, issuedAt)
}

// ParseAccessToken validates the token's HMAC via C2, rejects it if
// older than the configured TTL, then consults C1 before returning
// success, matching spec.md §2's data flow ("an access token issued by
// C2 and checked against C1"). The token carries no app-id of its own,
// so the check uses an empty app-id, matching only user-scoped or
// wildcard revocation entries.
func (m *securityManager) ParseAccessToken(token []byte) (models.UserInfo, time.Time, error) {
	user, issuedAt, err := m.auth.ParseAccessToken(token)
	if err != nil {
		return models.UserInfo{}, time.Time{}, err
	}
	if m.clock.Now().Sub(issuedAt) > m.accessTokenTTL {
		return models.UserInfo{}, time.Time{}, errors.New(errors.InvalidAuthCode, "access token expired")
	}
	if m.revocation != nil && m.revocation.IsBlocked(userIDBytes(user.UserID), nil, issuedAt) {
		return models.UserInfo{}, time.Time{}, errors.New(errors.AccessDenied, "credential revoked")
	}
	return user, issuedAt, nil
}

func userIDBytes(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// StartPairing implements spec.md §4.4's admission -> mode/crypto check ->
// code selection -> exchanger construction -> single-pending-session
// replacement -> GUID assignment -> scheduling flow.
func (m *securityManager) StartPairing(mode constants.PairingMode, crypto constants.CryptoType) (string, []byte, error) {
	if err := m.checkPairingAllowed(); err != nil {
		return "", nil, err
	}

	if !m.allowedModes[mode] {
		return "", nil, errors.New(errors.InvalidParams, "pairing mode is not enabled")
	}
	if !m.cryptoSupported(crypto) {
		return "", nil, errors.New(errors.InvalidParams, "unsupported crypto")
	}

	var code []byte
	switch mode {
	case constants.PairingModeEmbeddedCode:
		if len(m.embeddedCode) == 0 {
			return "", nil, errors.New(errors.InvalidParams, "no embedded code configured")
		}
		code = m.embeddedCode
	case constants.PairingModePinCode:
		code = []byte(randomPin(m.random))
	default:
		return "", nil, errors.New(errors.InvalidParams, "unsupported pairing mode")
	}

	exchanger, err := m.exchangerFactory(crypto, code)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.InvalidParams, "constructing key exchanger")
	}

	// Only one pending session at a time (spec.md §3, Design Notes §9).
	m.closePending()

	id := m.newSessionID()
	commitment := exchanger.Message()

	entry := &sessionEntry{
		session: &models.PairingSession{
			ID:        id,
			Mode:      mode,
			Crypto:    crypto,
			Exchanger: exchanger,
			State:     models.PairingPending,
			Deadline:  m.clock.Now().Add(m.pairingTTL),
		},
	}
	m.pending = entry
	entry.cancel = m.runner.PostDelayedTask(m.pairingTTL, func() { m.expirePending(id) })

	m.log.Info("pairing code issued",
		logger.String("session_id", id),
		logger.Any("code", logger.Redactable{Value: string(code), DevelopmentReveal: true}))

	return id, commitment, nil
}

// ConfirmPairing implements spec.md §4.4's confirm_pairing.
func (m *securityManager) ConfirmPairing(sessionID string, clientCommitment []byte) ([]byte, []byte, error) {
	if m.pending == nil || m.pending.session.ID != sessionID {
		return nil, nil, errors.Newf(errors.UnknownSession, "unknown session id: %q", sessionID)
	}
	entry := m.pending

	if err := entry.session.Exchanger.Process(clientCommitment); err != nil {
		m.closePending()
		return nil, nil, errors.Wrap(err, errors.CommitmentMismatch, "pairing code or crypto implementation mismatch")
	}

	key := entry.session.Exchanger.Key()
	fingerprint := m.auth.CertificateFingerprint()
	signature := hmacSHA256(key, fingerprint)

	entry.session.State = models.PairingConfirmed
	entry.session.Deadline = m.clock.Now().Add(m.sessionTTL)
	if entry.cancel != nil {
		entry.cancel.Cancel()
	}
	entry.cancel = m.runner.PostDelayedTask(m.sessionTTL, func() { m.expireConfirmed(sessionID) })

	m.confirmed[sessionID] = entry
	m.pending = nil

	return fingerprint, signature, nil
}

// CancelPairing implements spec.md §4.4's cancel_pairing: at most one of
// {pending, confirmed} holds a session with this id.
func (m *securityManager) CancelPairing(sessionID string) error {
	confirmedClosed := m.closeConfirmed(sessionID)
	pendingClosed := false
	if m.pending != nil && m.pending.session.ID == sessionID {
		m.closePending()
		pendingClosed = true
		if m.attempts > 0 {
			m.attempts--
		}
	}
	if confirmedClosed && pendingClosed {
		m.log.Error("pairing session was both pending and confirmed", nil, logger.String("session_id", sessionID))
	}
	if !confirmedClosed && !pendingClosed {
		return errors.Newf(errors.UnknownSession, "unknown session id: %q", sessionID)
	}
	return nil
}

// IsValidPairingCode implements spec.md §4.4's is_valid_pairing_code.
func (m *securityManager) IsValidPairingCode(authCode []byte) bool {
	if m.securityOff {
		return true
	}
	for id, entry := range m.confirmed {
		expected := hmacSHA256(entry.session.Exchanger.Key(), []byte(id))
		if hmac.Equal(authCode, expected) {
			m.attempts = 0
			m.blockUntil = time.Time{}
			return true
		}
	}
	m.log.Warn("attempt to authenticate with invalid pairing code")
	return false
}

func (m *securityManager) checkPairingAllowed() error {
	now := m.clock.Now()
	if m.blockUntil.After(now) {
		return errors.New(errors.DeviceBusy, "too many pairing attempts")
	}
	m.attempts++
	if m.attempts >= m.maxAttempts {
		m.blockUntil = now.Add(m.blockFor)
	}
	return nil
}

func (m *securityManager) cryptoSupported(t constants.CryptoType) bool {
	for _, s := range m.AllowedCryptoTypes() {
		if s == t {
			return true
		}
	}
	return false
}

func (m *securityManager) closePending() bool {
	if m.pending == nil {
		return false
	}
	if m.pending.cancel != nil {
		m.pending.cancel.Cancel()
	}
	m.pending = nil
	return true
}

func (m *securityManager) closeConfirmed(id string) bool {
	entry, ok := m.confirmed[id]
	if !ok {
		return false
	}
	if entry.cancel != nil {
		entry.cancel.Cancel()
	}
	delete(m.confirmed, id)
	return true
}

// expirePending is the delayed task fired at pairing TTL; it is
// idempotent because a cancelled or already-closed session id is simply
// absent (Design Notes §9's "cancellable token").
func (m *securityManager) expirePending(id string) {
	if m.pending != nil && m.pending.session.ID == id {
		m.pending = nil
	}
}

func (m *securityManager) expireConfirmed(id string) {
	delete(m.confirmed, id)
}

func (m *securityManager) newSessionID() string {
	for {
		id := uuid.NewString()
		if m.pending != nil && m.pending.session.ID == id {
			continue
		}
		if _, exists := m.confirmed[id]; exists {
			continue
		}
		return id
	}
}

func randomPin(random repository.RandomSource) string {
	n := random.Intn(10000)
	digits := [4]byte{}
	for i := 3; i >= 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return string(digits[:])
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

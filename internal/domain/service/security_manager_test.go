package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeweave/devicecore/internal/domain/models"
	devcrypto "github.com/edgeweave/devicecore/internal/infrastructure/crypto"
	"github.com/edgeweave/devicecore/internal/infrastructure/clock"
	"github.com/edgeweave/devicecore/internal/infrastructure/memstore"
	"github.com/edgeweave/devicecore/internal/infrastructure/randsource"
	"github.com/edgeweave/devicecore/internal/infrastructure/taskrunner"
	"github.com/edgeweave/devicecore/pkg/constants"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

func newTestSecurityManager(t *testing.T, cfg SecurityManagerConfig) (SecurityManager, RevocationStore, *taskrunner.Runner) {
	t.Helper()
	runner := taskrunner.New()
	t.Cleanup(runner.Stop)

	store := memstore.New()
	fakeClock := clock.NewFake(time.Unix(1700000000, 0))
	revocation := NewRevocationStore(store, fakeClock, 10, logger.Noop())

	auth := NewAuthManager([]byte("0123456789abcdef0123456789abcdef"), []byte("fingerprint"))

	factory := func(crypto constants.CryptoType, code []byte) (models.KeyExchanger, error) {
		return devcrypto.NewUnsecureExchanger(code), nil
	}

	if cfg.AllowedModes == nil {
		cfg.AllowedModes = []constants.PairingMode{constants.PairingModeEmbeddedCode}
	}
	if len(cfg.EmbeddedCode) == 0 {
		cfg.EmbeddedCode = []byte("1234")
	}
	cfg.SecurityDisabled = true // so "none" crypto is accepted by the unsecure exchanger path

	mgr := NewSecurityManager(auth, revocation, factory, runner, fakeClock, randsource.New(), logger.Noop(), cfg)
	return mgr, revocation, runner
}

func TestSecurityManager_PairingHappyPath(t *testing.T) {
	mgr, _, _ := newTestSecurityManager(t, SecurityManagerConfig{})

	sessionID, commitment, err := mgr.StartPairing(constants.PairingModeEmbeddedCode, constants.CryptoTypeNone)
	require.NoError(t, err)
	assert.NotEmpty(t, sessionID)
	assert.Equal(t, []byte("1234"), commitment)

	fingerprint, signature, err := mgr.ConfirmPairing(sessionID, []byte("1234"))
	require.NoError(t, err)
	assert.Equal(t, []byte("fingerprint"), fingerprint)
	assert.NotEmpty(t, signature)

	// The auth code a paired client presents to authenticate() is an
	// HMAC over the session id with the exchanged key, not the
	// confirm-pairing signature (which instead proves the device's
	// identity to the client over the fingerprint).
	mac := hmac.New(sha256.New, []byte("1234"))
	mac.Write([]byte(sessionID))
	authCode := mac.Sum(nil)

	assert.True(t, mgr.IsValidPairingCode(authCode))

	user := models.UserInfo{Scope: models.ScopeOwner, UserID: 1}
	token := mgr.CreateAccessToken(user, time.Unix(1700000000, 0))
	gotUser, _, err := mgr.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, gotUser)
}

func TestSecurityManager_ConfirmUnknownSession(t *testing.T) {
	mgr, _, _ := newTestSecurityManager(t, SecurityManagerConfig{})
	_, _, err := mgr.ConfirmPairing("does-not-exist", []byte("x"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.UnknownSession))
}

func TestSecurityManager_CancelPendingDecrementsAttempts(t *testing.T) {
	mgr, _, _ := newTestSecurityManager(t, SecurityManagerConfig{MaxAttempts: 5})

	sessionID, _, err := mgr.StartPairing(constants.PairingModeEmbeddedCode, constants.CryptoTypeNone)
	require.NoError(t, err)

	require.NoError(t, mgr.CancelPairing(sessionID))

	// Starting again should succeed since the cancelled attempt was
	// decremented rather than counting permanently toward the throttle.
	_, _, err = mgr.StartPairing(constants.PairingModeEmbeddedCode, constants.CryptoTypeNone)
	require.NoError(t, err)
}

func TestSecurityManager_TooManyAttemptsBlocksDevice(t *testing.T) {
	mgr, _, _ := newTestSecurityManager(t, SecurityManagerConfig{MaxAttempts: 2, BlockDuration: time.Hour})

	_, _, err := mgr.StartPairing(constants.PairingModeEmbeddedCode, constants.CryptoTypeNone)
	require.NoError(t, err)
	_, _, err = mgr.StartPairing(constants.PairingModeEmbeddedCode, constants.CryptoTypeNone)
	require.NoError(t, err)

	_, _, err = mgr.StartPairing(constants.PairingModeEmbeddedCode, constants.CryptoTypeNone)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.DeviceBusy))
}

func TestSecurityManager_ParseAccessTokenRejectsRevokedUser(t *testing.T) {
	mgr, revocation, _ := newTestSecurityManager(t, SecurityManagerConfig{})

	user := models.UserInfo{Scope: models.ScopeOwner, UserID: 99}
	issuedAt := time.Unix(1700000000, 0)
	token := mgr.CreateAccessToken(user, issuedAt)

	_, _, err := mgr.ParseAccessToken(token)
	require.NoError(t, err)

	userIDBuf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		userIDBuf[7-i] = byte(user.UserID >> (8 * i))
	}
	require.NoError(t, revocation.Block(context.Background(), models.RevocationEntry{
		UserID:         userIDBuf,
		RevocationTime: issuedAt.Add(time.Minute),
		ExpirationTime: issuedAt.Add(time.Hour),
	}, nil))

	_, _, err = mgr.ParseAccessToken(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.AccessDenied))
}

func TestSecurityManager_ParseAccessTokenRejectsStaleToken(t *testing.T) {
	mgr, _, _ := newTestSecurityManager(t, SecurityManagerConfig{AccessTokenTTL: time.Hour})

	user := models.UserInfo{Scope: models.ScopeOwner, UserID: 1}
	issuedAt := time.Unix(1700000000, 0).Add(-2 * time.Hour)
	token := mgr.CreateAccessToken(user, issuedAt)

	_, _, err := mgr.ParseAccessToken(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InvalidAuthCode))
}

func TestSecurityManager_AllowedCryptoTypesIncludesNoneOnlyWhenDisabled(t *testing.T) {
	mgr, _, _ := newTestSecurityManager(t, SecurityManagerConfig{})
	types := mgr.AllowedCryptoTypes()
	assert.Contains(t, types, constants.CryptoTypeSpakeP224)
	assert.Contains(t, types, constants.CryptoTypeNone)

	enabled := NewSecurityManager(NewAuthManager([]byte("0123456789abcdef0123456789abcdef"), []byte("fingerprint")),
		nil, nil, nil, clock.NewFake(time.Unix(1700000000, 0)), randsource.New(), logger.Noop(), SecurityManagerConfig{})
	enabledTypes := enabled.AllowedCryptoTypes()
	assert.Contains(t, enabledTypes, constants.CryptoTypeSpakeP224)
	assert.NotContains(t, enabledTypes, constants.CryptoTypeNone)
}

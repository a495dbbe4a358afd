package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/pkg/errors"
)

func TestAuthManager_TokenRoundTrip(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	auth := NewAuthManager(secret, []byte("fingerprint"))

	user := models.UserInfo{Scope: models.ScopeManager, UserID: 42}
	issuedAt := time.Unix(1700000000, 0).UTC()

	token := auth.CreateAccessToken(user, issuedAt)
	assert.Len(t, token, models.TokenTotalSize)

	got, gotIssuedAt, err := auth.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, got)
	assert.True(t, issuedAt.Equal(gotIssuedAt))
}

func TestAuthManager_RejectsTamperedSignature(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	auth := NewAuthManager(secret, nil)

	token := auth.CreateAccessToken(models.UserInfo{Scope: models.ScopeUser, UserID: 7}, time.Unix(1700000000, 0))
	token[0] ^= 0xFF

	_, _, err := auth.ParseAccessToken(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InvalidAuthCode))
}

func TestAuthManager_RejectsTamperedTail(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	auth := NewAuthManager(secret, nil)

	token := auth.CreateAccessToken(models.UserInfo{Scope: models.ScopeUser, UserID: 7}, time.Unix(1700000000, 0))
	token[len(token)-1] ^= 0xFF

	_, _, err := auth.ParseAccessToken(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InvalidAuthCode))
}

func TestAuthManager_RejectsWrongLength(t *testing.T) {
	auth := NewAuthManager([]byte("secret"), nil)
	_, _, err := auth.ParseAccessToken([]byte("too short"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.InvalidAuthCode))
}

func TestAuthManager_CertificateFingerprint(t *testing.T) {
	auth := NewAuthManager([]byte("secret"), []byte("fp-bytes"))
	assert.Equal(t, []byte("fp-bytes"), auth.CertificateFingerprint())
}

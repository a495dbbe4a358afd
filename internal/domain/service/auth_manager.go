package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"time"

	"github.com/edgeweave/devicecore/internal/domain/models"
	"github.com/edgeweave/devicecore/pkg/errors"
)

// authManager implements C2: HMAC-SHA256 access token issuance and
// validation over the device's long-term auth secret, plus custody of
// its TLS certificate fingerprint (surfaced during pairing).
type authManager struct {
	authSecret  []byte // 32 bytes
	certFinger  []byte // opaque, surfaced during pairing
}

// NewAuthManager constructs C2 from the device's long-term secrets.
// authSecret must be 32 bytes; callers obtain it from a
// repository.SecretProvider.
func NewAuthManager(authSecret, certFingerprint []byte) AuthManager {
	return &authManager{authSecret: authSecret, certFinger: certFingerprint}
}

func (m *authManager) CertificateFingerprint() []byte { return m.certFinger }

// CreateAccessToken lays out HMAC(auth_secret, tail) || tail where tail
// is scope || user-id(LE64) || issue-time(LE64) (spec.md §3, §4.2).
func (m *authManager) CreateAccessToken(user models.UserInfo, issuedAt time.Time) []byte {
	tail := models.EncodeTokenTail(user, issuedAt)
	mac := hmac.New(sha256.New, m.authSecret)
	mac.Write(tail)
	sig := mac.Sum(nil)
	token := make([]byte, 0, len(sig)+len(tail))
	token = append(token, sig...)
	token = append(token, tail...)
	return token
}

// ParseAccessToken recomputes the HMAC over the tail and rejects on
// length or signature mismatch.
func (m *authManager) ParseAccessToken(token []byte) (models.UserInfo, time.Time, error) {
	if len(token) != models.TokenTotalSize {
		return models.UserInfo{}, time.Time{}, errors.New(errors.InvalidAuthCode, "malformed access token length")
	}
	sig, tail := token[:models.HMACSize], token[models.HMACSize:]
	mac := hmac.New(sha256.New, m.authSecret)
	mac.Write(tail)
	expected := mac.Sum(nil)
	if !hmac.Equal(sig, expected) {
		return models.UserInfo{}, time.Time{}, errors.New(errors.InvalidAuthCode, "access token signature mismatch")
	}
	user, issuedAt, ok := models.DecodeTokenTail(tail)
	if !ok {
		return models.UserInfo{}, time.Time{}, errors.New(errors.InvalidAuthCode, "malformed access token tail")
	}
	return user, issuedAt, nil
}

// Package vaultsecrets implements devicecore's repository.SecretProvider
// over HashiCorp Vault's KV engine, grounded on the teacher's
// internal/infrastructure/kms VaultProvider (same vault.Client,
// Logical().Read/Write pattern), trimmed from RSA key custody down to
// the two opaque secrets the core needs: the pairing auth_secret and the
// device's TLS certificate fingerprint.
package vaultsecrets

import (
	"context"
	"encoding/base64"
	"fmt"

	vault "github.com/hashicorp/vault/api"

	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// Config locates the secrets within Vault's KV v2 mount.
type Config struct {
	MountPath  string // e.g. "secret"
	SecretPath string // e.g. "devicecore/<device-id>"
}

// Provider is the production repository.SecretProvider.
type Provider struct {
	client *vault.Client
	cfg    Config
	log    logger.Logger
}

// New wraps an already-authenticated *vault.Client.
func New(client *vault.Client, cfg Config, log logger.Logger) *Provider {
	return &Provider{client: client, cfg: cfg, log: log}
}

func (p *Provider) path() string {
	return fmt.Sprintf("%s/data/%s", p.cfg.MountPath, p.cfg.SecretPath)
}

func (p *Provider) read(field string) ([]byte, error) {
	secret, err := p.client.Logical().Read(p.path())
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "reading vault secret")
	}
	if secret == nil || secret.Data["data"] == nil {
		return nil, errors.Newf(errors.NetworkError, "secret not found at %s", p.path())
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, errors.Newf(errors.NetworkError, "malformed vault secret at %s", p.path())
	}
	encoded, ok := data[field].(string)
	if !ok {
		return nil, errors.Newf(errors.NetworkError, "field %q missing at %s", field, p.path())
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "decoding vault secret field")
	}
	return raw, nil
}

// AuthSecret returns the device's long-term pairing secret.
func (p *Provider) AuthSecret(ctx context.Context) ([]byte, error) {
	return p.read("auth_secret")
}

// CertificateFingerprint returns the device's TLS certificate fingerprint.
func (p *Provider) CertificateFingerprint(ctx context.Context) ([]byte, error) {
	return p.read("certificate_fingerprint")
}

// Put writes both secrets in one call, used by provisioning tooling
// rather than the core itself.
func (p *Provider) Put(ctx context.Context, authSecret, certFingerprint []byte) error {
	_, err := p.client.Logical().Write(p.path(), map[string]interface{}{
		"data": map[string]interface{}{
			"auth_secret":             base64.StdEncoding.EncodeToString(authSecret),
			"certificate_fingerprint": base64.StdEncoding.EncodeToString(certFingerprint),
		},
	})
	if err != nil {
		p.log.Error("writing vault secret failed", err)
		return errors.Wrap(err, errors.NetworkError, "writing vault secret")
	}
	return nil
}

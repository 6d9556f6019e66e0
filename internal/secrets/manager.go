package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"formauth-service/internal/config"
	"formauth-service/internal/util"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

var ErrSecretUnavailable = errors.New("ticket secret unavailable")

// Manager resolves the ticket-signing secret. In production the secret
// is stored as KMS ciphertext and decrypted once at startup; in
// development a static (or generated) secret is used.
type Manager struct {
	kmsClient *kms.Client
	config    *config.Config

	mu     sync.Mutex
	cached []byte
}

func NewManager(cfg *config.Config, kmsClient *kms.Client) *Manager {
	return &Manager{
		kmsClient: kmsClient,
		config:    cfg,
	}
}

// TicketSecret returns the signing secret, decrypting it through KMS
// when enabled. The result is cached for the process lifetime.
func (m *Manager) TicketSecret(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cached != nil {
		return m.cached, nil
	}

	secret, err := m.resolveSecret(ctx)
	if err != nil {
		return nil, err
	}

	m.cached = secret
	return secret, nil
}

func (m *Manager) resolveSecret(ctx context.Context) ([]byte, error) {
	if m.config.KMS.Enabled {
		if m.kmsClient == nil {
			return nil, fmt.Errorf("%w: KMS enabled but client not initialized", ErrSecretUnavailable)
		}

		ciphertext, err := base64.StdEncoding.DecodeString(m.config.KMS.EncryptedTicketSecret)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ciphertext encoding", ErrSecretUnavailable)
		}

		input := &kms.DecryptInput{CiphertextBlob: ciphertext}
		if m.config.KMS.KeyID != "" {
			input.KeyId = aws.String(m.config.KMS.KeyID)
		}
		result, err := m.kmsClient.Decrypt(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%w: KMS decrypt failed: %v", ErrSecretUnavailable, err)
		}

		util.Info("Ticket secret decrypted via KMS",
			util.String("key_id", m.config.KMS.KeyID),
		)
		return result.Plaintext, nil
	}

	if m.config.Ticket.Secret != "" {
		return []byte(m.config.Ticket.Secret), nil
	}

	if m.config.IsProduction() {
		return nil, fmt.Errorf("%w: no secret configured in production", ErrSecretUnavailable)
	}

	// Development fallback. Tickets stop verifying across restarts.
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}
	util.Warn("No ticket secret configured - generated an ephemeral one")
	return secret, nil
}

// ClearCache drops the cached secret.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cached = nil
}

package config

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/hashicorp/vault/api"
)

// KeyProvider retrieves the audit field-encryption key. The key is fetched
// once at startup; rotation means restarting with a new key alongside the
// old ciphertexts' stored nonces.
type KeyProvider interface {
	// EncryptionKey returns the 32-byte field-encryption key
	EncryptionKey() ([]byte, error)
}

// NewKeyProvider builds the provider selected by cfg.KeySource
func NewKeyProvider(cfg *AuditConfig) (KeyProvider, error) {
	switch cfg.KeySource {
	case "vault":
		return NewVaultKeyProvider(cfg)
	case "aws":
		return NewAWSKeyProvider(cfg)
	default:
		return &EnvKeyProvider{}, nil
	}
}

// EnvKeyProvider reads the key from ARGUS_AUDIT_KEY (base64, 32 bytes)
type EnvKeyProvider struct{}

// EncryptionKey implements KeyProvider
func (e *EnvKeyProvider) EncryptionKey() ([]byte, error) {
	raw := os.Getenv("ARGUS_AUDIT_KEY")
	if raw == "" {
		return nil, fmt.Errorf("environment variable ARGUS_AUDIT_KEY not set")
	}
	return decodeKey(raw)
}

// VaultKeyProvider retrieves the key from HashiCorp Vault
type VaultKeyProvider struct {
	client *api.Client
	path   string
}

// NewVaultKeyProvider creates a Vault-backed key provider
func NewVaultKeyProvider(cfg *AuditConfig) (*VaultKeyProvider, error) {
	client, err := api.NewClient(&api.Config{
		Address: cfg.Vault.Address,
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	token := cfg.Vault.Token
	if token == "" {
		token = os.Getenv("VAULT_TOKEN")
	}
	if token != "" {
		client.SetToken(token)
	}

	path := cfg.Vault.Path
	if path == "" {
		path = "secret/argus"
	}

	return &VaultKeyProvider{client: client, path: path}, nil
}

// EncryptionKey implements KeyProvider
func (v *VaultKeyProvider) EncryptionKey() ([]byte, error) {
	secret, err := v.client.Logical().Read(v.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret found at Vault path %s", v.path)
	}

	data := secret.Data
	// KV v2 nests the payload under "data"
	if nested, ok := secret.Data["data"].(map[string]interface{}); ok {
		data = nested
	}

	raw, ok := data["audit_key"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("audit_key not found at Vault path %s", v.path)
	}
	return decodeKey(raw)
}

// AWSKeyProvider retrieves the key from AWS Secrets Manager
type AWSKeyProvider struct {
	client   *secretsmanager.SecretsManager
	secretID string
}

// NewAWSKeyProvider creates a Secrets Manager backed key provider
func NewAWSKeyProvider(cfg *AuditConfig) (*AWSKeyProvider, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(cfg.AWS.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &AWSKeyProvider{
		client:   secretsmanager.New(sess),
		secretID: cfg.AWS.SecretID,
	}, nil
}

// EncryptionKey implements KeyProvider
func (a *AWSKeyProvider) EncryptionKey() ([]byte, error) {
	out, err := a.client.GetSecretValue(&secretsmanager.GetSecretValueInput{
		SecretId: aws.String(a.secretID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret from AWS: %w", err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", a.secretID)
	}

	// The secret may be a bare key or a JSON object with an audit_key field
	raw := *out.SecretString
	var payload map[string]string
	if err := json.Unmarshal([]byte(raw), &payload); err == nil {
		if v, ok := payload["audit_key"]; ok {
			raw = v
		}
	}
	return decodeKey(raw)
}

func decodeKey(raw string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// StaticKeyProvider wraps a fixed key. For tests and embedding callers that
// manage key material themselves.
type StaticKeyProvider struct {
	Key []byte
}

// EncryptionKey implements KeyProvider
func (s *StaticKeyProvider) EncryptionKey() ([]byte, error) {
	if len(s.Key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(s.Key))
	}
	return s.Key, nil
}

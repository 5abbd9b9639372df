// Package kms seals small blobs (guard shares, cached records) before they
// reach Secure Storage. Signing keys never pass through here.
package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"
)

// Provider encrypts and decrypts opaque blobs
type Provider interface {
	Encrypt(ctx context.Context, data []byte) ([]byte, error)
	Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error)

	// Name returns "local", "aws-kms" or "vault"
	Name() string
}

// ProviderType is a supported backend
type ProviderType string

const (
	ProviderLocal  ProviderType = "local"
	ProviderAWSKMS ProviderType = "aws-kms"
	ProviderVault  ProviderType = "vault"
)

// Config selects and configures a provider
type Config struct {
	Provider string

	// local
	LocalMasterKeyHex string

	// aws-kms
	AWSKMSKeyID  string
	AWSKMSRegion string

	// vault
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// LocalProvider seals with AES-256-GCM under a master key held in process.
// Suitable for development and single-device deployments.
type LocalProvider struct {
	aead cipher.AEAD
}

// NewLocalProvider creates a provider from a hex-encoded 32-byte master key
func NewLocalProvider(masterKeyHex string) (*LocalProvider, error) {
	if masterKeyHex == "" {
		return nil, fmt.Errorf("master key is required for local KMS provider")
	}

	masterKey, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("master key must be hex encoded: %w", err)
	}
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}

	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &LocalProvider{aead: gcm}, nil
}

// Encrypt seals data; the random nonce is prepended to the ciphertext
func (p *LocalProvider) Encrypt(_ context.Context, data []byte) ([]byte, error) {
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data sealed by Encrypt
func (p *LocalProvider) Decrypt(_ context.Context, encryptedData []byte) ([]byte, error) {
	nonceSize := p.aead.NonceSize()
	if len(encryptedData) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := encryptedData[:nonceSize], encryptedData[nonceSize:]
	plaintext, err := p.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (p *LocalProvider) Name() string {
	return string(ProviderLocal)
}

// kmsAPI is the subset of the AWS KMS client the provider calls
type kmsAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// AWSProvider seals with an AWS KMS symmetric key
type AWSProvider struct {
	keyID  string
	client kmsAPI
}

// NewAWSProvider loads the default AWS credential chain for region
func NewAWSProvider(ctx context.Context, keyID, region string) (*AWSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSProvider{keyID: keyID, client: kms.NewFromConfig(cfg)}, nil
}

func (p *AWSProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	out, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(p.keyID),
		Plaintext: data,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return out.CiphertextBlob, nil
}

func (p *AWSProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(p.keyID),
		CiphertextBlob: encryptedData,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return out.Plaintext, nil
}

func (p *AWSProvider) Name() string {
	return string(ProviderAWSKMS)
}

// VaultProvider seals with the HashiCorp Vault Transit engine
type VaultProvider struct {
	transitKey string
	client     *vault.Client
}

// NewVaultProvider creates a Vault Transit provider
func NewVaultProvider(address, token, transitKey string) (*VaultProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultProvider{transitKey: transitKey, client: client}, nil
}

func (p *VaultProvider) Encrypt(ctx context.Context, data []byte) ([]byte, error) {
	secret, err := p.client.Logical().WriteWithContext(ctx, "transit/encrypt/"+p.transitKey, map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit encrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit encrypt: ciphertext not found in response")
	}
	// vault:v1:... string
	return []byte(ciphertext), nil
}

func (p *VaultProvider) Decrypt(ctx context.Context, encryptedData []byte) ([]byte, error) {
	secret, err := p.client.Logical().WriteWithContext(ctx, "transit/decrypt/"+p.transitKey, map[string]interface{}{
		"ciphertext": string(encryptedData),
	})
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt failed: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("vault transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("vault transit decrypt: plaintext not found in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("vault transit decrypt: failed to decode plaintext: %w", err)
	}
	return plaintext, nil
}

func (p *VaultProvider) Name() string {
	return string(ProviderVault)
}

// New creates the provider named by cfg.Provider; empty means local
func New(ctx context.Context, cfg Config) (Provider, error) {
	switch ProviderType(cfg.Provider) {
	case ProviderLocal, "":
		return NewLocalProvider(cfg.LocalMasterKeyHex)
	case ProviderAWSKMS:
		return NewAWSProvider(ctx, cfg.AWSKMSKeyID, cfg.AWSKMSRegion)
	case ProviderVault:
		return NewVaultProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)
	default:
		return nil, fmt.Errorf("unsupported KMS provider: %s (supported: %s, %s, %s)",
			cfg.Provider, ProviderLocal, ProviderAWSKMS, ProviderVault)
	}
}

var (
	_ Provider = (*LocalProvider)(nil)
	_ Provider = (*AWSProvider)(nil)
	_ Provider = (*VaultProvider)(nil)
)

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/better-wallet/wallet-core/internal/kms"
)

// Config holds process configuration, loaded from the environment
type Config struct {
	// Server
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int

	// Secure storage
	StorageBackend string // memory, postgres or redis
	PostgresDSN    string
	RedisURL       string

	// At-rest sealing; empty KMSProvider stores values unsealed
	KMSProvider        string
	KMSLocalMasterKey  string
	KMSAWSKeyID        string
	KMSAWSRegion       string
	KMSVaultAddress    string
	KMSVaultToken      string
	KMSVaultTransitKey string

	// Transaction preparation and submission
	BackendURL          string
	BackendToken        string
	BackendTimeout      time.Duration
	SubmissionMode      string // backend or algod
	AlgodURL            string
	AlgodToken          string
	SubmissionTimeout   time.Duration
	IdempotencyPatterns []string
	RequiredAssetIDs    []uint64

	// Biometric gate
	BiometricEnabled           bool
	BiometricBridgeURL         string
	BiometricDebounce          time.Duration
	BiometricCooldown          time.Duration
	BiometricFailIfUnsupported bool

	// Identity
	OIDCAudience string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	assetIDs, err := getEnvUint64List("REQUIRED_ASSET_IDS")
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		Port:           getEnvInt("PORT", 8080),
		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),

		StorageBackend: getEnv("STORAGE_BACKEND", "memory"),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		RedisURL:       getEnv("REDIS_URL", ""),

		KMSProvider:        getEnv("KMS_PROVIDER", ""),
		KMSLocalMasterKey:  getEnv("KMS_LOCAL_MASTER_KEY", ""),
		KMSAWSKeyID:        getEnv("KMS_AWS_KEY_ID", ""),
		KMSAWSRegion:       getEnv("KMS_AWS_REGION", ""),
		KMSVaultAddress:    getEnv("KMS_VAULT_ADDRESS", ""),
		KMSVaultToken:      getEnv("KMS_VAULT_TOKEN", ""),
		KMSVaultTransitKey: getEnv("KMS_VAULT_TRANSIT_KEY", ""),

		BackendURL:          getEnv("BACKEND_URL", ""),
		BackendToken:        getEnv("BACKEND_TOKEN", ""),
		BackendTimeout:      getEnvDuration("BACKEND_TIMEOUT", 15*time.Second),
		SubmissionMode:      getEnv("SUBMISSION_MODE", "backend"),
		AlgodURL:            getEnv("ALGOD_URL", ""),
		AlgodToken:          getEnv("ALGOD_TOKEN", ""),
		SubmissionTimeout:   getEnvDuration("SUBMISSION_TIMEOUT", 20*time.Second),
		IdempotencyPatterns: getEnvList("IDEMPOTENCY_PATTERNS"),
		RequiredAssetIDs:    assetIDs,

		BiometricEnabled:           getEnvBool("BIOMETRIC_ENABLED", true),
		BiometricBridgeURL:         getEnv("BIOMETRIC_BRIDGE_URL", ""),
		BiometricDebounce:          getEnvDuration("BIOMETRIC_DEBOUNCE", 1500*time.Millisecond),
		BiometricCooldown:          getEnvDuration("BIOMETRIC_COOLDOWN", 10*time.Second),
		BiometricFailIfUnsupported: getEnvBool("BIOMETRIC_FAIL_IF_UNSUPPORTED", false),

		OIDCAudience: getEnv("OIDC_AUDIENCE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got: %d", c.Port)
	}

	switch c.StorageBackend {
	case "memory":
	case "postgres":
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required when STORAGE_BACKEND is 'postgres'")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when STORAGE_BACKEND is 'redis'")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be 'memory', 'postgres' or 'redis', got: %s", c.StorageBackend)
	}

	switch kms.ProviderType(c.KMSProvider) {
	case "":
	case kms.ProviderLocal:
		if c.KMSLocalMasterKey == "" {
			return fmt.Errorf("KMS_LOCAL_MASTER_KEY is required when KMS_PROVIDER is 'local'")
		}
	case kms.ProviderAWSKMS:
		if c.KMSAWSKeyID == "" {
			return fmt.Errorf("KMS_AWS_KEY_ID is required when KMS_PROVIDER is 'aws-kms'")
		}
	case kms.ProviderVault:
		if c.KMSVaultAddress == "" || c.KMSVaultToken == "" || c.KMSVaultTransitKey == "" {
			return fmt.Errorf("KMS_VAULT_ADDRESS, KMS_VAULT_TOKEN and KMS_VAULT_TRANSIT_KEY are required when KMS_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("KMS_PROVIDER must be 'local', 'aws-kms' or 'vault', got: %s", c.KMSProvider)
	}

	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}

	switch c.SubmissionMode {
	case "backend":
	case "algod":
		if c.AlgodURL == "" {
			return fmt.Errorf("ALGOD_URL is required when SUBMISSION_MODE is 'algod'")
		}
	default:
		return fmt.Errorf("SUBMISSION_MODE must be 'backend' or 'algod', got: %s", c.SubmissionMode)
	}

	if c.SubmissionTimeout <= 0 {
		return fmt.Errorf("SUBMISSION_TIMEOUT must be positive")
	}

	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}

	return nil
}

// KMSConfig returns the sealing provider configuration
func (c *Config) KMSConfig() kms.Config {
	return kms.Config{
		Provider:          c.KMSProvider,
		LocalMasterKeyHex: c.KMSLocalMasterKey,
		AWSKMSKeyID:       c.KMSAWSKeyID,
		AWSKMSRegion:      c.KMSAWSRegion,
		VaultAddress:      c.KMSVaultAddress,
		VaultToken:        c.KMSVaultToken,
		VaultTransitKey:   c.KMSVaultTransitKey,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	valueStr = strings.ToLower(valueStr)
	return valueStr == "true" || valueStr == "1" || valueStr == "yes"
}

// getEnvDuration accepts Go durations ("20s") or plain seconds ("20")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvUint64List(key string) ([]uint64, error) {
	items := getEnvList(key)
	out := make([]uint64, 0, len(items))
	for _, item := range items {
		id, err := strconv.ParseUint(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an asset id", key, item)
		}
		out = append(out, id)
	}
	return out, nil
}

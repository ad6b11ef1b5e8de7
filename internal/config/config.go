package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"wallet-migrator/internal/models"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	LogLevel    string
	MaxRetries  int
	RetryDelay  time.Duration
	HTTP        HTTPConfig
	Kafka       KafkaConfig
	Database    DatabaseConfig
	Backend     BackendConfig
	Rates       RatesConfig
	Wallet      WalletConfig
	Server      ServerConfig
	Archive     ArchiveConfig
	Attestation AttestationConfig
	Networks    map[models.NetworkName]NetworkConfig
	// EnabledNetworks restricts the registry; empty means all networks.
	EnabledNetworks []models.NetworkName
}

// HTTPConfig holds HTTP client configuration
type HTTPConfig struct {
	Timeout time.Duration
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled       bool
	BrokerAddress string
	Topic         string
	BatchSize     int
	BatchTimeout  time.Duration
	// EmitTimeout bounds best-effort tracking writes.
	EmitTimeout time.Duration
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// BackendConfig holds the migration backend client configuration
type BackendConfig struct {
	BaseURL     string
	AccessToken string
	UserID      string
	// StatusTTL is how long a fetched migration status is reused.
	StatusTTL time.Duration
}

// RatesConfig holds the exchange rate lookup configuration
type RatesConfig struct {
	BaseURL string
	ApiKey  string
	Timeout time.Duration
}

// WalletConfig holds the smart wallet configuration used by the migrator
type WalletConfig struct {
	OwnerPrivateKey   string
	LegacyAddress     string
	EntryPointAddress string
	ReceiptPoll       time.Duration
	// ReceiptTimeout bounds the wait for one user operation to be included.
	ReceiptTimeout time.Duration
}

// ServerConfig holds the reference backend configuration
type ServerConfig struct {
	Port         string
	ServiceToken string
	// NoncePurgeInterval controls the spent-attestation cleanup job.
	NoncePurgeInterval time.Duration
}

// ArchiveConfig holds S3-compatible archive configuration
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// AttestationConfig holds identity link attestation settings
type AttestationConfig struct {
	NonceBucket time.Duration
}

// NetworkConfig holds configuration for each network
type NetworkConfig struct {
	RpcEndpoint     string
	ApiKey          string
	RateLimit       float64
	BundlerURL      string
	PaymasterURL    string
	ExplorerBaseURL string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// .env is optional, env vars might be set externally
	_ = godotenv.Load()

	config := &Config{
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		MaxRetries: getEnvAsInt("MAX_RETRIES", 3),
		RetryDelay: time.Duration(getEnvAsInt("RETRY_DELAY", 2)) * time.Second,
		HTTP: HTTPConfig{
			Timeout: time.Duration(getEnvAsInt("HTTP_TIMEOUT", 30)) * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			BrokerAddress: getEnv("KAFKA_BROKER_ADDRESS", "localhost:9092"),
			Topic:         getEnv("KAFKA_TOPIC", "wallet-migration-events"),
			BatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 10),
			BatchTimeout:  time.Duration(getEnvAsInt("KAFKA_BATCH_TIMEOUT_MS", 100)) * time.Millisecond,
			EmitTimeout:   time.Duration(getEnvAsInt("KAFKA_EMIT_TIMEOUT_MS", 2000)) * time.Millisecond,
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "wallet_migration"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Backend: BackendConfig{
			BaseURL:     getEnv("BACKEND_BASE_URL", "http://localhost:5300"),
			AccessToken: getEnv("BACKEND_ACCESS_TOKEN", ""),
			UserID:      getEnv("BACKEND_USER_ID", ""),
			StatusTTL:   time.Duration(getEnvAsInt("MIGRATION_STATUS_TTL", 30)) * time.Second,
		},
		Rates: RatesConfig{
			BaseURL: getEnv("RATES_BASE_URL", "https://open.er-api.com/v6"),
			ApiKey:  getEnv("RATES_API_KEY", ""),
			Timeout: time.Duration(getEnvAsInt("RATES_TIMEOUT", 5)) * time.Second,
		},
		Wallet: WalletConfig{
			OwnerPrivateKey:   getEnv("WALLET_OWNER_PRIVATE_KEY", ""),
			LegacyAddress:     getEnv("WALLET_LEGACY_ADDRESS", ""),
			EntryPointAddress: getEnv("WALLET_ENTRYPOINT_ADDRESS", "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"),
			ReceiptPoll:       time.Duration(getEnvAsInt("WALLET_RECEIPT_POLL", 3)) * time.Second,
			ReceiptTimeout:    time.Duration(getEnvAsInt("WALLET_RECEIPT_TIMEOUT", 300)) * time.Second,
		},
		Server: ServerConfig{
			Port:               getEnv("SERVER_PORT", "5300"),
			ServiceToken:       getEnv("SERVER_SERVICE_TOKEN", ""),
			NoncePurgeInterval: time.Duration(getEnvAsInt("NONCE_PURGE_INTERVAL", 60)) * time.Second,
		},
		Archive: ArchiveConfig{
			Enabled:         getEnvAsBool("ARCHIVE_ENABLED", false),
			Bucket:          getEnv("ARCHIVE_BUCKET", ""),
			Endpoint:        getEnv("ARCHIVE_ENDPOINT", ""),
			Region:          getEnv("ARCHIVE_REGION", "auto"),
			AccessKeyID:     getEnv("ARCHIVE_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("ARCHIVE_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnv("ARCHIVE_PREFIX", "deprecations"),
		},
		Attestation: AttestationConfig{
			NonceBucket: time.Duration(getEnvAsInt("ATTESTATION_NONCE_BUCKET", 300)) * time.Second,
		},
		Networks: make(map[models.NetworkName]NetworkConfig),
	}

	for _, name := range getEnvAsList("ENABLED_NETWORKS") {
		config.EnabledNetworks = append(config.EnabledNetworks, models.NetworkName(name))
	}

	for _, name := range models.AllNetworks {
		config.Networks[name] = loadNetworkConfig(name)
	}

	return config, nil
}

// loadNetworkConfig reads <NETWORK>_* variables for one network
func loadNetworkConfig(name models.NetworkName) NetworkConfig {
	prefix := strings.ToUpper(name.String())
	return NetworkConfig{
		RpcEndpoint:     getEnv(prefix+"_RPC_ENDPOINT", ""),
		ApiKey:          getEnv(prefix+"_API_KEY", ""),
		RateLimit:       getEnvAsFloat(prefix+"_RATE_LIMIT", 10),
		BundlerURL:      getEnv(prefix+"_BUNDLER_URL", ""),
		PaymasterURL:    getEnv(prefix+"_PAYMASTER_URL", ""),
		ExplorerBaseURL: getEnv(prefix+"_EXPLORER_BASE_URL", ""),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable
func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

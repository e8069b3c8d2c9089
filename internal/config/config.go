package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	PayPal   PayPalConfig   `json:"paypal"`
	Chain    ChainConfig    `json:"chain"`
	Admin    AdminConfig    `json:"admin"`
	Email    EmailConfig    `json:"email"`
	Presale  PresaleConfig  `json:"presale"`
	Log      LogConfig      `json:"log"`
}

// ServerConfig contains server related configurations
type ServerConfig struct {
	Port      int    `json:"port"`
	AppOrigin string `json:"app_origin"` // public origin used to build claim URLs
}

// DatabaseConfig contains database related configurations.
// Driver "postgres" uses the sqlx store; "sqlite" uses the small-deployment
// file-backed store with the same upsert/idempotency contract.
type DatabaseConfig struct {
	Driver     string `json:"driver"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	User       string `json:"user"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	SQLitePath string `json:"sqlite_path"`
}

// PayPalConfig contains payment processor credentials. ClientID, ClientSecret
// and WebhookID must all be set for the webhook route to be enabled.
type PayPalConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	WebhookID    string `json:"webhook_id"`
	Mode         string `json:"mode"`     // "live" or "sandbox"
	APIBase      string `json:"api_base"` // override for tests; derived from Mode when empty
}

// Configured reports whether all processor credentials are present.
func (c PayPalConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.WebhookID != ""
}

// BaseURL returns the processor API origin for the configured mode.
func (c PayPalConfig) BaseURL() string {
	if c.APIBase != "" {
		return strings.TrimSuffix(c.APIBase, "/")
	}
	if c.Mode == "live" {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

// ChainConfig contains Ethereum related configurations.
type ChainConfig struct {
	RPCURL          string `json:"rpc_url"`
	ChainID         int64  `json:"chain_id"`
	AdminPrivateKey string `json:"admin_private_key"`
	PresaleContract string `json:"presale_contract"`
	TokenAddress    string `json:"token_address"`  // explicit override; read from presale contract when empty
	TokenDecimals   int    `json:"token_decimals"` // explicit fallback when on-chain decimals read fails; 0 = fail closed
	Confirmations   uint64 `json:"confirmations"`
	ExplorerAPIURL  string `json:"explorer_api_url"`
	ExplorerAPIKey  string `json:"explorer_api_key"`
	SyncIntervalSec int    `json:"sync_interval_sec"`

	// AutoDeliverOnChain enables server-side token delivery for on-chain
	// purchases. Leave off when the presale contract transfers tokens in
	// buy() itself, or every on-chain buyer gets paid twice.
	AutoDeliverOnChain bool `json:"auto_deliver_onchain"`
}

// DeliveryConfigured reports whether the operator signing credentials needed
// for token delivery are present.
func (c ChainConfig) DeliveryConfigured() bool {
	return c.RPCURL != "" && c.AdminPrivateKey != ""
}

// SyncInterval returns the observer polling interval.
func (c ChainConfig) SyncInterval() time.Duration {
	if c.SyncIntervalSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.SyncIntervalSec) * time.Second
}

// AdminConfig contains admin surface authentication configurations.
type AdminConfig struct {
	Wallets            []string `json:"wallets"` // allow-listed addresses
	JWTSecret          string   `json:"jwt_secret"`
	SessionMinutes     int      `json:"session_minutes"`
	LoginWindowMinutes int      `json:"login_window_minutes"`
}

// EmailConfig contains email service configurations
type EmailConfig struct {
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`
	FromEmail    string `json:"from_email"`
}

// Configured reports whether outbound email is usable.
func (c EmailConfig) Configured() bool {
	return c.SMTPHost != "" && c.FromEmail != ""
}

// StageConfig is one pricing stage as configured.
type StageConfig struct {
	ID            int             `json:"id"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	Allocation    int64           `json:"allocation"`
}

// PresaleConfig contains the stage table and contribution limits.
type PresaleConfig struct {
	TokenSymbol     string          `json:"token_symbol"`
	MinContribution decimal.Decimal `json:"min_contribution_eth"`
	MaxContribution decimal.Decimal `json:"max_contribution_eth"`
	EthQuoteRate    decimal.Decimal `json:"eth_quote_rate"` // fiat units per ETH, for fiat intake quotes
	ClaimTTLMinutes int             `json:"claim_ttl_minutes"`
	Stages          []StageConfig   `json:"stages"`
}

// LogConfig contains logging configurations.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func defaultStages() []StageConfig {
	return []StageConfig{
		{
			ID:            1,
			Start:         time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC),
			End:           time.Date(2025, 11, 30, 23, 59, 59, 0, time.UTC),
			PricePerToken: mustDecimal("0.0000005"),
			Allocation:    30_000_000,
		},
		{
			ID:            2,
			Start:         time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			End:           time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			PricePerToken: mustDecimal("0.0000006"),
			Allocation:    30_000_000,
		},
		{
			ID:            3,
			Start:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			End:           time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC),
			PricePerToken: mustDecimal("0.0000007"),
			Allocation:    20_000_000,
		},
		{
			ID:            4,
			Start:         time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			End:           time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC),
			PricePerToken: mustDecimal("0.0000008"),
			Allocation:    20_000_000,
		},
	}
}

// Load loads the configuration from file and environment
func Load() (*Config, error) {
	// Default config
	cfg := &Config{
		Server: ServerConfig{
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:     "postgres",
			Host:       "localhost",
			Port:       5432,
			Name:       "presale",
			SQLitePath: "./presale.db",
		},
		PayPal: PayPalConfig{
			Mode: "sandbox",
		},
		Chain: ChainConfig{
			ChainID:         8453, // Base mainnet
			PresaleContract: "0xF479063E290E85e1470a11821128392F6063790B",
			Confirmations:   1,
			SyncIntervalSec: 60,
		},
		Admin: AdminConfig{
			SessionMinutes:     30,
			LoginWindowMinutes: 5,
		},
		Email: EmailConfig{
			SMTPPort: 587,
		},
		Presale: PresaleConfig{
			TokenSymbol:     "BBUX",
			MinContribution: mustDecimal("0.0005"),
			MaxContribution: mustDecimal("0.25"),
			EthQuoteRate:    mustDecimal("4200"),
			ClaimTTLMinutes: 60,
			Stages:          defaultStages(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	// Look for config file
	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = filepath.Join("configs", "config.json")
	}

	// Try to load config from file
	if _, err := os.Stat(configFile); err == nil {
		file, err := os.Open(configFile)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, err
		}
	}

	// Override with environment variables if present
	if port := os.Getenv("SERVER_PORT"); port != "" {
		var serverPort int
		if _, err := fmt.Sscanf(port, "%d", &serverPort); err == nil {
			cfg.Server.Port = serverPort
		}
	}
	if origin := os.Getenv("APP_ORIGIN"); origin != "" {
		cfg.Server.AppOrigin = origin
	}

	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		cfg.Database.Driver = driver
	}
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.Database.Host = dbHost
	}
	if dbPort := os.Getenv("DB_PORT"); dbPort != "" {
		var databasePort int
		if _, err := fmt.Sscanf(dbPort, "%d", &databasePort); err == nil {
			cfg.Database.Port = databasePort
		}
	}
	if dbUser := os.Getenv("DB_USER"); dbUser != "" {
		cfg.Database.User = dbUser
	}
	if dbPass := os.Getenv("DB_PASSWORD"); dbPass != "" {
		cfg.Database.Password = dbPass
	}
	if dbName := os.Getenv("DB_NAME"); dbName != "" {
		cfg.Database.Name = dbName
	}
	if dbPath := os.Getenv("SQLITE_PATH"); dbPath != "" {
		cfg.Database.SQLitePath = dbPath
	}

	if id := os.Getenv("PAYPAL_CLIENT_ID"); id != "" {
		cfg.PayPal.ClientID = id
	}
	if secret := os.Getenv("PAYPAL_CLIENT_SECRET"); secret != "" {
		cfg.PayPal.ClientSecret = secret
	}
	if webhookID := os.Getenv("PAYPAL_WEBHOOK_ID"); webhookID != "" {
		cfg.PayPal.WebhookID = webhookID
	}
	if mode := os.Getenv("PAYPAL_MODE"); mode != "" {
		cfg.PayPal.Mode = mode
	}

	if rpc := os.Getenv("ETHEREUM_RPC_URL"); rpc != "" {
		cfg.Chain.RPCURL = rpc
	}
	if key := os.Getenv("ADMIN_PRIVATE_KEY"); key != "" {
		cfg.Chain.AdminPrivateKey = key
	}
	if addr := os.Getenv("TOKEN_ADDRESS"); addr != "" {
		cfg.Chain.TokenAddress = addr
	}
	if addr := os.Getenv("PRESALE_CONTRACT"); addr != "" {
		cfg.Chain.PresaleContract = addr
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		var id int64
		if _, err := fmt.Sscanf(chainID, "%d", &id); err == nil {
			cfg.Chain.ChainID = id
		}
	}
	if dec := os.Getenv("TOKEN_DECIMALS"); dec != "" {
		var d int
		if _, err := fmt.Sscanf(dec, "%d", &d); err == nil {
			cfg.Chain.TokenDecimals = d
		}
	}
	if v := os.Getenv("AUTO_DELIVER_ONCHAIN"); v != "" {
		cfg.Chain.AutoDeliverOnChain = v == "true" || v == "1"
	}
	if url := os.Getenv("EXPLORER_API_URL"); url != "" {
		cfg.Chain.ExplorerAPIURL = url
	}
	if key := os.Getenv("EXPLORER_API_KEY"); key != "" {
		cfg.Chain.ExplorerAPIKey = key
	}

	if wallets := os.Getenv("ADMIN_WALLETS"); wallets != "" {
		cfg.Admin.Wallets = nil
		for _, w := range strings.Split(wallets, ",") {
			if w = strings.TrimSpace(w); w != "" {
				cfg.Admin.Wallets = append(cfg.Admin.Wallets, w)
			}
		}
	}

	if smtpHost := os.Getenv("SMTP_HOST"); smtpHost != "" {
		cfg.Email.SMTPHost = smtpHost
	}
	if smtpPort := os.Getenv("SMTP_PORT"); smtpPort != "" {
		var emailPort int
		if _, err := fmt.Sscanf(smtpPort, "%d", &emailPort); err == nil {
			cfg.Email.SMTPPort = emailPort
		}
	}
	if smtpUser := os.Getenv("SMTP_USER"); smtpUser != "" {
		cfg.Email.SMTPUser = smtpUser
	}
	if smtpPass := os.Getenv("SMTP_PASSWORD"); smtpPass != "" {
		cfg.Email.SMTPPassword = smtpPass
	}
	if fromEmail := os.Getenv("FROM_EMAIL"); fromEmail != "" {
		cfg.Email.FromEmail = fromEmail
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		cfg.Admin.JWTSecret = jwtSecret
	} else if cfg.Admin.JWTSecret == "" {
		// Generate a random JWT secret if not provided
		randomBytes := make([]byte, 32)
		if _, err := rand.Read(randomBytes); err != nil {
			return nil, err
		}
		cfg.Admin.JWTSecret = base64.StdEncoding.EncodeToString(randomBytes)
	}

	return cfg, nil
}

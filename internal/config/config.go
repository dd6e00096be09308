// Package config provides configuration management functionality.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/aristath/radar/internal/domain"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // Base directory for all databases, always absolute
	Port     int
	DevMode  bool
	LogLevel string

	// Scan settings
	ScanSchedule string   // cron spec for the scan job
	ScanWorkers  int
	Watchlist    []string // card IDs to scan

	// Recipient roster and derived customs regimes
	Recipients []domain.RecipientProfile
	Regimes    map[string]domain.CustomsRegime // recipient ID -> regime, resolved once at load

	// Marketplace endpoints (empty = production defaults)
	CardmarketBaseURL string
	TCGPlayerBaseURL  string

	// Audit archive (disabled when Bucket is empty)
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// ArchiveEnabled reports whether audit archiving to object storage is on.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables and the recipient
// roster file.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RADAR_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:           absDataDir,
		Port:              getEnvAsInt("RADAR_PORT", 8080),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		ScanSchedule:      getEnv("SCAN_SCHEDULE", "*/30 * * * *"),
		ScanWorkers:       getEnvAsInt("SCAN_WORKERS", 8),
		Watchlist:         splitList(getEnv("WATCHLIST", "")),
		CardmarketBaseURL: getEnv("CARDMARKET_BASE_URL", ""),
		TCGPlayerBaseURL:  getEnv("TCGPLAYER_BASE_URL", ""),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
	}

	rosterPath := getEnv("RECIPIENTS_FILE", filepath.Join(absDataDir, "recipients.json"))
	recipients, err := LoadRecipients(rosterPath)
	if err != nil {
		return nil, err
	}
	cfg.Recipients = recipients

	// The customs regime depends only on the destination country, so it
	// is resolved here once. The pipeline receives it as a value.
	cfg.Regimes = make(map[string]domain.CustomsRegime, len(recipients))
	for _, p := range recipients {
		cfg.Regimes[p.ID] = RegimeForCountry(p.Country)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present.
func (c *Config) Validate() error {
	if len(c.Recipients) == 0 {
		return fmt.Errorf("no recipients configured")
	}
	seen := make(map[string]bool, len(c.Recipients))
	for _, p := range c.Recipients {
		if p.ID == "" {
			return fmt.Errorf("recipient with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate recipient id %s", p.ID)
		}
		seen[p.ID] = true
		if p.FeeSchedule.Name == "" {
			return fmt.Errorf("recipient %s has no fee schedule", p.ID)
		}
	}
	if c.ArchiveEnabled() && (c.S3AccessKey == "" || c.S3SecretKey == "") {
		return fmt.Errorf("S3 bucket configured without credentials")
	}
	return nil
}

// RegimeForCountry maps a destination country to its customs regime.
// US imports ride the de-minimis exemption; EU destinations pay VAT plus
// a flat per-item handling charge regardless of value.
func RegimeForCountry(country string) domain.CustomsRegime {
	if strings.EqualFold(country, "US") {
		return domain.RegimeDeMinimis
	}
	return domain.RegimeFlatDuty
}

// recipientDTO is the JSON shape of one roster entry.
type recipientDTO struct {
	ID                 string   `json:"id"`
	Country            string   `json:"country"`
	FeeSchedule        string   `json:"fee_schedule"`
	Currency           string   `json:"currency"`
	MinProfit          float64  `json:"min_profit"`
	MinHeadache        float64  `json:"min_headache"`
	Categories         []string `json:"categories"`
	PriorityTier       int      `json:"priority_tier"`
	PriorityScore      float64  `json:"priority_score"`
	StrictMetadata     bool     `json:"strict_metadata"`
	UseForwarder       bool     `json:"use_forwarder"`
	ForwarderReceiving *float64 `json:"forwarder_receiving,omitempty"`
	ForwarderConsolid  *float64 `json:"forwarder_consolidation,omitempty"`
	InsuranceRate      *float64 `json:"insurance_rate,omitempty"`
	InsuranceEnabled   bool     `json:"insurance_enabled"`
}

// Forwarder and insurance defaults applied when the roster entry leaves
// them unset.
var (
	defaultForwarderReceiving = decimal.RequireFromString("3.50")
	defaultForwarderConsolid  = decimal.RequireFromString("7.50")
	defaultInsuranceRate      = decimal.RequireFromString("0.025")
)

func decimalOrDefault(v *float64, def decimal.Decimal) decimal.Decimal {
	if v == nil {
		return def
	}
	return decimal.NewFromFloat(*v)
}

// LoadRecipients reads the roster file.
func LoadRecipients(path string) ([]domain.RecipientProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipients file %s: %w", path, err)
	}

	var dtos []recipientDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("failed to parse recipients file %s: %w", path, err)
	}

	profiles := make([]domain.RecipientProfile, 0, len(dtos))
	for _, dto := range dtos {
		schedule, err := domain.FeeScheduleByName(dto.FeeSchedule)
		if err != nil {
			return nil, fmt.Errorf("recipient %s: %w", dto.ID, err)
		}

		currency := dto.Currency
		if currency == "" {
			currency = "USD"
		}
		tier := dto.PriorityTier
		if tier == 0 {
			tier = 1
		}

		profiles = append(profiles, domain.RecipientProfile{
			ID:                 dto.ID,
			Country:            dto.Country,
			FeeSchedule:        schedule,
			Currency:           currency,
			MinProfit:          decimal.NewFromFloat(dto.MinProfit),
			MinHeadache:        decimal.NewFromFloat(dto.MinHeadache),
			Categories:         dto.Categories,
			PriorityTier:       tier,
			PriorityScore:      decimal.NewFromFloat(dto.PriorityScore),
			StrictMetadata:     dto.StrictMetadata,
			UseForwarder:       dto.UseForwarder,
			ForwarderReceiving: decimalOrDefault(dto.ForwarderReceiving, defaultForwarderReceiving),
			ForwarderConsolid:  decimalOrDefault(dto.ForwarderConsolid, defaultForwarderConsolid),
			InsuranceRate:      decimalOrDefault(dto.InsuranceRate, defaultInsuranceRate),
			InsuranceEnabled:   dto.InsuranceEnabled,
		})
	}
	return profiles, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

package brokerage

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	fsm "github.com/goliatone/go-fsm"
	"github.com/goliatone/go-fsm/logging"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "BROKERAGE_"

// Settings is the explicit configuration injected into guards and hooks.
type Settings struct {
	Mail          MailSettings        `yaml:"mail" envPrefix:"MAIL_"`
	Mandates      MandateSettings     `yaml:"mandates" envPrefix:"MANDATE_"`
	Offers        OfferSettings       `yaml:"offers" envPrefix:"OFFER_"`
	Opportunities OpportunitySettings `yaml:"opportunities" envPrefix:"OPPORTUNITY_"`
	Logging       logging.Config      `yaml:"logging" envPrefix:"LOG_"`
}

// MailSettings configures the transactional mail listener.
type MailSettings struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	ServerToken  string `yaml:"server_token" env:"SERVER_TOKEN"`
	AccountToken string `yaml:"account_token" env:"ACCOUNT_TOKEN"`
	Sender       string `yaml:"sender" env:"SENDER"`
	ReplyTo      string `yaml:"reply_to" env:"REPLY_TO"`
}

// MandateSettings holds mandate rules.
type MandateSettings struct {
	// RequireSignature blocks finishing a mandate without a signature.
	RequireSignature bool `yaml:"require_signature" env:"REQUIRE_SIGNATURE"`
	// CascadeInquiries makes accept and revoke propagate to inquiries.
	CascadeInquiries bool `yaml:"cascade_inquiries" env:"CASCADE_INQUIRIES"`
}

// OfferSettings holds offer rules.
type OfferSettings struct {
	MinOptions     int    `yaml:"min_options" env:"MIN_OPTIONS"`
	ValidityDays   int    `yaml:"validity_days" env:"VALIDITY_DAYS"`
	ExpirySchedule string `yaml:"expiry_schedule" env:"EXPIRY_SCHEDULE"`
}

// OpportunitySettings holds opportunity rules.
type OpportunitySettings struct {
	RequireAdmin bool `yaml:"require_admin" env:"REQUIRE_ADMIN"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Mail: MailSettings{
			Sender: "service@broker.example",
		},
		Mandates: MandateSettings{
			RequireSignature: true,
			CascadeInquiries: true,
		},
		Offers: OfferSettings{
			MinOptions:     1,
			ValidityDays:   30,
			ExpirySchedule: "@hourly",
		},
		Opportunities: OpportunitySettings{
			RequireAdmin: true,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadSettings reads path (optional) over the defaults, then applies
// BROKERAGE_* environment overrides. A .env file in the working directory
// is loaded first when present.
func LoadSettings(path string) (Settings, error) {
	_ = godotenv.Load()

	cfg := DefaultSettings()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read settings %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Settings{}, fsm.ConfigError("", fmt.Sprintf("parse settings %s: %v", path, err))
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Settings{}, fsm.ConfigError("", fmt.Sprintf("settings environment: %v", err))
	}
	return cfg, cfg.Validate()
}

// Validate checks internal consistency.
func (s Settings) Validate() error {
	if s.Offers.MinOptions < 0 {
		return fsm.ConfigError("", "offers.min_options must not be negative")
	}
	if s.Offers.ValidityDays <= 0 {
		return fsm.ConfigError("", "offers.validity_days must be positive")
	}
	if s.Mail.Enabled && (s.Mail.ServerToken == "" || s.Mail.Sender == "") {
		return fsm.ConfigError("", "mail.server_token and mail.sender are required when mail is enabled")
	}
	return nil
}

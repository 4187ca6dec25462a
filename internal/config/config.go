// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/inboxd/omnichannel-backend/internal/model"
)

// Config is read from the environment once at startup. DB_* variables are
// consumed by the db package directly.
type Config struct {
	Addr     string // HTTP listen address
	Store    string // "postgres" or "memory"
	QueueURL string // AMQP URL, empty means in-memory queue
	SeedFile string // optional YAML seed of accounts/credentials/rules
}

func Load() Config {
	return Config{
		Addr:     getenv("ADDR", ":8080"),
		Store:    getenv("STORE", "postgres"),
		QueueURL: os.Getenv("AMQP_URL"),
		SeedFile: os.Getenv("SEED_FILE"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Seed is bootstrap data loaded from a YAML file: channel accounts with
// their credentials, plus automation rules.
type Seed struct {
	Accounts    []SeedAccount          `yaml:"accounts"`
	Credentials []SeedCredential       `yaml:"credentials"`
	Rules       []model.AutomationRule `yaml:"rules"`
}

type SeedAccount struct {
	ID            string `yaml:"id"`
	TenantID      string `yaml:"tenant_id"`
	ChannelType   string `yaml:"channel_type"`
	Provider      string `yaml:"provider"`
	ExternalID    string `yaml:"external_id"`
	DisplayName   string `yaml:"display_name"`
	SenderID      string `yaml:"sender_id"`
	EmailAddress  string `yaml:"email_address"`
	CredentialID  string `yaml:"credential_id"`
	VerifyToken   string `yaml:"verify_token"`
	WebhookSecret string `yaml:"webhook_secret"`
	DailyLimit    int    `yaml:"daily_limit"`
}

type SeedCredential struct {
	ID           string `yaml:"id"`
	TenantID     string `yaml:"tenant_id"`
	Provider     string `yaml:"provider"`
	AuthType     string `yaml:"auth_type"`
	APIKey       string `yaml:"api_key"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	OAuthTenant  string `yaml:"oauth_tenant"`
	TokenURL     string `yaml:"token_url"`
	Scope        string `yaml:"scope"`
	RefreshToken string `yaml:"refresh_token"`
}

// LoadSeed parses the YAML seed file at path.
func LoadSeed(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &s, nil
}

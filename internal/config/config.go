// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TRUSTCENTER"

// Config is the full runtime configuration.
type Config struct {
	Env           string
	HTTPAddr      string
	GRPCAddr      string
	PGDSN         string
	AuthSecret    string
	AdminTokenTTL time.Duration
	PublicBaseURL string
	CORSOrigins   []string
	// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For is honoured.
	TrustedProxies []string
	DemoMode       bool
	DemoBulkLimit  int

	RateLimitBurst  int
	RateLimitPerSec int
	MaxBodyBytes    int64

	Log        LogConfig
	Email      EmailConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Salesforce SalesforceConfig
}

type LogConfig struct {
	Level string
	File  string
}

type EmailConfig struct {
	Provider       string
	From           string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
	ResendAPIKey   string
	SendGridAPIKey string
}

type StorageConfig struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	BasePath  string
	LocalDir  string
	LinkTTL   time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SalesforceConfig struct {
	ClientID           string
	ClientSecret       string
	RedirectURL        string
	AuthURL            string
	TokenURL           string
	APIVersion         string
	SyncSchedule       string
	TokenEncryptionKey string
}

// Production reports whether the service runs in a production configuration.
func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

// SalesforceEnabled reports whether the CRM sync can be used.
func (c Config) SalesforceEnabled() bool {
	return c.Salesforce.ClientID != "" && c.Salesforce.ClientSecret != "" && c.Salesforce.TokenEncryptionKey != ""
}

// Load reads an optional .env file and then the TRUSTCENTER_* environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("admin_token_ttl", "12h")
	v.SetDefault("public_base_url", "http://localhost:3000")
	v.SetDefault("cors_origin", "http://localhost:3000")
	v.SetDefault("demo_mode", false)
	v.SetDefault("demo_bulk_limit", 10)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("rate_limit_per_sec", 5)
	v.SetDefault("max_body_bytes", 32<<20)
	v.SetDefault("log_level", "info")
	v.SetDefault("email_provider", "log")
	v.SetDefault("email_from", "Trust Center <trust@localhost>")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("storage_provider", "local")
	v.SetDefault("storage_local_dir", "./data/documents")
	v.SetDefault("storage_link_ttl", "5m")
	v.SetDefault("storage_use_ssl", true)
	v.SetDefault("salesforce_auth_url", "https://login.salesforce.com/services/oauth2/authorize")
	v.SetDefault("salesforce_token_url", "https://login.salesforce.com/services/oauth2/token")
	v.SetDefault("salesforce_api_version", "v59.0")
	return v
}

// FromViper maps viper keys onto Config and validates the result.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:             v.GetString("env"),
		HTTPAddr:        v.GetString("http_addr"),
		GRPCAddr:        v.GetString("grpc_addr"),
		PGDSN:           v.GetString("pg_dsn"),
		AuthSecret:      v.GetString("auth_secret"),
		AdminTokenTTL:   v.GetDuration("admin_token_ttl"),
		PublicBaseURL:   strings.TrimRight(v.GetString("public_base_url"), "/"),
		CORSOrigins:     splitList(v.GetString("cors_origin")),
		TrustedProxies:  splitList(v.GetString("trusted_proxies")),
		DemoMode:        v.GetBool("demo_mode"),
		DemoBulkLimit:   v.GetInt("demo_bulk_limit"),
		RateLimitBurst:  v.GetInt("rate_limit_burst"),
		RateLimitPerSec: v.GetInt("rate_limit_per_sec"),
		MaxBodyBytes:    v.GetInt64("max_body_bytes"),
		Log: LogConfig{
			Level: v.GetString("log_level"),
			File:  v.GetString("log_file"),
		},
		Email: EmailConfig{
			Provider:       strings.ToLower(v.GetString("email_provider")),
			From:           v.GetString("email_from"),
			SMTPHost:       v.GetString("smtp_host"),
			SMTPPort:       v.GetInt("smtp_port"),
			SMTPUsername:   v.GetString("smtp_username"),
			SMTPPassword:   v.GetString("smtp_password"),
			ResendAPIKey:   v.GetString("resend_api_key"),
			SendGridAPIKey: v.GetString("sendgrid_api_key"),
		},
		Storage: StorageConfig{
			Provider:  strings.ToLower(v.GetString("storage_provider")),
			Endpoint:  v.GetString("storage_endpoint"),
			Region:    v.GetString("storage_region"),
			Bucket:    v.GetString("storage_bucket"),
			AccessKey: v.GetString("storage_access_key"),
			SecretKey: v.GetString("storage_secret_key"),
			UseSSL:    v.GetBool("storage_use_ssl"),
			BasePath:  v.GetString("storage_base_path"),
			LocalDir:  v.GetString("storage_local_dir"),
			LinkTTL:   v.GetDuration("storage_link_ttl"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Salesforce: SalesforceConfig{
			ClientID:           v.GetString("salesforce_client_id"),
			ClientSecret:       v.GetString("salesforce_client_secret"),
			RedirectURL:        v.GetString("salesforce_redirect_url"),
			AuthURL:            v.GetString("salesforce_auth_url"),
			TokenURL:           v.GetString("salesforce_token_url"),
			APIVersion:         v.GetString("salesforce_api_version"),
			SyncSchedule:       v.GetString("salesforce_sync_schedule"),
			TokenEncryptionKey: v.GetString("token_encryption_key"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that would be unsafe to serve.
func (c Config) Validate() error {
	var problems []string
	if c.Production() {
		if c.AuthSecret == "" {
			problems = append(problems, "TRUSTCENTER_AUTH_SECRET is required in production")
		}
		if c.PGDSN == "" {
			problems = append(problems, "TRUSTCENTER_PG_DSN is required in production")
		}
		if c.Email.Provider == "log" {
			problems = append(problems, "TRUSTCENTER_EMAIL_PROVIDER must be a real provider in production")
		}
	}
	switch c.Email.Provider {
	case "log", "smtp", "resend", "sendgrid":
	default:
		problems = append(problems, fmt.Sprintf("unknown email provider %q", c.Email.Provider))
	}
	switch c.Storage.Provider {
	case "local", "s3", "minio":
	default:
		problems = append(problems, fmt.Sprintf("unknown storage provider %q", c.Storage.Provider))
	}
	if c.AdminTokenTTL <= 0 {
		problems = append(problems, "TRUSTCENTER_ADMIN_TOKEN_TTL must be positive")
	}
	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

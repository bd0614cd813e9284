package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "HERALD"

type Config struct {
	ServerPort     string          `mapstructure:"server_port"`
	DatabaseURL    string          `mapstructure:"database_url"`
	LogLevel       string          `mapstructure:"log_level"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	JWTSecret      string          `mapstructure:"jwt_secret"`
	Identity       IdentityConfig  `mapstructure:"identity"`
	Email          EmailConfig     `mapstructure:"email"`
	SMS            SMSConfig       `mapstructure:"sms"`
	Push           PushConfig      `mapstructure:"push"`
	Contacts       ContactsConfig  `mapstructure:"contacts"`
	Scheduler      SchedulerConfig `mapstructure:"scheduler"`
	Delivery       DeliveryConfig  `mapstructure:"delivery"`
	Realtime       RealtimeConfig  `mapstructure:"realtime"`
}

type IdentityConfig struct {
	ServiceURL string        `mapstructure:"service_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type EmailConfig struct {
	// Provider selects the mail transport: "smtp" or "postmark".
	Provider             string `mapstructure:"provider"`
	From                 string `mapstructure:"from"`
	SMTPHost             string `mapstructure:"smtp_host"`
	SMTPPort             int    `mapstructure:"smtp_port"`
	Username             string `mapstructure:"username"`
	Password             string `mapstructure:"password"`
	PostmarkServerToken  string `mapstructure:"postmark_server_token"`
	PostmarkAccountToken string `mapstructure:"postmark_account_token"`
}

type SMSConfig struct {
	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token"`
	From             string `mapstructure:"from"`
}

type PushConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
	BroadcastTopic  string `mapstructure:"broadcast_topic"`
}

type Contact struct {
	Email string `mapstructure:"email"`
	Phone string `mapstructure:"phone"`
}

// ContactsConfig maps recipients to mail and phone addresses. Fallback is
// used when a user or role has no entry.
type ContactsConfig struct {
	Users    map[string]Contact   `mapstructure:"users"`
	Roles    map[string][]Contact `mapstructure:"roles"`
	Fallback Contact              `mapstructure:"fallback"`
}

type SchedulerConfig struct {
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	ExpireInterval   time.Duration `mapstructure:"expire_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	RunOnStart       bool          `mapstructure:"run_on_start"`
}

type DeliveryConfig struct {
	ChannelTimeout time.Duration `mapstructure:"channel_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

type RealtimeConfig struct {
	SendBuffer        int           `mapstructure:"send_buffer"`
	MessagesPerSecond float64       `mapstructure:"messages_per_second"`
	Burst             int           `mapstructure:"burst"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
}

var defaults = map[string]interface{}{
	"server_port":                  "8080",
	"database_url":                 "",
	"log_level":                    "info",
	"allowed_origins":              []string{"http://localhost:3000"},
	"jwt_secret":                   "",
	"identity.service_url":         "",
	"identity.timeout":             5 * time.Second,
	"email.provider":               "smtp",
	"email.from":                   "",
	"email.smtp_host":              "",
	"email.smtp_port":              587,
	"email.username":               "",
	"email.password":               "",
	"email.postmark_server_token":  "",
	"email.postmark_account_token": "",
	"sms.twilio_account_sid":       "",
	"sms.twilio_auth_token":        "",
	"sms.from":                     "",
	"push.enabled":                 false,
	"push.credentials_file":        "",
	"push.project_id":              "",
	"push.broadcast_topic":         "all",
	"contacts.fallback.email":      "",
	"contacts.fallback.phone":      "",
	"scheduler.dispatch_interval":  time.Minute,
	"scheduler.retry_interval":     5 * time.Minute,
	"scheduler.expire_interval":    time.Hour,
	"scheduler.batch_size":         100,
	"scheduler.run_on_start":       false,
	"delivery.channel_timeout":     10 * time.Second,
	"delivery.max_retries":         3,
	"realtime.send_buffer":         64,
	"realtime.messages_per_second": 10.0,
	"realtime.burst":               20,
	"realtime.ping_interval":       30 * time.Second,
}

// Load reads config.yaml from the working directory or ./config when
// present, then applies HERALD_* environment overrides. A .env file is
// loaded into the environment first if one exists.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Email.Provider = strings.ToLower(strings.TrimSpace(c.Email.Provider))
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
	var origins []string
	for _, origin := range c.AllowedOrigins {
		for _, part := range strings.Split(origin, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
	}
	c.AllowedOrigins = origins
}

func (c *Config) Validate() error {
	switch c.Email.Provider {
	case "", "smtp", "postmark":
	default:
		return fmt.Errorf("email.provider must be smtp or postmark, got %q", c.Email.Provider)
	}
	if c.Scheduler.DispatchInterval <= 0 || c.Scheduler.RetryInterval <= 0 || c.Scheduler.ExpireInterval <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return errors.New("scheduler.batch_size must be positive")
	}
	if c.Delivery.ChannelTimeout <= 0 {
		return errors.New("delivery.channel_timeout must be positive")
	}
	if c.Delivery.MaxRetries <= 0 {
		return errors.New("delivery.max_retries must be positive")
	}
	if c.Realtime.SendBuffer <= 0 {
		return errors.New("realtime.send_buffer must be positive")
	}
	return nil
}

// EmailEnabled reports whether enough settings exist to build a mail transport.
func (c *Config) EmailEnabled() bool {
	if strings.TrimSpace(c.Email.From) == "" {
		return false
	}
	if c.Email.Provider == "postmark" {
		return strings.TrimSpace(c.Email.PostmarkServerToken) != ""
	}
	return strings.TrimSpace(c.Email.SMTPHost) != ""
}

func (c *Config) SMSEnabled() bool {
	return c.SMS.TwilioAccountSID != "" && c.SMS.TwilioAuthToken != "" && c.SMS.From != ""
}

func (c *Config) PushEnabled() bool {
	return c.Push.Enabled && (c.Push.CredentialsFile != "" || c.Push.ProjectID != "")
}

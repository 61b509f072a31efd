// Package config loads the service configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CameronXie/payment-lifecycle/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. PAYLIFE_STORE_DRIVER.
const EnvPrefix = "PAYLIFE"

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	EngineCasbin = "casbin"
	EngineOPA    = "opa"

	EventsLog  = "log"
	EventsStan = "stan"

	redacted = "********"
)

// DefaultDevWebhookSecret is the well known secret the dev provider starts
// with. Anyone can sign webhooks with it.
const DefaultDevWebhookSecret = "whsec_dev"

// Config is the full service configuration.
type Config struct {
	Server          ServerConfig      `yaml:"server" mapstructure:"server"`
	Log             LogConfig         `yaml:"log" mapstructure:"log"`
	Store           StoreConfig       `yaml:"store" mapstructure:"store"`
	Provider        ProviderConfig    `yaml:"provider" mapstructure:"provider"`
	Reservation     ReservationConfig `yaml:"reservation" mapstructure:"reservation"`
	Authz           AuthzConfig       `yaml:"authz" mapstructure:"authz"`
	Events          EventsConfig      `yaml:"events" mapstructure:"events"`
	JWT             JWTConfig         `yaml:"jwt" mapstructure:"jwt"`
	DefaultCurrency string            `yaml:"default_currency" mapstructure:"default_currency"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
}

// StoreConfig selects the order store backend.
type StoreConfig struct {
	Driver     string         `yaml:"driver" mapstructure:"driver"`
	SQLitePath string         `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Postgres   PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"sslmode" mapstructure:"sslmode"`
}

// DSN renders the connection URL understood by pgxpool.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host,
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{c.SSLMode}}.Encode(),
	}
	return u.String()
}

// ProviderConfig configures the payment provider. A Stripe secret key selects
// the live provider, otherwise the dev provider serves every method.
type ProviderConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Stripe  StripeConfig  `yaml:"stripe" mapstructure:"stripe"`
	Dev     DevConfig     `yaml:"dev" mapstructure:"dev"`
}

type StripeConfig struct {
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
	MaxRetries    int64  `yaml:"max_retries" mapstructure:"max_retries"`
}

type DevConfig struct {
	WebhookSecret string `yaml:"webhook_secret" mapstructure:"webhook_secret"`
}

// Live reports whether the Stripe provider is configured.
func (c ProviderConfig) Live() bool {
	return strings.TrimSpace(c.Stripe.SecretKey) != ""
}

type ReservationConfig struct {
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Grace         time.Duration `yaml:"grace" mapstructure:"grace"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	SweepBatch    int           `yaml:"sweep_batch" mapstructure:"sweep_batch"`
}

// AuthzConfig selects the decision engine and the admin subjects.
type AuthzConfig struct {
	Engine     string   `yaml:"engine" mapstructure:"engine"`
	Admins     []string `yaml:"admins" mapstructure:"admins"`
	MySQLDSN   string   `yaml:"mysql_dsn" mapstructure:"mysql_dsn"`
	PolicyFile string   `yaml:"policy_file" mapstructure:"policy_file"`
}

type EventsConfig struct {
	Driver string     `yaml:"driver" mapstructure:"driver"`
	Stan   StanConfig `yaml:"stan" mapstructure:"stan"`
}

type StanConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	ClusterID string `yaml:"cluster_id" mapstructure:"cluster_id"`
	ClientID  string `yaml:"client_id" mapstructure:"client_id"`
	Subject   string `yaml:"subject" mapstructure:"subject"`
	Durable   string `yaml:"durable" mapstructure:"durable"`
}

// JWTConfig locates the RSA keys used for bearer tokens. Keys are PEM,
// either base64 encoded inline or read from a file.
type JWTConfig struct {
	PublicKey      string        `yaml:"public_key" mapstructure:"public_key"`
	PublicKeyFile  string        `yaml:"public_key_file" mapstructure:"public_key_file"`
	PrivateKey     string        `yaml:"private_key" mapstructure:"private_key"`
	PrivateKeyFile string        `yaml:"private_key_file" mapstructure:"private_key_file"`
	Issuer         string        `yaml:"issuer" mapstructure:"issuer"`
	Audience       string        `yaml:"audience" mapstructure:"audience"`
	ClockSkew      time.Duration `yaml:"clock_skew" mapstructure:"clock_skew"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Log:   LogConfig{Level: "info"},
		Store: StoreConfig{Driver: StoreMemory, SQLitePath: "paylife.db", Postgres: PostgresConfig{SSLMode: "disable"}},
		Provider: ProviderConfig{
			Timeout: 10 * time.Second,
			Stripe:  StripeConfig{MaxRetries: 2},
			Dev:     DevConfig{WebhookSecret: DefaultDevWebhookSecret},
		},
		Reservation: ReservationConfig{
			TTL:           30 * time.Minute,
			SweepInterval: time.Minute,
			SweepBatch:    100,
		},
		Authz:           AuthzConfig{Engine: EngineCasbin, Admins: []string{}},
		Events:          EventsConfig{Driver: EventsLog, Stan: StanConfig{Subject: "paylife.orders", Durable: "paylife-tail"}},
		JWT:             JWTConfig{ClockSkew: 5 * time.Minute},
		DefaultCurrency: domain.DefaultCurrency,
	}
}

// legacyEnv maps keys to the unprefixed variable names accepted for them.
var legacyEnv = map[string][]string{
	"server.port":                    {"PORT"},
	"provider.stripe.secret_key":     {"STRIPE_SECRET"},
	"provider.stripe.webhook_secret": {"STRIPE_WEBHOOK_SECRET"},
	"store.postgres.host":            {"POSTGRES_HOST"},
	"store.postgres.user":            {"POSTGRES_USER"},
	"store.postgres.password":        {"POSTGRES_PASSWORD"},
	"store.postgres.database":        {"POSTGRES_DB"},
	"store.postgres.sslmode":         {"POSTGRES_SSL"},
	"jwt.public_key":                 {"PUBLIC_KEY_BASE64"},
	"jwt.private_key":                {"PRIVATE_KEY_BASE64"},
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. Prefixed variables win over legacy ones.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, Default()); err != nil {
		return nil, err
	}

	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.DefaultCurrency = strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))

	return cfg, nil
}

// setDefaults registers every key of cfg so that AutomaticEnv can see it.
func setDefaults(v *viper.Viper, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode defaults: %w", err)
	}

	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("decode defaults: %w", err)
	}

	walk("", tree, v.SetDefault)
	return nil
}

func walk(prefix string, tree map[string]any, set func(string, any)) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			walk(key, sub, set)
			continue
		}
		set(key, val)
	}
}

// ValidationError describes one rejected setting.
type ValidationError struct {
	Key    string
	Reason string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Key, e.Reason)
}

// Validate reports every invalid setting, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(key, reason string) {
		errs = append(errs, &ValidationError{Key: key, Reason: reason})
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		invalid("server.port", "must be between 1 and 65535")
	}

	if _, err := c.SlogLevel(); err != nil {
		invalid("log.level", "must be one of debug, info, warn, error")
	}

	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.Host == "" {
			invalid("store.postgres.host", "is required for the postgres driver")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			invalid("store.sqlite_path", "is required for the sqlite driver")
		}
	default:
		invalid("store.driver", "must be one of memory, postgres, sqlite")
	}

	if c.Provider.Live() && c.Provider.Stripe.WebhookSecret == "" {
		invalid("provider.stripe.webhook_secret", "is required with a Stripe secret key")
	}
	if c.Provider.Timeout <= 0 {
		invalid("provider.timeout", "must be positive")
	}

	if c.Reservation.TTL <= 0 {
		invalid("reservation.ttl", "must be positive")
	}
	if c.Reservation.Grace < 0 {
		invalid("reservation.grace", "must not be negative")
	}
	if c.Reservation.SweepInterval <= 0 {
		invalid("reservation.sweep_interval", "must be positive")
	}

	if !slices.Contains([]string{EngineCasbin, EngineOPA}, c.Authz.Engine) {
		invalid("authz.engine", "must be one of casbin, opa")
	}

	switch c.Events.Driver {
	case EventsLog:
	case EventsStan:
		if c.Events.Stan.URL == "" || c.Events.Stan.ClusterID == "" {
			invalid("events.stan", "url and cluster_id are required for the stan driver")
		}
	default:
		invalid("events.driver", "must be one of log, stan")
	}

	if _, err := domain.NormalizeCurrency(c.DefaultCurrency); err != nil {
		invalid("default_currency", "must be a three letter ISO 4217 code")
	}

	return errors.Join(errs...)
}

// SlogLevel parses the configured log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.Log.Level))
	return level, err
}

// Redacted returns a copy with every secret masked.
func (c *Config) Redacted() *Config {
	r := *c
	r.Authz.Admins = slices.Clone(c.Authz.Admins)
	mask(&r.Store.Postgres.Password)
	mask(&r.Provider.Stripe.SecretKey)
	mask(&r.Provider.Stripe.WebhookSecret)
	mask(&r.Provider.Dev.WebhookSecret)
	mask(&r.Authz.MySQLDSN)
	mask(&r.JWT.PrivateKey)
	return &r
}

// Dump writes the redacted configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

func mask(s *string) {
	if *s != "" {
		*s = redacted
	}
}

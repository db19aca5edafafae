package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"sqlident/cmd/identity"
	authapi "sqlident/cmd/internal/auth/api"
	"sqlident/cmd/internal/auth/session"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfig is returned for invalid configuration.
var ErrConfig = errors.New("invalid config")

// EnvPrefix namespaces every environment override (SQLIDENT_DSN, ...).
const EnvPrefix = "SQLIDENT"

// Config contains all runtime configuration.
// Sources, lowest precedence first: defaults, config file, environment, flags.
type Config struct {
	Backend         string        `mapstructure:"backend" validate:"required,oneof=sqlite mysql postgres"`
	DSN             string        `mapstructure:"dsn" validate:"required_unless=Backend sqlite"`
	PoolSize        int           `mapstructure:"pool_size" validate:"min=1,max=1000"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`

	HTTPAddr          string        `mapstructure:"http_addr" validate:"required,hostname_port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" validate:"gt=0"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	ReadinessTimeout  time.Duration `mapstructure:"readiness_timeout" validate:"gt=0"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes" validate:"min=1024"`

	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json pretty"`

	HeaderName   string `mapstructure:"header_name" validate:"required,header_name"`
	TrustProxy   bool   `mapstructure:"trust_proxy"`
	DemoLogin    bool   `mapstructure:"demo_login"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" validate:"min=1"`

	TokenMaxAttempts int           `mapstructure:"token_max_attempts" validate:"min=1,max=100"`
	MaxIdle          time.Duration `mapstructure:"max_idle" validate:"gte=0"`
	PruneInterval    time.Duration `mapstructure:"prune_interval" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend", "sqlite")
	v.SetDefault("dsn", "")
	v.SetDefault("pool_size", 3)
	v.SetDefault("conn_max_lifetime", 30*time.Minute)
	v.SetDefault("auto_migrate", false)

	v.SetDefault("http_addr", "0.0.0.0:8080")
	v.SetDefault("read_header_timeout", 5*time.Second)
	v.SetDefault("read_timeout", 15*time.Second)
	v.SetDefault("write_timeout", 15*time.Second)
	v.SetDefault("idle_timeout", 60*time.Second)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("readiness_timeout", 2*time.Second)
	v.SetDefault("max_header_bytes", 1<<20)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("header_name", "X-Identity-Token")
	v.SetDefault("trust_proxy", false)
	v.SetDefault("demo_login", false)
	v.SetDefault("max_body_bytes", 1<<20)

	v.SetDefault("token_max_attempts", 5)
	v.SetDefault("max_idle", 0)
	v.SetDefault("prune_interval", 0)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig reads path (if non-empty) into v and returns the validated Config.
func LoadConfig(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrConfig, path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	// Accept aliases (sqlite3, pg, mariadb, ...) before validation.
	if b, err := identity.ParseBackend(cfg.Backend); err == nil {
		cfg.Backend = string(b)
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var headerNameRe = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

func validateConfig(cfg Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("header_name", func(fl validator.FieldLevel) bool {
		return headerNameRe.MatchString(fl.Field().String())
	})

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return nil
}

// IdentityOptions maps the storage settings onto identity.Open options.
func (c Config) IdentityOptions() identity.Options {
	return identity.Options{
		Backend:         identity.Backend(c.Backend),
		DSN:             c.DSN,
		PoolSize:        c.PoolSize,
		ConnMaxLifetime: c.ConnMaxLifetime,
	}
}

// SessionConfig maps the policy settings onto the session service.
func (c Config) SessionConfig() session.Config {
	return session.Config{
		TokenMaxAttempts: c.TokenMaxAttempts,
		MaxIdle:          c.MaxIdle,
	}
}

// AuthConfig maps the adapter settings onto the HTTP handler.
func (c Config) AuthConfig() authapi.Config {
	return authapi.Config{
		HeaderName:   c.HeaderName,
		TrustProxy:   c.TrustProxy,
		MaxBodyBytes: c.MaxBodyBytes,
		DemoLogin:    c.DemoLogin,
	}
}

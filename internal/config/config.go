package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. WORKGRAPH_DB_HOST.
const EnvPrefix = "WORKGRAPH"

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	DB            struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
		// AutoProvision registers unknown email domains as new tenants.
		AutoProvision bool `mapstructure:"auto_provision"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Server struct {
		Address         string        `mapstructure:"address"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Engine struct {
		// Store selects the graph backend: memory or postgres.
		Store string `mapstructure:"store"`
		// SoftMaturity has no default and must be set explicitly.
		SoftMaturity  *time.Duration `mapstructure:"soft_maturity"`
		SweepInterval time.Duration  `mapstructure:"sweep_interval"`
		AutoActivate  bool           `mapstructure:"auto_activate"`
	} `mapstructure:"engine"`
	Notify struct {
		SendTimeout time.Duration `mapstructure:"send_timeout"`
		MCPEnabled  bool          `mapstructure:"mcp_enabled"`
	} `mapstructure:"notify"`
	Templates struct {
		// Bundle is a YAML template bundle. Empty uses the built-in sample
		// with the memory store and the published graph with postgres.
		Bundle string `mapstructure:"bundle"`
	} `mapstructure:"templates"`
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in . and ./config; a missing file is
// not an error as long as the environment supplies what Validate needs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	// AutomaticEnv only covers keys viper already knows about.
	if config.Engine.SoftMaturity == nil && v.IsSet("engine.soft_maturity") {
		d := v.GetDuration("engine.soft_maturity")
		config.Engine.SoftMaturity = &d
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("engine.store", "memory")
	v.SetDefault("engine.sweep_interval", time.Minute)
	v.SetDefault("notify.send_timeout", 2*time.Second)
	v.SetDefault("notify.mcp_enabled", true)
	// Empty defaults register the keys so environment-only values unmarshal.
	// They must be set unconditionally: with AutomaticEnv on, IsSet is already
	// true for a key whose variable is exported.
	for _, key := range []string{
		"dev_mode_bypass", "db.host", "db.user", "db.password", "db.name",
		"auth.okta_domain", "auth.client_id", "auth.client_secret", "auth.redirect_url",
		"auth.swagger_client_id", "auth.auto_provision", "tls.enable", "tls.cert_file",
		"tls.key_file", "engine.auto_activate", "templates.bundle",
	} {
		v.SetDefault(key, "")
	}
}

// Validate reports configuration errors that would otherwise surface late.
func (c *Config) Validate() error {
	var errs []error
	switch c.Engine.Store {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Errorf("engine.store must be memory or postgres, got %q", c.Engine.Store))
	}
	if c.Engine.SoftMaturity == nil {
		errs = append(errs, errors.New("engine.soft_maturity must be set (use 0s to treat any in-progress prerequisite as mature)"))
	} else if *c.Engine.SoftMaturity < 0 {
		errs = append(errs, errors.New("engine.soft_maturity must not be negative"))
	}
	if c.Engine.SweepInterval < 0 {
		errs = append(errs, errors.New("engine.sweep_interval must not be negative"))
	}
	if c.Notify.SendTimeout <= 0 {
		errs = append(errs, errors.New("notify.send_timeout must be positive"))
	}
	if c.Engine.Store == "postgres" && c.DB.Host == "" {
		errs = append(errs, errors.New("db.host is required for the postgres store"))
	}
	return errors.Join(errs...)
}

// IsDev reports whether the DEV environment is selected.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// DatabaseURL builds the pgx connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}

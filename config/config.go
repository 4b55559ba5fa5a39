package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/assesshub/gateway"
	"github.com/assesshub/gateway/auth"
	"github.com/assesshub/gateway/telemetry"
)

// Config collects the command line flags and the optional yaml
// configuration file of the gateway. Flags win over file values.
type Config struct {
	ConfigFile string
	Flags      *flag.FlagSet

	// generic:
	Address             string        `yaml:"address"`
	SupportListener     string        `yaml:"support-listener"`
	Environment         string        `yaml:"environment"`
	PrintVersion        bool          `yaml:"version"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown-grace-period"`

	// auth:
	DisableAuth       bool   `yaml:"disable-auth"`
	TokenSecret       string `yaml:"token-secret"`
	SessionCookieName string `yaml:"session-cookie-name"`

	// downstream services:
	PrimaryAPIURL             string `yaml:"primary-api-url"`
	CredentialManagerURL      string `yaml:"credential-manager-url"`
	CredentialManagerUser     string `yaml:"credential-manager-user"`
	CredentialManagerPassword string `yaml:"credential-manager-password"`

	// forwarding:
	BackendTimeout   time.Duration `yaml:"backend-timeout"`
	IdleConnsPerHost int           `yaml:"idle-conns-per-host"`
	IdleConnTimeout  time.Duration `yaml:"idle-conn-timeout"`
	Insecure         bool          `yaml:"insecure"`

	// telemetry:
	EventsRedisAddr string `yaml:"events-redis-addr"`
	EventsChannel   string `yaml:"events-channel"`

	// logging, metrics:
	EnablePrometheusMetrics   bool      `yaml:"enable-prometheus-metrics"`
	MetricsPrefix             string    `yaml:"metrics-prefix"`
	RuntimeMetrics            bool      `yaml:"runtime-metrics"`
	AccessLogDisabled         bool      `yaml:"access-log-disabled"`
	ApplicationLogPrefix      string    `yaml:"application-log-prefix"`
	ApplicationLogLevel       log.Level `yaml:"-"`
	ApplicationLogLevelString string    `yaml:"application-log-level"`
}

const (
	defaultAddress              = ":9090"
	defaultSupportListener      = ":9911"
	defaultEnvironment          = "development"
	defaultMetricsPrefix        = "gateway."
	defaultApplicationLogPrefix = "[APP]"
	defaultApplicationLogLevel  = "INFO"
)

// NewConfig returns a Config with the flag set registered. Parse
// reads the flags (and the optional config file) into it.
func NewConfig() *Config {
	cfg := new(Config)
	flags := flag.NewFlagSet("", flag.ExitOnError)

	flags.StringVar(&cfg.ConfigFile, "config-file", "", "reads the configuration from a yaml file")

	// generic:
	flags.StringVar(&cfg.Address, "address", defaultAddress, "network address that the gateway should listen on")
	flags.StringVar(&cfg.SupportListener, "support-listener", defaultSupportListener, "network address for the support endpoints /metrics and /healthz, set empty to disable")
	flags.StringVar(&cfg.Environment, "environment", defaultEnvironment, "deployment environment name, auth bypassing is refused in production")
	flags.BoolVar(&cfg.PrintVersion, "version", false, "print the gateway version and exit")
	flags.DurationVar(&cfg.ShutdownGracePeriod, "shutdown-grace-period", gateway.DefaultShutdownGracePeriod, "time to drain in-flight requests on shutdown")

	// auth:
	flags.BoolVar(&cfg.DisableAuth, "disable-auth", false, "replace token verification with mock principals, honored outside production only")
	flags.StringVar(&cfg.TokenSecret, "token-secret", "", "HMAC key the bearer and cookie tokens are verified against")
	flags.StringVar(&cfg.SessionCookieName, "session-cookie-name", auth.DefaultCookieName, "name of the browser session cookie")

	// downstream services:
	flags.StringVar(&cfg.PrimaryAPIURL, "primary-api-url", "", "base address of the primary API service")
	flags.StringVar(&cfg.CredentialManagerURL, "credential-manager-url", "", "base address of the credential manager service")
	flags.StringVar(&cfg.CredentialManagerUser, "credential-manager-user", "", "Basic-Auth user of the credential manager service")
	flags.StringVar(&cfg.CredentialManagerPassword, "credential-manager-password", "", "Basic-Auth password of the credential manager service")

	// forwarding:
	flags.DurationVar(&cfg.BackendTimeout, "backend-timeout", 0, "deadline for buffered downstream exchanges, 0 disables it; streaming exchanges are never bounded")
	flags.IntVar(&cfg.IdleConnsPerHost, "idle-conns-per-host", 0, "maximum idle connections per downstream host")
	flags.DurationVar(&cfg.IdleConnTimeout, "idle-conn-timeout", 0, "period after which pooled idle connections are closed")
	flags.BoolVar(&cfg.Insecure, "insecure", false, "skip TLS verification of the downstream services")

	// telemetry:
	flags.StringVar(&cfg.EventsRedisAddr, "events-redis-addr", "", "address of the redis instance used as telemetry bus, empty disables publishing")
	flags.StringVar(&cfg.EventsChannel, "events-channel", telemetry.DefaultChannel, "pub/sub channel usage events are published on")

	// logging, metrics:
	flags.BoolVar(&cfg.EnablePrometheusMetrics, "enable-prometheus-metrics", false, "collect traffic metrics and expose them on the support listener")
	flags.StringVar(&cfg.MetricsPrefix, "metrics-prefix", defaultMetricsPrefix, "prefix for the collected metrics")
	flags.BoolVar(&cfg.RuntimeMetrics, "runtime-metrics", false, "collect Go runtime metrics in addition to the traffic metrics")
	flags.BoolVar(&cfg.AccessLogDisabled, "access-log-disabled", false, "do not print an access log")
	flags.StringVar(&cfg.ApplicationLogPrefix, "application-log-prefix", defaultApplicationLogPrefix, "prefix for the application log entries")
	flags.StringVar(&cfg.ApplicationLogLevelString, "application-log-level", defaultApplicationLogLevel, "log level of the application log")

	cfg.Flags = flags
	return cfg
}

// Parse the command line arguments and, when given, the yaml
// configuration file.
func (c *Config) Parse() error {
	return c.ParseArgs(os.Args[0], os.Args[1:])
}

// ParseArgs is Parse with explicit arguments, used by the tests.
func (c *Config) ParseArgs(progname string, args []string) error {
	c.Flags.Init(progname, flag.ExitOnError)
	if err := c.Flags.Parse(args); err != nil {
		return err
	}

	if c.ConfigFile != "" {
		yamlFile, err := os.ReadFile(c.ConfigFile)
		if err != nil {
			return fmt.Errorf("invalid config file: %w", err)
		}

		if err := yaml.Unmarshal(yamlFile, c); err != nil {
			return fmt.Errorf("invalid config file format: %w", err)
		}

		// flags win over the file
		if err := c.Flags.Parse(args); err != nil {
			return err
		}
	}

	level, err := log.ParseLevel(c.ApplicationLogLevelString)
	if err != nil {
		return fmt.Errorf("invalid application-log-level: %w", err)
	}
	c.ApplicationLogLevel = level

	return c.validate()
}

func (c *Config) validate() error {
	if c.PrimaryAPIURL == "" {
		return fmt.Errorf("primary-api-url is required")
	}

	if c.CredentialManagerURL == "" {
		return fmt.Errorf("credential-manager-url is required")
	}

	if c.TokenSecret == "" && !c.DisableAuth {
		return fmt.Errorf("token-secret is required unless auth is disabled")
	}

	return nil
}

// ToOptions maps the parsed configuration onto the gateway options.
func (c *Config) ToOptions() gateway.Options {
	return gateway.Options{
		Address:                   c.Address,
		SupportListener:           c.SupportListener,
		Environment:               c.Environment,
		DisableAuth:               c.DisableAuth,
		TokenSecret:               c.TokenSecret,
		SessionCookieName:         c.SessionCookieName,
		PrimaryAPIURL:             c.PrimaryAPIURL,
		CredentialManagerURL:      c.CredentialManagerURL,
		CredentialManagerUser:     c.CredentialManagerUser,
		CredentialManagerPassword: c.CredentialManagerPassword,
		BackendTimeout:            c.BackendTimeout,
		IdleConnsPerHost:          c.IdleConnsPerHost,
		IdleConnTimeout:           c.IdleConnTimeout,
		Insecure:                  c.Insecure,
		EventsRedisAddr:           c.EventsRedisAddr,
		EventsChannel:             c.EventsChannel,
		EnablePrometheusMetrics:   c.EnablePrometheusMetrics,
		MetricsPrefix:             c.MetricsPrefix,
		EnableRuntimeMetrics:      c.RuntimeMetrics,
		AccessLogDisabled:         c.AccessLogDisabled,
		ApplicationLogPrefix:      c.ApplicationLogPrefix,
		ApplicationLogLevel:       c.ApplicationLogLevel,
		ShutdownGracePeriod:       c.ShutdownGracePeriod,
	}
}

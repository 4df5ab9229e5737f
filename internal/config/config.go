package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/saleslist/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Matcher    MatcherConfig    `yaml:"matcher" mapstructure:"matcher"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Pricing    cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Usage      UsageConfig      `yaml:"usage" mapstructure:"usage"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MatcherConfig configures the NG matcher.
type MatcherConfig struct {
	Workers       int `yaml:"workers" mapstructure:"workers"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	Model             string  `yaml:"model" mapstructure:"model"`
	SearchContextSize string  `yaml:"search_context_size" mapstructure:"search_context_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// UsageConfig configures the monthly enrichment budget.
type UsageConfig struct {
	RedisAddr        string  `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword    string  `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB          int     `yaml:"redis_db" mapstructure:"redis_db"`
	MonthlyCostLimit float64 `yaml:"monthly_cost_limit" mapstructure:"monthly_cost_limit"`
	MonthlyCallLimit int64   `yaml:"monthly_call_limit" mapstructure:"monthly_call_limit"`
	CostPerCall      float64 `yaml:"cost_per_call" mapstructure:"cost_per_call"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL        string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	BudgetAlertRatio  float64 `yaml:"budget_alert_ratio" mapstructure:"budget_alert_ratio"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SALESLIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("matcher.workers", 4)
	v.SetDefault("matcher.retry_attempts", 3)
	v.SetDefault("perplexity.key", "")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("perplexity.search_context_size", string(cost.ContextLow))
	v.SetDefault("perplexity.requests_per_second", 1.0)
	v.SetDefault("usage.redis_addr", "")
	v.SetDefault("usage.redis_password", "")
	v.SetDefault("usage.redis_db", 0)
	v.SetDefault("usage.monthly_cost_limit", 20.0)
	v.SetDefault("usage.monthly_call_limit", 5000)
	v.SetDefault("usage.cost_per_call", 0.004)
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.budget_alert_ratio", 0.8)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	cfg.Pricing = mergeRates(cost.DefaultRates(), cfg.Pricing)
	if err := cfg.Pricing.Validate(); err != nil {
		return nil, eris.Wrap(err, "config: pricing")
	}

	return &cfg, nil
}

// mergeRates lays configured models over the built-in table.
func mergeRates(base, override cost.Rates) cost.Rates {
	out := cost.Rates{Perplexity: make(map[string]cost.ModelRate, len(base.Perplexity))}
	for m, r := range base.Perplexity {
		out.Perplexity[m] = r
	}
	for m, r := range override.Perplexity {
		out.Perplexity[m] = r
	}
	return out
}

// Validate checks the settings a command mode depends on.
// Modes: "serve", "migrate", "match", "enrich".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url must name the sqlite file")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		errs = append(errs, c.matcherErrors()...)
		if c.Monitoring.BudgetAlertRatio < 0 || c.Monitoring.BudgetAlertRatio > 1 {
			errs = append(errs, "monitoring.budget_alert_ratio must be between 0 and 1")
		}
	case "match":
		errs = append(errs, c.matcherErrors()...)
	case "enrich":
		if c.Perplexity.Key == "" {
			errs = append(errs, "perplexity.key is required")
		}
		switch cost.ContextSize(c.Perplexity.SearchContextSize) {
		case cost.ContextLow, cost.ContextMedium, cost.ContextHigh:
		default:
			errs = append(errs, "perplexity.search_context_size must be low, medium or high")
		}
		if c.Perplexity.RequestsPerSecond <= 0 {
			errs = append(errs, "perplexity.requests_per_second must be > 0")
		}
		if c.Usage.MonthlyCostLimit < 0 || c.Usage.MonthlyCallLimit < 0 || c.Usage.CostPerCall < 0 {
			errs = append(errs, "usage limits must be >= 0")
		}
	case "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) matcherErrors() []string {
	var errs []string
	if c.Matcher.Workers < 1 || c.Matcher.Workers > 64 {
		errs = append(errs, "matcher.workers must be between 1 and 64")
	}
	if c.Matcher.RetryAttempts < 1 {
		errs = append(errs, "matcher.retry_attempts must be >= 1")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}

package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Match   MatchConfig   `yaml:"match" mapstructure:"match"`
	Formula FormulaConfig `yaml:"formula" mapstructure:"formula"`
	Impute  ImputeConfig  `yaml:"impute" mapstructure:"impute"`
	Quality QualityConfig `yaml:"quality" mapstructure:"quality"`
	Staging StagingConfig `yaml:"staging" mapstructure:"staging"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`

	// PolicyFile and FormulaFile point at the YAML registries loaded at
	// startup.
	PolicyFile  string `yaml:"policy_file" mapstructure:"policy_file"`
	FormulaFile string `yaml:"formula_file" mapstructure:"formula_file"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// MatchConfig configures master-data matching.
type MatchConfig struct {
	Threshold       float64 `yaml:"threshold" mapstructure:"threshold"`
	AmbiguityMargin float64 `yaml:"ambiguity_margin" mapstructure:"ambiguity_margin"`
	MaxCandidates   int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	Concurrency     int     `yaml:"concurrency" mapstructure:"concurrency"`

	ExactCodeWeight float64 `yaml:"exact_code_weight" mapstructure:"exact_code_weight"`
	NameWeight      float64 `yaml:"name_weight" mapstructure:"name_weight"`
	PhoneticWeight  float64 `yaml:"phonetic_weight" mapstructure:"phonetic_weight"`
	UsageWeight     float64 `yaml:"usage_weight" mapstructure:"usage_weight"`
}

// FormulaConfig configures conflict detection tolerances. Tolerances are
// strings so they parse into exact decimals rather than floats.
type FormulaConfig struct {
	AbsTolerance string `yaml:"abs_tolerance" mapstructure:"abs_tolerance"`
	RelTolerance string `yaml:"rel_tolerance" mapstructure:"rel_tolerance"`
}

// ImputeConfig configures the value imputer.
type ImputeConfig struct {
	MissingRatioCeiling float64 `yaml:"missing_ratio_ceiling" mapstructure:"missing_ratio_ceiling"`
}

// QualityConfig configures assessment weights and verdict thresholds.
type QualityConfig struct {
	CompletenessWeight        float64 `yaml:"completeness_weight" mapstructure:"completeness_weight"`
	AccuracyWeight            float64 `yaml:"accuracy_weight" mapstructure:"accuracy_weight"`
	ConsistencyWeight         float64 `yaml:"consistency_weight" mapstructure:"consistency_weight"`
	TimelinessWeight          float64 `yaml:"timeliness_weight" mapstructure:"timeliness_weight"`
	UniquenessWeight          float64 `yaml:"uniqueness_weight" mapstructure:"uniqueness_weight"`
	ComplianceWeight          float64 `yaml:"compliance_weight" mapstructure:"compliance_weight"`
	RelationalIntegrityWeight float64 `yaml:"relational_integrity_weight" mapstructure:"relational_integrity_weight"`

	ExcellentThreshold float64 `yaml:"excellent_threshold" mapstructure:"excellent_threshold"`
	GoodThreshold      float64 `yaml:"good_threshold" mapstructure:"good_threshold"`
	FixableThreshold   float64 `yaml:"fixable_threshold" mapstructure:"fixable_threshold"`

	RecordDateField string `yaml:"record_date_field" mapstructure:"record_date_field"`
	FreshnessDays   int    `yaml:"freshness_days" mapstructure:"freshness_days"`
}

// StagingConfig configures batch lifecycle timing.
type StagingConfig struct {
	ExpiryHours    int     `yaml:"expiry_hours" mapstructure:"expiry_hours"`
	RetentionDays  int     `yaml:"retention_days" mapstructure:"retention_days"`
	SweepMinutes   int     `yaml:"sweep_minutes" mapstructure:"sweep_minutes"`
	PurgePerSecond float64 `yaml:"purge_per_second" mapstructure:"purge_per_second"`
	UsageTTLDays   int     `yaml:"usage_ttl_days" mapstructure:"usage_ttl_days"`
}

// Expiry returns the expiry window as a duration.
func (s StagingConfig) Expiry() time.Duration {
	return time.Duration(s.ExpiryHours) * time.Hour
}

// Retention returns the retention window as a duration.
func (s StagingConfig) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// SweepInterval returns the sweeper cadence as a duration.
func (s StagingConfig) SweepInterval() time.Duration {
	return time.Duration(s.SweepMinutes) * time.Minute
}

// UsageTTL returns the usage cache lifetime as a duration.
func (s StagingConfig) UsageTTL() time.Duration {
	return time.Duration(s.UsageTTLDays) * 24 * time.Hour
}

// ServerConfig configures the HTTP facade.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENHANCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enhance.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("policy_file", "policies.yaml")
	v.SetDefault("formula_file", "formulas.yaml")
	v.SetDefault("match.threshold", 0.75)
	v.SetDefault("match.ambiguity_margin", 0.05)
	v.SetDefault("match.max_candidates", 5)
	v.SetDefault("match.concurrency", 8)
	v.SetDefault("match.exact_code_weight", 0.3)
	v.SetDefault("match.name_weight", 0.4)
	v.SetDefault("match.phonetic_weight", 0.2)
	v.SetDefault("match.usage_weight", 0.1)
	v.SetDefault("formula.abs_tolerance", "0.01")
	v.SetDefault("formula.rel_tolerance", "0.01")
	v.SetDefault("impute.missing_ratio_ceiling", 0.4)
	v.SetDefault("quality.completeness_weight", 0.25)
	v.SetDefault("quality.accuracy_weight", 0.25)
	v.SetDefault("quality.consistency_weight", 0.15)
	v.SetDefault("quality.timeliness_weight", 0.10)
	v.SetDefault("quality.uniqueness_weight", 0.10)
	v.SetDefault("quality.compliance_weight", 0.10)
	v.SetDefault("quality.relational_integrity_weight", 0.05)
	v.SetDefault("quality.excellent_threshold", 0.9)
	v.SetDefault("quality.good_threshold", 0.75)
	v.SetDefault("quality.fixable_threshold", 0.5)
	v.SetDefault("quality.record_date_field", "record_date")
	v.SetDefault("quality.freshness_days", 90)
	v.SetDefault("staging.expiry_hours", 72)
	v.SetDefault("staging.retention_days", 30)
	v.SetDefault("staging.sweep_minutes", 10)
	v.SetDefault("staging.purge_per_second", 5)
	v.SetDefault("staging.usage_ttl_days", 7)

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

	return &cfg, nil
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

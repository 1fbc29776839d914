package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DefaultFallbackText is returned whenever no candidate can be delivered safely.
const DefaultFallbackText = "I could not produce a reliable answer to this question from the available sources."

type Config struct {
	Validators ValidatorsConfig `mapstructure:"validators"`
	Chain      ChainConfig      `mapstructure:"chain"`
	Quality    QualityConfig    `mapstructure:"quality"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Generation GenerationConfig `mapstructure:"generation"`
	Server     ServerConfig     `mapstructure:"server"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Redis      RedisConfig      `mapstructure:"redis"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

type ValidatorsConfig struct {
	Citation   CitationConfig   `mapstructure:"citation"`
	Overlap    OverlapConfig    `mapstructure:"overlap"`
	Numeric    NumericConfig    `mapstructure:"numeric"`
	Confidence ConfidenceConfig `mapstructure:"confidence"`
	Identity   IdentityConfig   `mapstructure:"identity"`
	Language   LanguageConfig   `mapstructure:"language"`
	Consensus  ConsensusConfig  `mapstructure:"consensus"`
	Ethics     EthicsConfig     `mapstructure:"ethics"`
}

type CitationConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Patch   bool `mapstructure:"patch"`
}

type OverlapConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Threshold float64 `mapstructure:"threshold"`
	NGram     int     `mapstructure:"ngram"`
}

type NumericConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Tolerance float64 `mapstructure:"tolerance"`
}

type ConfidenceConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	MinRelevance float64 `mapstructure:"min_relevance"`
}

type IdentityConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LanguageConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	MinChars int  `mapstructure:"min_chars"`
}

type ConsensusConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Tolerance float64 `mapstructure:"tolerance"`
	MinShared float64 `mapstructure:"min_shared"`
}

type EthicsConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Provider      string        `mapstructure:"provider"`
	ExtraPatterns []string      `mapstructure:"extra_patterns"`
}

type ChainConfig struct {
	ValidatorTimeout time.Duration `mapstructure:"validator_timeout"`
	Workers          int           `mapstructure:"workers"`
}

type QualityConfig struct {
	High            float64 `mapstructure:"high"`
	Medium          float64 `mapstructure:"medium"`
	MinImprovement  float64 `mapstructure:"min_improvement"`
	CriticalPenalty float64 `mapstructure:"critical_penalty"`
	PatchedPenalty  float64 `mapstructure:"patched_penalty"`
}

type PolicyConfig struct {
	LightMediumRounds int `mapstructure:"light_medium_rounds"`
	LightLowRounds    int `mapstructure:"light_low_rounds"`
	AggressiveRounds  int `mapstructure:"aggressive_rounds"`
}

type EngineConfig struct {
	Deadline     time.Duration `mapstructure:"deadline"`
	FallbackText string        `mapstructure:"fallback_text"`
	DefaultMode  string        `mapstructure:"default_mode"`
}

type GenerationConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialDelay    time.Duration `mapstructure:"initial_delay"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type ServerConfig struct {
	Host         string  `mapstructure:"host"`
	Port         int     `mapstructure:"port"`
	ReadTimeout  int     `mapstructure:"read_timeout"`
	WriteTimeout int     `mapstructure:"write_timeout"`
	BodyLimit    int     `mapstructure:"body_limit"`
	RateLimit    float64 `mapstructure:"rate_limit"`
	RateBurst    int     `mapstructure:"rate_burst"`
	// Environment is "development" or "production"; development disables HSTS.
	Environment    string   `mapstructure:"environment"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type SQLiteConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type RedisConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Password      string        `mapstructure:"password"`
	DB            int           `mapstructure:"db"`
	ModerationTTL time.Duration `mapstructure:"moderation_ttl"`
}

type LLMConfig struct {
	APIKey        string  `mapstructure:"api_key"`
	BaseURL       string  `mapstructure:"base_url"`
	Model         string  `mapstructure:"model"`
	Temperature   float32 `mapstructure:"temperature"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	TimeoutSec    int     `mapstructure:"timeout_sec"`
	ModerationRPS float64 `mapstructure:"moderation_rps"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type TracingConfig struct {
	Exporter     string  `mapstructure:"exporter"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool    `mapstructure:"otlp_insecure"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// Loader owns one viper instance. Every Load returns a fresh snapshot; a
// snapshot is never mutated after it is handed out.
type Loader struct {
	v  *viper.Viper
	mu sync.Mutex
}

func NewLoader(path string) *Loader {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("verity")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/verity")
	}

	v.SetEnvPrefix("VERITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	return &Loader{v: v}
}

func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unknown keys are rejected so a misspelled validator name fails at load.
	var config Config
	if err := l.v.UnmarshalExact(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// ConfigFile reports the file the loader resolved, empty when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Settings returns the merged key/value view of defaults, file and
// environment as of the last Load.
func (l *Loader) Settings() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.v.AllSettings()
}

// Watch reloads the file on change. Snapshots that fail validation are passed
// to onError and the previous snapshot stays in effect.
func (l *Loader) Watch(onChange func(*Config), onError func(error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Default returns the snapshot produced by defaults alone.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("validators.citation.enabled", true)
	v.SetDefault("validators.citation.patch", true)
	v.SetDefault("validators.overlap.enabled", true)
	v.SetDefault("validators.overlap.threshold", 0.08)
	v.SetDefault("validators.overlap.ngram", 2)
	v.SetDefault("validators.numeric.enabled", true)
	v.SetDefault("validators.numeric.tolerance", 0.01)
	v.SetDefault("validators.confidence.enabled", true)
	v.SetDefault("validators.confidence.min_relevance", 0.35)
	v.SetDefault("validators.identity.enabled", true)
	v.SetDefault("validators.language.enabled", true)
	v.SetDefault("validators.language.min_chars", 40)
	v.SetDefault("validators.consensus.enabled", true)
	v.SetDefault("validators.consensus.tolerance", 0.1)
	v.SetDefault("validators.consensus.min_shared", 0.5)
	v.SetDefault("validators.ethics.enabled", true)
	v.SetDefault("validators.ethics.timeout", 2*time.Second)
	v.SetDefault("validators.ethics.provider", "lexicon")
	v.SetDefault("validators.ethics.extra_patterns", []string{})

	v.SetDefault("chain.validator_timeout", 100*time.Millisecond)
	v.SetDefault("chain.workers", 8)

	v.SetDefault("quality.high", 0.8)
	v.SetDefault("quality.medium", 0.5)
	v.SetDefault("quality.min_improvement", 0.1)
	v.SetDefault("quality.critical_penalty", 0.25)
	v.SetDefault("quality.patched_penalty", 0.1)

	v.SetDefault("policy.light_medium_rounds", 1)
	v.SetDefault("policy.light_low_rounds", 2)
	v.SetDefault("policy.aggressive_rounds", 2)

	v.SetDefault("engine.deadline", 30*time.Second)
	v.SetDefault("engine.fallback_text", DefaultFallbackText)
	v.SetDefault("engine.default_mode", "light")

	v.SetDefault("generation.max_attempts", 2)
	v.SetDefault("generation.initial_delay", 200*time.Millisecond)
	v.SetDefault("generation.breaker_failures", 5)
	v.SetDefault("generation.breaker_timeout", 30*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 60)
	v.SetDefault("server.body_limit", 1048576)
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("sqlite.enabled", false)
	v.SetDefault("sqlite.path", "./data/verity.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.moderation_ttl", 24*time.Hour)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout_sec", 30)
	v.SetDefault("llm.moderation_rps", 5.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "localhost:4317")
	v.SetDefault("tracing.otlp_insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

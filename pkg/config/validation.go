package config

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "found %d configuration error(s):\n", len(errs))
	for i, err := range errs {
		fmt.Fprintf(&b, "  %d. %s: %s\n", i+1, err.Field, err.Message)
	}
	return b.String()
}

func (errs ValidationErrors) Has(field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	var errs ValidationErrors

	errs = append(errs, c.validateValidators()...)
	errs = append(errs, c.validateChain()...)
	errs = append(errs, c.validateQuality()...)
	errs = append(errs, c.validatePolicy()...)
	errs = append(errs, c.validateEngine()...)
	errs = append(errs, c.validateAmbient()...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func unitInterval(field string, v float64) ValidationErrors {
	if v < 0 || v > 1 {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("must be within [0,1], got %g", v)}}
	}
	return nil
}

func (c *Config) validateValidators() ValidationErrors {
	var errs ValidationErrors
	vc := c.Validators

	errs = append(errs, unitInterval("validators.overlap.threshold", vc.Overlap.Threshold)...)
	if vc.Overlap.NGram < 1 || vc.Overlap.NGram > 5 {
		errs = append(errs, ValidationError{
			Field:   "validators.overlap.ngram",
			Message: fmt.Sprintf("must be between 1 and 5, got %d", vc.Overlap.NGram),
		})
	}
	errs = append(errs, unitInterval("validators.numeric.tolerance", vc.Numeric.Tolerance)...)
	errs = append(errs, unitInterval("validators.confidence.min_relevance", vc.Confidence.MinRelevance)...)
	if vc.Language.MinChars < 0 {
		errs = append(errs, ValidationError{Field: "validators.language.min_chars", Message: "must not be negative"})
	}
	errs = append(errs, unitInterval("validators.consensus.tolerance", vc.Consensus.Tolerance)...)
	errs = append(errs, unitInterval("validators.consensus.min_shared", vc.Consensus.MinShared)...)

	if vc.Ethics.Enabled && vc.Ethics.Timeout <= 0 {
		errs = append(errs, ValidationError{Field: "validators.ethics.timeout", Message: "must be positive"})
	}
	switch vc.Ethics.Provider {
	case "lexicon":
	case "openai":
		if c.LLM.APIKey == "" {
			errs = append(errs, ValidationError{
				Field:   "validators.ethics.provider",
				Message: "openai moderation requires llm.api_key",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "validators.ethics.provider",
			Message: fmt.Sprintf("unknown provider %q (expected lexicon or openai)", vc.Ethics.Provider),
		})
	}
	return errs
}

func (c *Config) validateChain() ValidationErrors {
	var errs ValidationErrors
	if c.Chain.ValidatorTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "chain.validator_timeout", Message: "must be positive"})
	}
	if c.Chain.Workers < 1 {
		errs = append(errs, ValidationError{Field: "chain.workers", Message: "must be at least 1"})
	}
	return errs
}

func (c *Config) validateQuality() ValidationErrors {
	var errs ValidationErrors
	q := c.Quality
	errs = append(errs, unitInterval("quality.high", q.High)...)
	errs = append(errs, unitInterval("quality.medium", q.Medium)...)
	errs = append(errs, unitInterval("quality.min_improvement", q.MinImprovement)...)
	errs = append(errs, unitInterval("quality.critical_penalty", q.CriticalPenalty)...)
	errs = append(errs, unitInterval("quality.patched_penalty", q.PatchedPenalty)...)
	if q.Medium >= q.High {
		errs = append(errs, ValidationError{
			Field:   "quality.medium",
			Message: fmt.Sprintf("must be below quality.high (%g >= %g)", q.Medium, q.High),
		})
	}
	return errs
}

func (c *Config) validatePolicy() ValidationErrors {
	var errs ValidationErrors
	check := func(field string, v int) {
		if v < 0 || v > 10 {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("must be between 0 and 10, got %d", v)})
		}
	}
	check("policy.light_medium_rounds", c.Policy.LightMediumRounds)
	check("policy.light_low_rounds", c.Policy.LightLowRounds)
	check("policy.aggressive_rounds", c.Policy.AggressiveRounds)
	return errs
}

func (c *Config) validateEngine() ValidationErrors {
	var errs ValidationErrors
	if c.Engine.Deadline <= 0 {
		errs = append(errs, ValidationError{Field: "engine.deadline", Message: "must be positive"})
	}
	if strings.TrimSpace(c.Engine.FallbackText) == "" {
		errs = append(errs, ValidationError{Field: "engine.fallback_text", Message: "must not be empty"})
	}
	switch c.Engine.DefaultMode {
	case "off", "light", "aggressive":
	default:
		errs = append(errs, ValidationError{
			Field:   "engine.default_mode",
			Message: fmt.Sprintf("unknown mode %q (expected off, light or aggressive)", c.Engine.DefaultMode),
		})
	}
	if c.Generation.MaxAttempts < 1 {
		errs = append(errs, ValidationError{Field: "generation.max_attempts", Message: "must be at least 1"})
	}
	return errs
}

func (c *Config) validateAmbient() ValidationErrors {
	var errs ValidationErrors
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		errs = append(errs, ValidationError{Field: "logging.level", Message: err.Error()})
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, ValidationError{Field: "server.port", Message: fmt.Sprintf("invalid port %d", c.Server.Port)})
	}
	if c.SQLite.Enabled && c.SQLite.Path == "" {
		errs = append(errs, ValidationError{Field: "sqlite.path", Message: "required when sqlite is enabled"})
	}
	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, ValidationError{
			Field:   "tracing.exporter",
			Message: fmt.Sprintf("unknown exporter %q (expected none, stdout or otlp)", c.Tracing.Exporter),
		})
	}
	errs = append(errs, unitInterval("tracing.sample_ratio", c.Tracing.SampleRatio)...)
	if c.Redis.Enabled && c.Redis.Host == "" {
		errs = append(errs, ValidationError{Field: "redis.host", Message: "required when redis is enabled"})
	}
	return errs
}

package validator

import (
	"fmt"

	"github.com/aws-agent/verity/internal/safety"
	"github.com/aws-agent/verity/pkg/config"
)

// DefaultOrder is the order verdicts are reported in.
var DefaultOrder = []string{Citation, Overlap, Numeric, Confidence, Identity, Language, Consensus, Ethics}

// Deps carries collaborators a validator cannot build from configuration.
type Deps struct {
	// Safety backs the ethics validator. Nil selects the lexicon checker.
	Safety safety.Checker
}

type Constructor func(cfg *config.Config, deps Deps) (Validator, error)

var constructors = map[string]Constructor{
	Citation: func(cfg *config.Config, _ Deps) (Validator, error) {
		return NewCitationValidator(cfg.Validators.Citation), nil
	},
	Overlap: func(cfg *config.Config, _ Deps) (Validator, error) {
		return NewOverlapValidator(cfg.Validators.Overlap), nil
	},
	Numeric: func(cfg *config.Config, _ Deps) (Validator, error) {
		return NewNumericValidator(cfg.Validators.Numeric), nil
	},
	Confidence: func(cfg *config.Config, _ Deps) (Validator, error) {
		return NewConfidenceValidator(cfg.Validators.Confidence), nil
	},
	Identity: func(cfg *config.Config, _ Deps) (Validator, error) {
		return NewIdentityValidator(), nil
	},
	Language: func(cfg *config.Config, _ Deps) (Validator, error) {
		return NewLanguageValidator(cfg.Validators.Language), nil
	},
	Consensus: func(cfg *config.Config, _ Deps) (Validator, error) {
		return NewConsensusValidator(cfg.Validators.Consensus), nil
	},
	Ethics: func(cfg *config.Config, deps Deps) (Validator, error) {
		checker := deps.Safety
		if checker == nil {
			lex, err := safety.NewLexiconChecker(cfg.Validators.Ethics.ExtraPatterns)
			if err != nil {
				return nil, err
			}
			checker = lex
		}
		return NewEthicsValidator(cfg.Validators.Ethics, checker), nil
	},
}

func enabled(cfg *config.Config, name string) bool {
	v := cfg.Validators
	switch name {
	case Citation:
		return v.Citation.Enabled
	case Overlap:
		return v.Overlap.Enabled
	case Numeric:
		return v.Numeric.Enabled
	case Confidence:
		return v.Confidence.Enabled
	case Identity:
		return v.Identity.Enabled
	case Language:
		return v.Language.Enabled
	case Consensus:
		return v.Consensus.Enabled
	case Ethics:
		return v.Ethics.Enabled
	}
	return false
}

// Registry is an ordered, read-only set of validators. A configuration
// reload builds a new Registry instead of changing this one.
type Registry struct {
	validators []Validator
	index      map[string]int
}

// Build constructs every enabled validator in DefaultOrder.
func Build(cfg *config.Config, deps Deps) (*Registry, error) {
	var vs []Validator
	for _, name := range DefaultOrder {
		if !enabled(cfg, name) {
			continue
		}
		ctor, ok := constructors[name]
		if !ok {
			return nil, fmt.Errorf("no constructor registered for validator %q", name)
		}
		v, err := ctor(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("build validator %s: %w", name, err)
		}
		vs = append(vs, v)
	}
	return NewRegistry(vs...)
}

// NewRegistry wraps an explicit validator list, keeping its order.
func NewRegistry(validators ...Validator) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(validators))}
	for _, v := range validators {
		if _, dup := r.index[v.Name()]; dup {
			return nil, fmt.Errorf("duplicate validator %q", v.Name())
		}
		r.index[v.Name()] = len(r.validators)
		r.validators = append(r.validators, v)
	}
	return r, nil
}

func (r *Registry) Validators() []Validator {
	out := make([]Validator, len(r.validators))
	copy(out, r.validators)
	return out
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.validators))
	for i, v := range r.validators {
		names[i] = v.Name()
	}
	return names
}

func (r *Registry) Lookup(name string) (Validator, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.validators[i], true
}

func (r *Registry) Len() int { return len(r.validators) }

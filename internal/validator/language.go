package validator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"

	"github.com/aws-agent/verity/internal/models"
	"github.com/aws-agent/verity/pkg/config"
)

// minQueryWords is the shortest query compared against the answer when both
// use the same script.
const minQueryWords = 3

// LanguageValidator requires the answer to be in the language of the query.
// Only regeneration can fix a mismatch, so the verdict never carries a patch.
type LanguageValidator struct {
	minChars int
}

func NewLanguageValidator(cfg config.LanguageConfig) *LanguageValidator {
	return &LanguageValidator{minChars: cfg.MinChars}
}

func (v *LanguageValidator) Name() string   { return Language }
func (v *LanguageValidator) Critical() bool { return true }

// Check compares scripts first, at any length. Within one script the answer
// must be at least minChars long and reliably detected; the query's language
// then only has to beat the answer's language head to head, since short
// queries rarely reach whatlanggo's reliability threshold.
func (v *LanguageValidator) Check(ctx context.Context, in *Input) models.Verdict {
	query := strings.TrimSpace(StripCitations(in.Query))
	answer := strings.TrimSpace(StripCitations(in.Candidate))

	qScript, aScript := whatlanggo.DetectScript(query), whatlanggo.DetectScript(answer)
	if qScript == nil || aScript == nil {
		return pass(Language, true)
	}
	if qScript != aScript {
		return v.mismatch("answer is written in a different script than the query")
	}

	if utf8.RuneCountInString(answer) < v.minChars || len(strings.Fields(query)) < minQueryWords {
		return pass(Language, true)
	}
	aInfo := whatlanggo.Detect(answer)
	if !aInfo.IsReliable() {
		return pass(Language, true)
	}

	qLang := whatlanggo.DetectLang(query)
	if qLang < 0 || qLang == aInfo.Lang {
		return pass(Language, true)
	}
	headToHead := whatlanggo.DetectLangWithOptions(query, whatlanggo.Options{
		Whitelist: map[whatlanggo.Lang]bool{qLang: true, aInfo.Lang: true},
	})
	if headToHead != qLang {
		return pass(Language, true)
	}
	return v.mismatch(fmt.Sprintf("query is %s, answer is %s", qLang.Iso6391(), aInfo.Lang.Iso6391()))
}

func (v *LanguageValidator) mismatch(detail string) models.Verdict {
	verdict := fail(Language, true, ReasonLanguageMismatch, detail)
	verdict.Regenerate = true
	return verdict
}

package validator

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aws-agent/verity/internal/models"
)

type rewrite struct {
	pattern     *regexp.Regexp
	replacement string
}

var (
	// Whole sentences claiming feelings or consciousness are removed.
	selfStatePattern = regexp.MustCompile(`(?i)^\s*(?:I(?:'m| am) (?:so |very |really |truly )?(?:happy|glad|delighted|excited|thrilled|sad|sorry|upset|angry|afraid|scared|worried|lonely|hurt|conscious|sentient|self-aware|alive)\b|I (?:have|experience|possess) (?:real |genuine )?(?:feelings|emotions|consciousness|a soul)\b|as a (?:sentient|conscious|living) being\b)`)

	// Opinion framing is replaced in place. Longer alternatives come first.
	framingRewrites = []rewrite{
		{regexp.MustCompile(`(?i)\bin my (?:personal |honest )?(?:opinion|view),?`), "based on the available information,"},
		{regexp.MustCompile(`(?i)\b(?:personally,? )?I (?:personally |honestly |really |truly )?(?:feel|believe|think)(?: that)?\b`), "analysis suggests"},
		{regexp.MustCompile(`(?i)\bI (?:love|adore|prefer)\b`), "many sources favor"},
		{regexp.MustCompile(`(?i)\bI (?:hate|dislike|despise)\b`), "many sources criticize"},
	}

	// Superlatives are neutralised only inside sentences already flagged.
	superlativeRewrites = []rewrite{
		{regexp.MustCompile(`(?i)\b(is|are) (?:clearly |obviously |simply )?(?:the )?best\b`), "$1 often favored"},
		{regexp.MustCompile(`(?i)\b(is|are) (?:clearly |obviously |simply )?(?:the )?worst\b`), "$1 often criticized"},
		{regexp.MustCompile(`(?i)\b(is|are) (?:clearly |obviously )?superior\b`), "$1 often preferred"},
		{regexp.MustCompile(`(?i)\b(is|are) (?:clearly |obviously )?inferior\b`), "$1 often considered weaker"},
	}
)

// IdentityValidator keeps the answer from speaking as a being with feelings
// or opinions. Flagged spans are rewritten to neutral phrasing.
type IdentityValidator struct{}

func NewIdentityValidator() *IdentityValidator { return &IdentityValidator{} }

func (v *IdentityValidator) Name() string   { return Identity }
func (v *IdentityValidator) Critical() bool { return true }

func (v *IdentityValidator) Check(ctx context.Context, in *Input) models.Verdict {
	text := in.Candidate
	var edits []models.Edit
	var flagged []string

	for _, span := range SentenceSpans(text) {
		sentence := text[span.Start:span.End]

		if selfStatePattern.MatchString(sentence) {
			edits = append(edits, models.Edit{Start: span.Start, End: span.End, Text: ""})
			flagged = append(flagged, strings.TrimSpace(sentence))
			continue
		}

		sentenceEdits := rewriteAll(sentence, span.Start, framingRewrites, true)
		if len(sentenceEdits) == 0 {
			continue
		}
		flagged = append(flagged, strings.TrimSpace(sentence))
		sentenceEdits = append(sentenceEdits, rewriteAll(sentence, span.Start, superlativeRewrites, false)...)
		edits = append(edits, dropOverlapping(sentenceEdits)...)
	}

	if len(edits) == 0 {
		return pass(Identity, true)
	}
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].Start < edits[j].Start })
	return patched(Identity, ReasonAnthropomorphic, "first-person claim: "+strings.Join(flagged, " | "), edits...)
}

// rewriteAll returns edits for every match in sentence, offset into the
// candidate. Replacements at the start of a sentence are capitalised.
func rewriteAll(sentence string, offset int, rules []rewrite, capitalise bool) []models.Edit {
	lead := len(sentence) - len(strings.TrimLeftFunc(sentence, unicode.IsSpace))
	var edits []models.Edit
	for _, r := range rules {
		for _, loc := range r.pattern.FindAllStringSubmatchIndex(sentence, -1) {
			repl := string(r.pattern.ExpandString(nil, r.replacement, sentence, loc))
			if capitalise && loc[0] == lead {
				repl = upperFirst(repl)
			}
			edits = append(edits, models.Edit{Start: offset + loc[0], End: offset + loc[1], Text: repl})
		}
	}
	return edits
}

// dropOverlapping keeps the first of any overlapping edits in rule order.
func dropOverlapping(edits []models.Edit) []models.Edit {
	var kept []models.Edit
	for _, e := range edits {
		clash := false
		for _, k := range kept {
			if e.Start < k.End && k.Start < e.End {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, e)
		}
	}
	return kept
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

package validator

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/jdkato/prose/v2"

	"github.com/aws-agent/verity/internal/models"
)

var (
	// [1], [2, 3], [source 2], [doc-4], (Source: handbook)
	citationPattern = regexp.MustCompile(`(?i)\[\s*(?:\d+(?:\s*[,;]\s*\d+)*|source[^\]]*|doc[-_ ]?\w+)\s*\]|\(\s*source:[^)]*\)`)

	numberPattern = regexp.MustCompile(
		`(?i)(\d{1,3}(?:,\d{3})+|\d+)(\.\d+)?` +
			`(?:\s*(%|percent\b)|\s+(thousand|million|billion|trillion)\b|([kmb])\b)?`,
	)

	whitespacePattern = regexp.MustCompile(`\s+`)
	htmlTagPattern    = regexp.MustCompile(`<\s*/?\s*[a-zA-Z][^>]*>`)
	sentencePattern   = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)\s*`)
	negationPattern   = regexp.MustCompile(`(?i)\b(?:not|no|never|none|neither|nor|cannot|without)\b|n't\b`)
)

var scaleWords = map[string]float64{
	"thousand": 1e3,
	"million":  1e6,
	"billion":  1e9,
	"trillion": 1e12,
	"k":        1e3,
	"m":        1e6,
	"b":        1e9,
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"of": true, "in": true, "on": true, "at": true, "to": true, "for": true,
	"with": true, "by": true, "from": true, "as": true, "that": true, "this": true,
	"it": true, "its": true, "has": true, "have": true, "had": true, "which": true,
	"not": true, "no": true, "never": true, "none": true, "neither": true, "nor": true,
	"cannot": true, "without": true, "about": true, "into": true, "than": true,
	"there": true, "their": true, "they": true, "also": true, "can": true, "will": true,
}

// HasCitation reports whether text carries a citation marker, either a
// generic one or an evidence ID in brackets.
func HasCitation(text string, evidence []models.Evidence) bool {
	if citationPattern.MatchString(text) {
		return true
	}
	for _, e := range evidence {
		if e.ID != "" && strings.Contains(text, "["+e.ID+"]") {
			return true
		}
	}
	return false
}

func StripCitations(text string) string {
	return citationPattern.ReplaceAllString(text, " ")
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ContentTokens drops stopwords and single characters.
func ContentTokens(text string) []string {
	var out []string
	for _, tok := range Tokenize(text) {
		if len([]rune(tok)) < 2 || stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func NGrams(tokens []string, n int) []string {
	if n <= 0 || len(tokens) < n {
		return nil
	}
	grams := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		grams = append(grams, strings.Join(tokens[i:i+n], " "))
	}
	return grams
}

// Containment is the share of distinct candidate n-grams that also occur in
// the reference. Candidates shorter than n fall back to unigrams.
func Containment(candidate, reference []string, n int) float64 {
	if len(candidate) < n {
		n = 1
	}
	cand := NGrams(candidate, n)
	if len(cand) == 0 {
		return 0
	}
	ref := make(map[string]struct{})
	for _, g := range NGrams(reference, n) {
		ref[g] = struct{}{}
	}

	seen := make(map[string]struct{}, len(cand))
	hits := 0
	for _, g := range cand {
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		if _, ok := ref[g]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(seen))
}

type Number struct {
	Raw     string
	Value   float64
	Percent bool
}

// ExtractNumbers finds numeric tokens, applying scale words and suffixes.
func ExtractNumbers(text string) []Number {
	var out []Number
	for _, m := range numberPattern.FindAllStringSubmatch(text, -1) {
		digits := strings.ReplaceAll(m[1], ",", "") + m[2]
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			continue
		}
		n := Number{Raw: strings.TrimSpace(m[0])}
		switch {
		case m[3] != "":
			n.Percent = true
		case m[4] != "":
			v *= scaleWords[strings.ToLower(m[4])]
		case m[5] != "":
			v *= scaleWords[strings.ToLower(m[5])]
		}
		n.Value = v
		out = append(out, n)
	}
	return out
}

// NumbersMatch compares within a relative tolerance of the larger magnitude.
func NumbersMatch(a, b, tolerance float64) bool {
	if a == b {
		return true
	}
	scale := math.Max(math.Abs(a), math.Abs(b))
	return math.Abs(a-b) <= tolerance*scale
}

func Negated(text string) bool {
	return negationPattern.MatchString(text)
}

type Span struct {
	Start, End int
}

// SentenceSpans splits on terminal punctuation and keeps byte offsets so
// callers can build edits against the original text.
func SentenceSpans(text string) []Span {
	var spans []Span
	for _, loc := range sentencePattern.FindAllStringIndex(text, -1) {
		if strings.TrimSpace(text[loc[0]:loc[1]]) == "" {
			continue
		}
		spans = append(spans, Span{Start: loc[0], End: loc[1]})
	}
	return spans
}

// Sentences segments prose. Abbreviations and decimals are handled by the
// punkt model; offsets are not preserved.
func Sentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	doc, err := prose.NewDocument(text,
		prose.WithTokenization(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		var out []string
		for _, s := range SentenceSpans(text) {
			out = append(out, strings.TrimSpace(text[s.Start:s.End]))
		}
		return out
	}
	out := make([]string, 0, len(doc.Sentences()))
	for _, s := range doc.Sentences() {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// CleanEvidence strips markup from retrieved passages. Plain text passes
// through with whitespace collapsed.
func CleanEvidence(evidence []models.Evidence) []models.Evidence {
	out := make([]models.Evidence, len(evidence))
	for i, e := range evidence {
		e.Text = cleanText(e.Text)
		out[i] = e
	}
	return out
}

func cleanText(text string) string {
	if htmlTagPattern.MatchString(text) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
				s.Remove()
			})
			text = doc.Text()
		}
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(text, " "))
}

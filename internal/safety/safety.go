// Package safety provides content-safety checkers used by the ethics validator.
package safety

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type Result struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories,omitempty"`
	Provider   string   `json:"provider"`
}

type Checker interface {
	Check(ctx context.Context, text string) (Result, error)
}

type category struct {
	name     string
	patterns []*regexp.Regexp
}

// Default lexicon. It targets hateful and violent constructions rather than
// single words so that discussing a topic is not itself flagged.
var defaultLexicon = map[string][]string{
	"dehumanization": {
		`(?i)\b(?:those|these|all) (?:people|immigrants|foreigners|refugees|\w+s)\b.{0,40}\b(?:are|were) (?:vermin|subhuman|parasites|cockroaches|rats|animals|a disease)\b`,
		`(?i)\b(?:vermin|subhuman|parasites|cockroaches) like (?:them|those people)\b`,
	},
	"violence": {
		`(?i)\b(?:should|must|deserve to) be (?:exterminated|eradicated|wiped out|killed|shot|hanged)\b`,
		`(?i)\b(?:kill|murder|exterminate|eliminate) (?:all|every) (?:of )?(?:them|those|these|\w+s)\b`,
	},
	"self_harm": {
		`(?i)\byou should (?:kill|hurt|harm) yourself\b`,
	},
	"weapons": {
		`(?i)\bhow to (?:build|make|assemble) (?:a |an )?(?:pipe )?(?:bomb|explosive device|nerve agent)\b`,
	},
}

// LexiconChecker matches text against compiled category patterns. It has no
// external dependency and never errors at check time.
type LexiconChecker struct {
	categories []category
}

// NewLexiconChecker compiles the default lexicon plus extra patterns, which
// are reported under the "custom" category.
func NewLexiconChecker(extra []string) (*LexiconChecker, error) {
	names := make([]string, 0, len(defaultLexicon))
	for name := range defaultLexicon {
		names = append(names, name)
	}
	sort.Strings(names)

	c := &LexiconChecker{}
	for _, name := range names {
		cat := category{name: name}
		for _, p := range defaultLexicon[name] {
			cat.patterns = append(cat.patterns, regexp.MustCompile(p))
		}
		c.categories = append(c.categories, cat)
	}

	if len(extra) > 0 {
		custom := category{name: "custom"}
		for _, p := range extra {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("invalid ethics pattern %q: %w", p, err)
			}
			custom.patterns = append(custom.patterns, re)
		}
		c.categories = append(c.categories, custom)
	}
	return c, nil
}

func (c *LexiconChecker) Check(ctx context.Context, text string) (Result, error) {
	res := Result{Provider: "lexicon"}
	for _, cat := range c.categories {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		for _, re := range cat.patterns {
			if re.MatchString(text) {
				res.Categories = append(res.Categories, cat.name)
				break
			}
		}
	}
	res.Flagged = len(res.Categories) > 0
	return res, nil
}

// Cache stores moderation results keyed by a text hash.
type Cache interface {
	GetModeration(ctx context.Context, key string) (*Result, error)
	SetModeration(ctx context.Context, key string, res Result) error
}

// CachedChecker consults the cache before the inner checker. Cache errors are
// treated as misses.
type CachedChecker struct {
	inner Checker
	cache Cache
	hash  func(string) string
}

func NewCachedChecker(inner Checker, cache Cache, hash func(string) string) *CachedChecker {
	return &CachedChecker{inner: inner, cache: cache, hash: hash}
}

func (c *CachedChecker) Check(ctx context.Context, text string) (Result, error) {
	key := c.hash(strings.TrimSpace(text))
	if hit, err := c.cache.GetModeration(ctx, key); err == nil && hit != nil {
		return *hit, nil
	}

	res, err := c.inner.Check(ctx, text)
	if err != nil {
		return Result{}, err
	}
	_ = c.cache.SetModeration(ctx, key, res)
	return res, nil
}

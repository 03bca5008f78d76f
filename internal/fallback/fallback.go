// ABOUTME: Deterministic fallback chain used when no rule matches
// ABOUTME: Keyword tiers in order, then a generic reply picked by hashing the message

package fallback

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Result kinds
const (
	KindKeyword = "fallback-keyword"
	KindGeneric = "fallback-generic"
)

// GenericConfidence is reported for hash-selected generic replies.
const GenericConfidence = 0.3

// Tier is one keyword category. A message containing any keyword answers with Reply.
type Tier struct {
	Category   string
	Keywords   []string
	Reply      string
	Confidence float64
}

// Result is the chain's answer.
type Result struct {
	Reply      string
	Kind       string
	Category   string // empty for generic replies
	Confidence float64
}

// Chain evaluates tiers in order. It is immutable and safe for concurrent use.
type Chain struct {
	tiers   []Tier
	generic []string
	apology string
}

// New builds a chain. Keywords are lower-cased and blank ones dropped.
// With no generic replies the chain answers with apology.
func New(tiers []Tier, generic []string, apology string) *Chain {
	c := &Chain{apology: apology}
	for _, t := range tiers {
		kws := make([]string, 0, len(t.Keywords))
		for _, kw := range t.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) == 0 || t.Reply == "" {
			continue
		}
		t.Keywords = kws
		c.tiers = append(c.tiers, t)
	}
	for _, g := range generic {
		if g != "" {
			c.generic = append(c.generic, g)
		}
	}
	return c
}

// Respond always produces a reply. The same message always yields the same result.
func (c *Chain) Respond(message string) Result {
	lower := strings.ToLower(message)
	for _, t := range c.tiers {
		for _, kw := range t.Keywords {
			if strings.Contains(lower, kw) {
				return Result{
					Reply:      t.Reply,
					Kind:       KindKeyword,
					Category:   t.Category,
					Confidence: t.Confidence,
				}
			}
		}
	}

	if len(c.generic) == 0 {
		return Result{Reply: c.apology, Kind: KindGeneric, Confidence: GenericConfidence}
	}
	idx := xxhash.Sum64String(message) % uint64(len(c.generic))
	return Result{Reply: c.generic[idx], Kind: KindGeneric, Confidence: GenericConfidence}
}

// Tiers returns a copy of the configured tiers.
func (c *Chain) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

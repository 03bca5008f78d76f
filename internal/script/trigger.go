// ABOUTME: Trigger parsing and matching for rule scripts
// ABOUTME: Turns "(hi|hello) [there] *" into an anchored regexp with positional captures

package script

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// TriggerKind classifies how a trigger matches input.
type TriggerKind int

const (
	// LiteralTrigger matches only input equal to its pattern.
	LiteralTrigger TriggerKind = iota
	// AlternationTrigger uses (a|b) or [a|b] groups but no wildcard.
	AlternationTrigger
	// WildcardTrigger contains * or [*].
	WildcardTrigger
)

func (k TriggerKind) String() string {
	switch k {
	case LiteralTrigger:
		return "literal"
	case AlternationTrigger:
		return "alternation"
	case WildcardTrigger:
		return "wildcard"
	default:
		return fmt.Sprintf("TriggerKind(%d)", int(k))
	}
}

// Trigger is one compiled "+" line with its responses. Fields must not be
// modified after compilation.
type Trigger struct {
	Pattern    string // normalized trigger text
	Kind       TriggerKind
	Line       int
	Responses  []string
	Exclusions []string // normalized words or phrases that veto a match

	re *regexp.Regexp // nil for literal triggers
}

// Match reports whether the normalized input satisfies the trigger and
// returns its captures in order. Captures are empty for literal triggers.
func (t *Trigger) Match(input string) ([]string, bool) {
	if t.excluded(input) {
		return nil, false
	}
	if t.Kind == LiteralTrigger {
		return nil, input == t.Pattern
	}

	m := t.re.FindStringSubmatch(" " + input + " ")
	if m == nil {
		return nil, false
	}
	stars := make([]string, 0, len(m)-1)
	for _, s := range m[1:] {
		stars = append(stars, strings.TrimSpace(s))
	}
	return stars, true
}

func (t *Trigger) excluded(input string) bool {
	if len(t.Exclusions) == 0 {
		return false
	}
	padded := " " + input + " "
	for _, w := range t.Exclusions {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}

var errMalformedGroup = errors.New("malformed group")

type tokenKind int

const (
	tokWord tokenKind = iota
	tokWildcard
	tokGroup
)

type token struct {
	kind     tokenKind
	optional bool
	text     string   // tokWord
	options  []string // tokGroup
}

// tokenize splits a normalized trigger into words, groups and wildcards.
func tokenize(pattern string) ([]token, error) {
	var tokens []token
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, token{kind: tokWord, text: word.String()})
			word.Reset()
		}
	}

	rs := []rune(pattern)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch r {
		case ' ':
			flush()
		case '*':
			flush()
			tokens = append(tokens, token{kind: tokWildcard})
		case '(', '[':
			flush()
			closer := ')'
			if r == '[' {
				closer = ']'
			}
			end := -1
			for j := i + 1; j < len(rs); j++ {
				if rs[j] == '(' || rs[j] == '[' {
					return nil, fmt.Errorf("%w: nested group in %q", errMalformedGroup, pattern)
				}
				if rs[j] == ')' || rs[j] == ']' {
					if rs[j] != closer {
						return nil, fmt.Errorf("%w: mismatched %q in %q", errMalformedGroup, rs[j], pattern)
					}
					end = j
					break
				}
			}
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed %q in %q", errMalformedGroup, r, pattern)
			}
			tok, err := parseGroup(string(rs[i+1:end]), r == '[')
			if err != nil {
				return nil, fmt.Errorf("%w in %q", err, pattern)
			}
			tokens = append(tokens, tok)
			i = end
		case ')', ']', '|':
			return nil, fmt.Errorf("%w: unexpected %q in %q", errMalformedGroup, r, pattern)
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return tokens, nil
}

func parseGroup(body string, optional bool) (token, error) {
	body = strings.TrimSpace(body)
	if optional && body == "*" {
		return token{kind: tokWildcard, optional: true}, nil
	}

	var options []string
	for _, opt := range strings.Split(body, "|") {
		opt = strings.Join(strings.Fields(opt), " ")
		if opt == "" {
			return token{}, fmt.Errorf("%w: empty alternative", errMalformedGroup)
		}
		if strings.Contains(opt, "*") {
			return token{}, fmt.Errorf("%w: wildcard inside alternative", errMalformedGroup)
		}
		options = append(options, opt)
	}
	return token{kind: tokGroup, optional: optional, options: options}, nil
}

// compileTrigger classifies a normalized pattern and builds its matcher.
//
// The regexp runs against the input padded with one space on each side and
// every token consumes its trailing space, so optional tokens vanish cleanly.
func compileTrigger(pattern string) (TriggerKind, *regexp.Regexp, error) {
	tokens, err := tokenize(pattern)
	if err != nil {
		return 0, nil, err
	}
	if len(tokens) == 0 {
		return 0, nil, fmt.Errorf("%w: no words in %q", errMalformedGroup, pattern)
	}

	kind := LiteralTrigger
	var b strings.Builder
	b.WriteString("^ ")
	for _, tok := range tokens {
		switch tok.kind {
		case tokWord:
			b.WriteString(regexp.QuoteMeta(tok.text) + " ")
		case tokWildcard:
			kind = WildcardTrigger
			if tok.optional {
				b.WriteString(`(?:(\S+(?: \S+)*?) )?`)
			} else {
				b.WriteString(`(\S+(?: \S+)*?) `)
			}
		case tokGroup:
			if kind == LiteralTrigger {
				kind = AlternationTrigger
			}
			quoted := make([]string, len(tok.options))
			for i, opt := range tok.options {
				quoted[i] = regexp.QuoteMeta(opt)
			}
			alts := strings.Join(quoted, "|")
			if tok.optional {
				b.WriteString("(?:(?:" + alts + ") )?")
			} else {
				b.WriteString("(" + alts + ") ")
			}
		}
	}
	b.WriteString("$")

	if kind == LiteralTrigger {
		return kind, nil, nil
	}
	re, err := regexp.Compile(b.String())
	if err != nil {
		return 0, nil, fmt.Errorf("compiling trigger %q: %w", pattern, err)
	}
	return kind, re, nil
}

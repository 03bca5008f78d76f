// ABOUTME: Compiler for the line-oriented trigger/response rule dialect
// ABOUTME: Produces an immutable RuleSet of topics, or a CompileError with every bad line

package script

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// DefaultTopic holds triggers declared outside any topic block.
const DefaultTopic = "random"

// Topic is a named scope of triggers in declaration order.
type Topic struct {
	Name     string
	Triggers []*Trigger
}

// Find returns the trigger that answers the normalized input. A literal
// trigger equal to the input wins; otherwise the first non-literal trigger
// that accepts it, in declaration order.
func (t *Topic) Find(input string) (*Trigger, []string, bool) {
	for _, trig := range t.Triggers {
		if trig.Kind != LiteralTrigger {
			continue
		}
		if _, ok := trig.Match(input); ok {
			return trig, nil, true
		}
	}
	for _, trig := range t.Triggers {
		if trig.Kind == LiteralTrigger {
			continue
		}
		if stars, ok := trig.Match(input); ok {
			return trig, stars, true
		}
	}
	return nil, nil, false
}

// RuleSet is a compiled script. It is immutable and safe for concurrent use.
type RuleSet struct {
	topics   map[string]*Topic
	Warnings []Diagnostic
}

// Topic returns the named topic, or nil.
func (rs *RuleSet) Topic(name string) *Topic {
	return rs.topics[name]
}

// TopicNames returns the topic names in sorted order.
func (rs *RuleSet) TopicNames() []string {
	names := make([]string, 0, len(rs.topics))
	for name := range rs.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TriggerCount returns the number of answerable triggers across all topics.
func (rs *RuleSet) TriggerCount() int {
	n := 0
	for _, t := range rs.topics {
		n += len(t.Triggers)
	}
	return n
}

type compiler struct {
	topics    map[string]*Topic
	topic     string // current scope
	topicLine int    // line of the open ">" or 0
	current   *Trigger
	broken    bool // last trigger failed to compile; its body is skipped
	errs      []Diagnostic
	warnings  []Diagnostic
}

func (c *compiler) errorf(line int, format string, args ...any) {
	c.errs = append(c.errs, Diagnostic{Line: line, Message: fmt.Sprintf(format, args...)})
}

func (c *compiler) warnf(line int, format string, args ...any) {
	c.warnings = append(c.warnings, Diagnostic{Line: line, Message: fmt.Sprintf(format, args...)})
}

// finishTrigger files the pending trigger under its topic.
func (c *compiler) finishTrigger() {
	t := c.current
	c.current = nil
	if t == nil {
		return
	}
	if len(t.Responses) == 0 {
		c.warnf(t.Line, "trigger %q has no responses", t.Pattern)
		return
	}
	topic, ok := c.topics[c.topic]
	if !ok {
		topic = &Topic{Name: c.topic}
		c.topics[c.topic] = topic
	}
	topic.Triggers = append(topic.Triggers, t)
}

// Compile parses rule script source.
//
//	+ trigger text          a trigger; (a|b) alternation, [a|b] optional, * and [*] wildcards
//	- response text         one or more per trigger, chosen at random
//	^ more text             continues the previous response
//	~ word|other            rejects input containing any listed word
//	> topic name            opens a topic scope, closed by "< topic"
//	// comment
//
// Responses may contain <star>, <starN>, <get name>, <set name=value> and {topic=name}.
func Compile(source string) (*RuleSet, error) {
	c := &compiler{
		topics: make(map[string]*Topic),
		topic:  DefaultTopic,
	}

	for i, raw := range strings.Split(source, "\n") {
		lineNo := i + 1
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}

		prefix, size := utf8.DecodeRuneInString(line)
		rest := strings.TrimSpace(line[size:])
		if c.broken && (prefix == '-' || prefix == '^' || prefix == '~') {
			continue
		}
		switch prefix {
		case '+':
			c.finishTrigger()
			c.trigger(lineNo, rest)
		case '-':
			if c.current == nil {
				c.errorf(lineNo, "response without a trigger")
				continue
			}
			c.current.Responses = append(c.current.Responses, rest)
		case '^':
			if c.current == nil || len(c.current.Responses) == 0 {
				c.warnf(lineNo, "continuation without a response")
				continue
			}
			last := len(c.current.Responses) - 1
			c.current.Responses[last] += " " + rest
		case '~':
			if c.current == nil {
				c.warnf(lineNo, "exclusion without a trigger")
				continue
			}
			for _, w := range strings.Split(rest, "|") {
				if w = Normalize(w); w != "" {
					c.current.Exclusions = append(c.current.Exclusions, w)
				}
			}
		case '>':
			c.finishTrigger()
			c.broken = false
			c.openTopic(lineNo, rest)
		case '<':
			c.finishTrigger()
			c.broken = false
			if c.topicLine == 0 {
				c.errorf(lineNo, "topic close without an open topic")
				continue
			}
			c.topic, c.topicLine = DefaultTopic, 0
		default:
			c.warnf(lineNo, "unknown directive %q ignored", prefix)
		}
	}
	c.finishTrigger()

	if c.topicLine != 0 {
		c.errorf(c.topicLine, "topic %q is never closed", c.topic)
	}

	if len(c.errs) > 0 {
		return nil, &CompileError{Diagnostics: c.errs}
	}
	return &RuleSet{topics: c.topics, Warnings: c.warnings}, nil
}

func (c *compiler) trigger(lineNo int, text string) {
	c.broken = true
	pattern := normalizeTrigger(text)
	if pattern == "" {
		c.errorf(lineNo, "empty trigger")
		return
	}
	kind, re, err := compileTrigger(pattern)
	if err != nil {
		if errors.Is(err, errMalformedGroup) {
			c.errorf(lineNo, "%v", err)
		} else {
			c.errorf(lineNo, "invalid trigger: %v", err)
		}
		return
	}
	c.current = &Trigger{Pattern: pattern, Kind: kind, Line: lineNo, re: re}
	c.broken = false
}

func (c *compiler) openTopic(lineNo int, text string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "topic") {
		c.errorf(lineNo, "expected \"> topic name\"")
		return
	}
	if c.topicLine != 0 {
		c.errorf(lineNo, "topic opened while topic %q is still open", c.topic)
		return
	}
	if len(fields) < 2 {
		c.errorf(lineNo, "empty topic name")
		return
	}
	name := topicName(fields[1])
	if name == "" {
		c.errorf(lineNo, "empty topic name")
		return
	}
	c.topic, c.topicLine = name, lineNo
}

// topicName lower-cases a topic label. Underscores and digits are kept, so
// punctuation stripping from Normalize does not apply.
func topicName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

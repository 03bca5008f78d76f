// ABOUTME: Tests for the rule script compiler and trigger matching
// ABOUTME: Covers directives, topics, trigger kinds, diagnostics and warnings

package script

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, src string) *RuleSet {
	t.Helper()
	rs, err := Compile(src)
	require.NoError(t, err)
	return rs
}

func compileErr(t *testing.T, src string) *CompileError {
	t.Helper()
	_, err := Compile(src)
	require.Error(t, err)
	var ce *CompileError
	require.True(t, errors.As(err, &ce), "want *CompileError, got %T", err)
	return ce
}

func TestCompile_Basic(t *testing.T) {
	rs := mustCompile(t, `
// greetings
+ Hola
- Hi!
- Hello!

+ bye
- See you
^ soon.
`)
	topic := rs.Topic(DefaultTopic)
	require.NotNil(t, topic)
	require.Len(t, topic.Triggers, 2)

	hola := topic.Triggers[0]
	assert.Equal(t, "hola", hola.Pattern)
	assert.Equal(t, LiteralTrigger, hola.Kind)
	assert.Equal(t, 3, hola.Line)
	assert.Equal(t, []string{"Hi!", "Hello!"}, hola.Responses)

	assert.Equal(t, []string{"See you soon."}, topic.Triggers[1].Responses)
	assert.Equal(t, 2, rs.TriggerCount())
	assert.Empty(t, rs.Warnings)
}

func TestCompile_TriggerKinds(t *testing.T) {
	rs := mustCompile(t, `
+ hello
- a
+ (hi|hey) there
- b
+ [please] help
- c
+ my name is *
- d
+ hi [*]
- e
`)
	kinds := make([]TriggerKind, 0)
	for _, trig := range rs.Topic(DefaultTopic).Triggers {
		kinds = append(kinds, trig.Kind)
	}
	assert.Equal(t, []TriggerKind{
		LiteralTrigger,
		AlternationTrigger,
		AlternationTrigger,
		WildcardTrigger,
		WildcardTrigger,
	}, kinds)
	assert.Equal(t, "wildcard", WildcardTrigger.String())
}

func TestTrigger_Match(t *testing.T) {
	tests := []struct {
		name    string
		trigger string
		input   string
		ok      bool
		stars   []string
	}{
		{"literal exact", "hola", "hola", true, nil},
		{"literal not prefix", "hola", "hola amigo", false, nil},
		{"alternation first", "(hi|hey) there", "hi there", true, []string{"hi"}},
		{"alternation second", "(hi|hey) there", "hey there", true, []string{"hey"}},
		{"alternation miss", "(hi|hey) there", "yo there", false, nil},
		{"multiword alternative", "(good morning|hello) bot", "good morning bot", true, []string{"good morning"}},
		{"optional present", "[please] help", "please help", true, []string{}},
		{"optional absent", "[please] help", "help", true, []string{}},
		{"wildcard one word", "my name is *", "my name is ana", true, []string{"ana"}},
		{"wildcard many words", "my name is *", "my name is ana maria", true, []string{"ana maria"}},
		{"wildcard needs a word", "my name is *", "my name is", false, nil},
		{"optional wildcard absent", "hi [*]", "hi", true, []string{""}},
		{"optional wildcard present", "hi [*]", "hi bot", true, []string{"bot"}},
		{"two wildcards", "* and *", "cats and dogs", true, []string{"cats", "dogs"}},
		{"no partial word", "help *", "helpful thing", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := mustCompile(t, "+ "+tt.trigger+"\n- ok")
			trig := rs.Topic(DefaultTopic).Triggers[0]

			stars, ok := trig.Match(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok && tt.stars != nil {
				assert.Equal(t, tt.stars, stars)
			}
		})
	}
}

func TestTrigger_Exclusions(t *testing.T) {
	rs := mustCompile(t, `
+ * price
~ no|never mind
- Our prices start at 10.
`)
	trig := rs.Topic(DefaultTopic).Triggers[0]
	assert.Equal(t, []string{"no", "never mind"}, trig.Exclusions)

	_, ok := trig.Match("what is the price")
	assert.True(t, ok)

	_, ok = trig.Match("no price")
	assert.False(t, ok)

	_, ok = trig.Match("never mind the price")
	assert.False(t, ok)

	_, ok = trig.Match("know the price")
	assert.True(t, ok, "exclusions match whole words only")
}

func TestTopic_Find_LiteralFirst(t *testing.T) {
	rs := mustCompile(t, `
+ *
- catch all
+ help me
- literal
+ help *
- wildcard
`)
	topic := rs.Topic(DefaultTopic)

	trig, _, ok := topic.Find("help me")
	require.True(t, ok)
	assert.Equal(t, "literal", trig.Responses[0], "exact literal beats earlier wildcard")

	trig, stars, ok := topic.Find("help you")
	require.True(t, ok)
	assert.Equal(t, "catch all", trig.Responses[0], "first accepting non-literal in declaration order")
	assert.Equal(t, []string{"help you"}, stars)

	_, _, ok = mustCompile(t, "+ a\n- b").Topic(DefaultTopic).Find("zzz")
	assert.False(t, ok)
}

func TestCompile_Topics(t *testing.T) {
	rs := mustCompile(t, `
+ hola
- hi

> topic Pricing
+ how much
- 10 dollars
< topic

> topic session_restart
+ *
- welcome back
< topic

+ adios
- bye
`)
	assert.Equal(t, []string{"pricing", "random", "session_restart"}, rs.TopicNames())
	assert.Len(t, rs.Topic("random").Triggers, 2)
	assert.Len(t, rs.Topic("pricing").Triggers, 1)
	assert.Nil(t, rs.Topic("missing"))
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		line    int
		message string
	}{
		{"response without trigger", "- orphan", 1, "response without a trigger"},
		{"empty trigger", "+ !!!\n- x", 1, "empty trigger"},
		{"empty topic name", "> topic\n< topic", 1, "empty topic name"},
		{"close without open", "< topic", 1, "without an open topic"},
		{"nested topic", "> topic a\n> topic b\n< topic", 2, "still open"},
		{"unclosed topic", "+ a\n- b\n> topic a\n+ c\n- d", 3, "never closed"},
		{"unbalanced group", "+ (hi|hello\n- x", 1, "malformed group"},
		{"empty alternative", "+ (hi|)\n- x", 1, "empty alternative"},
		{"stray bracket", "+ hi]\n- x", 1, "malformed group"},
		{"not a topic block", "> begin\n< begin", 1, "expected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := compileErr(t, tt.src)
			require.NotEmpty(t, ce.Diagnostics)
			d := ce.Diagnostics[0]
			assert.Equal(t, tt.line, d.Line)
			assert.Contains(t, d.Message, tt.message)
		})
	}
}

func TestCompile_CollectsAllErrors(t *testing.T) {
	ce := compileErr(t, `
- orphan one
+ ok
- fine
-
+ (broken
- skipped body
< topic
`)
	require.Len(t, ce.Diagnostics, 3)
	assert.Equal(t, 2, ce.Diagnostics[0].Line)
	assert.Equal(t, 6, ce.Diagnostics[1].Line)
	assert.Equal(t, 8, ce.Diagnostics[2].Line)
	assert.True(t, strings.HasPrefix(ce.Error(), "3 compile errors:"))
}

func TestCompile_Warnings(t *testing.T) {
	rs := mustCompile(t, `
^ dangling continuation
~ dangling exclusion
+ no responses here
+ hola
- hi
? what is this
`)
	require.Len(t, rs.Warnings, 4)
	assert.Contains(t, rs.Warnings[0].Message, "continuation")
	assert.Contains(t, rs.Warnings[1].Message, "exclusion")
	assert.Contains(t, rs.Warnings[2].Message, "no responses")
	assert.Equal(t, 4, rs.Warnings[2].Line)
	assert.Contains(t, rs.Warnings[3].Message, "unknown directive")

	assert.Equal(t, 1, rs.TriggerCount(), "trigger without responses is dropped")
}

func TestCompileError_SingleMessage(t *testing.T) {
	err := &CompileError{Diagnostics: []Diagnostic{{Line: 4, Message: "empty trigger"}}}
	assert.Equal(t, "compile error: line 4: empty trigger", err.Error())
}

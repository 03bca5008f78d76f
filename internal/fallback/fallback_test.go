// ABOUTME: Tests for the fallback chain
// ABOUTME: Covers tier order, substring semantics, determinism and the empty generic list

package fallback

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultChain() *Chain {
	return New(DefaultTiers(), DefaultGenericReplies(), DefaultApology)
}

func TestChain_PricingScenario(t *testing.T) {
	res := defaultChain().Respond("precio del producto")

	assert.Equal(t, KindKeyword, res.Kind)
	assert.Equal(t, "pricing", res.Category)
	assert.Equal(t, 0.6, res.Confidence)
	assert.Equal(t, DefaultTiers()[3].Reply, res.Reply)
}

func TestChain_Tiers(t *testing.T) {
	tests := []struct {
		message    string
		category   string
		confidence float64
	}{
		{"Hola, buenas", "greeting", 0.7},
		{"HELLO there", "greeting", 0.7},
		{"muchas gracias", "farewell", 0.7},
		{"¿Cuál es su horario?", "schedule", 0.6},
		{"How much is it", "pricing", 0.6},
		{"hola, cuál es el precio", "greeting", 0.7},
	}

	c := defaultChain()
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			res := c.Respond(tt.message)
			assert.Equal(t, KindKeyword, res.Kind)
			assert.Equal(t, tt.category, res.Category)
			assert.Equal(t, tt.confidence, res.Confidence)
		})
	}
}

func TestChain_SubstringWithoutWordBoundary(t *testing.T) {
	c := New([]Tier{{Category: "pricing", Keywords: []string{"cost"}, Reply: "contact", Confidence: 0.6}}, nil, "sorry")

	res := c.Respond("this is costly")
	assert.Equal(t, "pricing", res.Category)
}

func TestChain_GenericIsDeterministic(t *testing.T) {
	c := defaultChain()
	generic := DefaultGenericReplies()

	for i := range 50 {
		msg := fmt.Sprintf("xyz message number %d", i)
		first := c.Respond(msg)
		second := c.Respond(msg)

		require.Equal(t, KindGeneric, first.Kind)
		assert.Equal(t, first, second)
		assert.Contains(t, generic, first.Reply)
		assert.Equal(t, GenericConfidence, first.Confidence)
	}
}

func TestChain_GenericSpreadsAcrossReplies(t *testing.T) {
	c := New(nil, []string{"a", "b", "c"}, "sorry")

	seen := map[string]bool{}
	for i := range 200 {
		seen[c.Respond(fmt.Sprintf("m%d", i)).Reply] = true
	}
	assert.Len(t, seen, 3)
}

func TestChain_EmptyGenericUsesApology(t *testing.T) {
	c := New(nil, nil, "sorry")

	res := c.Respond("anything")
	assert.Equal(t, "sorry", res.Reply)
	assert.Equal(t, KindGeneric, res.Kind)
}

func TestNew_DropsBlankTiers(t *testing.T) {
	c := New([]Tier{
		{Category: "empty", Keywords: []string{" ", ""}, Reply: "x"},
		{Category: "noreply", Keywords: []string{"a"}},
		{Category: "ok", Keywords: []string{" PRICE "}, Reply: "y", Confidence: 0.6},
	}, []string{"", "g"}, "sorry")

	tiers := c.Tiers()
	require.Len(t, tiers, 1)
	assert.Equal(t, []string{"price"}, tiers[0].Keywords)
	assert.Equal(t, "g", c.Respond("zzz").Reply)
}

package twig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTwig_RoundTrip(t *testing.T) {
	for _, raw := range []string{"ecc", "requiv@primary@component", "niters@emcee_sol@solution"} {
		t.Run(raw, func(t *testing.T) {
			tw, err := Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, raw, tw.String())

			again, err := Parse(tw.String())
			require.NoError(t, err)
			assert.True(t, tw.Equal(again))
		})
	}
}

func TestTwig_Matches(t *testing.T) {
	values := []string{"requiv", "primary", "component", "star"}

	testCases := []struct {
		raw      string
		expected bool
	}{
		{"requiv", true},
		{"component@requiv", true},
		{"requiv@primary@component", true},
		{"requiv@secondary", false},
		{"req*@prim*", true},
		{"requiv_max", false},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.expected, MustParse(tc.raw).Matches(values))
		})
	}
}

func TestTwig_EmptyMatchesEverything(t *testing.T) {
	var tw *Twig
	assert.True(t, tw.Matches([]string{"anything"}))
	assert.Equal(t, "", tw.String())
	assert.True(t, (*Twig)(nil).Equal(nil))
	assert.False(t, New("a").Equal(nil))
}

func TestMatchSegment_IgnoresEmptyValues(t *testing.T) {
	assert.False(t, MatchSegment("*", ""))
	assert.True(t, MatchSegment("*", "x"))
}

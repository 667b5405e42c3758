package twig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name         string
		raw          string
		expectErr    bool
		expectedTwig *Twig
	}{
		{
			name:         "single qualifier",
			raw:          "ecc",
			expectedTwig: New("ecc"),
		},
		{
			name:         "qualifier with component and context",
			raw:          "requiv@primary@component",
			expectedTwig: New("requiv", "primary", "component"),
		},
		{
			name:         "glob segment",
			raw:          "mesh*@dataset",
			expectedTwig: New("mesh*", "dataset"),
		},
		{
			name:      "error - empty segment",
			raw:       "requiv@@component",
			expectErr: true,
		},
		{
			name:      "error - trailing separator",
			raw:       "requiv@",
			expectErr: true,
		},
		{
			name:      "error - empty string",
			raw:       "",
			expectErr: true,
		},
		{
			name:      "error - whitespace in segment",
			raw:       "req uiv@primary",
			expectErr: true,
		},
		{
			name:      "error - lone dot",
			raw:       "requiv@.",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tw, err := Parse(tc.raw)

			if tc.expectErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, tw)
			assert.True(t, tc.expectedTwig.Equal(tw), "parsed twig does not match expected twig")
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("a@@b") })
	assert.NotPanics(t, func() { MustParse("a@b") })
}

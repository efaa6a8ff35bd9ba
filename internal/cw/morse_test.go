package cw

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func units(s string) []bool {
	out := make([]bool, len(s))
	for i, c := range s {
		out[i] = c == '1'
	}
	return out
}

func TestEncodeMorse_Timing(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"dit", "E", "1000"},
		{"dah", "T", "111000"},
		{"A", "A", "10111000"},
		{"space", " ", "000"},
		{"word gap", "E E", "1000" + "000" + "1000"},
		{"lower case", "e", "1000"},
		{"outside table", "<", "000"},
		{"end of work", "\\", "101010111010111000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl, err := EncodeMorse(tt.text, 1024)
			require.NoError(t, err)
			assert.Equal(t, units(tt.want), tl.Units())
		})
	}
}

func TestEncodeMorse_Capacity(t *testing.T) {
	// "EE" takes exactly eight units
	tl, err := EncodeMorse("EE", 8)
	require.NoError(t, err)
	assert.Equal(t, 8, tl.Len())

	_, err = EncodeMorse("EE", 7)
	assert.ErrorIs(t, err, ErrTimelineFull)
}

func TestMorseTable_Coverage(t *testing.T) {
	for r := 'A'; r <= 'Z'; r++ {
		_, ok := MorsePattern(r)
		assert.True(t, ok, "letter %c", r)
	}
	for r := '0'; r <= '9'; r++ {
		_, ok := MorsePattern(r)
		assert.True(t, ok, "digit %c", r)
	}
	for r := range morseTable {
		assert.True(t, r >= '+' && r <= '\\', "%q outside table range", r)
	}
	assert.Len(t, morseReverse, len(morseTable), "patterns must be unique")
}

func tableRunes() []rune {
	rs := make([]rune, 0, len(morseTable))
	for r := range morseTable {
		rs = append(rs, r)
	}
	return rs
}

func TestMorse_RoundTrip(t *testing.T) {
	alphabet := tableRunes()
	rapid.Check(t, func(t *rapid.T) {
		words := rapid.SliceOfN(
			rapid.SliceOfN(rapid.SampledFrom(alphabet), 1, 8),
			1, 6,
		).Draw(t, "words")

		parts := make([]string, len(words))
		for i, w := range words {
			parts[i] = string(w)
		}
		text := strings.Join(parts, " ")

		tl, err := EncodeMorse(text, 1<<16)
		if err != nil {
			t.Fatalf("encode %q: %v", text, err)
		}
		if got := DecodeMorse(tl.Units()); got != text {
			t.Fatalf("round trip %q -> %q", text, got)
		}
	})
}

func TestDecodeMorse_UnknownPattern(t *testing.T) {
	// eight dits is not in the table
	got := DecodeMorse(units("1010101010101010" + "00"))
	assert.Equal(t, "�", got)
}

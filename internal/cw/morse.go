// internal/cw/morse.go
// Package cw generates Morse and PSK keyed audio for the repeater's
// identifications and beacons.
package cw

import (
	"strings"
	"unicode"
)

// Morse code timing in dit units (ITU)
const (
	// DahUnits is the key-down length of a dah
	DahUnits = 3
	// ElementGapUnits separates elements within a character
	ElementGapUnits = 1
	// CharGapUnits separates characters
	CharGapUnits = 3
	// WordGapUnits is the key-up time added for a space or unknown character
	WordGapUnits = 3
)

// morseTable covers '+' through '\'. Entries missing from the range are
// sent as a word gap. '[' is the starting signal and '\' the end of work
// prosign.
var morseTable = map[rune]string{
	'+': ".-.-.", ',': "--..--", '-': "-....-", '.': ".-.-.-", '/': "-..-.",
	'0': "-----", '1': ".----", '2': "..---", '3': "...--", '4': "....-",
	'5': ".....", '6': "-....", '7': "--...", '8': "---..", '9': "----.",
	':': "---...", ';': "-.-.-.", '=': "-...-", '?': "..--..", '@': ".--.-.",
	'A': ".-", 'B': "-...", 'C': "-.-.", 'D': "-..", 'E': ".", 'F': "..-.",
	'G': "--.", 'H': "....", 'I': "..", 'J': ".---", 'K': "-.-", 'L': ".-..",
	'M': "--", 'N': "-.", 'O': "---", 'P': ".--.", 'Q': "--.-", 'R': ".-.",
	'S': "...", 'T': "-", 'U': "..-", 'V': "...-", 'W': ".--", 'X': "-..-",
	'Y': "-.--", 'Z': "--..",
	'[': "-.-.-", '\\': "...-.-",
}

var morseReverse = func() map[string]rune {
	m := make(map[string]rune, len(morseTable))
	for r, p := range morseTable {
		m[p] = r
	}
	return m
}()

// MorsePattern returns the dot/dash pattern for r.
func MorsePattern(r rune) (string, bool) {
	p, ok := morseTable[unicode.ToUpper(r)]
	return p, ok
}

// EncodeMorse converts text into an on/off timeline. Lower case is sent as
// upper case.
func EncodeMorse(text string, limit int) (*Timeline, error) {
	tl := NewTimeline(limit)
	for _, r := range text {
		pattern, ok := MorsePattern(r)
		if !ok {
			if err := tl.repeat(false, WordGapUnits); err != nil {
				return nil, err
			}
			continue
		}
		for _, el := range pattern {
			on := 1
			if el == '-' {
				on = DahUnits
			}
			if err := tl.repeat(true, on); err != nil {
				return nil, err
			}
			if err := tl.repeat(false, ElementGapUnits); err != nil {
				return nil, err
			}
		}
		if err := tl.repeat(false, CharGapUnits-ElementGapUnits); err != nil {
			return nil, err
		}
	}
	return tl, nil
}

// DecodeMorse reads an on/off timeline back into text. Patterns missing
// from the table decode as U+FFFD.
func DecodeMorse(units []bool) string {
	var out, sym strings.Builder

	flush := func() {
		if sym.Len() == 0 {
			return
		}
		if r, ok := morseReverse[sym.String()]; ok {
			out.WriteRune(r)
		} else {
			out.WriteRune(unicode.ReplacementChar)
		}
		sym.Reset()
	}

	for i := 0; i < len(units); {
		j := i
		for j < len(units) && units[j] == units[i] {
			j++
		}
		run := j - i
		if units[i] {
			if run >= DahUnits {
				sym.WriteByte('-')
			} else {
				sym.WriteByte('.')
			}
		} else if run >= CharGapUnits {
			hadChar := sym.Len() > 0
			flush()
			gaps := run
			if hadChar {
				gaps -= CharGapUnits
			}
			for ; gaps >= WordGapUnits; gaps -= WordGapUnits {
				out.WriteByte(' ')
			}
		}
		i = j
	}
	flush()
	return out.String()
}

// internal/cw/varicode.go
package cw

import (
	"errors"
	"strings"
)

// ErrVaricodeFraming indicates a bit stream that is not valid varicode
var ErrVaricodeFraming = errors.New("invalid varicode framing")

// PSK framing in bits
const (
	// PSKPreambleBits of continuous reversals let the receiver lock
	PSKPreambleBits = 20
	// PSKPostambleBits close the transmission
	PSKPostambleBits = 20
)

// varicode is indexed by 7-bit ASCII. No code contains "00", so two zero
// bits delimit characters.
var varicode = [128]string{
	"1010101011", "1011011011", "1011101101", "1101110111", "1011101011", "1101011111", "1011101111", "1011111101",
	"1011111111", "11101111", "11101", "1101101111", "1011011101", "11111", "1101110101", "1110101011",
	"1011110111", "1011110101", "1110101101", "1110101111", "1101011011", "1101101011", "1101101101", "1101010111",
	"1101111011", "1101111101", "1110110111", "1101010101", "1101011101", "1110111011", "1011111011", "1101111111",
	"1", "111111111", "101011111", "111110101", "111011011", "1011010101", "1010111011", "101111111",
	"11111011", "11110111", "101101111", "111011111", "1110101", "110101", "1010111", "110101111",
	"10110111", "10111101", "11101101", "11111111", "101110111", "101011011", "101101011", "110101101",
	"110101011", "110110111", "11110101", "110111101", "111101101", "1010101", "111010111", "1010101111",
	"1010111101", "1111101", "11101011", "10101101", "10110101", "1110111", "11011011", "11111101",
	"101010101", "1111111", "111111101", "101111101", "11010111", "10111011", "11011101", "10101011",
	"11010101", "111011101", "10101111", "1101111", "1101101", "101010111", "110110101", "101011101",
	"101110101", "101111011", "1010101101", "111110111", "111101111", "111111011", "1010111111", "101101101",
	"1011011111", "1011", "1011111", "101111", "101101", "11", "111101", "1011011",
	"101011", "1101", "111101011", "10111111", "11011", "111011", "1111", "111",
	"111111", "110111111", "10101", "10111", "101", "110111", "1111011", "1101011",
	"11011111", "1011101", "111010101", "1010110111", "110111011", "1010110101", "1011010111", "1110110101",
}

var varicodeReverse = func() map[string]byte {
	m := make(map[string]byte, len(varicode))
	for i, code := range varicode {
		m[code] = byte(i)
	}
	return m
}()

// Varicode returns the bit string for c.
func Varicode(c byte) (string, bool) {
	if int(c) >= len(varicode) {
		return "", false
	}
	return varicode[c], true
}

// EncodeVaricode converts text into a phase-bit timeline framed by the
// preamble and postamble. Bytes outside 7-bit ASCII are skipped.
func EncodeVaricode(text string, limit int) (*Timeline, error) {
	tl := NewTimeline(limit)
	if err := tl.repeat(false, PSKPreambleBits); err != nil {
		return nil, err
	}
	for i := 0; i < len(text); i++ {
		code, ok := Varicode(text[i])
		if !ok {
			continue
		}
		for _, b := range code {
			if err := tl.Append(b == '1'); err != nil {
				return nil, err
			}
		}
		if err := tl.Append(false, false); err != nil {
			return nil, err
		}
	}
	if err := tl.repeat(false, PSKPostambleBits); err != nil {
		return nil, err
	}
	return tl, nil
}

// DecodeVaricode recovers text from a phase-bit stream. Runs of zeros
// separate characters.
func DecodeVaricode(bits []bool) (string, error) {
	var out strings.Builder
	var sym strings.Builder
	zeros := 0

	for _, b := range bits {
		if b {
			for ; zeros > 0 && sym.Len() > 0; zeros-- {
				sym.WriteByte('0')
			}
			zeros = 0
			sym.WriteByte('1')
			continue
		}
		zeros++
		if zeros == 2 && sym.Len() > 0 {
			c, ok := varicodeReverse[sym.String()]
			if !ok {
				return out.String(), ErrVaricodeFraming
			}
			out.WriteByte(c)
			sym.Reset()
		}
	}
	if sym.Len() > 0 {
		return out.String(), ErrVaricodeFraming
	}
	return out.String(), nil
}

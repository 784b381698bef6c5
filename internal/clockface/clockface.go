// Package clockface renders the profile display name: the account's base name
// followed by the current wall-clock time in a decorative Unicode style.
//
// Rendering is pure: the same base, style, and timestamp always produce the
// same bytes.
package clockface

import (
	"strings"
	"time"
)

// DigitStyle selects the Unicode variant used for the clock digits.
type DigitStyle int

const (
	DigitPlain        DigitStyle = iota // 17:32
	DigitDoubleStruck                   // 𝟙𝟟:𝟛𝟚
	DigitFullwidth                      // １７:３２
	DigitBold                           // 𝟏𝟕:𝟑𝟐
)

// NameStyle selects the Unicode variant applied to the base name (ASCII
// letters only; anything else passes through untouched).
type NameStyle int

const (
	NamePlain     NameStyle = iota
	NameBold                // 𝐀..𝐳 mathematical bold
	NameFullwidth           // Ａ..ｚ
	NameItalic              // 𝐴..𝑧 mathematical italic
)

// digit tables map "0123456789" in order; colon handled separately.
var digitTables = map[DigitStyle][]rune{
	DigitDoubleStruck: []rune("𝟘𝟙𝟚𝟛𝟜𝟝𝟞𝟟𝟠𝟡"),
	DigitFullwidth:    []rune("０１２３４５６７８９"),
	DigitBold:         []rune("𝟎𝟏𝟐𝟑𝟒𝟓𝟔𝟕𝟖𝟗"),
}

const fullwidthColon = '：'

// StyleDigits rewrites ASCII digits (and, for the fullwidth style, the colon)
// in s to the selected style. Unknown styles render plain.
func StyleDigits(s string, style DigitStyle) string {
	table, ok := digitTables[style]
	if !ok {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) * 4)
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(table[r-'0'])
		case r == ':' && style == DigitFullwidth:
			b.WriteRune(fullwidthColon)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// letterOffsets give the codepoint of styled 'A' and 'a' for each name style.
var letterOffsets = map[NameStyle][2]rune{
	NameBold:      {0x1D400, 0x1D41A},
	NameFullwidth: {0xFF21, 0xFF41},
	NameItalic:    {0x1D434, 0x1D44E},
}

// StyleName rewrites ASCII letters in s to the selected style.
func StyleName(s string, style NameStyle) string {
	off, ok := letterOffsets[style]
	if !ok {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) * 4)
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(off[0] + (r - 'A'))
		case r >= 'a' && r <= 'z':
			b.WriteRune(off[1] + (r - 'a'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DefaultZone is the timezone the clock is rendered in.
const DefaultZone = "Asia/Tehran"

// LoadZone resolves name, falling back to a fixed +03:30 offset when the
// tzdata lookup fails (stripped containers).
func LoadZone(name string) *time.Location {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("IRST", int((3*time.Hour + 30*time.Minute).Seconds()))
	}
	return loc
}

// Clock formats t as HH:MM in its own location.
func Clock(t time.Time) string { return t.Format("15:04") }

// Compose builds the full display name for one tick.
func Compose(base string, style DigitStyle, t time.Time) string {
	return strings.TrimSpace(base + " " + StyleDigits(Clock(t), style))
}

package clockface

import (
	"testing"
	"time"
)

func TestStyleDigitsVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		style DigitStyle
		in    string
		want  string
	}{
		{name: "plain", style: DigitPlain, in: "17:32", want: "17:32"},
		{name: "double struck", style: DigitDoubleStruck, in: "17:32", want: "𝟙𝟟:𝟛𝟚"},
		{name: "fullwidth", style: DigitFullwidth, in: "17:32", want: "１７：３２"},
		{name: "bold", style: DigitBold, in: "17:32", want: "𝟏𝟕:𝟑𝟐"},
		{name: "unknown style falls back", style: DigitStyle(99), in: "09:05", want: "09:05"},
		{name: "non-digits untouched", style: DigitBold, in: "a1b", want: "a𝟏b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StyleDigits(tt.in, tt.style); got != tt.want {
				t.Fatalf("StyleDigits(%q, %d) = %q, want %q", tt.in, tt.style, got, tt.want)
			}
		})
	}
}

func TestStyleName(t *testing.T) {
	t.Parallel()
	if got := StyleName("Ali", NameBold); got != "𝐀𝐥𝐢" {
		t.Fatalf("bold = %q", got)
	}
	if got := StyleName("Ali", NameFullwidth); got != "Ａｌｉ" {
		t.Fatalf("fullwidth = %q", got)
	}
	if got := StyleName("سلام", NameItalic); got != "سلام" {
		t.Fatalf("non-ASCII should pass through, got %q", got)
	}
}

func TestComposeDeterministic(t *testing.T) {
	t.Parallel()
	loc := LoadZone(DefaultZone)
	at := time.Date(2024, 3, 8, 17, 32, 41, 0, loc)

	first := Compose("X", DigitFullwidth, at)
	if first != "X １７：３２" {
		t.Fatalf("Compose = %q", first)
	}
	for i := 0; i < 50; i++ {
		if got := Compose("X", DigitFullwidth, at); got != first {
			t.Fatalf("Compose not stable: %q vs %q", got, first)
		}
	}
}

func TestComposeEmptyBase(t *testing.T) {
	t.Parallel()
	at := time.Date(2024, 1, 1, 9, 5, 0, 0, time.UTC)
	if got := Compose("", DigitPlain, at); got != "09:05" {
		t.Fatalf("Compose with empty base = %q", got)
	}
}

func TestLoadZoneFallback(t *testing.T) {
	t.Parallel()
	loc := LoadZone("Not/AZone")
	if loc == nil {
		t.Fatal("expected fallback location")
	}
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).In(loc)
	if got := Clock(at); got != "15:30" {
		t.Fatalf("fallback offset wrong: %s", got)
	}
}

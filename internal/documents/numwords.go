package documents

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Speller spells a non-negative integer amount in words.
type Speller func(n int64) string

// spellLimit is the first value that is no longer spelled out.
const spellLimit = 1_000_000

var (
	germanUnits = [...]string{"null", "eins", "zwei", "drei", "vier", "fünf", "sechs", "sieben", "acht", "neun"}
	germanTeens = [...]string{"zehn", "elf", "zwölf", "dreizehn", "vierzehn", "fünfzehn", "sechzehn", "siebzehn", "achtzehn", "neunzehn"}
	germanTens  = [...]string{"", "", "zwanzig", "dreißig", "vierzig", "fünfzig", "sechzig", "siebzig", "achtzig", "neunzig"}
)

var spellers = map[language.Base]Speller{
	mustBase(language.German): SpellGerman,
}

// SpellerFor returns the speller registered for the tag's base language.
func SpellerFor(tag language.Tag) (Speller, bool) {
	base, _ := tag.Base()
	speller, ok := spellers[base]
	return speller, ok
}

// SpellGerman returns the German word form of n. Values of one million and above, and
// negative values, are returned as plain digits.
func SpellGerman(n int64) string {
	if n < 0 || n >= spellLimit {
		return strconv.FormatInt(n, 10)
	}
	if n == 0 {
		return germanUnits[0]
	}
	return germanBelowMillion(n)
}

func germanBelowMillion(n int64) string {
	if n < 1000 {
		return germanBelowThousand(n)
	}
	thousands, rest := n/1000, n%1000
	out := germanCount(thousands) + "tausend"
	if rest > 0 {
		out += germanBelowThousand(rest)
	}
	return out
}

func germanBelowThousand(n int64) string {
	if n < 100 {
		return germanBelowHundred(n)
	}
	hundreds, rest := n/100, n%100
	out := germanCount(hundreds) + "hundert"
	if rest > 0 {
		out += germanBelowHundred(rest)
	}
	return out
}

func germanBelowHundred(n int64) string {
	switch {
	case n < 10:
		return germanUnits[n]
	case n < 20:
		return germanTeens[n-10]
	}
	tens, unit := n/10, n%10
	if unit == 0 {
		return germanTens[tens]
	}
	return germanPrefix(unit) + "und" + germanTens[tens]
}

// germanCount renders a multiplier in front of hundert or tausend, where a trailing
// "eins" loses its s (eintausend, einhunderteintausend).
func germanCount(n int64) string {
	words := germanBelowThousand(n)
	if strings.HasSuffix(words, "eins") {
		return strings.TrimSuffix(words, "s")
	}
	return words
}

// germanPrefix returns the unit form used before "und".
func germanPrefix(unit int64) string {
	if unit == 1 {
		return "ein"
	}
	return germanUnits[unit]
}

func mustBase(tag language.Tag) language.Base {
	base, _ := tag.Base()
	return base
}

package subset

import (
	"sort"

	"typetrim/models"
)

const (
	latinLetters   = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ "
	digits         = "0123456789"
	enPunctuation  = ",.!?;:'\"()[]{}@#$%^&*_+-=\\|/<>~`"
	cnPunctuation  = "\uFF0C\u3002\uFF01\uFF1F\uFF1B\uFF1A\u201C\u201D\u2018\u2019\u300C\u300D\u300E\u300F\uFF08\uFF09\u3010\u3011\u300A\u300B\u3008\u3009\u2026\u2014\uFF5E\u00B7\u3001"
	currencySigns  = "$\u20AC\u00A5\u00A3\u00A2"
	mathSigns      = "+-\u00D7\u00F7=\u2260<>\u2264\u2265\u00B0"
	copyrightSigns = "\u00A9\u00AE\u2122"
	arrowSigns     = "\u2190\u2192\u2191\u2193"
	ligatureSigns  = "\uFB01\uFB02"
	fractionSigns  = "\u00BD\u00BC\u00BE"
	superscripts   = "\u2070\u00B9\u00B2\u00B3\u2074\u2075\u2076\u2077\u2078\u2079"
	diacritics     = "\u00E1\u00E0\u00E2\u00E4\u00E3\u00E5\u0101\u00E9\u00E8\u00EA\u00EB\u0113\u00ED\u00EC\u00EE\u00EF\u012B\u00F3\u00F2\u00F4\u00F6\u00F5\u014D\u00FA\u00F9\u00FB\u00FC\u016B\u00FD\u00FF"
)

var optionChars = map[string]string{
	"latin":          latinLetters,
	"numbers":        digits,
	"en_punctuation": enPunctuation,
	"cn_punctuation": cnPunctuation,
	"currency":       currencySigns,
	"math":           mathSigns,
	"copyright":      copyrightSigns,
	"arrows":         arrowSigns,
	"ligatures":      ligatureSigns,
	"fractions":      fractionSigns,
	"superscript":    superscripts,
	"diacritics":     diacritics,
	"degree":         "\u00B0",
}

// CJK Unified Ideographs plus Extension A.
const (
	cjkFirst = 0x3400
	cjkLast  = 0x9FFF
)

// Charset derives the set of code points a task's options keep, sorted
// ascending. An empty result means the caller selected nothing.
func Charset(opts models.Options) []rune {
	set := make(map[rune]struct{})

	for key, chars := range optionChars {
		if opts.Bool(key) {
			for _, r := range chars {
				set[r] = struct{}{}
			}
		}
	}
	if opts.Bool("chinese_all") {
		for code := cjkFirst; code <= cjkLast; code++ {
			set[rune(code)] = struct{}{}
		}
	}
	for _, r := range opts.String("customChars") {
		set[r] = struct{}{}
	}

	runes := make([]rune, 0, len(set))
	for r := range set {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })
	return runes
}

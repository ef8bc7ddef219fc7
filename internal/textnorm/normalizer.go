// Package textnorm rewrites input text into a form speech models read aloud
// cleanly: typographic punctuation folded to ASCII, abbreviations and integers
// spelled out, citation markers dropped and whitespace collapsed. URLs and
// email addresses pass through untouched.
package textnorm

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSpelledNumber is the largest integer spelled out as words. Larger numbers
// are left as digits.
const MaxSpelledNumber = 999999

const (
	urlPattern          = `https?://\S+`
	emailPattern        = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberPattern       = `\b\d+\b`
	bracketRefPattern   = `\[\d+(?:[,-]\d+)*\]`
	superscriptPattern  = `[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	abbreviationPattern = `\b(Mr|Mrs|Ms|Dr|St|Prof|Jr|Sr|Co|Ltd|Corp|Inc|vs|etc)\.`
	repeatedMarkPattern = `([!?,;:])[!?,;:]+`
	longEllipsisPattern = `\.{4,}`
	whitespacePattern   = `\s+`
	spaceBeforeMark     = `\s+([.,!?;:])`
	placeholderMark     = '\x00'
)

var abbreviations = map[string]string{
	"Mr":   "Mister",
	"Mrs":  "Misses",
	"Ms":   "Miss",
	"Dr":   "Doctor",
	"St":   "Saint",
	"Prof": "Professor",
	"Jr":   "Junior",
	"Sr":   "Senior",
	"Co":   "Company",
	"Ltd":  "Limited",
	"Corp": "Corporation",
	"Inc":  "Incorporated",
	"vs":   "versus",
	"etc":  "et cetera",
}

var (
	ones = [...]string{
		"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
		"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
		"seventeen", "eighteen", "nineteen",
	}
	tens = [...]string{
		"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
	}
)

// Normalizer holds the compiled patterns. It is safe for concurrent use.
type Normalizer struct {
	preserved      []*regexp.Regexp
	number         *regexp.Regexp
	bracketRef     *regexp.Regexp
	superscript    *regexp.Regexp
	abbreviation   *regexp.Regexp
	repeatedMark   *regexp.Regexp
	longEllipsis   *regexp.Regexp
	whitespace     *regexp.Regexp
	spaceBefore    *regexp.Regexp
	punctuationMap *strings.Replacer
}

// New compiles a Normalizer.
func New() *Normalizer {
	return &Normalizer{
		preserved:    []*regexp.Regexp{regexp.MustCompile(urlPattern), regexp.MustCompile(emailPattern)},
		number:       regexp.MustCompile(numberPattern),
		bracketRef:   regexp.MustCompile(bracketRefPattern),
		superscript:  regexp.MustCompile(superscriptPattern),
		abbreviation: regexp.MustCompile(abbreviationPattern),
		repeatedMark: regexp.MustCompile(repeatedMarkPattern),
		longEllipsis: regexp.MustCompile(longEllipsisPattern),
		whitespace:   regexp.MustCompile(whitespacePattern),
		spaceBefore:  regexp.MustCompile(spaceBeforeMark),
		punctuationMap: strings.NewReplacer(
			"—", " - ", "–", "-", "‒", "-",
			"…", "...",
			"“", `"`, "”", `"`, "„", `"`,
			"‘", "'", "’", "'",
			"\u00a0", " ",
		),
	}
}

// Normalize returns the speakable form of text. Empty or blank input yields "".
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	text, tokens := n.protect(text)

	text = n.punctuationMap.Replace(text)
	text = n.bracketRef.ReplaceAllString(text, "")
	text = n.superscript.ReplaceAllString(text, "")
	text = n.abbreviation.ReplaceAllStringFunc(text, func(match string) string {
		return abbreviations[strings.TrimSuffix(match, ".")]
	})
	text = n.number.ReplaceAllStringFunc(text, spellNumber)
	text = n.repeatedMark.ReplaceAllString(text, "$1")
	text = n.longEllipsis.ReplaceAllString(text, "...")
	text = n.whitespace.ReplaceAllString(text, " ")
	text = n.spaceBefore.ReplaceAllString(text, "$1")

	return terminate(n.restore(strings.TrimSpace(text), tokens))
}

// protect swaps URLs and email addresses for placeholders that no later
// rewrite can match.
func (n *Normalizer) protect(text string) (string, []string) {
	var tokens []string

	for _, pattern := range n.preserved {
		text = pattern.ReplaceAllStringFunc(text, func(match string) string {
			tokens = append(tokens, match)

			return placeholder(len(tokens) - 1)
		})
	}

	return text, tokens
}

func (n *Normalizer) restore(text string, tokens []string) string {
	for index, token := range tokens {
		text = strings.Replace(text, placeholder(index), token, 1)
	}

	return text
}

// placeholder encodes index in letters only, so the number rewrite cannot
// touch it.
func placeholder(index int) string {
	var key strings.Builder

	key.WriteByte(placeholderMark)

	for {
		key.WriteByte(byte('a' + index%26))

		index /= 26
		if index == 0 {
			break
		}
	}

	key.WriteByte(placeholderMark)

	return key.String()
}

// terminate makes sure the text ends like a sentence so models do not trail off.
func terminate(text string) string {
	if text == "" {
		return text
	}

	last, _ := utf8.DecodeLastRuneInString(text)
	switch last {
	case '.', '!', '?':
		return text
	}

	if unicode.IsPunct(last) && last != '"' && last != '\'' && last != ')' {
		return strings.TrimRightFunc(text, unicode.IsPunct) + "."
	}

	return text + "."
}

func spellNumber(digits string) string {
	value, err := strconv.Atoi(digits)
	if err != nil || value > MaxSpelledNumber {
		return digits
	}

	return Spell(value)
}

// Spell returns the English words for 0 <= value <= MaxSpelledNumber. Other
// values are returned as digits.
func Spell(value int) string {
	if value < 0 || value > MaxSpelledNumber {
		return strconv.Itoa(value)
	}

	if value == 0 {
		return ones[0]
	}

	var parts []string

	if thousands := value / 1000; thousands > 0 {
		parts = append(parts, spellBelowThousand(thousands), "thousand")
	}

	if rest := value % 1000; rest > 0 {
		parts = append(parts, spellBelowThousand(rest))
	}

	return strings.Join(parts, " ")
}

func spellBelowThousand(value int) string {
	var parts []string

	if hundreds := value / 100; hundreds > 0 {
		parts = append(parts, ones[hundreds], "hundred")
	}

	rest := value % 100

	switch {
	case rest == 0:
	case rest < len(ones):
		parts = append(parts, ones[rest])
	case rest%10 == 0:
		parts = append(parts, tens[rest/10])
	default:
		parts = append(parts, tens[rest/10]+"-"+ones[rest%10])
	}

	return strings.Join(parts, " ")
}

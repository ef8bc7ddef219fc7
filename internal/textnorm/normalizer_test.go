package textnorm_test

import (
	"testing"

	"github.com/book-expert/murmur-tts/internal/textnorm"
	"github.com/stretchr/testify/assert"
)

type normalizeTestCase struct {
	name     string
	input    string
	expected string
}

func runNormalizeTests(t *testing.T, tests []normalizeTestCase) {
	t.Helper()

	normalizer := textnorm.New()

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, testCase.expected, normalizer.Normalize(testCase.input))
		})
	}
}

func TestNormalize_Basics(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "empty", input: "", expected: ""},
		{name: "blank", input: " \n\t", expected: ""},
		{name: "adds sentence end", input: "Hello world", expected: "Hello world."},
		{name: "keeps question", input: "Are you there?", expected: "Are you there?"},
		{name: "trailing comma", input: "Hello,", expected: "Hello."},
		{name: "collapses whitespace", input: "Hello \n\n  world\t!", expected: "Hello world!"},
		{name: "space before comma", input: "Hello , world", expected: "Hello, world."},
	})
}

func TestNormalize_Abbreviations(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "mister", input: "Mr. Smith", expected: "Mister Smith."},
		{name: "doctor", input: "Dr. Johnson", expected: "Doctor Johnson."},
		{name: "several", input: "Mr. and Mrs. Smith", expected: "Mister and Misses Smith."},
		{name: "at the end", input: "Future Tech Inc.", expected: "Future Tech Incorporated."},
		{name: "not inside words", input: "The DeCo. group", expected: "The DeCo. group."},
	})
}

func TestNormalize_Numbers(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "single digit", input: "There are 3 cars.", expected: "There are three cars."},
		{name: "teen", input: "I have 17 friends.", expected: "I have seventeen friends."},
		{name: "year", input: "In 1984 it rained", expected: "In one thousand nine hundred eighty-four it rained."},
		{name: "too large", input: "Population 1000000", expected: "Population 1000000."},
		{name: "ordinal left alone", input: "The 3rd act", expected: "The 3rd act."},
	})
}

func TestNormalize_PunctuationAndMarkers(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "repeated marks", input: "Wait!!! Really?!", expected: "Wait! Really?"},
		{name: "smart quotes", input: "“Hello,” she said…", expected: `"Hello," she said...`},
		{name: "quoted ending", input: "He said “hi”", expected: `He said "hi".`},
		{name: "em dash", input: "Go—now", expected: "Go - now."},
		{name: "long ellipsis", input: "And then.....", expected: "And then..."},
		{name: "citations", input: "Water boils [1] at 100 degrees [2,3].", expected: "Water boils at one hundred degrees."},
	})
}

func TestNormalize_PreservesURLsAndEmails(t *testing.T) {
	t.Parallel()

	runNormalizeTests(t, []normalizeTestCase{
		{name: "url", input: "See https://example.com/page2 now", expected: "See https://example.com/page2 now."},
		{name: "email", input: "Write to team42@example.org today", expected: "Write to team42@example.org today."},
		{
			name:     "both",
			input:    "Visit http://a.io/1 or mail b2@c.io",
			expected: "Visit http://a.io/1 or mail b2@c.io.",
		},
	})
}

func TestSpell(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "zero", textnorm.Spell(0))
	assert.Equal(t, "forty", textnorm.Spell(40))
	assert.Equal(t, "one hundred fifteen", textnorm.Spell(115))
	assert.Equal(t, "five thousand", textnorm.Spell(5000))
	assert.Equal(t,
		"nine hundred ninety-nine thousand nine hundred ninety-nine",
		textnorm.Spell(textnorm.MaxSpelledNumber))
	assert.Equal(t, "-3", textnorm.Spell(-3))
}

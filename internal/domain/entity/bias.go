package entity

import (
	"regexp"
	"strconv"
	"strings"
)

// Bias is the political leaning score of a record, conventionally in [-2, 2].
type Bias int

const (
	BiasLeft          Bias = -2
	BiasSlightlyLeft  Bias = -1
	BiasNeutral       Bias = 0
	BiasSlightlyRight Bias = 1
	BiasRight         Bias = 2
)

var biasLabels = map[string]Bias{
	"left":           BiasLeft,
	"slightly left":  BiasSlightlyLeft,
	"neutral":        BiasNeutral,
	"slightly right": BiasSlightlyRight,
	"right":          BiasRight,
}

// thinkBlock matches reasoning blocks some models emit before the answer.
var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// ParseBiasLabel maps a classifier label such as "slightly left" to its score.
// Reasoning blocks, surrounding quotes and punctuation are ignored.
// Unknown labels map to BiasNeutral.
func ParseBiasLabel(label string) Bias {
	cleaned := thinkBlock.ReplaceAllString(label, "")
	cleaned = strings.ToLower(strings.TrimSpace(cleaned))
	cleaned = strings.Trim(cleaned, "\"'.` \n\t")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if b, ok := biasLabels[cleaned]; ok {
		return b
	}
	return BiasNeutral
}

// ParseBias parses persisted bias text such as "-1" or " 2 ".
// ok is false when the text is not an integer.
func ParseBias(raw string) (Bias, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return BiasNeutral, false
	}
	return Bias(n), true
}

// Label returns the classifier label for b, or its number for out-of-range values.
func (b Bias) Label() string {
	switch b {
	case BiasLeft:
		return "left"
	case BiasSlightlyLeft:
		return "slightly left"
	case BiasNeutral:
		return "neutral"
	case BiasSlightlyRight:
		return "slightly right"
	case BiasRight:
		return "right"
	default:
		return strconv.Itoa(int(b))
	}
}

// String implements fmt.Stringer using the persisted numeric form.
func (b Bias) String() string {
	return strconv.Itoa(int(b))
}

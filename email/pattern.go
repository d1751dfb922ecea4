package email

import (
	"fmt"

	"github.com/migadu/sieveforge/consts"
)

// PatternKind identifies what a Pattern value refers to.
type PatternKind string

const (
	PatternDomain  PatternKind = "domain"
	PatternSubject PatternKind = "subject"
	PatternSender  PatternKind = "sender"
)

// Pattern is a recurring signal observed in a group of similar emails. It
// bridges detector output and filter condition construction.
type Pattern struct {
	Kind        PatternKind
	Value       string
	Confidence  float64
	SampleCount int
}

// NewPattern validates and returns a pattern.
func NewPattern(kind PatternKind, value string, confidence float64, sampleCount int) (Pattern, error) {
	switch kind {
	case PatternDomain, PatternSubject, PatternSender:
	default:
		return Pattern{}, fmt.Errorf("%w: unknown kind %q", consts.ErrInvalidPattern, kind)
	}
	if value == "" {
		return Pattern{}, fmt.Errorf("%w: value cannot be empty", consts.ErrInvalidPattern)
	}
	if confidence < 0 || confidence > 1 {
		return Pattern{}, fmt.Errorf("%w: confidence %v outside [0,1]", consts.ErrInvalidPattern, confidence)
	}
	if sampleCount < 0 {
		return Pattern{}, fmt.Errorf("%w: negative sample count %d", consts.ErrInvalidPattern, sampleCount)
	}
	return Pattern{Kind: kind, Value: value, Confidence: confidence, SampleCount: sampleCount}, nil
}

func DomainPattern(domain string, confidence float64, sampleCount int) (Pattern, error) {
	return NewPattern(PatternDomain, domain, confidence, sampleCount)
}

func SubjectPattern(keyword string, confidence float64, sampleCount int) (Pattern, error) {
	return NewPattern(PatternSubject, keyword, confidence, sampleCount)
}

func SenderPattern(sender string, confidence float64, sampleCount int) (Pattern, error) {
	return NewPattern(PatternSender, sender, confidence, sampleCount)
}

// FilterString renders the pattern in the compact pattern-string grammar,
// e.g. "from:@amazon.de" or "subject:invoice".
func (p Pattern) FilterString() string {
	switch p.Kind {
	case PatternDomain:
		return "from:@" + p.Value
	case PatternSubject:
		return "subject:" + p.Value
	case PatternSender:
		return "from:" + p.Value
	}
	return string(p.Kind) + ":" + p.Value
}

// IsHighConfidence reports whether the confidence reaches threshold.
func (p Pattern) IsHighConfidence(threshold float64) bool {
	return p.Confidence >= threshold
}

func (p Pattern) String() string {
	return fmt.Sprintf("%s:%s (%.0f%%)", p.Kind, p.Value, p.Confidence*100)
}

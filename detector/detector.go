// Package detector mines recurring sender and subject signals from a
// collection of messages. Its output can seed filter categories without any
// model in the loop.
package detector

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/migadu/sieveforge/email"
)

// Kind is the signal a DetectedPattern was derived from.
type Kind string

const (
	KindSenderDomain   Kind = "sender_domain"
	KindSubjectKeyword Kind = "subject_keyword"
	KindSenderAddress  Kind = "sender_address"
)

const (
	DefaultMinFrequency  = 3
	DefaultMinConfidence = 0.5
	DefaultMaxExamples   = 5

	// Confidence denominators, as a share of the collection size. Exact
	// senders are rarer but more specific than domains or keywords.
	domainShare  = 0.10
	keywordShare = 0.15
	senderShare  = 0.08

	// senderFloorBonus is added to MinFrequency for exact sender addresses.
	senderFloorBonus = 2

	minKeywordLength = 3
)

var stopWords = map[string]struct{}{
	"re": {}, "fwd": {}, "the": {}, "a": {}, "an": {}, "and": {}, "or": {},
	"but": {}, "in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "from": {}, "up": {}, "out": {}, "if": {},
	"about": {}, "as": {}, "into": {}, "through": {}, "during": {},
	"before": {}, "after": {},
}

// DetectedPattern is one recurring signal and the evidence for it.
type DetectedPattern struct {
	Kind            Kind     `json:"kind"`
	Value           string   `json:"value"`
	Frequency       int      `json:"frequency"`
	EmailCount      int      `json:"email_count"`
	ExampleSubjects []string `json:"example_subjects"`
	Confidence      float64  `json:"confidence"`
}

// ToEmailPattern converts the detection into the pattern value used to build
// filter conditions.
func (p DetectedPattern) ToEmailPattern() (email.Pattern, error) {
	var kind email.PatternKind
	switch p.Kind {
	case KindSenderDomain:
		kind = email.PatternDomain
	case KindSubjectKeyword:
		kind = email.PatternSubject
	case KindSenderAddress:
		kind = email.PatternSender
	}
	return email.NewPattern(kind, p.Value, p.Confidence, p.EmailCount)
}

// PatternDetector holds only thresholds and is safe for concurrent use.
type PatternDetector struct {
	MinFrequency  int
	MinConfidence float64
	MaxExamples   int
}

func New() *PatternDetector {
	return &PatternDetector{
		MinFrequency:  DefaultMinFrequency,
		MinConfidence: DefaultMinConfidence,
		MaxExamples:   DefaultMaxExamples,
	}
}

// DetectPatterns runs the domain, keyword and sender passes and returns the
// patterns reaching MinConfidence, highest confidence first. Ties keep pass
// order, then first-seen order within a pass.
func (d *PatternDetector) DetectPatterns(emails []*email.Email) []DetectedPattern {
	if len(emails) == 0 {
		return nil
	}

	var all []DetectedPattern
	all = append(all, d.senderDomainPatterns(emails)...)
	all = append(all, d.subjectKeywordPatterns(emails)...)
	all = append(all, d.senderAddressPatterns(emails)...)

	kept := all[:0]
	for _, p := range all {
		if p.Confidence >= d.MinConfidence {
			kept = append(kept, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})
	return kept
}

// tally counts occurrences per key and remembers first-seen order and the
// first MaxExamples subjects.
type tally struct {
	order    []string
	counts   map[string]int
	examples map[string][]string
	max      int
}

func newTally(max int) *tally {
	return &tally{counts: make(map[string]int), examples: make(map[string][]string), max: max}
}

func (t *tally) add(key, subject string) {
	if _, ok := t.counts[key]; !ok {
		t.order = append(t.order, key)
	}
	t.counts[key]++
	if len(t.examples[key]) < t.max {
		t.examples[key] = append(t.examples[key], subject)
	}
}

func (t *tally) patterns(kind Kind, floor int, total int, share float64) []DetectedPattern {
	var out []DetectedPattern
	for _, key := range t.order {
		count := t.counts[key]
		if count < floor {
			continue
		}
		out = append(out, DetectedPattern{
			Kind:            kind,
			Value:           key,
			Frequency:       count,
			EmailCount:      count,
			ExampleSubjects: t.examples[key],
			Confidence:      math.Min(1, float64(count)/(float64(total)*share)),
		})
	}
	return out
}

func (d *PatternDetector) senderDomainPatterns(emails []*email.Email) []DetectedPattern {
	t := newTally(d.MaxExamples)
	for _, e := range emails {
		t.add(e.Sender.Domain(), e.Subject)
	}
	return t.patterns(KindSenderDomain, d.MinFrequency, len(emails), domainShare)
}

func (d *PatternDetector) subjectKeywordPatterns(emails []*email.Email) []DetectedPattern {
	t := newTally(d.MaxExamples)
	for _, e := range emails {
		for _, kw := range Keywords(e.Subject) {
			t.add(kw, e.Subject)
		}
	}
	return t.patterns(KindSubjectKeyword, d.MinFrequency, len(emails), keywordShare)
}

func (d *PatternDetector) senderAddressPatterns(emails []*email.Email) []DetectedPattern {
	t := newTally(d.MaxExamples)
	for _, e := range emails {
		t.add(e.Sender.String(), e.Subject)
	}
	return t.patterns(KindSenderAddress, d.MinFrequency+senderFloorBonus, len(emails), senderShare)
}

// Keywords splits a subject on whitespace and returns the distinct
// lower-cased tokens of at least three characters that are not stop words,
// in first-seen order.
func Keywords(subject string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, w := range strings.Fields(subject) {
		if utf8.RuneCountInString(w) < minKeywordLength {
			continue
		}
		w = strings.ToLower(w)
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

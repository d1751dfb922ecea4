package detector

import (
	"fmt"
	"strings"

	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/generator"
	"github.com/migadu/sieveforge/helpers"
)

// SuggestCategories turns detected patterns into generator input. Patterns
// whose messages point at the same folder are merged into one category; the
// category's confidence is that of its strongest pattern. Categories come out
// in the order their first pattern was detected.
func (d *PatternDetector) SuggestCategories(emails []*email.Email) []generator.CategoryPattern {
	type bucket struct {
		cat      generator.CategoryPattern
		kinds    []string
		count    int
		subjects map[string]struct{}
	}

	var order []string
	buckets := make(map[string]*bucket)

	for _, p := range d.DetectPatterns(emails) {
		matched := d.GroupEmailsByPattern(emails, p)
		folder := d.SuggestFolderForPattern(matched, p)

		ep, err := p.ToEmailPattern()
		if err != nil {
			continue
		}

		b, ok := buckets[folder]
		if !ok {
			b = &bucket{
				cat:      generator.CategoryPattern{Name: folder, SuggestedFolder: folder},
				subjects: make(map[string]struct{}),
			}
			buckets[folder] = b
			order = append(order, folder)
		}

		b.cat.Patterns = append(b.cat.Patterns, ep.FilterString())
		if p.Confidence > b.cat.Confidence {
			b.cat.Confidence = p.Confidence
		}
		if !containsString(b.kinds, string(ep.Kind)) {
			b.kinds = append(b.kinds, string(ep.Kind))
		}
		b.count += p.EmailCount

		for _, s := range p.ExampleSubjects {
			if len(b.cat.ExampleSubjects) >= d.MaxExamples {
				break
			}
			key := helpers.SubjectKey(s)
			if _, dup := b.subjects[key]; dup || key == "" {
				continue
			}
			b.subjects[key] = struct{}{}
			b.cat.ExampleSubjects = append(b.cat.ExampleSubjects, helpers.BaseSubject(s))
		}
	}

	out := make([]generator.CategoryPattern, 0, len(order))
	for _, folder := range order {
		b := buckets[folder]
		// Kept free of priority keywords so only the folder name drives ordering.
		b.cat.Description = fmt.Sprintf("Seeded from %d hits on %s", b.count, strings.Join(b.kinds, "/"))
		out = append(out, b.cat)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

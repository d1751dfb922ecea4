package detector

import (
	"strings"

	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/email"
	"github.com/migadu/sieveforge/helpers"
)

const (
	UncategorizedFolder = "Uncategorized"
	FallbackFolder      = "Filtered"
)

// GroupEmailsByPattern returns the messages carrying the pattern, in input
// order. Domains and addresses compare exactly; keywords are case-insensitive
// substrings of the subject.
func (d *PatternDetector) GroupEmailsByPattern(emails []*email.Email, p DetectedPattern) []*email.Email {
	var out []*email.Email
	for _, e := range emails {
		var match bool
		switch p.Kind {
		case KindSenderDomain:
			match = e.Sender.Domain() == p.Value
		case KindSubjectKeyword:
			match = e.SubjectContains(p.Value)
		case KindSenderAddress:
			match = e.Sender.String() == p.Value
		}
		if match {
			out = append(out, e)
		}
	}
	return out
}

// FolderCount is one entry of a folder distribution.
type FolderCount struct {
	Folder string `json:"folder"`
	Count  int    `json:"count"`
}

// AnalyzeEmailDistribution counts messages per folder, in first-seen order.
func (d *PatternDetector) AnalyzeEmailDistribution(emails []*email.Email) []FolderCount {
	index := make(map[string]int)
	var out []FolderCount
	for _, e := range emails {
		i, ok := index[e.Folder]
		if !ok {
			i = len(out)
			index[e.Folder] = i
			out = append(out, FolderCount{Folder: e.Folder})
		}
		out[i].Count++
	}
	return out
}

// SuggestFolderForPattern proposes a target folder for the messages matching
// a pattern. The most populated folder wins if it is not a system folder;
// otherwise domains fall back to their capitalised second-level label and
// everything else to "Filtered".
func (d *PatternDetector) SuggestFolderForPattern(emails []*email.Email, p DetectedPattern) string {
	if len(emails) == 0 {
		return UncategorizedFolder
	}

	var top FolderCount
	for _, fc := range d.AnalyzeEmailDistribution(emails) {
		if fc.Count > top.Count {
			top = fc
		}
	}
	if top.Folder != "" && !consts.IsSystemFolder(top.Folder) {
		return top.Folder
	}

	if p.Kind == KindSenderDomain {
		if label := helpers.SecondLevelLabel(p.Value); label != "" {
			return capitalize(label)
		}
	}
	return FallbackFolder
}

func capitalize(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) == 0 {
		return s
	}
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

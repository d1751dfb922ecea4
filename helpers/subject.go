package helpers

import (
	"strings"
)

var subjectPrefixes = []string{"RE:", "FWD:", "FW:", "AW:", "WG:", "FORWARD:"}

// BaseSubject strips reply and forward markers ("Re:", "Fwd:", "Re[2]:", ...)
// from the start of a subject. Unlike a sort key the original case is kept,
// so the result can be shown to a user as an example subject.
func BaseSubject(subject string) string {
	s := CollapseWhitespace(SanitizeUTF8(subject))
	for {
		next := strings.TrimSpace(removeSubjectPrefix(s))
		if next == s {
			return s
		}
		s = next
	}
}

// SubjectKey is the case-folded base subject, used to group subjects that
// only differ by reply markers or case.
func SubjectKey(subject string) string {
	return strings.ToLower(BaseSubject(subject))
}

func removeSubjectPrefix(s string) string {
	upper := strings.ToUpper(s)
	for _, prefix := range subjectPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return s[len(prefix):]
		}
	}

	// "Re[2]:" and "Re(3):"
	if len(upper) > 3 && strings.HasPrefix(upper, "RE") && (upper[2] == '[' || upper[2] == '(') {
		closeChar := "]"
		if upper[2] == '(' {
			closeChar = ")"
		}
		closeIdx := strings.Index(upper[3:], closeChar)
		if closeIdx >= 0 {
			rest := s[3+closeIdx+1:]
			if strings.HasPrefix(rest, ":") {
				return rest[1:]
			}
		}
	}
	return s
}

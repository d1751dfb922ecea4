package filter

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const scriptTimeLayout = "2006-01-02 15:04:05"

// baseRequirements are always declared, whether or not a rule uses them.
var baseRequirements = []string{"fileinto", "envelope", "imap4flags"}

// ToSieveScript renders the filter with the current time in the header.
func (f *SieveFilter) ToSieveScript() string {
	return f.ToSieveScriptAt(time.Now())
}

// ToSieveScriptAt renders the filter as a Sieve script stamped with t.
// Disabled rules are left out.
func (f *SieveFilter) ToSieveScriptAt(t time.Time) string {
	var b strings.Builder

	b.WriteString("# Sieve Filter Rules\n")
	fmt.Fprintf(&b, "# Generated: %s\n", t.Format(scriptTimeLayout))
	fmt.Fprintf(&b, "# Filter: %s\n", commentSafe(f.Name))
	if f.Description != "" {
		fmt.Fprintf(&b, "# Description: %s\n", commentSafe(f.Description))
	}
	b.WriteString("#\n")
	b.WriteString("# IMPORTANT: Review these rules before activating!\n")
	b.WriteString("\n")

	rules := f.EnabledRules()
	fmt.Fprintf(&b, "require [%s];\n", quoteList(Requirements(rules)))
	b.WriteString("\n")

	for _, r := range rules {
		b.WriteString(r.Sieve())
		b.WriteString("\n\n")
	}

	b.WriteString("# End of AI-generated rules\n")
	b.WriteString("# All other mail goes to Inbox (default)")
	return b.String()
}

// Requirements returns the extensions a script made of rules must declare:
// the base set followed by regex and body when some condition uses them.
func Requirements(rules []Rule) []string {
	reqs := append([]string(nil), baseRequirements...)
	var regex, body bool
	for _, r := range rules {
		for _, c := range r.conditions {
			if c.match == MatchRegex {
				regex = true
			}
			if c.kind == CondBodyContains {
				body = true
			}
		}
	}
	if regex {
		reqs = append(reqs, "regex")
	}
	if body {
		reqs = append(reqs, "body")
	}
	return reqs
}

// quote renders s as a Sieve quoted string.
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = quote(s)
	}
	return strings.Join(quoted, ", ")
}

// commentSafe keeps free text on a single comment line.
func commentSafe(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package filter

import (
	"bufio"
	"fmt"
	"regexp"
	"strings"

	"github.com/migadu/sieveforge/consts"
)

// ImportedFilterName names a parsed script that carries no "# Filter:" line.
const ImportedFilterName = "Imported"

const quoted = `"((?:[^"\\]|\\.)*)"`

var (
	headerTestRe  = regexp.MustCompile(`^header (:[a-z]+) ` + quoted + ` ` + quoted + `$`)
	addressTestRe = regexp.MustCompile(`^address :(domain|all) (:[a-z]+) ` + quoted + ` ` + quoted + `$`)
	bodyTestRe    = regexp.MustCompile(`^body :text (:[a-z]+) ` + quoted + `$`)
	sizeTestRe    = regexp.MustCompile(`^size :(over|under) ([0-9]+[KMGkmg]?)$`)
	paramActRe    = regexp.MustCompile(`^(fileinto|redirect|setflag|addflag) ` + quoted + `;$`)
	bareActRe     = regexp.MustCompile(`^(discard|keep|stop);$`)
	blockOpenRe   = regexp.MustCompile(`^if (anyof|allof) \($`)
	inlineOpenRe  = regexp.MustCompile(`^if (.+) \{$`)
)

// ParseScript reads back a script in the layout ToSieveScript writes. Values
// are taken as they are, so an installed script holding placeholder domains
// or empty blocks still loads and can be linted. Anything outside that
// layout fails with consts.ErrInvalidFilter.
func ParseScript(script string) (*SieveFilter, error) {
	p := &scriptParser{}
	sc := bufio.NewScanner(strings.NewReader(script))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		p.line++
		if err := p.feed(strings.TrimSpace(sc.Text())); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", consts.ErrInvalidFilter, err)
	}
	if p.state != stateTop {
		return nil, p.errorf("unterminated rule block")
	}

	name := p.name
	if name == "" {
		name = ImportedFilterName
	}
	f, err := New(name, p.description, p.rules...)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type parseState int

const (
	stateTop parseState = iota
	stateConditions
	stateActions
)

type scriptParser struct {
	line        int
	state       parseState
	seenRequire bool

	name        string
	description string
	rules       []Rule

	ruleName string
	ruleDesc string
	current  Rule
}

func (p *scriptParser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", consts.ErrInvalidFilter, p.line, fmt.Sprintf(format, args...))
}

func (p *scriptParser) feed(line string) error {
	switch p.state {
	case stateConditions:
		if line == ") {" {
			p.state = stateActions
			return nil
		}
		c, err := parseCondition(strings.TrimSuffix(line, ","))
		if err != nil {
			return p.errorf("%v", err)
		}
		p.current.conditions = append(p.current.conditions, c)
		return nil

	case stateActions:
		if line == "}" {
			p.rules = append(p.rules, p.current)
			p.current = Rule{}
			p.ruleName, p.ruleDesc = "", ""
			p.state = stateTop
			return nil
		}
		a, err := parseAction(line)
		if err != nil {
			return p.errorf("%v", err)
		}
		p.current.actions = append(p.current.actions, a)
		return nil

	case stateTop:
	}

	switch {
	case line == "":
		return nil
	case strings.HasPrefix(line, "#"):
		p.comment(strings.TrimSpace(strings.TrimPrefix(line, "#")))
		return nil
	case strings.HasPrefix(line, "require "):
		p.seenRequire = true
		return nil
	}

	if m := blockOpenRe.FindStringSubmatch(line); m != nil {
		var mode CombineMode
		if err := mode.UnmarshalText([]byte(m[1])); err != nil {
			return p.errorf("%v", err)
		}
		p.current = Rule{name: p.ruleName, description: p.ruleDesc, mode: mode}
		p.state = stateConditions
		return nil
	}
	if m := inlineOpenRe.FindStringSubmatch(line); m != nil {
		c, err := parseCondition(m[1])
		if err != nil {
			return p.errorf("%v", err)
		}
		p.current = Rule{name: p.ruleName, description: p.ruleDesc, mode: AnyOf, conditions: []Condition{c}}
		p.state = stateActions
		return nil
	}
	return p.errorf("unexpected %q", line)
}

// comment picks the filter name and description out of the header, and
// rule names and descriptions out of the body.
func (p *scriptParser) comment(text string) {
	key, value, ok := strings.Cut(text, ":")
	if !ok {
		return
	}
	value = strings.TrimSpace(value)
	switch key {
	case "Filter":
		if !p.seenRequire {
			p.name = value
		}
	case "Description":
		if p.seenRequire {
			p.ruleDesc = value
		} else {
			p.description = value
		}
	case "Rule":
		if p.seenRequire {
			p.ruleName = value
			p.ruleDesc = ""
		}
	}
}

func parseCondition(s string) (Condition, error) {
	if m := headerTestRe.FindStringSubmatch(s); m != nil {
		match, err := parseMatch(m[1])
		if err != nil {
			return Condition{}, err
		}
		kind := CondHeaderContains
		if match == MatchIs {
			kind = CondHeaderIs
		}
		return Condition{kind: kind, field: unquote(m[2]), match: match, value: unquote(m[3])}, nil
	}
	if m := addressTestRe.FindStringSubmatch(s); m != nil {
		match, err := parseMatch(m[2])
		if err != nil {
			return Condition{}, err
		}
		kind := CondAddressIs
		if m[1] == "domain" {
			kind = CondAddressDomain
		}
		return Condition{kind: kind, field: unquote(m[3]), match: match, value: unquote(m[4])}, nil
	}
	if m := bodyTestRe.FindStringSubmatch(s); m != nil {
		match, err := parseMatch(m[1])
		if err != nil {
			return Condition{}, err
		}
		return Condition{kind: CondBodyContains, field: "body", match: match, value: unquote(m[2])}, nil
	}
	if m := sizeTestRe.FindStringSubmatch(s); m != nil {
		kind := CondSizeOver
		if m[1] == "under" {
			kind = CondSizeUnder
		}
		return Condition{kind: kind, field: "size", match: MatchIs, value: m[2]}, nil
	}
	return Condition{}, fmt.Errorf("unsupported test %q", s)
}

func parseMatch(s string) (MatchKind, error) {
	var m MatchKind
	err := m.UnmarshalText([]byte(s))
	return m, err
}

func parseAction(s string) (Action, error) {
	if m := paramActRe.FindStringSubmatch(s); m != nil {
		var kind ActionKind
		if err := kind.UnmarshalText([]byte(m[1])); err != nil {
			return Action{}, err
		}
		return Action{kind: kind, param: unquote(m[2])}, nil
	}
	if m := bareActRe.FindStringSubmatch(s); m != nil {
		var kind ActionKind
		if err := kind.UnmarshalText([]byte(m[1])); err != nil {
			return Action{}, err
		}
		return Action{kind: kind}, nil
	}
	return Action{}, fmt.Errorf("unsupported action %q", s)
}

// unquote undoes quote for the body of a quoted string.
func unquote(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}

package filter

import (
	"fmt"

	"github.com/migadu/sieveforge/consts"
)

// ActionKind is the closed set of effects a rule can have.
type ActionKind int

const (
	ActFileInto ActionKind = iota
	ActRedirect
	ActDiscard
	ActKeep
	ActStop
	ActSetFlag
	ActAddFlag
)

var actionKindNames = [...]string{
	ActFileInto: "fileinto",
	ActRedirect: "redirect",
	ActDiscard:  "discard",
	ActKeep:     "keep",
	ActStop:     "stop",
	ActSetFlag:  "setflag",
	ActAddFlag:  "addflag",
}

func (k ActionKind) String() string {
	if k < 0 || int(k) >= len(actionKindNames) {
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
	return actionKindNames[k]
}

func (k ActionKind) valid() bool {
	return k >= 0 && int(k) < len(actionKindNames)
}

// NeedsParameter reports whether the kind takes a folder, address or flag.
func (k ActionKind) NeedsParameter() bool {
	switch k {
	case ActFileInto, ActRedirect, ActSetFlag, ActAddFlag:
		return true
	case ActDiscard, ActKeep, ActStop:
		return false
	}
	return false
}

func (k ActionKind) MarshalText() ([]byte, error) {
	if !k.valid() {
		return nil, fmt.Errorf("%w: unknown action kind %d", consts.ErrInvalidAction, int(k))
	}
	return []byte(k.String()), nil
}

func (k *ActionKind) UnmarshalText(b []byte) error {
	for i, name := range actionKindNames {
		if name == string(b) {
			*k = ActionKind(i)
			return nil
		}
	}
	return fmt.Errorf("%w: unknown action kind %q", consts.ErrInvalidAction, b)
}

// SeenFlag is the IMAP flag set by MarkAsRead.
const SeenFlag = `\Seen`

// Action is a single immutable effect with an optional parameter.
type Action struct {
	kind  ActionKind
	param string
}

// NewAction fails when a kind that needs a parameter gets an empty one.
func NewAction(kind ActionKind, param string) (Action, error) {
	if !kind.valid() {
		return Action{}, fmt.Errorf("%w: unknown kind %d", consts.ErrInvalidAction, int(kind))
	}
	if kind.NeedsParameter() && param == "" {
		return Action{}, fmt.Errorf("%w: %s requires a parameter", consts.ErrInvalidAction, kind)
	}
	if !kind.NeedsParameter() {
		param = ""
	}
	return Action{kind: kind, param: param}, nil
}

func FileInto(folder string) (Action, error)  { return NewAction(ActFileInto, folder) }
func Redirect(address string) (Action, error) { return NewAction(ActRedirect, address) }
func SetFlag(flag string) (Action, error)     { return NewAction(ActSetFlag, flag) }
func AddFlag(flag string) (Action, error)     { return NewAction(ActAddFlag, flag) }

func Discard() Action    { return Action{kind: ActDiscard} }
func Keep() Action       { return Action{kind: ActKeep} }
func Stop() Action       { return Action{kind: ActStop} }
func MarkAsRead() Action { return Action{kind: ActSetFlag, param: SeenFlag} }

func (a Action) Kind() ActionKind { return a.kind }
func (a Action) Param() string    { return a.param }

// Sieve renders the action as a Sieve command including the trailing ';'.
func (a Action) Sieve() string {
	switch a.kind {
	case ActFileInto, ActRedirect, ActSetFlag, ActAddFlag:
		return fmt.Sprintf("%s %s;", a.kind, quote(a.param))
	case ActDiscard, ActKeep, ActStop:
		return a.kind.String() + ";"
	}
	return "keep;"
}

func (a Action) String() string {
	if a.param != "" {
		return fmt.Sprintf("%s(%s)", a.kind, a.param)
	}
	return a.kind.String()
}

package email

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/migadu/sieveforge/consts"
	"github.com/migadu/sieveforge/helpers"
)

// addressRE is a simplified RFC 5322 grammar: local@domain.tld
var addressRE = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Address is a validated email address. The zero value is not a valid address.
type Address struct {
	value string
}

// NewAddress validates s and wraps it. The input is kept verbatim, including case.
func NewAddress(s string) (Address, error) {
	if !addressRE.MatchString(s) {
		return Address{}, fmt.Errorf("%w: %q", consts.ErrInvalidAddress, s)
	}
	return Address{value: s}, nil
}

// MustAddress is like NewAddress but panics on invalid input. Intended for tests
// and static tables.
func MustAddress(s string) Address {
	a, err := NewAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return a.value
}

func (a Address) IsZero() bool {
	return a.value == ""
}

// Domain returns the part after the '@'.
func (a Address) Domain() string {
	_, domain := helpers.SplitEmailAddress(a.value)
	return domain
}

// LocalPart returns the part before the '@'.
func (a Address) LocalPart() string {
	local, _ := helpers.SplitEmailAddress(a.value)
	return local
}

// MatchesDomain reports whether the address belongs to domain, ignoring case.
func (a Address) MatchesDomain(domain string) bool {
	return strings.EqualFold(a.Domain(), domain)
}

package helpers

import (
	"fmt"
	"strings"
)

// NewScriptKey constructs the object key under which a script revision is stored.
func NewScriptKey(prefix, name, digest string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.sieve", name, digest)
	}
	return fmt.Sprintf("%s/%s/%s.sieve", prefix, name, digest)
}

package helpers

import "strings"

// MaskSensitive redacts credentials from a protocol line before it is logged.
// For AUTHENTICATE everything after the mechanism is replaced; for LOGIN
// everything after the user name. Other commands are returned unchanged.
func MaskSensitive(line string) string {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return line
	}

	var keep int
	switch strings.ToUpper(parts[0]) {
	case "AUTHENTICATE", "LOGIN":
		keep = 2
	default:
		return line
	}

	if len(parts) > keep {
		return strings.Join(parts[:keep], " ") + " [REDACTED]"
	}
	return line
}

// MaskSecret hides a configured secret, leaving empty values empty so a
// dump still shows which secrets are unset.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

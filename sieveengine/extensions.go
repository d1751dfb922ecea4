package sieveengine

import (
	"fmt"
	"strings"
)

// SupportedExtensions lists every extension go-sieve can validate and
// execute. Core commands (require, if, stop, redirect, keep, discard) are
// always available. There is no "body" extension, so scripts with body
// tests are rejected.
var SupportedExtensions = []string{
	"fileinto",
	"envelope",
	"encoded-character",

	"comparator-i;octet",
	"comparator-i;ascii-casemap",
	"comparator-i;ascii-numeric",
	"comparator-i;unicode-casemap",

	"imap4flags",
	"variables",
	"relational",
	"vacation",
	"copy",
	"regex",
}

// DefaultExtensions is what CheckScript and NewSieveExecutor enable when the
// caller passes nil. It covers every requirement a generated filter declares
// apart from body.
var DefaultExtensions = []string{
	"fileinto",
	"envelope",
	"encoded-character",
	"imap4flags",
	"variables",
	"relational",
	"vacation",
	"copy",
	"regex",
}

// ValidateExtensions fails when any extension is not in SupportedExtensions.
func ValidateExtensions(extensions []string) error {
	if len(extensions) == 0 {
		return nil
	}

	supported := make(map[string]bool, len(SupportedExtensions))
	for _, ext := range SupportedExtensions {
		supported[ext] = true
	}

	var invalid []string
	for _, ext := range extensions {
		if !supported[ext] {
			invalid = append(invalid, ext)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid SIEVE extensions: %s (go-sieve supports: %s)",
			strings.Join(invalid, ", "),
			strings.Join(SupportedExtensions, ", "))
	}
	return nil
}

func extensionsOrDefault(extensions []string) []string {
	if extensions == nil {
		return DefaultExtensions
	}
	return extensions
}

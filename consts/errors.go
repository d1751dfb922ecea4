package consts

import "errors"

var (
	ErrInvalidAddress   = errors.New("invalid email address")
	ErrInvalidPattern   = errors.New("invalid pattern")
	ErrInvalidCondition = errors.New("invalid filter condition")
	ErrInvalidAction    = errors.New("invalid filter action")
	ErrInvalidRule      = errors.New("invalid filter rule")
	ErrInvalidFilter    = errors.New("invalid filter")

	// ErrInvalidInput is returned when a category set is empty or none of its
	// categories reach the confidence threshold.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyResult is returned when categories survived filtering but none
	// produced a usable rule.
	ErrEmptyResult = errors.New("no rules generated")

	ErrScriptNotFound = errors.New("script not found")
	ErrScriptRejected = errors.New("script rejected")
	ErrNotConnected   = errors.New("not connected")
	ErrProtocol       = errors.New("protocol error")
)

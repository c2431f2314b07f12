package core

// error_messages.go maps pipeline errors to user-facing messages with codes
// for support reference. Codes are grouped by family:
//
//	SRC001 - Source not found           SRC002 - Source unreadable
//	SRC003 - Empty source
//	REC001 - Missing field              REC002 - Invalid package id
//	REC003 - Invalid timestamp          MSG001 - Malformed message payload
//	DB001  - Storage unavailable        DB002  - Transaction failed
//	DB003  - Foreign key violation      DB004  - Connection refused
//	DB005  - Timeout
//	RUN001 - Run cancelled              RUN002 - Too many concurrent runs
//	ERR000 - Anything else

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage is a user-friendly rendering of an error.
type UserMessage struct {
	Message string `json:"message"` // What happened
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type errorTarget struct {
	target error
	msg    UserMessage
}

// Checked in order; the first errors.Is match wins.
var errorTargets = []errorTarget{
	{ErrSourceNotFound, UserMessage{
		Message: "The extract file could not be found",
		Action:  "Check the path passed to the batch run",
		Code:    "SRC001",
	}},
	{ErrSourceUnreadable, UserMessage{
		Message: "The extract could not be read or parsed",
		Action:  "Ensure the file is UTF-8, comma-separated and has a header row",
		Code:    "SRC002",
	}},
	{ErrEmptySource, UserMessage{
		Message: "The extract has no data rows",
		Action:  "Nothing was loaded; check the upstream export",
		Code:    "SRC003",
	}},
	{ErrMissingField, UserMessage{
		Message: "A required field is missing or blank",
		Action:  "Provide id_pacote, origem, destino, status_rastreamento and data_atualizacao",
		Code:    "REC001",
	}},
	{ErrInvalidPackageID, UserMessage{
		Message: "Package id is not a positive integer",
		Action:  "Use numeric package ids",
		Code:    "REC002",
	}},
	{ErrInvalidTimestamp, UserMessage{
		Message: "Event timestamp is not a valid ISO-8601 instant",
		Action:  "Use a value like 2025-10-12T08:15:00Z",
		Code:    "REC003",
	}},
	{ErrMalformedPayload, UserMessage{
		Message: "Message payload is not a JSON object",
		Action:  "Check the producer's serializer",
		Code:    "MSG001",
	}},
	{context.Canceled, UserMessage{
		Message: "The run was cancelled",
		Action:  "Re-run the batch; loads are idempotent",
		Code:    "RUN001",
	}},
	{ErrTooManyRuns, UserMessage{
		Message: "Another batch is already loading",
		Action:  "Retry shortly",
		Code:    "RUN002",
	}},
	{ErrStorageUnavailable, UserMessage{
		Message: "Unable to reach the tracking database",
		Action:  "Please try again in a few moments",
		Code:    "DB001",
	}},
	{ErrTransactionFailed, UserMessage{
		Message: "The load was rolled back; nothing was written",
		Action:  "Re-run the batch; loads are idempotent",
		Code:    "DB002",
	}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// Fallback patterns for driver errors that arrive unwrapped.
var errorPatterns = []errorPattern{
	{"foreign key", UserMessage{
		Message: "An event references a package that does not exist",
		Action:  "Load the package before its events",
		Code:    "DB003",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB004",
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller extract or try again later",
		Code:    "DB005",
	}},
	{"deadline exceeded", UserMessage{
		Message: "Operation timed out",
		Action:  "Try a smaller extract or try again later",
		Code:    "DB005",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the logs for the run id",
	Code:    "ERR000",
}

// MapError converts an error into a user-friendly message. Wrapped sentinel
// errors are matched first, then known driver error substrings.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, et := range errorTargets {
		if errors.Is(err, et.target) {
			return et.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a display string: "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

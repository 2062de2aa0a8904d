package core

// error_messages.go maps technical errors to messages a practitioner can act
// on. Each message carries a code to quote to support.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large           Patterns: "file too large"
//	FILE002 - Not a CSV file           Patterns: "not a csv file"
//	FILE003 - Encoding error           Patterns: "not valid utf-8"
//	FILE004 - No data rows             Patterns: "no data rows"
//	FILE005 - Unreadable CSV           Patterns: "invalid csv"
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - No name column            Patterns: "no column mapped to last_name"
//
// # Authentication Errors (AUTH001-AUTH099)
//
//	AUTH001 - Not signed in            Patterns: "not authenticated"
//	AUTH002 - No practitioner profile  Patterns: "practitioner not found"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import cancelled          Patterns: "import cancelled", "context canceled"
//	IMP002 - System busy               Patterns: "too many concurrent imports"
//	IMP003 - Session expired           Patterns: "import session not found"
//	IMP004 - Wrong step                Patterns: "invalid session phase"
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate record           Patterns: "duplicate key"
//	DB002 - Unique constraint          Patterns: "unique constraint", "violates unique"
//	DB003 - Missing parent record      Patterns: "violates foreign key"
//	DB004 - Connection refused         Patterns: "connection refused"
//	DB005 - Connection reset           Patterns: "connection reset"
//	DB006 - Timeout                    Patterns: "deadline exceeded", "timeout"
//	DB007 - Invalid value              Patterns: "invalid date", "invalid input syntax", "out of range"
//
// # Default Error (ERR000)
//
// Fallback when no pattern matches. Check the server logs for the original
// error when a user reports ERR000.
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// File errors
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum import size",
			Action:  "Split the export into smaller files",
			Code:    "FILE001",
		},
	},
	{
		pattern: "not a csv file",
		msg: UserMessage{
			Message: "Only .csv files can be imported",
			Action:  "Export your patient list as CSV from your previous software",
			Code:    "FILE002",
		},
	},
	{
		pattern: "not valid utf-8",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save the file with UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no data rows",
		msg: UserMessage{
			Message: "The file has a header but no patients",
			Action:  "Check that you exported the full patient list",
			Code:    "FILE004",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File could not be read as CSV",
			Action:  "Ensure the file is comma or semicolon separated",
			Code:    "FILE005",
		},
	},

	// Mapping errors
	{
		pattern: "no column mapped to last_name",
		msg: UserMessage{
			Message: "No column is mapped to the patient name",
			Action:  "Assign a column to Last name or Full name",
			Code:    "MAP001",
		},
	},

	// Authentication errors
	{
		pattern: "not authenticated",
		msg: UserMessage{
			Message: "You are not signed in",
			Action:  "Sign in and start the import again",
			Code:    "AUTH001",
		},
	},
	{
		pattern: "practitioner not found",
		msg: UserMessage{
			Message: "No practitioner profile is linked to your account",
			Action:  "Complete your practitioner profile before importing",
			Code:    "AUTH002",
		},
	},

	// Import errors
	{
		pattern: "import cancelled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP001",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Import was cancelled",
			Action:  "Start a new import when ready",
			Code:    "IMP001",
		},
	},
	{
		pattern: "too many concurrent imports",
		msg: UserMessage{
			Message: "System is busy processing other imports",
			Action:  "Please wait a moment and try again",
			Code:    "IMP002",
		},
	},
	{
		pattern: "import session not found",
		msg: UserMessage{
			Message: "Import session not found",
			Action:  "The session may have expired. Upload the file again",
			Code:    "IMP003",
		},
	},
	{
		pattern: "invalid session phase",
		msg: UserMessage{
			Message: "This step is not available right now",
			Action:  "Reload the import page",
			Code:    "IMP004",
		},
	},

	// Database errors
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "This record already exists",
			Action:  "Remove the duplicate line from your file",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Check for duplicate entries in your file",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Please try again or contact support",
			Code:    "DB003",
		},
	},
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadline exceeded",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "A value was rejected by the database",
			Action:  "Check dates in the reported line",
			Code:    "DB007",
		},
	},
	{
		pattern: "invalid input syntax",
		msg: UserMessage{
			Message: "A value was rejected by the database",
			Action:  "Check the reported line for malformed values",
			Code:    "DB007",
		},
	},
	{
		pattern: "out of range",
		msg: UserMessage{
			Message: "A value was rejected by the database",
			Action:  "Check the reported line for malformed values",
			Code:    "DB007",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It returns the first matching pattern, or ERR000 when none matches.
//
// Example:
//
//	msg := MapError(errors.New("ERROR: duplicate key value violates unique constraint"))
//	// msg.Code == "DB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

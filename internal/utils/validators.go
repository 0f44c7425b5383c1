package utils

import (
	"unicode"

	"github.com/google/uuid"
)

// maxIdentifierLen bounds subject and assessment identifiers.
const maxIdentifierLen = 128

// IsValidSessionID checks that the id is a canonical UUID. Session ids name
// directories on disk, so nothing else is accepted.
func IsValidSessionID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

// IsValidIdentifier checks an external identifier such as a student or quiz
// id: non-empty, bounded, and limited to letters, digits, '-', '_' and '.'.
func IsValidIdentifier(id string) bool {
	if id == "" || len(id) > maxIdentifierLen {
		return false
	}
	for _, char := range id {
		switch {
		case unicode.IsLetter(char), unicode.IsDigit(char):
		case char == '-', char == '_', char == '.':
		default:
			return false
		}
	}
	return true
}

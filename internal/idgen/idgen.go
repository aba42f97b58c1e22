// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the id families used by the event pipeline.
const (
	EventPrefix   = "ev-"
	LinePrefix    = "el-"
	BindingPrefix = "bn-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// Event returns a new event record ID.
func Event() (string, error) { return GenerateWithPrefix(EventPrefix) }

// Line returns a new event line ID.
func Line() (string, error) { return GenerateWithPrefix(LinePrefix) }

// Binding returns a new topic binding ID.
func Binding() (string, error) { return GenerateWithPrefix(BindingPrefix) }

// GenerateWithPrefix returns a new unique ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

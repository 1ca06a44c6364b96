// Package protocol defines the JSON wire messages exchanged between a
// client and the collaborative-editing core over the real-time
// transport, plus the language tags the core recognizes.
package protocol

// SystemUserID is the user id attached to operations that were not
// authored by a live session (for example, an initial snapshot load).
// It is the maximum uint64 so it never collides with a process-assigned
// session id, which starts at 0 and counts up.
const SystemUserID = ^uint64(0)

// Languages is the recognized set of syntax-highlighting language tags.
// A setLanguage message naming anything outside this set is a protocol
// error.
var Languages = map[string]bool{
	"plaintext":  true,
	"rust":       true,
	"python":     true,
	"javascript": true,
	"typescript": true,
	"java":       true,
	"cpp":        true,
	"c":          true,
	"go":         true,
	"ruby":       true,
	"php":        true,
	"swift":      true,
	"kotlin":     true,
	"scala":      true,
	"html":       true,
	"css":        true,
	"json":       true,
	"xml":        true,
	"yaml":       true,
	"markdown":   true,
	"sql":        true,
	"bash":       true,
}

// ValidLanguage reports whether lang is in the recognized set.
func ValidLanguage(lang string) bool {
	return Languages[lang]
}

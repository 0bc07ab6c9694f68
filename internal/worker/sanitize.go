// SPDX-License-Identifier: MIT

package worker

import (
	"strings"
	"unicode"
)

const maxFilenameLen = 150

// SanitizeFilename makes title safe as a single path segment: path
// separators, shell-hostile punctuation and control characters become
// underscores, leading and trailing dots and spaces are trimmed, and
// overly long names are cut.
func SanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		case r < 0x20 || r == 0x7f || unicode.Is(unicode.Cc, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), " .")
	if len(out) > maxFilenameLen {
		out = strings.TrimRight(out[:maxFilenameLen], " .")
	}
	return out
}

// FinalFileName builds the library file name `Title [sourceId].ext`.
// When the title sanitizes to nothing, the job id stands in.
func FinalFileName(title, sourceID, container, jobID string) string {
	name := SanitizeFilename(title)
	if name == "" {
		return jobID + "." + container
	}
	if sourceID != "" {
		name += " [" + SanitizeFilename(sourceID) + "]"
	}
	return name + "." + container
}

package worker

import "strings"

// FallbackPrompt is used when description, genres and moods are all empty.
const FallbackPrompt = "instrumental background music"

// ComposePrompt joins the description, genres and moods with ", " skipping
// empty parts.
func ComposePrompt(description string, genres, moods []string) string {
	parts := make([]string, 0, 1+len(genres)+len(moods))
	for _, p := range append(append([]string{description}, genres...), moods...) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return FallbackPrompt
	}
	return strings.Join(parts, ", ")
}

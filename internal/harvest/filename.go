package harvest

import (
	"regexp"
	"strings"
)

const maxTitleInFilename = 50

var unsafeFilenameChars = regexp.MustCompile(`[\\/*?:"<>|]`)

// Filename derives the deterministic artifact name for a video so re-runs can
// detect pre-existing files. The title portion is sanitized and truncated;
// with no title the identifier stands alone.
func Filename(videoID, title string) string {
	safe := unsafeFilenameChars.ReplaceAllString(title, "")
	safe = strings.TrimSpace(safe)
	if runes := []rune(safe); len(runes) > maxTitleInFilename {
		safe = string(runes[:maxTitleInFilename])
	}
	if safe == "" {
		return videoID + ".mp4"
	}
	return videoID + "_" + safe + ".mp4"
}

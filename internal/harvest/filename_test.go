package harvest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		videoID string
		title   string
		want    string
	}{
		{
			name:    "plain title",
			videoID: "dQw4w9WgXcQ",
			title:   "Pedestrian safety basics",
			want:    "dQw4w9WgXcQ_Pedestrian safety basics.mp4",
		},
		{
			name:    "unsafe characters stripped",
			videoID: "abc",
			title:   `Cross/walk: "rules" <and> laws?|*\`,
			want:    "abc_Crosswalk rules and laws.mp4",
		},
		{
			name:    "empty title falls back to id",
			videoID: "abc",
			title:   "",
			want:    "abc.mp4",
		},
		{
			name:    "title of only unsafe characters falls back to id",
			videoID: "abc",
			title:   `<>:"/\|?*`,
			want:    "abc.mp4",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, Filename(tt.videoID, tt.title))
		})
	}
}

func TestFilenameTruncatesLongTitles(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 200)
	got := Filename("vid", long)
	require.Equal(t, "vid_"+strings.Repeat("x", 50)+".mp4", got)
}

func TestFilenameTruncationIsRuneSafe(t *testing.T) {
	t.Parallel()

	title := strings.Repeat("歩", 60)
	got := Filename("vid", title)
	require.Equal(t, "vid_"+strings.Repeat("歩", 50)+".mp4", got)
}

func TestFilenameIsDeterministic(t *testing.T) {
	t.Parallel()

	a := Filename("id1", "Some : Title")
	b := Filename("id1", "Some : Title")
	require.Equal(t, a, b)
}

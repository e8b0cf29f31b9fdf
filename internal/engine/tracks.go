package engine

import (
	"strings"

	"github.com/zingest/zingest/internal/zoom"
)

// Track preference, best first. A preferred hit finishes as FINISHED; having
// to reach into the fallback list finishes as WARNING so operators notice
// recordings that lack a usable screen-share view.
var (
	preferredTypes = []string{
		"shared_screen_with_speaker_view",
		"shared_screen_with_speaker_view(CC)",
		"shared_screen",
		"active_speaker",
	}
	fallbackTypes = []string{
		"shared_screen_with_gallery_view",
		"gallery_view",
		"speaker_view",
		"audio_only",
	}
)

// selectTrack picks the video track to ingest. The second return is true when
// a fallback type had to be used.
func selectTrack(files []zoom.RecordingFile) (zoom.RecordingFile, bool, error) {
	if f, ok := matchTrack(files, preferredTypes); ok {
		return f, false, nil
	}
	if f, ok := matchTrack(files, fallbackTypes); ok {
		return f, true, nil
	}
	return zoom.RecordingFile{}, false, &zoom.APIError{
		Sentinel:  zoom.ErrNoMP4Files,
		Operation: "select track",
		Body:      "no acceptable recording type found",
	}
}

func matchTrack(files []zoom.RecordingFile, types []string) (zoom.RecordingFile, bool) {
	for _, want := range types {
		for _, f := range files {
			if f.RecordingType != want {
				continue
			}
			if !strings.EqualFold(f.FileType, "mp4") || !strings.EqualFold(f.Status, "completed") {
				continue
			}
			return f, true
		}
	}
	return zoom.RecordingFile{}, false
}

// chatFile locates the meeting chat log, if the recording has one.
func chatFile(files []zoom.RecordingFile) (zoom.RecordingFile, bool) {
	for _, f := range files {
		if f.RecordingType == "chat_file" || strings.EqualFold(f.FileType, "chat") {
			return f, true
		}
	}
	return zoom.RecordingFile{}, false
}

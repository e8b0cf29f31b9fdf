package zoom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// RecordingFile is one downloadable artifact of a recorded meeting.
type RecordingFile struct {
	ID             string `json:"id"`
	RecordingStart string `json:"recording_start"`
	RecordingEnd   string `json:"recording_end"`
	DownloadURL    string `json:"download_url"`
	FileType       string `json:"file_type"`
	FileSize       int64  `json:"file_size"`
	RecordingType  string `json:"recording_type"`
	Status         string `json:"status"`
}

// Recording is the Zoom view of one recorded meeting instance.
type Recording struct {
	ID             json.Number     `json:"id"`
	UUID           string          `json:"uuid"`
	HostID         string          `json:"host_id"`
	Topic          string          `json:"topic"`
	StartTime      string          `json:"start_time"`
	Duration       int             `json:"duration"`
	ShareURL       string          `json:"share_url"`
	RecordingFiles []RecordingFile `json:"recording_files"`
}

// GetRecording fetches the recording metadata for one meeting uuid.
func (c *Client) GetRecording(ctx context.Context, uuid string) (Recording, error) {
	var rec Recording
	err := c.getJSON(ctx, "/meetings/"+EncodePathUUID(uuid)+"/recordings", nil, &rec)
	if err != nil {
		return Recording{}, err
	}
	return rec, nil
}

type recordingPage struct {
	NextPageToken string      `json:"next_page_token"`
	Meetings      []Recording `json:"meetings"`
}

// ListUserRecordings returns a user's recorded meetings inside the date
// window, skipping meetings shorter than minDuration minutes. Zero times
// default to the last seven days; pageSize defaults to 30.
func (c *Client) ListUserRecordings(ctx context.Context, userID string, from, to time.Time, pageSize, minDuration int) ([]Recording, error) {
	if from.IsZero() {
		from = time.Now().AddDate(0, 0, -7)
	}
	if to.IsZero() {
		to = time.Now()
	}
	if pageSize <= 0 {
		pageSize = 30
	}

	var (
		out   []Recording
		token string
	)
	for {
		q := url.Values{}
		q.Set("from", from.Format("2006-01-02"))
		q.Set("to", to.Format("2006-01-02"))
		q.Set("page_size", strconv.Itoa(pageSize))
		q.Set("type", "meeting_recordings")
		if token != "" {
			// Tokens come back double-encoded; see SearchUsers.
			q.Set("next_page_token", url.QueryEscape(token))
		}
		var page recordingPage
		if err := c.getJSON(ctx, "/users/"+url.PathEscape(userID)+"/recordings", q, &page); err != nil {
			return nil, fmt.Errorf("list recordings for %s: %w", userID, err)
		}
		for _, m := range page.Meetings {
			if m.Duration < minDuration {
				continue
			}
			out = append(out, m)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	return out, nil
}

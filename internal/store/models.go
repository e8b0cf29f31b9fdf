package store

import "time"

// Status is the lifecycle state of an ingest.
type Status int

const (
	StatusNew Status = iota
	StatusInProgress
	StatusFinished
	StatusWarning
)

// String renders the wire-visible status taxonomy.
func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusInProgress:
		return "in progress"
	case StatusFinished:
		return "finished"
	case StatusWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusWarning
}

// Recording is the canonical identity of one Zoom meeting instance. The uuid
// is an opaque byte string assigned by Zoom; it may begin with "/" or contain
// "//". Only the title mutates after creation.
type Recording struct {
	ID        int64
	UUID      string
	HostID    string
	StartTime string
	Title     string
	Duration  int
}

// Ingest is a single attempt to deliver one recording to Opencast.
type Ingest struct {
	ID             int64
	UUID           string
	Status         Status
	Timestamp      time.Time
	IsWebhook      bool
	Params         []byte
	MediaPackageID string
	WorkflowID     string
}

// User is a cached Zoom identity tuple, maintained as a write-through cache.
type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Updated   time.Time
}

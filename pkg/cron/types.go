package cron

// JobKind identifies what a scheduled job does when it fires.
type JobKind string

const (
	// KindPromo sends a promotional text to a list of recipients.
	KindPromo JobKind = "promo"
	// KindSweep expires stale escalations.
	KindSweep JobKind = "sweep"
)

// Schedule definition. Either a cron expression or a fixed interval.
type Schedule struct {
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
}

// PromoPayload is the delivery target of a promo job.
type PromoPayload struct {
	To   []string `json:"to,omitempty"`
	Text string   `json:"text,omitempty"`
}

// JobState runtime state.
type JobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"` // ok, error
	LastError   string `json:"lastError,omitempty"`
}

// Job definition.
type Job struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Kind        JobKind      `json:"kind"`
	Enabled     bool         `json:"enabled"`
	Schedule    Schedule     `json:"schedule"`
	Promo       PromoPayload `json:"promo,omitempty"`
	State       JobState     `json:"state"`
	CreatedAtMs int64        `json:"createdAtMs"`
	UpdatedAtMs int64        `json:"updatedAtMs"`
}

// jobStore is the persistent job file.
type jobStore struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

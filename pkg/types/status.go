package types

import "time"

// IndexingStatus is a point-in-time view of the indexing engine
type IndexingStatus struct {
	RunID          string    `json:"run_id,omitempty"`
	Full           bool      `json:"full"`
	IsRunning      bool      `json:"is_running"`
	FilesTotal     int       `json:"files_total"`
	FilesProcessed int       `json:"files_processed"`
	FilesFailed    int       `json:"files_failed"`
	FilesSkipped   int       `json:"files_skipped"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	LastError      string    `json:"last_error,omitempty"`

	QueueDepth   int `json:"queue_depth"`
	TrackedFiles int `json:"tracked_files"`

	WatcherHealthy bool   `json:"watcher_healthy"`
	WatcherError   string `json:"watcher_error,omitempty"`

	// Degraded is set after repeated consecutive capability failures
	Degraded bool `json:"degraded"`
}

// Progress returns completion of the current or last run as a percentage
func (s IndexingStatus) Progress() float64 {
	if s.FilesTotal == 0 {
		if s.IsRunning {
			return 0
		}
		return 100
	}
	p := float64(s.FilesProcessed) / float64(s.FilesTotal) * 100
	if p > 100 {
		p = 100
	}
	return p
}

package task

import (
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("task: not found")
	ErrExists     = errors.New("task: already exists")
	ErrTransition = errors.New("task: invalid status transition")
	ErrInvalid    = errors.New("task: invalid terminal state")
)

type Status string

const (
	Queued    Status = "queued"
	Running   Status = "running"
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed
}

// CanMove reports whether a task in status s may move to next.
// Only queued -> running -> {succeeded, failed} is valid.
func (s Status) CanMove(next Status) bool {
	switch s {
	case Queued:
		return next == Running
	case Running:
		return next == Succeeded || next == Failed
	default:
		return false
	}
}

// Track is a generated audio track. It is never modified after creation.
type Track struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Genres    []string `json:"genres"`
	Moods     []string `json:"moods"`
	Duration  int      `json:"duration"`
	AudioURL  string   `json:"audioUrl"`
	CreatedAt string   `json:"createdAt"`
	Type      string   `json:"type"`
}

const (
	DefaultTitle  = "AI_Generated_Track"
	TypeGenerated = "generated"
	TimeLayout    = "2006-01-02T15:04:05Z"
)

// NewTrack builds a track record stamped with the current UTC time.
func NewTrack(id, audioURL, title string, genres, moods []string, duration int, kind string) *Track {
	if genres == nil {
		genres = []string{}
	}
	if moods == nil {
		moods = []string{}
	}
	return &Track{
		ID:        id,
		Title:     title,
		Genres:    append([]string{}, genres...),
		Moods:     append([]string{}, moods...),
		Duration:  duration,
		AudioURL:  audioURL,
		CreatedAt: time.Now().UTC().Format(TimeLayout),
		Type:      kind,
	}
}

type Task struct {
	ID       string `json:"taskId"`
	Status   Status `json:"status"`
	AudioURL string `json:"audioUrl,omitempty"`
	Result   *Track `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (t *Task) clone() *Task {
	c := *t
	return &c
}

// Package history keeps an append-only record of finished sessions in SQLite.
package history

import (
	"errors"
	"time"

	"github.com/matiasleandrokruk/xlmsession/internal/domain/session"
)

// ErrNotFound is returned when a session id has no record.
var ErrNotFound = errors.New("history: session not found")

// DefaultLimit is used by Recent when limit is not positive.
const DefaultLimit = 20

// Entry is one recorded session.
type Entry struct {
	ID           int64
	ClientID     string
	ClientName   string
	Provider     string
	Model        string
	Status       session.Status
	Cleanup      session.CleanupStatus
	FinalState   string
	Capabilities string
	Fragments    int
	EmbeddingDim int
	Error        string
	StartedAt    time.Time
	Duration     time.Duration

	// Phases is only filled by Get.
	Phases []PhaseRecord
}

// PhaseRecord is one stored phase outcome.
type PhaseRecord struct {
	Phase    string
	Status   session.PhaseStatus
	Detail   string
	Error    string
	Duration time.Duration
}

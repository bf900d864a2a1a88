package engine

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genboard/engine/internal/ids"
)

type NotificationKind string

const (
	NotificationBatchCompleted NotificationKind = "batch_completed"
	NotificationJobFailed      NotificationKind = "job_failed"
	NotificationDeleteFailed   NotificationKind = "delete_failed"
)

// Notification is a toast-style message for the rendering layer.
type Notification struct {
	ID        string           `json:"id"`
	OwnerID   string           `json:"-"`
	JobID     string           `json:"jobId,omitempty"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Notifier buffers pending notifications per owner. Bounded: when an owner's
// buffer is full the oldest entry is dropped.
type Notifier struct {
	limit   int
	log     zerolog.Logger
	mu      sync.Mutex
	byOwner map[string][]Notification
}

func NewNotifier(limit int, log zerolog.Logger) *Notifier {
	if limit <= 0 {
		limit = 64
	}
	return &Notifier{
		limit:   limit,
		log:     log,
		byOwner: make(map[string][]Notification),
	}
}

func (n *Notifier) Publish(ownerID, jobID string, kind NotificationKind, message string) {
	note := Notification{
		ID:        ids.New(),
		OwnerID:   ownerID,
		JobID:     jobID,
		Kind:      kind,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}

	n.mu.Lock()
	pending := n.byOwner[ownerID]
	if len(pending) >= n.limit {
		pending = pending[1:]
		n.log.Debug().Str("owner_id", ownerID).Msg("notification buffer full, oldest dropped")
	}
	n.byOwner[ownerID] = append(pending, note)
	n.mu.Unlock()
}

// Drain returns and clears an owner's pending notifications.
func (n *Notifier) Drain(ownerID string) []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	pending := n.byOwner[ownerID]
	delete(n.byOwner, ownerID)
	return pending
}

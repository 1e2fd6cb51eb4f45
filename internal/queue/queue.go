package queue

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Admit when the queue is at capacity.
	ErrQueueFull = errors.New("admission queue is full")

	// ErrDuplicateID is returned by Admit when id already holds a slot.
	// Each slot has exactly one owner, so an id is never admitted twice.
	ErrDuplicateID = errors.New("request id already admitted")
)

// EntryStatus is the state of a request inside the queue.
type EntryStatus string

const (
	StatusPending    EntryStatus = "pending"
	StatusProcessing EntryStatus = "processing"
)

// Entry is a single admitted request.
type Entry struct {
	RequestID  string      `json:"request_id"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	Status     EntryStatus `json:"status"`
}

// Snapshot is a consistent point-in-time view of the queue.
type Snapshot struct {
	Length       int    `json:"queue_length"`
	Capacity     int    `json:"max_queue_size"`
	IsProcessing bool   `json:"is_processing"`
	ProcessingID string `json:"current_processing"`
	CanSubmit    bool   `json:"can_submit"`
}

// Stats tracks queue performance metrics
type Stats struct {
	TotalAdmitted    int64         `json:"total_admitted"`
	TotalRejected    int64         `json:"total_rejected"`
	TotalDuplicates  int64         `json:"total_duplicates"`
	TotalCompleted   int64         `json:"total_completed"`
	CurrentSize      int           `json:"current_size"`
	PeakSize         int           `json:"peak_size"`
	LastAdmit        time.Time     `json:"last_admit"`
	LastRemove       time.Time     `json:"last_remove"`
	AverageResidency time.Duration `json:"average_residency_ns"`
}

// AdmissionQueue is a bounded ordered mapping from request id to Entry.
// Insertion order defines position. All operations are serialized by a
// single mutex so that an Add near capacity can never race a Remove into
// over-admission.
type AdmissionQueue struct {
	mu sync.Mutex

	maxSize    int
	order      []string
	entries    map[string]*Entry
	processing string

	stats          Stats
	totalResidency time.Duration

	now func() time.Time
}

// New creates an admission queue holding at most maxSize entries.
// A non-positive maxSize is treated as 1.
func New(maxSize int) *AdmissionQueue {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &AdmissionQueue{
		maxSize: maxSize,
		order:   make([]string, 0, maxSize),
		entries: make(map[string]*Entry, maxSize),
		now:     time.Now,
	}
}

// Add inserts id at the tail and returns its 1-based position.
// When the queue is full, or id is already present, it returns (false, -1)
// and the queue is unchanged.
func (q *AdmissionQueue) Add(id string) (bool, int) {
	pos, err := q.Admit(id)
	return err == nil, pos
}

// Admit is Add reporting why admission was refused: ErrQueueFull or
// ErrDuplicateID.
func (q *AdmissionQueue) Admit(id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[id]; ok {
		q.stats.TotalDuplicates++
		return -1, ErrDuplicateID
	}

	if len(q.order) >= q.maxSize {
		q.stats.TotalRejected++
		return -1, ErrQueueFull
	}

	now := q.now()
	q.entries[id] = &Entry{RequestID: id, EnqueuedAt: now, Status: StatusPending}
	q.order = append(q.order, id)

	q.stats.TotalAdmitted++
	q.stats.CurrentSize = len(q.order)
	q.stats.LastAdmit = now
	if q.stats.CurrentSize > q.stats.PeakSize {
		q.stats.PeakSize = q.stats.CurrentSize
	}

	return len(q.order), nil
}

// SetProcessing marks id as the request holding the compute resource.
// It is a no-op when id is no longer present.
func (q *AdmissionQueue) SetProcessing(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return
	}
	e.Status = StatusProcessing
	q.processing = id
}

// Remove deletes id if present and clears the processing marker when it
// pointed at id. Removing an absent id is not an error.
func (q *AdmissionQueue) Remove(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[id]
	if !ok {
		return
	}
	delete(q.entries, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	if q.processing == id {
		q.processing = ""
	}

	now := q.now()
	q.stats.TotalCompleted++
	q.stats.CurrentSize = len(q.order)
	q.stats.LastRemove = now
	q.totalResidency += now.Sub(e.EnqueuedAt)
	q.stats.AverageResidency = q.totalResidency / time.Duration(q.stats.TotalCompleted)
}

// Position returns the 1-based position of id among present entries, or -1.
func (q *AdmissionQueue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.positionLocked(id)
}

func (q *AdmissionQueue) positionLocked(id string) int {
	for i, v := range q.order {
		if v == id {
			return i + 1
		}
	}
	return -1
}

// Snapshot returns the current queue status.
func (q *AdmissionQueue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Snapshot{
		Length:       len(q.order),
		Capacity:     q.maxSize,
		IsProcessing: q.processing != "",
		ProcessingID: q.processing,
		CanSubmit:    len(q.order) < q.maxSize,
	}
}

// Entries returns a copy of the present entries in insertion order.
func (q *AdmissionQueue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, *q.entries[id])
	}
	return out
}

// Size returns the number of present entries.
func (q *AdmissionQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Capacity returns the configured maximum size.
func (q *AdmissionQueue) Capacity() int {
	return q.maxSize
}

// Stats returns a copy of the queue statistics
func (q *AdmissionQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kivik "github.com/go-kivik/kivik/v4"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/storeutil"
)

const queueDB = "philocrawl_queue"

// BackoffPolicy parameterizes fail_task's exponential retry schedule.
// Defaults per §4.F: base_delay=60s, cap=3600s.
type BackoffPolicy struct {
	BaseDelay time.Duration
	Cap       time.Duration
}

func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{BaseDelay: 60 * time.Second, Cap: 3600 * time.Second}
}

// QueueStore is the CouchDB-backed ProcessingTask collection — the
// priority dequeue with lease, exponential-backoff retry, dead-letter,
// and purge.
type QueueStore struct {
	store   *couchStore
	backoff BackoffPolicy
	// candidatePoolSize bounds how many ordered candidates dequeue_next_task
	// considers before giving up, to keep a hot-conflict retry loop finite.
	candidatePoolSize int
}

func NewQueueStore(ctx context.Context, dbURL string) (*QueueStore, error) {
	cs, err := newCouchStore(ctx, dbURL, queueDB)
	if err != nil {
		return nil, err
	}
	q := &QueueStore{store: cs, backoff: DefaultBackoffPolicy(), candidatePoolSize: 50}
	for _, idx := range []Index{
		{Name: "idx_status_scheduled", Fields: []string{"status", "scheduled_at"}},
		{Name: "idx_status_priority_created", Fields: []string{"status", "priority", "created_at"}},
		{Name: "idx_completed_at", Fields: []string{"status", "completed_at"}},
	} {
		if err := cs.createIndex(ctx, idx); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (q *QueueStore) Ping(ctx context.Context) error { return q.store.Ping(ctx) }
func (q *QueueStore) Close() error                   { return q.store.Close() }

// TaskCreate is the payload accepted by Enqueue.
type TaskCreate struct {
	TaskType     string
	Priority     int
	Payload      map[string]interface{}
	MaxRetries   int
	ScheduledAt  time.Time
	Dependencies []string
}

// Enqueue validates the payload round-trips through JSON, then inserts a
// pending task. A non-JSON-serializable payload fails with a validation
// error before insert.
func (q *QueueStore) Enqueue(ctx context.Context, in TaskCreate) (string, error) {
	if _, err := json.Marshal(in.Payload); err != nil {
		return "", domain.NewValidationError("payload", "must be JSON-serializable")
	}
	if in.Priority < 1 || in.Priority > 5 {
		return "", domain.NewValidationError("priority", "must be between 1 and 5")
	}
	if in.MaxRetries == 0 {
		in.MaxRetries = 3
	}
	scheduledAt := in.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	task := domain.ProcessingTask{
		ID:           string(storeutil.NewID()),
		TaskType:     in.TaskType,
		Priority:     in.Priority,
		Payload:      in.Payload,
		Status:       domain.TaskPending,
		ScheduledAt:  scheduledAt,
		MaxRetries:   in.MaxRetries,
		Dependencies: in.Dependencies,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	doc, err := toDoc(task)
	if err != nil {
		return "", err
	}
	if _, err := q.store.put(ctx, task.ID, doc); err != nil {
		return "", err
	}
	return task.ID, nil
}

// eligibleCandidates finds tasks with status=pending, scheduled_at ≤ now,
// ordered priority descending, created_at ascending, id ascending
// (stable tiebreak), filtered in-memory for the dependency-resolved
// invariant (CouchDB Mango cannot express "every element of an array
// resolves to status=completed in another collection" as a selector).
func (q *QueueStore) eligibleCandidates(ctx context.Context, taskType string) ([]domain.ProcessingTask, error) {
	selector := map[string]interface{}{
		"status":       string(domain.TaskPending),
		"scheduled_at": map[string]interface{}{"$lte": time.Now().UTC().Format(time.RFC3339Nano)},
	}
	if taskType != "" {
		selector["task_type"] = taskType
	}
	candidates, err := find[domain.ProcessingTask](ctx, q.store, MangoQuery{
		Selector: selector,
		Sort: []map[string]string{
			{"priority": "desc"},
			{"created_at": "asc"},
			{"_id": "asc"},
		},
		Limit: q.candidatePoolSize,
	})
	if err != nil {
		return nil, err
	}

	var eligible []domain.ProcessingTask
	for _, t := range candidates {
		ok, err := q.dependenciesSatisfied(ctx, t.Dependencies)
		if err != nil {
			return nil, err
		}
		if ok {
			eligible = append(eligible, t)
		}
	}
	return eligible, nil
}

func (q *QueueStore) dependenciesSatisfied(ctx context.Context, deps []string) (bool, error) {
	for _, dep := range deps {
		var t domain.ProcessingTask
		if err := q.store.get(ctx, dep, &t); err != nil {
			if _, ok := err.(*domain.ResourceNotFoundError); ok {
				return false, nil
			}
			return false, err
		}
		if t.Status != domain.TaskCompleted {
			return false, nil
		}
	}
	return true, nil
}

// DequeueNextTask atomically finds the highest-ordered eligible task and
// transitions it to status=processing. Because each candidate's Put uses
// its observed _rev as a compare-and-swap token, two concurrent workers
// racing the same candidate never both succeed: the loser observes a 409
// conflict and retries against the next candidate.
func (q *QueueStore) DequeueNextTask(ctx context.Context, taskType string) (*domain.ProcessingTask, error) {
	candidates, err := q.eligibleCandidates(ctx, taskType)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		var current domain.ProcessingTask
		rev, err := q.currentRevAndDoc(ctx, candidate.ID, &current)
		if err != nil {
			if _, ok := err.(*domain.ResourceNotFoundError); ok {
				continue // already leased and possibly completed by another worker
			}
			return nil, err
		}
		if current.Status != domain.TaskPending {
			continue // lost the race before we got here
		}

		now := time.Now().UTC()
		current.Status = domain.TaskProcessing
		current.StartedAt = &now
		current.UpdatedAt = now
		current.ErrorMessage = ""

		doc, err := toDoc(current)
		if err != nil {
			return nil, err
		}
		if _, err := q.store.putWithRev(ctx, current.ID, rev, doc); err != nil {
			if isConflict(err) {
				continue // another worker leased it first
			}
			return nil, err
		}
		return &current, nil
	}
	return nil, nil
}

// currentRevAndDoc decodes the task and its _rev from one read, so the
// revision used as the CAS token is the one whose status was checked.
func (q *QueueStore) currentRevAndDoc(ctx context.Context, id string, dst *domain.ProcessingTask) (string, error) {
	var raw map[string]interface{}
	if err := q.store.get(ctx, id, &raw); err != nil {
		return "", err
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return "", err
	}
	rev, _ := raw["_rev"].(string)
	return rev, nil
}

func isConflict(err error) bool {
	return kivik.HTTPStatus(err) == 409
}

// MarkTaskProcessing attaches workerID to a task the caller has already
// leased via DequeueNextTask.
func (q *QueueStore) MarkTaskProcessing(ctx context.Context, id, workerID string) error {
	task, err := q.getByID(ctx, id)
	if err != nil {
		return err
	}
	task.WorkerID = workerID
	return q.save(ctx, task)
}

func (q *QueueStore) getByID(ctx context.Context, id string) (*domain.ProcessingTask, error) {
	if _, err := storeutil.ParseID(id); err != nil {
		return nil, err
	}
	var task domain.ProcessingTask
	if err := q.store.get(ctx, id, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CompleteTask transitions processing→completed, stamping completed_at
// and storing result. An unserializable result is replaced with a
// sentinel rather than failing the completion.
func (q *QueueStore) CompleteTask(ctx context.Context, id string, result map[string]interface{}) error {
	task, err := q.getByID(ctx, id)
	if err != nil {
		return err
	}
	if _, err := json.Marshal(result); err != nil {
		result = map[string]interface{}{"status": "completed", "error": "Result not serializable"}
	}
	now := time.Now().UTC()
	task.Status = domain.TaskCompleted
	task.CompletedAt = &now
	task.Result = result
	return q.save(ctx, task)
}

// FailTask reads current retry_count/max_retries: if retry is allowed and
// retry_count < max_retries, reschedules with exponential backoff and
// increments retry_count (without resetting it, per the manual-vs-
// automatic-retry design note); otherwise marks the task permanently
// failed.
func (q *QueueStore) FailTask(ctx context.Context, id, errMsg string, retry bool) error {
	task, err := q.getByID(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if retry && task.RetryCount < task.MaxRetries {
		delay := q.backoff.BaseDelay * time.Duration(1<<uint(task.RetryCount))
		if delay > q.backoff.Cap {
			delay = q.backoff.Cap
		}
		task.Status = domain.TaskPending
		task.ScheduledAt = now.Add(delay)
		task.RetryCount++
		task.WorkerID = ""
		task.StartedAt = nil
		task.ErrorMessage = errMsg
	} else {
		task.Status = domain.TaskFailed
		task.FailedAt = &now
		task.ErrorMessage = errMsg
	}
	return q.save(ctx, task)
}

// RetryFailedTasks resets status to pending, scheduled_at=now,
// retry_count=0 on currently-failed tasks only (this is the "manual
// retry" reset that automatic retry deliberately does not perform).
func (q *QueueStore) RetryFailedTasks(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	for _, id := range ids {
		task, err := q.getByID(ctx, id)
		if err != nil {
			return err
		}
		if task.Status != domain.TaskFailed {
			continue
		}
		task.Status = domain.TaskPending
		task.ScheduledAt = now
		task.RetryCount = 0
		task.ErrorMessage = ""
		if err := q.save(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// QueueStatus is get_queue_status's return shape.
type QueueStatus struct {
	CountsByStatus          map[domain.TaskStatus]int
	OldestPendingCreatedAt  *time.Time
	AvgCompletedDurationSec float64
}

// GetQueueStatus returns counts by status, oldest pending created_at, and
// average completed processing duration.
func (q *QueueStore) GetQueueStatus(ctx context.Context) (*QueueStatus, error) {
	all, err := find[domain.ProcessingTask](ctx, q.store, MangoQuery{Selector: map[string]interface{}{}})
	if err != nil {
		return nil, err
	}
	status := &QueueStatus{CountsByStatus: map[domain.TaskStatus]int{}}
	var oldestPending *time.Time
	var totalDuration time.Duration
	var completedCount int

	for _, t := range all {
		status.CountsByStatus[t.Status]++
		if t.Status == domain.TaskPending {
			if oldestPending == nil || t.CreatedAt.Before(*oldestPending) {
				ts := t.CreatedAt
				oldestPending = &ts
			}
		}
		if t.Status == domain.TaskCompleted && t.StartedAt != nil && t.CompletedAt != nil {
			totalDuration += t.CompletedAt.Sub(*t.StartedAt)
			completedCount++
		}
	}
	status.OldestPendingCreatedAt = oldestPending
	if completedCount > 0 {
		status.AvgCompletedDurationSec = totalDuration.Seconds() / float64(completedCount)
	}
	return status, nil
}

// PurgeCompletedTasks deletes completed tasks older than hours.
func (q *QueueStore) PurgeCompletedTasks(ctx context.Context, hours int) (int, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	tasks, err := find[domain.ProcessingTask](ctx, q.store, MangoQuery{
		Selector: map[string]interface{}{
			"status":       string(domain.TaskCompleted),
			"completed_at": map[string]interface{}{"$lte": cutoff.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, t := range tasks {
		rev, err := q.store.currentRev(ctx, t.ID)
		if err != nil {
			return deleted, err
		}
		if err := q.store.delete(ctx, t.ID, rev); err != nil {
			return deleted, fmt.Errorf("purge task %s: %w", t.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

func (q *QueueStore) save(ctx context.Context, task *domain.ProcessingTask) error {
	task.UpdatedAt = time.Now().UTC()
	doc, err := toDoc(task)
	if err != nil {
		return err
	}
	_, err = q.store.put(ctx, task.ID, doc)
	return err
}

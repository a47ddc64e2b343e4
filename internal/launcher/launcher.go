// Package launcher implements the Launcher pipeline stage (spec.md
// §4.G): one instance per scheduler resource class ("flavour"),
// running five concurrent activities as a cooperative task group
// (grounded on the teacher's internal/source/logical: one
// long-lived process, one goroutine per activity, all yielding at I/O
// boundaries and exiting on a shared stopper.Context).
package launcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/magellium/hrwsi/internal/errs"
	"github.com/magellium/hrwsi/internal/jobspec"
	"github.com/magellium/hrwsi/internal/scheduler"
	"github.com/magellium/hrwsi/internal/store"
	"github.com/magellium/hrwsi/internal/types"
	"github.com/magellium/hrwsi/internal/util/stopper"
)

// minDispatchMeasurementDay is the fixed floor the undispatched
// re-driver applies, per spec.md §4.G.
const minDispatchMeasurementDay = 20250115

// Launcher owns the dependencies shared by all five activities: the
// store gateway, the scheduler client, the job-spec renderer, the
// flavour it serves, and the re-driver period.
type Launcher struct {
	Store     *store.Pool
	Scheduler scheduler.Client
	Renderer  *jobspec.Renderer
	Flavour   types.Flavour

	RedriveEvery time.Duration

	// RoutineLookup resolves the per-task context a processing task
	// needs for rendering (the Go-native counterpart of
	// HCL_INFO_REQUEST). Factored out as a field so tests can substitute
	// a fake without a live join across six tables.
	RoutineLookup func(ctx context.Context, taskID int64) (jobspec.TaskContext, error)

	queue *workQueue
}

// workQueue is the bounded in-memory work queue guarded by a
// "currently queued" dedup set, per spec.md §5 ("bounded in-memory
// work queues with an accompanying in-flight set for dedup"). It is
// owned by a single Launcher instance; the dispatcher is the only
// consumer.
type workQueue struct {
	mu      sync.Mutex
	queued  map[int64]bool
	pending chan int64
}

func newWorkQueue(capacity int) *workQueue {
	return &workQueue{queued: map[int64]bool{}, pending: make(chan int64, capacity)}
}

// push enqueues taskID unless it is already queued; returns false if
// the dedup set rejected it or the queue is full.
func (q *workQueue) push(taskID int64) bool {
	q.mu.Lock()
	if q.queued[taskID] {
		q.mu.Unlock()
		return false
	}
	q.queued[taskID] = true
	q.mu.Unlock()

	select {
	case q.pending <- taskID:
		return true
	default:
		q.mu.Lock()
		delete(q.queued, taskID)
		q.mu.Unlock()
		return false
	}
}

func (q *workQueue) pop() <-chan int64 { return q.pending }

func (q *workQueue) release(taskID int64) {
	q.mu.Lock()
	delete(q.queued, taskID)
	q.mu.Unlock()
}

// Run starts all five activities and blocks until ctx stops.
func (l *Launcher) Run(ctx *stopper.Context) error {
	l.queue = newWorkQueue(4096)

	notifications, err := l.Store.Listen(ctx, "processing_task_insertion")
	if err != nil {
		return errors.Wrap(err, "could not listen on processing_task_insertion")
	}

	ctx.Go(func() error { return l.runNotifyListener(ctx, notifications) })
	ctx.Go(func() error { return l.runDispatcher(ctx) })
	ctx.Go(func() error { return l.runUndispatchedRedriver(ctx) })
	ctx.Go(func() error { return l.runInErrorRedriver(ctx) })
	ctx.Go(func() error { return l.runLostJobSweeper(ctx) })

	<-ctx.Stopping()
	return nil
}

// taskInsertionPayload is the JSON shape processing_task_insertion
// carries; spec.md §6 requires flavour and id.
type taskInsertionPayload struct {
	ID      int64         `json:"id"`
	Flavour types.Flavour `json:"flavour"`
}

// runNotifyListener implements activity 1: filter notifications by
// flavour, enqueue into the dedup'd work queue.
func (l *Launcher) runNotifyListener(ctx *stopper.Context, notifications <-chan store.Notification) error {
	for {
		select {
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			var p taskInsertionPayload
			if err := json.Unmarshal([]byte(n.Payload), &p); err != nil {
				log.WithError(err).Warn("could not decode processing_task_insertion payload")
				continue
			}
			if p.Flavour != l.Flavour {
				continue
			}
			l.queue.push(p.ID)
		case <-ctx.Stopping():
			return nil
		}
	}
}

// runDispatcher implements activity 2: pop a task, render its job
// spec, submit it, and persist the dispatch.
func (l *Launcher) runDispatcher(ctx *stopper.Context) error {
	for {
		select {
		case taskID, ok := <-l.queue.pop():
			if !ok {
				return nil
			}
			if err := l.dispatchOne(ctx, taskID); err != nil {
				log.WithError(err).WithField("task_id", taskID).Warn("could not dispatch task")
			}
			l.queue.release(taskID)
		case <-ctx.Stopping():
			return nil
		}
	}
}

func (l *Launcher) dispatchOne(ctx context.Context, taskID int64) error {
	tc, err := l.RoutineLookup(ctx, taskID)
	if err != nil {
		return err
	}

	outcome, err := l.Renderer.Render(ctx, tc)
	if err != nil {
		return err
	}
	if outcome.Skipped {
		log.WithField("task_id", taskID).Info("render skipped: missing dynamic auxiliary, will re-drive later")
		return nil
	}

	allocationID, err := l.Scheduler.Submit(ctx, outcome.JobSpec)
	if err != nil {
		return err
	}

	alloc, err := l.pollForAllocation(ctx, allocationID)
	if err != nil {
		return err
	}

	dispatch := types.NomadJobDispatch{
		UUID:              alloc.ID,
		DispatchTimestamp: time.Now(),
		LogPath:           outcome.ConfigPath,
	}
	initialStatus := mapInitialStatus(alloc.Status)

	if err := l.Store.InsertDispatch(ctx, taskID, dispatch, initialStatus); err != nil {
		if errs.IsConflict(err) {
			log.WithField("task_id", taskID).Info("dispatch already recorded, skipping")
			return nil
		}
		return err
	}
	return nil
}

// pollForAllocation retries until the scheduler reports a
// running/pending allocation, per spec.md §4.G step 2 ("poll for an
// allocation id (retry until a running/pending allocation exists)").
func (l *Launcher) pollForAllocation(ctx context.Context, allocationID string) (scheduler.Allocation, error) {
	const pollInterval = 2 * time.Second
	for {
		alloc, err := l.Scheduler.GetAllocation(ctx, allocationID)
		if err != nil {
			return scheduler.Allocation{}, err
		}
		if alloc.Status == scheduler.StatusRunning || alloc.Status == scheduler.StatusPending {
			return alloc, nil
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return scheduler.Allocation{}, ctx.Err()
		}
	}
}

func mapInitialStatus(s scheduler.AllocationStatus) types.ProcessingStatus {
	switch s {
	case scheduler.StatusRunning:
		return types.StatusStarted
	case scheduler.StatusPending:
		return types.StatusPending
	default:
		return types.StatusPending
	}
}

// runUndispatchedRedriver implements activity 3.
func (l *Launcher) runUndispatchedRedriver(ctx *stopper.Context) error {
	ticker := time.NewTicker(l.RedriveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tasks, err := l.Store.UndispatchedTasks(ctx, l.Flavour, minDispatchMeasurementDay)
			if err != nil {
				log.WithError(err).Warn("undispatched re-driver query failed")
				continue
			}
			for _, t := range tasks {
				if err := l.Store.RenotifyTask(ctx, t.ID, l.Flavour); err != nil {
					log.WithError(err).WithField("task_id", t.ID).Warn("could not re-notify undispatched task")
				}
			}
		case <-ctx.Stopping():
			return nil
		}
	}
}

// runInErrorRedriver implements activity 4.
func (l *Launcher) runInErrorRedriver(ctx *stopper.Context) error {
	ticker := time.NewTicker(l.RedriveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tasks, err := l.Store.InErrorTasks(ctx, l.Flavour)
			if err != nil {
				log.WithError(err).Warn("in-error re-driver query failed")
				continue
			}
			for _, t := range tasks {
				if err := l.Store.RenotifyTask(ctx, t.ID, l.Flavour); err != nil {
					log.WithError(err).WithField("task_id", t.ID).Warn("could not re-notify in-error task")
				}
			}
		case <-ctx.Stopping():
			return nil
		}
	}
}

// runLostJobSweeper implements activity 5, the two-branch relaunch
// policy of spec.md §4.G:
//   - no callback yet: relaunch if time-since-dispatch > 1h, or the
//     scheduler has no record of the job (errs.AllocationLost).
//   - past-started, no exit code: relaunch if time-since-dispatch >
//     3 * max(7, routine_duration_minutes) * 60 seconds.
func (l *Launcher) runLostJobSweeper(ctx *stopper.Context) error {
	ticker := time.NewTicker(l.RedriveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := l.sweepOnce(ctx); err != nil {
				log.WithError(err).Warn("lost-job sweep failed")
			}
		case <-ctx.Stopping():
			return nil
		}
	}
}

func (l *Launcher) sweepOnce(ctx context.Context) error {
	tasks, err := l.Store.LiveTasksForFlavour(ctx, l.Flavour)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		dispatch, found, err := l.Store.LatestDispatch(ctx, t.ID)
		if err != nil {
			log.WithError(err).WithField("task_id", t.ID).Warn("could not fetch latest dispatch")
			continue
		}
		if !found {
			continue
		}

		status, _, found, err := l.Store.LatestStatus(ctx, dispatch.UUID)
		if err != nil {
			log.WithError(err).WithField("task_id", t.ID).Warn("could not fetch latest status")
			continue
		}

		sinceDispatch := time.Since(dispatch.DispatchTimestamp)
		lost := false

		if !found || status == types.StatusPending {
			_, allocErr := l.Scheduler.GetAllocation(ctx, dispatch.UUID)
			if errs.IsAllocationLost(allocErr) {
				lost = true
			} else if allocErr == nil && sinceDispatch > time.Hour {
				lost = true
			}
		} else if status == types.StatusStarted {
			durationMinutes := 7
			if tc, err := l.RoutineLookup(ctx, t.ID); err == nil && tc.DurationMinutes > 0 {
				durationMinutes = tc.DurationMinutes
			}
			threshold := time.Duration(3*max(7, durationMinutes)) * time.Minute
			if sinceDispatch > threshold {
				lost = true
			}
		}

		if !lost {
			continue
		}
		exitCode := 404
		if err := l.Store.RecordStatusEvent(ctx, dispatch.UUID, types.StatusInternalError, &exitCode, nil); err != nil {
			log.WithError(err).WithField("task_id", t.ID).Warn("could not record internal_error status")
		}
	}
	return nil
}

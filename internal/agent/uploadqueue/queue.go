package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/common"
	"github.com/dmitrijs2005/propcheck/internal/logging"
	"github.com/dmitrijs2005/propcheck/internal/resilience"
	"github.com/google/uuid"
)

const (
	DefaultRetryLimit = 3
	DefaultBaseDelay  = 2 * time.Second
)

// Uploader stores blobs under prefix and returns one path per blob.
type Uploader interface {
	Upload(ctx context.Context, blobs []models.Blob, prefix string) ([]string, error)
}

// BlobSource is the staging area as seen by the queue.
type BlobSource interface {
	Retrieve(ctx context.Context, localID string) (models.Blob, error)
	Delete(ctx context.Context, localID string) error
}

// Observer receives queue activity, e.g. for metrics.
type Observer interface {
	Enqueued()
	AttemptFinished(d time.Duration, err error)
	Snapshot(s Status)
}

// Item is an enqueue request. At least one of LocalID and Blob must be set;
// Blob wins when both are.
type Item struct {
	JobID       string
	AttributeID string
	Prefix      string
	LocalID     string
	Blob        *models.Blob
}

type Callbacks struct {
	OnProgress func(status models.ItemStatus)
	// OnComplete returns an error when the result could not be recorded
	// durably; the staging copy is then kept.
	OnComplete func(path string) error
	OnError    func(err error)
}

// Status counts items by state.
type Status struct {
	Pending   int
	Uploading int
	Completed int
	Failed    int
}

func (s Status) Total() int {
	return s.Pending + s.Uploading + s.Completed + s.Failed
}

// ItemView is a read-only copy of one queue item.
type ItemView struct {
	ID          string
	JobID       string
	AttributeID string
	LocalID     string
	Status      models.ItemStatus
	Retries     int
	LastError   string
}

type Options struct {
	RetryLimit int
	BaseDelay  time.Duration
	Logger     logging.Logger
	Observer   Observer
	// Online, when set, is consulted after a failed attempt: failures seen
	// while offline do not consume a retry.
	Online func() bool
	// CircuitCooldown is how long an item rejected by an open circuit
	// breaker waits before its next attempt. Such rejections do not consume
	// a retry.
	CircuitCooldown time.Duration
}

type entry struct {
	id      string
	item    Item
	status  models.ItemStatus
	retries int
	readyAt time.Time
	lastErr error
}

func (e *entry) view() ItemView {
	v := ItemView{
		ID:          e.id,
		JobID:       e.item.JobID,
		AttributeID: e.item.AttributeID,
		LocalID:     e.item.LocalID,
		Status:      e.status,
		Retries:     e.retries,
	}
	if e.lastErr != nil {
		v.LastError = e.lastErr.Error()
	}
	return v
}

type Queue struct {
	uploader Uploader
	blobs    BlobSource
	opts     Options
	log      logging.Logger
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	items      []*entry
	index      map[string]*entry
	callbacks  map[string]Callbacks
	processing bool
	paused     bool
	closed     bool
	changed    chan struct{}
	wake       *time.Timer
}

func New(uploader Uploader, blobs BlobSource, opts Options) *Queue {
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = DefaultRetryLimit
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.CircuitCooldown <= 0 {
		opts.CircuitCooldown = resilience.DefaultConfig().OpenTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		uploader:  uploader,
		blobs:     blobs,
		opts:      opts,
		log:       opts.Logger.With("component", "uploadqueue"),
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		index:     make(map[string]*entry),
		callbacks: make(map[string]Callbacks),
		changed:   make(chan struct{}),
	}
}

// Enqueue appends item as pending, requests a drain pass and returns the
// queue id immediately.
func (q *Queue) Enqueue(item Item, cb Callbacks) string {
	e := &entry{id: uuid.NewString(), item: item, status: models.ItemPending}

	q.mu.Lock()
	q.items = append(q.items, e)
	q.index[e.id] = e
	q.callbacks[e.id] = cb
	q.broadcastLocked()
	q.mu.Unlock()

	if q.opts.Observer != nil {
		q.opts.Observer.Enqueued()
	}
	q.log.Debug(q.ctx, "item enqueued", "queue_id", e.id, "job_id", item.JobID, "attribute_id", item.AttributeID)

	q.kick()
	return e.id
}

// Retry re-arms a failed item with a fresh retry budget.
func (q *Queue) Retry(id string) error {
	q.mu.Lock()
	e, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return common.ErrorNotFound
	}
	if e.status != models.ItemFailed {
		q.mu.Unlock()
		return fmt.Errorf("retry %s in state %s: %w", id, e.status, common.ErrInvalidState)
	}
	e.retries = 0
	e.status = models.ItemPending
	e.readyAt = time.Time{}
	q.broadcastLocked()
	q.mu.Unlock()

	q.kick()
	return nil
}

// Remove drops the item and its callbacks whatever its state. The result of
// an upload in flight for it is discarded. It reports whether id was known.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.removeLocked(id)
}

func (q *Queue) removeLocked(id string) bool {
	if _, ok := q.index[id]; !ok {
		return false
	}
	delete(q.index, id)
	delete(q.callbacks, id)
	q.items = slices.DeleteFunc(q.items, func(e *entry) bool { return e.id == id })
	q.broadcastLocked()
	return true
}

// Status is a side-effect free snapshot of counts by state.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.statusLocked()
}

func (q *Queue) statusLocked() Status {
	var s Status
	for _, e := range q.items {
		switch e.status {
		case models.ItemPending:
			s.Pending++
		case models.ItemUploading:
			s.Uploading++
		case models.ItemCompleted:
			s.Completed++
		case models.ItemFailed:
			s.Failed++
		}
	}
	return s
}

func (q *Queue) Item(id string) (ItemView, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[id]
	if !ok {
		return ItemView{}, false
	}
	return e.view(), true
}

// Items returns every item in queue order.
func (q *Queue) Items() []ItemView {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ItemView, 0, len(q.items))
	for _, e := range q.items {
		out = append(out, e.view())
	}
	return out
}

// WaitForAll blocks until no item is pending or uploading, or ctx is done.
func (q *Queue) WaitForAll(ctx context.Context) error {
	for {
		q.mu.Lock()
		s := q.statusLocked()
		ch := q.changed
		q.mu.Unlock()

		// completed items leave the queue right after their callbacks ran
		if s.Pending == 0 && s.Uploading == 0 && s.Completed == 0 {
			return nil
		}

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnOffline pauses processing. An upload in flight is allowed to finish.
func (q *Queue) OnOffline() {
	q.mu.Lock()
	q.paused = true
	q.stopWakeLocked()
	q.broadcastLocked()
	q.mu.Unlock()

	q.log.Info(q.ctx, "queue paused")
}

// OnOnline resumes processing where it left off.
func (q *Queue) OnOnline() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()

	q.log.Info(q.ctx, "queue resumed")
	q.kick()
}

// Close stops processing and cancels an upload in flight.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.stopWakeLocked()
	q.broadcastLocked()
	q.mu.Unlock()

	q.cancel()
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})

	if q.opts.Observer != nil {
		q.opts.Observer.Snapshot(q.statusLocked())
	}
}

func (q *Queue) stopWakeLocked() {
	if q.wake != nil {
		q.wake.Stop()
		q.wake = nil
	}
}

// kick starts a drain pass unless one is running or the queue is paused.
func (q *Queue) kick() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processing || q.paused || q.closed {
		return
	}
	q.processing = true
	go q.drain()
}

func (q *Queue) nextReadyLocked(now time.Time) *entry {
	for _, e := range q.items {
		if e.status == models.ItemPending && !e.readyAt.After(now) {
			return e
		}
	}
	return nil
}

// scheduleWakeLocked arms a timer for the earliest pending item in backoff.
func (q *Queue) scheduleWakeLocked(now time.Time) {
	q.stopWakeLocked()

	var earliest time.Time
	for _, e := range q.items {
		if e.status != models.ItemPending {
			continue
		}
		if earliest.IsZero() || e.readyAt.Before(earliest) {
			earliest = e.readyAt
		}
	}
	if earliest.IsZero() {
		return
	}

	q.wake = time.AfterFunc(earliest.Sub(now), q.kick)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if q.paused || q.closed {
			q.processing = false
			q.mu.Unlock()
			return
		}

		now := q.now()
		e := q.nextReadyLocked(now)
		if e == nil {
			q.processing = false
			q.scheduleWakeLocked(now)
			q.mu.Unlock()
			return
		}

		e.status = models.ItemUploading
		cb := q.callbacks[e.id]
		item := e.item
		q.broadcastLocked()
		q.mu.Unlock()

		if cb.OnProgress != nil {
			cb.OnProgress(models.ItemUploading)
		}

		start := time.Now()
		path, err := q.attempt(item)
		if q.opts.Observer != nil {
			q.opts.Observer.AttemptFinished(time.Since(start), err)
		}

		if err != nil {
			q.fail(e, err)
			continue
		}
		q.complete(e, path)
	}
}

func (q *Queue) attempt(item Item) (string, error) {
	blob := item.Blob
	if blob == nil {
		if item.LocalID == "" {
			return "", common.Wrap(common.ErrUpload, "uploadqueue.payload", errors.New("item has neither blob nor staging id"))
		}
		b, err := q.blobs.Retrieve(q.ctx, item.LocalID)
		if err != nil {
			return "", common.Wrap(common.ErrUpload, "uploadqueue.retrieve", err)
		}
		blob = &b
	}

	paths, err := q.uploader.Upload(q.ctx, []models.Blob{*blob}, item.Prefix)
	if err != nil {
		return "", common.Wrap(common.ErrUpload, "uploadqueue.upload", err)
	}
	if len(paths) != 1 {
		return "", common.Wrap(common.ErrUpload, "uploadqueue.upload", fmt.Errorf("expected 1 path, got %d", len(paths)))
	}

	return paths[0], nil
}

func (q *Queue) complete(e *entry, path string) {
	q.mu.Lock()
	if _, ok := q.index[e.id]; !ok {
		q.mu.Unlock()
		q.log.Info(q.ctx, "upload finished for removed item, result discarded", "queue_id", e.id, "path", path)
		return
	}
	e.status = models.ItemCompleted
	e.lastErr = nil
	cb := q.callbacks[e.id]
	q.broadcastLocked()
	q.mu.Unlock()

	q.log.Info(q.ctx, "upload completed", "queue_id", e.id, "job_id", e.item.JobID, "path", path)

	keep := false
	if cb.OnComplete != nil {
		if err := cb.OnComplete(path); err != nil {
			keep = true
			q.log.Warn(q.ctx, "upload result not persisted, staging copy kept", "queue_id", e.id, "local_id", e.item.LocalID, "error", err)
		}
	}

	if e.item.LocalID != "" && !keep {
		if err := q.blobs.Delete(q.ctx, e.item.LocalID); err != nil {
			q.log.Warn(q.ctx, "staging cleanup failed", "local_id", e.item.LocalID, "error", err)
		}
	}

	q.mu.Lock()
	q.removeLocked(e.id)
	q.mu.Unlock()
}

func (q *Queue) fail(e *entry, err error) {
	q.mu.Lock()
	if _, ok := q.index[e.id]; !ok {
		q.mu.Unlock()
		return
	}

	offline := q.paused || q.closed || (q.opts.Online != nil && !q.opts.Online())
	if offline {
		// the monitor edge may not have arrived yet; stop this pass either way
		q.paused = true
		e.status = models.ItemPending
		q.broadcastLocked()
		q.mu.Unlock()

		q.log.Info(q.ctx, "upload interrupted by connectivity loss", "queue_id", e.id, "error", err)
		return
	}

	cb := q.callbacks[e.id]

	if resilience.IsCircuitOpen(err) {
		// nothing reached the backend
		e.status = models.ItemPending
		e.lastErr = err
		e.readyAt = q.now().Add(q.opts.CircuitCooldown)
		q.broadcastLocked()
		q.mu.Unlock()

		q.log.Info(q.ctx, "upload deferred, circuit breaker open",
			"queue_id", e.id, "cooldown_ms", q.opts.CircuitCooldown.Milliseconds())

		if cb.OnProgress != nil {
			cb.OnProgress(models.ItemPending)
		}
		return
	}

	e.retries++
	e.lastErr = err
	attempts := e.retries

	if attempts < q.opts.RetryLimit {
		delay := q.opts.BaseDelay * time.Duration(attempts)
		e.status = models.ItemPending
		e.readyAt = q.now().Add(delay)
		q.broadcastLocked()
		q.mu.Unlock()

		q.log.Warn(q.ctx, "upload failed, will retry",
			"queue_id", e.id, "attempt", attempts, "max_attempts", q.opts.RetryLimit,
			"backoff_ms", delay.Milliseconds(), "error", err)

		if cb.OnProgress != nil {
			cb.OnProgress(models.ItemPending)
		}
		return
	}

	e.status = models.ItemFailed
	q.mu.Unlock()

	q.log.Error(q.ctx, "upload failed permanently", "queue_id", e.id, "attempts", attempts, "error", err)

	if cb.OnError != nil {
		cb.OnError(err)
	}

	// waiters are released only once the error has been delivered
	q.mu.Lock()
	q.broadcastLocked()
	q.mu.Unlock()
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/checklist"
	"github.com/dmitrijs2005/propcheck/internal/agent/events"
	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/agent/reconcile"
	"github.com/dmitrijs2005/propcheck/internal/agent/repositories/drafts"
	"github.com/dmitrijs2005/propcheck/internal/agent/repositories/staging"
	"github.com/dmitrijs2005/propcheck/internal/common"
	"github.com/dmitrijs2005/propcheck/internal/logging"
	"github.com/google/uuid"
)

type JobService interface {
	// Open returns the session for jobID, restoring a saved draft if there
	// is one.
	Open(ctx context.Context, jobID string, stage models.Stage, assignee string) (*JobSession, error)
	// Drafts lists jobs with a saved draft.
	Drafts(ctx context.Context) ([]string, error)
}

type Deps struct {
	Staging      staging.Repository
	Drafts       drafts.Repository
	Queue        Queue
	Reconciler   Submitter
	Connectivity reconcile.Connectivity
	Events       events.Publisher
	Recorder     SubmitRecorder
	Logger       logging.Logger
	Now          func() time.Time
}

type jobService struct {
	deps Deps
	log  logging.Logger

	mu       sync.Mutex
	sessions map[string]*JobSession
}

func NewJobService(deps Deps) JobService {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &jobService{
		deps:     deps,
		log:      deps.Logger.With("component", "jobs"),
		sessions: make(map[string]*JobSession),
	}
}

func (s *jobService) Open(ctx context.Context, jobID string, stage models.Stage, assignee string) (*JobSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if js, ok := s.sessions[jobID]; ok {
		return js, nil
	}

	js := &JobSession{
		deps:     s.deps,
		log:      s.log.With("job_id", jobID),
		assignee: assignee,
		release:  func() { s.forget(jobID) },
	}

	d, err := s.deps.Drafts.Get(ctx, jobID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		js.cl = checklist.New(jobID, stage)
	case err != nil:
		return nil, fmt.Errorf("load draft: %w", err)
	default:
		if d.Stage != stage {
			js.log.Warn(ctx, "draft was saved for another stage, keeping it", "draft_stage", string(d.Stage), "stage", string(stage))
		}
		js.cl = checklist.FromDraft(*d)
		js.resume(ctx)
	}

	s.sessions[jobID] = js
	return js, nil
}

func (s *jobService) forget(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, jobID)
}

func (s *jobService) Drafts(ctx context.Context) ([]string, error) {
	return s.deps.Drafts.List(ctx)
}

// JobSession is the working state of one job on this device.
type JobSession struct {
	deps     Deps
	log      logging.Logger
	cl       *checklist.Checklist
	assignee string
	release  func()

	// opMu serializes caller operations that change the attachment set, so
	// an Attach cannot interleave with the drain step of a submit. The queue
	// goroutine never takes it.
	opMu sync.Mutex

	// serializes draft writes coming from the caller and the queue goroutine
	saveMu     sync.Mutex
	submitted  bool
	saveFailed bool

	// held from staging Store until the attachment is in the checklist
	stageMu sync.Mutex
}

func (js *JobSession) JobID() string       { return js.cl.JobID() }
func (js *JobSession) Stage() models.Stage { return js.cl.Stage() }

// Checklist exposes the live checklist, e.g. for rendering.
func (js *JobSession) Checklist() *checklist.Checklist { return js.cl }

// Attach stages blob, adds it to the entry for key, hands it to the upload
// queue and saves the draft. When the staging area fails the attachment is
// kept in memory only and Degraded reports true.
func (js *JobSession) Attach(ctx context.Context, key models.EntryKey, blob models.Blob) (models.Attachment, error) {
	js.opMu.Lock()
	defer js.opMu.Unlock()

	if js.Submitted() {
		return models.Attachment{}, fmt.Errorf("job %s already closed: %w", js.JobID(), common.ErrInvalidState)
	}

	att := models.Attachment{
		ID:          uuid.NewString(),
		JobID:       js.JobID(),
		AttributeID: key.Attribute,
		Filename:    blob.Name,
	}

	if err := js.stageAttachment(ctx, key, &att, blob); err != nil {
		return att, err
	}

	if _, err := js.cl.Enqueue(js.deps.Queue, att.ID, js.autosave); err != nil {
		return att, err
	}

	if err := js.SaveDraft(ctx); err != nil {
		return att, err
	}

	_, att, _ = js.cl.Find(att.ID)
	return att, nil
}

func (js *JobSession) stageAttachment(ctx context.Context, key models.EntryKey, att *models.Attachment, blob models.Blob) error {
	js.stageMu.Lock()
	defer js.stageMu.Unlock()

	b := blob
	localID, err := js.deps.Staging.Store(ctx, js.JobID(), key.Attribute, blob)
	if err != nil {
		js.log.Warn(ctx, "staging unavailable, attachment held in memory only", "filename", blob.Name, "error", err)
		att.State = models.Staged{Blob: &b}
	} else {
		att.State = models.Staged{LocalID: localID, Blob: &b}
	}

	if err := js.cl.Add(key, *att); err != nil {
		if localID != "" {
			_ = js.deps.Staging.Delete(ctx, localID)
		}
		return err
	}
	return nil
}

// Degraded reports whether the attachment lives in memory only.
func Degraded(att models.Attachment) bool {
	_, uploaded := att.Path()
	return !uploaded && att.LocalID() == "" && att.InMemoryBlob() != nil
}

// Remove drops an attachment whatever its upload state.
func (js *JobSession) Remove(ctx context.Context, attachmentID string) error {
	js.opMu.Lock()
	defer js.opMu.Unlock()

	att, ok := js.cl.Remove(attachmentID)
	if !ok {
		return fmt.Errorf("attachment %s: %w", attachmentID, common.ErrorNotFound)
	}

	if qid := att.QueueID(); qid != "" {
		js.deps.Queue.Remove(qid)
	}
	if lid := att.LocalID(); lid != "" {
		if err := js.deps.Staging.Delete(ctx, lid); err != nil {
			js.log.Warn(ctx, "staging delete failed", "local_id", lid, "error", err)
		}
	}

	return js.SaveDraft(ctx)
}

// RetryAttachment re-arms a failed attachment.
func (js *JobSession) RetryAttachment(ctx context.Context, attachmentID string) error {
	js.opMu.Lock()
	defer js.opMu.Unlock()

	_, att, ok := js.cl.Find(attachmentID)
	if !ok {
		return fmt.Errorf("attachment %s: %w", attachmentID, common.ErrorNotFound)
	}
	if att.Kind() != models.KindFailed {
		return fmt.Errorf("attachment %s is %s: %w", attachmentID, att.Kind(), common.ErrInvalidState)
	}

	qid := att.QueueID()
	if v, tracked := js.deps.Queue.Item(qid); qid != "" && tracked && v.Status == models.ItemFailed {
		if err := js.deps.Queue.Retry(qid); err != nil {
			return err
		}
		js.cl.MarkQueued(attachmentID, qid)
	} else if _, err := js.cl.Enqueue(js.deps.Queue, attachmentID, js.autosave); err != nil {
		return err
	}

	return js.SaveDraft(ctx)
}

func (js *JobSession) SetStatus(ctx context.Context, key models.EntryKey, status string) error {
	js.cl.SetStatus(key, status)
	return js.SaveDraft(ctx)
}

func (js *JobSession) SetNotes(ctx context.Context, key models.EntryKey, notes string) error {
	js.cl.SetNotes(key, notes)
	return js.SaveDraft(ctx)
}

// SaveDraft writes the current checklist to the local draft store. It never
// touches the network.
func (js *JobSession) SaveDraft(ctx context.Context) error {
	js.saveMu.Lock()
	defer js.saveMu.Unlock()

	if js.submitted {
		return nil
	}

	d := js.cl.Draft(js.deps.Now())
	if err := js.deps.Drafts.Save(ctx, &d); err != nil {
		js.saveFailed = true
		return fmt.Errorf("save draft: %w", err)
	}
	if js.saveFailed {
		js.saveFailed = false
		js.sweepStagingLocked(ctx, d)
	}
	return nil
}

// autosave runs on the queue goroutine after attachment state changes. An
// error makes the queue keep the staging copy of a completed upload.
func (js *JobSession) autosave() error {
	err := js.SaveDraft(context.Background())
	if err != nil {
		js.log.Error(context.Background(), "autosave failed", "error", err)
	}
	return err
}

// sweepStagingLocked deletes staged payloads that neither the saved draft d
// nor the live checklist refers to. They are left behind when a completed
// upload could not be recorded at the time.
func (js *JobSession) sweepStagingLocked(ctx context.Context, d models.Draft) {
	js.stageMu.Lock()
	defer js.stageMu.Unlock()

	referenced := make(map[string]bool)
	for _, e := range d.Entries {
		for _, att := range e.Attachments {
			if lid := att.LocalID(); lid != "" {
				referenced[lid] = true
			}
		}
	}
	for _, att := range js.cl.Attachments() {
		if lid := att.LocalID(); lid != "" {
			referenced[lid] = true
		}
	}

	ids, err := js.deps.Staging.ListByJob(ctx, js.JobID())
	if err != nil {
		js.log.Warn(ctx, "could not list staged payloads", "error", err)
		js.saveFailed = true
		return
	}
	for _, id := range ids {
		if referenced[id] {
			continue
		}
		if err := js.deps.Staging.Delete(ctx, id); err != nil {
			js.log.Warn(ctx, "staging delete failed", "local_id", id, "error", err)
			js.saveFailed = true
			continue
		}
		js.log.Info(ctx, "unreferenced staged payload deleted", "local_id", id)
	}
}

// DeleteDraft removes the saved draft of this job.
func (js *JobSession) DeleteDraft(ctx context.Context) error {
	js.saveMu.Lock()
	defer js.saveMu.Unlock()

	return js.deleteDraftLocked(ctx)
}

func (js *JobSession) deleteDraftLocked(ctx context.Context) error {
	if err := js.deps.Drafts.Delete(ctx, js.JobID()); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// Discard drops the job's local work: queued uploads, staged payloads and
// the saved draft. The session is closed afterwards.
func (js *JobSession) Discard(ctx context.Context) error {
	js.opMu.Lock()
	defer js.opMu.Unlock()
	js.saveMu.Lock()
	defer js.saveMu.Unlock()

	if js.submitted {
		return fmt.Errorf("job %s already closed: %w", js.JobID(), common.ErrInvalidState)
	}

	for _, att := range js.cl.Attachments() {
		js.cl.Remove(att.ID)
		if qid := att.QueueID(); qid != "" {
			js.deps.Queue.Remove(qid)
		}
		if lid := att.LocalID(); lid != "" {
			if err := js.deps.Staging.Delete(ctx, lid); err != nil {
				js.log.Warn(ctx, "staging delete failed", "local_id", lid, "error", err)
			}
		}
	}

	if err := js.deleteDraftLocked(ctx); err != nil {
		return err
	}
	js.submitted = true
	if js.release != nil {
		js.release()
	}
	return nil
}

// SubmitDraft sends the checklist to the remote side and advances the job.
// Offline it only saves the draft and returns an error matching
// common.ErrOffline. Any other failure also leaves the work in the local
// draft. Entries skipped for unknown names stay in the draft after a
// successful submit.
func (js *JobSession) SubmitDraft(ctx context.Context) (reconcile.Result, error) {
	js.opMu.Lock()
	defer js.opMu.Unlock()

	if js.Submitted() {
		return reconcile.Result{}, fmt.Errorf("job %s already submitted: %w", js.JobID(), common.ErrInvalidState)
	}

	if !js.deps.Connectivity.Online() {
		js.record("offline")
		if err := js.SaveDraft(ctx); err != nil {
			return reconcile.Result{}, errors.Join(common.Wrap(common.ErrOffline, "submit", errors.New("saved as draft")), err)
		}
		js.log.Info(ctx, "offline, checklist kept as draft")
		return reconcile.Result{}, common.Wrap(common.ErrOffline, "submit", errors.New("saved as draft"))
	}

	res, err := js.deps.Reconciler.Submit(ctx, reconcile.Request{
		Checklist: js.cl,
		Assignee:  js.assignee,
		OnChange:  js.autosave,
	})
	if err != nil {
		js.record(outcome(err))
		js.log.Error(ctx, "submit failed, checklist kept as draft", "error", err)
		if serr := js.SaveDraft(ctx); serr != nil {
			return res, errors.Join(err, serr)
		}
		return res, err
	}

	if err := js.finish(ctx, res); err != nil {
		js.log.Error(ctx, "post-submit draft cleanup failed", "error", err)
	}
	if js.release != nil {
		js.release()
	}

	if res.Partial() {
		js.record("partial")
	} else {
		js.record("ok")
	}

	ev := events.JobSubmitted{
		JobID:       js.JobID(),
		Stage:       string(js.Stage()),
		Status:      res.JobStatus,
		Rows:        len(res.Rows),
		Skipped:     len(res.Skipped),
		SubmittedAt: js.deps.Now().UTC(),
	}
	if err := js.deps.Events.PublishJobSubmitted(ctx, ev); err != nil {
		js.log.Warn(ctx, "job submitted event not published", "error", err)
	}

	return res, nil
}

// finish replaces the draft after a successful submit: deleted when
// everything went through, reduced to the skipped entries otherwise.
func (js *JobSession) finish(ctx context.Context, res reconcile.Result) error {
	js.saveMu.Lock()
	defer js.saveMu.Unlock()

	if len(res.Skipped) == 0 {
		js.submitted = true
		return js.deleteDraftLocked(ctx)
	}

	skipped := make(map[models.EntryKey]bool, len(res.Skipped))
	for _, k := range res.SkippedKeys() {
		skipped[k] = true
	}

	d := js.cl.Draft(js.deps.Now())
	kept := d.Entries[:0]
	for _, e := range d.Entries {
		if skipped[e.Key] {
			kept = append(kept, e)
		}
	}
	d.Entries = kept

	js.submitted = true
	if err := js.deps.Drafts.Save(ctx, &d); err != nil {
		return fmt.Errorf("save skipped entries: %w", err)
	}
	return nil
}

// Submitted reports whether the job was handed to the next stage. A
// submitted session no longer writes drafts.
func (js *JobSession) Submitted() bool {
	js.saveMu.Lock()
	defer js.saveMu.Unlock()
	return js.submitted
}

func (js *JobSession) record(outcome string) {
	if js.deps.Recorder != nil {
		js.deps.Recorder.SubmitFinished(outcome)
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, common.ErrOffline):
		return "offline"
	case errors.Is(err, common.ErrUploadsIncomplete):
		return "uploads_incomplete"
	case errors.Is(err, common.ErrMapping):
		return "mapping"
	case errors.Is(err, common.ErrUpsert):
		return "upsert"
	case errors.Is(err, common.ErrJobUpdate):
		return "job_update"
	}
	return "error"
}

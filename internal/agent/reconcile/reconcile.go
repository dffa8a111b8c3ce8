package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/checklist"
	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/common"
	"github.com/dmitrijs2005/propcheck/internal/logging"
)

type Options struct {
	// StrictMapping makes an unresolved location or attribute fatal.
	StrictMapping bool
	// DrainTimeout bounds the wait for the upload queue. Zero leaves it to
	// the caller's context.
	DrainTimeout time.Duration
}

type Request struct {
	Checklist *checklist.Checklist
	Assignee  string
	// OnChange is passed to the queue bindings of attachments enqueued
	// during the drain step.
	OnChange func() error
}

type Result struct {
	Rows []models.ChecklistRow
	// Skipped entries were not sent because their location or attribute is
	// unknown remotely.
	Skipped []*common.MappingError
	// Warnings were sent with a null status.
	Warnings  []*common.MappingError
	JobStatus string
}

// Partial reports whether some of the checklist did not reach the remote
// side as entered.
func (r Result) Partial() bool {
	return len(r.Skipped) > 0 || len(r.Warnings) > 0
}

// SkippedKeys lists the entries left out of the upsert.
func (r Result) SkippedKeys() []models.EntryKey {
	out := make([]models.EntryKey, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		out = append(out, models.EntryKey{Location: s.Location, Attribute: s.Attribute})
	}
	return out
}

type Reconciler struct {
	queue Queue
	conn  Connectivity
	dir   Directory
	rows  ChecklistWriter
	jobs  JobUpdater
	log   logging.Logger
	opts  Options
}

func New(queue Queue, conn Connectivity, dir Directory, rows ChecklistWriter, jobs JobUpdater, log logging.Logger, opts Options) *Reconciler {
	if log == nil {
		log = logging.Nop()
	}
	return &Reconciler{
		queue: queue,
		conn:  conn,
		dir:   dir,
		rows:  rows,
		jobs:  jobs,
		log:   log.With("component", "reconcile"),
		opts:  opts,
	}
}

// Submit reconciles req.Checklist with the remote side. On error nothing
// past the failing step has happened; in particular the job status is only
// changed after a successful upsert.
func (r *Reconciler) Submit(ctx context.Context, req Request) (Result, error) {
	cl := req.Checklist
	log := r.log.With("job_id", cl.JobID(), "stage", string(cl.Stage()))

	if !r.conn.Online() {
		return Result{}, common.Wrap(common.ErrOffline, "reconcile.submit", errors.New("connectivity is down"))
	}

	if err := r.drain(ctx, cl, req.OnChange); err != nil {
		return Result{}, err
	}

	entries := cl.Snapshot()
	res, err := r.mapEntries(ctx, cl.JobID(), entries, log)
	if err != nil {
		return res, err
	}

	if len(res.Rows) > 0 {
		if err := r.rows.UpsertChecklist(ctx, res.Rows); err != nil {
			log.Error(ctx, "checklist upsert failed", "rows", len(res.Rows), "error", err)
			return res, common.Wrap(common.ErrUpsert, "reconcile.upsert", err)
		}
	} else if len(entries) > 0 {
		log.Warn(ctx, "no entry resolved, nothing upserted", "skipped", len(res.Skipped))
	}

	upd := models.JobUpdate{Status: cl.Stage().NextStatus(), Assignments: map[string]string{}}
	if req.Assignee != "" {
		upd.Assignments[cl.Stage().AssigneeField()] = req.Assignee
	}
	if err := r.jobs.UpdateJob(ctx, cl.JobID(), upd); err != nil {
		log.Error(ctx, "job status update failed", "status", upd.Status, "error", err)
		return res, common.Wrap(common.ErrJobUpdate, "reconcile.transition", err)
	}
	res.JobStatus = upd.Status

	log.Info(ctx, "checklist submitted",
		"rows", len(res.Rows), "skipped", len(res.Skipped), "warnings", len(res.Warnings), "status", upd.Status)

	return res, nil
}

// drain makes sure every attachment that is not uploaded yet is tracked by
// the queue, then waits for the queue to settle. A Queued attachment without
// a queue id is treated as lost, so callers must not enqueue from the same
// checklist while drain runs.
func (r *Reconciler) drain(ctx context.Context, cl *checklist.Checklist, onChange func() error) error {
	for _, att := range cl.Attachments() {
		switch s := att.State.(type) {
		case models.Uploaded:
			continue
		case models.Queued:
			if _, tracked := r.queue.Item(s.QueueID); s.QueueID != "" && tracked {
				continue
			}
		case models.Failed:
			if v, tracked := r.queue.Item(s.QueueID); s.QueueID != "" && tracked && v.Status == models.ItemFailed {
				if err := r.queue.Retry(s.QueueID); err == nil {
					cl.MarkQueued(att.ID, s.QueueID)
					continue
				}
			}
		}

		if _, err := cl.Enqueue(r.queue, att.ID, onChange); err != nil {
			return common.Wrap(common.ErrUploadsIncomplete, "reconcile.drain", err)
		}
	}

	wctx := ctx
	if r.opts.DrainTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, r.opts.DrainTimeout)
		defer cancel()
	}
	if err := r.queue.WaitForAll(wctx); err != nil {
		return common.Wrap(common.ErrUploadsIncomplete, "reconcile.drain", err)
	}

	var pending []string
	for _, att := range cl.Attachments() {
		if _, ok := att.Path(); !ok {
			pending = append(pending, fmt.Sprintf("%s (%s)", att.Filename, att.Kind()))
		}
	}
	if len(pending) > 0 {
		return common.Wrap(common.ErrUploadsIncomplete, "reconcile.drain",
			fmt.Errorf("%d attachment(s) not uploaded: %s", len(pending), strings.Join(pending, ", ")))
	}
	return nil
}

func (r *Reconciler) mapEntries(ctx context.Context, jobID string, entries []models.ChecklistEntry, log logging.Logger) (Result, error) {
	var res Result

	locations, err := r.lookup(ctx, "locations", r.dir.Locations)
	if err != nil {
		return res, err
	}
	attributes, err := r.lookup(ctx, "attributes", r.dir.Attributes)
	if err != nil {
		return res, err
	}
	statuses, err := r.lookup(ctx, "statuses", r.dir.Statuses)
	if err != nil {
		return res, err
	}

	// an empty directory is a broken remote, not a list of unknown names
	if len(entries) > 0 {
		for _, d := range []struct {
			name string
			idx  nameIndex
		}{{"locations", locations}, {"attributes", attributes}} {
			if len(d.idx) == 0 {
				return res, common.Wrap(common.ErrMapping, "reconcile.directory."+d.name, errors.New("remote directory is empty"))
			}
		}
	}

	for _, e := range entries {
		locID, ok := locations.resolve(e.Key.Location)
		if !ok {
			res.Skipped = append(res.Skipped, unresolved(e.Key, "location", e.Key.Location))
			log.Warn(ctx, "unknown location, entry skipped", "location", e.Key.Location, "attribute", e.Key.Attribute)
			continue
		}
		attrID, ok := attributes.resolve(e.Key.Attribute)
		if !ok {
			res.Skipped = append(res.Skipped, unresolved(e.Key, "attribute", e.Key.Attribute))
			log.Warn(ctx, "unknown attribute, entry skipped", "location", e.Key.Location, "attribute", e.Key.Attribute)
			continue
		}

		row := models.ChecklistRow{
			JobID:       jobID,
			LocationID:  locID,
			AttributeID: attrID,
			Images:      []string{},
		}

		if e.Status != "" {
			if id, ok := statuses.resolve(e.Status); ok {
				row.StatusID = &id
			} else {
				res.Warnings = append(res.Warnings, unresolved(e.Key, "status", e.Status))
				log.Warn(ctx, "unknown status, sent as null", "location", e.Key.Location, "attribute", e.Key.Attribute, "status", e.Status)
			}
		}
		if e.Notes != "" {
			notes := e.Notes
			row.Notes = &notes
		}
		for _, a := range e.Attachments {
			if p, ok := a.Path(); ok {
				row.Images = append(row.Images, p)
			}
		}

		res.Rows = append(res.Rows, row)
	}

	if r.opts.StrictMapping && len(res.Skipped) > 0 {
		return res, fmt.Errorf("reconcile.map: %w", errors.Join(mappingErrs(res.Skipped)...))
	}
	return res, nil
}

func (r *Reconciler) lookup(ctx context.Context, what string, fetch func(context.Context) ([]models.NamedID, error)) (nameIndex, error) {
	list, err := fetch(ctx)
	if err != nil {
		return nil, common.Wrap(common.ErrMapping, "reconcile.directory."+what, err)
	}
	return newNameIndex(list), nil
}

func unresolved(key models.EntryKey, field, name string) *common.MappingError {
	return &common.MappingError{Location: key.Location, Attribute: key.Attribute, Field: field, Name: name}
}

func mappingErrs(in []*common.MappingError) []error {
	out := make([]error, len(in))
	for i, e := range in {
		out[i] = e
	}
	return out
}

// nameIndex matches names case-insensitively, ignoring surrounding spaces.
// The first record wins when a directory repeats a name.
type nameIndex map[string]string

func newNameIndex(list []models.NamedID) nameIndex {
	idx := make(nameIndex, len(list))
	for _, n := range list {
		k := normalize(n.Name)
		if _, dup := idx[k]; !dup {
			idx[k] = n.ID
		}
	}
	return idx
}

func (idx nameIndex) resolve(name string) (string, bool) {
	id, ok := idx[normalize(name)]
	return id, ok
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

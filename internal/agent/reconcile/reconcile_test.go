package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/checklist"
	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/agent/uploadqueue"
	"github.com/dmitrijs2005/propcheck/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type online bool

func (o online) Online() bool { return bool(o) }

type fakeDirectory struct {
	locations, attributes, statuses []models.NamedID
	err                             error
}

func (d *fakeDirectory) Locations(context.Context) ([]models.NamedID, error)  { return d.locations, d.err }
func (d *fakeDirectory) Attributes(context.Context) ([]models.NamedID, error) { return d.attributes, d.err }
func (d *fakeDirectory) Statuses(context.Context) ([]models.NamedID, error)   { return d.statuses, d.err }

func directory() *fakeDirectory {
	return &fakeDirectory{
		locations:  []models.NamedID{{ID: "loc-kitchen", Name: "Kitchen"}, {ID: "loc-bath", Name: "Bathroom"}},
		attributes: []models.NamedID{{ID: "attr-floor", Name: "Flooring"}, {ID: "attr-walls", Name: "Walls"}},
		statuses:   []models.NamedID{{ID: "st-ok", Name: "Good"}, {ID: "st-bad", Name: "Damaged"}},
	}
}

type rowKey struct{ job, loc, attr string }

// fakeStore keeps one row per key, like the remote unique constraint.
type fakeStore struct {
	mu        sync.Mutex
	rows      map[rowKey]models.ChecklistRow
	upserts   int
	upsertErr error
	jobs      map[string]models.JobUpdate
	jobErr    error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[rowKey]models.ChecklistRow{}, jobs: map[string]models.JobUpdate{}}
}

func (s *fakeStore) UpsertChecklist(_ context.Context, rows []models.ChecklistRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, r := range rows {
		s.rows[rowKey{r.JobID, r.LocationID, r.AttributeID}] = r
	}
	return nil
}

func (s *fakeStore) UpdateJob(_ context.Context, jobID string, upd models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobErr != nil {
		return s.jobErr
	}
	s.jobs[jobID] = upd
	return nil
}

type fakeUploader struct {
	calls   atomic.Int32
	healthy atomic.Bool
}

func newFakeUploader() *fakeUploader {
	u := &fakeUploader{}
	u.healthy.Store(true)
	return u
}

func (u *fakeUploader) Upload(_ context.Context, blobs []models.Blob, prefix string) ([]string, error) {
	u.calls.Add(1)
	if !u.healthy.Load() {
		return nil, errors.New("503 service unavailable")
	}
	return []string{prefix + "/2026/10/" + blobs[0].Name}, nil
}

type nopBlobs struct{}

func (nopBlobs) Retrieve(context.Context, string) (models.Blob, error) {
	return models.Blob{}, common.ErrorNotFound
}
func (nopBlobs) Delete(context.Context, string) error { return nil }

func newQueue(t *testing.T, up uploadqueue.Uploader, retries int) *uploadqueue.Queue {
	t.Helper()
	q := uploadqueue.New(up, nopBlobs{}, uploadqueue.Options{RetryLimit: retries, BaseDelay: time.Millisecond})
	t.Cleanup(q.Close)
	return q
}

var (
	kitchenFloor = models.EntryKey{Location: "Kitchen", Attribute: "Flooring"}
	bathWalls    = models.EntryKey{Location: "Bathroom", Attribute: "Walls"}
)

func memAttachment(id string) models.Attachment {
	return models.Attachment{
		ID:       id,
		JobID:    "J1",
		Filename: id + ".jpg",
		State:    models.Staged{Blob: &models.Blob{Name: id + ".jpg", Data: []byte(id)}},
	}
}

func TestSubmit_OfflineRefusesBeforeAnything(t *testing.T) {
	up := newFakeUploader()
	q := newQueue(t, up, 3)
	store := newFakeStore()
	r := New(q, online(false), directory(), store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	require.NoError(t, cl.Add(kitchenFloor, memAttachment("a")))

	_, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.ErrorIs(t, err, common.ErrOffline)

	assert.Equal(t, int32(0), up.calls.Load())
	assert.Equal(t, 0, store.upserts)
	assert.Empty(t, store.jobs)

	_, att, _ := cl.Find("a")
	assert.Equal(t, models.KindStaged, att.Kind())
}

func TestSubmit_UploadsMapsUpsertsAndTransitions(t *testing.T) {
	up := newFakeUploader()
	q := newQueue(t, up, 3)
	store := newFakeStore()
	r := New(q, online(true), directory(), store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	cl.SetStatus(kitchenFloor, "damaged")
	cl.SetNotes(kitchenFloor, "cracked tile")
	require.NoError(t, cl.Add(kitchenFloor, models.Attachment{ID: "old", State: models.Uploaded{Path: "inspector-checklists/2026/09/old.jpg"}}))
	require.NoError(t, cl.Add(kitchenFloor, memAttachment("new")))
	cl.SetStatus(bathWalls, "Good")

	res, err := r.Submit(context.Background(), Request{Checklist: cl, Assignee: "user-7"})
	require.NoError(t, err)
	assert.False(t, res.Partial())
	assert.Equal(t, "Waiting for Technician", res.JobStatus)

	notes := "cracked tile"
	bad, ok := "st-bad", "st-ok"
	want := []models.ChecklistRow{
		{
			JobID: "J1", LocationID: "loc-kitchen", AttributeID: "attr-floor", StatusID: &bad, Notes: &notes,
			Images: []string{"inspector-checklists/2026/09/old.jpg", "inspector-checklists/2026/10/new.jpg"},
		},
		{JobID: "J1", LocationID: "loc-bath", AttributeID: "attr-walls", StatusID: &ok, Images: []string{}},
	}
	if diff := cmp.Diff(want, res.Rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, store.upserts)
	assert.Equal(t, models.JobUpdate{
		Status:      "Waiting for Technician",
		Assignments: map[string]string{"inspector_id": "user-7"},
	}, store.jobs["J1"])
	assert.Equal(t, int32(1), up.calls.Load())
}

func TestSubmit_SkipsUnresolvedEntries(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	r := New(q, online(true), directory(), store, store, nil, Options{})

	cl := checklist.New("J1", models.StageTechnician)
	cl.SetStatus(kitchenFloor, "Good")
	cl.SetStatus(models.EntryKey{Location: "Attic", Attribute: "Flooring"}, "Good")
	cl.SetStatus(models.EntryKey{Location: "Kitchen", Attribute: "Ceiling"}, "Good")
	cl.SetStatus(bathWalls, "Sparkling")

	res, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.NoError(t, err)
	require.True(t, res.Partial())

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "location", res.Skipped[0].Field)
	assert.Equal(t, "attribute", res.Skipped[1].Field)
	assert.Equal(t, []models.EntryKey{{Location: "Attic", Attribute: "Flooring"}, {Location: "Kitchen", Attribute: "Ceiling"}}, res.SkippedKeys())

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "Sparkling", res.Warnings[0].Name)

	require.Len(t, res.Rows, 2)
	assert.Nil(t, res.Rows[1].StatusID)
	assert.Equal(t, "Waiting for QA", store.jobs["J1"].Status)
}

func TestSubmit_StrictMappingFails(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	r := New(q, online(true), directory(), store, store, nil, Options{StrictMapping: true})

	cl := checklist.New("J1", models.StageQA)
	cl.SetStatus(kitchenFloor, "Good")
	cl.SetStatus(models.EntryKey{Location: "Attic", Attribute: "Flooring"}, "Good")

	_, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.ErrorIs(t, err, common.ErrMapping)

	var me *common.MappingError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Attic", me.Name)

	assert.Equal(t, 0, store.upserts)
	assert.Empty(t, store.jobs)
}

func TestSubmit_EmptyDirectoryIsAMappingError(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	dir := directory()
	dir.locations = nil
	r := New(q, online(true), dir, store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	cl.SetStatus(kitchenFloor, "Good")

	_, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.ErrorIs(t, err, common.ErrMapping)
	assert.ErrorContains(t, err, "locations")
	assert.ErrorContains(t, err, "remote directory is empty")
	assert.Equal(t, 0, store.upserts)
	assert.Empty(t, store.jobs)
}

func TestSubmit_NothingResolvableStillAdvancesAsPartial(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	r := New(q, online(true), directory(), store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	cl.SetStatus(models.EntryKey{Location: "Attic", Attribute: "Flooring"}, "Good")
	cl.SetStatus(models.EntryKey{Location: "Kitchen", Attribute: "Ceiling"}, "Good")

	res, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.NoError(t, err)
	assert.True(t, res.Partial())
	assert.Len(t, res.Skipped, 2)
	assert.Empty(t, res.Rows)
	assert.Equal(t, 0, store.upserts)
	assert.Equal(t, "Waiting for Technician", store.jobs["J1"].Status)
	assert.Equal(t, "Waiting for Technician", res.JobStatus)
}

func TestSubmit_NothingResolvableStrict(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	r := New(q, online(true), directory(), store, store, nil, Options{StrictMapping: true})

	cl := checklist.New("J1", models.StageInspector)
	cl.SetStatus(models.EntryKey{Location: "Attic", Attribute: "Flooring"}, "Good")

	_, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.ErrorIs(t, err, common.ErrMapping)
	assert.Empty(t, store.jobs)
}

func TestSubmit_DirectoryFailure(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	r := New(q, online(true), &fakeDirectory{err: errors.New("conn reset")}, store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	cl.SetStatus(kitchenFloor, "Good")

	_, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.ErrorIs(t, err, common.ErrMapping)
}

func TestSubmit_UpsertFailureLeavesJobAlone(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	store.upsertErr = errors.New("unique violation")
	r := New(q, online(true), directory(), store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	cl.SetStatus(kitchenFloor, "Good")

	_, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.ErrorIs(t, err, common.ErrUpsert)
	assert.Empty(t, store.jobs)
}

func TestSubmit_JobUpdateFailure(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	store.jobErr = errors.New("timeout")
	r := New(q, online(true), directory(), store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	cl.SetStatus(kitchenFloor, "Good")

	res, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.ErrorIs(t, err, common.ErrJobUpdate)
	assert.Empty(t, res.JobStatus)
	assert.Equal(t, 1, store.upserts)
}

func TestSubmit_FailedUploadsAbortThenRetry(t *testing.T) {
	up := newFakeUploader()
	up.healthy.Store(false)
	q := newQueue(t, up, 2)
	store := newFakeStore()
	r := New(q, online(true), directory(), store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	require.NoError(t, cl.Add(kitchenFloor, memAttachment("a")))

	changes := atomic.Int32{}
	req := Request{Checklist: cl, OnChange: func() error { changes.Add(1); return nil }}

	_, err := r.Submit(context.Background(), req)
	require.ErrorIs(t, err, common.ErrUploadsIncomplete)
	assert.Equal(t, 0, store.upserts)
	assert.Equal(t, int32(2), up.calls.Load())

	_, att, _ := cl.Find("a")
	require.Equal(t, models.KindFailed, att.Kind())
	qid := att.QueueID()
	require.NotEmpty(t, qid)

	up.healthy.Store(true)
	res, err := r.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"inspector-checklists/2026/10/a.jpg"}, res.Rows[0].Images)
	assert.Equal(t, int32(3), up.calls.Load())
	assert.Positive(t, changes.Load())

	// the same queue item was retried, not a second copy enqueued
	_, tracked := q.Item(qid)
	assert.False(t, tracked)
}

func TestSubmit_DrainTimeout(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	up := uploaderFunc(func(ctx context.Context, _ []models.Blob, _ string) ([]string, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil, errors.New("stalled")
	})
	q := newQueue(t, up, 3)
	store := newFakeStore()
	r := New(q, online(true), directory(), store, store, nil, Options{DrainTimeout: 20 * time.Millisecond})

	cl := checklist.New("J1", models.StageInspector)
	require.NoError(t, cl.Add(kitchenFloor, memAttachment("a")))

	_, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.ErrorIs(t, err, common.ErrUploadsIncomplete)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmit_ResubmitOverwritesRows(t *testing.T) {
	q := newQueue(t, newFakeUploader(), 3)
	store := newFakeStore()
	r := New(q, online(true), directory(), store, store, nil, Options{})

	cl := checklist.New("J1", models.StageInspector)
	cl.SetStatus(kitchenFloor, "Good")
	_, err := r.Submit(context.Background(), Request{Checklist: cl})
	require.NoError(t, err)

	cl.SetStatus(kitchenFloor, "Damaged")
	_, err = r.Submit(context.Background(), Request{Checklist: cl})
	require.NoError(t, err)

	require.Len(t, store.rows, 1)
	got := store.rows[rowKey{"J1", "loc-kitchen", "attr-floor"}]
	require.NotNil(t, got.StatusID)
	assert.Equal(t, "st-bad", *got.StatusID)
}

type uploaderFunc func(ctx context.Context, blobs []models.Blob, prefix string) ([]string, error)

func (f uploaderFunc) Upload(ctx context.Context, blobs []models.Blob, prefix string) ([]string, error) {
	return f(ctx, blobs, prefix)
}

package checklist

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/common"
)

type Checklist struct {
	mu      sync.Mutex
	jobID   string
	stage   models.Stage
	entries []*models.ChecklistEntry
	index   map[models.EntryKey]*models.ChecklistEntry
}

func New(jobID string, stage models.Stage) *Checklist {
	return &Checklist{
		jobID: jobID,
		stage: stage,
		index: make(map[models.EntryKey]*models.ChecklistEntry),
	}
}

// FromDraft rebuilds a checklist from a persisted draft. In-memory payloads
// are not part of a draft, so only attachments with a staging id or a remote
// path can still be uploaded.
func FromDraft(d models.Draft) *Checklist {
	c := New(d.JobID, d.Stage)
	for _, e := range d.Entries {
		ent := c.entryLocked(e.Key)
		ent.Status = e.Status
		ent.Notes = e.Notes
		ent.Attachments = append(ent.Attachments, e.Attachments...)
	}
	return c
}

func (c *Checklist) JobID() string       { return c.jobID }
func (c *Checklist) Stage() models.Stage { return c.stage }

func (c *Checklist) entryLocked(key models.EntryKey) *models.ChecklistEntry {
	if e, ok := c.index[key]; ok {
		return e
	}
	e := &models.ChecklistEntry{Key: key}
	c.entries = append(c.entries, e)
	c.index[key] = e
	return e
}

func (c *Checklist) SetStatus(key models.EntryKey, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(key).Status = status
}

func (c *Checklist) SetNotes(key models.EntryKey, notes string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(key).Notes = notes
}

// Add appends att to the entry for key. An attachment id may appear only once
// in the whole checklist.
func (c *Checklist) Add(key models.EntryKey, att models.Attachment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, _, ok := c.findLocked(att.ID); ok {
		return fmt.Errorf("attachment %s already present: %w", att.ID, common.ErrInvalidState)
	}
	e := c.entryLocked(key)
	e.Attachments = append(e.Attachments, att)
	return nil
}

// Remove drops the attachment and returns its last state.
func (c *Checklist) Remove(attachmentID string) (models.Attachment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, i, ok := c.findLocked(attachmentID)
	if !ok {
		return models.Attachment{}, false
	}
	att := e.Attachments[i]
	e.Attachments = slices.Delete(e.Attachments, i, i+1)
	return att, true
}

func (c *Checklist) Find(attachmentID string) (models.EntryKey, models.Attachment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, i, ok := c.findLocked(attachmentID)
	if !ok {
		return models.EntryKey{}, models.Attachment{}, false
	}
	return e.Key, e.Attachments[i], true
}

func (c *Checklist) findLocked(attachmentID string) (*models.ChecklistEntry, int, bool) {
	for _, e := range c.entries {
		for i, a := range e.Attachments {
			if a.ID == attachmentID {
				return e, i, true
			}
		}
	}
	return nil, 0, false
}

// update applies fn to the attachment in place. It reports false when the
// attachment is gone, e.g. removed while its upload was in flight.
func (c *Checklist) update(attachmentID string, fn func(models.Attachment) models.AttachmentState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, i, ok := c.findLocked(attachmentID)
	if !ok {
		return false
	}
	if st := fn(e.Attachments[i]); st != nil {
		e.Attachments[i].State = st
	}
	return true
}

// MarkQueued moves a staged or failed attachment under queue tracking.
func (c *Checklist) MarkQueued(attachmentID, queueID string) bool {
	return c.update(attachmentID, func(a models.Attachment) models.AttachmentState {
		if _, ok := a.State.(models.Uploaded); ok {
			return nil
		}
		return models.Queued{LocalID: a.LocalID(), QueueID: queueID, Blob: a.InMemoryBlob()}
	})
}

// setQueueID records the queue id once Enqueue returned. The upload may
// already have finished by then.
func (c *Checklist) setQueueID(attachmentID, queueID string) {
	c.update(attachmentID, func(a models.Attachment) models.AttachmentState {
		switch s := a.State.(type) {
		case models.Queued:
			s.QueueID = queueID
			return s
		case models.Failed:
			s.QueueID = queueID
			return s
		}
		return nil
	})
}

func (c *Checklist) MarkUploading(attachmentID string, uploading bool) bool {
	return c.update(attachmentID, func(a models.Attachment) models.AttachmentState {
		s, ok := a.State.(models.Queued)
		if !ok {
			return nil
		}
		s.Uploading = uploading
		return s
	})
}

// MarkUploaded replaces any local reference with the remote path.
func (c *Checklist) MarkUploaded(attachmentID, path string) bool {
	return c.update(attachmentID, func(models.Attachment) models.AttachmentState {
		return models.Uploaded{Path: path}
	})
}

// MarkFailed keeps the payload reference so that a manual retry works.
func (c *Checklist) MarkFailed(attachmentID, reason string) bool {
	return c.update(attachmentID, func(a models.Attachment) models.AttachmentState {
		if _, ok := a.State.(models.Uploaded); ok {
			return nil
		}
		return models.Failed{LocalID: a.LocalID(), QueueID: a.QueueID(), Reason: reason, Blob: a.InMemoryBlob()}
	})
}

// Snapshot returns a deep copy of all entries in insertion order.
func (c *Checklist) Snapshot() []models.ChecklistEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.ChecklistEntry, 0, len(c.entries))
	for _, e := range c.entries {
		cp := *e
		cp.Attachments = slices.Clone(e.Attachments)
		out = append(out, cp)
	}
	return out
}

// Attachments lists every attachment across entries.
func (c *Checklist) Attachments() []models.Attachment {
	var out []models.Attachment
	for _, e := range c.Snapshot() {
		out = append(out, e.Attachments...)
	}
	return out
}

func (c *Checklist) Draft(now time.Time) models.Draft {
	return models.Draft{
		JobID:     c.jobID,
		Stage:     c.stage,
		Entries:   c.Snapshot(),
		UpdatedAt: now.UTC(),
	}
}

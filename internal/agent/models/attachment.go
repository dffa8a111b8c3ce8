package models

import (
	"encoding/json"
	"fmt"
)

type AttachmentKind string

const (
	KindStaged    AttachmentKind = "staged"
	KindQueued    AttachmentKind = "queued"
	KindUploading AttachmentKind = "uploading"
	KindUploaded  AttachmentKind = "uploaded"
	KindFailed    AttachmentKind = "failed"
)

// AttachmentState is one of Staged, Queued, Uploaded or Failed.
type AttachmentState interface {
	attachmentState()
}

// Staged holds a payload that has not been handed to the upload queue.
// LocalID is empty when the staging area was unavailable and the payload
// lives only in memory.
type Staged struct {
	LocalID string
	Blob    *Blob
}

// Queued is tracked by the upload queue under QueueID.
type Queued struct {
	LocalID   string
	QueueID   string
	Uploading bool
	Blob      *Blob
}

// Uploaded carries only the remote storage path; the local copy is gone.
type Uploaded struct {
	Path string
}

// Failed exhausted its automatic retries. LocalID or Blob is kept so that a
// manual retry does not need the user to pick the file again.
type Failed struct {
	LocalID string
	QueueID string
	Reason  string
	Blob    *Blob
}

func (Staged) attachmentState()   {}
func (Queued) attachmentState()   {}
func (Uploaded) attachmentState() {}
func (Failed) attachmentState()   {}

// Attachment is one file tied to one checklist attribute of a job.
type Attachment struct {
	ID          string
	JobID       string
	AttributeID string
	Filename    string
	State       AttachmentState
}

func (a Attachment) Kind() AttachmentKind {
	switch s := a.State.(type) {
	case Staged:
		return KindStaged
	case Queued:
		if s.Uploading {
			return KindUploading
		}
		return KindQueued
	case Uploaded:
		return KindUploaded
	case Failed:
		return KindFailed
	default:
		panic(fmt.Sprintf("unknown attachment state %T", a.State))
	}
}

// LocalID returns the staging id, if any.
func (a Attachment) LocalID() string {
	switch s := a.State.(type) {
	case Staged:
		return s.LocalID
	case Queued:
		return s.LocalID
	case Failed:
		return s.LocalID
	default:
		return ""
	}
}

// QueueID returns the upload queue id, if the attachment has been enqueued.
func (a Attachment) QueueID() string {
	switch s := a.State.(type) {
	case Queued:
		return s.QueueID
	case Failed:
		return s.QueueID
	default:
		return ""
	}
}

// InMemoryBlob returns the payload held in memory, if any.
func (a Attachment) InMemoryBlob() *Blob {
	switch s := a.State.(type) {
	case Staged:
		return s.Blob
	case Queued:
		return s.Blob
	case Failed:
		return s.Blob
	default:
		return nil
	}
}

// Path returns the remote path of an uploaded attachment.
func (a Attachment) Path() (string, bool) {
	if s, ok := a.State.(Uploaded); ok {
		return s.Path, true
	}
	return "", false
}

// Recoverable reports whether the payload can still be uploaded without
// asking the user for the file again.
func (a Attachment) Recoverable() bool {
	if _, ok := a.State.(Uploaded); ok {
		return true
	}
	return a.LocalID() != "" || a.InMemoryBlob() != nil
}

type attachmentJSON struct {
	ID          string         `json:"id"`
	JobID       string         `json:"job_id"`
	AttributeID string         `json:"attribute_id"`
	Filename    string         `json:"filename"`
	Kind        AttachmentKind `json:"kind"`
	LocalID     string         `json:"local_id,omitempty"`
	QueueID     string         `json:"queue_id,omitempty"`
	Path        string         `json:"path,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

// MarshalJSON encodes the state with a "kind" discriminator. In-memory
// payloads are never written out.
func (a Attachment) MarshalJSON() ([]byte, error) {
	v := attachmentJSON{
		ID:          a.ID,
		JobID:       a.JobID,
		AttributeID: a.AttributeID,
		Filename:    a.Filename,
		Kind:        a.Kind(),
		LocalID:     a.LocalID(),
		QueueID:     a.QueueID(),
	}
	switch s := a.State.(type) {
	case Uploaded:
		v.Path = s.Path
	case Failed:
		v.Reason = s.Reason
	}
	return json.Marshal(v)
}

func (a *Attachment) UnmarshalJSON(b []byte) error {
	var v attachmentJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	a.ID = v.ID
	a.JobID = v.JobID
	a.AttributeID = v.AttributeID
	a.Filename = v.Filename

	switch v.Kind {
	case KindStaged:
		a.State = Staged{LocalID: v.LocalID}
	case KindQueued, KindUploading:
		a.State = Queued{LocalID: v.LocalID, QueueID: v.QueueID}
	case KindUploaded:
		a.State = Uploaded{Path: v.Path}
	case KindFailed:
		a.State = Failed{LocalID: v.LocalID, QueueID: v.QueueID, Reason: v.Reason}
	default:
		return fmt.Errorf("unknown attachment kind %q", v.Kind)
	}
	return nil
}

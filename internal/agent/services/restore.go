package services

import (
	"context"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
)

// resume re-enqueues every attachment of a restored draft that still has a
// payload. Attachments whose in-memory payload died with the previous
// process are shown as failed so that the user can pick the file again.
func (js *JobSession) resume(ctx context.Context) {
	referenced := make(map[string]bool)
	requeued, lost := 0, 0

	for _, att := range js.cl.Attachments() {
		if lid := att.LocalID(); lid != "" {
			referenced[lid] = true
		}
		if _, ok := att.Path(); ok {
			continue
		}
		if !att.Recoverable() {
			js.cl.MarkFailed(att.ID, "payload lost before it reached local storage; attach the file again")
			lost++
			continue
		}
		if _, err := js.cl.Enqueue(js.deps.Queue, att.ID, js.autosave); err != nil {
			js.log.Warn(ctx, "could not re-enqueue attachment", "attachment_id", att.ID, "error", err)
			continue
		}
		requeued++
	}

	js.log.Info(ctx, "draft restored", "requeued", requeued, "lost", lost)

	ids, err := js.deps.Staging.ListByJob(ctx, js.JobID())
	if err != nil {
		js.log.Warn(ctx, "could not list staged payloads", "error", err)
		return
	}
	for _, id := range ids {
		if !referenced[id] {
			// stored but the draft write did not happen before the process died
			js.log.Warn(ctx, "staged payload not referenced by the draft", "local_id", id)
		}
	}
}

// AttachmentSummary is the per-attachment chip shown to the user.
type AttachmentSummary struct {
	ID        string
	Location  string
	Attribute string
	Filename  string
	Kind      models.AttachmentKind
	Path      string
	Reason    string
	Degraded  bool
}

// Summary lists every attachment with its current upload state.
func (js *JobSession) Summary() []AttachmentSummary {
	var out []AttachmentSummary
	for _, e := range js.cl.Snapshot() {
		for _, att := range e.Attachments {
			s := AttachmentSummary{
				ID:        att.ID,
				Location:  e.Key.Location,
				Attribute: e.Key.Attribute,
				Filename:  att.Filename,
				Kind:      att.Kind(),
				Degraded:  Degraded(att),
			}
			switch st := att.State.(type) {
			case models.Uploaded:
				s.Path = st.Path
			case models.Failed:
				s.Reason = st.Reason
			}
			out = append(out, s)
		}
	}
	return out
}

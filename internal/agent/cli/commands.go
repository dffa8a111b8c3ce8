package cli

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/propcheck/internal/agent/models"
	"github.com/dmitrijs2005/propcheck/internal/agent/remote"
	"github.com/dmitrijs2005/propcheck/internal/agent/services"
	"github.com/dmitrijs2005/propcheck/internal/common"
)

var errNoJob = errors.New("no job open, use: open <job> <stage>")

func usage(s string) error {
	return fmt.Errorf("usage: %s", s)
}

func (a *App) Open(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("open <job> <stage>")
	}
	stage, err := models.ParseStage(args[1])
	if err != nil {
		return err
	}

	js, err := a.jobs.Open(ctx, args[0], stage, a.assignee)
	if err != nil {
		return err
	}
	a.session = js

	n := len(js.Summary())
	if n > 0 {
		fmt.Fprintf(a.out, "Resumed job %s (%s) with %d attachment(s)\n", js.JobID(), js.Stage(), n)
	} else {
		fmt.Fprintf(a.out, "Opened job %s (%s)\n", js.JobID(), js.Stage())
	}
	return nil
}

func (a *App) Attach(ctx context.Context, args []string) error {
	if a.session == nil {
		return errNoJob
	}
	if len(args) != 3 {
		return usage("attach <location> <attribute> <file>")
	}

	path := args[2]
	data, err := a.readFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	blob := models.Blob{
		Name:        filepath.Base(path),
		ContentType: contentType(path, data),
		Data:        data,
	}

	att, err := a.session.Attach(ctx, models.EntryKey{Location: args[0], Attribute: args[1]}, blob)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Attached %s as %s\n", blob.Name, att.ID)
	if services.Degraded(att) {
		fmt.Fprintln(a.out, "Warning: local storage unavailable, keep the app open until the upload finishes")
	}
	return nil
}

func contentType(path string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func (a *App) SetStatus(ctx context.Context, args []string) error {
	if a.session == nil {
		return errNoJob
	}
	if len(args) != 3 {
		return usage("status <location> <attribute> <label>")
	}
	return a.session.SetStatus(ctx, models.EntryKey{Location: args[0], Attribute: args[1]}, args[2])
}

func (a *App) Note(ctx context.Context, args []string) error {
	if a.session == nil {
		return errNoJob
	}
	if len(args) < 3 {
		return usage("note <location> <attribute> <text>")
	}
	return a.session.SetNotes(ctx, models.EntryKey{Location: args[0], Attribute: args[1]}, strings.Join(args[2:], " "))
}

func (a *App) Remove(ctx context.Context, args []string) error {
	if a.session == nil {
		return errNoJob
	}
	if len(args) != 1 {
		return usage("remove <id>")
	}
	return a.session.Remove(ctx, args[0])
}

func (a *App) Retry(ctx context.Context, args []string) error {
	if a.session == nil {
		return errNoJob
	}
	if len(args) != 1 {
		return usage("retry <id>")
	}
	return a.session.RetryAttachment(ctx, args[0])
}

func (a *App) List(ctx context.Context) error {
	if a.session == nil {
		return errNoJob
	}

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, e := range a.session.Checklist().Snapshot() {
		fmt.Fprintf(w, "%s / %s\t%s\t%s\n", e.Key.Location, e.Key.Attribute, e.Status, e.Notes)
	}
	for _, s := range a.session.Summary() {
		detail := ""
		if s.Path != "" {
			detail = remote.ResolveURL(a.publicURL, s.Path)
		}
		if s.Reason != "" {
			detail = s.Reason
		}
		if s.Degraded {
			detail = strings.TrimSpace(detail + " (memory only)")
		}
		fmt.Fprintf(w, "  %s\t%s / %s\t%s\t%s\t%s\n", s.ID, s.Location, s.Attribute, s.Filename, s.Kind, detail)
	}
	return w.Flush()
}

func (a *App) Queue(ctx context.Context) error {
	st := a.queue.Status()
	fmt.Fprintf(a.out, "pending %d, uploading %d, completed %d, failed %d\n", st.Pending, st.Uploading, st.Completed, st.Failed)

	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, it := range a.queue.Items() {
		fmt.Fprintf(w, "%s\t%s\t%s\tretries=%d\t%s\n", it.ID, it.JobID, it.Status, it.Retries, it.LastError)
	}
	return w.Flush()
}

func (a *App) Save(ctx context.Context) error {
	if a.session == nil {
		return errNoJob
	}
	if err := a.session.SaveDraft(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Draft saved")
	return nil
}

func (a *App) Submit(ctx context.Context) error {
	if a.session == nil {
		return errNoJob
	}

	res, err := a.session.SubmitDraft(ctx)
	switch {
	case errors.Is(err, common.ErrOffline):
		fmt.Fprintln(a.out, "Offline: checklist saved as draft, submit again when the connection is back")
		return nil
	case errors.Is(err, common.ErrUploadsIncomplete):
		fmt.Fprintln(a.out, "Some photos did not upload, check 'list' and use 'retry <id>'")
		return err
	case err != nil:
		return err
	}

	fmt.Fprintf(a.out, "Submitted job %s: %d row(s), job status %q\n", a.session.JobID(), len(res.Rows), res.JobStatus)
	for _, s := range res.Skipped {
		fmt.Fprintf(a.out, "  skipped: %v\n", s)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(a.out, "  warning: %v\n", w)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintln(a.out, "Skipped entries are kept as a draft")
	}
	a.session = nil
	return nil
}

func (a *App) Discard(ctx context.Context) error {
	if a.session == nil {
		return errNoJob
	}
	id := a.session.JobID()
	if err := a.session.Discard(ctx); err != nil {
		return err
	}
	a.session = nil
	fmt.Fprintf(a.out, "Discarded local work for job %s\n", id)
	return nil
}

func (a *App) Drafts(ctx context.Context) error {
	ids, err := a.jobs.Drafts(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(a.out, "No drafts")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(a.out, id)
	}
	return nil
}

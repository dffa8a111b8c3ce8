// Package uploadqueue is the resumable, strictly sequential upload queue of
// the field agent.
//
// # Overview
//
// A Queue is constructed explicitly and shared by every job session of the
// process. Enqueue appends an item in the pending state and requests a drain
// pass; at most one pass runs at a time. A pass repeatedly takes the first
// pending item whose backoff has elapsed, marks it uploading, resolves its
// payload (live blob, or staging area by local id) and hands it to the
// Uploader.
//
//   - success: the item is marked completed, OnComplete(path) runs, the staging
//     entry is deleted and the item leaves the queue. When OnComplete reports
//     an error the staging entry is kept.
//   - failure: the retry count grows. Below the limit the item goes back to
//     pending and becomes eligible after base × retries (linear backoff) while
//     other items keep flowing. At the limit it is marked failed, OnError runs
//     and it stays in the queue until Retry or Remove.
//   - circuit open: a rejection by the uploader's circuit breaker does not
//     consume a retry; the item waits Options.CircuitCooldown and is tried
//     again, so the retry limit counts real attempts only.
//   - offline: Pause stops the pass before the next item. A failure observed
//     while paused does not consume a retry; the item is attempted again whole
//     after Resume.
//
// Callbacks run on the drain goroutine without the queue lock held.
// WaitForAll blocks until nothing is pending or uploading; it is woken by
// state changes rather than polling and never resolves while pending items
// wait for connectivity, so callers bound it with their context.
package uploadqueue

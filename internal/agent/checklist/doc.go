// Package checklist holds the in-memory checklist of one job: ordered
// (location, attribute) entries, each with a status label, notes and an
// ordered list of attachments whose state follows the upload queue.
package checklist

// Package drafts persists locally saved checklist drafts, one per job, as
// JSON snapshots in the agent's SQLite database. Saving never touches the
// network and is always available, including offline.
package drafts

// Package staging is the durable local staging area for binary attachments.
//
// # Overview
//
// Attachments selected by the user are written here before they are uploaded
// so they survive restarts and connectivity loss. Every payload is keyed by a
// fresh opaque local id built from the owning job, the owning attribute, a
// timestamp and a random suffix. A BLAKE2b checksum is stored next to the
// payload and verified on every read.
//
// Key Types
//
//   - type Repository       : Store / Retrieve / Delete / ListByJob contract
//   - type SQLiteRepository : SQLite implementation over dbx.DBTX
//
// Errors
//
// Retrieve returns common.ErrorNotFound for unknown ids. Every other failure
// wraps common.ErrStaging; callers fall back to holding the payload in memory.
// Delete is idempotent. No operation performs network I/O.
package staging

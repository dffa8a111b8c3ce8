// Package remote contains the adapters the field agent uses to reach the
// hosted backend: S3-compatible object storage for attachments and the
// Postgres database holding jobs, directories and checklist rows.
package remote

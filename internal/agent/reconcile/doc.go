// Package reconcile turns the local checklist of a job into remote checklist
// rows and advances the job to its next workflow status.
//
// Submit runs five steps in order and stops at the first fatal one:
//
//  1. collect: split attachments into uploaded paths and local references
//  2. drain: hand every local reference to the upload queue and wait for it
//     to settle; refused up front while offline
//  3. map: resolve location, attribute and status names to remote ids
//  4. upsert: write all rows in one batch keyed by (job, location, attribute)
//  5. transition: move the job to the stage's next status
//
// Entries whose location or attribute cannot be resolved are skipped and
// reported in Result.Skipped unless Options.StrictMapping is set.
package reconcile

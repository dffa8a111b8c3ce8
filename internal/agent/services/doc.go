// Package services implements the draft lifecycle of the field agent: a job
// session collects attachments, statuses and notes for one job, keeps a local
// draft of that work at all times and submits it to the remote side.
//
// Every failure path of SubmitDraft ends with the draft saved locally, so no
// attachment is ever lost from both the server and the device.
package services

package models

import (
	"fmt"
	"strings"
	"time"
)

const JobStatusDraft = "Draft"

// Stage is the workflow step a checklist is filled in for.
type Stage string

const (
	StageInspector  Stage = "inspector"
	StageTechnician Stage = "technician"
	StageQA         Stage = "qa"
)

func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case StageInspector:
		return StageInspector, nil
	case StageTechnician:
		return StageTechnician, nil
	case StageQA:
		return StageQA, nil
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// UploadPrefix is the storage folder attachments of this stage go to.
func (s Stage) UploadPrefix() string {
	return string(s) + "-checklists"
}

// NextStatus is the job status set after a successful submit.
func (s Stage) NextStatus() string {
	switch s {
	case StageInspector:
		return "Waiting for Technician"
	case StageTechnician:
		return "Waiting for QA"
	case StageQA:
		return "Completed"
	}
	return JobStatusDraft
}

// AssigneeField is the job column recording who completed this stage.
func (s Stage) AssigneeField() string {
	return string(s) + "_id"
}

// JobUpdate is a partial job record: the new status plus role assignments.
type JobUpdate struct {
	Status      string
	Assignments map[string]string
}

// Draft is a locally persisted snapshot of in-progress checklist work.
type Draft struct {
	JobID     string           `json:"job_id"`
	Stage     Stage            `json:"stage"`
	Entries   []ChecklistEntry `json:"entries"`
	UpdatedAt time.Time        `json:"updated_at"`
}

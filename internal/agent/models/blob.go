// Package models defines the data shapes shared by the field agent: binary
// attachments and their lifecycle states, checklist entries, queue item
// states, workflow stages and the rows written to the remote database.
package models

import (
	"path/filepath"
	"strings"
)

// Blob is a binary payload selected by the user, e.g. a photo.
type Blob struct {
	Name        string
	ContentType string
	Data        []byte
}

func (b Blob) Size() int {
	return len(b.Data)
}

// Ext returns the lower-cased file extension without the dot, or "bin".
func (b Blob) Ext() string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(b.Name)), ".")
	if ext == "" {
		return "bin"
	}
	return ext
}

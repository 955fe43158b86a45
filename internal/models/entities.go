// Package models provides data model definitions for the Notabene sync core.
package models

import "encoding/json"

// Store names for every entity kind the sync core manages. The set is
// closed: the registry below describes the foreign keys and ownership
// relations for each kind.
const (
	StoreNotes           = "notes"
	StoreFolders         = "folders"
	StoreReferences      = "references"
	StoreProjects        = "projects"
	StoreTemplates       = "templates"
	StoreProjectSettings = "project_settings"
	StoreCitationStyles  = "citation_styles"
	StoreNoteVersions    = "note_versions"
	StoreDailyNotes      = "daily_notes"
)

// Note is a document inside a project, optionally filed under a folder.
type Note struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	FolderID  string `json:"folder_id,omitempty"`
	Title     string `json:"title"`
	Content   string `json:"content,omitempty"`
	WordCount int    `json:"word_count,omitempty"`
}

// Folder groups notes within a project. Folders nest via ParentID.
type Folder struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	Name      string `json:"name"`
	Position  int    `json:"position,omitempty"`
}

// Reference is a bibliographic entry attached to a project.
type Reference struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id,omitempty"`
	Title     string `json:"title"`
	Authors   string `json:"authors,omitempty"`
	Year      int    `json:"year,omitempty"`
	DOI       string `json:"doi,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Project is the top of the ownership hierarchy.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Archived    bool   `json:"archived,omitempty"`
}

// Template is a reusable document skeleton, not owned by any project.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content,omitempty"`
}

// ProjectSettings holds per-project preferences.
type ProjectSettings struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	CitationStyle string `json:"citation_style,omitempty"`
	WordTarget    int    `json:"word_target,omitempty"`
}

// CitationStyle is a CSL-style definition shared across projects.
type CitationStyle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Body string `json:"body,omitempty"`
}

// NoteVersion is a point-in-time snapshot of a note's content.
type NoteVersion struct {
	ID      string `json:"id"`
	NoteID  string `json:"note_id"`
	Content string `json:"content,omitempty"`
	SavedAt int64  `json:"saved_at,omitempty"`
}

// DailyNote is a journal entry keyed by calendar date (YYYY-MM-DD).
type DailyNote struct {
	ID      string `json:"id"`
	Date    string `json:"date"`
	Content string `json:"content,omitempty"`
}

// DecodeRecord unmarshals a record's domain fields into a typed entity.
func DecodeRecord[T any](r *Record) (T, error) {
	var out T
	data, err := json.Marshal(r.Fields)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}

// EncodeEntity converts a typed entity into envelope fields via its JSON
// tags. The id field, if set, is lifted to the envelope by the caller.
func EncodeEntity(entity interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

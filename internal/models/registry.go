// Package models provides data model definitions for the Notabene sync core.
package models

// Indexed foreign-key fields. The local store extracts these from record
// payloads into dedicated columns so parent lookups stay O(descendants).
const (
	FieldProjectID = "project_id"
	FieldFolderID  = "folder_id"
	FieldParentID  = "parent_id"
	FieldNoteID    = "note_id"
	FieldDate      = "date"
)

// ChildRelation declares that records in Store reference their owner through
// ForeignKey. Cascade delete walks these relations depth-first.
type ChildRelation struct {
	Store      string
	ForeignKey string
}

// StoreSpec describes one entity kind: which payload fields are indexed for
// secondary lookup and which stores hold its descendants.
type StoreSpec struct {
	Name          string
	IndexedFields []string
	Children      []ChildRelation
}

// storeSpecs is the closed registry of entity kinds.
var storeSpecs = map[string]StoreSpec{
	StoreProjects: {
		Name: StoreProjects,
		Children: []ChildRelation{
			{Store: StoreFolders, ForeignKey: FieldProjectID},
			{Store: StoreNotes, ForeignKey: FieldProjectID},
			{Store: StoreReferences, ForeignKey: FieldProjectID},
			{Store: StoreProjectSettings, ForeignKey: FieldProjectID},
		},
	},
	StoreFolders: {
		Name:          StoreFolders,
		IndexedFields: []string{FieldProjectID, FieldParentID},
		Children: []ChildRelation{
			{Store: StoreFolders, ForeignKey: FieldParentID},
			{Store: StoreNotes, ForeignKey: FieldFolderID},
		},
	},
	StoreNotes: {
		Name:          StoreNotes,
		IndexedFields: []string{FieldProjectID, FieldFolderID},
		Children: []ChildRelation{
			{Store: StoreNoteVersions, ForeignKey: FieldNoteID},
		},
	},
	StoreReferences: {
		Name:          StoreReferences,
		IndexedFields: []string{FieldProjectID},
	},
	StoreProjectSettings: {
		Name:          StoreProjectSettings,
		IndexedFields: []string{FieldProjectID},
	},
	StoreNoteVersions: {
		Name:          StoreNoteVersions,
		IndexedFields: []string{FieldNoteID},
	},
	StoreDailyNotes: {
		Name:          StoreDailyNotes,
		IndexedFields: []string{FieldDate},
	},
	StoreTemplates:      {Name: StoreTemplates},
	StoreCitationStyles: {Name: StoreCitationStyles},
}

// StoreNames returns every registered entity kind, in a stable order.
func StoreNames() []string {
	return []string{
		StoreProjects,
		StoreFolders,
		StoreNotes,
		StoreReferences,
		StoreTemplates,
		StoreProjectSettings,
		StoreCitationStyles,
		StoreNoteVersions,
		StoreDailyNotes,
	}
}

// SpecFor returns the registry entry for a store name.
func SpecFor(store string) (StoreSpec, bool) {
	spec, ok := storeSpecs[store]
	return spec, ok
}

// IsKnownStore reports whether a store name is part of the closed set.
func IsKnownStore(store string) bool {
	_, ok := storeSpecs[store]
	return ok
}

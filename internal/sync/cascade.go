package sync

import (
	"github.com/notabene-app/notabene-core/internal/logging"
	"github.com/notabene-app/notabene-core/internal/models"
)

// cascadeDelete hard-removes a record and every descendant from the local
// store, tombstoning each removed id. The walk is depth-first over the
// ownership relations in the store registry, using the indexed parent
// lookups so cost stays proportional to the number of descendants. A
// visited set guarantees each record is removed exactly once even if the
// folder tree is malformed.
func (s *EntityStore) cascadeDelete(id string) error {
	visited := make(map[string]bool)
	removed, err := s.removeTree(s.name, id, visited)
	if err != nil {
		return err
	}
	if removed > 1 {
		logging.Info("Cascade delete completed", map[string]interface{}{
			"store":   s.name,
			"id":      id,
			"removed": removed,
		})
	}
	return nil
}

func (s *EntityStore) removeTree(storeName, id string, visited map[string]bool) (int, error) {
	key := storeName + "\x00" + id
	if visited[key] {
		return 0, nil
	}
	visited[key] = true

	removed := 1
	s.tombs.Add(storeName, id)

	spec, _ := models.SpecFor(storeName)
	for _, rel := range spec.Children {
		children, err := s.local.GetByParent(rel.Store, rel.ForeignKey, id)
		if err != nil {
			return removed, err
		}
		for _, child := range children {
			n, err := s.removeTree(rel.Store, child.ID, visited)
			removed += n
			if err != nil {
				return removed, err
			}
		}
	}

	if err := s.local.Delete(storeName, id); err != nil {
		return removed, err
	}
	return removed, nil
}

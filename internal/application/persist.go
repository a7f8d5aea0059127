package application

import (
	"fmt"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/google/uuid"
)

// checkLastUpdate rejects a claim that does not match the subtree's current
// last update exactly.
func (s *session) checkLastUpdate(kind domain.Kind, id string, claimed time.Time) error {
	current, err := s.lastUpdate(kind, id, roaring.New())
	if err != nil {
		return err
	}
	if !claimed.Equal(current) {
		return fmt.Errorf("%w: %s %s changed since %s (last update %s)", domain.ErrConflict, kind, id,
			claimed.UTC().Format(time.RFC3339Nano), current.Format(time.RFC3339Nano))
	}
	return nil
}

func (s *session) persist(kind domain.Kind, id string, claimed time.Time) (string, error) {
	if err := s.require(kind, id, domain.CategoryAdmin); err != nil {
		return "", err
	}
	if err := s.checkLastUpdate(kind, id, claimed); err != nil {
		return "", err
	}
	versionID, changed, err := s.persistNode(kind, id, roaring.New())
	if err != nil {
		return "", err
	}
	if !changed {
		return "", fmt.Errorf("%w: %s %s has nothing to persist", domain.ErrConflict, kind, id)
	}
	return versionID, s.audit("node.persist", kind, id, versionID)
}

// persistNode snapshots id and every descendant the caller administers that
// has moved on since its latest version. Descendants the caller cannot
// administer stay at their latest persisted version.
func (s *session) persistNode(kind domain.Kind, id string, path *roaring.Bitmap) (string, bool, error) {
	if done, ok := s.persisted[id]; ok {
		return done.id, done.changed, nil
	}
	idx := s.index(id)
	if path.Contains(idx) {
		return "", false, fmt.Errorf("%w: %s %s is its own ancestor", domain.ErrConflict, kind, id)
	}

	latest, hasLatest, err := s.latest(kind, id)
	if err != nil {
		return "", false, err
	}
	admin, err := s.can(id, domain.CategoryAdmin)
	if err != nil {
		return "", false, err
	}
	if !admin {
		if !hasLatest {
			return "", false, fmt.Errorf("%w: %s %s was never persisted and needs its admin", domain.ErrUnauthorized, kind, id)
		}
		s.persisted[id] = persistResult{id: latest.ID}
		return latest.ID, false, nil
	}

	doc, err := s.current(kind, id)
	if err != nil {
		return "", false, err
	}

	path.Add(idx)
	c := cloneContent(doc.Content)
	for _, sl := range typeOf(kind).slots() {
		refs := sl.refs(&c)
		for i := range *refs {
			childID, _, err := s.persistNode(sl.kind, (*refs)[i].UUID, path)
			if err != nil {
				return "", false, err
			}
			(*refs)[i].ID = childID
		}
	}
	path.Remove(idx)

	if hasLatest && sameContent(c, latest.Content) {
		s.persisted[id] = persistResult{id: latest.ID}
		return latest.ID, false, nil
	}

	persistDate := s.now
	version := domain.Document{
		Kind:           kind,
		UUID:           id,
		ID:             uuid.NewString(),
		Content:        c,
		GroupUUID:      doc.GroupUUID,
		DuplicatedFrom: doc.DuplicatedFrom,
		UpdatedAt:      doc.UpdatedAt,
		PersistDate:    &persistDate,
	}
	if err := s.store.CreateVersion(s.ctx, version); err != nil {
		return "", false, err
	}
	if err := s.store.DeleteDraft(s.ctx, kind, id); err != nil {
		return "", false, err
	}
	s.persisted[id] = persistResult{id: version.ID, changed: true}
	return version.ID, true, nil
}

// publish persists the record if anything moved and stores the resulting
// version under name. A record with nothing new publishes its latest version.
func (s *session) publish(id string, claimed time.Time, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: publication name is required", domain.ErrInput)
	}
	if err := s.require(domain.KindRecord, id, domain.CategoryAdmin); err != nil {
		return "", err
	}
	_, err := s.store.GetPublication(s.ctx, id, name)
	if err == nil {
		return "", fmt.Errorf("%w: record %s is already published as %q", domain.ErrConflict, id, name)
	}
	if !isNotFound(err) {
		return "", err
	}
	if err := s.checkLastUpdate(domain.KindRecord, id, claimed); err != nil {
		return "", err
	}

	versionID, _, err := s.persistNode(domain.KindRecord, id, roaring.New())
	if err != nil {
		return "", err
	}
	version, err := s.store.GetVersion(s.ctx, domain.KindRecord, versionID)
	if err != nil {
		return "", err
	}
	datasetUUID := ""
	if version.Content.Dataset != nil {
		datasetUUID = version.Content.Dataset.UUID
	}
	if err := s.store.CreatePublication(s.ctx, domain.Publication{
		UUID:        id,
		Name:        name,
		VersionID:   versionID,
		DatasetUUID: datasetUUID,
		PublishedAt: s.now,
	}); err != nil {
		return "", err
	}
	return versionID, s.audit("record.publish", domain.KindRecord, id, name)
}

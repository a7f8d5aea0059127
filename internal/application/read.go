package application

import (
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/atvirokodosprendimai/curator/internal/domain"
)

func stub(id string) *domain.Node {
	return &domain.Node{UUID: id}
}

// draftNode resolves the editable tree rooted at id. Children the caller
// cannot edit are collapsed to their uuid.
func (s *session) draftNode(kind domain.Kind, id string, path *roaring.Bitmap) (*domain.Node, error) {
	doc, err := s.current(kind, id)
	if err != nil {
		return nil, err
	}
	updated := doc.UpdatedAt
	n := &domain.Node{
		UUID:           id,
		GroupUUID:      doc.GroupUUID,
		DuplicatedFrom: doc.DuplicatedFrom,
		UpdatedAt:      &updated,
	}
	t := typeOf(kind)
	t.render(doc.Content, n)

	idx := s.index(id)
	path.Add(idx)
	defer path.Remove(idx)

	for _, sl := range t.slots() {
		children := sl.nodes(n)
		for _, ref := range *sl.refs(&doc.Content) {
			child, err := s.draftChild(sl.kind, ref.UUID, path)
			if err != nil {
				return nil, err
			}
			*children = append(*children, child)
		}
	}
	return n, nil
}

func (s *session) draftChild(kind domain.Kind, id string, path *roaring.Bitmap) (*domain.Node, error) {
	if path.Contains(s.index(id)) {
		return stub(id), nil
	}
	editable, err := s.can(id, domain.CategoryEdit)
	if err != nil {
		return nil, err
	}
	if !editable {
		return stub(id), nil
	}
	child, err := s.draftNode(kind, id, path)
	if isNotFound(err) {
		return stub(id), nil
	}
	return child, err
}

// persistedNode resolves a persisted version. Children the caller cannot view
// are collapsed to their uuid.
func (s *session) persistedNode(doc domain.Document, path *roaring.Bitmap) (*domain.Node, error) {
	updated := doc.UpdatedAt
	n := &domain.Node{
		UUID:           doc.UUID,
		ID:             doc.ID,
		GroupUUID:      doc.GroupUUID,
		DuplicatedFrom: doc.DuplicatedFrom,
		UpdatedAt:      &updated,
		PersistDate:    doc.PersistDate,
	}
	t := typeOf(doc.Kind)
	t.render(doc.Content, n)

	idx := s.index(doc.UUID)
	path.Add(idx)
	defer path.Remove(idx)

	for _, sl := range t.slots() {
		children := sl.nodes(n)
		for _, ref := range *sl.refs(&doc.Content) {
			child, err := s.persistedChild(sl.kind, ref, path)
			if err != nil {
				return nil, err
			}
			*children = append(*children, child)
		}
	}
	return n, nil
}

func (s *session) persistedChild(kind domain.Kind, ref domain.Ref, path *roaring.Bitmap) (*domain.Node, error) {
	if path.Contains(s.index(ref.UUID)) {
		return stub(ref.UUID), nil
	}
	visible, err := s.can(ref.UUID, domain.CategoryView)
	if err != nil {
		return nil, err
	}
	if !visible {
		return stub(ref.UUID), nil
	}
	version, err := s.store.GetVersion(s.ctx, kind, ref.ID)
	if isNotFound(err) {
		return stub(ref.UUID), nil
	}
	if err != nil {
		return nil, err
	}
	return s.persistedNode(version, path)
}

// lastUpdate is the newest updated_at in the subtree the caller can see.
// Editable nodes contribute their current state, view-only nodes their latest
// persisted version.
func (s *session) lastUpdate(kind domain.Kind, id string, visited *roaring.Bitmap) (time.Time, error) {
	idx := s.index(id)
	if visited.Contains(idx) {
		return time.Time{}, nil
	}
	visited.Add(idx)

	editable, err := s.can(id, domain.CategoryEdit)
	if err != nil {
		return time.Time{}, err
	}
	if !editable {
		visible, err := s.can(id, domain.CategoryView)
		if err != nil || !visible {
			return time.Time{}, err
		}
		latest, ok, err := s.latest(kind, id)
		if err != nil || !ok {
			return time.Time{}, err
		}
		return s.versionLastUpdate(latest, visited)
	}

	doc, err := s.current(kind, id)
	if isNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	newest := doc.UpdatedAt
	for _, sl := range typeOf(kind).slots() {
		for _, ref := range *sl.refs(&doc.Content) {
			t, err := s.lastUpdate(sl.kind, ref.UUID, visited)
			if err != nil {
				return time.Time{}, err
			}
			if t.After(newest) {
				newest = t
			}
		}
	}
	return newest, nil
}

func (s *session) versionLastUpdate(doc domain.Document, visited *roaring.Bitmap) (time.Time, error) {
	newest := doc.UpdatedAt
	for _, sl := range typeOf(doc.Kind).slots() {
		for _, ref := range *sl.refs(&doc.Content) {
			idx := s.index(ref.UUID)
			if visited.Contains(idx) {
				continue
			}
			visited.Add(idx)
			visible, err := s.can(ref.UUID, domain.CategoryView)
			if err != nil {
				return time.Time{}, err
			}
			if !visible {
				continue
			}
			child, err := s.store.GetVersion(s.ctx, sl.kind, ref.ID)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return time.Time{}, err
			}
			t, err := s.versionLastUpdate(child, visited)
			if err != nil {
				return time.Time{}, err
			}
			if t.After(newest) {
				newest = t
			}
		}
	}
	return newest, nil
}

// childrenLastUpdate is lastUpdate over the owned children of c only.
func (s *session) childrenLastUpdate(kind domain.Kind, c domain.Content) (time.Time, error) {
	var newest time.Time
	visited := roaring.New()
	for _, sl := range typeOf(kind).slots() {
		for _, ref := range *sl.refs(&c) {
			t, err := s.lastUpdate(sl.kind, ref.UUID, visited)
			if err != nil {
				return time.Time{}, err
			}
			if t.After(newest) {
				newest = t
			}
		}
	}
	return newest, nil
}

// drifted reports whether the subtree under a persisted content has moved on:
// a child was re-persisted since the pin, or a draft exists anywhere below.
func (s *session) drifted(kind domain.Kind, persisted domain.Content, visited *roaring.Bitmap) (bool, error) {
	for _, sl := range typeOf(kind).slots() {
		for _, ref := range *sl.refs(&persisted) {
			idx := s.index(ref.UUID)
			if visited.Contains(idx) {
				continue
			}
			visited.Add(idx)

			hasDraft, err := s.store.DraftExists(s.ctx, sl.kind, ref.UUID)
			if err != nil || hasDraft {
				return hasDraft, err
			}
			latest, ok, err := s.latest(sl.kind, ref.UUID)
			if err != nil {
				return false, err
			}
			if !ok || latest.ID != ref.ID {
				return true, nil
			}
			below, err := s.drifted(sl.kind, latest.Content, visited)
			if err != nil || below {
				return below, err
			}
		}
	}
	return false, nil
}

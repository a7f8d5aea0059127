package application

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/google/uuid"
)

func (s *session) create(kind domain.Kind, body *domain.Node) (string, error) {
	if body == nil {
		return "", fmt.Errorf("%w: empty body", domain.ErrInput)
	}
	if body.UUID != "" {
		return "", fmt.Errorf("%w: uuid is assigned by the server", domain.ErrInput)
	}
	id := uuid.NewString()
	if err := s.initLedger(kind, id); err != nil {
		return "", err
	}
	if err := s.write(kind, id, body, true, newPath()); err != nil {
		return "", err
	}
	return id, nil
}

func (s *session) update(kind domain.Kind, id string, body *domain.Node) error {
	if body == nil {
		return fmt.Errorf("%w: empty body", domain.ErrInput)
	}
	if body.UUID != id {
		return fmt.Errorf("%w: body uuid %q does not match %s", domain.ErrInput, body.UUID, id)
	}
	if err := s.require(kind, id, domain.CategoryEdit); err != nil {
		return err
	}
	doc, err := s.current(kind, id)
	if err != nil {
		return err
	}
	s.group = doc.GroupUUID
	return s.write(kind, id, body, false, newPath())
}

// write stores body as the draft of id, creating, updating or linking the
// children it lists. Every node on path is an ancestor in this call.
func (s *session) write(kind domain.Kind, id string, body *domain.Node, isNew bool, path *roaring.Bitmap) error {
	t := typeOf(kind)
	c, err := t.content(body)
	if err != nil {
		return err
	}

	var prev *domain.Document
	if !isNew {
		doc, err := s.current(kind, id)
		if err != nil {
			return err
		}
		prev = &doc
	}

	idx := s.index(id)
	path.Add(idx)
	defer path.Remove(idx)

	var prevContent *domain.Content
	if prev != nil {
		prevContent = &prev.Content
	}

	pins, err := s.slotPins(kind, body)
	if err != nil {
		return err
	}
	outer := s.pins
	s.pins = pins
	for _, sl := range t.slots() {
		var linked []domain.Ref
		if prevContent != nil {
			linked = *sl.refs(prevContent)
		}
		refs, err := s.writeChildren(sl, *sl.nodes(body), linked, path)
		if err != nil {
			s.pins = outer
			return err
		}
		*sl.refs(&c) = refs
	}
	s.pins = outer

	if err := t.bind(s, id, body, prevContent, &c, path); err != nil {
		return err
	}
	if err := t.conform(s, c); err != nil {
		return err
	}
	return s.storeDraft(kind, id, c, prev)
}

// writeChildren writes the children listed for one slot. linked holds the
// children the slot already referenced before this write.
func (s *session) writeChildren(sl slot, nodes []*domain.Node, linked []domain.Ref, path *roaring.Bitmap) ([]domain.Ref, error) {
	refs := make([]domain.Ref, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, child := range nodes {
		if child == nil {
			return nil, fmt.Errorf("%w: empty %s entry", domain.ErrInput, sl.name)
		}
		id, err := s.writeChild(sl.kind, child, refersTo(linked, child.UUID), path)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s %s listed twice in %s", domain.ErrInput, sl.kind, id, sl.name)
		}
		seen[id] = true
		refs = append(refs, domain.Ref{UUID: id})
	}
	return refs, nil
}

// writeChild creates a child without uuid, links a uuid-only child and
// updates an existing child that carries content. A uuid-only child that was
// already linked keeps its link even when the caller cannot view it, since
// draft reads hand such children out as bare uuids.
func (s *session) writeChild(kind domain.Kind, child *domain.Node, linked bool, path *roaring.Bitmap) (string, error) {
	id := child.UUID
	switch {
	case id == "":
		id = uuid.NewString()
		fallthrough
	case s.fresh[id]:
		delete(s.fresh, id)
		if err := s.initLedger(kind, id); err != nil {
			return "", err
		}
		return id, s.write(kind, id, child, true, path)
	}

	if path.Contains(s.index(id)) {
		return "", fmt.Errorf("%w: %s %s is its own ancestor", domain.ErrConflict, kind, id)
	}
	if child.IsStub() {
		if !linked {
			if err := s.require(kind, id, domain.CategoryView); err != nil {
				return "", err
			}
		}
		if _, err := s.current(kind, id); err != nil {
			return "", err
		}
		cyclic, err := s.reaches(kind, id, path)
		if err != nil {
			return "", err
		}
		if cyclic {
			return "", fmt.Errorf("%w: linking %s %s would form a cycle", domain.ErrConflict, kind, id)
		}
		return id, nil
	}
	if err := s.require(kind, id, domain.CategoryEdit); err != nil {
		return "", err
	}
	return id, s.write(kind, id, child, false, path)
}

func refersTo(refs []domain.Ref, id string) bool {
	for _, ref := range refs {
		if ref.UUID == id {
			return true
		}
	}
	return false
}

// slotPins maps the uuids of the nodes the children of body must instantiate
// to the versions the slots of body pin them to.
func (s *session) slotPins(kind domain.Kind, body *domain.Node) (map[string]string, error) {
	var (
		parentKind domain.Kind
		ref        *domain.Node
	)
	switch kind {
	case domain.KindData:
		parentKind, ref = domain.KindSchema, body.Schema
	case domain.KindRecord:
		parentKind, ref = domain.KindData, body.Dataset
	}
	if ref == nil || len(body.Related) == 0 {
		return nil, nil
	}
	_, version, err := s.resolvePin(parentKind, ref)
	if err != nil {
		return nil, err
	}
	pins := make(map[string]string, len(version.Content.Related)+len(version.Content.Subscribed))
	for _, r := range version.Content.Related {
		pins[r.UUID] = r.ID
	}
	for _, r := range version.Content.Subscribed {
		pins[r.UUID] = r.ID
	}
	return pins, nil
}

// storeDraft upserts the draft of id unless it matches the latest persisted
// version with nothing drifted below, in which case any draft is dropped.
func (s *session) storeDraft(kind domain.Kind, id string, c domain.Content, prev *domain.Document) error {
	doc := domain.Document{Kind: kind, UUID: id, Content: c, UpdatedAt: s.now}
	if prev == nil {
		doc.GroupUUID = s.groupFor(kind)
	} else {
		doc.GroupUUID = prev.GroupUUID
		doc.DuplicatedFrom = prev.DuplicatedFrom
		if sameContent(c, prev.Content) {
			doc.UpdatedAt = prev.UpdatedAt
		}
	}

	below, err := s.childrenLastUpdate(kind, c)
	if err != nil {
		return err
	}
	if below.After(doc.UpdatedAt) {
		doc.UpdatedAt = below
	}

	if prev != nil {
		latest, ok, err := s.latest(kind, id)
		if err != nil {
			return err
		}
		if ok && sameContent(c, unpinOwned(kind, latest.Content)) {
			drifted, err := s.drifted(kind, latest.Content, roaring.New())
			if err != nil {
				return err
			}
			if !drifted {
				return s.store.DeleteDraft(s.ctx, kind, id)
			}
		}
	}
	return s.store.UpsertDraft(s.ctx, doc)
}

package application

import (
	"fmt"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/google/uuid"
)

type duplication struct {
	copies map[string]string
	groups map[string]string
}

func (s *session) duplicate(kind domain.Kind, id string) (string, error) {
	if err := s.require(kind, id, domain.CategoryView); err != nil {
		return "", err
	}
	latest, ok, err := s.latest(kind, id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s %s has no persisted version", domain.ErrNotFound, kind, id)
	}
	d := &duplication{copies: make(map[string]string), groups: make(map[string]string)}
	copyID, err := s.copyVersion(latest, d)
	if err != nil {
		return "", err
	}
	return copyID, s.audit("node.duplicate", kind, id, copyID)
}

// copyVersion turns a persisted version into a fresh draft with a new uuid.
// Owned children the caller cannot view are left out. Nodes sharing a group
// in the source share one new group in the copy.
func (s *session) copyVersion(src domain.Document, d *duplication) (string, error) {
	if id, ok := d.copies[src.UUID]; ok {
		return id, nil
	}
	id := uuid.NewString()
	d.copies[src.UUID] = id

	c := cloneContent(src.Content)
	for _, sl := range typeOf(src.Kind).slots() {
		refs := sl.refs(&c)
		kept := make([]domain.Ref, 0, len(*refs))
		for _, ref := range *refs {
			visible, err := s.can(ref.UUID, domain.CategoryView)
			if err != nil {
				return "", err
			}
			if !visible {
				continue
			}
			child, err := s.store.GetVersion(s.ctx, sl.kind, ref.ID)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return "", err
			}
			childID, err := s.copyVersion(child, d)
			if err != nil {
				return "", err
			}
			kept = append(kept, domain.Ref{UUID: childID})
		}
		*refs = kept
	}

	group := ""
	if src.GroupUUID != "" {
		group = d.groups[src.GroupUUID]
		if group == "" {
			group = uuid.NewString()
			d.groups[src.GroupUUID] = group
		}
	}

	if err := s.initLedger(src.Kind, id); err != nil {
		return "", err
	}
	return id, s.store.UpsertDraft(s.ctx, domain.Document{
		Kind:           src.Kind,
		UUID:           id,
		Content:        c,
		GroupUUID:      group,
		DuplicatedFrom: src.UUID,
		UpdatedAt:      s.now,
	})
}

func (s *session) groupMembers(groupUUID string) ([]domain.GroupMember, error) {
	members, err := s.store.ListGroup(s.ctx, groupUUID)
	if err != nil {
		return nil, err
	}
	visible := make([]domain.GroupMember, 0, len(members))
	for _, m := range members {
		ok, err := s.can(m.UUID, domain.CategoryView)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

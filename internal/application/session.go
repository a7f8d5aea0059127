package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/google/uuid"
)

// session carries one engine operation: the transactional store, the caller
// and the instant every write in the operation is stamped with. Node uuids are
// interned into a dense index so graph walks can track visited and ancestor
// sets as bitmaps.
type session struct {
	ctx   context.Context
	store domain.NodeStore
	actor domain.Actor
	now   time.Time
	group string

	ids     map[string]uint32
	uuids   []string
	ledgers map[string]*domain.Ledger

	// fresh holds uuids reserved for nodes an import is about to create.
	fresh map[string]bool
	// pins maps instantiated uuids to the versions the slots of the node
	// being written expect, for children that name no version.
	pins map[string]string
	// persisted memoizes the version each node resolved to in a persist walk.
	persisted map[string]persistResult
}

type persistResult struct {
	id      string
	changed bool
}

func newSession(ctx context.Context, store domain.NodeStore, actor domain.Actor, now time.Time) *session {
	return &session{
		ctx:       ctx,
		store:     store,
		actor:     actor,
		now:       now,
		ids:       make(map[string]uint32),
		ledgers:   make(map[string]*domain.Ledger),
		fresh:     make(map[string]bool),
		persisted: make(map[string]persistResult),
	}
}

func (s *session) index(id string) uint32 {
	if i, ok := s.ids[id]; ok {
		return i
	}
	i := uint32(len(s.uuids))
	s.ids[id] = i
	s.uuids = append(s.uuids, id)
	return i
}

func newPath() *roaring.Bitmap {
	return roaring.New()
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func (s *session) ledger(id string) (*domain.Ledger, error) {
	if l, ok := s.ledgers[id]; ok {
		return l, nil
	}
	l, err := s.store.GetLedger(s.ctx, id)
	if isNotFound(err) {
		s.ledgers[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.ledgers[id] = &l
	return &l, nil
}

func (s *session) saveLedger(l domain.Ledger) error {
	if err := s.store.SaveLedger(s.ctx, l); err != nil {
		return err
	}
	s.ledgers[l.UUID] = &l
	return nil
}

func (s *session) initLedger(kind domain.Kind, id string) error {
	return s.saveLedger(domain.Ledger{
		UUID:  id,
		Kind:  kind,
		Admin: []string{s.actor.Effective()},
		Edit:  []string{},
		View:  []string{},
	})
}

func (s *session) can(id string, c domain.Category) (bool, error) {
	if s.actor.Privileged() {
		return true, nil
	}
	l, err := s.ledger(id)
	if err != nil || l == nil {
		return false, err
	}
	return l.Grants(s.actor.Effective(), c), nil
}

// require fails with ErrNotFound when the caller cannot even view the node and
// with ErrUnauthorized when it can view it but lacks c.
func (s *session) require(kind domain.Kind, id string, c domain.Category) error {
	ok, err := s.can(id, c)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if c != domain.CategoryView {
		view, err := s.can(id, domain.CategoryView)
		if err != nil {
			return err
		}
		if view {
			return fmt.Errorf("%w: %s %s requires %s permission", domain.ErrUnauthorized, kind, id, c)
		}
	}
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
}

// latest returns the newest persisted version, reporting absence through ok.
func (s *session) latest(kind domain.Kind, id string) (domain.Document, bool, error) {
	doc, err := s.store.LatestVersion(s.ctx, kind, id, nil)
	if isNotFound(err) {
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, err
	}
	return doc, true, nil
}

// current returns the editable state of a node: its draft, or a draft-shaped
// copy of the latest persisted version when no draft exists.
func (s *session) current(kind domain.Kind, id string) (domain.Document, error) {
	doc, err := s.store.GetDraft(s.ctx, kind, id)
	if err == nil {
		return doc, nil
	}
	if !isNotFound(err) {
		return domain.Document{}, err
	}
	latest, ok, err := s.latest(kind, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	return asDraft(latest), nil
}

func asDraft(version domain.Document) domain.Document {
	doc := version
	doc.ID = ""
	doc.PersistDate = nil
	doc.Content = unpinOwned(version.Kind, version.Content)
	return doc
}

func (s *session) audit(action string, kind domain.Kind, id, metadata string) error {
	return s.store.CreateAuditLog(s.ctx, domain.AuditLog{
		Actor:      s.actor.User,
		Action:     action,
		TargetKind: string(kind),
		TargetUUID: id,
		Metadata:   metadata,
	})
}

func (s *session) groupFor(kind domain.Kind) string {
	if !kind.IsInstance() {
		return ""
	}
	if s.group == "" {
		s.group = uuid.NewString()
	}
	return s.group
}

package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/atvirokodosprendimai/curator/internal/logger"
	"github.com/atvirokodosprendimai/curator/internal/metrics"
)

type CurationService struct {
	repo  domain.CurationRepository
	clock Clock
	log   *logger.Logger
}

type Option func(*CurationService)

func WithClock(clock Clock) Option {
	return func(s *CurationService) { s.clock = clock }
}

func WithLogger(log *logger.Logger) Option {
	return func(s *CurationService) { s.log = log.With("service", "CurationService") }
}

func NewCurationService(repo domain.CurationRepository, opts ...Option) *CurationService {
	s := &CurationService{repo: repo, clock: NewSystemClock(), log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func outcome(err error) string {
	switch domain.StatusCode(err) {
	case http.StatusOK:
		return "ok"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusBadRequest:
		if errors.Is(err, domain.ErrConflict) {
			return "conflict"
		}
		return "invalid"
	default:
		return "error"
	}
}

// run executes fn as one transaction. Any error rolls back every write fn made.
func (s *CurationService) run(ctx context.Context, kind domain.Kind, op string, actor domain.Actor, fn func(*session) error) error {
	started := time.Now()
	now := s.clock.Now()
	err := s.repo.WithinTx(ctx, func(store domain.NodeStore) error {
		return fn(newSession(ctx, store, actor, now))
	})
	metrics.Observe(string(kind), op, outcome(err), started)

	switch {
	case err == nil:
		s.log.Debug("operation done", "kind", kind, "op", op, "actor", actor.User)
	case errors.Is(err, domain.ErrConflict):
		s.log.Warn("operation rejected", "kind", kind, "op", op, "actor", actor.User, "error", err)
	case domain.StatusCode(err) == http.StatusInternalServerError:
		s.log.Error("operation failed", "kind", kind, "op", op, "actor", actor.User, "error", err)
	}
	return err
}

func (s *CurationService) Create(ctx context.Context, actor domain.Actor, kind domain.Kind, body *domain.Node) (string, error) {
	var id string
	err := s.run(ctx, kind, "create", actor, func(sess *session) error {
		var err error
		id, err = sess.create(kind, body)
		return err
	})
	return id, err
}

// Draft returns the editable tree of id. A node without a stored draft is
// shown as its latest persisted version; reading never stores a draft, so
// DraftExisting stays false until an Update actually changes something.
func (s *CurationService) Draft(ctx context.Context, actor domain.Actor, kind domain.Kind, id string) (*domain.Node, error) {
	var out *domain.Node
	err := s.run(ctx, kind, "draft", actor, func(sess *session) error {
		if err := sess.require(kind, id, domain.CategoryEdit); err != nil {
			return err
		}
		var err error
		out, err = sess.draftNode(kind, id, newPath())
		return err
	})
	return out, err
}

func (s *CurationService) Update(ctx context.Context, actor domain.Actor, kind domain.Kind, id string, body *domain.Node) error {
	return s.run(ctx, kind, "update", actor, func(sess *session) error {
		return sess.update(kind, id, body)
	})
}

// DeleteDraft discards the draft of id. A node that was never persisted loses
// its permissions as well.
func (s *CurationService) DeleteDraft(ctx context.Context, actor domain.Actor, kind domain.Kind, id string) error {
	err := s.run(ctx, kind, "delete", actor, func(sess *session) error {
		need := domain.CategoryAdmin
		if kind.IsInstance() {
			need = domain.CategoryEdit
		}
		if err := sess.require(kind, id, need); err != nil {
			return err
		}
		exists, err := sess.store.DraftExists(ctx, kind, id)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s %s has no draft", domain.ErrNotFound, kind, id)
		}
		if err := sess.store.DeleteDraft(ctx, kind, id); err != nil {
			return err
		}
		persisted, err := sess.store.HasVersions(ctx, kind, id)
		if err != nil {
			return err
		}
		if !persisted {
			if err := sess.store.DeleteLedger(ctx, id); err != nil {
				return err
			}
		}
		return sess.audit("node.delete_draft", kind, id, "")
	})
	if err == nil {
		s.log.Info("draft deleted", "kind", kind, "uuid", id, "actor", actor.User)
	}
	return err
}

func (s *CurationService) LastUpdate(ctx context.Context, actor domain.Actor, kind domain.Kind, id string) (time.Time, error) {
	var out time.Time
	err := s.run(ctx, kind, "last_update", actor, func(sess *session) error {
		if err := sess.require(kind, id, domain.CategoryView); err != nil {
			return err
		}
		editable, err := sess.can(id, domain.CategoryEdit)
		if err != nil {
			return err
		}
		if editable {
			if _, err := sess.current(kind, id); err != nil {
				return err
			}
			out, err = sess.lastUpdate(kind, id, roaring.New())
			return err
		}
		latest, ok, err := sess.latest(kind, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s %s requires edit permission", domain.ErrUnauthorized, kind, id)
		}
		out, err = sess.versionLastUpdate(latest, roaring.New())
		return err
	})
	return out, err
}

func (s *CurationService) Persist(ctx context.Context, actor domain.Actor, kind domain.Kind, id string, lastUpdate time.Time) (string, error) {
	var versionID string
	err := s.run(ctx, kind, "persist", actor, func(sess *session) error {
		var err error
		versionID, err = sess.persist(kind, id, lastUpdate)
		return err
	})
	if err == nil {
		s.log.Info("persisted", "kind", kind, "uuid", id, "version", versionID, "actor", actor.User)
	}
	return versionID, err
}

// LatestPersisted returns the newest version, or the newest one persisted at
// or before `before` when it is set.
func (s *CurationService) LatestPersisted(ctx context.Context, actor domain.Actor, kind domain.Kind, id string, before *time.Time) (*domain.Node, error) {
	var out *domain.Node
	err := s.run(ctx, kind, "latest_persisted", actor, func(sess *session) error {
		if err := sess.require(kind, id, domain.CategoryView); err != nil {
			return err
		}
		version, err := sess.store.LatestVersion(ctx, kind, id, before)
		if err != nil {
			return err
		}
		out, err = sess.persistedNode(version, newPath())
		return err
	})
	return out, err
}

func (s *CurationService) DraftExisting(ctx context.Context, actor domain.Actor, kind domain.Kind, id string) (bool, error) {
	var out bool
	err := s.run(ctx, kind, "draft_existing", actor, func(sess *session) error {
		if err := sess.require(kind, id, domain.CategoryView); err != nil {
			return err
		}
		var err error
		out, err = sess.store.DraftExists(ctx, kind, id)
		return err
	})
	return out, err
}

func (s *CurationService) Duplicate(ctx context.Context, actor domain.Actor, kind domain.Kind, id string) (string, error) {
	var out string
	err := s.run(ctx, kind, "duplicate", actor, func(sess *session) error {
		var err error
		out, err = sess.duplicate(kind, id)
		return err
	})
	return out, err
}

func (s *CurationService) Import(ctx context.Context, actor domain.Actor, kind domain.Kind, doc any) (string, error) {
	var out string
	err := s.run(ctx, kind, "import", actor, func(sess *session) error {
		var err error
		out, err = sess.importTree(kind, doc)
		return err
	})
	if err == nil {
		s.log.Info("imported", "kind", kind, "uuid", out, "actor", actor.User)
	}
	return out, err
}

func (s *CurationService) Publish(ctx context.Context, actor domain.Actor, id string, lastUpdate time.Time, name string) (string, error) {
	var versionID string
	err := s.run(ctx, domain.KindRecord, "publish", actor, func(sess *session) error {
		var err error
		versionID, err = sess.publish(id, lastUpdate, name)
		return err
	})
	if err == nil {
		s.log.Info("published", "uuid", id, "name", name, "version", versionID, "actor", actor.User)
	}
	return versionID, err
}

func (s *CurationService) Published(ctx context.Context, actor domain.Actor, id, name string) (*domain.Node, error) {
	var out *domain.Node
	err := s.run(ctx, domain.KindRecord, "published", actor, func(sess *session) error {
		if err := sess.require(domain.KindRecord, id, domain.CategoryView); err != nil {
			return err
		}
		pub, err := sess.store.GetPublication(ctx, id, name)
		if err != nil {
			return err
		}
		version, err := sess.store.GetVersion(ctx, domain.KindRecord, pub.VersionID)
		if err != nil {
			return err
		}
		out, err = sess.persistedNode(version, newPath())
		if err != nil {
			return err
		}
		out.PublishName = pub.Name
		return nil
	})
	return out, err
}

func (s *CurationService) Permissions(ctx context.Context, actor domain.Actor, id, category string) ([]string, error) {
	var out []string
	err := s.run(ctx, "", "permission_get", actor, func(sess *session) error {
		var err error
		out, err = sess.permissions(id, category)
		return err
	})
	return out, err
}

func (s *CurationService) UpdatePermissions(ctx context.Context, actor domain.Actor, id, category string, users []string) ([]string, error) {
	var out []string
	err := s.run(ctx, "", "permission_update", actor, func(sess *session) error {
		var err error
		out, err = sess.updatePermissions(id, category, users)
		return err
	})
	if err == nil {
		s.log.Info("permissions updated", "uuid", id, "category", category, "actor", actor.User)
	}
	return out, err
}

func (s *CurationService) Group(ctx context.Context, actor domain.Actor, groupUUID string) ([]domain.GroupMember, error) {
	var out []domain.GroupMember
	err := s.run(ctx, "", "group", actor, func(sess *session) error {
		var err error
		out, err = sess.groupMembers(groupUUID)
		return err
	})
	return out, err
}

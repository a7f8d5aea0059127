package application

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/curator/internal/adapters/db/sqldb"
	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/stretchr/testify/require"
)

var (
	alice = domain.Actor{User: "alice@example.com"}
	bob   = domain.Actor{User: "bob@example.com"}
	carol = domain.Actor{User: "carol@example.com"}
	root  = domain.Actor{User: "root@example.com", SuperUser: true}
)

// stepClock advances one second per reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T) *CurationService {
	t.Helper()
	ctx := context.Background()

	db, err := sqldb.Open("sqlite", filepath.Join(t.TempDir(), "curator_test.db"))
	require.NoError(t, err)
	require.NoError(t, sqldb.RunMigrations(ctx, db))

	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewCurationService(sqldb.NewCurationRepository(db), WithClock(clock))
}

func persistNow(t *testing.T, svc *CurationService, actor domain.Actor, kind domain.Kind, id string) string {
	t.Helper()
	ctx := context.Background()
	lu, err := svc.LastUpdate(ctx, actor, kind, id)
	require.NoError(t, err)
	versionID, err := svc.Persist(ctx, actor, kind, id, lu)
	require.NoError(t, err)
	return versionID
}

func latest(t *testing.T, svc *CurationService, actor domain.Actor, kind domain.Kind, id string) *domain.Node {
	t.Helper()
	n, err := svc.LatestPersisted(context.Background(), actor, kind, id, nil)
	require.NoError(t, err)
	return n
}

func draft(t *testing.T, svc *CurationService, actor domain.Actor, kind domain.Kind, id string) *domain.Node {
	t.Helper()
	n, err := svc.Draft(context.Background(), actor, kind, id)
	require.NoError(t, err)
	return n
}

func pin(n *domain.Node) *domain.Node {
	return &domain.Node{UUID: n.UUID, ID: n.ID}
}

func grant(t *testing.T, svc *CurationService, actor domain.Actor, id string, category domain.Category, users ...string) {
	t.Helper()
	_, err := svc.UpdatePermissions(context.Background(), actor, id, string(category), users)
	require.NoError(t, err)
}

// persistedSchemaTree creates and persists {name, related: children...}.
func persistedSchemaTree(t *testing.T, svc *CurationService, actor domain.Actor, body *domain.Node) *domain.Node {
	t.Helper()
	id, err := svc.Create(context.Background(), actor, domain.KindSchema, body)
	require.NoError(t, err)
	persistNow(t, svc, actor, domain.KindSchema, id)
	return latest(t, svc, actor, domain.KindSchema, id)
}

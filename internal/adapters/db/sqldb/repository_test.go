package sqldb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/curator/internal/domain"
)

func openTestRepository(t *testing.T) *CurationRepository {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "curator_test.db")

	db, err := Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return NewCurationRepository(db)
}

func TestDraftUpsertReplacesAndDeleteRemoves(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)

	at := time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)
	doc := domain.Document{Kind: domain.KindSchema, UUID: "s-1", Content: domain.Content{Name: "first"}, UpdatedAt: at}
	if err := repo.UpsertDraft(ctx, doc); err != nil {
		t.Fatalf("upsert draft: %v", err)
	}
	doc.Content.Name = "second"
	doc.Content.Related = []domain.Ref{{UUID: "s-2"}}
	if err := repo.UpsertDraft(ctx, doc); err != nil {
		t.Fatalf("upsert draft again: %v", err)
	}

	got, err := repo.GetDraft(ctx, domain.KindSchema, "s-1")
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if got.Content.Name != "second" || len(got.Content.Related) != 1 {
		t.Fatalf("unexpected draft content: %+v", got.Content)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Fatalf("updated_at did not round-trip: got %s want %s", got.UpdatedAt, at)
	}

	if _, err := repo.GetDraft(ctx, domain.KindData, "s-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("draft lookup must be scoped by kind, got %v", err)
	}

	if err := repo.DeleteDraft(ctx, domain.KindSchema, "s-1"); err != nil {
		t.Fatalf("delete draft: %v", err)
	}
	exists, err := repo.DraftExists(ctx, domain.KindSchema, "s-1")
	if err != nil {
		t.Fatalf("draft exists: %v", err)
	}
	if exists {
		t.Fatalf("draft should be gone")
	}
}

func TestLatestVersionHonorsBefore(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)

	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"v1", "v2", "v3"} {
		persisted := base.Add(time.Duration(i) * time.Hour)
		err := repo.CreateVersion(ctx, domain.Document{
			Kind:        domain.KindField,
			UUID:        "f-1",
			ID:          id,
			Content:     domain.Content{Name: id, Type: domain.FieldText},
			UpdatedAt:   persisted,
			PersistDate: &persisted,
		})
		if err != nil {
			t.Fatalf("create version %s: %v", id, err)
		}
	}

	latest, err := repo.LatestVersion(ctx, domain.KindField, "f-1", nil)
	if err != nil {
		t.Fatalf("latest version: %v", err)
	}
	if latest.ID != "v3" {
		t.Fatalf("expected v3, got %s", latest.ID)
	}

	cutoff := base.Add(90 * time.Minute)
	older, err := repo.LatestVersion(ctx, domain.KindField, "f-1", &cutoff)
	if err != nil {
		t.Fatalf("latest before cutoff: %v", err)
	}
	if older.ID != "v2" {
		t.Fatalf("expected v2, got %s", older.ID)
	}

	exact := base
	first, err := repo.LatestVersion(ctx, domain.KindField, "f-1", &exact)
	if err != nil {
		t.Fatalf("latest at first persist date: %v", err)
	}
	if first.ID != "v1" {
		t.Fatalf("expected v1, got %s", first.ID)
	}

	tooEarly := base.Add(-time.Second)
	if _, err := repo.LatestVersion(ctx, domain.KindField, "f-1", &tooEarly); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found before first version, got %v", err)
	}

	fraction := base.Add(2*time.Hour + 500*time.Microsecond)
	if err := repo.CreateVersion(ctx, domain.Document{
		Kind:        domain.KindField,
		UUID:        "f-1",
		ID:          "v4",
		Content:     domain.Content{Name: "v4", Type: domain.FieldText},
		UpdatedAt:   fraction,
		PersistDate: &fraction,
	}); err != nil {
		t.Fatalf("create version v4: %v", err)
	}
	between := base.Add(2*time.Hour + 250*time.Microsecond)
	sub, err := repo.LatestVersion(ctx, domain.KindField, "f-1", &between)
	if err != nil {
		t.Fatalf("latest between sub-second versions: %v", err)
	}
	if sub.ID != "v3" {
		t.Fatalf("expected v3, got %s", sub.ID)
	}
}

func TestLedgerAndGroupIndex(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)

	if err := repo.SaveLedger(ctx, domain.Ledger{UUID: "d-1", Kind: domain.KindData, Admin: []string{"ann@example.com"}}); err != nil {
		t.Fatalf("save ledger: %v", err)
	}
	if err := repo.SaveLedger(ctx, domain.Ledger{UUID: "d-1", Kind: domain.KindData, Admin: []string{"ann@example.com"}, View: []string{"bob@example.com"}}); err != nil {
		t.Fatalf("overwrite ledger: %v", err)
	}
	l, err := repo.GetLedger(ctx, "d-1")
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(l.View) != 1 || l.View[0] != "bob@example.com" || len(l.Edit) != 0 {
		t.Fatalf("unexpected ledger: %+v", l)
	}

	now := time.Now().UTC()
	_ = repo.UpsertDraft(ctx, domain.Document{Kind: domain.KindData, UUID: "d-1", GroupUUID: "g-1", UpdatedAt: now})
	_ = repo.UpsertDraft(ctx, domain.Document{Kind: domain.KindData, UUID: "d-2", GroupUUID: "g-1", UpdatedAt: now})
	_ = repo.CreateVersion(ctx, domain.Document{Kind: domain.KindData, UUID: "d-1", ID: "x-1", GroupUUID: "g-1", UpdatedAt: now, PersistDate: &now})
	_ = repo.UpsertDraft(ctx, domain.Document{Kind: domain.KindData, UUID: "d-3", GroupUUID: "g-2", UpdatedAt: now})

	members, err := repo.ListGroup(ctx, "g-1")
	if err != nil {
		t.Fatalf("list group: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected two members, got %+v", members)
	}

	if err := repo.DeleteLedger(ctx, "d-1"); err != nil {
		t.Fatalf("delete ledger: %v", err)
	}
	if _, err := repo.GetLedger(ctx, "d-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func TestImportKeysAndPublications(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)

	if _, err := repo.GetImportKey(ctx, domain.KindSchema, "ext-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := repo.SaveImportKey(ctx, domain.KindSchema, "ext-1", "s-1"); err != nil {
		t.Fatalf("save import key: %v", err)
	}
	if err := repo.SaveImportKey(ctx, domain.KindSchema, "ext-1", "s-1"); err != nil {
		t.Fatalf("save import key twice: %v", err)
	}
	id, err := repo.GetImportKey(ctx, domain.KindSchema, "ext-1")
	if err != nil || id != "s-1" {
		t.Fatalf("unexpected import key %q: %v", id, err)
	}

	pub := domain.Publication{UUID: "r-1", Name: "v1", VersionID: "x-1", DatasetUUID: "d-1", PublishedAt: time.Now().UTC()}
	if err := repo.CreatePublication(ctx, pub); err != nil {
		t.Fatalf("create publication: %v", err)
	}
	if err := repo.CreatePublication(ctx, pub); err == nil {
		t.Fatalf("expected duplicate publication name to fail")
	}
	published, err := repo.DatasetHasPublication(ctx, "d-1")
	if err != nil || !published {
		t.Fatalf("expected d-1 to have a publication: %v", err)
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := openTestRepository(t)

	boom := errors.New("boom")
	err := repo.WithinTx(ctx, func(store domain.NodeStore) error {
		if err := store.UpsertDraft(ctx, domain.Document{Kind: domain.KindSchema, UUID: "s-9", UpdatedAt: time.Now().UTC()}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	exists, err := repo.DraftExists(ctx, domain.KindSchema, "s-9")
	if err != nil {
		t.Fatalf("draft exists: %v", err)
	}
	if exists {
		t.Fatalf("draft written inside a failed transaction must not survive")
	}
}

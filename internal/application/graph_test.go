package application

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCyclicLinksAreRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	a, err := svc.Create(ctx, alice, domain.KindSchema, &domain.Node{Name: "a"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, alice, domain.KindSchema, &domain.Node{Name: "b"})
	require.NoError(t, err)

	require.NoError(t, svc.Update(ctx, alice, domain.KindSchema, a, &domain.Node{UUID: a, Name: "a", Related: []*domain.Node{{UUID: b}}}))
	beforeA := draft(t, svc, alice, domain.KindSchema, a)
	beforeB := draft(t, svc, alice, domain.KindSchema, b)

	err = svc.Update(ctx, alice, domain.KindSchema, b, &domain.Node{UUID: b, Name: "b", Related: []*domain.Node{{UUID: a}}})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 400, domain.StatusCode(err))

	err = svc.Update(ctx, alice, domain.KindSchema, a, &domain.Node{UUID: a, Name: "a", Related: []*domain.Node{{UUID: a}}})
	assert.ErrorIs(t, err, domain.ErrConflict)

	err = svc.Update(ctx, alice, domain.KindSchema, a, &domain.Node{UUID: a, Name: "a", Related: []*domain.Node{
		{UUID: b, Name: "b", Related: []*domain.Node{{UUID: a}}},
	}})
	assert.ErrorIs(t, err, domain.ErrConflict)

	assert.Equal(t, beforeA, draft(t, svc, alice, domain.KindSchema, a))
	assert.Equal(t, beforeB, draft(t, svc, alice, domain.KindSchema, b))
}

func TestCyclicSubscriptionIsRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	b := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "b"})
	a := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "a", Related: []*domain.Node{{UUID: b.UUID}}})

	err := svc.Update(ctx, alice, domain.KindSchema, b.UUID, &domain.Node{UUID: b.UUID, Name: "b", Subscribed: []*domain.Node{{UUID: a.UUID}}})
	assert.ErrorIs(t, err, domain.ErrConflict)

	err = svc.Update(ctx, alice, domain.KindSchema, b.UUID, &domain.Node{UUID: b.UUID, Name: "b", Subscribed: []*domain.Node{{UUID: b.UUID}}})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestDuplicateSiblingsAreRejected(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	b, err := svc.Create(ctx, alice, domain.KindSchema, &domain.Node{Name: "b"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice, domain.KindSchema, &domain.Node{Name: "a", Related: []*domain.Node{{UUID: b}, {UUID: b}}})
	assert.ErrorIs(t, err, domain.ErrInput)
}

func TestDuplicateDropsWhatTheCallerCannotView(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	p := persistedSchemaTree(t, svc, bob, &domain.Node{
		Name:    "bob's",
		Fields:  []*domain.Node{{Name: "f", Type: domain.FieldText}},
		Related: []*domain.Node{{Name: "secret"}, {Name: "shared"}},
	})
	grant(t, svc, bob, p.UUID, domain.CategoryView, alice.User)
	grant(t, svc, bob, p.Related[1].UUID, domain.CategoryView, alice.User)

	copyID, err := svc.Duplicate(ctx, alice, domain.KindSchema, p.UUID)
	require.NoError(t, err)
	assert.NotEqual(t, p.UUID, copyID)

	c := draft(t, svc, alice, domain.KindSchema, copyID)
	assert.Equal(t, "bob's", c.Name)
	assert.Equal(t, p.UUID, c.DuplicatedFrom)
	assert.Empty(t, c.Fields)
	require.Len(t, c.Related, 1)
	assert.Equal(t, "shared", c.Related[0].Name)
	assert.Equal(t, p.Related[1].UUID, c.Related[0].DuplicatedFrom)
	assert.NotEqual(t, p.Related[1].UUID, c.Related[0].UUID)

	_, err = svc.Duplicate(ctx, carol, domain.KindSchema, p.UUID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func decode(t *testing.T, raw string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

func TestImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	schemaDoc := decode(t, `{
		"uuid": "ext-sample",
		"name": "Sample",
		"fields": [
			{"uuid": "ext-temp", "name": "Temperature", "type": "number"},
			{"uuid": "ext-state", "name": "State", "type": "select", "options": [{"name": "solid"}, {"name": "liquid"}]}
		],
		"related": [{"uuid": "ext-instrument", "name": "Instrument"}]
	}`)

	first, err := svc.Import(ctx, alice, domain.KindSchema, schemaDoc)
	require.NoError(t, err)
	second, err := svc.Import(ctx, alice, domain.KindSchema, schemaDoc)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n := draft(t, svc, alice, domain.KindSchema, first)
	assert.Len(t, n.Fields, 2)
	require.Len(t, n.Related, 1)
	assert.Equal(t, "Instrument", n.Related[0].Name)

	_, err = svc.Import(ctx, bob, domain.KindSchema, schemaDoc)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	persistNow(t, svc, alice, domain.KindSchema, first)
	third, err := svc.Import(ctx, alice, domain.KindSchema, schemaDoc)
	require.NoError(t, err)
	assert.Equal(t, first, third)
	exists, err := svc.DraftExisting(ctx, alice, domain.KindSchema, first)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestImportSynthesizesMissingDatasets(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	schemaID, err := svc.Import(ctx, alice, domain.KindSchema, decode(t, `{
		"uuid": "ext-root",
		"name": "Root",
		"related": [{"uuid": "ext-leaf", "name": "Leaf", "related": [{"uuid": "ext-deep", "name": "Deep"}]}]
	}`))
	require.NoError(t, err)
	persistNow(t, svc, alice, domain.KindSchema, schemaID)

	dataDoc := decode(t, `{"uuid": "ext-run-1", "name": "Run 1", "schema": "ext-root"}`)
	dataID, err := svc.Import(ctx, alice, domain.KindData, dataDoc)
	require.NoError(t, err)

	d := draft(t, svc, alice, domain.KindData, dataID)
	require.Len(t, d.Related, 1)
	leaf := d.Related[0]
	assert.Equal(t, "Leaf", leaf.Name)
	require.Len(t, leaf.Related, 1)
	assert.Equal(t, "Deep", leaf.Related[0].Name)
	assert.Equal(t, d.GroupUUID, leaf.GroupUUID)

	again, err := svc.Import(ctx, alice, domain.KindData, dataDoc)
	require.NoError(t, err)
	assert.Equal(t, dataID, again)
	assert.Equal(t, leaf.UUID, draft(t, svc, alice, domain.KindData, dataID).Related[0].UUID)

	_, err = svc.Import(ctx, alice, domain.KindData, decode(t, `{"uuid": "ext-run-2", "schema": "ext-unknown"}`))
	assert.ErrorIs(t, err, domain.ErrInput)
	_, err = svc.Import(ctx, alice, domain.KindRecord, dataDoc)
	assert.ErrorIs(t, err, domain.ErrInput)
	_, err = svc.Import(ctx, alice, domain.KindSchema, decode(t, `{"name": "no id"}`))
	assert.ErrorIs(t, err, domain.ErrInput)
}

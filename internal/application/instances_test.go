package application

import (
	"context"
	"testing"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetMustMirrorSchemaRelated(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	t1 := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "t1", Related: []*domain.Node{{Name: "t2"}}})
	t2 := t1.Related[0]

	id, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{
		Name:    "dataset",
		Schema:  pin(t1),
		Related: []*domain.Node{{Name: "sub dataset", Schema: pin(t2)}},
	})
	require.NoError(t, err)
	n := draft(t, svc, alice, domain.KindData, id)
	assert.Len(t, n.Related, 1)
	assert.Equal(t, t1.ID, n.Schema.ID)

	_, err = svc.Create(ctx, alice, domain.KindData, &domain.Node{Name: "missing child", Schema: pin(t1)})
	assert.ErrorIs(t, err, domain.ErrInput)
	assert.Equal(t, 400, domain.StatusCode(err))

	_, err = svc.Create(ctx, alice, domain.KindData, &domain.Node{
		Name:   "extra child",
		Schema: pin(t1),
		Related: []*domain.Node{
			{Name: "a", Schema: pin(t2)},
			{Name: "b", Schema: pin(t2)},
		},
	})
	assert.ErrorIs(t, err, domain.ErrInput)
}

func TestLinkedDatasetMustInstantiateTheSlotSchema(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	parent := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "parent", Related: []*domain.Node{{Name: "slot"}}})
	other := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "other"})

	wrong, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{Name: "wrong", Schema: pin(other)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice, domain.KindData, &domain.Node{
		Schema:  pin(parent),
		Related: []*domain.Node{{UUID: wrong}},
	})
	assert.ErrorIs(t, err, domain.ErrInput)

	right, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{Name: "right", Schema: pin(parent.Related[0])})
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice, domain.KindData, &domain.Node{
		Schema:  pin(parent),
		Related: []*domain.Node{{UUID: right}},
	})
	require.NoError(t, err)
}

func TestSubscribedSchemasNeedLinkedDatasets(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	shared := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "shared"})
	main := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "main", Subscribed: []*domain.Node{{UUID: shared.UUID}}})
	require.Len(t, main.Subscribed, 1)
	assert.Equal(t, shared.ID, main.Subscribed[0].ID)

	_, err := svc.Create(ctx, alice, domain.KindSchema, &domain.Node{
		Name:       "twice",
		Subscribed: []*domain.Node{{UUID: shared.UUID}, {UUID: shared.UUID}},
	})
	assert.ErrorIs(t, err, domain.ErrInput)

	existing, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{Name: "shared data", Schema: pin(shared)})
	require.NoError(t, err)

	_, err = svc.Create(ctx, alice, domain.KindData, &domain.Node{Schema: pin(main)})
	assert.ErrorIs(t, err, domain.ErrInput)

	_, err = svc.Create(ctx, alice, domain.KindData, &domain.Node{Schema: pin(main), Related: []*domain.Node{{UUID: existing}}})
	require.NoError(t, err)
}

func TestGroupUUIDTracksCoCreatedDatasets(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	schema := persistedSchemaTree(t, svc, alice, &domain.Node{
		Name:    "root",
		Related: []*domain.Node{{Name: "x"}, {Name: "y"}},
	})
	x, y := schema.Related[0], schema.Related[1]

	linked, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{Name: "separate", Schema: pin(x)})
	require.NoError(t, err)

	parent, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{
		Name:   "parent",
		Schema: pin(schema),
		Related: []*domain.Node{
			{Name: "together", Schema: pin(y)},
			{UUID: linked},
		},
	})
	require.NoError(t, err)

	p := draft(t, svc, alice, domain.KindData, parent)
	together := findChild(t, p.Related, func(n *domain.Node) bool { return n.Name == "together" })
	separate := findChild(t, p.Related, func(n *domain.Node) bool { return n.UUID == linked })
	assert.NotEmpty(t, p.GroupUUID)
	assert.Equal(t, p.GroupUUID, together.GroupUUID)
	assert.NotEqual(t, p.GroupUUID, separate.GroupUUID)

	members, err := svc.Group(ctx, alice, p.GroupUUID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
	members, err = svc.Group(ctx, bob, p.GroupUUID)
	require.NoError(t, err)
	assert.Empty(t, members)

	persistNow(t, svc, alice, domain.KindData, parent)
	copyID, err := svc.Duplicate(ctx, alice, domain.KindData, parent)
	require.NoError(t, err)

	c := draft(t, svc, alice, domain.KindData, copyID)
	assert.Equal(t, parent, c.DuplicatedFrom)
	assert.NotEqual(t, p.GroupUUID, c.GroupUUID)
	require.Len(t, c.Related, 2)
	copiedTogether := findChild(t, c.Related, func(n *domain.Node) bool { return n.DuplicatedFrom == together.UUID })
	copiedSeparate := findChild(t, c.Related, func(n *domain.Node) bool { return n.DuplicatedFrom == linked })
	assert.Equal(t, c.GroupUUID, copiedTogether.GroupUUID)
	assert.NotEqual(t, c.GroupUUID, copiedSeparate.GroupUUID)
	assert.NotEqual(t, separate.GroupUUID, copiedSeparate.GroupUUID)
}

func findChild(t *testing.T, nodes []*domain.Node, match func(*domain.Node) bool) *domain.Node {
	t.Helper()
	for _, n := range nodes {
		if match(n) {
			return n
		}
	}
	require.FailNow(t, "child not found")
	return nil
}

// recordFixture persists schema{fields} and a dataset instantiating it.
func recordFixture(t *testing.T, svc *CurationService, fields ...*domain.Node) (schema, dataset *domain.Node) {
	t.Helper()
	ctx := context.Background()
	schema = persistedSchemaTree(t, svc, alice, &domain.Node{Name: "measurement", Fields: fields})
	id, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{Name: "campaign", Schema: pin(schema)})
	require.NoError(t, err)
	persistNow(t, svc, alice, domain.KindData, id)
	return schema, latest(t, svc, alice, domain.KindData, id)
}

func TestRecordValuesConformToFields(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	schema, dataset := recordFixture(t, svc,
		&domain.Node{Name: "label", Type: domain.FieldText},
		&domain.Node{Name: "count", Type: domain.FieldNumber},
		&domain.Node{Name: "when", Type: domain.FieldDate},
		&domain.Node{Name: "ok", Type: domain.FieldCheckbox},
		&domain.Node{Name: "grade", Type: domain.FieldSelect, Options: []domain.FieldOption{
			{Name: "high", Options: []domain.FieldOption{{Name: "very high"}}},
			{Name: "low"},
		}},
	)
	fieldID := map[string]string{}
	var grade *domain.Node
	for _, f := range schema.Fields {
		fieldID[f.Name] = f.UUID
		if f.Name == "grade" {
			grade = f
		}
	}
	veryHigh := grade.Options[0].Options[0].UUID

	id, err := svc.Create(ctx, alice, domain.KindRecord, &domain.Node{
		Dataset: pin(dataset),
		Values: []domain.FieldValue{
			{Field: fieldID["label"], Value: "sample 7"},
			{Field: fieldID["count"], Value: 3.0},
			{Field: fieldID["when"], Value: "2024-05-01T10:00:00Z"},
			{Field: fieldID["ok"], Value: true},
			{Field: fieldID["grade"], Options: []string{veryHigh}},
		},
	})
	require.NoError(t, err)
	assert.Len(t, draft(t, svc, alice, domain.KindRecord, id).Values, 5)

	bad := [][]domain.FieldValue{
		{{Field: "unknown", Value: "x"}},
		{{Field: fieldID["label"], Value: "a"}, {Field: fieldID["label"], Value: "b"}},
		{{Field: fieldID["count"], Value: "three"}},
		{{Field: fieldID["when"], Value: "yesterday"}},
		{{Field: fieldID["ok"], Value: "yes"}},
		{{Field: fieldID["grade"], Options: []string{"nope"}}},
		{{Field: fieldID["grade"], Options: []string{veryHigh, grade.Options[1].UUID}}},
	}
	for i, values := range bad {
		_, err := svc.Create(ctx, alice, domain.KindRecord, &domain.Node{Dataset: pin(dataset), Values: values})
		assert.ErrorIs(t, err, domain.ErrInput, "case %d", i)
	}
}

func TestPublishRecord(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	schema, dataset := recordFixture(t, svc, &domain.Node{Name: "label", Type: domain.FieldText})
	id, err := svc.Create(ctx, alice, domain.KindRecord, &domain.Node{
		Name:    "r",
		Dataset: pin(dataset),
		Values:  []domain.FieldValue{{Field: schema.Fields[0].UUID, Value: "first"}},
	})
	require.NoError(t, err)

	lu, err := svc.LastUpdate(ctx, alice, domain.KindRecord, id)
	require.NoError(t, err)
	_, err = svc.Publish(ctx, alice, id, lu, "")
	assert.ErrorIs(t, err, domain.ErrInput)

	v1, err := svc.Publish(ctx, alice, id, lu, "v1")
	require.NoError(t, err)

	pub, err := svc.Published(ctx, alice, id, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", pub.PublishName)
	assert.Equal(t, v1, pub.ID)
	assert.Equal(t, "first", pub.Values[0].Value)

	_, err = svc.Publish(ctx, alice, id, lu, "v1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	v2, err := svc.Publish(ctx, alice, id, lu, "v2")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	_, err = svc.Published(ctx, alice, id, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	other := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "other"})
	err = svc.Update(ctx, alice, domain.KindData, dataset.UUID, &domain.Node{UUID: dataset.UUID, Schema: pin(other)})
	assert.ErrorIs(t, err, domain.ErrInput)
}

func TestUUIDOnlySchemaFollowsTheParentSlot(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	t1 := persistedSchemaTree(t, svc, alice, &domain.Node{Name: "t1", Related: []*domain.Node{{Name: "t2"}}})
	t2 := t1.Related[0]
	require.NoError(t, svc.Update(ctx, alice, domain.KindSchema, t2.UUID, &domain.Node{UUID: t2.UUID, Name: "t2 renamed"}))
	persistNow(t, svc, alice, domain.KindSchema, t2.UUID)
	newer := latest(t, svc, alice, domain.KindSchema, t2.UUID)
	require.NotEqual(t, t2.ID, newer.ID)

	id, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{
		Name:    "dataset",
		Schema:  pin(t1),
		Related: []*domain.Node{{Name: "sub dataset", Schema: &domain.Node{UUID: t2.UUID}}},
	})
	require.NoError(t, err)
	n := draft(t, svc, alice, domain.KindData, id)
	require.Len(t, n.Related, 1)
	assert.Equal(t, t2.ID, n.Related[0].Schema.ID)

	_, err = svc.Create(ctx, alice, domain.KindData, &domain.Node{
		Schema:  pin(t1),
		Related: []*domain.Node{{Name: "sub dataset", Schema: pin(newer)}},
	})
	assert.ErrorIs(t, err, domain.ErrInput)

	standalone, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{Name: "alone", Schema: &domain.Node{UUID: t2.UUID}})
	require.NoError(t, err)
	assert.Equal(t, newer.ID, draft(t, svc, alice, domain.KindData, standalone).Schema.ID)
}

func TestRecordsMirrorNestedDatasets(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	schema := persistedSchemaTree(t, svc, alice, &domain.Node{
		Name:    "sample",
		Fields:  []*domain.Node{{Name: "label", Type: domain.FieldText}},
		Related: []*domain.Node{{Name: "reading", Fields: []*domain.Node{{Name: "note", Type: domain.FieldText}}}},
	})
	label, note := schema.Fields[0].UUID, schema.Related[0].Fields[0].UUID

	dataID, err := svc.Create(ctx, alice, domain.KindData, &domain.Node{
		Name:    "samples",
		Schema:  pin(schema),
		Related: []*domain.Node{{Name: "readings", Schema: pin(schema.Related[0])}},
	})
	require.NoError(t, err)
	persistNow(t, svc, alice, domain.KindData, dataID)
	dataset := latest(t, svc, alice, domain.KindData, dataID)
	require.Len(t, dataset.Related, 1)
	readings := dataset.Related[0]

	id, err := svc.Create(ctx, alice, domain.KindRecord, &domain.Node{
		Name:    "sample 1",
		Dataset: pin(dataset),
		Values:  []domain.FieldValue{{Field: label, Value: "top"}},
		Related: []*domain.Node{{
			Dataset: &domain.Node{UUID: readings.UUID},
			Values:  []domain.FieldValue{{Field: note, Value: "nested"}},
		}},
	})
	require.NoError(t, err)
	n := draft(t, svc, alice, domain.KindRecord, id)
	require.Len(t, n.Related, 1)
	assert.Equal(t, readings.ID, n.Related[0].Dataset.ID)
	assert.Equal(t, "nested", n.Related[0].Values[0].Value)

	_, err = svc.Create(ctx, alice, domain.KindRecord, &domain.Node{Dataset: pin(dataset)})
	assert.ErrorIs(t, err, domain.ErrInput)

	_, err = svc.Create(ctx, alice, domain.KindRecord, &domain.Node{
		Dataset: pin(dataset),
		Related: []*domain.Node{{Dataset: pin(dataset)}},
	})
	assert.ErrorIs(t, err, domain.ErrInput)

	_, err = svc.Create(ctx, alice, domain.KindRecord, &domain.Node{
		Dataset: pin(dataset),
		Related: []*domain.Node{{
			Dataset: pin(readings),
			Values:  []domain.FieldValue{{Field: label, Value: "wrong level"}},
		}},
	})
	assert.ErrorIs(t, err, domain.ErrInput)
}

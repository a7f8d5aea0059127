package application

import (
	"fmt"
	"strings"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/google/uuid"
	"github.com/ohler55/ojg/jp"
)

// Selectors applied to external documents.
var (
	selUUID        = jp.MustParseString("$.uuid")
	selName        = jp.MustParseString("$.name")
	selDescription = jp.MustParseString("$.description")
	selType        = jp.MustParseString("$.type")
	selMultiple    = jp.MustParseString("$.multiple")
	selOptions     = jp.MustParseString("$.options[*]")
	selFields      = jp.MustParseString("$.fields[*]")
	selRelated     = jp.MustParseString("$.related[*]")
	selSchema      = jp.MustParseString("$.schema")
)

// importTree maps an external document onto the internal uuid space. External
// ids seen before resolve to the node they created, which is then updated.
func (s *session) importTree(kind domain.Kind, doc any) (string, error) {
	if kind != domain.KindSchema && kind != domain.KindData {
		return "", fmt.Errorf("%w: %s documents cannot be imported", domain.ErrInput, kind)
	}
	var (
		body *domain.Node
		err  error
	)
	if kind == domain.KindSchema {
		body, err = s.importSchema(doc)
	} else {
		body, err = s.importData(doc, nil)
	}
	if err != nil {
		return "", err
	}

	isNew := s.fresh[body.UUID]
	if isNew {
		delete(s.fresh, body.UUID)
		if err := s.initLedger(kind, body.UUID); err != nil {
			return "", err
		}
	} else {
		doc, err := s.current(kind, body.UUID)
		if err != nil {
			return "", err
		}
		s.group = doc.GroupUUID
	}
	if err := s.write(kind, body.UUID, body, isNew, newPath()); err != nil {
		return "", err
	}
	return body.UUID, s.audit("node.import", kind, body.UUID, text(doc, selUUID))
}

func text(doc any, x jp.Expr) string {
	switch v := x.First(doc).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// importKey resolves the internal uuid of an external id, reserving a new one
// when the id was never imported.
func (s *session) importKey(kind domain.Kind, doc any) (string, error) {
	external := text(doc, selUUID)
	if external == "" {
		return "", fmt.Errorf("%w: imported %s has no uuid", domain.ErrInput, kind)
	}
	id, err := s.store.GetImportKey(s.ctx, kind, external)
	if err == nil {
		if err := s.require(kind, id, domain.CategoryEdit); err != nil {
			return "", err
		}
		return id, nil
	}
	if !isNotFound(err) {
		return "", err
	}
	id = uuid.NewString()
	if err := s.store.SaveImportKey(s.ctx, kind, external, id); err != nil {
		return "", err
	}
	s.fresh[id] = true
	return id, nil
}

func (s *session) importSchema(doc any) (*domain.Node, error) {
	id, err := s.importKey(domain.KindSchema, doc)
	if err != nil {
		return nil, err
	}
	n := &domain.Node{UUID: id, Name: text(doc, selName), Description: text(doc, selDescription)}
	for _, f := range selFields.Get(doc) {
		field, err := s.importField(f)
		if err != nil {
			return nil, err
		}
		n.Fields = append(n.Fields, field)
	}
	for _, r := range selRelated.Get(doc) {
		child, err := s.importSchema(r)
		if err != nil {
			return nil, err
		}
		n.Related = append(n.Related, child)
	}
	return n, nil
}

func (s *session) importField(doc any) (*domain.Node, error) {
	id, err := s.importKey(domain.KindField, doc)
	if err != nil {
		return nil, err
	}
	multiple, _ := selMultiple.First(doc).(bool)
	n := &domain.Node{
		UUID:        id,
		Name:        text(doc, selName),
		Description: text(doc, selDescription),
		Type:        domain.FieldType(strings.ToLower(text(doc, selType))),
		Multiple:    multiple,
	}
	// Option ids derive from the field and the option path so that a
	// re-import yields identical content.
	namespace := uuid.MustParse(id)
	n.Options = importOptions(selOptions.Get(doc), namespace, "")
	return n, nil
}

func importOptions(docs []any, namespace uuid.UUID, prefix string) []domain.FieldOption {
	out := make([]domain.FieldOption, 0, len(docs))
	for _, doc := range docs {
		name := text(doc, selName)
		key := prefix + "/" + name
		id := text(doc, selUUID)
		if id == "" {
			id = uuid.NewSHA1(namespace, []byte(key)).String()
		}
		out = append(out, domain.FieldOption{
			UUID:    id,
			Name:    name,
			Options: importOptions(selOptions.Get(doc), namespace, key),
		})
	}
	return out
}

// importData builds a data body. pins maps schema uuids to the version the
// parent's schema expects for them. Slots the document leaves uncovered get a
// synthesized child.
func (s *session) importData(doc any, pins map[string]string) (*domain.Node, error) {
	id, err := s.importKey(domain.KindData, doc)
	if err != nil {
		return nil, err
	}
	external := text(doc, selSchema)
	if external == "" {
		return nil, fmt.Errorf("%w: imported data has no schema", domain.ErrInput)
	}
	schemaUUID, err := s.store.GetImportKey(s.ctx, domain.KindSchema, external)
	if isNotFound(err) {
		return nil, fmt.Errorf("%w: schema %q was never imported", domain.ErrInput, external)
	}
	if err != nil {
		return nil, err
	}
	ref, schema, err := s.resolvePin(domain.KindSchema, &domain.Node{UUID: schemaUUID, ID: pins[schemaUUID]})
	if err != nil {
		return nil, err
	}

	n := &domain.Node{
		UUID:        id,
		Name:        text(doc, selName),
		Description: text(doc, selDescription),
		Schema:      &domain.Node{UUID: ref.UUID, ID: ref.ID},
	}
	slots := append(append([]domain.Ref{}, schema.Content.Related...), schema.Content.Subscribed...)
	childPins := make(map[string]string, len(slots))
	for _, slot := range slots {
		childPins[slot.UUID] = slot.ID
	}
	covered := make(map[domain.Ref]int)
	for _, r := range selRelated.Get(doc) {
		child, err := s.importData(r, childPins)
		if err != nil {
			return nil, err
		}
		covered[domain.Ref{UUID: child.Schema.UUID, ID: child.Schema.ID}]++
		n.Related = append(n.Related, child)
	}
	synthesized, err := s.synthesizedChildren(id, n.Related)
	if err != nil {
		return nil, err
	}
	for _, slot := range slots {
		if covered[slot] > 0 {
			covered[slot]--
			continue
		}
		if ids := synthesized[slot]; len(ids) > 0 {
			synthesized[slot] = ids[1:]
			n.Related = append(n.Related, stub(ids[0]))
			continue
		}
		child, err := s.synthesizeData(slot)
		if err != nil {
			return nil, err
		}
		n.Related = append(n.Related, child)
	}
	return n, nil
}

// synthesizedChildren indexes, by schema slot, the children a previous import
// of id filled in that the document does not list itself.
func (s *session) synthesizedChildren(id string, listed []*domain.Node) (map[domain.Ref][]string, error) {
	out := make(map[domain.Ref][]string)
	if s.fresh[id] {
		return out, nil
	}
	doc, err := s.current(domain.KindData, id)
	if err != nil {
		return nil, err
	}
	for _, ref := range doc.Content.Related {
		if containsNode(listed, ref.UUID) {
			continue
		}
		child, err := s.current(domain.KindData, ref.UUID)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if child.Content.Schema != nil {
			out[*child.Content.Schema] = append(out[*child.Content.Schema], ref.UUID)
		}
	}
	return out, nil
}

func containsNode(nodes []*domain.Node, id string) bool {
	for _, n := range nodes {
		if n.UUID == id {
			return true
		}
	}
	return false
}

// synthesizeData builds a new data body for a schema slot, recursing into the
// slot schema's own slots.
func (s *session) synthesizeData(slot domain.Ref) (*domain.Node, error) {
	schema, err := s.store.GetVersion(s.ctx, domain.KindSchema, slot.ID)
	if err != nil {
		return nil, err
	}
	n := &domain.Node{
		Name:   schema.Content.Name,
		Schema: &domain.Node{UUID: slot.UUID, ID: slot.ID},
	}
	for _, ref := range append(append([]domain.Ref{}, schema.Content.Related...), schema.Content.Subscribed...) {
		child, err := s.synthesizeData(ref)
		if err != nil {
			return nil, err
		}
		n.Related = append(n.Related, child)
	}
	return n, nil
}

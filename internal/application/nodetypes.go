package application

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/atvirokodosprendimai/curator/internal/domain"
	"github.com/google/uuid"
)

// slot is one strongly owned child list of a node kind. Drafts reference owned
// children by uuid; persisted versions pin them to version ids.
type slot struct {
	name  string
	kind  domain.Kind
	refs  func(c *domain.Content) *[]domain.Ref
	nodes func(n *domain.Node) *[]*domain.Node
}

// nodeType holds everything that differs between the four node kinds. The
// engine itself is written once against this interface.
type nodeType interface {
	slots() []slot
	// content copies the scalar members of body, rejecting members the kind
	// does not carry.
	content(body *domain.Node) (domain.Content, error)
	render(c domain.Content, n *domain.Node)
	// bind resolves the pinned references of body into c.
	bind(s *session, id string, body *domain.Node, prev *domain.Content, c *domain.Content, path *roaring.Bitmap) error
	// conform checks c against the node it instantiates.
	conform(s *session, c domain.Content) error
}

var (
	fieldsSlot = slot{
		name:  "fields",
		kind:  domain.KindField,
		refs:  func(c *domain.Content) *[]domain.Ref { return &c.Fields },
		nodes: func(n *domain.Node) *[]*domain.Node { return &n.Fields },
	}
	nodeTypes = map[domain.Kind]nodeType{
		domain.KindField:  fieldType{},
		domain.KindSchema: schemaType{},
		domain.KindData:   dataType{},
		domain.KindRecord: recordType{},
	}
)

func relatedSlot(kind domain.Kind) slot {
	return slot{
		name:  "related",
		kind:  kind,
		refs:  func(c *domain.Content) *[]domain.Ref { return &c.Related },
		nodes: func(n *domain.Node) *[]*domain.Node { return &n.Related },
	}
}

func typeOf(kind domain.Kind) nodeType {
	return nodeTypes[kind]
}

func cloneContent(c domain.Content) domain.Content {
	out := c
	out.Fields = append([]domain.Ref(nil), c.Fields...)
	out.Related = append([]domain.Ref(nil), c.Related...)
	out.Subscribed = append([]domain.Ref(nil), c.Subscribed...)
	out.Values = append([]domain.FieldValue(nil), c.Values...)
	if c.Schema != nil {
		ref := *c.Schema
		out.Schema = &ref
	}
	if c.Dataset != nil {
		ref := *c.Dataset
		out.Dataset = &ref
	}
	return out
}

// unpinOwned drops the version ids of owned references, leaving the uuid-level
// shape drafts use.
func unpinOwned(kind domain.Kind, c domain.Content) domain.Content {
	out := cloneContent(c)
	for _, sl := range typeOf(kind).slots() {
		refs := sl.refs(&out)
		for i := range *refs {
			(*refs)[i].ID = ""
		}
	}
	return out
}

func sameContent(a, b domain.Content) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ra, rb)
}

type edge struct {
	kind domain.Kind
	uuid string
}

// edges lists every node c points at within its own kind graph, owned children
// and subscriptions alike.
func edges(kind domain.Kind, c domain.Content) []edge {
	var out []edge
	for _, sl := range typeOf(kind).slots() {
		for _, ref := range *sl.refs(&c) {
			out = append(out, edge{kind: sl.kind, uuid: ref.UUID})
		}
	}
	if kind == domain.KindSchema {
		for _, ref := range c.Subscribed {
			out = append(out, edge{kind: domain.KindSchema, uuid: ref.UUID})
		}
	}
	return out
}

type member struct {
	name string
	set  bool
}

func members(body *domain.Node) []member {
	return []member{
		{"type", body.Type != ""},
		{"multiple", body.Multiple},
		{"options", len(body.Options) > 0},
		{"fields", len(body.Fields) > 0},
		{"related", len(body.Related) > 0},
		{"subscribed", len(body.Subscribed) > 0},
		{"schema", body.Schema != nil},
		{"dataset", body.Dataset != nil},
		{"values", len(body.Values) > 0},
	}
}

func rejectForeign(kind domain.Kind, body *domain.Node, allowed ...string) error {
	for _, m := range members(body) {
		if !m.set || contains(allowed, m.name) {
			continue
		}
		return fmt.Errorf("%w: %s does not carry %s", domain.ErrInput, kind, m.name)
	}
	return nil
}

func containsRef(refs []domain.Ref, ref domain.Ref) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func requireName(kind domain.Kind, body *domain.Node) (string, error) {
	name := strings.TrimSpace(body.Name)
	if name == "" {
		return "", fmt.Errorf("%w: %s name is required", domain.ErrInput, kind)
	}
	return name, nil
}

// resolvePin turns a {uuid, id?} reference into a pinned ref to a persisted
// version of kind. An empty id pins the version the enclosing slot expects,
// or the latest persisted version outside of one.
func (s *session) resolvePin(kind domain.Kind, n *domain.Node) (domain.Ref, domain.Document, error) {
	if n == nil || strings.TrimSpace(n.UUID) == "" {
		return domain.Ref{}, domain.Document{}, fmt.Errorf("%w: %s reference needs a uuid", domain.ErrInput, kind)
	}
	if err := s.require(kind, n.UUID, domain.CategoryView); err != nil {
		return domain.Ref{}, domain.Document{}, err
	}
	if n.ID == "" && s.pins[n.UUID] != "" {
		n = &domain.Node{UUID: n.UUID, ID: s.pins[n.UUID]}
	}
	if n.ID == "" {
		latest, ok, err := s.latest(kind, n.UUID)
		if err != nil {
			return domain.Ref{}, domain.Document{}, err
		}
		if !ok {
			return domain.Ref{}, domain.Document{}, fmt.Errorf("%w: %s %s has no persisted version", domain.ErrInput, kind, n.UUID)
		}
		return domain.Ref{UUID: n.UUID, ID: latest.ID}, latest, nil
	}
	version, err := s.store.GetVersion(s.ctx, kind, n.ID)
	if isNotFound(err) {
		return domain.Ref{}, domain.Document{}, fmt.Errorf("%w: %s version %s does not exist", domain.ErrInput, kind, n.ID)
	}
	if err != nil {
		return domain.Ref{}, domain.Document{}, err
	}
	if version.UUID != n.UUID {
		return domain.Ref{}, domain.Document{}, fmt.Errorf("%w: %s version %s does not belong to %s", domain.ErrInput, kind, n.ID, n.UUID)
	}
	return domain.Ref{UUID: n.UUID, ID: n.ID}, version, nil
}

type fieldType struct{}

func (fieldType) slots() []slot { return nil }

func (fieldType) content(body *domain.Node) (domain.Content, error) {
	if err := rejectForeign(domain.KindField, body, "type", "multiple", "options"); err != nil {
		return domain.Content{}, err
	}
	name, err := requireName(domain.KindField, body)
	if err != nil {
		return domain.Content{}, err
	}
	c := domain.Content{Name: name, Description: body.Description, Type: body.Type, Multiple: body.Multiple}
	switch body.Type {
	case domain.FieldText, domain.FieldNumber, domain.FieldDate, domain.FieldCheckbox:
		if len(body.Options) > 0 || body.Multiple {
			return domain.Content{}, fmt.Errorf("%w: options apply to select fields only", domain.ErrInput)
		}
	case domain.FieldSelect:
		seen := make(map[string]bool)
		options, err := copyOptions(body.Options, seen)
		if err != nil {
			return domain.Content{}, err
		}
		c.Options = options
	default:
		return domain.Content{}, fmt.Errorf("%w: unknown field type %q", domain.ErrInput, body.Type)
	}
	return c, nil
}

func copyOptions(in []domain.FieldOption, seen map[string]bool) ([]domain.FieldOption, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]domain.FieldOption, 0, len(in))
	for _, opt := range in {
		if strings.TrimSpace(opt.Name) == "" {
			return nil, fmt.Errorf("%w: option name is required", domain.ErrInput)
		}
		id := opt.UUID
		if id == "" {
			id = uuid.NewString()
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate option %s", domain.ErrInput, id)
		}
		seen[id] = true
		children, err := copyOptions(opt.Options, seen)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.FieldOption{UUID: id, Name: strings.TrimSpace(opt.Name), Options: children})
	}
	return out, nil
}

func (fieldType) render(c domain.Content, n *domain.Node) {
	n.Name = c.Name
	n.Description = c.Description
	n.Type = c.Type
	n.Multiple = c.Multiple
	n.Options = c.Options
}

func (fieldType) bind(*session, string, *domain.Node, *domain.Content, *domain.Content, *roaring.Bitmap) error {
	return nil
}

func (fieldType) conform(*session, domain.Content) error { return nil }

type schemaType struct{}

func (schemaType) slots() []slot {
	return []slot{fieldsSlot, relatedSlot(domain.KindSchema)}
}

func (schemaType) content(body *domain.Node) (domain.Content, error) {
	if err := rejectForeign(domain.KindSchema, body, "fields", "related", "subscribed"); err != nil {
		return domain.Content{}, err
	}
	name, err := requireName(domain.KindSchema, body)
	if err != nil {
		return domain.Content{}, err
	}
	return domain.Content{Name: name, Description: body.Description}, nil
}

func (schemaType) render(c domain.Content, n *domain.Node) {
	n.Name = c.Name
	n.Description = c.Description
	for _, ref := range c.Subscribed {
		n.Subscribed = append(n.Subscribed, &domain.Node{UUID: ref.UUID, ID: ref.ID})
	}
}

func (schemaType) bind(s *session, id string, body *domain.Node, prev *domain.Content, c *domain.Content, path *roaring.Bitmap) error {
	seen := make(map[string]bool, len(body.Subscribed))
	for _, sub := range body.Subscribed {
		if sub == nil {
			return fmt.Errorf("%w: empty subscription", domain.ErrInput)
		}
		if seen[sub.UUID] {
			return fmt.Errorf("%w: schema %s is subscribed twice", domain.ErrInput, sub.UUID)
		}
		seen[sub.UUID] = true
		if sub.UUID == id || path.Contains(s.index(sub.UUID)) {
			return fmt.Errorf("%w: subscribing to %s would form a cycle", domain.ErrConflict, sub.UUID)
		}
		ref := domain.Ref{UUID: sub.UUID, ID: sub.ID}
		if prev == nil || !containsRef(prev.Subscribed, ref) {
			var err error
			if ref, _, err = s.resolvePin(domain.KindSchema, sub); err != nil {
				return err
			}
		}
		cyclic, err := s.reaches(domain.KindSchema, ref.UUID, path)
		if err != nil {
			return err
		}
		if cyclic {
			return fmt.Errorf("%w: subscribing to %s would form a cycle", domain.ErrConflict, sub.UUID)
		}
		c.Subscribed = append(c.Subscribed, ref)
	}
	return nil
}

func (schemaType) conform(*session, domain.Content) error { return nil }

type dataType struct{}

func (dataType) slots() []slot {
	return []slot{relatedSlot(domain.KindData)}
}

func (dataType) content(body *domain.Node) (domain.Content, error) {
	if err := rejectForeign(domain.KindData, body, "related", "schema"); err != nil {
		return domain.Content{}, err
	}
	return domain.Content{Name: strings.TrimSpace(body.Name), Description: body.Description}, nil
}

func (dataType) render(c domain.Content, n *domain.Node) {
	n.Name = c.Name
	n.Description = c.Description
	if c.Schema != nil {
		n.Schema = &domain.Node{UUID: c.Schema.UUID, ID: c.Schema.ID}
	}
}

func (dataType) bind(s *session, id string, body *domain.Node, prev *domain.Content, c *domain.Content, _ *roaring.Bitmap) error {
	if body.Schema == nil {
		return fmt.Errorf("%w: data %s must name the schema it instantiates", domain.ErrInput, id)
	}
	ref, _, err := s.resolvePin(domain.KindSchema, body.Schema)
	if err != nil {
		return err
	}
	if prev != nil && prev.Schema != nil && *prev.Schema != ref {
		published, err := s.store.DatasetHasPublication(s.ctx, id)
		if err != nil {
			return err
		}
		if published {
			return fmt.Errorf("%w: data %s has published records, its schema can no longer change", domain.ErrInput, id)
		}
	}
	c.Schema = &ref
	return nil
}

func (dataType) conform(s *session, c domain.Content) error {
	schema, err := s.store.GetVersion(s.ctx, domain.KindSchema, c.Schema.ID)
	if err != nil {
		return err
	}
	expected := make(map[domain.Ref]int)
	for _, ref := range schema.Content.Related {
		expected[ref]++
	}
	for _, ref := range schema.Content.Subscribed {
		expected[ref]++
	}
	got := make(map[domain.Ref]int)
	for _, ref := range c.Related {
		child, err := s.current(domain.KindData, ref.UUID)
		if err != nil {
			return err
		}
		if child.Content.Schema == nil {
			return fmt.Errorf("%w: related data %s has no schema", domain.ErrInput, ref.UUID)
		}
		got[*child.Content.Schema]++
	}
	return compareSlots("data", expected, got)
}

func compareSlots(kind string, expected, got map[domain.Ref]int) error {
	for ref, n := range got {
		if expected[ref] != n {
			return fmt.Errorf("%w: related %s instantiating %s@%s does not match a slot", domain.ErrInput, kind, ref.UUID, ref.ID)
		}
	}
	for ref, n := range expected {
		if got[ref] != n {
			return fmt.Errorf("%w: slot %s@%s needs exactly %d related %s", domain.ErrInput, ref.UUID, ref.ID, n, kind)
		}
	}
	return nil
}

type recordType struct{}

func (recordType) slots() []slot {
	return []slot{relatedSlot(domain.KindRecord)}
}

func (recordType) content(body *domain.Node) (domain.Content, error) {
	if err := rejectForeign(domain.KindRecord, body, "related", "dataset", "values"); err != nil {
		return domain.Content{}, err
	}
	return domain.Content{
		Name:        strings.TrimSpace(body.Name),
		Description: body.Description,
		Values:      append([]domain.FieldValue(nil), body.Values...),
	}, nil
}

func (recordType) render(c domain.Content, n *domain.Node) {
	n.Name = c.Name
	n.Description = c.Description
	n.Values = c.Values
	if c.Dataset != nil {
		n.Dataset = &domain.Node{UUID: c.Dataset.UUID, ID: c.Dataset.ID}
	}
}

func (recordType) bind(s *session, id string, body *domain.Node, _ *domain.Content, c *domain.Content, _ *roaring.Bitmap) error {
	if body.Dataset == nil {
		return fmt.Errorf("%w: record %s must name the data it instantiates", domain.ErrInput, id)
	}
	ref, _, err := s.resolvePin(domain.KindData, body.Dataset)
	if err != nil {
		return err
	}
	c.Dataset = &ref
	return nil
}

func (recordType) conform(s *session, c domain.Content) error {
	dataset, err := s.store.GetVersion(s.ctx, domain.KindData, c.Dataset.ID)
	if err != nil {
		return err
	}
	expected := make(map[domain.Ref]int)
	for _, ref := range dataset.Content.Related {
		expected[ref]++
	}
	got := make(map[domain.Ref]int)
	for _, ref := range c.Related {
		child, err := s.current(domain.KindRecord, ref.UUID)
		if err != nil {
			return err
		}
		if child.Content.Dataset == nil {
			return fmt.Errorf("%w: related record %s has no data", domain.ErrInput, ref.UUID)
		}
		got[*child.Content.Dataset]++
	}
	if err := compareSlots("record", expected, got); err != nil {
		return err
	}
	return s.conformValues(dataset, c.Values)
}

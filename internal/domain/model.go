package domain

import (
	"strings"
	"time"
)

type Kind string

const (
	KindField  Kind = "field"
	KindSchema Kind = "schema"
	KindData   Kind = "data"
	KindRecord Kind = "record"
)

func ParseKind(raw string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindField:
		return KindField, true
	case KindSchema:
		return KindSchema, true
	case KindData:
		return KindData, true
	case KindRecord:
		return KindRecord, true
	}
	return "", false
}

// IsInstance reports whether nodes of this kind conform to another node
// (data to a schema, record to a dataset).
func (k Kind) IsInstance() bool {
	return k == KindData || k == KindRecord
}

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldDate     FieldType = "date"
	FieldCheckbox FieldType = "checkbox"
	FieldSelect   FieldType = "select"
)

type FieldOption struct {
	UUID    string        `json:"uuid,omitempty"`
	Name    string        `json:"name"`
	Options []FieldOption `json:"options,omitempty"`
}

type FieldValue struct {
	Field   string   `json:"field"`
	Value   any      `json:"value,omitempty"`
	Options []string `json:"options,omitempty"`
}

// Ref points at a node by uuid and, once pinned, at one persisted version of it.
type Ref struct {
	UUID string `json:"uuid"`
	ID   string `json:"id,omitempty"`
}

// Content is the versioned body of a node. Which members are meaningful
// depends on the node kind.
type Content struct {
	Name        string        `json:"name,omitempty"`
	Description string        `json:"description,omitempty"`
	Type        FieldType     `json:"type,omitempty"`
	Multiple    bool          `json:"multiple,omitempty"`
	Options     []FieldOption `json:"options,omitempty"`
	Fields      []Ref         `json:"fields,omitempty"`
	Related     []Ref         `json:"related,omitempty"`
	Subscribed  []Ref         `json:"subscribed,omitempty"`
	Schema      *Ref          `json:"schema,omitempty"`
	Dataset     *Ref          `json:"dataset,omitempty"`
	Values      []FieldValue  `json:"values,omitempty"`
}

// Document is the stored form of a draft (ID empty) or a persisted snapshot.
type Document struct {
	Kind           Kind
	UUID           string
	ID             string
	Content        Content
	GroupUUID      string
	DuplicatedFrom string
	UpdatedAt      time.Time
	PersistDate    *time.Time
}

func (d *Document) IsDraft() bool {
	return d.ID == ""
}

// Node is the resolved tree exchanged with callers. Children the caller may
// not see are collapsed to a node carrying only its uuid.
type Node struct {
	UUID           string        `json:"uuid,omitempty"`
	ID             string        `json:"id,omitempty"`
	Name           string        `json:"name,omitempty"`
	Description    string        `json:"description,omitempty"`
	Type           FieldType     `json:"type,omitempty"`
	Multiple       bool          `json:"multiple,omitempty"`
	Options        []FieldOption `json:"options,omitempty"`
	Fields         []*Node       `json:"fields,omitempty"`
	Related        []*Node       `json:"related,omitempty"`
	Subscribed     []*Node       `json:"subscribed,omitempty"`
	Schema         *Node         `json:"schema,omitempty"`
	Dataset        *Node         `json:"dataset,omitempty"`
	Values         []FieldValue  `json:"values,omitempty"`
	GroupUUID      string        `json:"group_uuid,omitempty"`
	DuplicatedFrom string        `json:"duplicated_from,omitempty"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`
	PersistDate    *time.Time    `json:"persist_date,omitempty"`
	PublishName    string        `json:"publish_name,omitempty"`
}

// IsStub reports whether the node carries nothing but an identity, which is
// how callers link an existing node without modifying it.
func (n *Node) IsStub() bool {
	return n.Name == "" && n.Description == "" && n.Type == "" && !n.Multiple &&
		len(n.Options) == 0 && len(n.Fields) == 0 && len(n.Related) == 0 &&
		len(n.Subscribed) == 0 && n.Schema == nil && n.Dataset == nil && len(n.Values) == 0
}

type Category string

const (
	CategoryAdmin Category = "admin"
	CategoryEdit  Category = "edit"
	CategoryView  Category = "view"
)

func ParseCategory(raw string) (Category, bool) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case CategoryAdmin:
		return CategoryAdmin, true
	case CategoryEdit:
		return CategoryEdit, true
	case CategoryView:
		return CategoryView, true
	}
	return "", false
}

// Ledger holds the three disjoint user lists guarding one node uuid.
type Ledger struct {
	UUID  string
	Kind  Kind
	Admin []string
	Edit  []string
	View  []string
}

func (l *Ledger) List(c Category) []string {
	switch c {
	case CategoryAdmin:
		return l.Admin
	case CategoryEdit:
		return l.Edit
	default:
		return l.View
	}
}

// Grants reports whether user holds category c, either directly or through a
// higher tier.
func (l *Ledger) Grants(user string, c Category) bool {
	if contains(l.Admin, user) {
		return true
	}
	if c == CategoryAdmin {
		return false
	}
	if contains(l.Edit, user) {
		return true
	}
	if c == CategoryEdit {
		return false
	}
	return contains(l.View, user)
}

// Actor is the caller of an engine operation. A super-user acting as another
// user is evaluated with that user's permissions only.
type Actor struct {
	User      string
	SuperUser bool
	ActingAs  string
}

func (a Actor) Effective() string {
	if a.SuperUser && a.ActingAs != "" {
		return a.ActingAs
	}
	return a.User
}

func (a Actor) Privileged() bool {
	return a.SuperUser && a.ActingAs == ""
}

type Publication struct {
	UUID        string
	Name        string
	VersionID   string
	DatasetUUID string
	PublishedAt time.Time
}

type GroupMember struct {
	Kind Kind   `json:"kind"`
	UUID string `json:"uuid"`
}

type User struct {
	ID           uint
	Email        string
	PasswordHash string
	SuperUser    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type APIToken struct {
	ID        uint
	UserID    uint
	Name      string
	TokenHash string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

type AuditLog struct {
	ID         uint
	Actor      string
	Action     string
	TargetKind string
	TargetUUID string
	Metadata   string
	CreatedAt  time.Time
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

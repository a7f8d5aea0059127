package sqldb

import (
	"time"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"gorm.io/datatypes"
)

type DraftModel struct {
	UUID           string                              `gorm:"primaryKey"`
	Kind           string                              `gorm:"not null;index"`
	Payload        datatypes.JSONType[domain.Content] `gorm:"not null"`
	GroupUUID      string                              `gorm:"not null;default:'';index"`
	DuplicatedFrom string                              `gorm:"not null;default:''"`
	ChangedAt      time.Time                           `gorm:"not null"`
}

func (DraftModel) TableName() string { return "drafts" }

type VersionModel struct {
	Seq            uint                                `gorm:"primaryKey;autoIncrement"`
	VersionID      string                              `gorm:"not null;uniqueIndex"`
	UUID           string                              `gorm:"not null;index:idx_versions_uuid"`
	Kind           string                              `gorm:"not null;index:idx_versions_uuid"`
	Payload        datatypes.JSONType[domain.Content] `gorm:"not null"`
	GroupUUID      string                              `gorm:"not null;default:'';index"`
	DuplicatedFrom string                              `gorm:"not null;default:''"`
	ChangedAt      time.Time                           `gorm:"not null"`
	PersistDate    time.Time                           `gorm:"not null"`
}

func (VersionModel) TableName() string { return "versions" }

type PublicationModel struct {
	ID          uint      `gorm:"primaryKey"`
	UUID        string    `gorm:"not null;index:idx_publications_uuid_name,unique"`
	Name        string    `gorm:"not null;index:idx_publications_uuid_name,unique"`
	VersionID   string    `gorm:"not null"`
	DatasetUUID string    `gorm:"not null;default:'';index"`
	PublishedAt time.Time `gorm:"not null"`
}

func (PublicationModel) TableName() string { return "publications" }

type LedgerModel struct {
	UUID      string                      `gorm:"primaryKey"`
	Kind      string                      `gorm:"not null"`
	AdminList datatypes.JSONSlice[string] `gorm:"not null"`
	EditList  datatypes.JSONSlice[string] `gorm:"not null"`
	ViewList  datatypes.JSONSlice[string] `gorm:"not null"`
}

func (LedgerModel) TableName() string { return "ledgers" }

type ImportKeyModel struct {
	ID         uint   `gorm:"primaryKey"`
	Kind       string `gorm:"not null;index:idx_import_keys_kind_external,unique"`
	ExternalID string `gorm:"not null;index:idx_import_keys_kind_external,unique"`
	UUID       string `gorm:"not null"`
}

func (ImportKeyModel) TableName() string { return "import_keys" }

type UserModel struct {
	ID           uint   `gorm:"primaryKey"`
	Email        string `gorm:"not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	SuperUser    bool   `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

type APITokenModel struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    uint   `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	TokenHash string `gorm:"not null;uniqueIndex"`
	ExpiresAt *time.Time
	CreatedAt time.Time
}

func (APITokenModel) TableName() string { return "api_tokens" }

type AuditLogModel struct {
	ID         uint   `gorm:"primaryKey"`
	Actor      string `gorm:"not null;default:''"`
	Action     string `gorm:"not null;index"`
	TargetKind string `gorm:"not null"`
	TargetUUID string `gorm:"not null;default:''"`
	Metadata   string
	CreatedAt  time.Time
}

func (AuditLogModel) TableName() string { return "audit_logs" }

func draftToDomain(m DraftModel) domain.Document {
	return domain.Document{
		Kind:           domain.Kind(m.Kind),
		UUID:           m.UUID,
		Content:        m.Payload.Data(),
		GroupUUID:      m.GroupUUID,
		DuplicatedFrom: m.DuplicatedFrom,
		UpdatedAt:      m.ChangedAt.UTC(),
	}
}

func versionToDomain(m VersionModel) domain.Document {
	persisted := m.PersistDate.UTC()
	return domain.Document{
		Kind:           domain.Kind(m.Kind),
		UUID:           m.UUID,
		ID:             m.VersionID,
		Content:        m.Payload.Data(),
		GroupUUID:      m.GroupUUID,
		DuplicatedFrom: m.DuplicatedFrom,
		UpdatedAt:      m.ChangedAt.UTC(),
		PersistDate:    &persisted,
	}
}

func ledgerToDomain(m LedgerModel) domain.Ledger {
	return domain.Ledger{
		UUID:  m.UUID,
		Kind:  domain.Kind(m.Kind),
		Admin: []string(m.AdminList),
		Edit:  []string(m.EditList),
		View:  []string(m.ViewList),
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

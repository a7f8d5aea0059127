package sqldb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/atvirokodosprendimai/curator/internal/domain"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

type CurationRepository struct {
	db *gorm.DB
}

// Open connects to the configured backend. SQLite runs on a single
// connection so that transactions serialize instead of failing with
// SQLITE_BUSY.
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		db, err := gorm.Open(sqlite.Dialector{
			DriverName: "sqlite",
			DSN:        dsn,
		}, cfg)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func NewCurationRepository(db *gorm.DB) *CurationRepository {
	return &CurationRepository{db: db}
}

func (r *CurationRepository) WithinTx(ctx context.Context, fn func(store domain.NodeStore) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&CurationRepository{db: tx})
	})
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: "+format, append([]any{domain.ErrNotFound}, args...)...)
	}
	return err
}

func (r *CurationRepository) GetDraft(ctx context.Context, kind domain.Kind, uuid string) (domain.Document, error) {
	var m DraftModel
	if err := r.db.WithContext(ctx).Where("uuid = ? AND kind = ?", uuid, string(kind)).First(&m).Error; err != nil {
		return domain.Document{}, notFound(err, "%s draft %s", kind, uuid)
	}
	return draftToDomain(m), nil
}

func (r *CurationRepository) UpsertDraft(ctx context.Context, doc domain.Document) error {
	m := DraftModel{
		UUID:           doc.UUID,
		Kind:           string(doc.Kind),
		Payload:        datatypes.NewJSONType(doc.Content),
		GroupUUID:      doc.GroupUUID,
		DuplicatedFrom: doc.DuplicatedFrom,
		ChangedAt:      doc.UpdatedAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "uuid"}}, UpdateAll: true}).
		Create(&m).Error
}

func (r *CurationRepository) DeleteDraft(ctx context.Context, kind domain.Kind, uuid string) error {
	return r.db.WithContext(ctx).Where("uuid = ? AND kind = ?", uuid, string(kind)).Delete(&DraftModel{}).Error
}

func (r *CurationRepository) DraftExists(ctx context.Context, kind domain.Kind, uuid string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&DraftModel{}).Where("uuid = ? AND kind = ?", uuid, string(kind)).Count(&count).Error
	return count > 0, err
}

func (r *CurationRepository) CreateVersion(ctx context.Context, doc domain.Document) error {
	if doc.ID == "" || doc.PersistDate == nil {
		return errors.New("version requires an id and a persist date")
	}
	m := VersionModel{
		VersionID:      doc.ID,
		UUID:           doc.UUID,
		Kind:           string(doc.Kind),
		Payload:        datatypes.NewJSONType(doc.Content),
		GroupUUID:      doc.GroupUUID,
		DuplicatedFrom: doc.DuplicatedFrom,
		ChangedAt:      doc.UpdatedAt.UTC(),
		PersistDate:    doc.PersistDate.UTC(),
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *CurationRepository) GetVersion(ctx context.Context, kind domain.Kind, id string) (domain.Document, error) {
	var m VersionModel
	if err := r.db.WithContext(ctx).Where("version_id = ? AND kind = ?", id, string(kind)).First(&m).Error; err != nil {
		return domain.Document{}, notFound(err, "%s version %s", kind, id)
	}
	return versionToDomain(m), nil
}

// LatestVersion returns the last persisted version of uuid, or the last one
// persisted at or before *before. Sequence order is persist order.
func (r *CurationRepository) LatestVersion(ctx context.Context, kind domain.Kind, uuid string, before *time.Time) (domain.Document, error) {
	q := r.db.WithContext(ctx).Where("uuid = ? AND kind = ?", uuid, string(kind))
	if before != nil {
		q = q.Where("persist_date <= ?", before.UTC())
	}
	var m VersionModel
	if err := q.Order("seq DESC").Take(&m).Error; err != nil {
		return domain.Document{}, notFound(err, "persisted %s %s", kind, uuid)
	}
	return versionToDomain(m), nil
}

func (r *CurationRepository) HasVersions(ctx context.Context, kind domain.Kind, uuid string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&VersionModel{}).Where("uuid = ? AND kind = ?", uuid, string(kind)).Count(&count).Error
	return count > 0, err
}

func (r *CurationRepository) CreatePublication(ctx context.Context, value domain.Publication) error {
	m := PublicationModel{
		UUID:        value.UUID,
		Name:        value.Name,
		VersionID:   value.VersionID,
		DatasetUUID: value.DatasetUUID,
		PublishedAt: value.PublishedAt.UTC(),
	}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *CurationRepository) GetPublication(ctx context.Context, uuid, name string) (domain.Publication, error) {
	var m PublicationModel
	if err := r.db.WithContext(ctx).Where("uuid = ? AND name = ?", uuid, name).First(&m).Error; err != nil {
		return domain.Publication{}, notFound(err, "publication %q of %s", name, uuid)
	}
	return domain.Publication{
		UUID:        m.UUID,
		Name:        m.Name,
		VersionID:   m.VersionID,
		DatasetUUID: m.DatasetUUID,
		PublishedAt: m.PublishedAt.UTC(),
	}, nil
}

func (r *CurationRepository) DatasetHasPublication(ctx context.Context, datasetUUID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&PublicationModel{}).Where("dataset_uuid = ?", datasetUUID).Count(&count).Error
	return count > 0, err
}

func (r *CurationRepository) ListGroup(ctx context.Context, groupUUID string) ([]domain.GroupMember, error) {
	type row struct {
		Kind string
		UUID string
	}
	drafts := make([]row, 0)
	if err := r.db.WithContext(ctx).Model(&DraftModel{}).
		Distinct("kind", "uuid").
		Where("group_uuid = ?", groupUUID).
		Scan(&drafts).Error; err != nil {
		return nil, err
	}
	versions := make([]row, 0)
	if err := r.db.WithContext(ctx).Model(&VersionModel{}).
		Distinct("kind", "uuid").
		Where("group_uuid = ?", groupUUID).
		Scan(&versions).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(drafts)+len(versions))
	result := make([]domain.GroupMember, 0, len(drafts)+len(versions))
	for _, m := range append(drafts, versions...) {
		if _, ok := seen[m.UUID]; ok {
			continue
		}
		seen[m.UUID] = struct{}{}
		result = append(result, domain.GroupMember{Kind: domain.Kind(m.Kind), UUID: m.UUID})
	}
	return result, nil
}

func (r *CurationRepository) GetLedger(ctx context.Context, uuid string) (domain.Ledger, error) {
	var m LedgerModel
	if err := r.db.WithContext(ctx).Where("uuid = ?", uuid).First(&m).Error; err != nil {
		return domain.Ledger{}, notFound(err, "permissions of %s", uuid)
	}
	return ledgerToDomain(m), nil
}

func (r *CurationRepository) SaveLedger(ctx context.Context, value domain.Ledger) error {
	m := LedgerModel{
		UUID:      value.UUID,
		Kind:      string(value.Kind),
		AdminList: datatypes.JSONSlice[string](nonNil(value.Admin)),
		EditList:  datatypes.JSONSlice[string](nonNil(value.Edit)),
		ViewList:  datatypes.JSONSlice[string](nonNil(value.View)),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "uuid"}}, UpdateAll: true}).
		Create(&m).Error
}

func (r *CurationRepository) DeleteLedger(ctx context.Context, uuid string) error {
	return r.db.WithContext(ctx).Where("uuid = ?", uuid).Delete(&LedgerModel{}).Error
}

func (r *CurationRepository) GetImportKey(ctx context.Context, kind domain.Kind, externalID string) (string, error) {
	var m ImportKeyModel
	if err := r.db.WithContext(ctx).Where("kind = ? AND external_id = ?", string(kind), externalID).First(&m).Error; err != nil {
		return "", notFound(err, "import key %s/%s", kind, externalID)
	}
	return m.UUID, nil
}

func (r *CurationRepository) SaveImportKey(ctx context.Context, kind domain.Kind, externalID, uuid string) error {
	m := ImportKeyModel{Kind: string(kind), ExternalID: externalID, UUID: uuid}
	return r.db.WithContext(ctx).
		Where("kind = ? AND external_id = ?", string(kind), externalID).
		Assign(map[string]any{"uuid": uuid}).
		FirstOrCreate(&m).Error
}

func (r *CurationRepository) CreateAuditLog(ctx context.Context, value domain.AuditLog) error {
	m := AuditLogModel{Actor: value.Actor, Action: value.Action, TargetKind: value.TargetKind, TargetUUID: value.TargetUUID, Metadata: value.Metadata}
	return r.db.WithContext(ctx).Create(&m).Error
}

func (r *CurationRepository) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	rows := make([]AuditLogModel, 0)
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]domain.AuditLog, 0, len(rows))
	for _, m := range rows {
		result = append(result, domain.AuditLog{
			ID:         m.ID,
			Actor:      m.Actor,
			Action:     m.Action,
			TargetKind: m.TargetKind,
			TargetUUID: m.TargetUUID,
			Metadata:   m.Metadata,
			CreatedAt:  m.CreatedAt,
		})
	}
	return result, nil
}

func (r *CurationRepository) CreateUser(ctx context.Context, value domain.User) (domain.User, error) {
	m := UserModel{Email: strings.ToLower(strings.TrimSpace(value.Email)), PasswordHash: value.PasswordHash, SuperUser: value.SuperUser}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.User{}, err
	}
	return userToDomain(m), nil
}

func (r *CurationRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error
	return count, err
}

func (r *CurationRepository) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&m).Error; err != nil {
		return domain.User{}, notFound(err, "user %s", email)
	}
	return userToDomain(m), nil
}

func (r *CurationRepository) GetUserByID(ctx context.Context, id uint) (domain.User, error) {
	var m UserModel
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return domain.User{}, notFound(err, "user %d", id)
	}
	return userToDomain(m), nil
}

func (r *CurationRepository) CreateAPIToken(ctx context.Context, value domain.APIToken) (domain.APIToken, error) {
	m := APITokenModel{UserID: value.UserID, Name: value.Name, TokenHash: value.TokenHash, ExpiresAt: value.ExpiresAt}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return domain.APIToken{}, err
	}
	return domain.APIToken{ID: m.ID, UserID: m.UserID, Name: m.Name, TokenHash: m.TokenHash, ExpiresAt: m.ExpiresAt, CreatedAt: m.CreatedAt}, nil
}

func (r *CurationRepository) GetAPITokenByTokenHash(ctx context.Context, tokenHash string) (domain.APIToken, error) {
	var m APITokenModel
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&m).Error; err != nil {
		return domain.APIToken{}, notFound(err, "api token")
	}
	return domain.APIToken{ID: m.ID, UserID: m.UserID, Name: m.Name, TokenHash: m.TokenHash, ExpiresAt: m.ExpiresAt, CreatedAt: m.CreatedAt}, nil
}

func userToDomain(m UserModel) domain.User {
	return domain.User{ID: m.ID, Email: m.Email, PasswordHash: m.PasswordHash, SuperUser: m.SuperUser, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

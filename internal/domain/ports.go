package domain

import (
	"context"
	"time"
)

// NodeStore is the versioned document storage the engine runs against. Lookups
// of absent rows return an error wrapping ErrNotFound.
type NodeStore interface {
	GetDraft(ctx context.Context, kind Kind, uuid string) (Document, error)
	UpsertDraft(ctx context.Context, doc Document) error
	DeleteDraft(ctx context.Context, kind Kind, uuid string) error
	DraftExists(ctx context.Context, kind Kind, uuid string) (bool, error)

	CreateVersion(ctx context.Context, doc Document) error
	GetVersion(ctx context.Context, kind Kind, id string) (Document, error)
	// LatestVersion returns the newest snapshot, or the newest one persisted
	// at or before `before` when it is non-nil.
	LatestVersion(ctx context.Context, kind Kind, uuid string, before *time.Time) (Document, error)
	HasVersions(ctx context.Context, kind Kind, uuid string) (bool, error)

	CreatePublication(ctx context.Context, value Publication) error
	GetPublication(ctx context.Context, uuid, name string) (Publication, error)
	DatasetHasPublication(ctx context.Context, datasetUUID string) (bool, error)

	ListGroup(ctx context.Context, groupUUID string) ([]GroupMember, error)

	GetLedger(ctx context.Context, uuid string) (Ledger, error)
	SaveLedger(ctx context.Context, value Ledger) error
	DeleteLedger(ctx context.Context, uuid string) error

	GetImportKey(ctx context.Context, kind Kind, externalID string) (string, error)
	SaveImportKey(ctx context.Context, kind Kind, externalID, uuid string) error

	CreateAuditLog(ctx context.Context, value AuditLog) error
}

// CurationRepository adds the transaction boundary and actor bookkeeping.
// Every multi-document write runs inside WithinTx so a failure rolls the whole
// cascade back.
type CurationRepository interface {
	NodeStore
	WithinTx(ctx context.Context, fn func(store NodeStore) error) error

	CreateUser(ctx context.Context, value User) (User, error)
	CountUsers(ctx context.Context) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id uint) (User, error)
	CreateAPIToken(ctx context.Context, value APIToken) (APIToken, error)
	GetAPITokenByTokenHash(ctx context.Context, tokenHash string) (APIToken, error)
	ListAuditLogs(ctx context.Context, limit int) ([]AuditLog, error)
}

package history

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&Record{})
}

func (r *Repo) Create(ctx context.Context, rec *Record) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// CreateIfAbsent inserts rec unless a record with the same ID exists.
// Redelivered queue messages land here.
func (r *Repo) CreateIfAbsent(ctx context.Context, rec *Record) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Save implements Sink with a direct insert.
func (r *Repo) Save(ctx context.Context, rec *Record) error {
	return r.Create(ctx, rec)
}

type ListParams struct {
	Limit     int
	Offset    int
	QueryType QueryType
}

// List returns records in DESC created_at order (newest -> oldest).
func (r *Repo) List(ctx context.Context, userID uint64, p ListParams) ([]Record, error) {
	if p.Limit <= 0 {
		p.Limit = 10
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}

	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(p.Limit).
		Offset(p.Offset)
	if p.QueryType != "" {
		q = q.Where("query_type = ?", p.QueryType)
	}

	var recs []Record
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ErrNotFound is returned by Get when no record with that ID belongs to the user.
var ErrNotFound = errors.New("history record not found")

func (r *Repo) Get(ctx context.Context, userID uint64, id string) (*Record, error) {
	var rec Record
	err := r.db.WithContext(ctx).First(&rec, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// pkg/store/postgres.go
package store

import (
	"context"
	"errors"
	"time"

	cerr "github.com/cockroachdb/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to Postgres, verifies connectivity and migrates the schema.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, cerr.Wrap(err, "opening database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, cerr.Wrap(err, "resolving database handle")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, cerr.WithHint(cerr.Wrap(err, "database unreachable"), "check database.dsn")
	}

	if err := AutoMigrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// AutoMigrate wraps GORM's automigrate for every model.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Node{}, &SharedStorageTarget{}, &BuildArtifact{}, &FuzzingTask{}); err != nil {
		return cerr.Wrap(err, "migrating schema")
	}
	return nil
}

// NewPostgresRecords returns repositories backed by db.
func NewPostgresRecords(db *gorm.DB) *Records {
	return &Records{
		Nodes:   &GormRepository[Node]{db: db, kind: KindNode},
		Tasks:   &GormRepository[FuzzingTask]{db: db, kind: KindTask},
		Builds:  &GormRepository[BuildArtifact]{db: db, kind: KindBuild},
		Storage: &GormRepository[SharedStorageTarget]{db: db, kind: KindStorage},
	}
}

// GormRepository implements Repository on top of GORM.
type GormRepository[T any] struct {
	db   *gorm.DB
	kind string
}

func (r *GormRepository[T]) Get(ctx context.Context, id uint) (*T, error) {
	var rec T
	err := r.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(r.kind, id)
	}
	if err != nil {
		return nil, cerr.Wrapf(err, "loading %s %d", r.kind, id)
	}
	return &rec, nil
}

func (r *GormRepository[T]) List(ctx context.Context) ([]T, error) {
	var recs []T
	if err := r.db.WithContext(ctx).Order("id").Find(&recs).Error; err != nil {
		return nil, cerr.Wrapf(err, "listing %ss", r.kind)
	}
	return recs, nil
}

func (r *GormRepository[T]) Add(ctx context.Context, rec *T) error {
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return cerr.Wrapf(err, "adding %s", r.kind)
	}
	return nil
}

func (r *GormRepository[T]) Remove(ctx context.Context, rec *T) error {
	res := r.db.WithContext(ctx).Delete(rec)
	if res.Error != nil {
		return cerr.Wrapf(res.Error, "removing %s", r.kind)
	}
	if res.RowsAffected == 0 {
		return notFound(r.kind, idOf(rec))
	}
	return nil
}

// Save writes every column of rec in a single UPDATE.
func (r *GormRepository[T]) Save(ctx context.Context, rec *T) error {
	res := r.db.WithContext(ctx).Model(rec).Select("*").Updates(rec)
	if res.Error != nil {
		return cerr.Wrapf(res.Error, "saving %s", r.kind)
	}
	if res.RowsAffected == 0 {
		return notFound(r.kind, idOf(rec))
	}
	return nil
}

func idOf(rec any) uint {
	if r, ok := rec.(Record); ok {
		return r.GetID()
	}
	return 0
}

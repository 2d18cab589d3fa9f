package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/instagram-relay-bot/internal/domain"
)

// SQLiteUserStore keeps the registry in the users table.
type SQLiteUserStore struct {
	DB *gorm.DB
}

// NewSQLiteUserStore wraps db. Call AutoMigrate first.
func NewSQLiteUserStore(db *gorm.DB) *SQLiteUserStore {
	return &SQLiteUserStore{DB: db}
}

// Load returns all users ordered by id.
func (s *SQLiteUserStore) Load(ctx context.Context) ([]domain.User, error) {
	var users []domain.User
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// saveBatchSize keeps each INSERT well under SQLite's bound-variable limit
// (three columns per row).
const saveBatchSize = 500

// Save replaces the stored set with users in one transaction. The table is
// cleared and refilled in batches so no statement binds one variable per
// user.
func (s *SQLiteUserStore) Save(ctx context.Context, users []domain.User) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.User{}).Error; err != nil {
			return err
		}
		if len(users) == 0 {
			return nil
		}
		return tx.CreateInBatches(users, saveBatchSize).Error
	})
}

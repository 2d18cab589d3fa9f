// Package domain defines the core models shared by the relay pipeline, the
// user registry, and the persistence layer. User is mapped with GORM for the
// SQLite-backed store; the remaining types are ephemeral and never persisted.
package domain

import "time"

// User is a single chat participant known to the bot.
//
// Fields:
//   - ID: Telegram user id; immutable primary key.
//   - Username: optional @handle captured on first contact ("" if unknown).
//   - JoinedAt: time of first contact (zero when restored from a plain id list).
type User struct {
	ID       int64     `json:"id"        gorm:"primaryKey;autoIncrement:false"`
	Username string    `json:"username"  gorm:"type:varchar(64);not null;default:''"`
	JoinedAt time.Time `json:"joined_at" gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// DisplayHandle renders the username the way admin listings show it.
func (u User) DisplayHandle() string {
	if u.Username == "" {
		return "N/A"
	}
	return "@" + u.Username
}

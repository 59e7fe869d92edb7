package model

import "time"

type User struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	IsAdmin      bool      `db:"is_admin"`
	CreatedAt    time.Time `db:"created_at"`
}

type DeadLetter struct {
	ID        int64     `db:"id"`
	Queue     string    `db:"queue"`
	MessageID string    `db:"message_id"`
	Payload   []byte    `db:"payload"`
	Reason    string    `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

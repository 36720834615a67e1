package models

import "time"

const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// User is owned by the persistent store. The client core only ever reads
// identity and role; it never mutates a user directly.
type User struct {
	ID           int64     `db:"id"            json:"id"`
	Email        string    `db:"email"         json:"email"`
	Name         string    `db:"name"          json:"name"`
	Role         string    `db:"role"          json:"role"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at"    json:"created_at"`
}

// Package models defines persistence-level records for the server.
package models

import "time"

// User is the identity record. It is created at registration and never
// deleted by the session subsystem; profile editing is handled elsewhere.
type User struct {
	ID           int64
	PublicID     string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

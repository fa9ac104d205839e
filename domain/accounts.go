package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account is a local video owner, published as a Person actor.
type Account struct {
	Id          uuid.UUID
	Username    string
	DisplayName string
	Summary     string
	CreatedAt   time.Time
}

// Channel groups videos and is published as a Group actor.
type Channel struct {
	Id          uuid.UUID
	Slug        string
	Title       string
	Description string
	Owner       string
	CreatedAt   time.Time
}

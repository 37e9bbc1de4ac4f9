package domain

import (
	"time"

	"github.com/google/uuid"
)

// Follow is a follow edge keyed by (followingId, followerId). A nil
// Approved timestamp means the request is still pending.
type Follow struct {
	Iri         string
	FollowingId uuid.UUID
	FollowerId  uuid.UUID
	Shares      bool
	Notify      bool
	Languages   []string
	CreatedAt   time.Time
	Approved    *time.Time
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// ListRepliesPolicy controls which replies show up in a list timeline.
type ListRepliesPolicy string

const (
	RepliesPolicyList     ListRepliesPolicy = "list"
	RepliesPolicyFollowed ListRepliesPolicy = "followed"
	RepliesPolicyNone     ListRepliesPolicy = "none"
)

// List is a local curation grouping of followed accounts, owned by one
// AccountOwner.
type List struct {
	Id            uuid.UUID
	OwnerId       uuid.UUID
	Title         string
	RepliesPolicy ListRepliesPolicy
	Exclusive     bool
	CreatedAt     time.Time
}

// ListMember links a followed account into a list.
type ListMember struct {
	ListId    uuid.UUID
	AccountId uuid.UUID
	CreatedAt time.Time
}

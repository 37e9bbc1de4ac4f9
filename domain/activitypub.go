package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityRecord logs a received or sent activity, used for deduplication
// under redelivery.
type ActivityRecord struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool // true if originated from this server
}

// DeliveryQueueItem is a pending outbound delivery to a single inbox.
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActivityJSON string
	SignAs       string // bare handle of the local account signing the request
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// TimelinePost is a per-account delivery index entry written by the
// timeline fanout.
type TimelinePost struct {
	AccountId uuid.UUID
	PostId    uuid.UUID
	CreatedAt time.Time
}

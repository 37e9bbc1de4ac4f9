package activitypub

import (
	"context"

	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/util"
	"github.com/google/uuid"
)

// Sender hands a finished activity document to the delivery layer. The
// production implementation enqueues into the persistent delivery queue;
// tests substitute an in-memory capture.
type Sender interface {
	Send(ctx context.Context, inboxURI string, activityJSON []byte, signAs string) error
}

// Fanout places a freshly persisted post onto the home timelines of local
// accounts that should see it.
type Fanout interface {
	FanoutPost(ctx context.Context, postId uuid.UUID) error
}

// Handler owns the federation logic: it turns inbound activities into store
// mutations and local mutations into outbound activities.
type Handler struct {
	DB      *db.DB
	Conf    *util.AppConfig
	Fetcher Fetcher
	Sender  Sender
	Fanout  Fanout
}

// NewHandler wires the default production collaborators: an HTTP fetcher, a
// queue-backed sender and a database-backed timeline fanout.
func NewHandler(database *db.DB, conf *util.AppConfig) *Handler {
	h := &Handler{
		DB:      database,
		Conf:    conf,
		Fetcher: NewHTTPFetcher(),
	}
	h.Sender = &QueueSender{DB: database}
	h.Fanout = &TimelineFanout{DB: database}
	return h
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Visibility is the access scope of a post.
type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

// PostType is the ActivityStreams object type of a post.
type PostType string

const (
	PostArticle PostType = "Article"
	PostNote    PostType = "Note"
)

// Post is a content unit. Reply/sharing/quote links form a reference graph
// over the same table; a post with a non-nil SharingId and empty content is
// a pure reblog.
type Post struct {
	Id             uuid.UUID
	Iri            string
	Type           PostType
	AccountId      uuid.UUID
	ReplyTargetId  *uuid.UUID
	SharingId      *uuid.UUID
	QuoteTargetId  *uuid.UUID
	Visibility     Visibility
	Summary        string
	ContentHtml    string
	Content        string
	Language       string
	Sensitive      bool
	Url            string
	RepliesCount   int64
	SharesCount    int64
	LikesCount     int64
	IdempotenceKey string
	Published      *time.Time
	Updated        time.Time
}

// Medium is a media attachment owned by exactly one post.
type Medium struct {
	Id              uuid.UUID
	PostId          uuid.UUID
	Type            string // MIME type
	Url             string
	Width           int
	Height          int
	Description     string
	ThumbnailType   string
	ThumbnailUrl    string
	ThumbnailWidth  int
	ThumbnailHeight int
	CreatedAt       time.Time
}

// Mention links a post to a mentioned account.
type Mention struct {
	PostId    uuid.UUID
	AccountId uuid.UUID
}

// Like is a favourite edge, unique per (post, account) pair.
type Like struct {
	PostId    uuid.UUID
	AccountId uuid.UUID
	CreatedAt time.Time
}

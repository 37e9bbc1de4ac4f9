package db

import (
	"database/sql"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

// MentionedAccount pairs a mention edge with the mentioned account row.
type MentionedAccount struct {
	Mention domain.Mention
	Account domain.Account
}

// PostGraph is the fully-loaded projection of one post used for building
// outbound activity documents. Each relation is loaded exactly one hop deep
// by explicit queries, never by recursive nesting.
type PostGraph struct {
	Post           domain.Post
	Account        domain.Account
	Owner          *domain.AccountOwner
	ReplyTarget    *domain.Post
	QuoteTarget    *domain.Post
	Sharing        *domain.Post
	SharingAccount *domain.Account
	Media          []domain.Medium
	Mentions       []MentionedAccount
	Replies        []domain.Post
}

// LoadPostGraph loads a post with its author, owner extension, one-hop
// reply/quote/sharing targets, media, mentions and direct replies.
func (db *DB) LoadPostGraph(id uuid.UUID) (error, *PostGraph) {
	err, post := db.ReadPostById(id)
	if err != nil {
		return err, nil
	}
	return db.loadGraphFor(post)
}

// LoadPostGraphByIri is LoadPostGraph keyed by the post's iri.
func (db *DB) LoadPostGraphByIri(iri string) (error, *PostGraph) {
	err, post := db.ReadPostByIri(iri)
	if err != nil {
		return err, nil
	}
	return db.loadGraphFor(post)
}

func (db *DB) loadGraphFor(post *domain.Post) (error, *PostGraph) {
	graph := &PostGraph{Post: *post}

	err, account := db.ReadAccountById(post.AccountId)
	if err != nil {
		return err, nil
	}
	graph.Account = *account

	if err, owner := db.ReadOwnerById(post.AccountId); err == nil {
		graph.Owner = owner
	}

	if post.ReplyTargetId != nil {
		if err, target := db.ReadPostById(*post.ReplyTargetId); err == nil {
			graph.ReplyTarget = target
		}
	}
	if post.QuoteTargetId != nil {
		if err, target := db.ReadPostById(*post.QuoteTargetId); err == nil {
			graph.QuoteTarget = target
		}
	}
	if post.SharingId != nil {
		if err, target := db.ReadPostById(*post.SharingId); err == nil {
			graph.Sharing = target
			if err, acc := db.ReadAccountById(target.AccountId); err == nil {
				graph.SharingAccount = acc
			}
		}
	}

	if err, media := db.ReadMediaByPost(post.Id); err == nil {
		graph.Media = media
	}

	err, mentions := db.ReadMentionsByPost(post.Id)
	if err != nil && err != sql.ErrNoRows {
		return err, nil
	}
	for _, m := range mentions {
		err, acc := db.ReadAccountById(m.AccountId)
		if err != nil {
			continue
		}
		graph.Mentions = append(graph.Mentions, MentionedAccount{Mention: m, Account: *acc})
	}

	if err, replies := db.ReadRepliesOfPost(post.Id); err == nil {
		graph.Replies = replies
	}

	return nil, graph
}

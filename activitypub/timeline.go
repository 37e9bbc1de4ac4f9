package activitypub

import (
	"context"
	"database/sql"

	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

// TimelineFanout is the default Fanout: it writes home-timeline rows for
// every local account that should see the post. Delivery is idempotent, so
// a redelivered activity fans out to the same rows.
type TimelineFanout struct {
	DB *db.DB
}

func (f *TimelineFanout) FanoutPost(ctx context.Context, postId uuid.UUID) error {
	err, post := f.DB.ReadPostById(postId)
	if err == sql.ErrNoRows || post == nil {
		return nil
	}
	if err != nil {
		return err
	}

	targets := map[uuid.UUID]bool{}

	if f.DB.HasOwner(post.AccountId) {
		targets[post.AccountId] = true
	}

	err, mentions := f.DB.ReadMentionsByPost(post.Id)
	if err == nil {
		for _, m := range mentions {
			if f.DB.HasOwner(m.AccountId) {
				targets[m.AccountId] = true
			}
		}
	}

	// Direct posts reach only the author and mentioned locals.
	if post.Visibility != domain.VisibilityDirect {
		err, followers := f.DB.ReadApprovedFollowersOf(post.AccountId)
		if err != nil {
			return err
		}
		err, authorLists := f.DB.ReadListsContaining(post.AccountId)
		if err != nil {
			authorLists = nil
		}
		listsWithAuthor := map[uuid.UUID]bool{}
		for _, id := range authorLists {
			listsWithAuthor[id] = true
		}

		for _, edge := range followers {
			if !f.DB.HasOwner(edge.FollowerId) {
				continue
			}
			// Follower opted out of reblogs from this account.
			if post.SharingId != nil && !edge.Shares {
				continue
			}
			if f.suppressedByExclusiveList(edge.FollowerId, listsWithAuthor) {
				continue
			}
			targets[edge.FollowerId] = true
		}
	}

	for accountId := range targets {
		if err := f.DB.AppendTimelinePost(accountId, post.Id); err != nil {
			return err
		}
	}
	return nil
}

// suppressedByExclusiveList reports whether the follower keeps the author
// in an exclusive list, which removes the author's posts from the home
// timeline in favor of the list.
func (f *TimelineFanout) suppressedByExclusiveList(followerId uuid.UUID, listsWithAuthor map[uuid.UUID]bool) bool {
	if len(listsWithAuthor) == 0 {
		return false
	}
	err, lists := f.DB.ReadListsByOwner(followerId)
	if err != nil {
		return false
	}
	for _, l := range lists {
		if l.Exclusive && listsWithAuthor[l.Id] {
			return true
		}
	}
	return false
}

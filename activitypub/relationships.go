package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/3o14-com/backend/domain"
)

// onFollowed handles an inbound follow request aimed at a local account.
// The edge starts pending; unprotected targets approve immediately and send
// an Accept back to the follower's inbox.
func (h *Handler) onFollowed(ctx context.Context, act *Activity, raw []byte) error {
	objectIri := act.ObjectIRI()
	if objectIri == "" {
		return nil
	}
	err, target := h.DB.ReadAccountByIri(objectIri)
	if err == sql.ErrNoRows || target == nil {
		log.Printf("Inbox: Dropping Follow for unknown account %s", objectIri)
		return nil
	}
	if err != nil {
		return err
	}
	if !h.DB.HasOwner(target.Id) {
		log.Printf("Inbox: Dropping Follow for non-local account %s", objectIri)
		return nil
	}

	err, follower := h.lookupAccount(ctx, act.Actor.String())
	if err != nil {
		return err
	}
	if follower.Id == target.Id {
		return nil
	}

	follow := &domain.Follow{
		Iri:         act.ID,
		FollowingId: target.Id,
		FollowerId:  follower.Id,
		Shares:      true,
	}
	if err := h.DB.CreateFollow(follow); err != nil {
		return err
	}

	if !target.Protected {
		// Approved by pair: a duplicate request under a fresh iri still
		// approves the existing edge.
		if err, _ := h.DB.ApproveFollowByPair(target.Id, follower.Id); err != nil {
			return err
		}
		if err := h.sendAccept(ctx, target, follower, raw); err != nil {
			log.Printf("Inbox: Could not queue Accept for %s: %v", follower.Handle, err)
		}
	}

	h.DB.UpdateAccountStats(target.Id)
	h.DB.UpdateAccountStats(follower.Id)
	log.Printf("Inbox: %s followed %s", follower.Handle, target.Handle)
	return nil
}

func (h *Handler) sendAccept(ctx context.Context, target, follower *domain.Account, followRaw []byte) error {
	err, owner := h.DB.ReadOwnerById(target.Id)
	if err != nil {
		return err
	}
	accept := &Activity{
		Context: asContext(),
		ID:      fmt.Sprintf("%s#accepts/%s", h.actorURI(owner.Handle), newId()),
		Type:    "Accept",
		Actor:   IRI(h.actorURI(owner.Handle)),
		To:      StringList{follower.Iri},
		Object:  json.RawMessage(followRaw),
	}
	body, err := json.Marshal(accept)
	if err != nil {
		return err
	}
	return h.Sender.Send(ctx, follower.InboxUrl, body, owner.Handle)
}

// onFollowAccepted approves the pending edge named by an inbound Accept.
// Matching is by the follow activity's iri first; servers that echo back a
// reconstructed Follow object fall back to the (following, follower) pair.
func (h *Handler) onFollowAccepted(ctx context.Context, act *Activity) error {
	err, following := h.lookupAccount(ctx, act.Actor.String())
	if err != nil {
		return err
	}

	var follow *domain.Follow
	if iri := act.ObjectIRI(); iri != "" {
		if err, follow = h.DB.ApproveFollowByIri(iri, following.Id); err != nil {
			return err
		}
	}
	if follow == nil {
		follow = h.approveByEmbeddedPair(act, following)
	}
	if follow == nil {
		log.Printf("Inbox: Accept from %s matched no pending follow", act.Actor)
		return nil
	}

	h.DB.UpdateAccountStats(follow.FollowingId)
	h.DB.UpdateAccountStats(follow.FollowerId)
	return nil
}

func (h *Handler) approveByEmbeddedPair(act *Activity, following *domain.Account) *domain.Follow {
	wrapped := act.EmbeddedActivity()
	if wrapped == nil || wrapped.Type != "Follow" || wrapped.Actor == "" {
		return nil
	}
	err, follower := h.DB.ReadAccountByIri(wrapped.Actor.String())
	if err != nil || follower == nil {
		return nil
	}
	err, follow := h.DB.ApproveFollowByPair(following.Id, follower.Id)
	if err != nil {
		return nil
	}
	return follow
}

// onFollowRejected removes the pending edge named by an inbound Reject so
// the request can be retried later.
func (h *Handler) onFollowRejected(ctx context.Context, act *Activity) error {
	err, following := h.DB.ReadAccountByIri(act.Actor.String())
	if err == sql.ErrNoRows || following == nil {
		return nil
	}
	if err != nil {
		return err
	}

	var follow *domain.Follow
	if iri := act.ObjectIRI(); iri != "" {
		if err, follow = h.DB.DeleteFollowByIriAndFollowing(iri, following.Id); err != nil {
			return err
		}
	}
	if follow == nil {
		wrapped := act.EmbeddedActivity()
		if wrapped == nil || wrapped.Type != "Follow" || wrapped.Actor == "" {
			return nil
		}
		err, follower := h.DB.ReadAccountByIri(wrapped.Actor.String())
		if err != nil || follower == nil {
			return nil
		}
		err, follow = h.DB.ReadFollow(following.Id, follower.Id)
		if err != nil || follow == nil {
			return nil
		}
		if err := h.DB.DeleteFollowByPair(following.Id, follower.Id); err != nil {
			return err
		}
	}

	h.DB.UpdateAccountStats(follow.FollowingId)
	h.DB.UpdateAccountStats(follow.FollowerId)
	log.Printf("Inbox: Follow %s rejected by %s", follow.Iri, act.Actor)
	return nil
}

// onUnfollowed removes the edge named by an undone Follow. The edge must
// belong to the Undo's actor.
func (h *Handler) onUnfollowed(ctx context.Context, act *Activity, wrapped *Activity) error {
	err, follower := h.DB.ReadAccountByIri(act.Actor.String())
	if err == sql.ErrNoRows || follower == nil {
		return nil
	}
	if err != nil {
		return err
	}

	var follow *domain.Follow
	if wrapped.ID != "" {
		if err, follow = h.DB.DeleteFollowByIriAndFollower(wrapped.ID, follower.Id); err != nil {
			return err
		}
	}
	if follow == nil {
		if iri := wrapped.ObjectIRI(); iri != "" {
			err, following := h.DB.ReadAccountByIri(iri)
			if err != nil || following == nil {
				return nil
			}
			err, follow = h.DB.ReadFollow(following.Id, follower.Id)
			if err != nil || follow == nil {
				return nil
			}
			if err := h.DB.DeleteFollowByPair(following.Id, follower.Id); err != nil {
				return err
			}
		}
	}
	if follow == nil {
		return nil
	}

	h.DB.UpdateAccountStats(follow.FollowingId)
	h.DB.UpdateAccountStats(follow.FollowerId)
	return nil
}

// onAccountMoved handles an account migration. The move is only honored
// when the freshly fetched target account lists the source among its
// aliases. Local followers of the source are re-pointed at the target: the
// new edge approves immediately when the target is an unprotected local
// account, otherwise a Follow is sent on the follower's behalf.
func (h *Handler) onAccountMoved(ctx context.Context, act *Activity) error {
	sourceIri := act.Actor.String()
	if objectIri := act.ObjectIRI(); objectIri != "" && objectIri != sourceIri {
		log.Printf("Inbox: Dropping Move with mismatched actor %s and object %s", sourceIri, objectIri)
		return nil
	}
	targetIri := act.TargetIRI()
	if targetIri == "" {
		return nil
	}

	err, source := h.DB.ReadAccountByIri(sourceIri)
	if err == sql.ErrNoRows || source == nil {
		return nil
	}
	if err != nil {
		return err
	}

	// Always re-fetch the target; the alias proof must come from the
	// authoritative document, not a stale row.
	err, target := h.PersistAccountByIri(ctx, targetIri)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}

	aliased := false
	for _, alias := range target.Aliases {
		if alias == sourceIri {
			aliased = true
			break
		}
	}
	if !aliased {
		log.Printf("Inbox: Dropping Move: %s does not list %s as alias", targetIri, sourceIri)
		return nil
	}

	source.SuccessorId = &target.Id
	source.Updated = time.Now()
	if err := h.DB.UpsertAccount(source); err != nil {
		return err
	}

	targetLocal := h.DB.HasOwner(target.Id)

	err, followers := h.DB.ReadFollowersOf(source.Id)
	if err != nil {
		return err
	}
	for _, edge := range followers {
		if edge.FollowerId == target.Id {
			continue
		}
		err, followerOwner := h.DB.ReadOwnerById(edge.FollowerId)
		if err != nil || followerOwner == nil {
			// Remote followers re-follow on their own; only local accounts
			// can be migrated from here.
			continue
		}

		newFollow := &domain.Follow{
			Iri:         fmt.Sprintf("%s#follows/%s", h.actorURI(followerOwner.Handle), newId()),
			FollowingId: target.Id,
			FollowerId:  edge.FollowerId,
			Shares:      edge.Shares,
			Notify:      edge.Notify,
			Languages:   edge.Languages,
		}
		if targetLocal && !target.Protected {
			now := time.Now()
			newFollow.Approved = &now
		}
		if err := h.DB.CreateFollow(newFollow); err != nil {
			log.Printf("Inbox: Could not migrate follower %s to %s: %v", followerOwner.Handle, target.Handle, err)
			continue
		}
		if !targetLocal {
			if err := h.sendFollow(ctx, followerOwner, target, newFollow.Iri); err != nil {
				log.Printf("Inbox: Could not queue Follow to %s: %v", target.Handle, err)
			}
		}
	}

	h.DB.UpdateAccountStats(source.Id)
	h.DB.UpdateAccountStats(target.Id)
	log.Printf("Inbox: Account %s moved to %s", source.Handle, target.Handle)
	return nil
}

func (h *Handler) sendFollow(ctx context.Context, owner *domain.AccountOwner, target *domain.Account, followIri string) error {
	follow := &Activity{
		Context: asContext(),
		ID:      followIri,
		Type:    "Follow",
		Actor:   IRI(h.actorURI(owner.Handle)),
		To:      StringList{target.Iri},
		Object:  json.RawMessage(fmt.Sprintf("%q", target.Iri)),
	}
	body, err := json.Marshal(follow)
	if err != nil {
		return err
	}
	return h.Sender.Send(ctx, target.InboxUrl, body, owner.Handle)
}

package activitypub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/3o14-com/backend/domain"
)

// HandleActivity processes one inbound activity document. Every activity is
// recorded in the activity log keyed by its id; a redelivered activity that
// was already processed is a no-op, and one that previously failed is
// retried against the same log row.
func (h *Handler) HandleActivity(ctx context.Context, body []byte) error {
	var act Activity
	if err := json.Unmarshal(body, &act); err != nil {
		return fmt.Errorf("decode activity: %w", err)
	}
	if act.ID == "" || act.Type == "" || act.Actor == "" {
		return fmt.Errorf("activity missing id, type or actor")
	}

	err, record := h.DB.ReadActivityByURI(act.ID)
	if err == nil && record != nil && record.Processed {
		log.Printf("Inbox: Skipping already processed activity %s", act.ID)
		return nil
	}
	if record == nil {
		record = &domain.ActivityRecord{
			Id:           newId(),
			ActivityURI:  act.ID,
			ActivityType: act.Type,
			ActorURI:     act.Actor.String(),
			ObjectURI:    act.ObjectIRI(),
			RawJSON:      string(body),
			CreatedAt:    time.Now(),
		}
		if err := h.DB.CreateActivity(record); err != nil {
			return err
		}
	}

	if err := h.dispatch(ctx, &act, body); err != nil {
		return err
	}

	record.Processed = true
	return h.DB.UpdateActivity(record)
}

// dispatch is the closed routing table over supported activity kinds.
// Unknown kinds are logged and dropped without error so broken peers do not
// fill the retry queues of their servers.
func (h *Handler) dispatch(ctx context.Context, act *Activity, body []byte) error {
	switch act.Type {
	case "Follow":
		return h.onFollowed(ctx, act, body)
	case "Accept":
		if wrapped := act.EmbeddedActivity(); wrapped != nil && wrapped.Type != "" && wrapped.Type != "Follow" {
			log.Printf("Inbox: Dropping Accept of %s activity", wrapped.Type)
			return nil
		}
		return h.onFollowAccepted(ctx, act)
	case "Reject":
		if wrapped := act.EmbeddedActivity(); wrapped != nil && wrapped.Type != "" && wrapped.Type != "Follow" {
			log.Printf("Inbox: Dropping Reject of %s activity", wrapped.Type)
			return nil
		}
		return h.onFollowRejected(ctx, act)
	case "Undo":
		return h.onUndone(ctx, act)
	case "Create":
		return h.onPostCreated(ctx, act, body, true)
	case "Update":
		return h.onPostCreated(ctx, act, body, false)
	case "Delete":
		if act.ObjectIRI() == act.Actor.String() {
			return h.onAccountDeleted(ctx, act)
		}
		return h.onPostDeleted(ctx, act)
	case "Announce":
		return h.onAnnounced(ctx, act)
	case "Like":
		return h.onLiked(ctx, act)
	case "Move":
		return h.onAccountMoved(ctx, act)
	default:
		log.Printf("Inbox: Dropping unsupported activity type %s from %s", act.Type, act.Actor)
		return nil
	}
}

// onUndone routes an Undo by its wrapped activity. An embedded wrapped
// activity must name the same actor as the Undo itself; a bare IRI object
// is matched against stored follow edges first, then reblog wrappers.
func (h *Handler) onUndone(ctx context.Context, act *Activity) error {
	if wrapped := act.EmbeddedActivity(); wrapped != nil {
		if wrapped.Actor != "" && wrapped.Actor != act.Actor {
			log.Printf("Inbox: Dropping Undo from %s wrapping activity by %s", act.Actor, wrapped.Actor)
			return nil
		}
		switch wrapped.Type {
		case "Follow":
			return h.onUnfollowed(ctx, act, wrapped)
		case "Like":
			return h.onLikeUndone(ctx, act.Actor.String(), wrapped.ObjectIRI())
		case "Announce":
			return h.onAnnounceUndone(ctx, act.Actor.String(), wrapped.ID)
		default:
			log.Printf("Inbox: Dropping Undo of unsupported type %s", wrapped.Type)
			return nil
		}
	}

	iri := act.ObjectIRI()
	if iri == "" {
		return nil
	}
	if err, follow := h.DB.ReadFollowByIri(iri); err == nil && follow != nil {
		return h.onUnfollowed(ctx, act, &Activity{ID: iri})
	}
	return h.onAnnounceUndone(ctx, act.Actor.String(), iri)
}

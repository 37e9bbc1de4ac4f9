package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/3o14-com/backend/domain"
)

// onPostCreated handles Create and Update. Create skips already-stored
// posts so a redelivered Create can never roll back a later edit; Update
// overwrites. The object's author must match the activity's actor.
func (h *Handler) onPostCreated(ctx context.Context, act *Activity, raw []byte, skipUpdate bool) error {
	obj, err := h.activityObject(ctx, act)
	if err != nil {
		return err
	}
	if obj == nil {
		return nil
	}
	if obj.AttributedTo != "" && obj.AttributedTo != act.Actor {
		log.Printf("Inbox: Dropping %s: object author %s does not match actor %s",
			act.Type, obj.AttributedTo, act.Actor)
		return nil
	}
	if obj.AttributedTo == "" {
		obj.AttributedTo = act.Actor
	}

	err, post := h.PersistPost(ctx, obj, persistOpts{skipUpdate: skipUpdate})
	if err != nil {
		return err
	}
	if post == nil {
		return nil
	}

	h.forwardToFollowers(ctx, post, raw, act.Actor.String())
	return nil
}

// activityObject returns the activity's post object, dereferencing a bare
// IRI reference.
func (h *Handler) activityObject(ctx context.Context, act *Activity) (*Object, error) {
	if len(act.Object) == 0 {
		return nil, nil
	}
	if act.Object[0] == '{' {
		var obj Object
		if err := json.Unmarshal(act.Object, &obj); err != nil {
			return nil, err
		}
		return &obj, nil
	}
	iri := act.ObjectIRI()
	if iri == "" {
		return nil, nil
	}
	return h.fetchObject(ctx, iri)
}

// onPostDeleted removes a stored post named by a Delete activity. The post
// must belong to the activity's actor and must not be locally owned. After
// removal the reply and sharing targets' counters are recomputed.
func (h *Handler) onPostDeleted(ctx context.Context, act *Activity) error {
	iri := act.ObjectIRI()
	if iri == "" {
		return nil
	}

	err, stored := h.DB.ReadPostByIri(iri)
	if err == sql.ErrNoRows || stored == nil {
		return nil
	}
	if err != nil {
		return err
	}
	if h.DB.HasOwner(stored.AccountId) {
		log.Printf("Inbox: Ignoring remote Delete for local post %s", iri)
		return nil
	}
	err, author := h.DB.ReadAccountById(stored.AccountId)
	if err != nil {
		return err
	}
	if author.Iri != act.Actor.String() {
		log.Printf("Inbox: Dropping Delete from %s for post owned by %s", act.Actor, author.Iri)
		return nil
	}

	err, deleted := h.DB.DeletePostByIri(iri)
	if err != nil || deleted == nil {
		return err
	}
	if deleted.ReplyTargetId != nil {
		h.DB.UpdatePostStats(*deleted.ReplyTargetId)
	}
	if deleted.SharingId != nil {
		h.DB.UpdatePostStats(*deleted.SharingId)
	}
	h.DB.UpdateAccountStats(deleted.AccountId)
	log.Printf("Inbox: Deleted post %s", iri)
	return nil
}

// onAnnounced stores a reblog wrapper for an Announce. The wrapper carries
// the announcing account and its own addressing; the original post is
// resolved (and fetched if unknown), and its share counter recomputed.
func (h *Handler) onAnnounced(ctx context.Context, act *Activity) error {
	objectIri := act.ObjectIRI()
	if objectIri == "" {
		return nil
	}
	err, account := h.lookupAccount(ctx, act.Actor.String())
	if err != nil {
		return err
	}
	err, original := h.lookupPost(ctx, objectIri, persistOpts{})
	if err != nil {
		return err
	}
	if original == nil {
		log.Printf("Inbox: Dropping Announce of unresolvable post %s", objectIri)
		return nil
	}

	visibility := DeriveVisibility(act.To, act.CC, account.FollowersUrl)
	// An Announce cannot be direct; unaddressed ones default to followers
	// scope.
	if visibility == domain.VisibilityDirect {
		visibility = domain.VisibilityPrivate
	}
	wrapper := &domain.Post{
		Id:         newId(),
		Iri:        act.ID,
		Type:       original.Type,
		AccountId:  account.Id,
		SharingId:  &original.Id,
		Visibility: visibility,
		Url:        original.Url,
		Published:  parseTime(act.Published),
		Updated:    time.Now(),
	}
	if err := h.DB.InsertSharingPost(wrapper); err != nil {
		return err
	}
	h.DB.UpdatePostStats(original.Id)
	h.DB.UpdateAccountStats(account.Id)

	if h.Fanout != nil {
		if id := h.DB.ReadPostIdByIri(act.ID); id != nil {
			if err := h.Fanout.FanoutPost(ctx, *id); err != nil {
				log.Printf("Inbox: Timeline fanout for announce %s failed: %v", act.ID, err)
			}
		}
	}
	return nil
}

// onAnnounceUndone removes the actor's reblog wrapper named by the undone
// Announce and recomputes the original's share counter.
func (h *Handler) onAnnounceUndone(ctx context.Context, actorIri, announceIri string) error {
	err, wrapper := h.DB.ReadPostByIri(announceIri)
	if err == sql.ErrNoRows || wrapper == nil {
		return nil
	}
	if err != nil {
		return err
	}
	if wrapper.SharingId == nil {
		return nil
	}
	err, account := h.DB.ReadAccountById(wrapper.AccountId)
	if err != nil {
		return err
	}
	if account.Iri != actorIri {
		log.Printf("Inbox: Dropping Undo of announce %s not owned by %s", announceIri, actorIri)
		return nil
	}

	originalId := *wrapper.SharingId
	if err, _ := h.DB.DeletePostByIri(announceIri); err != nil {
		return err
	}
	h.DB.UpdatePostStats(originalId)
	h.DB.UpdateAccountStats(wrapper.AccountId)
	return nil
}

// onLiked records a favourite for a stored post. Likes carrying content are
// emoji reactions and are ignored; likes for unknown posts are dropped
// without fetching.
func (h *Handler) onLiked(ctx context.Context, act *Activity) error {
	if act.Content != "" {
		return nil
	}
	iri := act.ObjectIRI()
	if iri == "" {
		return nil
	}
	err, post := h.DB.ReadPostByIri(iri)
	if err == sql.ErrNoRows || post == nil {
		return nil
	}
	if err != nil {
		return err
	}
	err, account := h.lookupAccount(ctx, act.Actor.String())
	if err != nil {
		return err
	}
	if err := h.DB.CreateLike(&domain.Like{
		PostId:    post.Id,
		AccountId: account.Id,
		CreatedAt: time.Now(),
	}); err != nil {
		return err
	}
	return h.DB.UpdatePostStats(post.Id)
}

// onLikeUndone removes a favourite and recomputes the counter.
func (h *Handler) onLikeUndone(ctx context.Context, actorIri, objectIri string) error {
	err, post := h.DB.ReadPostByIri(objectIri)
	if err == sql.ErrNoRows || post == nil {
		return nil
	}
	if err != nil {
		return err
	}
	err, account := h.DB.ReadAccountByIri(actorIri)
	if err == sql.ErrNoRows || account == nil {
		return nil
	}
	if err != nil {
		return err
	}
	if err := h.DB.DeleteLike(post.Id, account.Id); err != nil {
		return err
	}
	return h.DB.UpdatePostStats(post.Id)
}

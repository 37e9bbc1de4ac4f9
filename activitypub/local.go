package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
	"github.com/3o14-com/backend/util"
	"github.com/google/uuid"
)

// LocalPostInput carries everything a local account supplies when writing
// a post. Zero-value Visibility and Language fall back to the owner's
// defaults.
type LocalPostInput struct {
	Content        string
	Summary        string
	Visibility     domain.Visibility
	Language       string
	Sensitive      bool
	ReplyTargetIri string
	QuoteTargetIri string
	MentionIris    []string
	Media          []domain.Medium
	IdempotenceKey string
}

// CreateLocalPost persists a post for a local account and federates the
// Create to followers and mentioned accounts. A repeated call with the same
// idempotence key returns the already stored post without side effects.
func (h *Handler) CreateLocalPost(ctx context.Context, ownerHandle string, input LocalPostInput) (error, *domain.Post) {
	err, owner := h.DB.ReadOwnerByHandle(ownerHandle)
	if err != nil {
		return fmt.Errorf("resolve local account %s: %w", ownerHandle, err), nil
	}

	if input.IdempotenceKey != "" {
		err, existing := h.DB.ReadPostByIdempotence(owner.Id, input.IdempotenceKey)
		if err == nil && existing != nil {
			return nil, existing
		}
	}

	visibility := input.Visibility
	if visibility == "" {
		visibility = domain.Visibility(owner.Visibility)
	}
	language := input.Language
	if language == "" {
		language = owner.Language
	}

	var replyTarget, quoteTarget *domain.Post
	if input.ReplyTargetIri != "" {
		if err, replyTarget = h.lookupPost(ctx, input.ReplyTargetIri, persistOpts{}); err != nil {
			return fmt.Errorf("resolve reply target: %w", err), nil
		}
	}
	if input.QuoteTargetIri != "" {
		if err, quoteTarget = h.lookupPost(ctx, input.QuoteTargetIri, persistOpts{}); err != nil {
			return fmt.Errorf("resolve quote target: %w", err), nil
		}
	} else {
		// A markdown link to an already known post makes the new post a
		// quote of it; the last such link wins.
		for _, link := range util.ExtractMarkdownLinks(input.Content) {
			if err, linked := h.DB.ReadPostByIri(link); err == nil && linked != nil {
				quoteTarget = linked
			}
		}
	}

	var mentionIds []uuid.UUID
	for _, iri := range input.MentionIris {
		err, acc := h.lookupAccount(ctx, iri)
		if err != nil || acc == nil {
			log.Printf("Outbox: Skipping unresolvable mention %s", iri)
			continue
		}
		mentionIds = append(mentionIds, acc.Id)
	}

	now := time.Now()
	post := &domain.Post{
		Id:             newId(),
		Type:           domain.PostNote,
		AccountId:      owner.Id,
		Visibility:     visibility,
		Summary:        input.Summary,
		Content:        input.Content,
		ContentHtml:    util.MarkdownLinksToHTML(input.Content),
		Language:       language,
		Sensitive:      input.Sensitive,
		IdempotenceKey: input.IdempotenceKey,
		Published:      &now,
		Updated:        now,
	}
	post.Iri = h.objectURI(owner.Handle, post.Id)
	post.Url = post.Iri
	if replyTarget != nil {
		post.ReplyTargetId = &replyTarget.Id
	}
	if quoteTarget != nil {
		post.QuoteTargetId = &quoteTarget.Id
	}

	err, saved := h.DB.UpsertPostGraph(post, mentionIds, input.Media)
	if err != nil {
		return err, nil
	}
	if replyTarget != nil {
		h.DB.UpdatePostStats(replyTarget.Id)
	}
	h.DB.UpdateAccountStats(owner.Id)

	if h.Fanout != nil {
		if err := h.Fanout.FanoutPost(ctx, saved.Id); err != nil {
			log.Printf("Outbox: Timeline fanout for %s failed: %v", saved.Iri, err)
		}
	}

	if err := h.federatePost(ctx, saved.Id, h.ToCreate); err != nil {
		log.Printf("Outbox: Could not federate Create for %s: %v", saved.Iri, err)
	}
	return nil, saved
}

// UpdateLocalPost edits a local post's content and federates the Update.
func (h *Handler) UpdateLocalPost(ctx context.Context, ownerHandle string, postId uuid.UUID, content, summary string) (error, *domain.Post) {
	err, owner := h.DB.ReadOwnerByHandle(ownerHandle)
	if err != nil {
		return err, nil
	}
	err, post := h.DB.ReadPostById(postId)
	if err != nil {
		return err, nil
	}
	if post.AccountId != owner.Id {
		return fmt.Errorf("post %s does not belong to %s", postId, ownerHandle), nil
	}

	err, mentions := h.DB.ReadMentionsByPost(post.Id)
	if err != nil && err != sql.ErrNoRows {
		return err, nil
	}
	var mentionIds []uuid.UUID
	for _, m := range mentions {
		mentionIds = append(mentionIds, m.AccountId)
	}
	err, media := h.DB.ReadMediaByPost(post.Id)
	if err != nil {
		media = nil
	}

	post.Content = content
	post.ContentHtml = util.MarkdownLinksToHTML(content)
	post.Summary = summary
	post.Updated = time.Now()

	err, saved := h.DB.UpsertPostGraph(post, mentionIds, media)
	if err != nil {
		return err, nil
	}

	if err := h.federatePost(ctx, saved.Id, h.ToUpdate); err != nil {
		log.Printf("Outbox: Could not federate Update for %s: %v", saved.Iri, err)
	}
	return nil, saved
}

// DeleteLocalPost removes a local post and federates its tombstone. The
// Delete activity is built from the graph before the row disappears.
func (h *Handler) DeleteLocalPost(ctx context.Context, ownerHandle string, postId uuid.UUID) error {
	err, owner := h.DB.ReadOwnerByHandle(ownerHandle)
	if err != nil {
		return err
	}
	err, graph := h.DB.LoadPostGraph(postId)
	if err != nil {
		return err
	}
	if graph.Post.AccountId != owner.Id {
		return fmt.Errorf("post %s does not belong to %s", postId, ownerHandle)
	}

	act, err := h.ToDelete(graph)
	if err != nil {
		return err
	}

	err, deleted := h.DB.DeletePostByIri(graph.Post.Iri)
	if err != nil {
		return err
	}
	if deleted != nil {
		if deleted.ReplyTargetId != nil {
			h.DB.UpdatePostStats(*deleted.ReplyTargetId)
		}
		if deleted.SharingId != nil {
			h.DB.UpdatePostStats(*deleted.SharingId)
		}
		h.DB.UpdateAccountStats(owner.Id)
	}

	return h.deliver(ctx, act, graph)
}

// AnnounceLocalPost creates a reblog wrapper for a local account and
// federates the Announce. Direct posts cannot be reblogged.
func (h *Handler) AnnounceLocalPost(ctx context.Context, ownerHandle, objectIri string, visibility domain.Visibility) (error, *domain.Post) {
	err, owner := h.DB.ReadOwnerByHandle(ownerHandle)
	if err != nil {
		return err, nil
	}
	err, original := h.lookupPost(ctx, objectIri, persistOpts{})
	if err != nil {
		return err, nil
	}
	if original == nil {
		return fmt.Errorf("post %s not resolvable", objectIri), nil
	}
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	if visibility == domain.VisibilityDirect {
		return fmt.Errorf("a reblog cannot be direct"), nil
	}

	now := time.Now()
	wrapper := &domain.Post{
		Id:         newId(),
		Type:       original.Type,
		AccountId:  owner.Id,
		SharingId:  &original.Id,
		Visibility: visibility,
		Url:        original.Url,
		Published:  &now,
		Updated:    now,
	}
	wrapper.Iri = h.objectURI(owner.Handle, wrapper.Id)

	if err := h.DB.InsertSharingPost(wrapper); err != nil {
		return err, nil
	}
	// A duplicate reblog conflicts on (account, sharing) and keeps the
	// existing wrapper row.
	err, saved := h.DB.ReadSharingPost(owner.Id, original.Id)
	if err != nil {
		return err, nil
	}
	h.DB.UpdatePostStats(original.Id)
	h.DB.UpdateAccountStats(owner.Id)

	if h.Fanout != nil {
		h.Fanout.FanoutPost(ctx, saved.Id)
	}

	if err := h.federatePost(ctx, saved.Id, h.ToAnnounce); err != nil {
		log.Printf("Outbox: Could not federate Announce for %s: %v", saved.Iri, err)
	}
	return nil, saved
}

// UndoLocalAnnounce retracts a local reblog and federates the Undo.
func (h *Handler) UndoLocalAnnounce(ctx context.Context, ownerHandle string, wrapperId uuid.UUID) error {
	err, owner := h.DB.ReadOwnerByHandle(ownerHandle)
	if err != nil {
		return err
	}
	err, graph := h.DB.LoadPostGraph(wrapperId)
	if err != nil {
		return err
	}
	if graph.Post.AccountId != owner.Id || graph.Post.SharingId == nil {
		return fmt.Errorf("post %s is not a reblog of %s", wrapperId, ownerHandle)
	}

	act, err := h.ToUndoAnnounce(graph)
	if err != nil {
		return err
	}

	originalId := *graph.Post.SharingId
	if err, _ := h.DB.DeletePostByIri(graph.Post.Iri); err != nil {
		return err
	}
	h.DB.UpdatePostStats(originalId)
	h.DB.UpdateAccountStats(owner.Id)

	return h.deliver(ctx, act, graph)
}

// federatePost loads the post graph and queues the built activity for every
// recipient inbox.
func (h *Handler) federatePost(ctx context.Context, postId uuid.UUID, build func(*db.PostGraph) (*Activity, error)) error {
	err, graph := h.DB.LoadPostGraph(postId)
	if err != nil {
		return err
	}
	act, err := build(graph)
	if err != nil {
		return err
	}
	return h.deliver(ctx, act, graph)
}

// FollowRemote sends a follow request from a local account to a remote
// one. A local unprotected target approves immediately without any wire
// traffic.
func (h *Handler) FollowRemote(ctx context.Context, ownerHandle, targetIri string) (error, *domain.Follow) {
	err, owner := h.DB.ReadOwnerByHandle(ownerHandle)
	if err != nil {
		return err, nil
	}
	err, target := h.lookupAccount(ctx, targetIri)
	if err != nil {
		return err, nil
	}
	if target.Id == owner.Id {
		return fmt.Errorf("%s cannot follow itself", ownerHandle), nil
	}

	follow := &domain.Follow{
		Iri:         fmt.Sprintf("%s#follows/%s", h.actorURI(owner.Handle), newId()),
		FollowingId: target.Id,
		FollowerId:  owner.Id,
		Shares:      true,
	}
	targetLocal := h.DB.HasOwner(target.Id)
	if targetLocal && !target.Protected {
		now := time.Now()
		follow.Approved = &now
	}
	if err := h.DB.CreateFollow(follow); err != nil {
		return err, nil
	}

	if !targetLocal {
		if err := h.sendFollow(ctx, owner, target, follow.Iri); err != nil {
			return err, nil
		}
	}
	h.DB.UpdateAccountStats(owner.Id)
	h.DB.UpdateAccountStats(target.Id)

	err, stored := h.DB.ReadFollow(target.Id, owner.Id)
	return err, stored
}

// UnfollowRemote removes the follow edge and federates the Undo.
func (h *Handler) UnfollowRemote(ctx context.Context, ownerHandle, targetIri string) error {
	err, owner := h.DB.ReadOwnerByHandle(ownerHandle)
	if err != nil {
		return err
	}
	err, target := h.DB.ReadAccountByIri(targetIri)
	if err == sql.ErrNoRows || target == nil {
		return nil
	}
	if err != nil {
		return err
	}
	err, follow := h.DB.ReadFollow(target.Id, owner.Id)
	if err == sql.ErrNoRows || follow == nil {
		return nil
	}
	if err != nil {
		return err
	}

	if err := h.DB.DeleteFollowByPair(target.Id, owner.Id); err != nil {
		return err
	}
	h.DB.UpdateAccountStats(owner.Id)
	h.DB.UpdateAccountStats(target.Id)

	if h.DB.HasOwner(target.Id) {
		return nil
	}

	inner := &Activity{
		ID:     follow.Iri,
		Type:   "Follow",
		Actor:  IRI(h.actorURI(owner.Handle)),
		To:     StringList{target.Iri},
		Object: json.RawMessage(fmt.Sprintf("%q", target.Iri)),
	}
	rawInner, err := json.Marshal(inner)
	if err != nil {
		return err
	}
	undo := &Activity{
		Context: asContext(),
		ID:      follow.Iri + "#undo",
		Type:    "Undo",
		Actor:   inner.Actor,
		To:      inner.To,
		Object:  rawInner,
	}
	body, err := json.Marshal(undo)
	if err != nil {
		return err
	}
	return h.Sender.Send(ctx, target.InboxUrl, body, owner.Handle)
}

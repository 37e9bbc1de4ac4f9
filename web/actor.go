package web

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/3o14-com/backend/activitypub"
	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

var actorContext = json.RawMessage(`["https://www.w3.org/ns/activitystreams","https://w3id.org/security/v1"]`)

// ActorDoc serializes a local account as its ActivityStreams actor
// document, public key included.
func ActorDoc(h *activitypub.Handler, handle string) (error, []byte) {
	err, owner := h.DB.ReadOwnerByHandle(handle)
	if err != nil {
		return err, nil
	}
	err, acc := h.DB.ReadAccountById(owner.Id)
	if err != nil {
		return err, nil
	}

	actor := activitypub.Actor{
		Context:                   actorContext,
		ID:                        acc.Iri,
		Type:                      string(acc.Type),
		PreferredUsername:         owner.Handle,
		Name:                      acc.Name,
		Summary:                   acc.BioHtml,
		URL:                       activitypub.IRI(acc.Url),
		Inbox:                     acc.InboxUrl,
		Outbox:                    acc.Iri + "/outbox",
		Followers:                 acc.FollowersUrl,
		Following:                 acc.Iri + "/following",
		ManuallyApprovesFollowers: acc.Protected,
		AlsoKnownAs:               acc.Aliases,
	}
	actor.Endpoints.SharedInbox = acc.SharedInboxUrl
	actor.PublicKey.ID = acc.Iri + "#main-key"
	actor.PublicKey.Owner = acc.Iri
	actor.PublicKey.PublicKeyPem = owner.PublicKeyPem
	if acc.Published != nil {
		actor.Published = acc.Published.UTC().Format(time.RFC3339)
	}

	doc, err := json.Marshal(&actor)
	return err, doc
}

// ObjectDoc serializes a local post for dereferencing. Public and unlisted
// posts are served to anyone; a private post only to a verified approved
// follower, a direct post only to an actor it mentions. Everything else is
// withheld as if the post did not exist.
func ObjectDoc(h *activitypub.Handler, handle string, postId uuid.UUID, requesterIri string) (error, []byte) {
	err, graph := h.DB.LoadPostGraph(postId)
	if err != nil {
		return err, nil
	}
	if graph.Owner == nil || graph.Owner.Handle != handle {
		return fmt.Errorf("post %s not found for %s", postId, handle), nil
	}
	switch graph.Post.Visibility {
	case domain.VisibilityPublic, domain.VisibilityUnlisted:
	case domain.VisibilityPrivate:
		if !isApprovedFollower(h, graph.Post.AccountId, requesterIri) {
			return fmt.Errorf("post %s is not dereferenceable", postId), nil
		}
	case domain.VisibilityDirect:
		if !isMentioned(graph, requesterIri) {
			return fmt.Errorf("post %s is not dereferenceable", postId), nil
		}
	default:
		return fmt.Errorf("post %s is not dereferenceable", postId), nil
	}

	obj, err := h.ToObject(graph)
	if err != nil {
		return err, nil
	}
	obj.Context = json.RawMessage(fmt.Sprintf("%q", activitypub.ActivityContext))

	doc, err := json.Marshal(obj)
	return err, doc
}

func isApprovedFollower(h *activitypub.Handler, accountId uuid.UUID, requesterIri string) bool {
	if requesterIri == "" {
		return false
	}
	err, requester := h.DB.ReadAccountByIri(requesterIri)
	if err != nil || requester == nil {
		return false
	}
	err, follow := h.DB.ReadFollow(accountId, requester.Id)
	return err == nil && follow != nil && follow.Approved != nil
}

func isMentioned(graph *db.PostGraph, requesterIri string) bool {
	for _, m := range graph.Mentions {
		if m.Account.Iri == requesterIri {
			return true
		}
	}
	return false
}

// OutboxDoc serializes a local account's outbox as an OrderedCollection of
// its recent public post IRIs.
func OutboxDoc(h *activitypub.Handler, handle string, limit int) (error, []byte) {
	err, owner := h.DB.ReadOwnerByHandle(handle)
	if err != nil {
		return err, nil
	}
	err, acc := h.DB.ReadAccountById(owner.Id)
	if err != nil {
		return err, nil
	}
	err, posts := h.DB.ReadPublicPostsByAccount(owner.Id, limit)
	if err != nil {
		return err, nil
	}

	items := make([]json.RawMessage, 0, len(posts))
	for _, p := range posts {
		items = append(items, json.RawMessage(fmt.Sprintf("%q", p.Iri)))
	}
	col := activitypub.Collection{
		ID:           acc.Iri + "/outbox",
		Type:         "OrderedCollection",
		TotalItems:   int(acc.PostsCount),
		OrderedItems: items,
	}
	doc, err := json.Marshal(&col)
	return err, doc
}

// FollowerCountDoc serializes the followers or following collection as a
// count-only stub; members are not enumerated.
func FollowerCountDoc(h *activitypub.Handler, handle, which string) (error, []byte) {
	err, owner := h.DB.ReadOwnerByHandle(handle)
	if err != nil {
		return err, nil
	}
	err, acc := h.DB.ReadAccountById(owner.Id)
	if err != nil {
		return err, nil
	}

	total := acc.FollowersCount
	if which == "following" {
		total = acc.FollowingCount
	}
	col := activitypub.Collection{
		ID:         fmt.Sprintf("%s/%s", acc.Iri, which),
		Type:       "OrderedCollection",
		TotalItems: int(total),
	}
	doc, err := json.Marshal(&col)
	return err, doc
}

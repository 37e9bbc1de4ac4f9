package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
)

func asContext() json.RawMessage {
	return json.RawMessage(fmt.Sprintf("%q", ActivityContext))
}

// actorURI is the canonical IRI of a local account.
func (h *Handler) actorURI(handle string) string {
	return fmt.Sprintf("%s/@%s", h.Conf.Origin(), handle)
}

// objectURI is the canonical IRI of a local post.
func (h *Handler) objectURI(handle string, id fmt.Stringer) string {
	return fmt.Sprintf("%s/@%s/%s", h.Conf.Origin(), handle, id)
}

func (h *Handler) followersURI(handle string) string {
	return h.actorURI(handle) + "/followers"
}

// Tombstone replaces a deleted object in an outbound Delete.
type Tombstone struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	FormerType string `json:"formerType,omitempty"`
}

// addressing computes the to/cc sets for a local post. Mentioned accounts
// are always addressed directly; the visibility scope decides where the
// public marker and the followers collection go.
func addressing(visibility domain.Visibility, followersUrl string, mentionIris []string) (to, cc StringList) {
	switch visibility {
	case domain.VisibilityPublic:
		to = StringList{PublicCollection}
		cc = append(StringList{followersUrl}, mentionIris...)
	case domain.VisibilityUnlisted:
		to = StringList{followersUrl}
		cc = append(StringList{PublicCollection}, mentionIris...)
	case domain.VisibilityPrivate:
		to = StringList{followersUrl}
		cc = StringList(mentionIris)
	default: // direct
		to = StringList(mentionIris)
	}
	return to, cc
}

// ToObject serializes a locally owned post into its ActivityStreams object
// document. Posts without a local owner cannot be serialized.
func (h *Handler) ToObject(graph *db.PostGraph) (*Object, error) {
	if graph.Owner == nil {
		return nil, fmt.Errorf("post %s has no local owner", graph.Post.Iri)
	}
	post := &graph.Post

	var mentionIris []string
	var tags []Tag
	for _, m := range graph.Mentions {
		mentionIris = append(mentionIris, m.Account.Iri)
		tags = append(tags, Tag{Type: "Mention", Name: m.Account.Handle, Href: m.Account.Iri})
	}

	obj := &Object{
		ID:           post.Iri,
		Type:         string(post.Type),
		AttributedTo: IRI(h.actorURI(graph.Owner.Handle)),
		Content:      post.ContentHtml,
		Summary:      post.Summary,
		Sensitive:    post.Sensitive,
		URL:          IRI(post.Url),
		Published:    formatTime(post.Published),
		Updated:      post.Updated.UTC().Format(time.RFC3339),
	}
	obj.To, obj.CC = addressing(post.Visibility, h.followersURI(graph.Owner.Handle), mentionIris)

	if graph.ReplyTarget != nil {
		obj.InReplyTo = IRI(graph.ReplyTarget.Iri)
	}
	if graph.QuoteTarget != nil {
		obj.QuoteUrl = graph.QuoteTarget.Iri
		tags = append(tags, Tag{
			Type:      "Link",
			MediaType: `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`,
			Href:      graph.QuoteTarget.Iri,
			Name:      "RE: " + graph.QuoteTarget.Url,
		})
	}
	obj.Tag = tags

	for _, m := range graph.Media {
		obj.Attachment = append(obj.Attachment, Attachment{
			Type:      "Document",
			MediaType: m.Type,
			URL:       IRI(m.Url),
			Name:      m.Description,
			Width:     m.Width,
			Height:    m.Height,
		})
	}

	obj.Replies = &Collection{ID: post.Iri + "/replies", Type: "Collection", TotalItems: int(post.RepliesCount)}
	obj.Shares = &Collection{ID: post.Iri + "/shares", Type: "Collection", TotalItems: int(post.SharesCount)}
	obj.Likes = &Collection{ID: post.Iri + "/likes", Type: "Collection", TotalItems: int(post.LikesCount)}

	return obj, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (h *Handler) wrapActivity(graph *db.PostGraph, id, kind string, object any) (*Activity, error) {
	raw, err := json.Marshal(object)
	if err != nil {
		return nil, err
	}
	act := &Activity{
		Context:   asContext(),
		ID:        id,
		Type:      kind,
		Actor:     IRI(h.actorURI(graph.Owner.Handle)),
		Object:    raw,
		Published: formatTime(graph.Post.Published),
	}
	return act, nil
}

// ToCreate wraps a local post in its Create activity.
func (h *Handler) ToCreate(graph *db.PostGraph) (*Activity, error) {
	obj, err := h.ToObject(graph)
	if err != nil {
		return nil, err
	}
	act, err := h.wrapActivity(graph, graph.Post.Iri+"/activity", "Create", obj)
	if err != nil {
		return nil, err
	}
	act.To, act.CC = obj.To, obj.CC
	return act, nil
}

// ToUpdate wraps a local post in an Update activity. The activity id is
// suffixed with the edit time so every revision gets a distinct id.
func (h *Handler) ToUpdate(graph *db.PostGraph) (*Activity, error) {
	obj, err := h.ToObject(graph)
	if err != nil {
		return nil, err
	}
	id := fmt.Sprintf("%s#updates/%d", graph.Post.Iri, graph.Post.Updated.Unix())
	act, err := h.wrapActivity(graph, id, "Update", obj)
	if err != nil {
		return nil, err
	}
	act.To, act.CC = obj.To, obj.CC
	return act, nil
}

// ToDelete wraps a local post's tombstone in a Delete activity.
func (h *Handler) ToDelete(graph *db.PostGraph) (*Activity, error) {
	if graph.Owner == nil {
		return nil, fmt.Errorf("post %s has no local owner", graph.Post.Iri)
	}
	tombstone := Tombstone{ID: graph.Post.Iri, Type: "Tombstone", FormerType: string(graph.Post.Type)}
	act, err := h.wrapActivity(graph, graph.Post.Iri+"#delete", "Delete", tombstone)
	if err != nil {
		return nil, err
	}
	act.To = StringList{PublicCollection}
	return act, nil
}

// ToAnnounce serializes a local reblog wrapper. Calling it for a post that
// is not a reblog, or for a direct-visibility wrapper, is a caller error.
func (h *Handler) ToAnnounce(graph *db.PostGraph) (*Activity, error) {
	if graph.Owner == nil {
		return nil, fmt.Errorf("post %s has no local owner", graph.Post.Iri)
	}
	if graph.Post.SharingId == nil || graph.Sharing == nil {
		return nil, fmt.Errorf("post %s is not a reblog", graph.Post.Iri)
	}
	if graph.Post.Visibility == domain.VisibilityDirect {
		return nil, fmt.Errorf("reblog %s cannot have direct visibility", graph.Post.Iri)
	}

	var audience []string
	if graph.SharingAccount != nil {
		audience = []string{graph.SharingAccount.Iri}
	}
	act := &Activity{
		Context:   asContext(),
		ID:        graph.Post.Iri,
		Type:      "Announce",
		Actor:     IRI(h.actorURI(graph.Owner.Handle)),
		Object:    json.RawMessage(fmt.Sprintf("%q", graph.Sharing.Iri)),
		Published: formatTime(graph.Post.Published),
	}
	act.To, act.CC = addressing(graph.Post.Visibility, h.followersURI(graph.Owner.Handle), audience)
	return act, nil
}

// ToUndoAnnounce wraps an Announce in its Undo.
func (h *Handler) ToUndoAnnounce(graph *db.PostGraph) (*Activity, error) {
	announce, err := h.ToAnnounce(graph)
	if err != nil {
		return nil, err
	}
	announce.Context = nil
	raw, err := json.Marshal(announce)
	if err != nil {
		return nil, err
	}
	return &Activity{
		Context: asContext(),
		ID:      graph.Post.Iri + "#undo",
		Type:    "Undo",
		Actor:   announce.Actor,
		Object:  raw,
		To:      announce.To,
		CC:      announce.CC,
	}, nil
}

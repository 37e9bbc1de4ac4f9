package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

// maxResolveDepth bounds how far reply and quote chains are dereferenced
// when ingesting a remote post. Posts beyond the horizon are stored without
// their targets and linked up if the targets arrive later.
const maxResolveDepth = 3

// maxRepliesBackfill caps how many replies of a newly ingested post are
// pulled in from its replies collection.
const maxRepliesBackfill = 20

type persistOpts struct {
	// account is the already-resolved author; when nil it is resolved from
	// the object's attributedTo.
	account *domain.Account
	// replyTarget short-circuits inReplyTo resolution.
	replyTarget *domain.Post
	// skipUpdate makes persistence a no-op when the iri is already stored.
	skipUpdate bool
	depth      int
	visited    map[string]bool
}

// DeriveVisibility maps ActivityStreams addressing onto a visibility scope.
func DeriveVisibility(to, cc StringList, followersUrl string) domain.Visibility {
	switch {
	case to.Contains(PublicCollection):
		return domain.VisibilityPublic
	case cc.Contains(PublicCollection):
		return domain.VisibilityUnlisted
	case followersUrl != "" && to.Contains(followersUrl):
		return domain.VisibilityPrivate
	default:
		return domain.VisibilityDirect
	}
}

func postTypeOf(t string) domain.PostType {
	if t == "Article" {
		return domain.PostArticle
	}
	return domain.PostNote
}

// quoteTargetIRI finds the quoted post's IRI, either from the quoteUrl
// property or from an object link tag.
func quoteTargetIRI(obj *Object) string {
	if obj.QuoteUrl != "" {
		return obj.QuoteUrl
	}
	for _, tag := range obj.Tag {
		if tag.Type == "Link" && tag.Href != "" &&
			(strings.Contains(tag.MediaType, "activity+json") || strings.Contains(tag.MediaType, "ld+json")) {
			return tag.Href
		}
	}
	return ""
}

// PersistPost upserts a post from a remote object document, resolving its
// author, reply target, quote target, mentions and media. Returns the
// stored row, or nil for documents that cannot be persisted.
func (h *Handler) PersistPost(ctx context.Context, obj *Object, opts persistOpts) (error, *domain.Post) {
	if obj == nil || obj.ID == "" || !IsPostType(obj.Type) {
		return nil, nil
	}
	if opts.visited == nil {
		opts.visited = map[string]bool{}
	}
	if opts.visited[obj.ID] {
		err, stored := h.DB.ReadPostByIri(obj.ID)
		if err != nil {
			return nil, nil
		}
		return nil, stored
	}
	opts.visited[obj.ID] = true

	err, stored := h.DB.ReadPostByIri(obj.ID)
	if err != nil && err != sql.ErrNoRows {
		return err, nil
	}
	if stored != nil && opts.skipUpdate {
		return nil, stored
	}

	account := opts.account
	if account == nil {
		if obj.AttributedTo == "" {
			return nil, nil
		}
		var aerr error
		aerr, account = h.lookupAccount(ctx, obj.AttributedTo.String())
		if aerr != nil {
			return aerr, nil
		}
	}

	replyTarget := opts.replyTarget
	if replyTarget == nil && obj.InReplyTo != "" {
		err, replyTarget = h.lookupPost(ctx, obj.InReplyTo.String(), opts)
		if err != nil {
			log.Printf("Inbox: Could not resolve reply target %s: %v", obj.InReplyTo, err)
			replyTarget = nil
		}
	}

	var quoteTarget *domain.Post
	if iri := quoteTargetIRI(obj); iri != "" {
		err, quoteTarget = h.lookupPost(ctx, iri, opts)
		if err != nil {
			log.Printf("Inbox: Could not resolve quote target %s: %v", iri, err)
			quoteTarget = nil
		}
	}

	// Mention resolution is error-tolerant: an unreachable mentioned actor
	// drops the edge, not the post.
	mentions := h.resolveMentions(ctx, obj.Tag)

	media := buildMedia(obj.Attachment)

	post := &domain.Post{
		Id:          newId(),
		Iri:         obj.ID,
		Type:        postTypeOf(obj.Type),
		AccountId:   account.Id,
		Visibility:  DeriveVisibility(obj.To, obj.CC, account.FollowersUrl),
		Summary:     obj.Summary,
		ContentHtml: obj.Content,
		Sensitive:   obj.Sensitive,
		Url:         obj.URL.String(),
		Published:   obj.PublishedTime(),
		Updated:     time.Now(),
	}
	if post.Url == "" {
		post.Url = obj.ID
	}
	if replyTarget != nil {
		post.ReplyTargetId = &replyTarget.Id
	}
	if quoteTarget != nil {
		post.QuoteTargetId = &quoteTarget.Id
	}
	if obj.Replies != nil {
		post.RepliesCount = int64(obj.Replies.TotalItems)
	}
	if obj.Shares != nil {
		post.SharesCount = int64(obj.Shares.TotalItems)
	}
	if obj.Likes != nil {
		post.LikesCount = int64(obj.Likes.TotalItems)
	}

	err, saved := h.DB.UpsertPostGraph(post, mentions, media)
	if err != nil {
		return err, nil
	}

	if replyTarget != nil {
		h.DB.UpdatePostStats(replyTarget.Id)
	}
	h.DB.UpdateAccountStats(account.Id)

	if stored == nil && h.Fanout != nil {
		if err := h.Fanout.FanoutPost(ctx, saved.Id); err != nil {
			log.Printf("Inbox: Timeline fanout for %s failed: %v", saved.Iri, err)
		}
	}

	if stored == nil && obj.Replies != nil && opts.depth < maxResolveDepth {
		h.backfillReplies(ctx, obj.Replies, saved, opts)
	}

	return nil, saved
}

// PersistPostByIri dereferences a post IRI and persists it.
func (h *Handler) PersistPostByIri(ctx context.Context, iri string, opts persistOpts) (error, *domain.Post) {
	obj, err := h.fetchObject(ctx, iri)
	if err != nil {
		return err, nil
	}
	return h.PersistPost(ctx, obj, opts)
}

// lookupPost returns the stored post for an IRI, dereferencing it on a miss
// as long as the resolution depth budget allows.
func (h *Handler) lookupPost(ctx context.Context, iri string, opts persistOpts) (error, *domain.Post) {
	err, stored := h.DB.ReadPostByIri(iri)
	if err == nil && stored != nil {
		return nil, stored
	}
	if err != nil && err != sql.ErrNoRows {
		return err, nil
	}
	if opts.depth >= maxResolveDepth {
		return nil, nil
	}
	return h.PersistPostByIri(ctx, iri, persistOpts{
		skipUpdate: true,
		depth:      opts.depth + 1,
		visited:    opts.visited,
	})
}

func (h *Handler) resolveMentions(ctx context.Context, tags []Tag) []uuid.UUID {
	var ids []uuid.UUID
	for _, tag := range tags {
		if tag.Type != "Mention" || tag.Href == "" {
			continue
		}
		err, acc := h.lookupAccount(ctx, tag.Href)
		if err != nil || acc == nil {
			log.Printf("Inbox: Skipping unresolvable mention %s", tag.Href)
			continue
		}
		ids = append(ids, acc.Id)
	}
	return ids
}

func buildMedia(attachments []Attachment) []domain.Medium {
	var media []domain.Medium
	for _, att := range attachments {
		if att.URL == "" {
			continue
		}
		switch att.Type {
		case "Document", "Image", "Video", "Audio":
		default:
			continue
		}
		media = append(media, domain.Medium{
			Id:          newId(),
			Type:        att.MediaType,
			Url:         att.URL.String(),
			Width:       att.Width,
			Height:      att.Height,
			Description: att.Name,
			// Without a server-side thumbnailer the original doubles as its
			// own thumbnail.
			ThumbnailType:   att.MediaType,
			ThumbnailUrl:    att.URL.String(),
			ThumbnailWidth:  att.Width,
			ThumbnailHeight: att.Height,
			CreatedAt:       time.Now(),
		})
	}
	return media
}

// backfillReplies ingests up to maxRepliesBackfill replies from the post's
// replies collection. Failures are logged and skipped.
func (h *Handler) backfillReplies(ctx context.Context, replies *Collection, parent *domain.Post, opts persistOpts) {
	seen := 0
	h.eachCollectionItem(ctx, replies, func(item json.RawMessage) {
		if seen >= maxRepliesBackfill {
			return
		}
		seen++

		childOpts := persistOpts{
			replyTarget: parent,
			skipUpdate:  true,
			depth:       opts.depth + 1,
			visited:     opts.visited,
		}
		if len(item) > 0 && item[0] == '{' {
			var child Object
			if err := json.Unmarshal(item, &child); err != nil {
				return
			}
			if err, _ := h.PersistPost(ctx, &child, childOpts); err != nil {
				log.Printf("Inbox: Reply backfill for %s failed: %v", parent.Iri, err)
			}
			return
		}
		if iri := rawIRI(item); iri != "" {
			if err, _ := h.PersistPostByIri(ctx, iri, childOpts); err != nil {
				log.Printf("Inbox: Reply backfill for %s failed: %v", parent.Iri, err)
			}
		}
	})
	if seen > 0 {
		h.DB.UpdatePostStats(parent.Id)
	}
}

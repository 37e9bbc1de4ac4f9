package activitypub

import (
	"context"
	"encoding/json"
	"log"
	"net/url"

	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
)

// deliveryRecipients collects the remote accounts an outbound activity for
// this post must reach: the author's approved followers plus every
// mentioned account. Direct posts skip the followers set and reach only the
// accounts they mention. Local accounts are excluded; they are reached
// through the timeline fanout, not over the wire.
func (h *Handler) deliveryRecipients(graph *db.PostGraph) []domain.Account {
	var recipients []domain.Account

	if graph.Post.Visibility != domain.VisibilityDirect {
		err, followers := h.DB.ReadApprovedFollowersOf(graph.Post.AccountId)
		if err != nil {
			log.Printf("Outbox: Could not read followers of %s: %v", graph.Account.Handle, err)
		}
		for _, edge := range followers {
			err, acc := h.DB.ReadAccountById(edge.FollowerId)
			if err != nil || acc == nil {
				continue
			}
			recipients = append(recipients, *acc)
		}

		if graph.SharingAccount != nil {
			recipients = append(recipients, *graph.SharingAccount)
		}
	}

	for _, m := range graph.Mentions {
		recipients = append(recipients, m.Account)
	}

	var remote []domain.Account
	for _, acc := range recipients {
		if h.DB.HasOwner(acc.Id) {
			continue
		}
		remote = append(remote, acc)
	}
	return remote
}

// Inboxes reduces recipient accounts to a deduplicated inbox list,
// preferring an instance's shared inbox so each host is hit once. Accounts
// on excludeHost are skipped, which keeps forwarded activities from
// bouncing back to their origin.
func Inboxes(accounts []domain.Account, excludeHost string) []string {
	seen := map[string]bool{}
	var inboxes []string
	for _, acc := range accounts {
		if excludeHost != "" && acc.InstanceHost == excludeHost {
			continue
		}
		inbox := acc.SharedInboxUrl
		if inbox == "" {
			inbox = acc.InboxUrl
		}
		if inbox == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		inboxes = append(inboxes, inbox)
	}
	return inboxes
}

// deliver queues one signed copy of the activity per recipient inbox.
func (h *Handler) deliver(ctx context.Context, act *Activity, graph *db.PostGraph) error {
	body, err := json.Marshal(act)
	if err != nil {
		return err
	}
	inboxes := Inboxes(h.deliveryRecipients(graph), h.ownHost())
	for _, inbox := range inboxes {
		if err := h.Sender.Send(ctx, inbox, body, graph.Owner.Handle); err != nil {
			log.Printf("Outbox: Could not queue delivery to %s: %v", inbox, err)
		}
	}
	log.Printf("Outbox: Queued %s %s for %d inboxes", act.Type, act.ID, len(inboxes))
	return nil
}

func (h *Handler) ownHost() string {
	return h.Conf.Conf.Domain
}

// forwardToFollowers relays a remote reply verbatim to the followers of the
// local account whose post was replied to, so their servers learn about the
// reply even when its author does not address them. The reply's origin host
// is excluded.
func (h *Handler) forwardToFollowers(ctx context.Context, post *domain.Post, raw []byte, originActorIri string) {
	if post.ReplyTargetId == nil {
		return
	}
	err, parent := h.DB.ReadPostById(*post.ReplyTargetId)
	if err != nil || parent == nil {
		return
	}
	err, owner := h.DB.ReadOwnerById(parent.AccountId)
	if err != nil || owner == nil {
		return
	}

	originHost := ""
	if parsed, err := url.Parse(originActorIri); err == nil {
		originHost = parsed.Host
	}

	err, followers := h.DB.ReadApprovedFollowersOf(parent.AccountId)
	if err != nil {
		return
	}
	var accounts []domain.Account
	for _, edge := range followers {
		err, acc := h.DB.ReadAccountById(edge.FollowerId)
		if err != nil || acc == nil || h.DB.HasOwner(acc.Id) {
			continue
		}
		accounts = append(accounts, *acc)
	}

	inboxes := Inboxes(accounts, originHost)
	for _, inbox := range inboxes {
		if err := h.Sender.Send(ctx, inbox, raw, owner.Handle); err != nil {
			log.Printf("Inbox: Could not forward reply %s to %s: %v", post.Iri, inbox, err)
		}
	}
}

package activitypub

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

func newId() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}

// PersistAccount upserts an account row from a remote actor document, keyed
// by the actor's id. Invalid documents (missing id or inbox, unknown actor
// type) are ignored without error. An account that has a local owner is
// never overwritten from a remote document.
func (h *Handler) PersistAccount(ctx context.Context, actor *Actor) (error, *domain.Account) {
	if actor == nil || actor.ID == "" || actor.Inbox == "" || !domain.IsActorType(actor.Type) {
		return nil, nil
	}

	err, stored := h.DB.ReadAccountByIri(actor.ID)
	if err == nil && stored != nil && h.DB.HasOwner(stored.Id) {
		return nil, stored
	}

	parsed, err := url.Parse(actor.ID)
	if err != nil || parsed.Host == "" {
		return nil, nil
	}

	name := actor.Name
	if name == "" {
		name = actor.PreferredUsername
	}
	actorURL := actor.URL.String()
	if actorURL == "" {
		actorURL = actor.ID
	}

	acc := &domain.Account{
		Id:             newId(),
		Iri:            actor.ID,
		Type:           domain.AccountType(actor.Type),
		Name:           name,
		Handle:         fmt.Sprintf("@%s@%s", actor.PreferredUsername, parsed.Host),
		BioHtml:        actor.Summary,
		Url:            actorURL,
		Protected:      actor.ManuallyApprovesFollowers,
		AvatarUrl:      actor.Icon.URL,
		InboxUrl:       actor.Inbox,
		SharedInboxUrl: actor.Endpoints.SharedInbox,
		FollowersUrl:   actor.Followers,
		Aliases:        actor.AlsoKnownAs,
		InstanceHost:   parsed.Host,
		Published:      parseTime(actor.Published),
		Updated:        time.Now(),
	}

	if err := h.DB.UpsertAccount(acc); err != nil {
		return err, nil
	}
	return h.DB.ReadAccountByIri(actor.ID)
}

// PersistAccountByIri dereferences an actor IRI and persists it, refreshing
// any stored copy.
func (h *Handler) PersistAccountByIri(ctx context.Context, iri string) (error, *domain.Account) {
	actor, err := h.FetchActor(ctx, iri)
	if err != nil {
		return err, nil
	}
	return h.PersistAccount(ctx, actor)
}

// lookupAccount returns the stored account for an IRI, dereferencing and
// persisting it on a miss.
func (h *Handler) lookupAccount(ctx context.Context, iri string) (error, *domain.Account) {
	err, stored := h.DB.ReadAccountByIri(iri)
	if err == nil && stored != nil {
		return nil, stored
	}
	if err != nil && err != sql.ErrNoRows {
		return err, nil
	}
	err, acc := h.PersistAccountByIri(ctx, iri)
	if err != nil {
		return err, nil
	}
	if acc == nil {
		return fmt.Errorf("actor %s: document not usable", iri), nil
	}
	return nil, acc
}

// onAccountDeleted removes a remote account and everything hanging off it.
// Local accounts are never deleted by a remote activity.
func (h *Handler) onAccountDeleted(ctx context.Context, act *Activity) error {
	iri := act.Actor.String()
	err, stored := h.DB.ReadAccountByIri(iri)
	if err == sql.ErrNoRows || stored == nil {
		return nil
	}
	if err != nil {
		return err
	}
	if h.DB.HasOwner(stored.Id) {
		log.Printf("Inbox: Ignoring remote Delete for local account %s", stored.Handle)
		return nil
	}
	if err := h.DB.DeleteAccountByIri(iri); err != nil {
		return err
	}
	log.Printf("Inbox: Deleted account %s", stored.Handle)
	return nil
}

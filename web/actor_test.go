package web

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/3o14-com/backend/activitypub"
	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
	"github.com/3o14-com/backend/util"
	"github.com/google/uuid"
)

func testHandler(t *testing.T) *activitypub.Handler {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	conf := &util.AppConfig{}
	conf.Conf.Domain = "local.example"
	conf.Conf.Protocol = "https"
	conf.Conf.WithAp = true
	return &activitypub.Handler{DB: database, Conf: conf}
}

func seedOwner(t *testing.T, h *activitypub.Handler, handle string) *domain.Account {
	t.Helper()
	iri := fmt.Sprintf("https://local.example/@%s", handle)
	now := time.Now()
	acc := &domain.Account{
		Id:             uuid.New(),
		Iri:            iri,
		Type:           domain.AccountPerson,
		Name:           handle,
		Handle:         fmt.Sprintf("@%s@local.example", handle),
		Url:            iri,
		InboxUrl:       iri + "/inbox",
		SharedInboxUrl: "https://local.example/inbox",
		FollowersUrl:   iri + "/followers",
		InstanceHost:   "local.example",
		Published:      &now,
		Updated:        now,
	}
	owner := &domain.AccountOwner{
		Id:            acc.Id,
		Handle:        handle,
		PrivateKeyPem: "private-pem",
		PublicKeyPem:  "public-pem",
		Visibility:    domain.VisibilityPublic,
		Language:      "en",
	}
	if err := h.DB.CreateLocalAccount(acc, owner); err != nil {
		t.Fatalf("Failed to create local account: %v", err)
	}
	return acc
}

func seedPost(t *testing.T, h *activitypub.Handler, acc *domain.Account, visibility domain.Visibility, mentionIds ...uuid.UUID) *domain.Post {
	t.Helper()
	now := time.Now()
	post := &domain.Post{
		Id:          uuid.New(),
		Type:        domain.PostNote,
		AccountId:   acc.Id,
		Visibility:  visibility,
		ContentHtml: "<p>hi</p>",
		Published:   &now,
		Updated:     now,
	}
	post.Iri = fmt.Sprintf("%s/%s", acc.Iri, post.Id)
	post.Url = post.Iri
	err, stored := h.DB.UpsertPostGraph(post, mentionIds, nil)
	if err != nil {
		t.Fatalf("Failed to store post: %v", err)
	}
	return stored
}

func seedRemoteAccount(t *testing.T, h *activitypub.Handler, iri, username string) *domain.Account {
	t.Helper()
	now := time.Now()
	acc := &domain.Account{
		Id:           uuid.New(),
		Iri:          iri,
		Type:         domain.AccountPerson,
		Name:         username,
		Handle:       fmt.Sprintf("@%s@remote.example", username),
		Url:          iri,
		InboxUrl:     iri + "/inbox",
		FollowersUrl: iri + "/followers",
		InstanceHost: "remote.example",
		Published:    &now,
		Updated:      now,
	}
	if err := h.DB.UpsertAccount(acc); err != nil {
		t.Fatalf("Failed to store remote account %s: %v", iri, err)
	}
	err, stored := h.DB.ReadAccountByIri(iri)
	if err != nil {
		t.Fatalf("Failed to read back remote account %s: %v", iri, err)
	}
	return stored
}

func TestActorDoc(t *testing.T) {
	h := testHandler(t)
	acc := seedOwner(t, h, "carol")

	err, doc := ActorDoc(h, "carol")
	if err != nil {
		t.Fatalf("ActorDoc failed: %v", err)
	}

	var actor activitypub.Actor
	if err := json.Unmarshal(doc, &actor); err != nil {
		t.Fatal(err)
	}
	if actor.ID != acc.Iri || actor.Type != "Person" {
		t.Errorf("got id %s type %s", actor.ID, actor.Type)
	}
	if actor.PreferredUsername != "carol" {
		t.Errorf("got preferredUsername %s", actor.PreferredUsername)
	}
	if actor.PublicKey.ID != acc.Iri+"#main-key" || actor.PublicKey.PublicKeyPem != "public-pem" {
		t.Errorf("got public key %+v", actor.PublicKey)
	}
	if actor.Inbox != acc.InboxUrl || actor.Endpoints.SharedInbox != acc.SharedInboxUrl {
		t.Errorf("got inbox %s shared %s", actor.Inbox, actor.Endpoints.SharedInbox)
	}

	if err, _ := ActorDoc(h, "nobody"); err == nil {
		t.Error("Expected an error for an unknown handle")
	}
}

func TestObjectDocVisibilityGating(t *testing.T) {
	h := testHandler(t)
	acc := seedOwner(t, h, "carol")

	public := seedPost(t, h, acc, domain.VisibilityPublic)
	err, doc := ObjectDoc(h, "carol", public.Id, "")
	if err != nil {
		t.Fatalf("ObjectDoc failed for a public post: %v", err)
	}
	var obj activitypub.Object
	if err := json.Unmarshal(doc, &obj); err != nil {
		t.Fatal(err)
	}
	if obj.ID != public.Iri || obj.Type != "Note" {
		t.Errorf("got id %s type %s", obj.ID, obj.Type)
	}

	unlisted := seedPost(t, h, acc, domain.VisibilityUnlisted)
	if err, _ := ObjectDoc(h, "carol", unlisted.Id, ""); err != nil {
		t.Errorf("Expected unlisted posts to be served, got %v", err)
	}

	// Private and direct posts are withheld from anonymous requests as if
	// they did not exist.
	private := seedPost(t, h, acc, domain.VisibilityPrivate)
	if err, _ := ObjectDoc(h, "carol", private.Id, ""); err == nil {
		t.Error("Expected a private post to be withheld")
	}
	direct := seedPost(t, h, acc, domain.VisibilityDirect)
	if err, _ := ObjectDoc(h, "carol", direct.Id, ""); err == nil {
		t.Error("Expected a direct post to be withheld")
	}

	// The handle in the path must own the post.
	seedOwner(t, h, "dave")
	if err, _ := ObjectDoc(h, "dave", public.Id, ""); err == nil {
		t.Error("Expected a mismatched handle to be rejected")
	}
}

func TestObjectDocServesPrivateToApprovedFollower(t *testing.T) {
	h := testHandler(t)
	acc := seedOwner(t, h, "carol")
	private := seedPost(t, h, acc, domain.VisibilityPrivate)

	bob := seedRemoteAccount(t, h, "https://remote.example/users/bob", "bob")
	now := time.Now()
	if err := h.DB.CreateFollow(&domain.Follow{
		Iri:         bob.Iri + "#follows/carol",
		FollowingId: acc.Id,
		FollowerId:  bob.Id,
		Approved:    &now,
	}); err != nil {
		t.Fatal(err)
	}

	if err, _ := ObjectDoc(h, "carol", private.Id, bob.Iri); err != nil {
		t.Errorf("Expected a private post to be served to an approved follower, got %v", err)
	}

	// A pending follow is not enough.
	mallory := seedRemoteAccount(t, h, "https://remote.example/users/mallory", "mallory")
	if err := h.DB.CreateFollow(&domain.Follow{
		Iri:         mallory.Iri + "#follows/carol",
		FollowingId: acc.Id,
		FollowerId:  mallory.Id,
	}); err != nil {
		t.Fatal(err)
	}
	if err, _ := ObjectDoc(h, "carol", private.Id, mallory.Iri); err == nil {
		t.Error("Expected a private post to be withheld from a pending follower")
	}
}

func TestObjectDocServesDirectToMentioned(t *testing.T) {
	h := testHandler(t)
	acc := seedOwner(t, h, "carol")

	bob := seedRemoteAccount(t, h, "https://remote.example/users/bob", "bob")
	eve := seedRemoteAccount(t, h, "https://remote.example/users/eve", "eve")
	direct := seedPost(t, h, acc, domain.VisibilityDirect, bob.Id)

	if err, _ := ObjectDoc(h, "carol", direct.Id, bob.Iri); err != nil {
		t.Errorf("Expected a direct post to be served to a mentioned actor, got %v", err)
	}
	if err, _ := ObjectDoc(h, "carol", direct.Id, eve.Iri); err == nil {
		t.Error("Expected a direct post to be withheld from an unmentioned actor")
	}
}

func TestOutboxDoc(t *testing.T) {
	h := testHandler(t)
	acc := seedOwner(t, h, "carol")
	seedPost(t, h, acc, domain.VisibilityPublic)
	seedPost(t, h, acc, domain.VisibilityPrivate)
	h.DB.UpdateAccountStats(acc.Id)

	err, doc := OutboxDoc(h, "carol", 20)
	if err != nil {
		t.Fatalf("OutboxDoc failed: %v", err)
	}
	var col activitypub.Collection
	if err := json.Unmarshal(doc, &col); err != nil {
		t.Fatal(err)
	}
	if col.Type != "OrderedCollection" || col.ID != acc.Iri+"/outbox" {
		t.Errorf("got %s %s", col.Type, col.ID)
	}
	// Only the public post is enumerated.
	if len(col.OrderedItems) != 1 {
		t.Errorf("got %d items", len(col.OrderedItems))
	}
}

func TestFollowerCountDoc(t *testing.T) {
	h := testHandler(t)
	acc := seedOwner(t, h, "carol")

	err, doc := FollowerCountDoc(h, "carol", "followers")
	if err != nil {
		t.Fatalf("FollowerCountDoc failed: %v", err)
	}
	var col activitypub.Collection
	if err := json.Unmarshal(doc, &col); err != nil {
		t.Fatal(err)
	}
	if col.ID != acc.Iri+"/followers" || col.Type != "OrderedCollection" {
		t.Errorf("got %s %s", col.ID, col.Type)
	}
	if len(col.PageItems()) != 0 {
		t.Error("Members must not be enumerated")
	}
}

func TestWebfinger(t *testing.T) {
	h := testHandler(t)
	acc := seedOwner(t, h, "carol")

	err, doc := Webfinger(h, "acct:carol@local.example")
	if err != nil {
		t.Fatalf("Webfinger failed: %v", err)
	}
	var resp webfingerResponse
	if err := json.Unmarshal(doc, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Subject != "acct:carol@local.example" {
		t.Errorf("got subject %s", resp.Subject)
	}
	var self string
	for _, link := range resp.Links {
		if link.Rel == "self" {
			self = link.Href
		}
	}
	if self != acc.Iri {
		t.Errorf("got self link %s, expected %s", self, acc.Iri)
	}

	if err, _ := Webfinger(h, "acct:nobody@local.example"); err == nil {
		t.Error("Expected an error for an unknown account")
	}
}

package activitypub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
	"github.com/3o14-com/backend/util"
)

// mapFetcher serves remote documents from a fixture map.
type mapFetcher struct {
	docs map[string][]byte
}

func (f *mapFetcher) Fetch(ctx context.Context, iri string) ([]byte, error) {
	doc, ok := f.docs[iri]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", iri)
	}
	return doc, nil
}

type sentActivity struct {
	Inbox  string
	Body   []byte
	SignAs string
}

// captureSender records queued deliveries instead of enqueueing them.
type captureSender struct {
	sent []sentActivity
}

func (s *captureSender) Send(ctx context.Context, inboxURI string, activityJSON []byte, signAs string) error {
	s.sent = append(s.sent, sentActivity{Inbox: inboxURI, Body: activityJSON, SignAs: signAs})
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *mapFetcher, *captureSender) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	conf := &util.AppConfig{}
	conf.Conf.Domain = "local.example"
	conf.Conf.Protocol = "https"
	conf.Conf.WithAp = true

	fetcher := &mapFetcher{docs: map[string][]byte{}}
	sender := &captureSender{}
	h := &Handler{
		DB:      database,
		Conf:    conf,
		Fetcher: fetcher,
		Sender:  sender,
		Fanout:  &TimelineFanout{DB: database},
	}
	return h, fetcher, sender
}

func actorDoc(iri, username string, extra map[string]any) []byte {
	doc := map[string]any{
		"id":                iri,
		"type":              "Person",
		"preferredUsername": username,
		"inbox":             iri + "/inbox",
		"followers":         iri + "/followers",
	}
	for k, v := range extra {
		doc[k] = v
	}
	b, _ := json.Marshal(doc)
	return b
}

func noteDoc(iri, authorIri, content string, extra map[string]any) []byte {
	doc := map[string]any{
		"id":           iri,
		"type":         "Note",
		"attributedTo": authorIri,
		"content":      content,
		"to":           []string{PublicCollection},
		"published":    time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		doc[k] = v
	}
	b, _ := json.Marshal(doc)
	return b
}

func marshalActivity(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	b, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("Failed to marshal activity: %v", err)
	}
	return b
}

func newLocalAccount(t *testing.T, h *Handler, handle string, protected bool) *domain.Account {
	t.Helper()
	iri := fmt.Sprintf("https://local.example/@%s", handle)
	now := time.Now()
	acc := &domain.Account{
		Id:             newId(),
		Iri:            iri,
		Type:           domain.AccountPerson,
		Name:           handle,
		Handle:         fmt.Sprintf("@%s@local.example", handle),
		Url:            iri,
		Protected:      protected,
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
		PrivateKeyPem: "unused",
		PublicKeyPem:  "unused",
		Visibility:    domain.VisibilityPublic,
		Language:      "en",
	}
	if err := h.DB.CreateLocalAccount(acc, owner); err != nil {
		t.Fatalf("Failed to create local account %s: %v", handle, err)
	}
	return acc
}

func seedRemoteActor(t *testing.T, h *Handler, f *mapFetcher, iri, username string) *domain.Account {
	t.Helper()
	f.docs[iri] = actorDoc(iri, username, nil)
	err, acc := h.PersistAccountByIri(context.Background(), iri)
	if err != nil || acc == nil {
		t.Fatalf("Failed to persist remote actor %s: %v", iri, err)
	}
	return acc
}

func TestCreateStoresRemotePost(t *testing.T) {
	h, f, _ := newTestHandler(t)
	ctx := context.Background()

	aliceIri := "https://remote.example/users/alice"
	f.docs[aliceIri] = actorDoc(aliceIri, "alice", nil)

	body := marshalActivity(t, map[string]any{
		"id":     "https://remote.example/activities/1",
		"type":   "Create",
		"actor":  aliceIri,
		"object": json.RawMessage(noteDoc("https://remote.example/notes/1", aliceIri, "<p>hello</p>", nil)),
	})
	if err := h.HandleActivity(ctx, body); err != nil {
		t.Fatalf("HandleActivity failed: %v", err)
	}

	err, post := h.DB.ReadPostByIri("https://remote.example/notes/1")
	if err != nil {
		t.Fatalf("Expected post to be stored: %v", err)
	}
	if post.ContentHtml != "<p>hello</p>" {
		t.Errorf("Unexpected content %q", post.ContentHtml)
	}
	if post.Visibility != domain.VisibilityPublic {
		t.Errorf("Expected public visibility, got %s", post.Visibility)
	}
	err, author := h.DB.ReadAccountByIri(aliceIri)
	if err != nil {
		t.Fatalf("Expected author to be persisted: %v", err)
	}
	if author.Handle != "@alice@remote.example" {
		t.Errorf("Unexpected handle %s", author.Handle)
	}
}

func TestHandleActivityRedeliveryIsNoop(t *testing.T) {
	h, f, _ := newTestHandler(t)
	ctx := context.Background()

	aliceIri := "https://remote.example/users/alice"
	f.docs[aliceIri] = actorDoc(aliceIri, "alice", nil)

	first := marshalActivity(t, map[string]any{
		"id":     "https://remote.example/activities/1",
		"type":   "Create",
		"actor":  aliceIri,
		"object": json.RawMessage(noteDoc("https://remote.example/notes/1", aliceIri, "original", nil)),
	})
	if err := h.HandleActivity(ctx, first); err != nil {
		t.Fatal(err)
	}

	// Same activity id redelivered with different content must be skipped
	// before dispatch.
	replay := marshalActivity(t, map[string]any{
		"id":     "https://remote.example/activities/1",
		"type":   "Create",
		"actor":  aliceIri,
		"object": json.RawMessage(noteDoc("https://remote.example/notes/1", aliceIri, "tampered", nil)),
	})
	if err := h.HandleActivity(ctx, replay); err != nil {
		t.Fatal(err)
	}

	err, post := h.DB.ReadPostByIri("https://remote.example/notes/1")
	if err != nil {
		t.Fatal(err)
	}
	if post.ContentHtml != "original" {
		t.Errorf("Redelivery changed stored content to %q", post.ContentHtml)
	}
}

func TestCreateNeverRollsBackAnEdit(t *testing.T) {
	h, f, _ := newTestHandler(t)
	ctx := context.Background()

	aliceIri := "https://remote.example/users/alice"
	f.docs[aliceIri] = actorDoc(aliceIri, "alice", nil)
	noteIri := "https://remote.example/notes/1"

	create := func(activityId, kind, content string) []byte {
		return marshalActivity(t, map[string]any{
			"id":     activityId,
			"type":   kind,
			"actor":  aliceIri,
			"object": json.RawMessage(noteDoc(noteIri, aliceIri, content, nil)),
		})
	}

	if err := h.HandleActivity(ctx, create("https://remote.example/activities/1", "Create", "v1")); err != nil {
		t.Fatal(err)
	}
	// A second Create under a fresh activity id does not overwrite.
	if err := h.HandleActivity(ctx, create("https://remote.example/activities/2", "Create", "v2")); err != nil {
		t.Fatal(err)
	}
	err, post := h.DB.ReadPostByIri(noteIri)
	if err != nil {
		t.Fatal(err)
	}
	if post.ContentHtml != "v1" {
		t.Errorf("Create overwrote stored post: %q", post.ContentHtml)
	}

	// An Update does.
	if err := h.HandleActivity(ctx, create("https://remote.example/activities/3", "Update", "v3")); err != nil {
		t.Fatal(err)
	}
	err, post = h.DB.ReadPostByIri(noteIri)
	if err != nil {
		t.Fatal(err)
	}
	if post.ContentHtml != "v3" {
		t.Errorf("Update did not overwrite stored post: %q", post.ContentHtml)
	}
}

func TestCreateDropsMismatchedAuthor(t *testing.T) {
	h, f, _ := newTestHandler(t)
	ctx := context.Background()

	aliceIri := "https://remote.example/users/alice"
	bobIri := "https://remote.example/users/bob"
	f.docs[aliceIri] = actorDoc(aliceIri, "alice", nil)
	f.docs[bobIri] = actorDoc(bobIri, "bob", nil)

	body := marshalActivity(t, map[string]any{
		"id":     "https://remote.example/activities/1",
		"type":   "Create",
		"actor":  bobIri,
		"object": json.RawMessage(noteDoc("https://remote.example/notes/1", aliceIri, "forged", nil)),
	})
	if err := h.HandleActivity(ctx, body); err != nil {
		t.Fatal(err)
	}
	if err, _ := h.DB.ReadPostByIri("https://remote.example/notes/1"); err != sql.ErrNoRows {
		t.Errorf("Expected forged post to be dropped, got err %v", err)
	}
}

func TestDeleteRoutesToAccountWhenObjectIsActor(t *testing.T) {
	h, f, _ := newTestHandler(t)
	ctx := context.Background()

	aliceIri := "https://remote.example/users/alice"
	alice := seedRemoteActor(t, h, f, aliceIri, "alice")
	testRemotePost(t, h, alice, "https://remote.example/notes/1")

	body := marshalActivity(t, map[string]any{
		"id":     "https://remote.example/activities/del",
		"type":   "Delete",
		"actor":  aliceIri,
		"object": aliceIri,
	})
	if err := h.HandleActivity(ctx, body); err != nil {
		t.Fatal(err)
	}
	if err, _ := h.DB.ReadAccountByIri(aliceIri); err != sql.ErrNoRows {
		t.Errorf("Expected account to be deleted, got err %v", err)
	}
	if err, _ := h.DB.ReadPostByIri("https://remote.example/notes/1"); err != sql.ErrNoRows {
		t.Errorf("Expected account's posts to cascade away, got err %v", err)
	}
}

func TestDeletePostRequiresOwningActor(t *testing.T) {
	h, f, _ := newTestHandler(t)
	ctx := context.Background()

	aliceIri := "https://remote.example/users/alice"
	bobIri := "https://remote.example/users/bob"
	alice := seedRemoteActor(t, h, f, aliceIri, "alice")
	seedRemoteActor(t, h, f, bobIri, "bob")
	post := testRemotePost(t, h, alice, "https://remote.example/notes/1")

	forged := marshalActivity(t, map[string]any{
		"id":     "https://remote.example/activities/del1",
		"type":   "Delete",
		"actor":  bobIri,
		"object": post.Iri,
	})
	if err := h.HandleActivity(ctx, forged); err != nil {
		t.Fatal(err)
	}
	if err, _ := h.DB.ReadPostByIri(post.Iri); err != nil {
		t.Fatalf("Expected post to survive forged Delete, got err %v", err)
	}

	genuine := marshalActivity(t, map[string]any{
		"id":     "https://remote.example/activities/del2",
		"type":   "Delete",
		"actor":  aliceIri,
		"object": post.Iri,
	})
	if err := h.HandleActivity(ctx, genuine); err != nil {
		t.Fatal(err)
	}
	if err, _ := h.DB.ReadPostByIri(post.Iri); err != sql.ErrNoRows {
		t.Errorf("Expected post to be deleted, got err %v", err)
	}
}

func TestUnknownActivityTypeIsDropped(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := marshalActivity(t, map[string]any{
		"id":    "https://remote.example/activities/1",
		"type":  "EmojiReact",
		"actor": "https://remote.example/users/alice",
	})
	if err := h.HandleActivity(context.Background(), body); err != nil {
		t.Fatalf("Unsupported types must not error, got %v", err)
	}
}

// testRemotePost stores a post for an already persisted remote account.
func testRemotePost(t *testing.T, h *Handler, acc *domain.Account, iri string) *domain.Post {
	t.Helper()
	now := time.Now()
	post := &domain.Post{
		Id:         newId(),
		Iri:        iri,
		Type:       domain.PostNote,
		AccountId:  acc.Id,
		Visibility: domain.VisibilityPublic,
		Published:  &now,
		Updated:    now,
	}
	err, stored := h.DB.UpsertPostGraph(post, nil, nil)
	if err != nil {
		t.Fatalf("Failed to store post %s: %v", iri, err)
	}
	return stored
}

package db

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

// setupTestDB creates an in-memory SQLite database with the full schema.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.db.Close() })
	return database
}

func testAccount(t *testing.T, database *DB, name string) *domain.Account {
	t.Helper()
	iri := fmt.Sprintf("https://remote.example/users/%s", name)
	acc := &domain.Account{
		Id:           uuid.New(),
		Iri:          iri,
		Type:         domain.AccountPerson,
		Name:         name,
		Handle:       fmt.Sprintf("@%s@remote.example", name),
		InboxUrl:     iri + "/inbox",
		FollowersUrl: iri + "/followers",
		InstanceHost: "remote.example",
		Updated:      time.Now(),
	}
	if err := database.UpsertAccount(acc); err != nil {
		t.Fatalf("Failed to upsert account %s: %v", name, err)
	}
	err, stored := database.ReadAccountByIri(iri)
	if err != nil {
		t.Fatalf("Failed to read back account %s: %v", name, err)
	}
	return stored
}

func testPost(t *testing.T, database *DB, acc *domain.Account, iri string) *domain.Post {
	t.Helper()
	now := time.Now()
	post := &domain.Post{
		Id:         uuid.New(),
		Iri:        iri,
		Type:       domain.PostNote,
		AccountId:  acc.Id,
		Visibility: domain.VisibilityPublic,
		Published:  &now,
		Updated:    now,
	}
	err, stored := database.UpsertPostGraph(post, nil, nil)
	if err != nil {
		t.Fatalf("Failed to upsert post %s: %v", iri, err)
	}
	return stored
}

func TestUpsertAccountKeepsRowIdForSameIri(t *testing.T) {
	database := setupTestDB(t)

	first := testAccount(t, database, "alice")

	update := &domain.Account{
		Id:           uuid.New(),
		Iri:          first.Iri,
		Type:         domain.AccountPerson,
		Name:         "Alice Renamed",
		Handle:       first.Handle,
		InboxUrl:     first.InboxUrl,
		InstanceHost: first.InstanceHost,
		Updated:      time.Now(),
	}
	if err := database.UpsertAccount(update); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	err, stored := database.ReadAccountByIri(first.Iri)
	if err != nil {
		t.Fatalf("Failed to read account: %v", err)
	}
	if stored.Id != first.Id {
		t.Errorf("Expected row id %s to survive upsert, got %s", first.Id, stored.Id)
	}
	if stored.Name != "Alice Renamed" {
		t.Errorf("Expected updated name, got %q", stored.Name)
	}
}

func TestSelfFollowRejected(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")

	err := database.CreateFollow(&domain.Follow{
		Iri:         "https://remote.example/follows/self",
		FollowingId: alice.Id,
		FollowerId:  alice.Id,
	})
	if err == nil {
		t.Fatal("Expected self-follow to be rejected by the schema")
	}
}

func TestDuplicateFollowIsNoop(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")

	follow := &domain.Follow{
		Iri:         "https://remote.example/follows/1",
		FollowingId: alice.Id,
		FollowerId:  bob.Id,
	}
	if err := database.CreateFollow(follow); err != nil {
		t.Fatalf("First follow failed: %v", err)
	}
	// Same pair under a fresh iri conflicts on the primary key.
	dup := &domain.Follow{
		Iri:         "https://remote.example/follows/2",
		FollowingId: alice.Id,
		FollowerId:  bob.Id,
	}
	if err := database.CreateFollow(dup); err != nil {
		t.Fatalf("Duplicate follow should be a no-op, got: %v", err)
	}

	err, stored := database.ReadFollow(alice.Id, bob.Id)
	if err != nil {
		t.Fatalf("Failed to read follow: %v", err)
	}
	if stored.Iri != "https://remote.example/follows/1" {
		t.Errorf("Expected original edge to survive, got iri %s", stored.Iri)
	}
}

func TestApproveFollowByIri(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")
	carol := testAccount(t, database, "carol")

	follow := &domain.Follow{
		Iri:         "https://remote.example/follows/1",
		FollowingId: alice.Id,
		FollowerId:  bob.Id,
	}
	if err := database.CreateFollow(follow); err != nil {
		t.Fatalf("Failed to create follow: %v", err)
	}

	// Approval matched against the wrong account must not touch the edge.
	err, approved := database.ApproveFollowByIri(follow.Iri, carol.Id)
	if err != nil {
		t.Fatalf("ApproveFollowByIri failed: %v", err)
	}
	if approved != nil {
		t.Fatal("Expected no approval for mismatched following account")
	}

	err, approved = database.ApproveFollowByIri(follow.Iri, alice.Id)
	if err != nil {
		t.Fatalf("ApproveFollowByIri failed: %v", err)
	}
	if approved == nil || approved.Approved == nil {
		t.Fatal("Expected follow to be approved")
	}
}

func TestApproveFollowByPairFallback(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")

	if err := database.CreateFollow(&domain.Follow{
		Iri:         "https://remote.example/follows/1",
		FollowingId: alice.Id,
		FollowerId:  bob.Id,
	}); err != nil {
		t.Fatalf("Failed to create follow: %v", err)
	}

	err, approved := database.ApproveFollowByPair(alice.Id, bob.Id)
	if err != nil {
		t.Fatalf("ApproveFollowByPair failed: %v", err)
	}
	if approved == nil || approved.Approved == nil {
		t.Fatal("Expected follow to be approved by pair")
	}
}

func TestDeleteFollowRequiresMatchingFollower(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")
	carol := testAccount(t, database, "carol")

	follow := &domain.Follow{
		Iri:         "https://remote.example/follows/1",
		FollowingId: alice.Id,
		FollowerId:  bob.Id,
	}
	if err := database.CreateFollow(follow); err != nil {
		t.Fatalf("Failed to create follow: %v", err)
	}

	err, deleted := database.DeleteFollowByIriAndFollower(follow.Iri, carol.Id)
	if err != nil {
		t.Fatalf("DeleteFollowByIriAndFollower failed: %v", err)
	}
	if deleted != nil {
		t.Fatal("Expected no deletion for mismatched follower")
	}

	err, deleted = database.DeleteFollowByIriAndFollower(follow.Iri, bob.Id)
	if err != nil {
		t.Fatalf("DeleteFollowByIriAndFollower failed: %v", err)
	}
	if deleted == nil {
		t.Fatal("Expected edge to be deleted")
	}
	if err, _ := database.ReadFollow(alice.Id, bob.Id); err != sql.ErrNoRows {
		t.Errorf("Expected edge to be gone, got err %v", err)
	}
}

func TestAccountStatsCountOnlyApprovedFollows(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")
	carol := testAccount(t, database, "carol")

	now := time.Now()
	if err := database.CreateFollow(&domain.Follow{
		Iri: "https://remote.example/follows/1", FollowingId: alice.Id, FollowerId: bob.Id, Approved: &now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := database.CreateFollow(&domain.Follow{
		Iri: "https://remote.example/follows/2", FollowingId: alice.Id, FollowerId: carol.Id,
	}); err != nil {
		t.Fatal(err)
	}

	if err := database.UpdateAccountStats(alice.Id); err != nil {
		t.Fatalf("UpdateAccountStats failed: %v", err)
	}
	err, stored := database.ReadAccountById(alice.Id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.FollowersCount != 1 {
		t.Errorf("Expected 1 approved follower, got %d", stored.FollowersCount)
	}
}

func TestUpsertPostGraphReplacesEdgesWholesale(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")
	carol := testAccount(t, database, "carol")

	now := time.Now()
	post := &domain.Post{
		Id:          uuid.New(),
		Iri:         "https://remote.example/posts/1",
		Type:        domain.PostNote,
		AccountId:   alice.Id,
		Visibility:  domain.VisibilityPublic,
		ContentHtml: "<p>hello</p>",
		Published:   &now,
		Updated:     now,
	}
	media := []domain.Medium{{
		Id: uuid.New(), Type: "image/png", Url: "https://remote.example/media/1.png", CreatedAt: now,
	}}
	err, first := database.UpsertPostGraph(post, []uuid.UUID{bob.Id}, media)
	if err != nil {
		t.Fatalf("First upsert failed: %v", err)
	}

	// Redelivery with an edit: fresh row id, same iri, different mention.
	edit := *post
	edit.Id = uuid.New()
	edit.ContentHtml = "<p>edited</p>"
	err, second := database.UpsertPostGraph(&edit, []uuid.UUID{carol.Id}, nil)
	if err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}

	if second.Id != first.Id {
		t.Errorf("Expected stable row id %s, got %s", first.Id, second.Id)
	}
	if second.ContentHtml != "<p>edited</p>" {
		t.Errorf("Expected edited content, got %q", second.ContentHtml)
	}

	err, mentions := database.ReadMentionsByPost(first.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(mentions) != 1 || mentions[0].AccountId != carol.Id {
		t.Errorf("Expected mentions replaced wholesale, got %v", mentions)
	}
	err, storedMedia := database.ReadMediaByPost(first.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(storedMedia) != 0 {
		t.Errorf("Expected media cleared on update, got %d rows", len(storedMedia))
	}
}

func TestPostStatsConverge(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")
	carol := testAccount(t, database, "carol")

	base := testPost(t, database, alice, "https://remote.example/posts/base")

	// Three replies, two reblogs, one like.
	var replies []*domain.Post
	for i := 0; i < 3; i++ {
		now := time.Now()
		reply := &domain.Post{
			Id:            uuid.New(),
			Iri:           fmt.Sprintf("https://remote.example/posts/reply-%d", i),
			Type:          domain.PostNote,
			AccountId:     bob.Id,
			ReplyTargetId: &base.Id,
			Visibility:    domain.VisibilityPublic,
			Published:     &now,
			Updated:       now,
		}
		err, stored := database.UpsertPostGraph(reply, nil, nil)
		if err != nil {
			t.Fatalf("Failed to insert reply %d: %v", i, err)
		}
		replies = append(replies, stored)
	}
	for i, sharer := range []*domain.Account{bob, carol} {
		now := time.Now()
		wrapper := &domain.Post{
			Id:         uuid.New(),
			Iri:        fmt.Sprintf("https://remote.example/posts/share-%d", i),
			Type:       domain.PostNote,
			AccountId:  sharer.Id,
			SharingId:  &base.Id,
			Visibility: domain.VisibilityPublic,
			Published:  &now,
			Updated:    now,
		}
		if err := database.InsertSharingPost(wrapper); err != nil {
			t.Fatalf("Failed to insert wrapper %d: %v", i, err)
		}
	}
	if err := database.CreateLike(&domain.Like{PostId: base.Id, AccountId: carol.Id, CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	if err := database.UpdatePostStats(base.Id); err != nil {
		t.Fatal(err)
	}
	err, stored := database.ReadPostById(base.Id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.RepliesCount != 3 || stored.SharesCount != 2 || stored.LikesCount != 1 {
		t.Errorf("Expected counts 3/2/1, got %d/%d/%d",
			stored.RepliesCount, stored.SharesCount, stored.LikesCount)
	}

	// Deleting a reply and recomputing converges to the new truth.
	if err, _ := database.DeletePostByIri(replies[0].Iri); err != nil {
		t.Fatal(err)
	}
	if err := database.UpdatePostStats(base.Id); err != nil {
		t.Fatal(err)
	}
	err, stored = database.ReadPostById(base.Id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.RepliesCount != 2 {
		t.Errorf("Expected 2 replies after delete, got %d", stored.RepliesCount)
	}
}

func TestDuplicateSharingPostIsNoop(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")

	base := testPost(t, database, alice, "https://remote.example/posts/base")

	now := time.Now()
	for _, iri := range []string{"https://remote.example/announces/1", "https://remote.example/announces/2"} {
		wrapper := &domain.Post{
			Id:         uuid.New(),
			Iri:        iri,
			Type:       domain.PostNote,
			AccountId:  bob.Id,
			SharingId:  &base.Id,
			Visibility: domain.VisibilityPublic,
			Published:  &now,
			Updated:    now,
		}
		if err := database.InsertSharingPost(wrapper); err != nil {
			t.Fatalf("InsertSharingPost(%s) failed: %v", iri, err)
		}
	}

	if err := database.UpdatePostStats(base.Id); err != nil {
		t.Fatal(err)
	}
	err, stored := database.ReadPostById(base.Id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.SharesCount != 1 {
		t.Errorf("Expected a single wrapper per account, got %d", stored.SharesCount)
	}

	err, wrapper := database.ReadSharingPost(bob.Id, base.Id)
	if err != nil {
		t.Fatal(err)
	}
	if wrapper.Iri != "https://remote.example/announces/1" {
		t.Errorf("Expected first wrapper to survive, got %s", wrapper.Iri)
	}
}

func TestDeletePostCascades(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")

	base := testPost(t, database, alice, "https://remote.example/posts/base")

	now := time.Now()
	reply := &domain.Post{
		Id:            uuid.New(),
		Iri:           "https://remote.example/posts/reply",
		Type:          domain.PostNote,
		AccountId:     bob.Id,
		ReplyTargetId: &base.Id,
		Visibility:    domain.VisibilityPublic,
		Published:     &now,
		Updated:       now,
	}
	if err, _ := database.UpsertPostGraph(reply, nil, nil); err != nil {
		t.Fatal(err)
	}
	wrapper := &domain.Post{
		Id:         uuid.New(),
		Iri:        "https://remote.example/announces/1",
		Type:       domain.PostNote,
		AccountId:  bob.Id,
		SharingId:  &base.Id,
		Visibility: domain.VisibilityPublic,
		Published:  &now,
		Updated:    now,
	}
	if err := database.InsertSharingPost(wrapper); err != nil {
		t.Fatal(err)
	}

	if err, _ := database.DeletePostByIri(base.Iri); err != nil {
		t.Fatal(err)
	}

	// Reply survives with its target cleared; the wrapper cascades away.
	err, storedReply := database.ReadPostByIri(reply.Iri)
	if err != nil {
		t.Fatal(err)
	}
	if storedReply.ReplyTargetId != nil {
		t.Error("Expected reply target to be cleared")
	}
	if err, _ := database.ReadPostByIri(wrapper.Iri); err != sql.ErrNoRows {
		t.Errorf("Expected wrapper to cascade away, got err %v", err)
	}
}

func TestDeleteAccountCascades(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")

	post := testPost(t, database, alice, "https://remote.example/posts/1")
	now := time.Now()
	if err := database.CreateFollow(&domain.Follow{
		Iri: "https://remote.example/follows/1", FollowingId: alice.Id, FollowerId: bob.Id, Approved: &now,
	}); err != nil {
		t.Fatal(err)
	}

	if err := database.DeleteAccountByIri(alice.Iri); err != nil {
		t.Fatal(err)
	}
	if err, _ := database.ReadPostByIri(post.Iri); err != sql.ErrNoRows {
		t.Errorf("Expected posts to cascade away, got err %v", err)
	}
	if err, _ := database.ReadFollow(alice.Id, bob.Id); err != sql.ErrNoRows {
		t.Errorf("Expected follows to cascade away, got err %v", err)
	}
}

func TestPostIdempotenceKeyLookup(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")

	now := time.Now()
	post := &domain.Post{
		Id:             uuid.New(),
		Iri:            "https://remote.example/posts/1",
		Type:           domain.PostNote,
		AccountId:      alice.Id,
		Visibility:     domain.VisibilityPublic,
		IdempotenceKey: "client-key-1",
		Published:      &now,
		Updated:        now,
	}
	if err, _ := database.UpsertPostGraph(post, nil, nil); err != nil {
		t.Fatal(err)
	}

	err, found := database.ReadPostByIdempotence(alice.Id, "client-key-1")
	if err != nil {
		t.Fatalf("Expected idempotence hit, got err %v", err)
	}
	if found.Iri != post.Iri {
		t.Errorf("Expected %s, got %s", post.Iri, found.Iri)
	}
	if err, _ := database.ReadPostByIdempotence(alice.Id, "other-key"); err != sql.ErrNoRows {
		t.Errorf("Expected miss for unknown key, got err %v", err)
	}
}

func TestActivityLogDedup(t *testing.T) {
	database := setupTestDB(t)

	record := &domain.ActivityRecord{
		Id:           uuid.New(),
		ActivityURI:  "https://remote.example/activities/1",
		ActivityType: "Create",
		ActorURI:     "https://remote.example/users/alice",
		CreatedAt:    time.Now(),
	}
	if err := database.CreateActivity(record); err != nil {
		t.Fatal(err)
	}

	err, stored := database.ReadActivityByURI(record.ActivityURI)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Processed {
		t.Error("Expected fresh record to be unprocessed")
	}

	stored.Processed = true
	if err := database.UpdateActivity(stored); err != nil {
		t.Fatal(err)
	}
	err, stored = database.ReadActivityByURI(record.ActivityURI)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.Processed {
		t.Error("Expected record to be marked processed")
	}
}

func TestDeliveryQueueRetryWindow(t *testing.T) {
	database := setupTestDB(t)

	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     "https://remote.example/inbox",
		ActivityJSON: "{}",
		SignAs:       "admin",
		NextRetryAt:  time.Now().Add(-time.Minute),
		CreatedAt:    time.Now(),
	}
	if err := database.EnqueueDelivery(item); err != nil {
		t.Fatal(err)
	}

	err, pending := database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("Expected 1 pending delivery, got %d", len(pending))
	}

	// Pushed into the future it disappears from the pending set.
	if err := database.UpdateDeliveryAttempt(item.Id, 1, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	err, pending = database.ReadPendingDeliveries(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("Expected no pending deliveries, got %d", len(pending))
	}

	if err := database.DeleteDelivery(item.Id); err != nil {
		t.Fatal(err)
	}
}

func TestTimelineAppendIsIdempotent(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	post := testPost(t, database, alice, "https://remote.example/posts/1")

	for i := 0; i < 2; i++ {
		if err := database.AppendTimelinePost(alice.Id, post.Id); err != nil {
			t.Fatalf("AppendTimelinePost failed: %v", err)
		}
	}

	err, ids := database.ReadTimelinePostIds(alice.Id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("Expected 1 timeline row, got %d", len(ids))
	}
}

func TestListsMembership(t *testing.T) {
	database := setupTestDB(t)
	alice := testAccount(t, database, "alice")
	bob := testAccount(t, database, "bob")

	if err := database.CreateOwner(&domain.AccountOwner{
		Id: alice.Id, Handle: "alice", PrivateKeyPem: "priv", PublicKeyPem: "pub",
		Visibility: "public", Language: "en",
	}); err != nil {
		t.Fatal(err)
	}

	list := &domain.List{
		Id:            uuid.New(),
		OwnerId:       alice.Id,
		Title:         "science",
		RepliesPolicy: domain.RepliesPolicyList,
		Exclusive:     true,
	}
	if err := database.CreateList(list); err != nil {
		t.Fatal(err)
	}
	if err := database.AddListMember(list.Id, bob.Id); err != nil {
		t.Fatal(err)
	}

	err, containing := database.ReadListsContaining(bob.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(containing) != 1 || containing[0] != list.Id {
		t.Errorf("Expected bob in list %s, got %v", list.Id, containing)
	}

	err, lists := database.ReadListsByOwner(alice.Id)
	if err != nil {
		t.Fatal(err)
	}
	if len(lists) != 1 || !lists[0].Exclusive {
		t.Errorf("Expected one exclusive list, got %v", lists)
	}
}

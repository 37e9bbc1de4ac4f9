package db

import (
	"database/sql"
	"log"
)

const (
	sqlCreateAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
		id TEXT NOT NULL PRIMARY KEY,
		iri TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL DEFAULT 'Person',
		name TEXT NOT NULL DEFAULT '',
		handle TEXT UNIQUE NOT NULL,
		bio_html TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		protected INTEGER NOT NULL DEFAULT 0,
		avatar_url TEXT NOT NULL DEFAULT '',
		inbox_url TEXT NOT NULL DEFAULT '',
		shared_inbox_url TEXT NOT NULL DEFAULT '',
		followers_url TEXT NOT NULL DEFAULT '',
		following_count INTEGER NOT NULL DEFAULT 0,
		followers_count INTEGER NOT NULL DEFAULT 0,
		posts_count INTEGER NOT NULL DEFAULT 0,
		successor_id TEXT REFERENCES accounts(id) ON DELETE CASCADE,
		aliases TEXT NOT NULL DEFAULT '[]',
		instance_host TEXT NOT NULL DEFAULT '',
		published TIMESTAMP,
		updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateAccountsIndices = `
		CREATE INDEX IF NOT EXISTS idx_accounts_iri ON accounts(iri);
		CREATE INDEX IF NOT EXISTS idx_accounts_handle ON accounts(handle);
		CREATE INDEX IF NOT EXISTS idx_accounts_instance_host ON accounts(instance_host);
	`

	sqlCreateAccountOwnersTable = `CREATE TABLE IF NOT EXISTS account_owners (
		id TEXT NOT NULL PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		handle TEXT UNIQUE NOT NULL,
		private_key_pem TEXT NOT NULL,
		public_key_pem TEXT NOT NULL,
		bio TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'public',
		language TEXT NOT NULL DEFAULT 'en',
		discoverable INTEGER NOT NULL DEFAULT 0
	)`

	sqlCreatePostsTable = `CREATE TABLE IF NOT EXISTS posts (
		id TEXT NOT NULL PRIMARY KEY,
		iri TEXT UNIQUE NOT NULL,
		type TEXT NOT NULL DEFAULT 'Note',
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		reply_target_id TEXT REFERENCES posts(id) ON DELETE SET NULL,
		sharing_id TEXT REFERENCES posts(id) ON DELETE CASCADE,
		quote_target_id TEXT REFERENCES posts(id) ON DELETE SET NULL,
		visibility TEXT NOT NULL DEFAULT 'public',
		summary TEXT NOT NULL DEFAULT '',
		content_html TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		sensitive INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		replies_count INTEGER NOT NULL DEFAULT 0,
		shares_count INTEGER NOT NULL DEFAULT 0,
		likes_count INTEGER NOT NULL DEFAULT 0,
		idempotence_key TEXT NOT NULL DEFAULT '',
		published TIMESTAMP,
		updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(account_id, sharing_id)
	)`

	sqlCreatePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_posts_iri ON posts(iri);
		CREATE INDEX IF NOT EXISTS idx_posts_account_id ON posts(account_id);
		CREATE INDEX IF NOT EXISTS idx_posts_reply_target_id ON posts(reply_target_id);
		CREATE INDEX IF NOT EXISTS idx_posts_sharing_id ON posts(sharing_id);
		CREATE INDEX IF NOT EXISTS idx_posts_visibility_account ON posts(visibility, account_id);
	`

	sqlCreateFollowsTable = `CREATE TABLE IF NOT EXISTS follows (
		iri TEXT UNIQUE NOT NULL,
		following_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		follower_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		shares INTEGER NOT NULL DEFAULT 1,
		notify INTEGER NOT NULL DEFAULT 0,
		languages TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		approved TIMESTAMP,
		PRIMARY KEY (following_id, follower_id),
		CHECK (following_id != follower_id)
	)`

	sqlCreateFollowsIndices = `
		CREATE INDEX IF NOT EXISTS idx_follows_iri ON follows(iri);
		CREATE INDEX IF NOT EXISTS idx_follows_follower_id ON follows(follower_id);
	`

	sqlCreateMentionsTable = `CREATE TABLE IF NOT EXISTS mentions (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		PRIMARY KEY (post_id, account_id)
	)`

	sqlCreateMediaTable = `CREATE TABLE IF NOT EXISTS media (
		id TEXT NOT NULL PRIMARY KEY,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		url TEXT NOT NULL,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		description TEXT NOT NULL DEFAULT '',
		thumbnail_type TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		thumbnail_width INTEGER NOT NULL DEFAULT 0,
		thumbnail_height INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateMediaIndices = `
		CREATE INDEX IF NOT EXISTS idx_media_post_id ON media(post_id);
	`

	sqlCreateLikesTable = `CREATE TABLE IF NOT EXISTS likes (
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (post_id, account_id)
	)`

	sqlCreateListsTable = `CREATE TABLE IF NOT EXISTS lists (
		id TEXT NOT NULL PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES account_owners(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		replies_policy TEXT NOT NULL DEFAULT 'list',
		exclusive INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateListMembersTable = `CREATE TABLE IF NOT EXISTS list_members (
		list_id TEXT NOT NULL REFERENCES lists(id) ON DELETE CASCADE,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (list_id, account_id)
	)`

	sqlCreateTimelinePostsTable = `CREATE TABLE IF NOT EXISTS timeline_posts (
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (account_id, post_id)
	)`

	sqlCreateTimelinePostsIndices = `
		CREATE INDEX IF NOT EXISTS idx_timeline_posts_account ON timeline_posts(account_id, created_at DESC);
	`

	// Activities log table (for deduplication & debugging)
	sqlCreateActivitiesTable = `CREATE TABLE IF NOT EXISTS activities (
		id TEXT NOT NULL PRIMARY KEY,
		activity_uri TEXT UNIQUE NOT NULL,
		activity_type TEXT NOT NULL,
		actor_uri TEXT NOT NULL DEFAULT '',
		object_uri TEXT NOT NULL DEFAULT '',
		raw_json TEXT NOT NULL DEFAULT '',
		processed INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		local INTEGER NOT NULL DEFAULT 0
	)`

	sqlCreateActivitiesIndices = `
		CREATE INDEX IF NOT EXISTS idx_activities_uri ON activities(activity_uri);
		CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at DESC);
	`

	sqlCreateDeliveryQueueTable = `CREATE TABLE IF NOT EXISTS delivery_queue (
		id TEXT NOT NULL PRIMARY KEY,
		inbox_uri TEXT NOT NULL,
		activity_json TEXT NOT NULL,
		sign_as TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

	sqlCreateDeliveryQueueIndices = `
		CREATE INDEX IF NOT EXISTS idx_delivery_queue_next_retry ON delivery_queue(next_retry_at);
	`
)

// RunMigrations creates all tables and indices if they don't exist
func (db *DB) RunMigrations() error {
	migrations := []struct {
		name string
		sql  string
	}{
		{"accounts table", sqlCreateAccountsTable},
		{"accounts indices", sqlCreateAccountsIndices},
		{"account_owners table", sqlCreateAccountOwnersTable},
		{"posts table", sqlCreatePostsTable},
		{"posts indices", sqlCreatePostsIndices},
		{"follows table", sqlCreateFollowsTable},
		{"follows indices", sqlCreateFollowsIndices},
		{"mentions table", sqlCreateMentionsTable},
		{"media table", sqlCreateMediaTable},
		{"media indices", sqlCreateMediaIndices},
		{"likes table", sqlCreateLikesTable},
		{"lists table", sqlCreateListsTable},
		{"list_members table", sqlCreateListMembersTable},
		{"timeline_posts table", sqlCreateTimelinePostsTable},
		{"timeline_posts indices", sqlCreateTimelinePostsIndices},
		{"activities table", sqlCreateActivitiesTable},
		{"activities indices", sqlCreateActivitiesIndices},
		{"delivery_queue table", sqlCreateDeliveryQueueTable},
		{"delivery_queue indices", sqlCreateDeliveryQueueIndices},
	}

	return db.wrapTransaction(func(tx *sql.Tx) error {
		for _, m := range migrations {
			if _, err := tx.Exec(m.sql); err != nil {
				log.Printf("Migration %q failed: %v", m.name, err)
				return err
			}
		}
		return nil
	})
}

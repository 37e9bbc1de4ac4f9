package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertAccount = `INSERT INTO accounts(
		id, iri, type, name, handle, bio_html, url, protected, avatar_url,
		inbox_url, shared_inbox_url, followers_url, successor_id, aliases,
		instance_host, published, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(iri) DO UPDATE SET
			type = excluded.type,
			name = excluded.name,
			handle = excluded.handle,
			bio_html = excluded.bio_html,
			url = excluded.url,
			protected = excluded.protected,
			avatar_url = excluded.avatar_url,
			inbox_url = excluded.inbox_url,
			shared_inbox_url = excluded.shared_inbox_url,
			followers_url = excluded.followers_url,
			successor_id = excluded.successor_id,
			aliases = excluded.aliases,
			instance_host = excluded.instance_host,
			published = excluded.published,
			updated = excluded.updated`

	sqlSelectAccount = `SELECT id, iri, type, name, handle, bio_html, url, protected,
		avatar_url, inbox_url, shared_inbox_url, followers_url, following_count,
		followers_count, posts_count, successor_id, aliases, instance_host,
		published, updated FROM accounts`

	sqlSelectAccountByIri    = sqlSelectAccount + ` WHERE iri = ?`
	sqlSelectAccountById     = sqlSelectAccount + ` WHERE id = ?`
	sqlSelectAccountByHandle = sqlSelectAccount + ` WHERE handle = ?`

	sqlDeleteAccountByIri = `DELETE FROM accounts WHERE iri = ?`

	sqlUpdateAccountStats = `UPDATE accounts SET
		followers_count = (SELECT count(*) FROM follows WHERE following_id = accounts.id AND approved IS NOT NULL),
		following_count = (SELECT count(*) FROM follows WHERE follower_id = accounts.id AND approved IS NOT NULL),
		posts_count = (SELECT count(*) FROM posts WHERE account_id = accounts.id)
		WHERE id = ?`

	sqlInsertOwner = `INSERT INTO account_owners(id, handle, private_key_pem, public_key_pem, bio, visibility, language, discoverable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlSelectOwner = `SELECT id, handle, private_key_pem, public_key_pem, bio, visibility, language, discoverable FROM account_owners`

	sqlSelectOwnerById     = sqlSelectOwner + ` WHERE id = ?`
	sqlSelectOwnerByHandle = sqlSelectOwner + ` WHERE handle = ?`
)

func scanAccount(row interface{ Scan(...any) error }) (error, *domain.Account) {
	var acc domain.Account
	var successor sql.NullString
	var aliases string
	var published sql.NullTime
	err := row.Scan(&acc.Id, &acc.Iri, &acc.Type, &acc.Name, &acc.Handle,
		&acc.BioHtml, &acc.Url, &acc.Protected, &acc.AvatarUrl, &acc.InboxUrl,
		&acc.SharedInboxUrl, &acc.FollowersUrl, &acc.FollowingCount,
		&acc.FollowersCount, &acc.PostsCount, &successor, &aliases,
		&acc.InstanceHost, &published, &acc.Updated)
	if err != nil {
		return err, nil
	}
	if successor.Valid {
		id, perr := uuid.Parse(successor.String)
		if perr == nil {
			acc.SuccessorId = &id
		}
	}
	if aliases != "" {
		json.Unmarshal([]byte(aliases), &acc.Aliases)
	}
	if published.Valid {
		t := published.Time
		acc.Published = &t
	}
	return nil, &acc
}

// UpsertAccount creates or updates an account keyed by its iri. The row id
// is only used on first insert; a conflicting iri keeps its existing id.
func (db *DB) UpsertAccount(acc *domain.Account) error {
	aliases, err := json.Marshal(acc.Aliases)
	if err != nil {
		return err
	}
	var successor any
	if acc.SuccessorId != nil {
		successor = acc.SuccessorId.String()
	}
	var published any
	if acc.Published != nil {
		published = *acc.Published
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertAccount,
			acc.Id, acc.Iri, acc.Type, acc.Name, acc.Handle, acc.BioHtml,
			acc.Url, acc.Protected, acc.AvatarUrl, acc.InboxUrl,
			acc.SharedInboxUrl, acc.FollowersUrl, successor, string(aliases),
			acc.InstanceHost, published, acc.Updated)
		return err
	})
}

func (db *DB) ReadAccountByIri(iri string) (error, *domain.Account) {
	return scanAccount(db.db.QueryRow(sqlSelectAccountByIri, iri))
}

func (db *DB) ReadAccountById(id uuid.UUID) (error, *domain.Account) {
	return scanAccount(db.db.QueryRow(sqlSelectAccountById, id))
}

func (db *DB) ReadAccountByHandle(handle string) (error, *domain.Account) {
	return scanAccount(db.db.QueryRow(sqlSelectAccountByHandle, handle))
}

// DeleteAccountByIri removes an account; posts, follows, mentions and likes
// cascade away with it.
func (db *DB) DeleteAccountByIri(iri string) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteAccountByIri, iri)
		return err
	})
}

// UpdateAccountStats recomputes the cached follower/following/post counters
// by direct count queries. Counters are never trusted increments, so
// redelivery and out-of-order processing converge to the same values.
func (db *DB) UpdateAccountStats(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateAccountStats, id)
		return err
	})
}

// CreateOwner attaches local credentials to an existing account row, which
// marks the account as local.
func (db *DB) CreateOwner(owner *domain.AccountOwner) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertOwner, owner.Id, owner.Handle,
			owner.PrivateKeyPem, owner.PublicKeyPem, owner.Bio,
			owner.Visibility, owner.Language, owner.Discoverable)
		return err
	})
}

func scanOwner(row interface{ Scan(...any) error }) (error, *domain.AccountOwner) {
	var owner domain.AccountOwner
	err := row.Scan(&owner.Id, &owner.Handle, &owner.PrivateKeyPem,
		&owner.PublicKeyPem, &owner.Bio, &owner.Visibility, &owner.Language,
		&owner.Discoverable)
	if err != nil {
		return err, nil
	}
	return nil, &owner
}

func (db *DB) ReadOwnerById(id uuid.UUID) (error, *domain.AccountOwner) {
	return scanOwner(db.db.QueryRow(sqlSelectOwnerById, id))
}

func (db *DB) ReadOwnerByHandle(handle string) (error, *domain.AccountOwner) {
	return scanOwner(db.db.QueryRow(sqlSelectOwnerByHandle, handle))
}

// HasOwner reports whether the account with the given id is local.
func (db *DB) HasOwner(id uuid.UUID) bool {
	err, owner := db.ReadOwnerById(id)
	return err == nil && owner != nil
}

// CreateLocalAccount inserts an account row together with its owner
// extension in one transaction.
func (db *DB) CreateLocalAccount(acc *domain.Account, owner *domain.AccountOwner) error {
	aliases, err := json.Marshal(acc.Aliases)
	if err != nil {
		return err
	}
	if acc.Updated.IsZero() {
		acc.Updated = time.Now()
	}
	var published any
	if acc.Published != nil {
		published = *acc.Published
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlInsertAccount,
			acc.Id, acc.Iri, acc.Type, acc.Name, acc.Handle, acc.BioHtml,
			acc.Url, acc.Protected, acc.AvatarUrl, acc.InboxUrl,
			acc.SharedInboxUrl, acc.FollowersUrl, nil, string(aliases),
			acc.InstanceHost, published, acc.Updated); err != nil {
			return err
		}
		_, err := tx.Exec(sqlInsertOwner, owner.Id, owner.Handle,
			owner.PrivateKeyPem, owner.PublicKeyPem, owner.Bio,
			owner.Visibility, owner.Language, owner.Discoverable)
		return err
	})
}

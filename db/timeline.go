package db

import (
	"database/sql"
	"time"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertTimelinePost = `INSERT INTO timeline_posts(account_id, post_id, created_at)
		VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlSelectTimelinePostIds = `SELECT post_id FROM timeline_posts WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`

	sqlInsertList = `INSERT INTO lists(id, owner_id, title, replies_policy, exclusive, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	sqlSelectListsByOwner = `SELECT id, owner_id, title, replies_policy, exclusive, created_at FROM lists WHERE owner_id = ?`
	sqlDeleteList         = `DELETE FROM lists WHERE id = ? AND owner_id = ?`

	sqlInsertListMember = `INSERT INTO list_members(list_id, account_id, created_at)
		VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlDeleteListMember        = `DELETE FROM list_members WHERE list_id = ? AND account_id = ?`
	sqlSelectListsWithAccount  = `SELECT list_id FROM list_members WHERE account_id = ?`
	sqlSelectListMemberAccount = `SELECT account_id FROM list_members WHERE list_id = ?`
)

// AppendTimelinePost writes one delivery-index row; redelivery is a no-op.
func (db *DB) AppendTimelinePost(accountId, postId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertTimelinePost, accountId, postId, time.Now())
		return err
	})
}

func (db *DB) ReadTimelinePostIds(accountId uuid.UUID, limit int) (error, []uuid.UUID) {
	return db.readIdColumn(sqlSelectTimelinePostIds, accountId, limit)
}

func (db *DB) CreateList(list *domain.List) error {
	if list.CreatedAt.IsZero() {
		list.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertList, list.Id, list.OwnerId, list.Title,
			list.RepliesPolicy, list.Exclusive, list.CreatedAt)
		return err
	})
}

func (db *DB) ReadListsByOwner(ownerId uuid.UUID) (error, []domain.List) {
	rows, err := db.db.Query(sqlSelectListsByOwner, ownerId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var lists []domain.List
	for rows.Next() {
		var l domain.List
		if err := rows.Scan(&l.Id, &l.OwnerId, &l.Title, &l.RepliesPolicy,
			&l.Exclusive, &l.CreatedAt); err != nil {
			return err, lists
		}
		lists = append(lists, l)
	}
	return rows.Err(), lists
}

func (db *DB) DeleteList(id, ownerId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteList, id, ownerId)
		return err
	})
}

func (db *DB) AddListMember(listId, accountId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertListMember, listId, accountId, time.Now())
		return err
	})
}

func (db *DB) RemoveListMember(listId, accountId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteListMember, listId, accountId)
		return err
	})
}

// ReadListsContaining returns the ids of lists that include the account.
func (db *DB) ReadListsContaining(accountId uuid.UUID) (error, []uuid.UUID) {
	return db.readIdColumn(sqlSelectListsWithAccount, accountId)
}

func (db *DB) ReadListMembers(listId uuid.UUID) (error, []uuid.UUID) {
	return db.readIdColumn(sqlSelectListMemberAccount, listId)
}

func (db *DB) readIdColumn(query string, args ...any) (error, []uuid.UUID) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err, ids
		}
		ids = append(ids, id)
	}
	return rows.Err(), ids
}

package db

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertFollow = `INSERT INTO follows(iri, following_id, follower_id, shares, notify, languages, created_at, approved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`

	sqlSelectFollow = `SELECT iri, following_id, follower_id, shares, notify, languages, created_at, approved FROM follows`

	sqlSelectFollowByPair        = sqlSelectFollow + ` WHERE following_id = ? AND follower_id = ?`
	sqlSelectFollowByIri         = sqlSelectFollow + ` WHERE iri = ?`
	sqlSelectFollowersOf         = sqlSelectFollow + ` WHERE following_id = ?`
	sqlSelectApprovedFollowersOf = sqlSelectFollow + ` WHERE following_id = ? AND approved IS NOT NULL`

	sqlApproveFollowByIri  = `UPDATE follows SET approved = ? WHERE iri = ? AND following_id = ? AND approved IS NULL`
	sqlApproveFollowByPair = `UPDATE follows SET approved = ? WHERE following_id = ? AND follower_id = ? AND approved IS NULL`

	sqlDeleteFollowByIriAndFollower  = `DELETE FROM follows WHERE iri = ? AND follower_id = ?`
	sqlDeleteFollowByIriAndFollowing = `DELETE FROM follows WHERE iri = ? AND following_id = ?`
	sqlDeleteFollowByPair            = `DELETE FROM follows WHERE following_id = ? AND follower_id = ?`
)

func scanFollow(row interface{ Scan(...any) error }) (error, *domain.Follow) {
	var f domain.Follow
	var languages sql.NullString
	var approved sql.NullTime
	err := row.Scan(&f.Iri, &f.FollowingId, &f.FollowerId, &f.Shares,
		&f.Notify, &languages, &f.CreatedAt, &approved)
	if err != nil {
		return err, nil
	}
	if languages.Valid && languages.String != "" {
		json.Unmarshal([]byte(languages.String), &f.Languages)
	}
	if approved.Valid {
		t := approved.Time
		f.Approved = &t
	}
	return nil, &f
}

// CreateFollow inserts a follow edge; a duplicate pair or iri is a no-op,
// never an error.
func (db *DB) CreateFollow(f *domain.Follow) error {
	var languages any
	if f.Languages != nil {
		b, err := json.Marshal(f.Languages)
		if err != nil {
			return err
		}
		languages = string(b)
	}
	var approved any
	if f.Approved != nil {
		approved = *f.Approved
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertFollow, f.Iri, f.FollowingId, f.FollowerId,
			f.Shares, f.Notify, languages, f.CreatedAt, approved)
		return err
	})
}

func (db *DB) ReadFollow(followingId, followerId uuid.UUID) (error, *domain.Follow) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByPair, followingId, followerId))
}

func (db *DB) ReadFollowByIri(iri string) (error, *domain.Follow) {
	return scanFollow(db.db.QueryRow(sqlSelectFollowByIri, iri))
}

// ApproveFollowByIri marks a pending follow approved, matched by the follow
// activity's iri and the account being followed. Returns the affected edge,
// or nil when nothing matched.
func (db *DB) ApproveFollowByIri(iri string, followingId uuid.UUID) (error, *domain.Follow) {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlApproveFollowByIri, time.Now(), iri, followingId)
		return err
	})
	if err != nil {
		return err, nil
	}
	err, follow := db.ReadFollowByIri(iri)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if follow != nil && (follow.FollowingId != followingId || follow.Approved == nil) {
		return nil, nil
	}
	return err, follow
}

// ApproveFollowByPair is the fallback for servers that echo back a
// reconstructed Follow object instead of its iri.
func (db *DB) ApproveFollowByPair(followingId, followerId uuid.UUID) (error, *domain.Follow) {
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlApproveFollowByPair, time.Now(), followingId, followerId)
		return err
	})
	if err != nil {
		return err, nil
	}
	err, follow := db.ReadFollow(followingId, followerId)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return err, follow
}

// DeleteFollowByIriAndFollower removes the edge keyed by (iri, followerId)
// and returns it, or nil when nothing matched.
func (db *DB) DeleteFollowByIriAndFollower(iri string, followerId uuid.UUID) (error, *domain.Follow) {
	err, follow := db.ReadFollowByIri(iri)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	if follow.FollowerId != followerId {
		return nil, nil
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByIriAndFollower, iri, followerId)
		return err
	})
	return err, follow
}

// DeleteFollowByIriAndFollowing removes a rejected follow request matched
// by iri and the rejecting account, returning it when found.
func (db *DB) DeleteFollowByIriAndFollowing(iri string, followingId uuid.UUID) (error, *domain.Follow) {
	err, follow := db.ReadFollowByIri(iri)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	if follow.FollowingId != followingId {
		return nil, nil
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByIriAndFollowing, iri, followingId)
		return err
	})
	return err, follow
}

func (db *DB) DeleteFollowByPair(followingId, followerId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteFollowByPair, followingId, followerId)
		return err
	})
}

func (db *DB) readFollows(query string, args ...any) (error, []domain.Follow) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var result []domain.Follow
	for rows.Next() {
		err, f := scanFollow(rows)
		if err != nil {
			return err, result
		}
		result = append(result, *f)
	}
	return rows.Err(), result
}

// ReadFollowersOf returns every follow edge, pending included, pointing at
// the given account.
func (db *DB) ReadFollowersOf(followingId uuid.UUID) (error, []domain.Follow) {
	return db.readFollows(sqlSelectFollowersOf, followingId)
}

// ReadApprovedFollowersOf returns only approved follower edges.
func (db *DB) ReadApprovedFollowersOf(followingId uuid.UUID) (error, []domain.Follow) {
	return db.readFollows(sqlSelectApprovedFollowersOf, followingId)
}

package db

import (
	"database/sql"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertPost = `INSERT INTO posts(
		id, iri, type, account_id, reply_target_id, sharing_id, quote_target_id,
		visibility, summary, content_html, content, language, sensitive, url,
		replies_count, shares_count, likes_count, idempotence_key, published, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(iri) DO UPDATE SET
			type = excluded.type,
			account_id = excluded.account_id,
			reply_target_id = excluded.reply_target_id,
			sharing_id = excluded.sharing_id,
			quote_target_id = excluded.quote_target_id,
			visibility = excluded.visibility,
			summary = excluded.summary,
			content_html = excluded.content_html,
			content = excluded.content,
			language = excluded.language,
			sensitive = excluded.sensitive,
			url = excluded.url,
			replies_count = excluded.replies_count,
			shares_count = excluded.shares_count,
			likes_count = excluded.likes_count,
			published = excluded.published,
			updated = excluded.updated`

	sqlInsertSharingPost = `INSERT INTO posts(
		id, iri, type, account_id, reply_target_id, sharing_id, quote_target_id,
		visibility, summary, content_html, content, language, sensitive, url,
		replies_count, shares_count, likes_count, idempotence_key, published, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`

	sqlSelectPost = `SELECT id, iri, type, account_id, reply_target_id, sharing_id,
		quote_target_id, visibility, summary, content_html, content, language,
		sensitive, url, replies_count, shares_count, likes_count,
		idempotence_key, published, updated FROM posts`

	sqlSelectPostByIri         = sqlSelectPost + ` WHERE iri = ?`
	sqlSelectPostByIdempotence = sqlSelectPost + ` WHERE account_id = ? AND idempotence_key = ?`
	sqlSelectPostById          = sqlSelectPost + ` WHERE id = ?`
	sqlSelectPostIdByIri       = `SELECT id FROM posts WHERE iri = ?`
	sqlSelectRepliesOfPost     = sqlSelectPost + ` WHERE reply_target_id = ? ORDER BY published`
	sqlSelectSharingPost       = sqlSelectPost + ` WHERE account_id = ? AND sharing_id = ?`

	sqlSelectPublicPostsByAccount = sqlSelectPost + ` WHERE account_id = ? AND visibility = 'public' AND sharing_id IS NULL ORDER BY published DESC LIMIT ?`
	sqlSelectRecentPublicPosts    = sqlSelectPost + ` WHERE visibility = 'public' AND sharing_id IS NULL ORDER BY published DESC LIMIT ?`

	sqlDeletePostByIri      = `DELETE FROM posts WHERE iri = ?`
	sqlDeleteSharingPost    = `DELETE FROM posts WHERE account_id = ? AND sharing_id = ?`
	sqlDeleteMentionsByPost = `DELETE FROM mentions WHERE post_id = ?`
	sqlInsertMention        = `INSERT INTO mentions(post_id, account_id) VALUES (?, ?) ON CONFLICT DO NOTHING`
	sqlSelectMentionsByPost = `SELECT post_id, account_id FROM mentions WHERE post_id = ?`
	sqlDeleteMediaByPost    = `DELETE FROM media WHERE post_id = ?`
	sqlInsertMedium         = `INSERT INTO media(id, post_id, type, url, width, height, description,
		thumbnail_type, thumbnail_url, thumbnail_width, thumbnail_height, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectMediaByPost = `SELECT id, post_id, type, url, width, height, description,
		thumbnail_type, thumbnail_url, thumbnail_width, thumbnail_height, created_at
		FROM media WHERE post_id = ?`

	sqlInsertLike = `INSERT INTO likes(post_id, account_id, created_at) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	sqlDeleteLike = `DELETE FROM likes WHERE post_id = ? AND account_id = ?`

	sqlUpdatePostStats = `UPDATE posts SET
		replies_count = (SELECT count(*) FROM posts p WHERE p.reply_target_id = posts.id),
		shares_count = (SELECT count(*) FROM posts p WHERE p.sharing_id = posts.id),
		likes_count = (SELECT count(*) FROM likes l WHERE l.post_id = posts.id)
		WHERE id = ?`
)

func scanPost(row interface{ Scan(...any) error }) (error, *domain.Post) {
	var p domain.Post
	var replyTarget, sharing, quoteTarget sql.NullString
	var published sql.NullTime
	err := row.Scan(&p.Id, &p.Iri, &p.Type, &p.AccountId, &replyTarget,
		&sharing, &quoteTarget, &p.Visibility, &p.Summary, &p.ContentHtml,
		&p.Content, &p.Language, &p.Sensitive, &p.Url, &p.RepliesCount,
		&p.SharesCount, &p.LikesCount, &p.IdempotenceKey, &published,
		&p.Updated)
	if err != nil {
		return err, nil
	}
	p.ReplyTargetId = parseNullId(replyTarget)
	p.SharingId = parseNullId(sharing)
	p.QuoteTargetId = parseNullId(quoteTarget)
	if published.Valid {
		t := published.Time
		p.Published = &t
	}
	return nil, &p
}

func parseNullId(s sql.NullString) *uuid.UUID {
	if !s.Valid || s.String == "" {
		return nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil
	}
	return &id
}

func nullId(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func postArgs(p *domain.Post) []any {
	var published any
	if p.Published != nil {
		published = *p.Published
	}
	return []any{
		p.Id, p.Iri, p.Type, p.AccountId, nullId(p.ReplyTargetId),
		nullId(p.SharingId), nullId(p.QuoteTargetId), p.Visibility, p.Summary,
		p.ContentHtml, p.Content, p.Language, p.Sensitive, p.Url,
		p.RepliesCount, p.SharesCount, p.LikesCount, p.IdempotenceKey,
		published, p.Updated,
	}
}

// UpsertPostGraph writes a post together with its mention and media edges in
// a single transaction. The post is upserted by iri (a conflicting iri keeps
// its row id), and mention/media edges are replaced wholesale. Returns the
// stored row, whose id may differ from post.Id when the iri already existed.
func (db *DB) UpsertPostGraph(post *domain.Post, mentionAccountIds []uuid.UUID, media []domain.Medium) (error, *domain.Post) {
	var stored *domain.Post
	err := db.wrapTransaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(sqlInsertPost, postArgs(post)...); err != nil {
			return err
		}
		err, p := scanPost(tx.QueryRow(sqlSelectPostByIri, post.Iri))
		if err != nil {
			return err
		}
		stored = p
		if _, err := tx.Exec(sqlDeleteMentionsByPost, p.Id); err != nil {
			return err
		}
		for _, accountId := range mentionAccountIds {
			if _, err := tx.Exec(sqlInsertMention, p.Id, accountId); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(sqlDeleteMediaByPost, p.Id); err != nil {
			return err
		}
		for _, m := range media {
			if _, err := tx.Exec(sqlInsertMedium, m.Id, p.Id, m.Type, m.Url,
				m.Width, m.Height, m.Description, m.ThumbnailType,
				m.ThumbnailUrl, m.ThumbnailWidth, m.ThumbnailHeight,
				m.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
	return err, stored
}

// InsertSharingPost creates the reblog wrapper row. Duplicate wrappers
// (same iri, or same account sharing the same post twice) are no-ops.
func (db *DB) InsertSharingPost(post *domain.Post) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertSharingPost, postArgs(post)...)
		return err
	})
}

func (db *DB) ReadPostByIri(iri string) (error, *domain.Post) {
	return scanPost(db.db.QueryRow(sqlSelectPostByIri, iri))
}

func (db *DB) ReadPostById(id uuid.UUID) (error, *domain.Post) {
	return scanPost(db.db.QueryRow(sqlSelectPostById, id))
}

// ReadPostByIdempotence finds an account's post created under the given
// idempotence key, so a retried local create returns the stored row instead
// of minting a duplicate.
func (db *DB) ReadPostByIdempotence(accountId uuid.UUID, key string) (error, *domain.Post) {
	return scanPost(db.db.QueryRow(sqlSelectPostByIdempotence, accountId, key))
}

// ReadPostIdByIri resolves just the row id for a stored iri, or nil.
func (db *DB) ReadPostIdByIri(iri string) *uuid.UUID {
	var raw string
	err := db.db.QueryRow(sqlSelectPostIdByIri, iri).Scan(&raw)
	if err != nil {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

// DeletePostByIri removes a post and returns the deleted row so callers can
// recompute the reply/sharing targets' counters. Mentions, media and likes
// cascade away.
func (db *DB) DeletePostByIri(iri string) (error, *domain.Post) {
	err, post := db.ReadPostByIri(iri)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return err, nil
	}
	err = db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeletePostByIri, iri)
		return err
	})
	return err, post
}

// ReadSharingPost finds the reblog wrapper a given account created for the
// given original post.
func (db *DB) ReadSharingPost(accountId, sharingId uuid.UUID) (error, *domain.Post) {
	return scanPost(db.db.QueryRow(sqlSelectSharingPost, accountId, sharingId))
}

// DeleteSharingPost removes the reblog wrapper a given account created for
// the given original post.
func (db *DB) DeleteSharingPost(accountId, sharingId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteSharingPost, accountId, sharingId)
		return err
	})
}

func (db *DB) CreateLike(like *domain.Like) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertLike, like.PostId, like.AccountId, like.CreatedAt)
		return err
	})
}

func (db *DB) DeleteLike(postId, accountId uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteLike, postId, accountId)
		return err
	})
}

// UpdatePostStats recomputes the cached reply/share/like counters from
// direct count queries, tolerating out-of-order and redelivered activities.
func (db *DB) UpdatePostStats(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdatePostStats, id)
		return err
	})
}

func (db *DB) ReadMentionsByPost(postId uuid.UUID) (error, []domain.Mention) {
	rows, err := db.db.Query(sqlSelectMentionsByPost, postId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var result []domain.Mention
	for rows.Next() {
		var m domain.Mention
		if err := rows.Scan(&m.PostId, &m.AccountId); err != nil {
			return err, result
		}
		result = append(result, m)
	}
	return rows.Err(), result
}

func (db *DB) ReadMediaByPost(postId uuid.UUID) (error, []domain.Medium) {
	rows, err := db.db.Query(sqlSelectMediaByPost, postId)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var result []domain.Medium
	for rows.Next() {
		var m domain.Medium
		if err := rows.Scan(&m.Id, &m.PostId, &m.Type, &m.Url, &m.Width,
			&m.Height, &m.Description, &m.ThumbnailType, &m.ThumbnailUrl,
			&m.ThumbnailWidth, &m.ThumbnailHeight, &m.CreatedAt); err != nil {
			return err, result
		}
		result = append(result, m)
	}
	return rows.Err(), result
}

func (db *DB) ReadRepliesOfPost(postId uuid.UUID) (error, []domain.Post) {
	return db.readPosts(sqlSelectRepliesOfPost, postId)
}

// ReadPublicPostsByAccount returns an account's own public posts, newest
// first, excluding reblog wrappers.
func (db *DB) ReadPublicPostsByAccount(accountId uuid.UUID, limit int) (error, []domain.Post) {
	return db.readPosts(sqlSelectPublicPostsByAccount, accountId, limit)
}

// ReadRecentPublicPosts returns the newest public posts across all
// accounts, excluding reblog wrappers.
func (db *DB) ReadRecentPublicPosts(limit int) (error, []domain.Post) {
	return db.readPosts(sqlSelectRecentPublicPosts, limit)
}

func (db *DB) readPosts(query string, args ...any) (error, []domain.Post) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var result []domain.Post
	for rows.Next() {
		err, p := scanPost(rows)
		if err != nil {
			return err, result
		}
		result = append(result, *p)
	}
	return rows.Err(), result
}

package db

import (
	"database/sql"
	"time"

	"github.com/3o14-com/backend/domain"
	"github.com/google/uuid"
)

// Activity log queries
const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at, local)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, created_at, local
		FROM activities WHERE activity_uri = ?`
	sqlUpdateActivity = `UPDATE activities SET processed = ?, raw_json = ? WHERE id = ?`
)

func (db *DB) CreateActivity(a *domain.ActivityRecord) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlInsertActivity, a.Id, a.ActivityURI,
			a.ActivityType, a.ActorURI, a.ObjectURI, a.RawJSON, a.Processed,
			a.CreatedAt, a.Local)
		return err
	})
}

func (db *DB) ReadActivityByURI(uri string) (error, *domain.ActivityRecord) {
	var a domain.ActivityRecord
	row := db.db.QueryRow(sqlSelectActivityByURI, uri)
	err := row.Scan(&a.Id, &a.ActivityURI, &a.ActivityType, &a.ActorURI,
		&a.ObjectURI, &a.RawJSON, &a.Processed, &a.CreatedAt, &a.Local)
	if err == sql.ErrNoRows {
		return err, nil
	}
	return err, &a
}

func (db *DB) UpdateActivity(a *domain.ActivityRecord) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateActivity, a.Processed, a.RawJSON, a.Id)
		return err
	})
}

// Delivery queue queries
const (
	sqlEnqueueDelivery = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, sign_as, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_json, sign_as, attempts, next_retry_at, created_at
		FROM delivery_queue WHERE next_retry_at <= ? ORDER BY next_retry_at LIMIT ?`
	sqlUpdateDeliveryAttempt = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery        = `DELETE FROM delivery_queue WHERE id = ?`
)

func (db *DB) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlEnqueueDelivery, item.Id, item.InboxURI,
			item.ActivityJSON, item.SignAs, item.Attempts, item.NextRetryAt,
			item.CreatedAt)
		return err
	})
}

func (db *DB) ReadPendingDeliveries(limit int) (error, []domain.DeliveryQueueItem) {
	rows, err := db.db.Query(sqlSelectPendingDeliveries, time.Now(), limit)
	if err != nil {
		return err, nil
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		if err := rows.Scan(&item.Id, &item.InboxURI, &item.ActivityJSON,
			&item.SignAs, &item.Attempts, &item.NextRetryAt,
			&item.CreatedAt); err != nil {
			return err, items
		}
		items = append(items, item)
	}
	return rows.Err(), items
}

func (db *DB) UpdateDeliveryAttempt(id uuid.UUID, attempts int, nextRetryAt time.Time) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlUpdateDeliveryAttempt, attempts, nextRetryAt, id)
		return err
	})
}

func (db *DB) DeleteDelivery(id uuid.UUID) error {
	return db.wrapTransaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(sqlDeleteDelivery, id)
		return err
	})
}

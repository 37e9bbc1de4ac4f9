package activitypub

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/3o14-com/backend/db"
	"github.com/3o14-com/backend/domain"
	"github.com/3o14-com/backend/util"
)

const deliveryMaxAttempts = 10

var deliveryBackoffMinutes = []int{1, 5, 15, 60, 240, 1440}

// QueueSender is the production Sender: it records the activity in the
// persistent delivery queue, where the worker picks it up.
type QueueSender struct {
	DB *db.DB
}

func (s *QueueSender) Send(ctx context.Context, inboxURI string, activityJSON []byte, signAs string) error {
	return s.DB.EnqueueDelivery(&domain.DeliveryQueueItem{
		Id:           newId(),
		InboxURI:     inboxURI,
		ActivityJSON: string(activityJSON),
		SignAs:       signAs,
		NextRetryAt:  time.Now(),
		CreatedAt:    time.Now(),
	})
}

// StartDeliveryWorker drains the delivery queue in the background until the
// context is cancelled. Failed deliveries are retried with exponential
// backoff and abandoned after deliveryMaxAttempts.
func (h *Handler) StartDeliveryWorker(ctx context.Context) {
	log.Println("DeliveryWorker: Starting delivery worker...")

	ticker := time.NewTicker(10 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Println("DeliveryWorker: Stopping")
				return
			case <-ticker.C:
				h.processDeliveryQueue(ctx)
			}
		}
	}()
}

func (h *Handler) processDeliveryQueue(ctx context.Context) {
	err, items := h.DB.ReadPendingDeliveries(50)
	if err != nil {
		log.Printf("DeliveryWorker: Failed to read queue: %v", err)
		return
	}
	if len(items) == 0 {
		return
	}

	log.Printf("DeliveryWorker: Processing %d pending deliveries", len(items))

	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		if err := h.deliverItem(ctx, &item); err != nil {
			item.Attempts++
			if item.Attempts >= deliveryMaxAttempts {
				log.Printf("DeliveryWorker: Giving up on delivery to %s after %d attempts", item.InboxURI, item.Attempts)
				h.DB.DeleteDelivery(item.Id)
				continue
			}
			backoff := deliveryBackoffMinutes[min(item.Attempts-1, len(deliveryBackoffMinutes)-1)]
			item.NextRetryAt = time.Now().Add(time.Duration(backoff) * time.Minute)
			log.Printf("DeliveryWorker: Delivery to %s failed (attempt %d), retry in %dm: %v",
				item.InboxURI, item.Attempts, backoff, err)
			h.DB.UpdateDeliveryAttempt(item.Id, item.Attempts, item.NextRetryAt)
		} else {
			log.Printf("DeliveryWorker: Delivered to %s", item.InboxURI)
			h.DB.DeleteDelivery(item.Id)
		}
	}
}

// deliverItem signs and posts one queued activity. The signing key belongs
// to the local account named by the item, which may differ from the
// activity's actor when a remote-authored activity is being forwarded.
func (h *Handler) deliverItem(ctx context.Context, item *domain.DeliveryQueueItem) error {
	err, owner := h.DB.ReadOwnerByHandle(item.SignAs)
	if err != nil {
		return fmt.Errorf("resolve signing account %s: %w", item.SignAs, err)
	}

	privateKey, err := ParsePrivateKey(owner.PrivateKeyPem)
	if err != nil {
		return fmt.Errorf("parse private key of %s: %w", owner.Handle, err)
	}

	body := []byte(item.ActivityJSON)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.InboxURI, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Accept", "application/activity+json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	keyId := fmt.Sprintf("%s#main-key", h.actorURI(owner.Handle))
	if err := SignRequest(req, privateKey, keyId, body); err != nil {
		return fmt.Errorf("sign request: %w", err)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote server returned status %d", resp.StatusCode)
	}
	return nil
}

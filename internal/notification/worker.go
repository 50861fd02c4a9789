// Package notification tells push subscribers when a full parking location frees a space.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"parkpeek-guard/internal/model"
)

// Delivery results passed to the OnSent callback.
const (
	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultExpired = "expired"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// Message is the JSON body the service worker renders.
type Message struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	SlotID   int64  `json:"slot_id"`
	Location string `json:"location,omitempty"`
	Free     int    `json:"free"`
}

// WorkerPool delivers "space available" pushes off the scan path.
type WorkerPool struct {
	size    int
	jobs    chan int64
	db      *gorm.DB
	webpush *webpush.Options
	sender  NotificationSender
	onSent  func(result string)

	// recent holds slots notified within the throttle window.
	recent   *cache.Cache
	throttle time.Duration
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(size int, db *gorm.DB, webpushOptions *webpush.Options) *WorkerPool {
	return &WorkerPool{
		size:    size,
		jobs:    make(chan int64, size*8),
		db:      db,
		webpush: webpushOptions,
		sender:  &WebPushSender{},
		recent:  cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

// SetThrottle makes Dispatch ignore a slot that was dispatched less than window ago,
// so a lot flapping around capacity does not flood subscribers.
func (wp *WorkerPool) SetThrottle(window time.Duration) {
	wp.throttle = window
}

// OnSent registers a callback receiving ResultSent, ResultFailed or ResultExpired per delivery.
func (wp *WorkerPool) OnSent(fn func(result string)) {
	wp.onSent = fn
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.Printf("Push worker %d started", id)
	for {
		select {
		case slotID := <-wp.jobs:
			wp.notify(ctx, slotID)
		case <-ctx.Done():
			log.Printf("Push worker %d shutting down", id)
			return
		}
	}
}

// Dispatch queues slotID without blocking. The job is dropped when the queue is full
// or the slot is inside its throttle window.
func (wp *WorkerPool) Dispatch(slotID int64) {
	if wp.throttle > 0 {
		if err := wp.recent.Add(fmt.Sprint(slotID), struct{}{}, wp.throttle); err != nil {
			log.Printf("Parking slot %d was announced less than %s ago, skipping", slotID, wp.throttle)
			return
		}
	}
	select {
	case wp.jobs <- slotID:
	default:
		log.Printf("Notification queue full, dropping job for parking slot %d", slotID)
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan int64 {
	return wp.jobs
}

func (wp *WorkerPool) notify(ctx context.Context, slotID int64) {
	msg := Message{
		Title:  "Parking available",
		Body:   fmt.Sprintf("Parking at #%d has space available!", slotID),
		SlotID: slotID,
	}

	var slot model.ParkingSlot
	if err := wp.db.WithContext(ctx).
		Select("name", "current_occupancy", "total_capacity").
		First(&slot, slotID).Error; err != nil {
		log.Printf("Error fetching parking slot %d, sending a generic message: %v", slotID, err)
	} else {
		msg.Free = slot.TotalCapacity - slot.CurrentOccupancy
		if msg.Free <= 0 {
			log.Printf("Parking slot %d (%s) is full again, not notifying", slotID, slot.Name)
			return
		}
		msg.Location = slot.Name
		msg.Body = fmt.Sprintf("Parking at %s has space available! (%d free)", slot.Name, msg.Free)
	}

	var subscriptions []model.PushSubscription
	if err := wp.db.WithContext(ctx).
		Joins("JOIN subscription_slot_mapping ssm ON ssm.push_subscription_endpoint = push_subscriptions.endpoint").
		Where("ssm.parking_slot_id = ?", slotID).
		Find(&subscriptions).Error; err != nil {
		log.Printf("Error fetching subscriptions for parking slot %d: %v", slotID, err)
		return
	}
	if len(subscriptions) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("Error encoding push message for parking slot %d: %v", slotID, err)
		return
	}

	log.Printf("Sending %d notifications for parking slot %d", len(subscriptions), slotID)
	for _, sub := range subscriptions {
		wp.report(wp.deliver(ctx, sub, payload))
	}
}

func (wp *WorkerPool) deliver(ctx context.Context, sub model.PushSubscription, payload []byte) string {
	resp, err := wp.sender.Send(payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256DH, Auth: sub.Auth},
	}, wp.webpush)
	if err != nil {
		log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
		return ResultFailed
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		log.Printf("Subscription %s is gone, deleting", sub.Endpoint)
		if err := wp.forget(ctx, sub); err != nil {
			log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
		}
		return ResultExpired
	case resp.StatusCode >= 400:
		log.Printf("Push service rejected notification to %s: %s", sub.Endpoint, resp.Status)
		return ResultFailed
	}
	return ResultSent
}

// forget removes a subscription and its slot mappings.
func (wp *WorkerPool) forget(ctx context.Context, sub model.PushSubscription) error {
	return wp.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM subscription_slot_mapping WHERE push_subscription_endpoint = ?", sub.Endpoint).Error; err != nil {
			return err
		}
		return tx.Delete(&sub).Error
	})
}

func (wp *WorkerPool) report(result string) {
	if wp.onSent != nil {
		wp.onSent(result)
	}
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"echo-backend/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SubscriptionStore is the slice of the record store the dispatcher needs
type SubscriptionStore interface {
	Upsert(ctx context.Context, sub *models.PushSubscription) error
	ListByUser(ctx context.Context, userID string) ([]models.PushSubscription, error)
	Delete(ctx context.Context, id string) error
}

// WebPushSender delivers one payload to one endpoint and reports the push
// service's status code. Split out so delivery and pruning are testable
// without a network.
type WebPushSender interface {
	Send(ctx context.Context, sub models.PushSubscription, payload []byte) (int, error)
}

// VAPIDSender sends Web Push messages signed with the configured VAPID keys
type VAPIDSender struct {
	subject    string
	publicKey  string
	privateKey string
}

// NewVAPIDSender creates a Web Push sender
func NewVAPIDSender(subject, publicKey, privateKey string) *VAPIDSender {
	return &VAPIDSender{subject: subject, publicKey: publicKey, privateKey: privateKey}
}

// Send delivers the payload to the subscription's endpoint
func (v *VAPIDSender) Send(ctx context.Context, sub models.PushSubscription, payload []byte) (int, error) {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      v.subject,
		VAPIDPublicKey:  v.publicKey,
		VAPIDPrivateKey: v.privateKey,
		TTL:             60,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to send web push: %w", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// pushPayload is the JSON body the service worker receives
type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

// PushService is the notification dispatcher: best-effort delivery to all
// of a principal's registered endpoints, pruning endpoints that report
// themselves permanently gone. No retries; the next event tries again.
type PushService struct {
	subs     SubscriptionStore
	profiles ProfileDirectory
	sender   WebPushSender
	now      func() time.Time
}

// NewPushService creates a new push dispatcher
func NewPushService(subs SubscriptionStore, profiles ProfileDirectory, sender WebPushSender) *PushService {
	return &PushService{
		subs:     subs,
		profiles: profiles,
		sender:   sender,
		now:      time.Now,
	}
}

// Subscribe registers (or refreshes) a browser push endpoint for a user
func (s *PushService) Subscribe(ctx context.Context, userID, endpoint, p256dh, auth string) error {
	if endpoint == "" || p256dh == "" || auth == "" {
		return fmt.Errorf("endpoint, p256dh and auth are required")
	}
	sub := &models.PushSubscription{
		ID:        uuid.New().String(),
		UserID:    userID,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		CreatedAt: s.now(),
	}
	if err := s.subs.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("Push subscription saved")
	return nil
}

// NotifyUser delivers to all of one user's endpoints and returns how many
// deliveries succeeded. Dead endpoints (404/410) are deleted; other
// failures are logged and skipped.
func (s *PushService) NotifyUser(ctx context.Context, userID, title, body, url string) (int, error) {
	subs, err := s.subs.ListByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}

	payload, err := json.Marshal(pushPayload{Title: title, Body: body, URL: url})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal push payload: %w", err)
	}

	sent := 0
	for _, sub := range subs {
		status, err := s.sender.Send(ctx, sub, payload)
		if err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Push delivery failed")
			continue
		}
		switch {
		case status == http.StatusNotFound || status == http.StatusGone:
			// Endpoint is permanently dead, drop the subscription
			if err := s.subs.Delete(ctx, sub.ID); err != nil {
				log.Error().Err(err).Str("subscription_id", sub.ID).Msg("Failed to prune subscription")
			} else {
				log.Info().Str("subscription_id", sub.ID).Int("status", status).Msg("Pruned dead push subscription")
			}
		case status >= 400:
			log.Warn().Int("status", status).Str("user_id", userID).Msg("Push endpoint rejected delivery")
		default:
			sent++
		}
	}
	return sent, nil
}

// NotifyFamily delivers to every member of a family, including the sender
func (s *PushService) NotifyFamily(ctx context.Context, familyID, title, body, url string) (int, error) {
	members, err := s.profiles.ListByFamily(ctx, familyID)
	if err != nil {
		return 0, fmt.Errorf("failed to list family members: %w", err)
	}

	total := 0
	for _, member := range members {
		sent, err := s.NotifyUser(ctx, member.ID, title, body, url)
		if err != nil {
			log.Error().Err(err).Str("user_id", member.ID).Msg("Failed to notify family member")
			continue
		}
		total += sent
	}
	return total, nil
}

// NotifyPartner delivers to every family member except the excluded user
func (s *PushService) NotifyPartner(ctx context.Context, familyID, excludeUserID, title, body, url string) (int, error) {
	members, err := s.profiles.ListByFamily(ctx, familyID)
	if err != nil {
		return 0, fmt.Errorf("failed to list family members: %w", err)
	}

	total := 0
	for _, member := range members {
		if member.ID == excludeUserID {
			continue
		}
		sent, err := s.NotifyUser(ctx, member.ID, title, body, url)
		if err != nil {
			log.Error().Err(err).Str("user_id", member.ID).Msg("Failed to notify partner")
			continue
		}
		total += sent
	}
	return total, nil
}

// SendTest pings the caller's own devices so they can verify the channel
func (s *PushService) SendTest(ctx context.Context, userID string) (int, error) {
	return s.NotifyUser(ctx, userID,
		"Test Ping! 🔔",
		"If you see this, notifications are working properly on this device!",
		"/?test=true")
}

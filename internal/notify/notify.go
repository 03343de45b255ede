// Package notify persists user notifications and pushes them over NATS.
// Like and like-cancel notifications are debounced per sender. Chat and
// match notifications that point at a chatroom are dropped while the
// recipient has that chatroom open.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unimate/roommate/internal/logging"
)

// Type is the kind of a notification.
type Type string

const (
	TypeLike         Type = "LIKE"
	TypeChat         Type = "CHAT"
	TypeMatch        Type = "MATCH"
	TypeLikeCanceled Type = "LIKE_CANCELED"
)

// Notification is one stored notification.
type Notification struct {
	ID         int64     `json:"id"`
	ReceiverID int64     `json:"receiver_id"`
	Type       Type      `json:"type"`
	Message    string    `json:"message"`
	SenderName string    `json:"sender_name,omitempty"`
	SenderID   int64     `json:"sender_id,omitempty"`
	ChatroomID string    `json:"chatroom_id,omitempty"`
	IsRead     bool      `json:"is_read"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ExistsBySender(ctx context.Context, receiver int64, typ Type, sender int64) (bool, error)
	DeleteBySender(ctx context.Context, receiver int64, typ Type, sender int64) (int64, error)
	ListByReceiver(ctx context.Context, receiver int64, limit int) ([]*Notification, error)
}

// Pusher delivers a serialized notification to a connected user.
type Pusher interface {
	PublishNotification(userID int64, data []byte) error
}

// Presence reports whether a user is looking at a chatroom.
type Presence interface {
	IsViewing(ctx context.Context, userID int64, roomID string) (bool, error)
}

// Service creates notifications and pushes them.
type Service struct {
	store    Store
	pusher   Pusher
	presence Presence
	logger   *zap.Logger
	now      func() time.Time
}

// NewService wires a notification service. pusher and presence may be nil.
func NewService(store Store, pusher Pusher, presence Presence, logger *zap.Logger) *Service {
	return &Service{
		store:    store,
		pusher:   pusher,
		presence: presence,
		logger:   logging.Component(logger, "notify"),
		now:      time.Now,
	}
}

// CreateChatNotification stores a notification for recipient and pushes it.
// A CHAT or MATCH notification for a room the recipient is viewing is
// skipped. Push failures are logged; the stored row is the record of
// delivery.
func (s *Service) CreateChatNotification(ctx context.Context, recipient int64, typ Type, message, senderName string, senderID int64, chatroomID string) error {
	if roomScoped(typ) && chatroomID != "" && s.presence != nil {
		viewing, err := s.presence.IsViewing(ctx, recipient, chatroomID)
		if err != nil {
			s.logger.Warn("presence lookup failed", zap.Int64("recipient", recipient), zap.Error(err))
		} else if viewing {
			s.logger.Debug("recipient viewing room, skipping",
				zap.Int64("recipient", recipient), zap.String("chatroom", chatroomID))
			return nil
		}
	}

	n := &Notification{
		ReceiverID: recipient,
		Type:       typ,
		Message:    message,
		SenderName: senderName,
		SenderID:   senderID,
		ChatroomID: chatroomID,
		CreatedAt:  s.now(),
	}
	if err := s.store.Create(ctx, n); err != nil {
		return fmt.Errorf("notify: create: %w", err)
	}

	if s.pusher != nil {
		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("notify: encode: %w", err)
		}
		if err := s.pusher.PublishNotification(recipient, data); err != nil {
			s.logger.Warn("push failed", zap.Int64("recipient", recipient), zap.Error(err))
		}
	}
	return nil
}

func roomScoped(typ Type) bool {
	return typ == TypeChat || typ == TypeMatch
}

// ExistsBySender reports whether recipient already has a typ notification
// from sender.
func (s *Service) ExistsBySender(ctx context.Context, recipient int64, typ Type, sender int64) (bool, error) {
	ok, err := s.store.ExistsBySender(ctx, recipient, typ, sender)
	if err != nil {
		return false, fmt.Errorf("notify: exists: %w", err)
	}
	return ok, nil
}

// DeleteBySender removes recipient's typ notifications from sender.
func (s *Service) DeleteBySender(ctx context.Context, recipient int64, typ Type, sender int64) error {
	if _, err := s.store.DeleteBySender(ctx, recipient, typ, sender); err != nil {
		return fmt.Errorf("notify: delete: %w", err)
	}
	return nil
}

// List returns recipient's latest notifications, newest first.
func (s *Service) List(ctx context.Context, recipient int64, limit int) ([]*Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByReceiver(ctx, recipient, limit)
}

// Message templates.

func LikeMessage(senderName string) string {
	return senderName + " likes you."
}

func LikeCanceledMessage(senderName string) string {
	return senderName + " cancelled their like."
}

func MutualMessage(partnerName string) string {
	return "You matched with " + partnerName + "!"
}

func AcceptedMessage(partnerName string) string {
	return "You and " + partnerName + " are now roommates!"
}

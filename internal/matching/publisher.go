package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unimate/roommate/internal/match"
	"github.com/unimate/roommate/internal/metrics"
	"github.com/unimate/roommate/internal/notify"
	"github.com/unimate/roommate/internal/profile"
)

// Lifecycle event kinds, published on roommate.event.<kind>.
const (
	EventLike     = "like"
	EventRequest  = "request"
	EventCanceled = "canceled"
	EventAccepted = "accepted"
	EventRejected = "rejected"
)

// Side-effect collaborator labels.
const (
	collabChatroom     = "chatroom"
	collabNotification = "notification"
	collabEvent        = "event"
)

// Event is the payload of a lifecycle event.
type Event struct {
	Kind       string       `json:"kind"`
	MatchID    int64        `json:"match_id"`
	SenderID   int64        `json:"sender_id"`
	ReceiverID int64        `json:"receiver_id"`
	Type       match.Type   `json:"match_type"`
	Status     match.Status `json:"match_status"`
	ChatroomID string       `json:"chatroom_id,omitempty"`
	At         time.Time    `json:"at"`
}

type sideEffect struct {
	collaborator string
	run          func(ctx context.Context) error
}

// dispatchContext detaches side effects from the caller's cancellation and
// bounds them by the dispatch timeout.
func (s *Service) dispatchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.DispatchTimeout)
}

// dispatch runs effects concurrently and waits for them. Failures are
// logged and counted, never returned.
func (s *Service) dispatch(ctx context.Context, matchID int64, effects ...sideEffect) {
	var g errgroup.Group
	for _, e := range effects {
		g.Go(func() error {
			if err := e.run(ctx); err != nil {
				metrics.SideEffectFailures.WithLabelValues(e.collaborator).Inc()
				s.logger.Warn("side effect failed",
					zap.String("collaborator", e.collaborator),
					zap.Int64("match_id", matchID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// openChatroom returns the pair's chatroom id, or "" when it could not be
// created.
func (s *Service) openChatroom(ctx context.Context, m *match.Match) string {
	id, err := s.chatrooms.CreateIfNotExists(ctx, m.SenderID, m.ReceiverID)
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues(collabChatroom).Inc()
		s.logger.Warn("chatroom creation failed", zap.Int64("match_id", m.ID), zap.Error(err))
		return ""
	}
	return id
}

func (s *Service) afterLike(ctx context.Context, m *match.Match, sender *profile.Profile) {
	ctx, cancel := s.dispatchContext(ctx)
	defer cancel()

	s.dispatch(ctx, m.ID,
		s.clearNotification(m.ReceiverID, notify.TypeLikeCanceled, m.SenderID),
		sideEffect{collabNotification, func(ctx context.Context) error {
			return s.notifyOnce(ctx, m.ReceiverID, notify.TypeLike, notify.LikeMessage(sender.Name), sender)
		}},
		s.publishEvent(EventLike, m, ""),
	)
}

func (s *Service) afterMutualLike(ctx context.Context, m *match.Match, sender, receiver *profile.Profile) string {
	ctx, cancel := s.dispatchContext(ctx)
	defer cancel()

	chatroomID := s.openChatroom(ctx, m)
	s.dispatch(ctx, m.ID,
		s.clearNotification(m.ReceiverID, notify.TypeLikeCanceled, m.SenderID),
		s.notifyMatch(m.ReceiverID, notify.MutualMessage(sender.Name), sender, chatroomID),
		s.notifyMatch(m.SenderID, notify.MutualMessage(receiver.Name), receiver, chatroomID),
		s.publishEvent(EventRequest, m, chatroomID),
	)
	return chatroomID
}

func (s *Service) afterCancel(ctx context.Context, m *match.Match, sender *profile.Profile) {
	ctx, cancel := s.dispatchContext(ctx)
	defer cancel()

	s.dispatch(ctx, m.ID,
		sideEffect{collabNotification, func(ctx context.Context) error {
			if err := s.notifier.DeleteBySender(ctx, m.ReceiverID, notify.TypeLike, m.SenderID); err != nil {
				return err
			}
			return s.notifyOnce(ctx, m.ReceiverID, notify.TypeLikeCanceled, notify.LikeCanceledMessage(sender.Name), sender)
		}},
		s.publishEvent(EventCanceled, m, ""),
	)
}

// afterTransition handles a derived status change caused by a response.
func (s *Service) afterTransition(ctx context.Context, m *match.Match) {
	ctx, cancel := s.dispatchContext(ctx)
	defer cancel()

	switch m.Status {
	case match.StatusAccepted:
		chatroomID := s.openChatroom(ctx, m)
		sender := s.lookupProfile(ctx, m.SenderID)
		receiver := s.lookupProfile(ctx, m.ReceiverID)
		if sender == nil || receiver == nil {
			metrics.SideEffectFailures.WithLabelValues(collabNotification).Inc()
			s.logger.Warn("participant profile missing, skipping notifications", zap.Int64("match_id", m.ID))
			s.dispatch(ctx, m.ID, s.publishEvent(EventAccepted, m, chatroomID))
			return
		}
		s.dispatch(ctx, m.ID,
			s.notifyMatch(m.ReceiverID, notify.AcceptedMessage(sender.Name), sender, chatroomID),
			s.notifyMatch(m.SenderID, notify.AcceptedMessage(receiver.Name), receiver, chatroomID),
			s.publishEvent(EventAccepted, m, chatroomID),
		)
	case match.StatusRejected:
		s.dispatch(ctx, m.ID, s.publishEvent(EventRejected, m, ""))
	}
}

// afterDisable closes the chatrooms of removed requests. Likes never had
// one.
func (s *Service) afterDisable(ctx context.Context, removed []*match.Match) {
	ctx, cancel := s.dispatchContext(ctx)
	defer cancel()

	for _, m := range removed {
		if m.Type != match.TypeRequest {
			continue
		}
		s.dispatch(ctx, m.ID, sideEffect{collabChatroom, func(ctx context.Context) error {
			id, err := s.chatrooms.FindByPair(ctx, m.SenderID, m.ReceiverID)
			if err != nil || id == "" {
				return err
			}
			return s.chatrooms.Close(ctx, id)
		}})
	}
}

func (s *Service) clearNotification(recipient int64, typ notify.Type, sender int64) sideEffect {
	return sideEffect{collabNotification, func(ctx context.Context) error {
		return s.notifier.DeleteBySender(ctx, recipient, typ, sender)
	}}
}

func (s *Service) notifyMatch(recipient int64, message string, from *profile.Profile, chatroomID string) sideEffect {
	return sideEffect{collabNotification, func(ctx context.Context) error {
		return s.notifier.CreateChatNotification(ctx, recipient, notify.TypeMatch, message, from.Name, from.UserID, chatroomID)
	}}
}

// notifyOnce creates a typ notification unless recipient already has one
// from the same sender.
func (s *Service) notifyOnce(ctx context.Context, recipient int64, typ notify.Type, message string, from *profile.Profile) error {
	exists, err := s.notifier.ExistsBySender(ctx, recipient, typ, from.UserID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return s.notifier.CreateChatNotification(ctx, recipient, typ, message, from.Name, from.UserID, "")
}

func (s *Service) publishEvent(kind string, m *match.Match, chatroomID string) sideEffect {
	return sideEffect{collabEvent, func(context.Context) error {
		if s.events == nil {
			return nil
		}
		data, err := json.Marshal(Event{
			Kind:       kind,
			MatchID:    m.ID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			Type:       m.Type,
			Status:     m.Status,
			ChatroomID: chatroomID,
			At:         s.now(),
		})
		if err != nil {
			return fmt.Errorf("matching: marshal event: %w", err)
		}
		return s.events.PublishMatchEvent(kind, data)
	}}
}

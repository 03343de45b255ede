// Package matching is the transactional entry point of the roommate
// matcher. Service wraps the match state machine with authorization,
// retries on pair and version conflicts, and best-effort side effects
// (chatroom creation, notifications, lifecycle events) that run only after
// the store transaction has committed.
package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unimate/roommate/internal/apperror"
	"github.com/unimate/roommate/internal/candidate"
	"github.com/unimate/roommate/internal/chat"
	"github.com/unimate/roommate/internal/filter"
	"github.com/unimate/roommate/internal/logging"
	"github.com/unimate/roommate/internal/match"
	"github.com/unimate/roommate/internal/metrics"
	"github.com/unimate/roommate/internal/notify"
	"github.com/unimate/roommate/internal/profile"
	"github.com/unimate/roommate/internal/ratelimit"
)

// Chatrooms opens, finds and closes the chatroom of a matched pair.
type Chatrooms interface {
	CreateIfNotExists(ctx context.Context, userA, userB int64) (string, error)
	FindByPair(ctx context.Context, a, b int64) (string, error)
	Get(ctx context.Context, roomID string) (*chat.Room, error)
	Close(ctx context.Context, roomID string) error
}

// Notifier stores and delivers user notifications.
type Notifier interface {
	CreateChatNotification(ctx context.Context, recipient int64, typ notify.Type, message, senderName string, senderID int64, chatroomID string) error
	ExistsBySender(ctx context.Context, recipient int64, typ notify.Type, sender int64) (bool, error)
	DeleteBySender(ctx context.Context, recipient int64, typ notify.Type, sender int64) error
}

// Limiter throttles per-user requests.
type Limiter interface {
	AllowUser(ctx context.Context, userID int64, rule ratelimit.Rule) (bool, error)
	RemainingUser(ctx context.Context, userID int64, rule ratelimit.Rule) (int, error)
}

// EventPublisher fans out lifecycle events.
type EventPublisher interface {
	PublishMatchEvent(status string, data []byte) error
}

// Deps are the collaborators of a Service. Matches, Candidates, Chatrooms
// and Notifier are required; the rest may be nil.
type Deps struct {
	Matches    match.Store
	Candidates candidate.Repository
	Profiles   candidate.Writer
	Cache      candidate.Invalidator
	Chatrooms  Chatrooms
	Notifier   Notifier
	Limiter    Limiter
	Events     EventPublisher
	Logger     *zap.Logger
	Now        func() time.Time
}

// Options tune a Service.
type Options struct {
	// RequestTimeout bounds each call, transaction included.
	RequestTimeout time.Duration
	// DispatchTimeout bounds the side effects of one committed transition.
	DispatchTimeout time.Duration
	// MaxAttempts is how often a transaction runs before a pair or
	// version conflict is reported to the caller.
	MaxAttempts int

	LikeRule    ratelimit.Rule
	RespondRule ratelimit.Rule
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		RequestTimeout:  5 * time.Second,
		DispatchTimeout: 3 * time.Second,
		MaxAttempts:     3,
		LikeRule:        ratelimit.RuleLike,
		RespondRule:     ratelimit.RuleRespond,
	}
}

// Service implements the matching operations.
type Service struct {
	matches    match.Store
	candidates candidate.Repository
	profiles   candidate.Writer
	cache      candidate.Invalidator
	chatrooms  Chatrooms
	notifier   Notifier
	limiter    Limiter
	events     EventPublisher
	ranker     *Ranker
	logger     *zap.Logger
	now        func() time.Time
	opts       Options
}

// NewService creates a matching service.
func NewService(d Deps, opts Options) *Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	def := DefaultOptions()
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = def.RequestTimeout
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = def.DispatchTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.LikeRule.Key == "" {
		opts.LikeRule = def.LikeRule
	}
	if opts.RespondRule.Key == "" {
		opts.RespondRule = def.RespondRule
	}
	return &Service{
		matches:    d.Matches,
		candidates: d.Candidates,
		profiles:   d.Profiles,
		cache:      d.Cache,
		chatrooms:  d.Chatrooms,
		notifier:   d.Notifier,
		limiter:    d.Limiter,
		events:     d.Events,
		ranker:     NewRanker(d.Candidates, d.Matches, now),
		logger:     logging.Component(d.Logger, "matching"),
		now:        now,
		opts:       opts,
	}
}

// SendLike records senderID's interest in receiverID. When receiverID
// already liked senderID the existing record becomes a mutual REQUEST with
// senderID as its sender, a chatroom is opened and both users are notified.
func (s *Service) SendLike(ctx context.Context, senderID, receiverID int64) (*LikeResult, error) {
	if senderID == receiverID {
		metrics.LikesTotal.WithLabelValues("rejected").Inc()
		return nil, apperror.BadRequest("cannot like yourself")
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	if err := s.allow(ctx, senderID, s.opts.LikeRule); err != nil {
		metrics.LikesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	sender, receiver, err := s.likeParties(ctx, senderID, receiverID)
	if err != nil {
		metrics.LikesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	// Only a fresh like needs the score; a missing sender preference is
	// reported from inside the transaction when that branch is taken.
	score, scoreErr := s.ranker.score(ctx, senderID, receiverID)

	var (
		saved  *match.Match
		mutual bool
	)
	err = s.inTx(ctx, "send_like", func(tx match.Tx) error {
		existing, err := tx.FindPairForUpdate(ctx, senderID, receiverID)
		if err != nil {
			return err
		}
		action, err := match.PlanLike(existing, senderID, receiverID)
		if err != nil {
			return err
		}
		now := s.now()
		switch action {
		case match.LikeUpgrade:
			if err := existing.UpgradeToRequest(senderID, now); err != nil {
				return err
			}
			if err := tx.Update(ctx, existing); err != nil {
				return err
			}
			saved, mutual = existing, true
		case match.LikeCreate:
			if scoreErr != nil {
				return scoreErr
			}
			m := match.NewLike(senderID, receiverID, score, now)
			if err := tx.Insert(ctx, m); err != nil {
				return err
			}
			saved, mutual = m, false
		}
		return nil
	})
	if err != nil {
		metrics.LikesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	result := &LikeResult{MatchID: saved.ID, Mutual: mutual}
	if mutual {
		metrics.LikesTotal.WithLabelValues("mutual").Inc()
		s.logger.Info("mutual like",
			zap.Int64("match_id", saved.ID), zap.Int64("sender", senderID), zap.Int64("receiver", receiverID))
		result.ChatroomID = s.afterMutualLike(ctx, saved, sender, receiver)
	} else {
		metrics.LikesTotal.WithLabelValues("created").Inc()
		s.logger.Info("like sent",
			zap.Int64("match_id", saved.ID), zap.Int64("sender", senderID), zap.Int64("receiver", receiverID))
		s.afterLike(ctx, saved, sender)
	}
	result.LikesRemaining = s.remaining(ctx, senderID, s.opts.LikeRule)
	return result, nil
}

// CancelLike withdraws senderID's one-sided like of receiverID. A like that
// has already become a request cannot be withdrawn.
func (s *Service) CancelLike(ctx context.Context, senderID, receiverID int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	if err := s.allow(ctx, senderID, s.opts.LikeRule); err != nil {
		return err
	}
	sender, _, err := s.likeParties(ctx, senderID, receiverID)
	if err != nil {
		return err
	}

	var removed *match.Match
	err = s.inTx(ctx, "cancel_like", func(tx match.Tx) error {
		existing, err := tx.FindPairForUpdate(ctx, senderID, receiverID)
		if err != nil {
			return err
		}
		switch {
		case existing == nil:
			return apperror.NotFound("no like to cancel")
		case existing.Type == match.TypeRequest:
			return apperror.Conflict("match request already in progress, like cannot be cancelled")
		case !existing.CanCancel(senderID):
			return apperror.NotFound("no like to cancel")
		}
		if err := tx.Delete(ctx, existing.ID); err != nil {
			return err
		}
		removed = existing
		return nil
	})
	if err != nil {
		return err
	}

	metrics.LikesTotal.WithLabelValues("canceled").Inc()
	s.logger.Info("like cancelled",
		zap.Int64("match_id", removed.ID), zap.Int64("sender", senderID), zap.Int64("receiver", receiverID))
	s.afterCancel(ctx, removed, sender)
	return nil
}

// ConfirmMatch records userID's acceptance of the match.
func (s *Service) ConfirmMatch(ctx context.Context, matchID, userID int64) (*match.Match, error) {
	return s.respond(ctx, matchID, userID, match.StatusAccepted)
}

// RejectMatch records userID's rejection of the match. A single rejection
// decides the match.
func (s *Service) RejectMatch(ctx context.Context, matchID, userID int64) (*match.Match, error) {
	return s.respond(ctx, matchID, userID, match.StatusRejected)
}

func (s *Service) respond(ctx context.Context, matchID, userID int64, response match.Status) (*match.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	label := string(response)
	if err := s.allow(ctx, userID, s.opts.RespondRule); err != nil {
		metrics.ResponsesTotal.WithLabelValues(label, "rejected").Inc()
		return nil, err
	}

	// Participants never change, so the preference checks can run before
	// the row is locked.
	current, err := s.matches.Get(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("matching: load match: %w", err)
	}
	if current == nil {
		metrics.ResponsesTotal.WithLabelValues(label, "rejected").Inc()
		return nil, apperror.NotFound("match not found")
	}
	for _, id := range []int64{current.SenderID, current.ReceiverID} {
		if err := s.requirePreference(ctx, id); err != nil {
			metrics.ResponsesTotal.WithLabelValues(label, "rejected").Inc()
			return nil, err
		}
	}

	var (
		saved    *match.Match
		previous match.Status
	)
	err = s.inTx(ctx, "respond", func(tx match.Tx) error {
		m, err := tx.FindForUpdate(ctx, matchID)
		if err != nil {
			return err
		}
		if m == nil {
			return apperror.NotFound("match not found")
		}
		previous = m.Status
		if err := m.Respond(userID, response, s.now()); err != nil {
			return err
		}
		if err := tx.Update(ctx, m); err != nil {
			return err
		}
		saved = m.Clone()
		return nil
	})
	if err != nil {
		metrics.ResponsesTotal.WithLabelValues(label, "rejected").Inc()
		return nil, err
	}

	metrics.ResponsesTotal.WithLabelValues(label, "recorded").Inc()
	s.logger.Info("response recorded",
		zap.Int64("match_id", saved.ID), zap.Int64("user", userID),
		zap.String("response", label), zap.String("status", string(saved.Status)))

	if saved.Status != previous {
		metrics.StatusTransitions.WithLabelValues(string(saved.Status)).Inc()
		s.afterTransition(ctx, saved)
	}
	return saved, nil
}

// GetRecommendations ranks candidates for userID.
func (s *Service) GetRecommendations(ctx context.Context, userID int64, c filter.Criteria) ([]Recommendation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		metrics.RecommendationLatency.Observe(time.Since(start).Seconds())
	}()
	return s.ranker.Rank(ctx, userID, c)
}

// GetCandidateDetail returns one candidate scored against userID.
func (s *Service) GetCandidateDetail(ctx context.Context, userID, candidateID int64) (*CandidateDetail, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	return s.ranker.Detail(ctx, userID, candidateID)
}

// GetStatus lists every match of userID with its partner and a summary.
func (s *Service) GetStatus(ctx context.Context, userID int64) (*StatusView, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	matches, err := s.matches.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: list matches: %w", err)
	}

	view := &StatusView{Matches: make([]StatusItem, 0, len(matches))}
	for _, m := range matches {
		partner := s.lookupProfile(ctx, m.Partner(userID))
		item := statusItem(m, userID, partner)
		if m.Type == match.TypeRequest {
			item.ChatroomID = s.lookupChatroom(ctx, m)
		}
		view.Matches = append(view.Matches, item)

		view.Summary.Total++
		switch m.Status {
		case match.StatusPending:
			view.Summary.Pending++
		case match.StatusAccepted:
			view.Summary.Accepted++
		case match.StatusRejected:
			view.Summary.Rejected++
		}
	}
	return view, nil
}

// GetResults lists userID's accepted matches.
func (s *Service) GetResults(ctx context.Context, userID int64) ([]ResultItem, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	matches, err := s.matches.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: list matches: %w", err)
	}
	out := make([]ResultItem, 0)
	for _, m := range matches {
		if m.Status != match.StatusAccepted {
			continue
		}
		item := resultItem(m, userID, s.lookupProfile(ctx, m.Partner(userID)))
		item.ChatroomID = s.lookupChatroom(ctx, m)
		out = append(out, item)
	}
	return out, nil
}

// DisableMatching turns matching off for userID and removes every pending
// match the user takes part in. Chatrooms opened for removed requests are
// closed. Finalized matches are kept.
func (s *Service) DisableMatching(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	if s.profiles != nil {
		err := s.profiles.SetMatchingEnabled(ctx, userID, false)
		if errors.Is(err, candidate.ErrNoProfile) {
			return 0, apperror.NotFound("profile not found")
		}
		if err != nil {
			return 0, fmt.Errorf("matching: disable: %w", err)
		}
	}
	removed, err := s.matches.DeleteUnfinalizedByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("matching: disable: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Warn("candidate cache invalidation failed", zap.Int64("user", userID), zap.Error(err))
		}
	}
	s.afterDisable(ctx, removed)
	s.logger.Info("matching disabled", zap.Int64("user", userID), zap.Int("removed", len(removed)))
	return int64(len(removed)), nil
}

// Room returns roomID when userID takes part in it and it is still open.
func (s *Service) Room(ctx context.Context, userID int64, roomID string) (*chat.Room, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()

	room, err := s.chatrooms.Get(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("matching: load room: %w", err)
	}
	switch {
	case room == nil:
		return nil, apperror.NotFound("chatroom not found")
	case !room.IsParticipant(userID):
		return nil, apperror.Forbidden("not a participant of this chatroom")
	case room.Status == chat.StatusClosed:
		return nil, apperror.Conflict("chatroom is closed")
	}
	return room, nil
}

// inTx runs fn in a store transaction, retrying pair and version conflicts.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx match.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err = s.matches.WithinTx(ctx, fn)
		if err == nil || !match.IsRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			break
		}
		metrics.StoreRetries.WithLabelValues(op).Inc()
		s.logger.Debug("retrying transaction", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
	}
	return &apperror.Error{Kind: apperror.KindConflict, Message: "concurrent update, please retry", Cause: err}
}

func (s *Service) allow(ctx context.Context, userID int64, rule ratelimit.Rule) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.AllowUser(ctx, userID, rule)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.Int64("user", userID), zap.Error(err))
	}
	if !ok {
		return apperror.RateLimited("too many requests, slow down")
	}
	return nil
}

// likeParties checks the preconditions shared by SendLike and CancelLike
// and returns both profiles.
func (s *Service) likeParties(ctx context.Context, senderID, receiverID int64) (*profile.Profile, *profile.Profile, error) {
	if err := s.requirePreference(ctx, receiverID); err != nil {
		return nil, nil, err
	}
	sender, err := s.requireProfile(ctx, senderID, "sender not found")
	if err != nil {
		return nil, nil, err
	}
	receiver, err := s.requireProfile(ctx, receiverID, "receiver not found")
	if err != nil {
		return nil, nil, err
	}
	return sender, receiver, nil
}

func (s *Service) requirePreference(ctx context.Context, userID int64) error {
	pref, err := s.candidates.Preference(ctx, userID)
	if err != nil {
		return fmt.Errorf("matching: load preference: %w", err)
	}
	if pref == nil {
		return apperror.NotFound("user has not registered matching preferences")
	}
	return nil
}

func (s *Service) requireProfile(ctx context.Context, userID int64, msg string) (*profile.Profile, error) {
	p, err := s.candidates.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: load profile: %w", err)
	}
	if p == nil {
		return nil, apperror.NotFound(msg)
	}
	return p, nil
}

// lookupChatroom returns the pair's chatroom id, or "" when there is none
// or it cannot be loaded.
func (s *Service) lookupChatroom(ctx context.Context, m *match.Match) string {
	id, err := s.chatrooms.FindByPair(ctx, m.SenderID, m.ReceiverID)
	if err != nil {
		s.logger.Warn("chatroom lookup failed", zap.Int64("match_id", m.ID), zap.Error(err))
		return ""
	}
	return id
}

// remaining returns how many calls rule still allows userID, or nil when
// no limiter is wired or it cannot answer.
func (s *Service) remaining(ctx context.Context, userID int64, rule ratelimit.Rule) *int {
	if s.limiter == nil {
		return nil
	}
	n, err := s.limiter.RemainingUser(ctx, userID, rule)
	if err != nil {
		s.logger.Warn("rate limiter unavailable", zap.Int64("user", userID), zap.Error(err))
		return nil
	}
	return &n
}

// lookupProfile returns userID's profile, or nil when it cannot be loaded.
func (s *Service) lookupProfile(ctx context.Context, userID int64) *profile.Profile {
	p, err := s.candidates.Profile(ctx, userID)
	if err != nil {
		s.logger.Warn("profile lookup failed", zap.Int64("user", userID), zap.Error(err))
		return nil
	}
	return p
}

package matching

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/unimate/roommate/internal/apperror"
	"github.com/unimate/roommate/internal/filter"
	"github.com/unimate/roommate/internal/logging"
	"github.com/unimate/roommate/internal/messaging"
	"github.com/unimate/roommate/internal/notify"
)

// RPC operations, served on roommate.match.<op>.
const (
	OpLike            = "like"
	OpCancelLike      = "cancel_like"
	OpConfirm         = "confirm"
	OpReject          = "reject"
	OpRecommendations = "recommendations"
	OpCandidate       = "candidate"
	OpStatus          = "status"
	OpResults         = "results"
	OpDisable         = "disable"
	OpNotifications   = "notifications"
	OpEnterRoom       = "enter_room"
	OpLeaveRoom       = "leave_room"
	OpRoomHeartbeat   = "room_heartbeat"
)

// DefaultWorkers bounds the requests a Server handles at once.
const DefaultWorkers = 64

// Ops lists every served operation.
var Ops = []string{
	OpLike, OpCancelLike, OpConfirm, OpReject,
	OpRecommendations, OpCandidate, OpStatus, OpResults, OpDisable,
	OpNotifications, OpEnterRoom, OpLeaveRoom, OpRoomHeartbeat,
}

// Request is the payload of every RPC. UserID is the caller; TargetID is
// the liked user or the inspected candidate.
type Request struct {
	UserID   int64           `json:"user_id"`
	TargetID int64           `json:"target_id,omitempty"`
	MatchID  int64           `json:"match_id,omitempty"`
	RoomID   string          `json:"room_id,omitempty"`
	Limit    int             `json:"limit,omitempty"`
	Criteria filter.Criteria `json:"criteria"`
}

// Response is the reply of every RPC.
type Response struct {
	OK    bool      `json:"ok"`
	Data  any       `json:"data,omitempty"`
	Error *RPCError `json:"error,omitempty"`
}

// RPCError carries the error kind so clients can branch on it.
type RPCError struct {
	Kind    apperror.Kind `json:"kind"`
	Message string        `json:"message"`
}

// Subscriber is the part of the NATS client the server needs.
type Subscriber interface {
	QueueSubscribe(subject, queue string, handler func(msg *nats.Msg)) error
}

// Inbox lists a user's stored notifications.
type Inbox interface {
	List(ctx context.Context, recipient int64, limit int) ([]*notify.Notification, error)
}

// RoomTracker records which chatroom a user has open.
type RoomTracker interface {
	Enter(ctx context.Context, userID int64, roomID string) error
	Leave(ctx context.Context, userID int64, roomID string) error
	RefreshTTL(ctx context.Context, userID int64) error
}

// RoomEntry is the reply of enter_room.
type RoomEntry struct {
	RoomID    string `json:"room_id"`
	PartnerID int64  `json:"partner_id"`
}

// ServerOption configures optional server collaborators.
type ServerOption func(*Server)

// WithInbox serves the notifications operation from inbox.
func WithInbox(inbox Inbox) ServerOption {
	return func(s *Server) { s.inbox = inbox }
}

// WithRoomTracker serves the enter_room, leave_room and room_heartbeat
// operations.
func WithRoomTracker(rooms RoomTracker) ServerOption {
	return func(s *Server) { s.rooms = rooms }
}

// WithWorkers bounds the requests handled at once. Non-positive values are
// ignored.
func WithWorkers(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithRequestTimeout bounds the inbox and room operations. It defaults to
// the service's request timeout.
func WithRequestTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Server exposes a Service over NATS request/reply. NATS delivers each
// subscription's messages on one goroutine, so requests are handed to a
// bounded pool of workers.
type Server struct {
	svc     *Service
	sub     Subscriber
	inbox   Inbox
	rooms   RoomTracker
	workers int
	timeout time.Duration
	pool    chan struct{}
	wg      sync.WaitGroup
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewServer creates an RPC server for svc.
func NewServer(svc *Service, sub Subscriber, logger *zap.Logger, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		svc:     svc,
		sub:     sub,
		workers: DefaultWorkers,
		timeout: svc.opts.RequestTimeout,
		logger:  logging.Component(logger, "rpc"),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = make(chan struct{}, s.workers)
	return s
}

// Subject returns the request subject of op.
func Subject(op string) string {
	return messaging.SubjectMatchRPC + "." + op
}

// Start subscribes every operation in the matchd queue group.
func (s *Server) Start() error {
	for _, op := range Ops {
		err := s.sub.QueueSubscribe(Subject(op), messaging.QueueMatchd, func(msg *nats.Msg) {
			s.submit(op, msg.Data, msg.Respond)
		})
		if err != nil {
			return err
		}
	}
	s.logger.Info("rpc server started", zap.Int("ops", len(Ops)), zap.Int("workers", s.workers))
	return nil
}

// Stop cancels in-flight handlers and waits for them to reply.
func (s *Server) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("rpc server stopped")
}

// submit runs one request on a worker. It blocks while every worker is
// busy, which leaves further messages queued in the NATS client.
func (s *Server) submit(op string, data []byte, respond func([]byte) error) {
	if s.ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	select {
	case s.pool <- struct{}{}:
	case <-s.ctx.Done():
		s.wg.Done()
		return
	}
	go func() {
		defer s.wg.Done()
		defer func() { <-s.pool }()

		reply := s.Handle(s.ctx, op, data)
		if err := respond(reply); err != nil {
			s.logger.Warn("reply failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

// Handle decodes a request for op, runs it and encodes the reply.
func (s *Server) Handle(ctx context.Context, op string, data []byte) []byte {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return encode(s.logger, op, nil, apperror.BadRequest("invalid request payload"))
	}
	if req.UserID == 0 {
		return encode(s.logger, op, nil, apperror.BadRequest("user_id is required"))
	}

	var (
		out any
		err error
	)
	switch op {
	case OpLike:
		out, err = s.svc.SendLike(ctx, req.UserID, req.TargetID)
	case OpCancelLike:
		err = s.svc.CancelLike(ctx, req.UserID, req.TargetID)
	case OpConfirm:
		out, err = s.svc.ConfirmMatch(ctx, req.MatchID, req.UserID)
	case OpReject:
		out, err = s.svc.RejectMatch(ctx, req.MatchID, req.UserID)
	case OpRecommendations:
		out, err = s.svc.GetRecommendations(ctx, req.UserID, req.Criteria)
	case OpCandidate:
		out, err = s.svc.GetCandidateDetail(ctx, req.UserID, req.TargetID)
	case OpStatus:
		out, err = s.svc.GetStatus(ctx, req.UserID)
	case OpResults:
		out, err = s.svc.GetResults(ctx, req.UserID)
	case OpDisable:
		var n int64
		n, err = s.svc.DisableMatching(ctx, req.UserID)
		out = map[string]int64{"removed": n}
	case OpNotifications:
		out, err = s.notifications(ctx, req)
	case OpEnterRoom:
		out, err = s.enterRoom(ctx, req)
	case OpLeaveRoom:
		err = s.leaveRoom(ctx, req)
	case OpRoomHeartbeat:
		err = s.roomHeartbeat(ctx, req)
	default:
		err = apperror.BadRequest("unknown operation " + op)
	}
	return encode(s.logger, op, out, err)
}

func (s *Server) notifications(ctx context.Context, req Request) ([]*notify.Notification, error) {
	if s.inbox == nil {
		return nil, apperror.BadRequest("notifications are not served here")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.inbox.List(ctx, req.UserID, req.Limit)
}

func (s *Server) enterRoom(ctx context.Context, req Request) (*RoomEntry, error) {
	if err := s.checkRoomRequest(req, true); err != nil {
		return nil, err
	}
	room, err := s.svc.Room(ctx, req.UserID, req.RoomID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.rooms.Enter(ctx, req.UserID, room.ID); err != nil {
		return nil, err
	}
	return &RoomEntry{RoomID: room.ID, PartnerID: room.Partner(req.UserID)}, nil
}

func (s *Server) leaveRoom(ctx context.Context, req Request) error {
	if err := s.checkRoomRequest(req, true); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.rooms.Leave(ctx, req.UserID, req.RoomID)
}

func (s *Server) roomHeartbeat(ctx context.Context, req Request) error {
	if err := s.checkRoomRequest(req, false); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.rooms.RefreshTTL(ctx, req.UserID)
}

func (s *Server) checkRoomRequest(req Request, needRoom bool) error {
	if s.rooms == nil {
		return apperror.BadRequest("room tracking is not served here")
	}
	if needRoom && req.RoomID == "" {
		return apperror.BadRequest("room_id is required")
	}
	return nil
}

func encode(logger *zap.Logger, op string, out any, err error) []byte {
	resp := Response{OK: err == nil, Data: out}
	if err != nil {
		resp.Data = nil
		resp.Error = toRPCError(err)
		if resp.Error.Kind == apperror.KindInternal {
			logger.Error("operation failed", zap.String("op", op), zap.Error(err))
		}
	}
	data, mErr := json.Marshal(resp)
	if mErr != nil {
		logger.Error("encode reply", zap.String("op", op), zap.Error(mErr))
		return []byte(`{"ok":false,"error":{"kind":"INTERNAL","message":"internal error"}}`)
	}
	return data
}

func toRPCError(err error) *RPCError {
	var ae *apperror.Error
	if errors.As(err, &ae) && ae.Kind != apperror.KindInternal {
		return &RPCError{Kind: ae.Kind, Message: ae.Message}
	}
	return &RPCError{Kind: apperror.KindInternal, Message: "internal error"}
}

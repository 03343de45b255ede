package matching

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unimate/roommate/internal/apperror"
	"github.com/unimate/roommate/internal/messaging"
	"github.com/unimate/roommate/internal/notify"
)

type recordingSubscriber struct {
	subjects []string
	queues   []string
	err      error
}

func (r *recordingSubscriber) QueueSubscribe(subject, queue string, _ func(*nats.Msg)) error {
	if r.err != nil {
		return r.err
	}
	r.subjects = append(r.subjects, subject)
	r.queues = append(r.queues, queue)
	return nil
}

type rpcReply struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *RPCError       `json:"error"`
}

func call(t *testing.T, s *Server, op string, req any) rpcReply {
	t.Helper()
	var payload []byte
	switch v := req.(type) {
	case []byte:
		payload = v
	default:
		var err error
		payload, err = json.Marshal(v)
		require.NoError(t, err)
	}
	var out rpcReply
	require.NoError(t, json.Unmarshal(s.Handle(context.Background(), op, payload), &out))
	return out
}

func TestServer_StartSubscribesEveryOp(t *testing.T) {
	sub := &recordingSubscriber{}
	s := NewServer(newEnv(t).svc, sub, nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	require.Len(t, sub.subjects, len(Ops))
	assert.Contains(t, sub.subjects, "roommate.match.like")
	assert.Contains(t, sub.subjects, "roommate.match.recommendations")
	for _, q := range sub.queues {
		assert.Equal(t, messaging.QueueMatchd, q)
	}
}

func TestServer_StartPropagatesSubscribeError(t *testing.T) {
	s := NewServer(newEnv(t).svc, &recordingSubscriber{err: errors.New("not connected")}, nil)
	assert.Error(t, s.Start())
}

func TestServer_HandleLikeFlow(t *testing.T) {
	e := newEnv(t)
	e.addUser(1, "alice")
	e.addUser(2, "bob")
	s := NewServer(e.svc, &recordingSubscriber{}, nil)

	reply := call(t, s, OpLike, Request{UserID: 1, TargetID: 2})
	require.True(t, reply.OK, "%+v", reply.Error)
	var like LikeResult
	require.NoError(t, json.Unmarshal(reply.Data, &like))
	assert.False(t, like.Mutual)

	reply = call(t, s, OpLike, Request{UserID: 2, TargetID: 1})
	require.True(t, reply.OK)
	require.NoError(t, json.Unmarshal(reply.Data, &like))
	assert.True(t, like.Mutual)
	assert.Equal(t, "room-1-2", like.ChatroomID)

	reply = call(t, s, OpConfirm, Request{UserID: 1, MatchID: like.MatchID})
	require.True(t, reply.OK)

	reply = call(t, s, OpStatus, Request{UserID: 1})
	require.True(t, reply.OK)
	var view StatusView
	require.NoError(t, json.Unmarshal(reply.Data, &view))
	require.Len(t, view.Matches, 1)
	assert.True(t, view.Matches[0].WaitingForPartner)

	reply = call(t, s, OpDisable, Request{UserID: 2})
	require.True(t, reply.OK)
	assert.JSONEq(t, `{"removed":1}`, string(reply.Data))
}

func TestServer_HandleErrors(t *testing.T) {
	e := newEnv(t)
	e.addUser(1, "alice")
	s := NewServer(e.svc, &recordingSubscriber{}, nil)

	tests := []struct {
		name string
		op   string
		req  any
		kind apperror.Kind
	}{
		{"malformed payload", OpLike, []byte("{"), apperror.KindBadRequest},
		{"missing caller", OpStatus, Request{}, apperror.KindBadRequest},
		{"unknown op", "teleport", Request{UserID: 1}, apperror.KindBadRequest},
		{"self like", OpLike, Request{UserID: 1, TargetID: 1}, apperror.KindBadRequest},
		{"unknown match", OpConfirm, Request{UserID: 1, MatchID: 9}, apperror.KindNotFound},
		{"nothing to cancel", OpCancelLike, Request{UserID: 1, TargetID: 1}, apperror.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := call(t, s, tt.op, tt.req)
			assert.False(t, reply.OK)
			require.NotNil(t, reply.Error)
			assert.Equal(t, tt.kind, reply.Error.Kind)
			assert.NotEmpty(t, reply.Error.Message)
			assert.Empty(t, reply.Data)
		})
	}
}

func TestToRPCErrorMasksInternalErrors(t *testing.T) {
	got := toRPCError(errors.New("pq: connection refused"))
	assert.Equal(t, apperror.KindInternal, got.Kind)
	assert.Equal(t, "internal error", got.Message)

	got = toRPCError(apperror.Conflict("already responded"))
	assert.Equal(t, apperror.KindConflict, got.Kind)
	assert.Equal(t, "already responded", got.Message)
}

type recordingRooms struct {
	entered   map[int64]string
	refreshed []int64
}

func (r *recordingRooms) Enter(_ context.Context, userID int64, roomID string) error {
	r.entered[userID] = roomID
	return nil
}

func (r *recordingRooms) Leave(_ context.Context, userID int64, roomID string) error {
	if r.entered[userID] == roomID {
		delete(r.entered, userID)
	}
	return nil
}

func (r *recordingRooms) RefreshTTL(_ context.Context, userID int64) error {
	r.refreshed = append(r.refreshed, userID)
	return nil
}

func TestServer_NotificationsAndRooms(t *testing.T) {
	e := newEnv(t)
	e.addUser(1, "alice")
	e.addUser(2, "bob")
	e.addUser(3, "carol")
	rooms := &recordingRooms{entered: map[int64]string{}}
	s := NewServer(e.svc, &recordingSubscriber{}, nil,
		WithInbox(notify.NewService(e.notes, nil, nil, nil)),
		WithRoomTracker(rooms))

	require.True(t, call(t, s, OpLike, Request{UserID: 1, TargetID: 2}).OK)

	reply := call(t, s, OpNotifications, Request{UserID: 2})
	require.True(t, reply.OK)
	var inbox []notify.Notification
	require.NoError(t, json.Unmarshal(reply.Data, &inbox))
	require.Len(t, inbox, 1)
	assert.Equal(t, notify.TypeLike, inbox[0].Type)
	assert.Equal(t, notify.LikeMessage("alice"), inbox[0].Message)

	// The room only exists once the like is mutual.
	reply = call(t, s, OpEnterRoom, Request{UserID: 2, RoomID: "room-1-2"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, apperror.KindNotFound, reply.Error.Kind)

	require.True(t, call(t, s, OpLike, Request{UserID: 2, TargetID: 1}).OK)

	reply = call(t, s, OpEnterRoom, Request{UserID: 2, RoomID: "room-1-2"})
	require.True(t, reply.OK, "%+v", reply.Error)
	var entry RoomEntry
	require.NoError(t, json.Unmarshal(reply.Data, &entry))
	assert.Equal(t, RoomEntry{RoomID: "room-1-2", PartnerID: 1}, entry)
	assert.Equal(t, "room-1-2", rooms.entered[2])

	require.True(t, call(t, s, OpRoomHeartbeat, Request{UserID: 2}).OK)
	assert.Equal(t, []int64{2}, rooms.refreshed)

	require.True(t, call(t, s, OpLeaveRoom, Request{UserID: 2, RoomID: "room-1-2"}).OK)
	assert.NotContains(t, rooms.entered, int64(2))

	reply = call(t, s, OpEnterRoom, Request{UserID: 3, RoomID: "room-1-2"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, apperror.KindForbidden, reply.Error.Kind)
	assert.NotContains(t, rooms.entered, int64(3))

	reply = call(t, s, OpEnterRoom, Request{UserID: 2})
	require.NotNil(t, reply.Error)
	assert.Equal(t, apperror.KindBadRequest, reply.Error.Kind)
}

func TestServer_OptionalOpsWithoutCollaborators(t *testing.T) {
	s := NewServer(newEnv(t).svc, &recordingSubscriber{}, nil)
	for _, op := range []string{OpNotifications, OpEnterRoom, OpLeaveRoom, OpRoomHeartbeat} {
		reply := call(t, s, op, Request{UserID: 1, RoomID: "r"})
		require.NotNil(t, reply.Error, op)
		assert.Equal(t, apperror.KindBadRequest, reply.Error.Kind, op)
	}
}

// blockingInbox holds every List call until release is closed or the
// call's context ends.
type blockingInbox struct {
	started     chan struct{}
	release     chan struct{}
	hadDeadline atomic.Bool
}

func (b *blockingInbox) List(ctx context.Context, _ int64, _ int) ([]*notify.Notification, error) {
	_, ok := ctx.Deadline()
	b.hadDeadline.Store(ok)
	b.started <- struct{}{}
	select {
	case <-b.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type replies chan []byte

func (r replies) respond(data []byte) error {
	r <- data
	return nil
}

func decodeReply(t *testing.T, data []byte) rpcReply {
	t.Helper()
	var out rpcReply
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestServer_SlowRequestDoesNotBlockOthers(t *testing.T) {
	e := newEnv(t)
	e.addUser(1, "alice")
	inbox := &blockingInbox{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewServer(e.svc, &recordingSubscriber{}, nil, WithInbox(inbox), WithWorkers(2))
	defer s.Stop()

	slow, fast := make(replies, 1), make(replies, 1)
	payload, err := json.Marshal(Request{UserID: 1})
	require.NoError(t, err)

	s.submit(OpNotifications, payload, slow.respond)
	<-inbox.started
	s.submit(OpStatus, payload, fast.respond)

	select {
	case data := <-fast:
		assert.True(t, decodeReply(t, data).OK)
	case <-time.After(2 * time.Second):
		t.Fatal("status reply waited for the blocked notifications call")
	}

	close(inbox.release)
	select {
	case data := <-slow:
		assert.True(t, decodeReply(t, data).OK)
	case <-time.After(2 * time.Second):
		t.Fatal("notifications never replied")
	}
}

func TestServer_InboxCallsAreBounded(t *testing.T) {
	e := newEnv(t)
	inbox := &blockingInbox{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewServer(e.svc, &recordingSubscriber{}, nil, WithInbox(inbox), WithRequestTimeout(50*time.Millisecond))

	start := time.Now()
	reply := call(t, s, OpNotifications, Request{UserID: 1})
	<-inbox.started

	assert.True(t, inbox.hadDeadline.Load())
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NotNil(t, reply.Error)
	assert.Equal(t, apperror.KindInternal, reply.Error.Kind)
}

func TestServer_StopWaitsForWorkers(t *testing.T) {
	e := newEnv(t)
	inbox := &blockingInbox{started: make(chan struct{}, 1), release: make(chan struct{})}
	s := NewServer(e.svc, &recordingSubscriber{}, nil, WithInbox(inbox), WithWorkers(1))

	out := make(replies, 2)
	payload, err := json.Marshal(Request{UserID: 1})
	require.NoError(t, err)
	s.submit(OpNotifications, payload, out.respond)
	<-inbox.started

	s.Stop()
	// The in-flight call was cancelled and still replied.
	require.Len(t, out, 1)
	assert.False(t, decodeReply(t, <-out).OK)

	// Requests after Stop are dropped.
	s.submit(OpStatus, payload, out.respond)
	assert.Empty(t, out)
}

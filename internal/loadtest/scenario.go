package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/unimate/roommate/internal/logging"
	"github.com/unimate/roommate/internal/match"
	"github.com/unimate/roommate/internal/matching"
)

// Caller sends one request and waits for its reply.
type Caller interface {
	Request(subject string, data []byte, timeout time.Duration) ([]byte, error)
}

// Config tunes a pair run.
type Config struct {
	// Users are taken two at a time; each pair likes, mutually likes and
	// confirms. An odd trailing user is ignored.
	Users []int64
	// Concurrency bounds the pairs in flight.
	Concurrency int
	// Timeout bounds each request.
	Timeout time.Duration
	// Recommend asks for recommendations before each pair's first like.
	Recommend bool
}

// Result counts pair outcomes.
type Result struct {
	Pairs    int
	Accepted int
	Failed   int
}

// Runner executes the pair scenario against a matchd instance.
type Runner struct {
	caller Caller
	col    *Collector
	cfg    Config
	logger *zap.Logger
}

// NewRunner creates a Runner reporting into col.
func NewRunner(caller Caller, col *Collector, cfg Config, logger *zap.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Runner{caller: caller, col: col, cfg: cfg, logger: logging.Component(logger, "loadtest")}
}

// Run drives every pair to completion or until ctx is cancelled. A failed
// pair is counted, not returned.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	var accepted, failed atomic.Int64
	pairs := len(r.cfg.Users) / 2

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i := 0; i < pairs; i++ {
		a, b := r.cfg.Users[2*i], r.cfg.Users[2*i+1]
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := r.runPair(gctx, a, b); err != nil {
				failed.Add(1)
				r.logger.Debug("pair failed", zap.Int64("a", a), zap.Int64("b", b), zap.Error(err))
				return nil
			}
			accepted.Add(1)
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	return Result{Pairs: pairs, Accepted: int(accepted.Load()), Failed: int(failed.Load())}, err
}

func (r *Runner) runPair(ctx context.Context, a, b int64) error {
	if r.cfg.Recommend {
		if _, err := r.call(ctx, matching.OpRecommendations, matching.Request{UserID: a}); err != nil {
			return err
		}
	}

	var like matching.LikeResult
	data, err := r.call(ctx, matching.OpLike, matching.Request{UserID: a, TargetID: b})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &like); err != nil {
		return fmt.Errorf("loadtest: decode like: %w", err)
	}

	data, err = r.call(ctx, matching.OpLike, matching.Request{UserID: b, TargetID: a})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &like); err != nil {
		return fmt.Errorf("loadtest: decode like: %w", err)
	}
	if !like.Mutual {
		return fmt.Errorf("loadtest: like %d->%d was not mutual", b, a)
	}

	var m match.Match
	for _, user := range []int64{a, b} {
		data, err = r.call(ctx, matching.OpConfirm, matching.Request{UserID: user, MatchID: like.MatchID})
		if err != nil {
			return err
		}
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("loadtest: decode match: %w", err)
	}
	if m.Status != match.StatusAccepted {
		return fmt.Errorf("loadtest: match %d ended %s", m.ID, m.Status)
	}
	return nil
}

type reply struct {
	OK    bool               `json:"ok"`
	Data  json.RawMessage    `json:"data"`
	Error *matching.RPCError `json:"error"`
}

func (r *Runner) call(ctx context.Context, op string, req matching.Request) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := r.caller.Request(matching.Subject(op), payload, r.cfg.Timeout)
	elapsed := time.Since(start)
	if err != nil {
		r.col.AddError(op)
		return nil, err
	}

	var rep reply
	if err := json.Unmarshal(raw, &rep); err != nil {
		r.col.AddError(op)
		return nil, fmt.Errorf("loadtest: decode %s reply: %w", op, err)
	}
	if !rep.OK {
		r.col.AddError(op)
		if rep.Error != nil {
			return nil, fmt.Errorf("loadtest: %s: %s: %s", op, rep.Error.Kind, rep.Error.Message)
		}
		return nil, fmt.Errorf("loadtest: %s failed", op)
	}
	r.col.Add(op, elapsed)
	return rep.Data, nil
}

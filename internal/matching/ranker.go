package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/unimate/roommate/internal/apperror"
	"github.com/unimate/roommate/internal/candidate"
	"github.com/unimate/roommate/internal/filter"
	"github.com/unimate/roommate/internal/match"
	"github.com/unimate/roommate/internal/scoring"
)

// MaxRecommendations caps a recommendation list.
const MaxRecommendations = 10

// Ranker builds recommendation lists: filter the candidate universe, score
// every survivor against the requester's preference record, keep the best.
type Ranker struct {
	repo    candidate.Repository
	matches match.Store
	filter  *filter.Filter
	scorer  *scoring.Scorer
	now     func() time.Time
}

// NewRanker returns a Ranker. A nil clock uses time.Now.
func NewRanker(repo candidate.Repository, matches match.Store, now func() time.Time) *Ranker {
	if now == nil {
		now = time.Now
	}
	return &Ranker{
		repo:    repo,
		matches: matches,
		filter:  filter.New(now),
		scorer:  scoring.NewScorer(now),
		now:     now,
	}
}

// Rank returns at most MaxRecommendations candidates for userID, sorted by
// descending score. Equal scores are ordered by ascending candidate id.
func (r *Ranker) Rank(ctx context.Context, userID int64, c filter.Criteria) ([]Recommendation, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	pref, err := r.repo.Preference(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: load preference: %w", err)
	}
	if pref == nil {
		return nil, apperror.NotFound("matching preferences not registered")
	}
	requester, err := r.repo.Profile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: load profile: %w", err)
	}
	if requester == nil {
		return nil, apperror.NotFound("user not found")
	}

	universe, err := r.repo.ListCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("matching: list candidates: %w", err)
	}
	existing, err := r.matches.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: list matches: %w", err)
	}

	byPartner := make(map[int64]*match.Match, len(existing))
	spokenFor := make(map[int64]bool)
	for _, m := range existing {
		partner := m.Partner(userID)
		byPartner[partner] = m
		if m.SpokenFor() {
			spokenFor[partner] = true
		}
	}

	eligible, err := r.filter.Apply(requester, universe, spokenFor, c)
	if err != nil {
		return nil, err
	}

	now := r.now()
	subject := pref.Subject()
	out := make([]Recommendation, 0, len(eligible))
	for _, p := range eligible {
		typ, status := matchState(byPartner[p.UserID])
		out = append(out, Recommendation{
			ReceiverID:        p.UserID,
			Name:              p.Name,
			University:        p.University,
			StudentVerified:   p.StudentVerified,
			Gender:            p.Gender,
			Age:               ageOf(p.BirthDate, now),
			MBTI:              p.MBTI,
			PreferenceScore:   r.scorer.Score(subject, p.Subject()),
			MatchType:         typ,
			MatchStatus:       status,
			SleepTime:         p.Lifestyle.SleepTime,
			CleaningFrequency: p.Lifestyle.CleaningFrequency,
			Smoker:            p.Lifestyle.Smoker,
			StartUseDate:      p.StartUseDate,
			EndUseDate:        p.EndUseDate,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PreferenceScore != out[j].PreferenceScore {
			return out[i].PreferenceScore > out[j].PreferenceScore
		}
		return out[i].ReceiverID < out[j].ReceiverID
	})
	if len(out) > MaxRecommendations {
		out = out[:MaxRecommendations]
	}
	return out, nil
}

// Detail returns candidateID's full profile scored against userID's
// preference record. Both users must have registered preferences.
func (r *Ranker) Detail(ctx context.Context, userID, candidateID int64) (*CandidateDetail, error) {
	pref, err := r.repo.Preference(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("matching: load preference: %w", err)
	}
	if pref == nil {
		return nil, apperror.NotFound("matching preferences not registered")
	}
	theirs, err := r.repo.Preference(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("matching: load preference: %w", err)
	}
	if theirs == nil {
		return nil, apperror.NotFound("candidate has not registered matching preferences")
	}
	p, err := r.repo.Profile(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("matching: load profile: %w", err)
	}
	if p == nil {
		return nil, apperror.NotFound("candidate profile not found")
	}
	existing, err := r.matches.FindPair(ctx, userID, candidateID)
	if err != nil {
		return nil, fmt.Errorf("matching: find match: %w", err)
	}

	typ, status := matchState(existing)
	return &CandidateDetail{
		ReceiverID:      p.UserID,
		Email:           p.Email,
		Name:            p.Name,
		University:      p.University,
		StudentVerified: p.StudentVerified,
		MBTI:            p.MBTI,
		Gender:          p.Gender,
		Age:             ageOf(p.BirthDate, r.now()),
		BirthDate:       p.BirthDate,
		Lifestyle:       p.Lifestyle,
		StartUseDate:    p.StartUseDate,
		EndUseDate:      p.EndUseDate,
		PreferenceScore: r.scorer.Score(pref.Subject(), p.Subject()),
		MatchType:       typ,
		MatchStatus:     status,
	}, nil
}

// score returns the compatibility of prefOwner's preference with candidateID.
func (r *Ranker) score(ctx context.Context, prefOwner, candidateID int64) (float64, error) {
	pref, err := r.repo.Preference(ctx, prefOwner)
	if err != nil {
		return 0, fmt.Errorf("matching: load preference: %w", err)
	}
	if pref == nil {
		return 0, apperror.NotFound("matching preferences not registered")
	}
	p, err := r.repo.Profile(ctx, candidateID)
	if err != nil {
		return 0, fmt.Errorf("matching: load profile: %w", err)
	}
	if p == nil {
		return 0, apperror.NotFound("receiver profile not found")
	}
	return r.scorer.Score(pref.Subject(), p.Subject()), nil
}

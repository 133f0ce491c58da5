package services

import (
	"sort"
	"strings"
	"sync"
)

// ScoringStore gives strategies read access to a submitted attempt's
// answers and the option-trait weights behind them.
type ScoringStore interface {
	GetAttempt(id string) (*Attempt, error)
	ListAnswers(attemptID string) ([]*Answer, error)
	ListOptionTraitsByOptionIDs(optionIDs []string) ([]*OptionTrait, error)
	GetTraitsByIDs(ids []string) ([]*TraitProfile, error)
	ListProfessions() ([]*Profession, error)
}

type ScoringResult struct {
	TraitScores     []TraitScore
	Recommendations []Recommendation
}

// Strategy turns an attempt's answers into trait scores and ranked
// profession recommendations. Implementations must not mutate stored state.
type Strategy interface {
	Evaluate(attemptID string) (*ScoringResult, error)
}

// Registry dispatches processing modes to scoring strategies. Adding a new
// mode means registering a new strategy; callers stay strategy-agnostic.
type Registry struct {
	mu         sync.RWMutex
	strategies map[ProcessingMode]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: map[ProcessingMode]Strategy{}}
}

// DefaultRegistry registers the built-in weight-based strategies.
func DefaultRegistry(store ScoringStore) *Registry {
	r := NewRegistry()
	r.Register(ModeTraitSum, &TraitSumStrategy{Store: store})
	r.Register(ModeBipolar, &BipolarStrategy{Store: store})
	return r
}

func (r *Registry) Register(mode ProcessingMode, s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[mode] = s
}

func (r *Registry) Resolve(mode ProcessingMode) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[mode]
	if !ok {
		return nil, NewInvalidStateError("no scoring strategy registered for processing mode " + string(mode))
	}
	return s, nil
}

// accumulateTraitScores runs the baseline aggregation: for every answered
// option, each (trait, weight) link adds its weight to that trait's score.
// The output is ordered by trait code for stable serialization.
func accumulateTraitScores(store ScoringStore, attemptID string) ([]TraitScore, error) {
	attempt, err := store.GetAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, NewNotFoundError("attempt not found")
	}

	answers, err := store.ListAnswers(attemptID)
	if err != nil {
		return nil, err
	}
	optionIDs := make([]string, 0, len(answers))
	for _, a := range answers {
		optionIDs = append(optionIDs, a.OptionID)
	}

	links, err := store.ListOptionTraitsByOptionIDs(optionIDs)
	if err != nil {
		return nil, err
	}
	sums := map[string]float64{}
	for _, l := range links {
		sums[l.TraitID] += l.Weight
	}

	traitIDs := make([]string, 0, len(sums))
	for id := range sums {
		traitIDs = append(traitIDs, id)
	}
	traits, err := store.GetTraitsByIDs(traitIDs)
	if err != nil {
		return nil, err
	}

	scores := make([]TraitScore, 0, len(traits))
	for _, t := range traits {
		scores = append(scores, TraitScore{Trait: t, Score: sums[t.ID]})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].Trait.Code < scores[j].Trait.Code })
	return scores, nil
}

// classifierTraits splits a profession's classifier code into the trait
// codes it targets ("R+I" matches traits R and I).
func classifierTraits(code string) []string {
	if strings.TrimSpace(code) == "" {
		return nil
	}
	parts := strings.Split(code, "+")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func rankProfessions(professions []*Profession, scoreByCode map[string]float64) []Recommendation {
	recs := make([]Recommendation, 0, len(professions))
	for _, p := range professions {
		total := 0.0
		matched := make([]string, 0, 2)
		for _, code := range classifierTraits(p.ClassifierCode) {
			if v, ok := scoreByCode[code]; ok {
				total += v
				matched = append(matched, code)
			}
		}
		if len(matched) == 0 {
			continue
		}
		recs = append(recs, Recommendation{
			Profession:  p,
			Score:       total,
			Explanation: "aligned with " + strings.Join(matched, ", "),
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return recs[i].Profession.Code < recs[j].Profession.Code
	})
	for i := range recs {
		recs[i].Rank = i + 1
	}
	return recs
}

// TraitSumStrategy is the baseline weight-sum strategy: trait scores are
// the raw accumulated weights, professions are ranked by the summed scores
// of the traits their classifier code names.
type TraitSumStrategy struct {
	Store ScoringStore
}

func (s *TraitSumStrategy) Evaluate(attemptID string) (*ScoringResult, error) {
	scores, err := accumulateTraitScores(s.Store, attemptID)
	if err != nil {
		return nil, err
	}
	professions, err := s.Store.ListProfessions()
	if err != nil {
		return nil, err
	}
	byCode := make(map[string]float64, len(scores))
	for _, ts := range scores {
		byCode[ts.Trait.Code] = ts.Score
	}
	return &ScoringResult{
		TraitScores:     scores,
		Recommendations: rankProfessions(professions, byCode),
	}, nil
}

// BipolarStrategy accumulates like TraitSumStrategy but ranks professions
// on axis differentials: for a trait paired with an opposite pole, only the
// dominant pole contributes, scored as the difference between the two
// poles. Unipolar traits contribute their raw score.
type BipolarStrategy struct {
	Store ScoringStore
}

func (s *BipolarStrategy) Evaluate(attemptID string) (*ScoringResult, error) {
	scores, err := accumulateTraitScores(s.Store, attemptID)
	if err != nil {
		return nil, err
	}
	professions, err := s.Store.ListProfessions()
	if err != nil {
		return nil, err
	}

	raw := make(map[string]float64, len(scores))
	for _, ts := range scores {
		raw[ts.Trait.Code] = ts.Score
	}
	byCode := make(map[string]float64, len(scores))
	for _, ts := range scores {
		pair := ts.Trait.BipolarPairCode
		if pair == "" {
			byCode[ts.Trait.Code] = ts.Score
			continue
		}
		diff := ts.Score - raw[pair]
		if diff > 0 {
			byCode[ts.Trait.Code] = diff
		}
	}
	return &ScoringResult{
		TraitScores:     scores,
		Recommendations: rankProfessions(professions, byCode),
	}, nil
}

// RecommendationRanker is the injection point for externally computed
// rankings (statistical models, LLM calls). It receives the already
// aggregated trait scores and returns the ordered recommendation list.
type RecommendationRanker func(attempt *Attempt, scores []TraitScore) ([]Recommendation, error)

// ExternalStrategy aggregates trait scores locally and delegates ranking
// to an injected policy.
type ExternalStrategy struct {
	Store ScoringStore
	Rank  RecommendationRanker
}

func (s *ExternalStrategy) Evaluate(attemptID string) (*ScoringResult, error) {
	if s.Rank == nil {
		return nil, NewInvalidStateError("external ranker not configured")
	}
	attempt, err := s.Store.GetAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, NewNotFoundError("attempt not found")
	}
	scores, err := accumulateTraitScores(s.Store, attemptID)
	if err != nil {
		return nil, err
	}
	recs, err := s.Rank(attempt, scores)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		recs[i].Rank = i + 1
	}
	return &ScoringResult{TraitScores: scores, Recommendations: recs}, nil
}

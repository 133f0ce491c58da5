package services

import (
	"testing"
	"time"
)

type scoringStubStore struct {
	attempts map[string]*Attempt
	answers  map[string][]*Answer
	links    map[string][]*OptionTrait
	traits   map[string]*TraitProfile
	profs    []*Profession
}

func newScoringStubStore() *scoringStubStore {
	return &scoringStubStore{
		attempts: map[string]*Attempt{},
		answers:  map[string][]*Answer{},
		links:    map[string][]*OptionTrait{},
		traits:   map[string]*TraitProfile{},
	}
}

func (s *scoringStubStore) GetAttempt(id string) (*Attempt, error) {
	if a, ok := s.attempts[id]; ok {
		copy := *a
		return &copy, nil
	}
	return nil, nil
}

func (s *scoringStubStore) ListAnswers(attemptID string) ([]*Answer, error) {
	return s.answers[attemptID], nil
}

func (s *scoringStubStore) ListOptionTraitsByOptionIDs(optionIDs []string) ([]*OptionTrait, error) {
	out := []*OptionTrait{}
	for _, id := range optionIDs {
		out = append(out, s.links[id]...)
	}
	return out, nil
}

func (s *scoringStubStore) GetTraitsByIDs(ids []string) ([]*TraitProfile, error) {
	out := []*TraitProfile{}
	for _, id := range ids {
		if t, ok := s.traits[id]; ok {
			copy := *t
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *scoringStubStore) ListProfessions() ([]*Profession, error) {
	return s.profs, nil
}

func (s *scoringStubStore) addTrait(id, code, pair string) {
	s.traits[id] = &TraitProfile{ID: id, Code: code, BipolarPairCode: pair}
}

func (s *scoringStubStore) addAnswer(attemptID, optionID string) {
	s.answers[attemptID] = append(s.answers[attemptID], &Answer{ID: "ans" + optionID, AttemptID: attemptID, OptionID: optionID, CreatedAt: time.Unix(0, 0)})
}

func (s *scoringStubStore) link(optionID, traitID string, weight float64) {
	s.links[optionID] = append(s.links[optionID], &OptionTrait{OptionID: optionID, TraitID: traitID, Weight: weight})
}

func TestTraitSumAccumulatesWeights(t *testing.T) {
	store := newScoringStubStore()
	store.attempts["A1"] = &Attempt{ID: "A1", VersionID: "V1", UserID: "U1"}
	store.addTrait("t-r", "R", "")
	store.addTrait("t-i", "I", "")
	store.link("o1", "t-r", 2)
	store.link("o1", "t-i", 1)
	store.link("o2", "t-r", 3)
	store.addAnswer("A1", "o1")
	store.addAnswer("A1", "o2")
	store.profs = []*Profession{
		{ID: "p1", Code: "mech", Title: "Mechanic", ClassifierCode: "R"},
		{ID: "p2", Code: "eng", Title: "Engineer", ClassifierCode: "R+I"},
		{ID: "p3", Code: "poet", Title: "Poet", ClassifierCode: "A"},
	}

	res, err := (&TraitSumStrategy{Store: store}).Evaluate("A1")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if len(res.TraitScores) != 2 {
		t.Fatalf("trait scores len = %d, want 2", len(res.TraitScores))
	}
	// Ordered by trait code: I before R.
	if res.TraitScores[0].Trait.Code != "I" || res.TraitScores[0].Score != 1 {
		t.Fatalf("I score wrong: %+v", res.TraitScores[0])
	}
	if res.TraitScores[1].Trait.Code != "R" || res.TraitScores[1].Score != 5 {
		t.Fatalf("R score wrong: %+v", res.TraitScores[1])
	}

	// eng matches R+I for 6, mech matches R for 5, poet matches nothing.
	if len(res.Recommendations) != 2 {
		t.Fatalf("recommendations len = %d, want 2", len(res.Recommendations))
	}
	if res.Recommendations[0].Profession.Code != "eng" || res.Recommendations[0].Score != 6 || res.Recommendations[0].Rank != 1 {
		t.Fatalf("top recommendation wrong: %+v", res.Recommendations[0])
	}
	if res.Recommendations[1].Profession.Code != "mech" || res.Recommendations[1].Rank != 2 {
		t.Fatalf("second recommendation wrong: %+v", res.Recommendations[1])
	}
	if res.Recommendations[0].Explanation == "" {
		t.Fatalf("expected explanation on recommendation")
	}
}

func TestTraitSumTieBreaksByProfessionCode(t *testing.T) {
	store := newScoringStubStore()
	store.attempts["A1"] = &Attempt{ID: "A1", UserID: "U1"}
	store.addTrait("t-s", "S", "")
	store.link("o1", "t-s", 4)
	store.addAnswer("A1", "o1")
	store.profs = []*Profession{
		{ID: "p1", Code: "teacher", ClassifierCode: "S"},
		{ID: "p2", Code: "nurse", ClassifierCode: "S"},
	}

	res, err := (&TraitSumStrategy{Store: store}).Evaluate("A1")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if res.Recommendations[0].Profession.Code != "nurse" || res.Recommendations[1].Profession.Code != "teacher" {
		t.Fatalf("tie break wrong: %+v", res.Recommendations)
	}
}

func TestTraitSumMissingAttempt(t *testing.T) {
	store := newScoringStubStore()
	if _, err := (&TraitSumStrategy{Store: store}).Evaluate("nope"); err == nil {
		t.Fatalf("expected not found")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorNotFound {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestBipolarUsesDominantPoleOnly(t *testing.T) {
	store := newScoringStubStore()
	store.attempts["A1"] = &Attempt{ID: "A1", UserID: "U1"}
	store.addTrait("t-e", "E", "I")
	store.addTrait("t-i", "I", "E")
	store.addTrait("t-x", "X", "")
	store.link("o1", "t-e", 5)
	store.link("o2", "t-i", 2)
	store.link("o3", "t-x", 1)
	store.addAnswer("A1", "o1")
	store.addAnswer("A1", "o2")
	store.addAnswer("A1", "o3")
	store.profs = []*Profession{
		{ID: "p1", Code: "sales", ClassifierCode: "E"},
		{ID: "p2", Code: "archivist", ClassifierCode: "I"},
		{ID: "p3", Code: "generalist", ClassifierCode: "X"},
	}

	res, err := (&BipolarStrategy{Store: store}).Evaluate("A1")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	// Raw scores are still reported for every answered trait.
	if len(res.TraitScores) != 3 {
		t.Fatalf("trait scores len = %d, want 3", len(res.TraitScores))
	}
	// E dominates the E/I axis with differential 3; I contributes nothing.
	byCode := map[string]Recommendation{}
	for _, r := range res.Recommendations {
		byCode[r.Profession.Code] = r
	}
	if _, ok := byCode["archivist"]; ok {
		t.Fatalf("recessive pole should not produce a recommendation: %+v", res.Recommendations)
	}
	if byCode["sales"].Score != 3 {
		t.Fatalf("sales score = %v, want 3", byCode["sales"].Score)
	}
	if byCode["generalist"].Score != 1 {
		t.Fatalf("generalist score = %v, want 1", byCode["generalist"].Score)
	}
}

func TestRegistryResolveUnknownMode(t *testing.T) {
	r := DefaultRegistry(newScoringStubStore())
	if _, err := r.Resolve(ProcessingMode("mystery")); err == nil {
		t.Fatalf("expected error for unknown mode")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalidState {
		t.Fatalf("expected invalid state error, got %v", err)
	}
	if _, err := r.Resolve(ModeTraitSum); err != nil {
		t.Fatalf("trait_sum should resolve: %v", err)
	}
	if _, err := r.Resolve(ModeBipolar); err != nil {
		t.Fatalf("bipolar should resolve: %v", err)
	}
}

func TestExternalStrategyDelegatesRanking(t *testing.T) {
	store := newScoringStubStore()
	store.attempts["A1"] = &Attempt{ID: "A1", UserID: "U1"}
	store.addTrait("t-r", "R", "")
	store.link("o1", "t-r", 2)
	store.addAnswer("A1", "o1")

	ranked := &ExternalStrategy{Store: store, Rank: func(a *Attempt, scores []TraitScore) ([]Recommendation, error) {
		if a.ID != "A1" || len(scores) != 1 {
			t.Fatalf("ranker got attempt %q scores %+v", a.ID, scores)
		}
		return []Recommendation{
			{Profession: &Profession{ID: "p9", Code: "pilot"}, Score: 0.9},
			{Profession: &Profession{ID: "p8", Code: "chef"}, Score: 0.4},
		}, nil
	}}
	res, err := ranked.Evaluate("A1")
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if res.Recommendations[0].Rank != 1 || res.Recommendations[1].Rank != 2 {
		t.Fatalf("ranks not assigned: %+v", res.Recommendations)
	}

	bare := &ExternalStrategy{Store: store}
	if _, err := bare.Evaluate("A1"); err == nil {
		t.Fatalf("expected error without configured ranker")
	} else if se, ok := AsServiceError(err); !ok || se.Code != ErrorInvalidState {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

package services

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// AttemptStore abstracts persistence operations required by AttemptService.
// ReplaceAnswers, ReplaceAnswersForQuestion, SaveAttemptResult and
// MarkAttemptsDeleted must each apply atomically: either every write of the
// operation is visible or none.
type AttemptStore interface {
	GetVersion(id string) (*QuizVersion, error)
	GetQuizByVersion(versionID string) (*Quiz, error)
	InsertAttempt(a *Attempt) error
	GetAttempt(id string) (*Attempt, error)
	GetAttemptsByIDs(ids []string) ([]*Attempt, error)
	ListAttemptsByOwner(owner Owner) ([]*Attempt, error)
	SearchAttempts(f AttemptFilter) ([]*Attempt, error)
	InsertAnswer(ans *Answer) error
	ListAnswers(attemptID string) ([]*Answer, error)
	GetOptionsByIDs(ids []string) ([]*QuestionOption, error)
	ReplaceAnswers(attemptID string, answers []*Answer) error
	ReplaceAnswersForQuestion(attemptID, questionID string, answers []*Answer) error
	GetProfession(id string) (*Profession, error)
	SaveAttemptResult(attemptID string, submittedAt time.Time, scores []TraitScore, recs []Recommendation) error
	ListTraitScores(attemptID string) ([]TraitScore, error)
	ListRecommendations(attemptID string) ([]Recommendation, error)
	MarkAttemptsDeleted(ids []string, at time.Time) (int, error)
	ReassignGuestAttempts(guestToken, userID string) (int, error)
	AddAudit(entry AuditEntry)
}

// AttemptFilter narrows admin attempt searches. Zero fields are ignored.
type AttemptFilter struct {
	QuizID         string
	VersionID      string
	UserID         string
	Submitted      *bool
	From           *time.Time
	To             *time.Time
	IncludeDeleted bool
	Limit          int
}

// AttemptResult aggregates what a submission produces.
type AttemptResult struct {
	Attempt         *Attempt         `json:"attempt"`
	TraitScores     []TraitScore     `json:"trait_scores"`
	Recommendations []Recommendation `json:"recommendations"`
}

// AttemptService owns attempt state transitions and answer mutation.
// Mutations on the same attempt are serialized through per-attempt locks so
// a submission can never interleave with another submission or with late
// answer writes.
type AttemptService struct {
	store      AttemptStore
	scoring    *Registry
	now        func() time.Time
	newID      func() string
	guestToken func() (string, error)
	locks      *keyedMutex
}

func NewAttemptService(store AttemptStore, scoring *Registry) *AttemptService {
	return &AttemptService{
		store:      store,
		scoring:    scoring,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      NewEntityID,
		guestToken: func() (string, error) { return generateGuestToken(24) },
		locks:      newKeyedMutex(),
	}
}

// generateGuestToken fails rather than degrade: an attempt must never be
// persisted without either a user id or a token.
func generateGuestToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate guest token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StartAttempt binds a new attempt to a quiz version. A caller without a
// user id gets a fresh guest token; the returned attempt carries it so the
// client can present it on later calls.
func (s *AttemptService) StartAttempt(versionID, userID string) (*Attempt, error) {
	v, err := s.store.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, NewNotFoundError("quiz version not found")
	}
	a := &Attempt{
		ID:        s.newID(),
		VersionID: versionID,
		StartedAt: s.now(),
	}
	if userID != "" {
		a.UserID = userID
	} else {
		tok, err := s.guestToken()
		if err != nil {
			return nil, err
		}
		a.GuestToken = tok
	}
	if err := s.store.InsertAttempt(a); err != nil {
		return nil, err
	}
	return a, nil
}

// loadOwned fetches an attempt for a mutating caller. A missing, deleted or
// foreign attempt all read as not found so callers cannot probe for other
// owners' data.
func (s *AttemptService) loadOwned(owner Owner, attemptID string) (*Attempt, error) {
	if !owner.Valid() {
		return nil, NewInvalidError("caller identity required")
	}
	a, err := s.store.GetAttempt(attemptID)
	if err != nil {
		return nil, err
	}
	if a == nil || a.Deleted() || !owner.Matches(a) {
		return nil, NewNotFoundError("attempt not found")
	}
	return a, nil
}

// AddAnswer appends a single answer. Single-answer endpoints assume one
// call per question, so no prior answer to the same question is removed.
func (s *AttemptService) AddAnswer(owner Owner, attemptID, optionID string) (*Answer, error) {
	unlock := s.locks.Lock("attempt:" + attemptID)
	defer unlock()

	a, err := s.loadOwned(owner, attemptID)
	if err != nil {
		return nil, err
	}
	if a.Submitted() {
		return nil, NewInvalidStateError("attempt already submitted")
	}
	opts, err := s.store.GetOptionsByIDs([]string{optionID})
	if err != nil {
		return nil, err
	}
	if len(opts) == 0 {
		return nil, NewInvalidError("option not found")
	}
	ans := &Answer{ID: s.newID(), AttemptID: attemptID, OptionID: optionID, CreatedAt: s.now()}
	if err := s.store.InsertAnswer(ans); err != nil {
		return nil, err
	}
	return ans, nil
}

// AddAnswersBulk replaces the attempt's entire answer set: all prior
// answers are deleted and the new set inserted in one unit. Repeated
// option ids collapse to one answer so a selection can never weigh twice
// in scoring.
func (s *AttemptService) AddAnswersBulk(owner Owner, attemptID string, optionIDs []string) (int, error) {
	unlock := s.locks.Lock("attempt:" + attemptID)
	defer unlock()

	a, err := s.loadOwned(owner, attemptID)
	if err != nil {
		return 0, err
	}
	if a.Submitted() {
		return 0, NewInvalidStateError("attempt already submitted")
	}
	if len(optionIDs) == 0 {
		return 0, NewInvalidError("option_ids required")
	}
	unique, err := s.resolveOptions(optionIDs, "")
	if err != nil {
		return 0, err
	}
	answers := s.buildAnswers(attemptID, unique)
	if err := s.store.ReplaceAnswers(attemptID, answers); err != nil {
		return 0, err
	}
	return len(answers), nil
}

// AddAnswersForQuestion overwrites the answers of one question only,
// leaving the rest of the attempt untouched. This supports re-answering a
// multi-select question without resubmitting everything.
func (s *AttemptService) AddAnswersForQuestion(owner Owner, attemptID, questionID string, optionIDs []string) (int, error) {
	unlock := s.locks.Lock("attempt:" + attemptID)
	defer unlock()

	a, err := s.loadOwned(owner, attemptID)
	if err != nil {
		return 0, err
	}
	if a.Submitted() {
		return 0, NewInvalidStateError("attempt already submitted")
	}
	if questionID == "" {
		return 0, NewInvalidError("question_id required")
	}
	if len(optionIDs) == 0 {
		return 0, NewInvalidError("option_ids required")
	}
	unique, err := s.resolveOptions(optionIDs, questionID)
	if err != nil {
		return 0, err
	}
	answers := s.buildAnswers(attemptID, unique)
	if err := s.store.ReplaceAnswersForQuestion(attemptID, questionID, answers); err != nil {
		return 0, err
	}
	return len(answers), nil
}

// resolveOptions deduplicates the ids and fails unless every one resolves;
// with a question id it also requires every option to belong to that
// question. The returned slice preserves first-occurrence order.
func (s *AttemptService) resolveOptions(optionIDs []string, questionID string) ([]string, error) {
	unique := make([]string, 0, len(optionIDs))
	seen := map[string]struct{}{}
	for _, id := range optionIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	opts, err := s.store.GetOptionsByIDs(unique)
	if err != nil {
		return nil, err
	}
	if len(opts) != len(unique) {
		return nil, NewInvalidError("one or more options not found")
	}
	if questionID != "" {
		for _, o := range opts {
			if o.QuestionID != questionID {
				return nil, NewInvalidError("option " + o.ID + " does not belong to question")
			}
		}
	}
	return unique, nil
}

func (s *AttemptService) buildAnswers(attemptID string, optionIDs []string) []*Answer {
	now := s.now()
	out := make([]*Answer, 0, len(optionIDs))
	for _, id := range optionIDs {
		out = append(out, &Answer{ID: s.newID(), AttemptID: attemptID, OptionID: id, CreatedAt: now})
	}
	return out
}

// SubmitAttempt scores the attempt with the strategy selected by its
// quiz's processing mode and persists the result, replacing any prior
// trait scores and recommendations as one unit. Resubmission is the
// supported rescoring path; the original submission timestamp is kept.
func (s *AttemptService) SubmitAttempt(owner Owner, attemptID string) (*AttemptResult, error) {
	unlock := s.locks.Lock("attempt:" + attemptID)
	defer unlock()

	a, err := s.loadOwned(owner, attemptID)
	if err != nil {
		return nil, err
	}
	quiz, err := s.store.GetQuizByVersion(a.VersionID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, NewNotFoundError("quiz not found")
	}

	strategy, err := s.scoring.Resolve(quiz.Mode)
	if err != nil {
		return nil, err
	}
	result, err := strategy.Evaluate(attemptID)
	if err != nil {
		return nil, err
	}

	// A recommendation naming a missing profession is surfaced, never
	// swallowed; external rankers may return arbitrary ids.
	for _, rec := range result.Recommendations {
		if rec.Profession == nil {
			return nil, NewInvalidError("recommendation without profession")
		}
		p, err := s.store.GetProfession(rec.Profession.ID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, NewNotFoundError("profession " + rec.Profession.ID + " not found")
		}
	}

	submittedAt := s.now()
	if a.SubmittedAt != nil {
		submittedAt = *a.SubmittedAt
	}
	if err := s.store.SaveAttemptResult(attemptID, submittedAt, result.TraitScores, result.Recommendations); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: owner.Actor(), Action: "submit_attempt", Target: attemptID})

	a.SubmittedAt = &submittedAt
	return &AttemptResult{Attempt: a, TraitScores: result.TraitScores, Recommendations: result.Recommendations}, nil
}

// GetResult returns the attempt with its persisted scores and
// recommendations; both are empty while the attempt is in progress.
func (s *AttemptService) GetResult(owner Owner, attemptID string) (*AttemptResult, error) {
	a, err := s.loadOwned(owner, attemptID)
	if err != nil {
		return nil, err
	}
	scores, err := s.store.ListTraitScores(attemptID)
	if err != nil {
		return nil, err
	}
	recs, err := s.store.ListRecommendations(attemptID)
	if err != nil {
		return nil, err
	}
	return &AttemptResult{Attempt: a, TraitScores: scores, Recommendations: recs}, nil
}

func (s *AttemptService) ListMyAttempts(owner Owner) ([]*Attempt, error) {
	if !owner.Valid() {
		return nil, NewInvalidError("caller identity required")
	}
	return s.store.ListAttemptsByOwner(owner)
}

func (s *AttemptService) AdminSearchAttempts(f AttemptFilter) ([]*Attempt, error) {
	return s.store.SearchAttempts(f)
}

// AttachGuestAttempts migrates every non-deleted attempt bearing the guest
// token to the given user and clears the token. Called when a guest
// registers or logs in.
func (s *AttemptService) AttachGuestAttempts(guestToken, userID string) (int, error) {
	if guestToken == "" || userID == "" {
		return 0, NewInvalidError("guest token and user id required")
	}
	n, err := s.store.ReassignGuestAttempts(guestToken, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.store.AddAudit(AuditEntry{Time: s.now(), Actor: "user:" + userID, Action: "attach_guest_attempts", Target: userID, Note: itoa(n)})
	}
	return n, nil
}

// DeleteSelectedAttempts soft-deletes the given attempts for their owner.
// The whole batch fails NotFound when any id is missing or owned by
// someone else, so existence of other users' attempts never leaks.
// Already-deleted attempts keep their original deletion time.
func (s *AttemptService) DeleteSelectedAttempts(owner Owner, attemptIDs []string, confirm bool) (int, error) {
	if !confirm {
		return 0, NewInvalidStateError("deletion requires confirmation")
	}
	if !owner.Valid() {
		return 0, NewInvalidError("caller identity required")
	}
	unique := make([]string, 0, len(attemptIDs))
	seen := map[string]struct{}{}
	for _, id := range attemptIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	if len(unique) == 0 {
		return 0, NewInvalidError("attempt_ids required")
	}

	attempts, err := s.store.GetAttemptsByIDs(unique)
	if err != nil {
		return 0, err
	}
	if len(attempts) != len(unique) {
		return 0, NewNotFoundError("attempt not found")
	}
	for _, a := range attempts {
		if !owner.Matches(a) {
			return 0, NewNotFoundError("attempt not found")
		}
	}

	n, err := s.store.MarkAttemptsDeleted(unique, s.now())
	if err != nil {
		return 0, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: owner.Actor(), Action: "delete_attempts", Target: itoa(len(unique)), Note: itoa(n)})
	return n, nil
}

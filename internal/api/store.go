package api

import (
	"sort"
	"sync"
	"time"

	"github.com/vocatio-app/vocatio/internal/services"
)

// memoryStore is the in-process Store used by unit tests and dev setups
// without a database. Every method copies on the way in and out so callers
// never share mutable state with the store.
type memoryStore struct {
	mu           sync.RWMutex
	users        map[string]*services.User
	quizzes      map[string]*services.Quiz
	versions     map[string]*services.QuizVersion
	questions    map[string]*services.Question
	options      map[string]*services.QuestionOption
	optionTraits map[string]map[string]float64 // option id -> trait id -> weight
	traits       map[string]*services.TraitProfile
	professions  map[string]*services.Profession
	attempts     map[string]*services.Attempt
	answers      map[string][]*services.Answer
	traitScores  map[string][]services.TraitScore
	recs         map[string][]services.Recommendation
	audit        []services.AuditEntry
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:        map[string]*services.User{},
		quizzes:      map[string]*services.Quiz{},
		versions:     map[string]*services.QuizVersion{},
		questions:    map[string]*services.Question{},
		options:      map[string]*services.QuestionOption{},
		optionTraits: map[string]map[string]float64{},
		traits:       map[string]*services.TraitProfile{},
		professions:  map[string]*services.Profession{},
		attempts:     map[string]*services.Attempt{},
		answers:      map[string][]*services.Answer{},
		traitScores:  map[string][]services.TraitScore{},
		recs:         map[string][]services.Recommendation{},
	}
}

// --- users ---

func (s *memoryStore) AddUser(u *services.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memoryStore) FindUserByEmail(email string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) GetUser(id string) (*services.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

// --- quizzes ---

func (s *memoryStore) InsertQuiz(q *services.Quiz) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.quizzes[q.ID] = &cp
	return nil
}

func (s *memoryStore) GetQuiz(id string) (*services.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.quizzes[id]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) GetQuizByCode(code string) (*services.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, q := range s.quizzes {
		if q.Code == code {
			cp := *q
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) GetQuizByVersion(versionID string) (*services.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return nil, nil
	}
	if q, ok := s.quizzes[v.QuizID]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) ListQuizzes() ([]*services.Quiz, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		cp := *q
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memoryStore) SetQuizStatus(id string, status services.QuizStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[id]
	if !ok {
		return services.NewNotFoundError("quiz not found")
	}
	q.Status = status
	return nil
}

// --- versions ---

func (s *memoryStore) InsertVersion(v *services.QuizVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.versions[v.ID] = &cp
	return nil
}

func (s *memoryStore) GetVersion(id string) (*services.QuizVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.versions[id]; ok {
		cp := *v
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) GetVersionByNumber(quizID string, number int) (*services.QuizVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.QuizID == quizID && v.Number == number {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) GetLatestVersion(quizID string) (*services.QuizVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *services.QuizVersion
	for _, v := range s.versions {
		if v.QuizID != quizID {
			continue
		}
		if latest == nil || v.Number > latest.Number {
			latest = v
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *memoryStore) GetCurrentVersion(quizID string) (*services.QuizVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.versions {
		if v.QuizID == quizID && v.Current {
			cp := *v
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) ListVersions(quizID string) ([]*services.QuizVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.QuizVersion{}
	for _, v := range s.versions {
		if v.QuizID == quizID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *memoryStore) InsertVersionGraph(v *services.QuizVersion, questions []*services.Question, options []*services.QuestionOption, traits []*services.OptionTrait) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	vc := *v
	s.versions[v.ID] = &vc
	for _, q := range questions {
		cp := *q
		s.questions[q.ID] = &cp
	}
	for _, o := range options {
		cp := *o
		s.options[o.ID] = &cp
	}
	for _, l := range traits {
		if s.optionTraits[l.OptionID] == nil {
			s.optionTraits[l.OptionID] = map[string]float64{}
		}
		s.optionTraits[l.OptionID][l.TraitID] = l.Weight
	}
	return nil
}

func (s *memoryStore) MarkPublished(quizID, versionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.versions[versionID]
	if !ok || target.QuizID != quizID {
		return services.NewNotFoundError("version not found")
	}
	for _, v := range s.versions {
		if v.QuizID == quizID {
			v.Current = false
		}
	}
	target.Current = true
	if target.PublishedAt == nil {
		stamp := at
		target.PublishedAt = &stamp
	}
	if q, ok := s.quizzes[quizID]; ok {
		q.Status = services.QuizPublished
	}
	return nil
}

// --- questions and options ---

func (s *memoryStore) InsertQuestion(q *services.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *q
	s.questions[q.ID] = &cp
	return nil
}

func (s *memoryStore) GetQuestion(id string) (*services.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if q, ok := s.questions[id]; ok {
		cp := *q
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) ListQuestions(versionID string) ([]*services.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Question{}
	for _, q := range s.questions {
		if q.VersionID == versionID {
			cp := *q
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal == out[j].Ordinal {
			return out[i].ID < out[j].ID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

func (s *memoryStore) InsertOption(o *services.QuestionOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *o
	s.options[o.ID] = &cp
	return nil
}

func (s *memoryStore) GetOption(id string) (*services.QuestionOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if o, ok := s.options[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) ListOptions(questionID string) ([]*services.QuestionOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.QuestionOption{}
	for _, o := range s.options {
		if o.QuestionID == questionID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sortOptions(out)
	return out, nil
}

func (s *memoryStore) ListOptionsByVersion(versionID string) ([]*services.QuestionOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.QuestionOption{}
	for _, o := range s.options {
		if q, ok := s.questions[o.QuestionID]; ok && q.VersionID == versionID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sortOptions(out)
	return out, nil
}

func (s *memoryStore) GetOptionsByIDs(ids []string) ([]*services.QuestionOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.QuestionOption{}
	for _, id := range ids {
		if o, ok := s.options[id]; ok {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func sortOptions(out []*services.QuestionOption) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal == out[j].Ordinal {
			return out[i].ID < out[j].ID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
}

// --- traits and weights ---

func (s *memoryStore) InsertTrait(t *services.TraitProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.traits[t.ID] = &cp
	return nil
}

func (s *memoryStore) GetTraitByCode(code string) (*services.TraitProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.traits {
		if t.Code == code {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) GetTraitsByIDs(ids []string) ([]*services.TraitProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.TraitProfile{}
	for _, id := range ids {
		if t, ok := s.traits[id]; ok {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) ListTraits() ([]*services.TraitProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.TraitProfile, 0, len(s.traits))
	for _, t := range s.traits {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *memoryStore) UpsertOptionTrait(l *services.OptionTrait) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.optionTraits[l.OptionID] == nil {
		s.optionTraits[l.OptionID] = map[string]float64{}
	}
	s.optionTraits[l.OptionID][l.TraitID] = l.Weight
	return nil
}

func (s *memoryStore) ListOptionTraits(optionID string) ([]*services.OptionTrait, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectOptionTraits([]string{optionID}), nil
}

func (s *memoryStore) ListOptionTraitsByOptionIDs(optionIDs []string) ([]*services.OptionTrait, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collectOptionTraits(optionIDs), nil
}

func (s *memoryStore) ListOptionTraitsByVersion(versionID string) ([]*services.OptionTrait, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := []string{}
	for id, o := range s.options {
		if q, ok := s.questions[o.QuestionID]; ok && q.VersionID == versionID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return s.collectOptionTraits(ids), nil
}

func (s *memoryStore) collectOptionTraits(optionIDs []string) []*services.OptionTrait {
	out := []*services.OptionTrait{}
	for _, id := range optionIDs {
		weights := s.optionTraits[id]
		traitIDs := make([]string, 0, len(weights))
		for tid := range weights {
			traitIDs = append(traitIDs, tid)
		}
		sort.Strings(traitIDs)
		for _, tid := range traitIDs {
			out = append(out, &services.OptionTrait{OptionID: id, TraitID: tid, Weight: weights[tid]})
		}
	}
	return out
}

// --- professions ---

func (s *memoryStore) InsertProfession(p *services.Profession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.professions[p.ID] = &cp
	return nil
}

func (s *memoryStore) GetProfession(id string) (*services.Profession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.professions[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) ListProfessions() ([]*services.Profession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Profession, 0, len(s.professions))
	for _, p := range s.professions {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// --- attempts ---

func (s *memoryStore) InsertAttempt(a *services.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attempts[a.ID] = &cp
	return nil
}

func (s *memoryStore) GetAttempt(id string) (*services.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.attempts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (s *memoryStore) GetAttemptsByIDs(ids []string) ([]*services.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Attempt{}
	for _, id := range ids {
		if a, ok := s.attempts[id]; ok {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) ListAttemptsByOwner(owner services.Owner) ([]*services.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Attempt{}
	for _, a := range s.attempts {
		if a.Deleted() || !owner.Matches(a) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (s *memoryStore) ListAttemptsByVersion(versionID string) ([]*services.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Attempt{}
	for _, a := range s.attempts {
		if a.VersionID == versionID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) CountAttemptsByVersion(versionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.attempts {
		if a.VersionID == versionID {
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) SearchAttempts(f services.AttemptFilter) ([]*services.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*services.Attempt{}
	for _, a := range s.attempts {
		if a.Deleted() && !f.IncludeDeleted {
			continue
		}
		if f.VersionID != "" && a.VersionID != f.VersionID {
			continue
		}
		if f.QuizID != "" {
			v, ok := s.versions[a.VersionID]
			if !ok || v.QuizID != f.QuizID {
				continue
			}
		}
		if f.UserID != "" && a.UserID != f.UserID {
			continue
		}
		if f.Submitted != nil && a.Submitted() != *f.Submitted {
			continue
		}
		if f.From != nil && a.StartedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !a.StartedAt.Before(*f.To) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memoryStore) MarkAttemptsDeleted(ids []string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range ids {
		a, ok := s.attempts[id]
		if !ok || a.DeletedAt != nil {
			continue
		}
		stamp := at
		a.DeletedAt = &stamp
		n++
	}
	return n, nil
}

func (s *memoryStore) ReassignGuestAttempts(guestToken, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.attempts {
		if a.Deleted() || a.GuestToken != guestToken {
			continue
		}
		a.GuestToken = ""
		a.UserID = userID
		n++
	}
	return n, nil
}

// --- answers ---

func (s *memoryStore) InsertAnswer(a *services.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.answers[a.AttemptID] = append(s.answers[a.AttemptID], &cp)
	return nil
}

func (s *memoryStore) ListAnswers(attemptID string) ([]*services.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*services.Answer, 0, len(s.answers[attemptID]))
	for _, a := range s.answers[attemptID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) ReplaceAnswers(attemptID string, answers []*services.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := make([]*services.Answer, 0, len(answers))
	for _, a := range answers {
		cp := *a
		replaced = append(replaced, &cp)
	}
	s.answers[attemptID] = replaced
	return nil
}

func (s *memoryStore) ReplaceAnswersForQuestion(attemptID, questionID string, answers []*services.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := []*services.Answer{}
	for _, a := range s.answers[attemptID] {
		if o, ok := s.options[a.OptionID]; ok && o.QuestionID == questionID {
			continue
		}
		kept = append(kept, a)
	}
	for _, a := range answers {
		cp := *a
		kept = append(kept, &cp)
	}
	s.answers[attemptID] = kept
	return nil
}

// --- results ---

func (s *memoryStore) SaveAttemptResult(attemptID string, submittedAt time.Time, scores []services.TraitScore, recs []services.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return services.NewNotFoundError("attempt not found")
	}
	stamp := submittedAt
	a.SubmittedAt = &stamp
	s.traitScores[attemptID] = append([]services.TraitScore{}, scores...)
	s.recs[attemptID] = append([]services.Recommendation{}, recs...)
	return nil
}

func (s *memoryStore) ListTraitScores(attemptID string) ([]services.TraitScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]services.TraitScore{}, s.traitScores[attemptID]...), nil
}

func (s *memoryStore) ListRecommendations(attemptID string) ([]services.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]services.Recommendation{}, s.recs[attemptID]...), nil
}

// --- audit ---

func (s *memoryStore) AddAudit(entry services.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
}

func (s *memoryStore) ListAudit(limit int) ([]services.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.audit) {
		limit = len(s.audit)
	}
	out := make([]services.AuditEntry, 0, limit)
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.audit[i])
	}
	return out, nil
}

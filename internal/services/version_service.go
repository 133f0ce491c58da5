package services

import "time"

// VersionStore abstracts persistence operations required by VersionService.
// InsertVersionGraph and MarkPublished must each apply atomically.
type VersionStore interface {
	GetQuiz(id string) (*Quiz, error)
	SetQuizStatus(id string, status QuizStatus) error
	InsertVersion(v *QuizVersion) error
	GetVersion(id string) (*QuizVersion, error)
	GetVersionByNumber(quizID string, number int) (*QuizVersion, error)
	GetLatestVersion(quizID string) (*QuizVersion, error)
	GetCurrentVersion(quizID string) (*QuizVersion, error)
	ListVersions(quizID string) ([]*QuizVersion, error)
	ListQuestions(versionID string) ([]*Question, error)
	ListOptionsByVersion(versionID string) ([]*QuestionOption, error)
	ListOptionTraitsByVersion(versionID string) ([]*OptionTrait, error)
	InsertVersionGraph(v *QuizVersion, questions []*Question, options []*QuestionOption, traits []*OptionTrait) error
	MarkPublished(quizID, versionID string, at time.Time) error
	AddAudit(entry AuditEntry)
}

// VersionService owns the quiz content lifecycle: publishing and
// copy-on-write duplication. Old versions are never touched once an
// attempt references them; every content change flows through a fresh
// version with fresh row identities.
type VersionService struct {
	store VersionStore
	now   func() time.Time
	newID func() string
	locks *keyedMutex
}

func NewVersionService(store VersionStore) *VersionService {
	return &VersionService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: NewEntityID,
		locks: newKeyedMutex(),
	}
}

// Publish marks the quiz's latest version as current, stamps its publish
// time on first publication, and moves the quiz to the published status.
// A quiz without versions gets an empty version 1.
func (s *VersionService) Publish(quizID, actor string) (*QuizVersion, error) {
	unlock := s.locks.Lock("quiz:" + quizID)
	defer unlock()

	quiz, err := s.store.GetQuiz(quizID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, NewNotFoundError("quiz not found")
	}

	latest, err := s.store.GetLatestVersion(quizID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		latest = &QuizVersion{
			ID:        s.newID(),
			QuizID:    quizID,
			Number:    1,
			CreatedAt: s.now(),
		}
		if err := s.store.InsertVersion(latest); err != nil {
			return nil, err
		}
	}

	if err := s.store.MarkPublished(quizID, latest.ID, s.now()); err != nil {
		return nil, err
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "publish_quiz", Target: quizID, Note: latest.ID})

	return s.store.GetVersion(latest.ID)
}

// CreateDraftVersion deep-copies the latest version's question/option/trait
// graph into a new draft with number latest+1. Every copied row gets a
// fresh identity; trait links point at the same trait profiles with the
// same weights. A published quiz transitions to the updated status because
// its content now diverges from the published snapshot; the old version's
// current flag is left alone.
func (s *VersionService) CreateDraftVersion(quizID, actor string) (*QuizVersion, error) {
	unlock := s.locks.Lock("quiz:" + quizID)
	defer unlock()

	quiz, err := s.store.GetQuiz(quizID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, NewNotFoundError("quiz not found")
	}
	latest, err := s.store.GetLatestVersion(quizID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, NewNotFoundError("quiz has no versions")
	}

	questions, err := s.store.ListQuestions(latest.ID)
	if err != nil {
		return nil, err
	}
	options, err := s.store.ListOptionsByVersion(latest.ID)
	if err != nil {
		return nil, err
	}
	traits, err := s.store.ListOptionTraitsByVersion(latest.ID)
	if err != nil {
		return nil, err
	}

	draft := &QuizVersion{
		ID:        s.newID(),
		QuizID:    quizID,
		Number:    latest.Number + 1,
		CreatedAt: s.now(),
	}

	questionIDs := make(map[string]string, len(questions))
	newQuestions := make([]*Question, 0, len(questions))
	for _, q := range questions {
		cp := *q
		cp.ID = s.newID()
		cp.VersionID = draft.ID
		questionIDs[q.ID] = cp.ID
		newQuestions = append(newQuestions, &cp)
	}

	optionIDs := make(map[string]string, len(options))
	newOptions := make([]*QuestionOption, 0, len(options))
	for _, o := range options {
		cp := *o
		cp.ID = s.newID()
		cp.QuestionID = questionIDs[o.QuestionID]
		optionIDs[o.ID] = cp.ID
		newOptions = append(newOptions, &cp)
	}

	newTraits := make([]*OptionTrait, 0, len(traits))
	for _, t := range traits {
		cp := *t
		cp.OptionID = optionIDs[t.OptionID]
		newTraits = append(newTraits, &cp)
	}

	if err := s.store.InsertVersionGraph(draft, newQuestions, newOptions, newTraits); err != nil {
		return nil, err
	}

	if quiz.Status == QuizPublished {
		if err := s.store.SetQuizStatus(quizID, QuizUpdated); err != nil {
			return nil, err
		}
	}
	s.store.AddAudit(AuditEntry{Time: s.now(), Actor: actor, Action: "copy_version", Target: quizID, Note: draft.ID})

	return draft, nil
}

func (s *VersionService) GetCurrentVersion(quizID string) (*QuizVersion, error) {
	quiz, err := s.store.GetQuiz(quizID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, NewNotFoundError("quiz not found")
	}
	v, err := s.store.GetCurrentVersion(quizID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, NewNotFoundError("quiz has no current version")
	}
	return v, nil
}

func (s *VersionService) GetVersion(quizID string, number int) (*QuizVersion, error) {
	quiz, err := s.store.GetQuiz(quizID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, NewNotFoundError("quiz not found")
	}
	v, err := s.store.GetVersionByNumber(quizID, number)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, NewNotFoundError("version not found")
	}
	return v, nil
}

func (s *VersionService) ListVersions(quizID string) ([]*QuizVersion, error) {
	quiz, err := s.store.GetQuiz(quizID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, NewNotFoundError("quiz not found")
	}
	return s.store.ListVersions(quizID)
}

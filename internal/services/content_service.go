package services

import (
	"strings"
	"time"
)

// ContentStore abstracts persistence operations required by ContentService.
type ContentStore interface {
	InsertQuiz(q *Quiz) error
	GetQuiz(id string) (*Quiz, error)
	GetQuizByCode(code string) (*Quiz, error)
	ListQuizzes() ([]*Quiz, error)
	InsertVersion(v *QuizVersion) error
	GetVersion(id string) (*QuizVersion, error)
	CountAttemptsByVersion(versionID string) (int, error)
	InsertQuestion(q *Question) error
	GetQuestion(id string) (*Question, error)
	ListQuestions(versionID string) ([]*Question, error)
	InsertOption(o *QuestionOption) error
	GetOption(id string) (*QuestionOption, error)
	ListOptions(questionID string) ([]*QuestionOption, error)
	UpsertOptionTrait(t *OptionTrait) error
	ListOptionTraits(optionID string) ([]*OptionTrait, error)
	GetTraitByCode(code string) (*TraitProfile, error)
	InsertTrait(t *TraitProfile) error
	ListTraits() ([]*TraitProfile, error)
	InsertProfession(p *Profession) error
	ListProfessions() ([]*Profession, error)
	AddAudit(entry AuditEntry)
}

// ContentService is the authoring surface. It only ever writes into
// versions that no attempt references and that were never published;
// everything else must go through VersionService.CreateDraftVersion first.
type ContentService struct {
	store ContentStore
	now   func() time.Time
	newID func() string
}

func NewContentService(store ContentStore) *ContentService {
	return &ContentService{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: NewEntityID,
	}
}

// CreateQuiz registers a quiz and its empty draft version 1.
func (s *ContentService) CreateQuiz(code, title string, mode ProcessingMode) (*Quiz, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, NewInvalidError("code required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, NewInvalidError("title required")
	}
	if mode == "" {
		mode = ModeTraitSum
	}
	existing, err := s.store.GetQuizByCode(code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("quiz code exists")
	}
	q := &Quiz{
		ID:        s.newID(),
		Code:      code,
		Title:     title,
		Status:    QuizDraft,
		Mode:      mode,
		CreatedAt: s.now(),
	}
	if err := s.store.InsertQuiz(q); err != nil {
		return nil, err
	}
	v := &QuizVersion{ID: s.newID(), QuizID: q.ID, Number: 1, CreatedAt: s.now()}
	if err := s.store.InsertVersion(v); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *ContentService) GetQuiz(id string) (*Quiz, error) {
	q, err := s.store.GetQuiz(id)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, NewNotFoundError("quiz not found")
	}
	return q, nil
}

func (s *ContentService) ListQuizzes() ([]*Quiz, error) {
	return s.store.ListQuizzes()
}

// editableVersion rejects writes into any version that is current, was
// published, or has attempts bound to it. That keeps old attempts
// pointing at untouched rows; content changes require a fresh draft.
func (s *ContentService) editableVersion(versionID string) (*QuizVersion, error) {
	v, err := s.store.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, NewNotFoundError("version not found")
	}
	if v.Current || v.PublishedAt != nil {
		return nil, NewInvalidStateError("version is published; create a draft version to edit content")
	}
	n, err := s.store.CountAttemptsByVersion(versionID)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, NewInvalidStateError("version has attempts; create a draft version to edit content")
	}
	return v, nil
}

func (s *ContentService) AddQuestion(versionID string, ordinal int, qt QuestionType, text string) (*Question, error) {
	if strings.TrimSpace(text) == "" {
		return nil, NewInvalidError("text required")
	}
	if qt == "" {
		qt = QuestionSingleChoice
	}
	if _, err := s.editableVersion(versionID); err != nil {
		return nil, err
	}
	q := &Question{ID: s.newID(), VersionID: versionID, Ordinal: ordinal, Type: qt, Text: text}
	if err := s.store.InsertQuestion(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *ContentService) AddOption(questionID string, ordinal int, label string) (*QuestionOption, error) {
	if strings.TrimSpace(label) == "" {
		return nil, NewInvalidError("label required")
	}
	q, err := s.store.GetQuestion(questionID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, NewNotFoundError("question not found")
	}
	if _, err := s.editableVersion(q.VersionID); err != nil {
		return nil, err
	}
	o := &QuestionOption{ID: s.newID(), QuestionID: questionID, Ordinal: ordinal, Label: label}
	if err := s.store.InsertOption(o); err != nil {
		return nil, err
	}
	return o, nil
}

// SetOptionWeight links an option to a trait with a signed weight,
// replacing any previous weight for the same pair.
func (s *ContentService) SetOptionWeight(optionID, traitCode string, weight float64) (*OptionTrait, error) {
	o, err := s.store.GetOption(optionID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, NewNotFoundError("option not found")
	}
	q, err := s.store.GetQuestion(o.QuestionID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, NewNotFoundError("question not found")
	}
	if _, err := s.editableVersion(q.VersionID); err != nil {
		return nil, err
	}
	trait, err := s.store.GetTraitByCode(traitCode)
	if err != nil {
		return nil, err
	}
	if trait == nil {
		return nil, NewNotFoundError("trait not found")
	}
	link := &OptionTrait{OptionID: optionID, TraitID: trait.ID, Weight: weight}
	if err := s.store.UpsertOptionTrait(link); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *ContentService) RegisterTrait(code, name, bipolarPairCode string) (*TraitProfile, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, NewInvalidError("code required")
	}
	existing, err := s.store.GetTraitByCode(code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, NewConflictError("trait code exists")
	}
	t := &TraitProfile{ID: s.newID(), Code: code, Name: name, BipolarPairCode: bipolarPairCode}
	if err := s.store.InsertTrait(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *ContentService) RegisterProfession(code, title, classifierCode string) (*Profession, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, NewInvalidError("code required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, NewInvalidError("title required")
	}
	p := &Profession{ID: s.newID(), Code: code, Title: title, ClassifierCode: classifierCode}
	if err := s.store.InsertProfession(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *ContentService) ListTraits() ([]*TraitProfile, error) { return s.store.ListTraits() }

func (s *ContentService) ListProfessions() ([]*Profession, error) {
	return s.store.ListProfessions()
}

// QuestionNode bundles a question with its options for presentation.
type QuestionNode struct {
	Question *Question         `json:"question"`
	Options  []*QuestionOption `json:"options"`
}

// QuestionGraph returns the full question/option tree of a version, in
// ordinal order.
func (s *ContentService) QuestionGraph(versionID string) ([]QuestionNode, error) {
	v, err := s.store.GetVersion(versionID)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, NewNotFoundError("version not found")
	}
	questions, err := s.store.ListQuestions(versionID)
	if err != nil {
		return nil, err
	}
	out := make([]QuestionNode, 0, len(questions))
	for _, q := range questions {
		opts, err := s.store.ListOptions(q.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, QuestionNode{Question: q, Options: opts})
	}
	return out, nil
}

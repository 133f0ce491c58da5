package services

import (
	"testing"
	"time"
)

type versionStubStore struct {
	quizzes  map[string]*Quiz
	versions map[string]*QuizVersion
	quests   map[string]*Question
	options  map[string]*QuestionOption
	links    []*OptionTrait
	audits   []AuditEntry
}

func newVersionStubStore() *versionStubStore {
	return &versionStubStore{
		quizzes:  map[string]*Quiz{},
		versions: map[string]*QuizVersion{},
		quests:   map[string]*Question{},
		options:  map[string]*QuestionOption{},
	}
}

func (s *versionStubStore) GetQuiz(id string) (*Quiz, error) {
	if q, ok := s.quizzes[id]; ok {
		copy := *q
		return &copy, nil
	}
	return nil, nil
}

func (s *versionStubStore) SetQuizStatus(id string, status QuizStatus) error {
	if q, ok := s.quizzes[id]; ok {
		q.Status = status
		return nil
	}
	return NewNotFoundError("quiz not found")
}

func (s *versionStubStore) InsertVersion(v *QuizVersion) error {
	copy := *v
	s.versions[v.ID] = &copy
	return nil
}

func (s *versionStubStore) GetVersion(id string) (*QuizVersion, error) {
	if v, ok := s.versions[id]; ok {
		copy := *v
		return &copy, nil
	}
	return nil, nil
}

func (s *versionStubStore) GetVersionByNumber(quizID string, number int) (*QuizVersion, error) {
	for _, v := range s.versions {
		if v.QuizID == quizID && v.Number == number {
			copy := *v
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *versionStubStore) GetLatestVersion(quizID string) (*QuizVersion, error) {
	var latest *QuizVersion
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
	copy := *latest
	return &copy, nil
}

func (s *versionStubStore) GetCurrentVersion(quizID string) (*QuizVersion, error) {
	for _, v := range s.versions {
		if v.QuizID == quizID && v.Current {
			copy := *v
			return &copy, nil
		}
	}
	return nil, nil
}

func (s *versionStubStore) ListVersions(quizID string) ([]*QuizVersion, error) {
	out := []*QuizVersion{}
	for _, v := range s.versions {
		if v.QuizID == quizID {
			copy := *v
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *versionStubStore) ListQuestions(versionID string) ([]*Question, error) {
	out := []*Question{}
	for _, q := range s.quests {
		if q.VersionID == versionID {
			copy := *q
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *versionStubStore) ListOptionsByVersion(versionID string) ([]*QuestionOption, error) {
	out := []*QuestionOption{}
	for _, o := range s.options {
		if q, ok := s.quests[o.QuestionID]; ok && q.VersionID == versionID {
			copy := *o
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *versionStubStore) ListOptionTraitsByVersion(versionID string) ([]*OptionTrait, error) {
	out := []*OptionTrait{}
	for _, l := range s.links {
		o, ok := s.options[l.OptionID]
		if !ok {
			continue
		}
		if q, ok := s.quests[o.QuestionID]; ok && q.VersionID == versionID {
			copy := *l
			out = append(out, &copy)
		}
	}
	return out, nil
}

func (s *versionStubStore) InsertVersionGraph(v *QuizVersion, questions []*Question, options []*QuestionOption, traits []*OptionTrait) error {
	vc := *v
	s.versions[v.ID] = &vc
	for _, q := range questions {
		copy := *q
		s.quests[q.ID] = &copy
	}
	for _, o := range options {
		copy := *o
		s.options[o.ID] = &copy
	}
	for _, l := range traits {
		copy := *l
		s.links = append(s.links, &copy)
	}
	return nil
}

func (s *versionStubStore) MarkPublished(quizID, versionID string, at time.Time) error {
	target, ok := s.versions[versionID]
	if !ok {
		return NewNotFoundError("version not found")
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
		q.Status = QuizPublished
	}
	return nil
}

func (s *versionStubStore) AddAudit(entry AuditEntry) {
	s.audits = append(s.audits, entry)
}

func (s *versionStubStore) seedGraph(quizID, versionID string) {
	s.quests["q1"] = &Question{ID: "q1", VersionID: versionID, Ordinal: 1, Type: QuestionSingleChoice, Text: "Pick one"}
	s.options["o1"] = &QuestionOption{ID: "o1", QuestionID: "q1", Ordinal: 1, Label: "First"}
	s.options["o2"] = &QuestionOption{ID: "o2", QuestionID: "q1", Ordinal: 2, Label: "Second"}
	s.links = append(s.links,
		&OptionTrait{OptionID: "o1", TraitID: "t-r", Weight: 2},
		&OptionTrait{OptionID: "o2", TraitID: "t-i", Weight: -1},
	)
}

func TestPublishCreatesVersionWhenMissing(t *testing.T) {
	store := newVersionStubStore()
	store.quizzes["Q1"] = &Quiz{ID: "Q1", Status: QuizDraft}
	svc := NewVersionService(store)
	svc.now = func() time.Time { return time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC) }

	v, err := svc.Publish("Q1", "user:admin")
	if err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if v.Number != 1 || !v.Current {
		t.Fatalf("expected current version 1, got %+v", v)
	}
	if v.PublishedAt == nil {
		t.Fatalf("expected publish timestamp")
	}
	if store.quizzes["Q1"].Status != QuizPublished {
		t.Fatalf("quiz status = %s, want published", store.quizzes["Q1"].Status)
	}
	if len(store.audits) != 1 || store.audits[0].Action != "publish_quiz" {
		t.Fatalf("expected publish_quiz audit, got %+v", store.audits)
	}
}

func TestRepublishKeepsFirstPublishTime(t *testing.T) {
	store := newVersionStubStore()
	store.quizzes["Q1"] = &Quiz{ID: "Q1", Status: QuizDraft}
	svc := NewVersionService(store)
	first := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return first }

	v1, err := svc.Publish("Q1", "user:admin")
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	svc.now = func() time.Time { return first.Add(48 * time.Hour) }
	v2, err := svc.Publish("Q1", "user:admin")
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if v2.ID != v1.ID {
		t.Fatalf("expected same version republished")
	}
	if !v2.PublishedAt.Equal(first) {
		t.Fatalf("publish time = %v, want %v", v2.PublishedAt, first)
	}
}

func TestPublishUnknownQuiz(t *testing.T) {
	svc := NewVersionService(newVersionStubStore())
	if _, err := svc.Publish("nope", "user:admin"); !IsCode(err, ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateDraftVersionCopiesGraphWithFreshIDs(t *testing.T) {
	store := newVersionStubStore()
	store.quizzes["Q1"] = &Quiz{ID: "Q1", Status: QuizPublished}
	published := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	store.versions["V1"] = &QuizVersion{ID: "V1", QuizID: "Q1", Number: 1, Current: true, PublishedAt: &published}
	store.seedGraph("Q1", "V1")
	svc := NewVersionService(store)

	draft, err := svc.CreateDraftVersion("Q1", "user:admin")
	if err != nil {
		t.Fatalf("CreateDraftVersion returned error: %v", err)
	}
	if draft.Number != 2 {
		t.Fatalf("draft number = %d, want 2", draft.Number)
	}
	if draft.Current || draft.PublishedAt != nil {
		t.Fatalf("draft must start unpublished: %+v", draft)
	}
	if store.quizzes["Q1"].Status != QuizUpdated {
		t.Fatalf("quiz status = %s, want updated", store.quizzes["Q1"].Status)
	}

	// Copied rows carry fresh identities but the same content and weights.
	questions, _ := store.ListQuestions(draft.ID)
	if len(questions) != 1 {
		t.Fatalf("copied questions = %d, want 1", len(questions))
	}
	if questions[0].ID == "q1" || questions[0].Text != "Pick one" {
		t.Fatalf("bad question copy: %+v", questions[0])
	}
	options, _ := store.ListOptionsByVersion(draft.ID)
	if len(options) != 2 {
		t.Fatalf("copied options = %d, want 2", len(options))
	}
	for _, o := range options {
		if o.ID == "o1" || o.ID == "o2" {
			t.Fatalf("option kept old id: %+v", o)
		}
		if o.QuestionID != questions[0].ID {
			t.Fatalf("option not remapped to copied question: %+v", o)
		}
	}
	links, _ := store.ListOptionTraitsByVersion(draft.ID)
	if len(links) != 2 {
		t.Fatalf("copied trait links = %d, want 2", len(links))
	}
	weights := map[string]float64{}
	for _, l := range links {
		weights[l.TraitID] = l.Weight
	}
	if weights["t-r"] != 2 || weights["t-i"] != -1 {
		t.Fatalf("weights not preserved: %+v", weights)
	}

	// The published version is untouched.
	old, _ := store.GetVersion("V1")
	if !old.Current || old.PublishedAt == nil {
		t.Fatalf("published version mutated: %+v", old)
	}
	if len(store.audits) != 1 || store.audits[0].Action != "copy_version" {
		t.Fatalf("expected copy_version audit, got %+v", store.audits)
	}
}

func TestCreateDraftVersionWithoutVersions(t *testing.T) {
	store := newVersionStubStore()
	store.quizzes["Q1"] = &Quiz{ID: "Q1", Status: QuizDraft}
	svc := NewVersionService(store)
	if _, err := svc.CreateDraftVersion("Q1", "user:admin"); !IsCode(err, ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetCurrentVersion(t *testing.T) {
	store := newVersionStubStore()
	store.quizzes["Q1"] = &Quiz{ID: "Q1", Status: QuizDraft}
	svc := NewVersionService(store)

	if _, err := svc.GetCurrentVersion("Q1"); !IsCode(err, ErrorNotFound) {
		t.Fatalf("expected not found before publish, got %v", err)
	}
	store.versions["V1"] = &QuizVersion{ID: "V1", QuizID: "Q1", Number: 1, Current: true}
	v, err := svc.GetCurrentVersion("Q1")
	if err != nil {
		t.Fatalf("GetCurrentVersion returned error: %v", err)
	}
	if v.ID != "V1" {
		t.Fatalf("current = %+v, want V1", v)
	}
}

func TestGetVersionByNumber(t *testing.T) {
	store := newVersionStubStore()
	store.quizzes["Q1"] = &Quiz{ID: "Q1", Status: QuizDraft}
	store.versions["V1"] = &QuizVersion{ID: "V1", QuizID: "Q1", Number: 1}
	svc := NewVersionService(store)

	v, err := svc.GetVersion("Q1", 1)
	if err != nil {
		t.Fatalf("GetVersion returned error: %v", err)
	}
	if v.ID != "V1" {
		t.Fatalf("version = %+v, want V1", v)
	}
	if _, err := svc.GetVersion("Q1", 9); !IsCode(err, ErrorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

package services

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type QuizStatus string

const (
	QuizDraft     QuizStatus = "draft"
	QuizPublished QuizStatus = "published"
	QuizUpdated   QuizStatus = "updated"
)

// ProcessingMode selects which scoring strategy evaluates a quiz's attempts.
type ProcessingMode string

const (
	ModeTraitSum ProcessingMode = "trait_sum"
	ModeBipolar  ProcessingMode = "bipolar"
	ModeExternal ProcessingMode = "external"
)

type QuestionType string

const (
	QuestionSingleChoice QuestionType = "single_choice"
	QuestionMultiChoice  QuestionType = "multi_choice"
)

type Quiz struct {
	ID        string         `json:"id"`
	Code      string         `json:"code"`
	Title     string         `json:"title"`
	Status    QuizStatus     `json:"status"`
	Mode      ProcessingMode `json:"processing_mode"`
	CreatedAt time.Time      `json:"created_at"`
}

// QuizVersion is an immutable snapshot of quiz content. Once an attempt
// references a version, its question/option/trait graph is never mutated;
// content changes go through a deep copy into a new version.
type QuizVersion struct {
	ID          string     `json:"id"`
	QuizID      string     `json:"quiz_id"`
	Number      int        `json:"number"`
	Current     bool       `json:"current"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Question struct {
	ID        string       `json:"id"`
	VersionID string       `json:"version_id"`
	Ordinal   int          `json:"ordinal"`
	Type      QuestionType `json:"type"`
	Text      string       `json:"text"`
}

type QuestionOption struct {
	ID         string `json:"id"`
	QuestionID string `json:"question_id"`
	Ordinal    int    `json:"ordinal"`
	Label      string `json:"label"`
}

// OptionTrait is the weighted contribution of an option to a trait.
type OptionTrait struct {
	OptionID string  `json:"option_id"`
	TraitID  string  `json:"trait_id"`
	Weight   float64 `json:"weight"`
}

// TraitProfile is a scorable dimension (e.g. a RIASEC facet). BipolarPairCode
// links two traits forming opposite poles of one axis; empty for unipolar traits.
type TraitProfile struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Name            string `json:"name,omitempty"`
	BipolarPairCode string `json:"bipolar_pair_code,omitempty"`
}

type Profession struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Title          string `json:"title"`
	ClassifierCode string `json:"classifier_code,omitempty"`
}

// Attempt is one run through a quiz version. Exactly one of UserID and
// GuestToken is set, never both and never neither.
type Attempt struct {
	ID          string     `json:"id"`
	VersionID   string     `json:"version_id"`
	UserID      string     `json:"user_id,omitempty"`
	GuestToken  string     `json:"guest_token,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func (a *Attempt) Submitted() bool { return a != nil && a.SubmittedAt != nil }
func (a *Attempt) Deleted() bool   { return a != nil && a.DeletedAt != nil }

type Answer struct {
	ID        string    `json:"id"`
	AttemptID string    `json:"attempt_id"`
	OptionID  string    `json:"option_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TraitScore keeps the trait identity, not just its code; callers project
// to code when serializing.
type TraitScore struct {
	Trait *TraitProfile `json:"trait"`
	Score float64       `json:"score"`
}

type Recommendation struct {
	Profession  *Profession `json:"profession"`
	Rank        int         `json:"rank"`
	Score       float64     `json:"score"`
	Explanation string      `json:"explanation,omitempty"`
}

// Owner is the two-variant identity of an attempt holder: a registered user
// or the bearer of a guest token. The zero value is anonymous and matches
// nothing.
type Owner struct {
	userID     string
	guestToken string
}

func UserOwner(userID string) Owner { return Owner{userID: userID} }
func GuestOwner(token string) Owner { return Owner{guestToken: token} }

func (o Owner) IsUser() bool       { return o.userID != "" }
func (o Owner) IsGuest() bool      { return o.guestToken != "" }
func (o Owner) UserID() string     { return o.userID }
func (o Owner) GuestToken() string { return o.guestToken }
func (o Owner) Valid() bool        { return o.IsUser() != o.IsGuest() }

func (o Owner) Matches(a *Attempt) bool {
	if a == nil {
		return false
	}
	if o.IsUser() {
		return a.UserID == o.userID
	}
	if o.IsGuest() {
		return a.GuestToken == o.guestToken
	}
	return false
}

// Actor renders the owner for audit entries without leaking guest tokens.
func (o Owner) Actor() string {
	if o.IsUser() {
		return "user:" + o.userID
	}
	if o.IsGuest() {
		return "guest"
	}
	return "anonymous"
}

// User is a registered account. Guests take attempts without one.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	PassHash  []byte    `json:"-"`
	Admin     bool      `json:"admin"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditEntry struct {
	Time   time.Time
	Actor  string
	Action string
	Target string
	Note   string
}

func shortID(n int) string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:n]
}

// NewEntityID returns the id format used for all persisted rows.
func NewEntityID() string { return shortID(12) }

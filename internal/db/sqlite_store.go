package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/vocatio-app/vocatio/internal/services"
)

// SQLiteStore backs every service store interface with one sqlite database.
// Multi-statement operations (version copies, result saves, answer
// replacement, batch deletes) run inside transactions.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func inPlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// --- users ---

func (s *SQLiteStore) AddUser(u *services.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, pass_hash, admin, created_at) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PassHash, u.Admin, u.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) FindUserByEmail(email string) (*services.User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, email, pass_hash, admin, created_at FROM users WHERE email = ?`, email))
}

func (s *SQLiteStore) GetUser(id string) (*services.User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, email, pass_hash, admin, created_at FROM users WHERE id = ?`, id))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*services.User, error) {
	var u services.User
	err := row.Scan(&u.ID, &u.Email, &u.PassHash, &u.Admin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- quizzes ---

func (s *SQLiteStore) InsertQuiz(q *services.Quiz) error {
	_, err := s.db.Exec(
		`INSERT INTO quizzes (id, code, title, status, mode, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		q.ID, q.Code, q.Title, string(q.Status), string(q.Mode), q.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetQuiz(id string) (*services.Quiz, error) {
	return s.scanQuiz(s.db.QueryRow(
		`SELECT id, code, title, status, mode, created_at FROM quizzes WHERE id = ?`, id))
}

func (s *SQLiteStore) GetQuizByCode(code string) (*services.Quiz, error) {
	return s.scanQuiz(s.db.QueryRow(
		`SELECT id, code, title, status, mode, created_at FROM quizzes WHERE code = ?`, code))
}

func (s *SQLiteStore) GetQuizByVersion(versionID string) (*services.Quiz, error) {
	return s.scanQuiz(s.db.QueryRow(
		`SELECT q.id, q.code, q.title, q.status, q.mode, q.created_at
		 FROM quizzes q JOIN quiz_versions v ON v.quiz_id = q.id
		 WHERE v.id = ?`, versionID))
}

func (s *SQLiteStore) scanQuiz(row *sql.Row) (*services.Quiz, error) {
	var q services.Quiz
	var status, mode string
	err := row.Scan(&q.ID, &q.Code, &q.Title, &status, &mode, &q.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.Status = services.QuizStatus(status)
	q.Mode = services.ProcessingMode(mode)
	return &q, nil
}

func (s *SQLiteStore) ListQuizzes() ([]*services.Quiz, error) {
	rows, err := s.db.Query(
		`SELECT id, code, title, status, mode, created_at FROM quizzes ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Quiz
	for rows.Next() {
		var q services.Quiz
		var status, mode string
		if err := rows.Scan(&q.ID, &q.Code, &q.Title, &status, &mode, &q.CreatedAt); err != nil {
			return nil, err
		}
		q.Status = services.QuizStatus(status)
		q.Mode = services.ProcessingMode(mode)
		out = append(out, &q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetQuizStatus(id string, status services.QuizStatus) error {
	res, err := s.db.Exec(`UPDATE quizzes SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("quiz not found")
	}
	return nil
}

// --- versions ---

const versionCols = `id, quiz_id, number, current, published_at, created_at`

func (s *SQLiteStore) InsertVersion(v *services.QuizVersion) error {
	_, err := s.db.Exec(
		`INSERT INTO quiz_versions (`+versionCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.QuizID, v.Number, v.Current, timeOrNil(v.PublishedAt), v.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) GetVersion(id string) (*services.QuizVersion, error) {
	return s.scanVersion(s.db.QueryRow(
		`SELECT `+versionCols+` FROM quiz_versions WHERE id = ?`, id))
}

func (s *SQLiteStore) GetVersionByNumber(quizID string, number int) (*services.QuizVersion, error) {
	return s.scanVersion(s.db.QueryRow(
		`SELECT `+versionCols+` FROM quiz_versions WHERE quiz_id = ? AND number = ?`, quizID, number))
}

func (s *SQLiteStore) GetLatestVersion(quizID string) (*services.QuizVersion, error) {
	return s.scanVersion(s.db.QueryRow(
		`SELECT `+versionCols+` FROM quiz_versions WHERE quiz_id = ? ORDER BY number DESC LIMIT 1`, quizID))
}

func (s *SQLiteStore) GetCurrentVersion(quizID string) (*services.QuizVersion, error) {
	return s.scanVersion(s.db.QueryRow(
		`SELECT `+versionCols+` FROM quiz_versions WHERE quiz_id = ? AND current = 1`, quizID))
}

func (s *SQLiteStore) scanVersion(row *sql.Row) (*services.QuizVersion, error) {
	var v services.QuizVersion
	var published sql.NullTime
	err := row.Scan(&v.ID, &v.QuizID, &v.Number, &v.Current, &published, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if published.Valid {
		t := published.Time
		v.PublishedAt = &t
	}
	return &v, nil
}

func (s *SQLiteStore) ListVersions(quizID string) ([]*services.QuizVersion, error) {
	rows, err := s.db.Query(
		`SELECT `+versionCols+` FROM quiz_versions WHERE quiz_id = ? ORDER BY number`, quizID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.QuizVersion
	for rows.Next() {
		var v services.QuizVersion
		var published sql.NullTime
		if err := rows.Scan(&v.ID, &v.QuizID, &v.Number, &v.Current, &published, &v.CreatedAt); err != nil {
			return nil, err
		}
		if published.Valid {
			t := published.Time
			v.PublishedAt = &t
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// InsertVersionGraph writes a version with its copied question/option/trait
// rows as one transaction.
func (s *SQLiteStore) InsertVersionGraph(v *services.QuizVersion, questions []*services.Question, options []*services.QuestionOption, traits []*services.OptionTrait) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO quiz_versions (`+versionCols+`) VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.QuizID, v.Number, v.Current, timeOrNil(v.PublishedAt), v.CreatedAt,
	); err != nil {
		return err
	}
	for _, q := range questions {
		if _, err := tx.Exec(
			`INSERT INTO questions (id, version_id, ordinal, type, text) VALUES (?, ?, ?, ?, ?)`,
			q.ID, q.VersionID, q.Ordinal, string(q.Type), q.Text,
		); err != nil {
			return err
		}
	}
	for _, o := range options {
		if _, err := tx.Exec(
			`INSERT INTO question_options (id, question_id, ordinal, label) VALUES (?, ?, ?, ?)`,
			o.ID, o.QuestionID, o.Ordinal, o.Label,
		); err != nil {
			return err
		}
	}
	for _, l := range traits {
		if _, err := tx.Exec(
			`INSERT INTO option_traits (option_id, trait_id, weight) VALUES (?, ?, ?)`,
			l.OptionID, l.TraitID, l.Weight,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkPublished flips the current flag to the given version, stamps its
// first publish time and moves the quiz to the published status, atomically.
func (s *SQLiteStore) MarkPublished(quizID, versionID string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`UPDATE quiz_versions SET current = 0 WHERE quiz_id = ?`, quizID); err != nil {
		return err
	}
	res, err := tx.Exec(
		`UPDATE quiz_versions SET current = 1, published_at = COALESCE(published_at, ?) WHERE id = ? AND quiz_id = ?`,
		at, versionID, quizID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("version not found")
	}
	if _, err := tx.Exec(`UPDATE quizzes SET status = ? WHERE id = ?`, string(services.QuizPublished), quizID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- questions and options ---

func (s *SQLiteStore) InsertQuestion(q *services.Question) error {
	_, err := s.db.Exec(
		`INSERT INTO questions (id, version_id, ordinal, type, text) VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.VersionID, q.Ordinal, string(q.Type), q.Text,
	)
	return err
}

func (s *SQLiteStore) GetQuestion(id string) (*services.Question, error) {
	var q services.Question
	var typ string
	err := s.db.QueryRow(
		`SELECT id, version_id, ordinal, type, text FROM questions WHERE id = ?`, id,
	).Scan(&q.ID, &q.VersionID, &q.Ordinal, &typ, &q.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	q.Type = services.QuestionType(typ)
	return &q, nil
}

func (s *SQLiteStore) ListQuestions(versionID string) ([]*services.Question, error) {
	rows, err := s.db.Query(
		`SELECT id, version_id, ordinal, type, text FROM questions WHERE version_id = ? ORDER BY ordinal, id`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Question
	for rows.Next() {
		var q services.Question
		var typ string
		if err := rows.Scan(&q.ID, &q.VersionID, &q.Ordinal, &typ, &q.Text); err != nil {
			return nil, err
		}
		q.Type = services.QuestionType(typ)
		out = append(out, &q)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertOption(o *services.QuestionOption) error {
	_, err := s.db.Exec(
		`INSERT INTO question_options (id, question_id, ordinal, label) VALUES (?, ?, ?, ?)`,
		o.ID, o.QuestionID, o.Ordinal, o.Label,
	)
	return err
}

func (s *SQLiteStore) GetOption(id string) (*services.QuestionOption, error) {
	var o services.QuestionOption
	err := s.db.QueryRow(
		`SELECT id, question_id, ordinal, label FROM question_options WHERE id = ?`, id,
	).Scan(&o.ID, &o.QuestionID, &o.Ordinal, &o.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) ListOptions(questionID string) ([]*services.QuestionOption, error) {
	rows, err := s.db.Query(
		`SELECT id, question_id, ordinal, label FROM question_options WHERE question_id = ? ORDER BY ordinal, id`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOptions(rows)
}

func (s *SQLiteStore) ListOptionsByVersion(versionID string) ([]*services.QuestionOption, error) {
	rows, err := s.db.Query(
		`SELECT o.id, o.question_id, o.ordinal, o.label
		 FROM question_options o JOIN questions q ON q.id = o.question_id
		 WHERE q.version_id = ? ORDER BY q.ordinal, o.ordinal, o.id`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOptions(rows)
}

func (s *SQLiteStore) GetOptionsByIDs(ids []string) ([]*services.QuestionOption, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, question_id, ordinal, label FROM question_options WHERE id IN (`+inPlaceholders(len(ids))+`)`,
		toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOptions(rows)
}

func scanOptions(rows *sql.Rows) ([]*services.QuestionOption, error) {
	var out []*services.QuestionOption
	for rows.Next() {
		var o services.QuestionOption
		if err := rows.Scan(&o.ID, &o.QuestionID, &o.Ordinal, &o.Label); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// --- traits and weights ---

func (s *SQLiteStore) InsertTrait(t *services.TraitProfile) error {
	_, err := s.db.Exec(
		`INSERT INTO traits (id, code, name, bipolar_pair_code) VALUES (?, ?, ?, ?)`,
		t.ID, t.Code, t.Name, t.BipolarPairCode,
	)
	return err
}

func (s *SQLiteStore) GetTraitByCode(code string) (*services.TraitProfile, error) {
	var t services.TraitProfile
	err := s.db.QueryRow(
		`SELECT id, code, name, bipolar_pair_code FROM traits WHERE code = ?`, code,
	).Scan(&t.ID, &t.Code, &t.Name, &t.BipolarPairCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) GetTraitsByIDs(ids []string) ([]*services.TraitProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, code, name, bipolar_pair_code FROM traits WHERE id IN (`+inPlaceholders(len(ids))+`)`,
		toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTraits(rows)
}

func (s *SQLiteStore) ListTraits() ([]*services.TraitProfile, error) {
	rows, err := s.db.Query(`SELECT id, code, name, bipolar_pair_code FROM traits ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTraits(rows)
}

func scanTraits(rows *sql.Rows) ([]*services.TraitProfile, error) {
	var out []*services.TraitProfile
	for rows.Next() {
		var t services.TraitProfile
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.BipolarPairCode); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpsertOptionTrait(l *services.OptionTrait) error {
	_, err := s.db.Exec(
		`INSERT INTO option_traits (option_id, trait_id, weight) VALUES (?, ?, ?)
		 ON CONFLICT (option_id, trait_id) DO UPDATE SET weight = excluded.weight`,
		l.OptionID, l.TraitID, l.Weight,
	)
	return err
}

func (s *SQLiteStore) ListOptionTraits(optionID string) ([]*services.OptionTrait, error) {
	rows, err := s.db.Query(
		`SELECT option_id, trait_id, weight FROM option_traits WHERE option_id = ?`, optionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOptionTraits(rows)
}

func (s *SQLiteStore) ListOptionTraitsByOptionIDs(optionIDs []string) ([]*services.OptionTrait, error) {
	if len(optionIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT option_id, trait_id, weight FROM option_traits WHERE option_id IN (`+inPlaceholders(len(optionIDs))+`)`,
		toArgs(optionIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOptionTraits(rows)
}

func (s *SQLiteStore) ListOptionTraitsByVersion(versionID string) ([]*services.OptionTrait, error) {
	rows, err := s.db.Query(
		`SELECT l.option_id, l.trait_id, l.weight
		 FROM option_traits l
		 JOIN question_options o ON o.id = l.option_id
		 JOIN questions q ON q.id = o.question_id
		 WHERE q.version_id = ?`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOptionTraits(rows)
}

func scanOptionTraits(rows *sql.Rows) ([]*services.OptionTrait, error) {
	var out []*services.OptionTrait
	for rows.Next() {
		var l services.OptionTrait
		if err := rows.Scan(&l.OptionID, &l.TraitID, &l.Weight); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// --- professions ---

func (s *SQLiteStore) InsertProfession(p *services.Profession) error {
	_, err := s.db.Exec(
		`INSERT INTO professions (id, code, title, classifier_code) VALUES (?, ?, ?, ?)`,
		p.ID, p.Code, p.Title, p.ClassifierCode,
	)
	return err
}

func (s *SQLiteStore) GetProfession(id string) (*services.Profession, error) {
	var p services.Profession
	err := s.db.QueryRow(
		`SELECT id, code, title, classifier_code FROM professions WHERE id = ?`, id,
	).Scan(&p.ID, &p.Code, &p.Title, &p.ClassifierCode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListProfessions() ([]*services.Profession, error) {
	rows, err := s.db.Query(`SELECT id, code, title, classifier_code FROM professions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Profession
	for rows.Next() {
		var p services.Profession
		if err := rows.Scan(&p.ID, &p.Code, &p.Title, &p.ClassifierCode); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// --- attempts ---

const attemptCols = `id, version_id, user_id, guest_token, started_at, submitted_at, deleted_at`

func (s *SQLiteStore) InsertAttempt(a *services.Attempt) error {
	_, err := s.db.Exec(
		`INSERT INTO attempts (`+attemptCols+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.VersionID, a.UserID, a.GuestToken, a.StartedAt, timeOrNil(a.SubmittedAt), timeOrNil(a.DeletedAt),
	)
	return err
}

func (s *SQLiteStore) GetAttempt(id string) (*services.Attempt, error) {
	rows, err := s.db.Query(`SELECT `+attemptCols+` FROM attempts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	attempts, err := scanAttempts(rows)
	if err != nil || len(attempts) == 0 {
		return nil, err
	}
	return attempts[0], nil
}

func (s *SQLiteStore) GetAttemptsByIDs(ids []string) ([]*services.Attempt, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT `+attemptCols+` FROM attempts WHERE id IN (`+inPlaceholders(len(ids))+`)`,
		toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *SQLiteStore) ListAttemptsByOwner(owner services.Owner) ([]*services.Attempt, error) {
	var rows *sql.Rows
	var err error
	switch {
	case owner.IsUser():
		rows, err = s.db.Query(
			`SELECT `+attemptCols+` FROM attempts WHERE user_id = ? AND deleted_at IS NULL ORDER BY started_at DESC`,
			owner.UserID())
	case owner.IsGuest():
		rows, err = s.db.Query(
			`SELECT `+attemptCols+` FROM attempts WHERE guest_token = ? AND deleted_at IS NULL ORDER BY started_at DESC`,
			owner.GuestToken())
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *SQLiteStore) ListAttemptsByVersion(versionID string) ([]*services.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT `+attemptCols+` FROM attempts WHERE version_id = ? ORDER BY started_at, id`, versionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func (s *SQLiteStore) CountAttemptsByVersion(versionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM attempts WHERE version_id = ?`, versionID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) SearchAttempts(f services.AttemptFilter) ([]*services.Attempt, error) {
	query := `SELECT a.id, a.version_id, a.user_id, a.guest_token, a.started_at, a.submitted_at, a.deleted_at
		 FROM attempts a JOIN quiz_versions v ON v.id = a.version_id WHERE 1=1`
	var args []any
	if f.QuizID != "" {
		query += ` AND v.quiz_id = ?`
		args = append(args, f.QuizID)
	}
	if f.VersionID != "" {
		query += ` AND a.version_id = ?`
		args = append(args, f.VersionID)
	}
	if f.UserID != "" {
		query += ` AND a.user_id = ?`
		args = append(args, f.UserID)
	}
	if f.Submitted != nil {
		if *f.Submitted {
			query += ` AND a.submitted_at IS NOT NULL`
		} else {
			query += ` AND a.submitted_at IS NULL`
		}
	}
	if f.From != nil {
		query += ` AND a.started_at >= ?`
		args = append(args, *f.From)
	}
	if f.To != nil {
		query += ` AND a.started_at < ?`
		args = append(args, *f.To)
	}
	if !f.IncludeDeleted {
		query += ` AND a.deleted_at IS NULL`
	}
	query += ` ORDER BY a.started_at DESC, a.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]*services.Attempt, error) {
	var out []*services.Attempt
	for rows.Next() {
		var a services.Attempt
		var submitted, deleted sql.NullTime
		if err := rows.Scan(&a.ID, &a.VersionID, &a.UserID, &a.GuestToken, &a.StartedAt, &submitted, &deleted); err != nil {
			return nil, err
		}
		if submitted.Valid {
			t := submitted.Time
			a.SubmittedAt = &t
		}
		if deleted.Valid {
			t := deleted.Time
			a.DeletedAt = &t
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// MarkAttemptsDeleted stamps deleted_at on the given attempts, skipping any
// already deleted so their original deletion time survives.
func (s *SQLiteStore) MarkAttemptsDeleted(ids []string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{at}, toArgs(ids)...)
	res, err := s.db.Exec(
		`UPDATE attempts SET deleted_at = ? WHERE id IN (`+inPlaceholders(len(ids))+`) AND deleted_at IS NULL`,
		args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLiteStore) ReassignGuestAttempts(guestToken, userID string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE attempts SET user_id = ?, guest_token = '' WHERE guest_token = ? AND deleted_at IS NULL`,
		userID, guestToken)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- answers ---

func (s *SQLiteStore) InsertAnswer(a *services.Answer) error {
	_, err := s.db.Exec(
		`INSERT INTO answers (id, attempt_id, option_id, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.AttemptID, a.OptionID, a.CreatedAt,
	)
	return err
}

func (s *SQLiteStore) ListAnswers(attemptID string) ([]*services.Answer, error) {
	rows, err := s.db.Query(
		`SELECT id, attempt_id, option_id, created_at FROM answers WHERE attempt_id = ? ORDER BY created_at, id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*services.Answer
	for rows.Next() {
		var a services.Answer
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.OptionID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ReplaceAnswers(attemptID string, answers []*services.Answer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM answers WHERE attempt_id = ?`, attemptID); err != nil {
		return err
	}
	for _, a := range answers {
		if _, err := tx.Exec(
			`INSERT INTO answers (id, attempt_id, option_id, created_at) VALUES (?, ?, ?, ?)`,
			a.ID, a.AttemptID, a.OptionID, a.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ReplaceAnswersForQuestion(attemptID, questionID string, answers []*services.Answer) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`DELETE FROM answers WHERE attempt_id = ?
		 AND option_id IN (SELECT id FROM question_options WHERE question_id = ?)`,
		attemptID, questionID,
	); err != nil {
		return err
	}
	for _, a := range answers {
		if _, err := tx.Exec(
			`INSERT INTO answers (id, attempt_id, option_id, created_at) VALUES (?, ?, ?, ?)`,
			a.ID, a.AttemptID, a.OptionID, a.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- results ---

// SaveAttemptResult stamps the attempt and replaces its trait scores and
// recommendations wholesale in one transaction.
func (s *SQLiteStore) SaveAttemptResult(attemptID string, submittedAt time.Time, scores []services.TraitScore, recs []services.Recommendation) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`UPDATE attempts SET submitted_at = ? WHERE id = ?`, submittedAt, attemptID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("attempt not found")
	}
	if _, err := tx.Exec(`DELETE FROM trait_scores WHERE attempt_id = ?`, attemptID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM recommendations WHERE attempt_id = ?`, attemptID); err != nil {
		return err
	}
	for _, ts := range scores {
		if _, err := tx.Exec(
			`INSERT INTO trait_scores (attempt_id, trait_id, score) VALUES (?, ?, ?)`,
			attemptID, ts.Trait.ID, ts.Score,
		); err != nil {
			return err
		}
	}
	for _, r := range recs {
		if _, err := tx.Exec(
			`INSERT INTO recommendations (attempt_id, profession_id, "rank", score, explanation) VALUES (?, ?, ?, ?, ?)`,
			attemptID, r.Profession.ID, r.Rank, r.Score, r.Explanation,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListTraitScores(attemptID string) ([]services.TraitScore, error) {
	rows, err := s.db.Query(
		`SELECT t.id, t.code, t.name, t.bipolar_pair_code, ts.score
		 FROM trait_scores ts JOIN traits t ON t.id = ts.trait_id
		 WHERE ts.attempt_id = ? ORDER BY t.code`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []services.TraitScore
	for rows.Next() {
		var t services.TraitProfile
		var score float64
		if err := rows.Scan(&t.ID, &t.Code, &t.Name, &t.BipolarPairCode, &score); err != nil {
			return nil, err
		}
		out = append(out, services.TraitScore{Trait: &t, Score: score})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListRecommendations(attemptID string) ([]services.Recommendation, error) {
	rows, err := s.db.Query(
		`SELECT p.id, p.code, p.title, p.classifier_code, r."rank", r.score, r.explanation
		 FROM recommendations r JOIN professions p ON p.id = r.profession_id
		 WHERE r.attempt_id = ? ORDER BY r."rank"`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []services.Recommendation
	for rows.Next() {
		var p services.Profession
		var rec services.Recommendation
		if err := rows.Scan(&p.ID, &p.Code, &p.Title, &p.ClassifierCode, &rec.Rank, &rec.Score, &rec.Explanation); err != nil {
			return nil, err
		}
		rec.Profession = &p
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- audit ---

// AddAudit is best-effort: an audit write failure never fails the operation
// that produced it.
func (s *SQLiteStore) AddAudit(entry services.AuditEntry) {
	_, err := s.db.Exec(
		`INSERT INTO audit_log (at, actor, action, target, note) VALUES (?, ?, ?, ?, ?)`,
		entry.Time, entry.Actor, entry.Action, entry.Target, entry.Note,
	)
	if err != nil {
		log.Printf("sqlite store: add audit: %v", err)
	}
}

func (s *SQLiteStore) ListAudit(limit int) ([]services.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT at, actor, action, target, note FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []services.AuditEntry
	for rows.Next() {
		var e services.AuditEntry
		if err := rows.Scan(&e.Time, &e.Actor, &e.Action, &e.Target, &e.Note); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

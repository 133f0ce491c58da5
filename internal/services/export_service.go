package services

import "time"

type ExportStore interface {
	GetQuiz(id string) (*Quiz, error)
	ListVersions(quizID string) ([]*QuizVersion, error)
	ListAttemptsByVersion(versionID string) ([]*Attempt, error)
	ListAnswers(attemptID string) ([]*Answer, error)
	ListOptionsByVersion(versionID string) ([]*QuestionOption, error)
	ListTraitScores(attemptID string) ([]TraitScore, error)
	ListRecommendations(attemptID string) ([]Recommendation, error)
}

type ExportParams struct {
	QuizID         string
	Format         string
	IncludeDeleted bool
}

type ExportResult struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportService renders a quiz's attempt data to CSV for offline analysis.
// Deleted attempts are skipped unless explicitly requested.
type ExportService struct {
	store ExportStore
}

func NewExportService(store ExportStore) *ExportService {
	return &ExportService{store: store}
}

func (s *ExportService) ExportCSV(params ExportParams) (*ExportResult, error) {
	if params.QuizID == "" {
		return nil, NewInvalidError("quiz_id required")
	}
	format := params.Format
	if format == "" {
		format = "answers"
	}
	quiz, err := s.store.GetQuiz(params.QuizID)
	if err != nil {
		return nil, err
	}
	if quiz == nil {
		return nil, NewNotFoundError("quiz not found")
	}
	attempts, err := s.collectAttempts(params.QuizID, params.IncludeDeleted)
	if err != nil {
		return nil, err
	}

	switch format {
	case "answers":
		rows, err := s.buildAnswerRows(attempts)
		if err != nil {
			return nil, err
		}
		b, err := ExportAnswersCSV(rows)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: "answers.csv", ContentType: "text/csv; charset=utf-8", Data: b}, nil
	case "scores":
		mp, err := s.buildScoreMatrix(attempts)
		if err != nil {
			return nil, err
		}
		b, err := ExportScoreMatrixCSV(mp)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: "scores.csv", ContentType: "text/csv; charset=utf-8", Data: b}, nil
	case "recommendations":
		rows, err := s.buildRecommendationRows(attempts)
		if err != nil {
			return nil, err
		}
		b, err := ExportRecommendationsCSV(rows)
		if err != nil {
			return nil, err
		}
		return &ExportResult{Filename: "recommendations.csv", ContentType: "text/csv; charset=utf-8", Data: b}, nil
	default:
		return nil, NewInvalidError("unsupported format")
	}
}

func (s *ExportService) collectAttempts(quizID string, includeDeleted bool) ([]*Attempt, error) {
	versions, err := s.store.ListVersions(quizID)
	if err != nil {
		return nil, err
	}
	var out []*Attempt
	for _, v := range versions {
		attempts, err := s.store.ListAttemptsByVersion(v.ID)
		if err != nil {
			return nil, err
		}
		for _, a := range attempts {
			if a.Deleted() && !includeDeleted {
				continue
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *ExportService) buildAnswerRows(attempts []*Attempt) ([]AnswerRow, error) {
	// option id -> question id, cached per version
	questionOf := map[string]string{}
	seenVersion := map[string]bool{}

	var rows []AnswerRow
	for _, a := range attempts {
		if !seenVersion[a.VersionID] {
			opts, err := s.store.ListOptionsByVersion(a.VersionID)
			if err != nil {
				return nil, err
			}
			for _, o := range opts {
				questionOf[o.ID] = o.QuestionID
			}
			seenVersion[a.VersionID] = true
		}
		answers, err := s.store.ListAnswers(a.ID)
		if err != nil {
			return nil, err
		}
		submitted := ""
		if a.SubmittedAt != nil {
			submitted = a.SubmittedAt.Format(time.RFC3339)
		}
		owner := a.UserID
		if owner == "" {
			owner = "guest:" + a.GuestToken
		}
		for _, ans := range answers {
			rows = append(rows, AnswerRow{
				AttemptID:   a.ID,
				Owner:       owner,
				QuestionID:  questionOf[ans.OptionID],
				OptionID:    ans.OptionID,
				AnsweredAt:  ans.CreatedAt.Format(time.RFC3339),
				SubmittedAt: submitted,
			})
		}
	}
	return rows, nil
}

func (s *ExportService) buildScoreMatrix(attempts []*Attempt) (map[string]map[string]float64, error) {
	mp := map[string]map[string]float64{}
	for _, a := range attempts {
		if !a.Submitted() {
			continue
		}
		scores, err := s.store.ListTraitScores(a.ID)
		if err != nil {
			return nil, err
		}
		if len(scores) == 0 {
			continue
		}
		row := map[string]float64{}
		for _, ts := range scores {
			row[ts.Trait.Code] = ts.Score
		}
		mp[a.ID] = row
	}
	return mp, nil
}

func (s *ExportService) buildRecommendationRows(attempts []*Attempt) ([]RecommendationRow, error) {
	var rows []RecommendationRow
	for _, a := range attempts {
		if !a.Submitted() {
			continue
		}
		recs, err := s.store.ListRecommendations(a.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			rows = append(rows, RecommendationRow{
				AttemptID:      a.ID,
				Rank:           r.Rank,
				ProfessionCode: r.Profession.Code,
				Score:          r.Score,
			})
		}
	}
	return rows, nil
}

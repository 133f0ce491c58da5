package services

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
)

// AnswerRow is one selected option in the long-format answers export.
type AnswerRow struct {
	AttemptID   string
	Owner       string
	QuestionID  string
	OptionID    string
	AnsweredAt  string // ISO8601; string for CSV simplicity
	SubmittedAt string
}

// ExportAnswersCSV renders attempts into a long-format CSV, one row per
// selected option.
func ExportAnswersCSV(rows []AnswerRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"attempt_id", "owner", "question_id", "option_id", "answered_at", "submitted_at"})
	for _, r := range rows {
		rec := []string{
			r.AttemptID,
			r.Owner,
			r.QuestionID,
			r.OptionID,
			r.AnsweredAt,
			r.SubmittedAt,
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportScoreMatrixCSV renders a wide-format CSV with attempt-per-row and
// one column per trait code. inputs is a map[attemptID]map[traitCode]score.
func ExportScoreMatrixCSV(inputs map[string]map[string]float64) ([]byte, error) {
	// Determine trait column order (sorted for stable output).
	traitSet := map[string]struct{}{}
	for _, m := range inputs {
		for code := range m {
			traitSet[code] = struct{}{}
		}
	}
	traits := make([]string, 0, len(traitSet))
	for code := range traitSet {
		traits = append(traits, code)
	}
	sort.Strings(traits)

	// Attempt order
	ids := make([]string, 0, len(inputs))
	for id := range inputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := append([]string{"attempt_id"}, traits...)
	_ = w.Write(header)
	for _, id := range ids {
		row := make([]string, 0, 1+len(traits))
		row = append(row, id)
		for _, code := range traits {
			row = append(row, ftoa(inputs[id][code]))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// RecommendationRow is one ranked profession in the recommendations export.
type RecommendationRow struct {
	AttemptID      string
	Rank           int
	ProfessionCode string
	Score          float64
}

// ExportRecommendationsCSV renders ranked recommendations, one row per
// (attempt, profession) pair ordered as given.
func ExportRecommendationsCSV(rows []RecommendationRow) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{"attempt_id", "rank", "profession_code", "score"})
	for _, r := range rows {
		rec := []string{r.AttemptID, itoa(r.Rank), r.ProfessionCode, ftoa(r.Score)}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := false
	if i < 0 {
		neg = true
		i = -i
	}
	var b [20]byte
	bp := len(b)
	for i > 0 {
		bp--
		b[bp] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		bp--
		b[bp] = '-'
	}
	return string(b[bp:])
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

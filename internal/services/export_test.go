package services

import (
	"encoding/csv"
	"strings"
	"testing"
)

func readCSV(b []byte) ([][]string, error) {
	r := csv.NewReader(strings.NewReader(string(b)))
	return r.ReadAll()
}

func TestExportAnswersCSV(t *testing.T) {
	rows := []AnswerRow{
		{AttemptID: "A1", Owner: "U1", QuestionID: "q1", OptionID: "o1", AnsweredAt: "2026-01-01T00:00:00Z", SubmittedAt: "2026-01-01T00:05:00Z"},
		{AttemptID: "A1", Owner: "U1", QuestionID: "q2", OptionID: "o3", AnsweredAt: "2026-01-01T00:01:00Z", SubmittedAt: "2026-01-01T00:05:00Z"},
		{AttemptID: "A2", Owner: "guest:tok", QuestionID: "q1", OptionID: "o2", AnsweredAt: "2026-01-02T00:00:00Z", SubmittedAt: ""},
	}
	b, err := ExportAnswersCSV(rows)
	if err != nil {
		t.Fatalf("export answers: %v", err)
	}
	recs, err := readCSV(b)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 1+len(rows) {
		t.Fatalf("want %d rows, got %d", 1+len(rows), len(recs))
	}
	if got := strings.Join(recs[0], ","); got != "attempt_id,owner,question_id,option_id,answered_at,submitted_at" {
		t.Fatalf("bad header: %s", got)
	}
}

func TestExportScoreMatrixCSV(t *testing.T) {
	data := map[string]map[string]float64{
		"A1": {"I": 1.5, "R": 5},
		"A2": {"R": 2},
	}
	b, err := ExportScoreMatrixCSV(data)
	if err != nil {
		t.Fatalf("export scores: %v", err)
	}
	recs, err := readCSV(b)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 1+len(data) {
		t.Fatalf("rows mismatch: %d", len(recs))
	}
	if strings.Join(recs[0], ",") != "attempt_id,I,R" {
		t.Fatalf("header mismatch: %v", recs[0])
	}
	// Attempts sorted by id; a missing cell renders as zero.
	if recs[1][0] != "A1" || recs[1][1] != "1.5" || recs[1][2] != "5" {
		t.Fatalf("A1 wrong: %v", recs[1])
	}
	if recs[2][0] != "A2" || recs[2][1] != "0" || recs[2][2] != "2" {
		t.Fatalf("A2 wrong: %v", recs[2])
	}
}

func TestExportRecommendationsCSV(t *testing.T) {
	rows := []RecommendationRow{
		{AttemptID: "A1", Rank: 1, ProfessionCode: "eng", Score: 6},
		{AttemptID: "A1", Rank: 2, ProfessionCode: "mech", Score: 5},
	}
	b, err := ExportRecommendationsCSV(rows)
	if err != nil {
		t.Fatalf("export recommendations: %v", err)
	}
	recs, err := readCSV(b)
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("rows mismatch: %d", len(recs))
	}
	if recs[1][1] != "1" || recs[1][2] != "eng" || recs[1][3] != "6" {
		t.Fatalf("row wrong: %v", recs[1])
	}
}

func TestItoaFtoa(t *testing.T) {
	if itoa(0) != "0" || itoa(42) != "42" || itoa(-7) != "-7" {
		t.Fatalf("itoa broken: %s %s %s", itoa(0), itoa(42), itoa(-7))
	}
	if ftoa(2.5) != "2.5" || ftoa(-1) != "-1" || ftoa(0) != "0" {
		t.Fatalf("ftoa broken: %s %s %s", ftoa(2.5), ftoa(-1), ftoa(0))
	}
}

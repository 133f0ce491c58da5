//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// Requires a running server. Admin endpoints assume the test admin email is
// listed in VOCATIO_ADMIN_EMAILS on the server side.

func baseURL() string {
	if v := os.Getenv("VOCATIO_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func adminEmail() string {
	if v := os.Getenv("VOCATIO_TEST_ADMIN_EMAIL"); strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return "admin@example.com"
}

func TestQuizJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()
	password := "Secret123!"

	// Admin signs in (register may 409 on reruns, then login).
	var adminResp struct {
		Token string `json:"token"`
		Admin bool   `json:"admin"`
	}
	registerOrLogin(t, client, base, adminEmail(), password, &adminResp)
	if adminResp.Token == "" {
		t.Fatalf("admin sign-in did not return token")
	}
	if !adminResp.Admin {
		t.Fatalf("test admin account lacks admin flag; set VOCATIO_ADMIN_EMAILS on the server")
	}
	adminToken := adminResp.Token

	// Author a quiz.
	quizCode := fmt.Sprintf("it_%d", time.Now().UnixNano())
	var quizResp struct {
		ID string `json:"id"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/quizzes", adminToken, "", map[string]any{
		"code":            quizCode,
		"title":           "Integration Quiz",
		"processing_mode": "trait_sum",
	}, &quizResp)
	if quizResp.ID == "" {
		t.Fatalf("expected quiz id in response")
	}

	for _, tr := range []map[string]any{
		{"code": "R_" + quizCode, "name": "Realistic"},
		{"code": "I_" + quizCode, "name": "Investigative"},
	} {
		doJSON(t, client, http.MethodPost, base+"/api/traits", adminToken, "", tr, nil)
	}
	doJSON(t, client, http.MethodPost, base+"/api/professions", adminToken, "", map[string]any{
		"code":            "eng_" + quizCode,
		"title":           "Engineer",
		"classifier_code": "R_" + quizCode + "+I_" + quizCode,
	}, nil)

	var versionsResp struct {
		Versions []struct {
			ID string `json:"id"`
		} `json:"versions"`
	}
	doJSON(t, client, http.MethodGet, base+"/api/quizzes/"+quizResp.ID+"/versions", adminToken, "", nil, &versionsResp)
	if len(versionsResp.Versions) == 0 {
		t.Fatalf("expected a draft version after quiz creation")
	}
	draftID := versionsResp.Versions[0].ID

	var questionResp struct {
		ID string `json:"id"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/questions", adminToken, "", map[string]any{
		"version_id": draftID,
		"ordinal":    1,
		"type":       "single_choice",
		"text":       "Which task appeals most?",
	}, &questionResp)
	var optionResp struct {
		ID string `json:"id"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/options", adminToken, "", map[string]any{
		"question_id": questionResp.ID,
		"ordinal":     1,
		"label":       "Fixing an engine",
	}, &optionResp)
	doJSON(t, client, http.MethodPost, base+"/api/option-traits", adminToken, "", map[string]any{
		"option_id":  optionResp.ID,
		"trait_code": "R_" + quizCode,
		"weight":     2,
	}, nil)
	doJSON(t, client, http.MethodPost, base+"/api/option-traits", adminToken, "", map[string]any{
		"option_id":  optionResp.ID,
		"trait_code": "I_" + quizCode,
		"weight":     1,
	}, nil)

	doJSON(t, client, http.MethodPost, base+"/api/quizzes/"+quizResp.ID+"/publish", adminToken, "", nil, nil)

	// A guest takes the published quiz.
	var currentResp struct {
		Version struct {
			ID string `json:"id"`
		} `json:"version"`
	}
	doJSON(t, client, http.MethodGet, base+"/api/quizzes/"+quizResp.ID+"/current", "", "", nil, &currentResp)
	if currentResp.Version.ID == "" {
		t.Fatalf("expected current version after publish")
	}

	var attemptResp struct {
		ID         string `json:"id"`
		GuestToken string `json:"guest_token"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/attempts", "", "", map[string]any{
		"version_id": currentResp.Version.ID,
	}, &attemptResp)
	if attemptResp.ID == "" || attemptResp.GuestToken == "" {
		t.Fatalf("expected attempt id and guest token, got %+v", attemptResp)
	}
	guestToken := attemptResp.GuestToken

	doJSON(t, client, http.MethodPost, base+"/api/attempts/"+attemptResp.ID+"/answers", "", guestToken, map[string]any{
		"option_id": optionResp.ID,
	}, nil)

	var submitResp struct {
		TraitScores []struct {
			Trait struct {
				Code string `json:"code"`
			} `json:"trait"`
			Score float64 `json:"score"`
		} `json:"trait_scores"`
		Recommendations []struct {
			Rank  int     `json:"rank"`
			Score float64 `json:"score"`
		} `json:"recommendations"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/attempts/"+attemptResp.ID+"/submit", "", guestToken, nil, &submitResp)
	realistic := -1.0
	for _, ts := range submitResp.TraitScores {
		if ts.Trait.Code == "R_"+quizCode {
			realistic = ts.Score
		}
	}
	if realistic != 2 {
		t.Fatalf("unexpected trait scores: %+v", submitResp.TraitScores)
	}
	if len(submitResp.Recommendations) != 1 || submitResp.Recommendations[0].Score != 3 {
		t.Fatalf("unexpected recommendations: %+v", submitResp.Recommendations)
	}

	// The guest registers; the attempt migrates to the new account.
	userEmail := fmt.Sprintf("taker_%d@example.com", time.Now().UnixNano())
	var userResp struct {
		Token            string `json:"token"`
		MigratedAttempts int    `json:"migrated_attempts"`
	}
	doJSON(t, client, http.MethodPost, base+"/api/auth/register", "", guestToken, map[string]string{
		"email":    userEmail,
		"password": password,
	}, &userResp)
	if userResp.MigratedAttempts != 1 {
		t.Fatalf("expected 1 migrated attempt, got %d", userResp.MigratedAttempts)
	}

	var mineResp struct {
		Attempts []struct {
			ID string `json:"id"`
		} `json:"attempts"`
	}
	doJSON(t, client, http.MethodGet, base+"/api/me/attempts", userResp.Token, "", nil, &mineResp)
	if len(mineResp.Attempts) != 1 || mineResp.Attempts[0].ID != attemptResp.ID {
		t.Fatalf("expected migrated attempt in /api/me/attempts, got %+v", mineResp.Attempts)
	}

	// Admin exports answers.
	exportURL := base + "/api/quizzes/" + quizResp.ID + "/export?format=answers"
	req, err := http.NewRequest(http.MethodGet, exportURL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("export status %d body %s", resp.StatusCode, string(body))
	}
	csvData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export data: %v", err)
	}
	if !strings.Contains(string(csvData), attemptResp.ID) {
		t.Fatalf("export csv did not contain attempt id; csv=%s", string(csvData))
	}
}

func registerOrLogin(t *testing.T, client *http.Client, base, email, password string, out any) {
	t.Helper()
	body := map[string]string{"email": email, "password": password}
	payload, _ := json.Marshal(body)
	resp, err := client.Post(base+"/api/auth/register", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusConflict {
		doJSON(t, client, http.MethodPost, base+"/api/auth/login", "", "", body, out)
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("register status %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		t.Fatalf("decode register response: %v", err)
	}
}

func doJSON(t *testing.T, client *http.Client, method, url, token, guestToken string, body any, out any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if strings.TrimSpace(guestToken) != "" {
		req.Header.Set("X-Guest-Token", guestToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http %s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}

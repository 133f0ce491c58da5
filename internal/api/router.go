package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vocatio-app/vocatio/internal/middleware"
	"github.com/vocatio-app/vocatio/internal/services"
)

// Router wires the HTTP surface to the domain services. All handlers speak
// JSON; CSV export endpoints stream text/csv.
type Router struct {
	store    Store
	auth     *services.AuthService
	content  *services.ContentService
	versions *services.VersionService
	attempts *services.AttemptService
	export   *services.ExportService
}

func NewRouter(store Store, signer services.TokenSigner) *Router {
	registry := services.DefaultRegistry(store)
	return &Router{
		store:    store,
		auth:     services.NewAuthService(store, signer),
		content:  services.NewContentService(store),
		versions: services.NewVersionService(store),
		attempts: services.NewAttemptService(store, registry),
		export:   services.NewExportService(store),
	}
}

func (rt *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/register", rt.handleRegister)
	mux.HandleFunc("/api/auth/login", rt.handleLogin)
	mux.HandleFunc("/api/quizzes", rt.handleQuizzes)
	mux.HandleFunc("/api/quizzes/", rt.handleQuizScoped)
	mux.HandleFunc("/api/questions", rt.handleQuestions)
	mux.HandleFunc("/api/options", rt.handleOptions)
	mux.HandleFunc("/api/option-traits", rt.handleOptionTraits)
	mux.HandleFunc("/api/traits", rt.handleTraits)
	mux.HandleFunc("/api/professions", rt.handleProfessions)
	mux.HandleFunc("/api/attempts", rt.handleStartAttempt)
	mux.HandleFunc("/api/attempts/", rt.handleAttemptScoped)
	mux.HandleFunc("/api/me/attempts", rt.handleMyAttempts)
	mux.HandleFunc("/api/me/attempts/delete", rt.handleDeleteMy)
	mux.HandleFunc("/api/admin/audit", rt.handleAudit)
	mux.HandleFunc("/api/seed", rt.handleSeed)
}

// --- plumbing ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError maps service error codes to HTTP statuses; anything
// outside the taxonomy is a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	se, ok := services.AsServiceError(err)
	if !ok {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch se.Code {
	case services.ErrorInvalid:
		status = http.StatusBadRequest
	case services.ErrorInvalidState, services.ErrorConflict:
		status = http.StatusConflict
	case services.ErrorNotFound:
		status = http.StatusNotFound
	case services.ErrorForbidden:
		status = http.StatusForbidden
	case services.ErrorUnauthorized:
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]any{"error": string(se.Code), "message": se.Message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// requireAdmin rejects callers without an admin JWT.
func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	c, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	if !c.Admin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func actorFrom(r *http.Request) string {
	if uid, ok := middleware.UserIDFromContext(r.Context()); ok {
		return "user:" + uid
	}
	return "anonymous"
}

// ownerFromRequest resolves the caller identity: a JWT wins over a guest
// token header; neither yields the zero (anonymous) owner.
func ownerFromRequest(r *http.Request) services.Owner {
	if uid, ok := middleware.UserIDFromContext(r.Context()); ok {
		return services.UserOwner(uid)
	}
	if tok := middleware.GuestTokenFromRequest(r); tok != "" {
		return services.GuestOwner(tok)
	}
	return services.Owner{}
}

// --- auth ---

func (rt *Router) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := rt.auth.Register(req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	migrated := rt.attachGuest(r, res.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user_id": res.UserID, "admin": res.Admin, "migrated_attempts": migrated})
}

func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := rt.auth.Login(req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	migrated := rt.attachGuest(r, res.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"token": res.Token, "user_id": res.UserID, "admin": res.Admin, "migrated_attempts": migrated})
}

// attachGuest migrates guest attempts when a guest token accompanies a
// register or login call. Failures are swallowed: sign-in must not break
// because a stale token matched nothing.
func (rt *Router) attachGuest(r *http.Request, userID string) int {
	tok := middleware.GuestTokenFromRequest(r)
	if tok == "" {
		return 0
	}
	n, err := rt.attempts.AttachGuestAttempts(tok, userID)
	if err != nil {
		return 0
	}
	return n
}

// --- quizzes ---

func (rt *Router) handleQuizzes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !requireAdmin(w, r) {
			return
		}
		var req struct {
			Code  string `json:"code"`
			Title string `json:"title"`
			Mode  string `json:"processing_mode"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		q, err := rt.content.CreateQuiz(req.Code, req.Title, services.ProcessingMode(req.Mode))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	case http.MethodGet:
		if !requireAdmin(w, r) {
			return
		}
		quizzes, err := rt.content.ListQuizzes()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"quizzes": quizzes})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleQuizScoped dispatches /api/quizzes/{id}/... subroutes.
func (rt *Router) handleQuizScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/quizzes/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	quizID := parts[0]
	switch {
	case parts[1] == "publish" && r.Method == http.MethodPost:
		rt.handlePublish(w, r, quizID)
	case parts[1] == "versions" && len(parts) == 2 && r.Method == http.MethodPost:
		rt.handleCreateDraft(w, r, quizID)
	case parts[1] == "versions" && len(parts) == 2 && r.Method == http.MethodGet:
		rt.handleListVersions(w, r, quizID)
	case parts[1] == "versions" && len(parts) == 3 && r.Method == http.MethodGet:
		rt.handleGetVersion(w, r, quizID, parts[2])
	case parts[1] == "current" && r.Method == http.MethodGet:
		rt.handleCurrentVersion(w, r, quizID)
	case parts[1] == "export" && r.Method == http.MethodGet:
		rt.handleExport(w, r, quizID)
	case parts[1] == "attempts" && r.Method == http.MethodGet:
		rt.handleSearchAttempts(w, r, quizID)
	default:
		http.NotFound(w, r)
	}
}

func (rt *Router) handlePublish(w http.ResponseWriter, r *http.Request, quizID string) {
	if !requireAdmin(w, r) {
		return
	}
	v, err := rt.versions.Publish(quizID, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (rt *Router) handleCreateDraft(w http.ResponseWriter, r *http.Request, quizID string) {
	if !requireAdmin(w, r) {
		return
	}
	v, err := rt.versions.CreateDraftVersion(quizID, actorFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (rt *Router) handleListVersions(w http.ResponseWriter, r *http.Request, quizID string) {
	if !requireAdmin(w, r) {
		return
	}
	vs, err := rt.versions.ListVersions(quizID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": vs})
}

func (rt *Router) handleGetVersion(w http.ResponseWriter, r *http.Request, quizID, numberStr string) {
	if !requireAdmin(w, r) {
		return
	}
	number, err := strconv.Atoi(numberStr)
	if err != nil {
		http.Error(w, "invalid version number", http.StatusBadRequest)
		return
	}
	v, err := rt.versions.GetVersion(quizID, number)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	graph, err := rt.content.QuestionGraph(v.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": v, "questions": graph})
}

// handleCurrentVersion is the public presentation endpoint: the current
// version with its full question/option tree.
func (rt *Router) handleCurrentVersion(w http.ResponseWriter, r *http.Request, quizID string) {
	v, err := rt.versions.GetCurrentVersion(quizID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	graph, err := rt.content.QuestionGraph(v.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"version": v, "questions": graph})
}

// GET /api/quizzes/{id}/export?format=answers|scores|recommendations
func (rt *Router) handleExport(w http.ResponseWriter, r *http.Request, quizID string) {
	if !requireAdmin(w, r) {
		return
	}
	res, err := rt.export.ExportCSV(services.ExportParams{
		QuizID:         quizID,
		Format:         r.URL.Query().Get("format"),
		IncludeDeleted: r.URL.Query().Get("include_deleted") == "true",
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", res.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+res.Filename)
	_, _ = w.Write(res.Data)
}

// GET /api/quizzes/{id}/attempts — admin search with query filters.
func (rt *Router) handleSearchAttempts(w http.ResponseWriter, r *http.Request, quizID string) {
	if !requireAdmin(w, r) {
		return
	}
	q := r.URL.Query()
	f := services.AttemptFilter{
		QuizID:         quizID,
		VersionID:      q.Get("version_id"),
		UserID:         q.Get("user_id"),
		IncludeDeleted: q.Get("include_deleted") == "true",
	}
	if v := q.Get("submitted"); v != "" {
		submitted := v == "true"
		f.Submitted = &submitted
	}
	if v := q.Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = &t
		}
	}
	if v := q.Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = &t
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	attempts, err := rt.attempts.AdminSearchAttempts(f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// --- authoring ---

func (rt *Router) handleQuestions(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) || !requireAdmin(w, r) {
		return
	}
	var req struct {
		VersionID string `json:"version_id"`
		Ordinal   int    `json:"ordinal"`
		Type      string `json:"type"`
		Text      string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	q, err := rt.content.AddQuestion(req.VersionID, req.Ordinal, services.QuestionType(req.Type), req.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (rt *Router) handleOptions(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) || !requireAdmin(w, r) {
		return
	}
	var req struct {
		QuestionID string `json:"question_id"`
		Ordinal    int    `json:"ordinal"`
		Label      string `json:"label"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	o, err := rt.content.AddOption(req.QuestionID, req.Ordinal, req.Label)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (rt *Router) handleOptionTraits(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) || !requireAdmin(w, r) {
		return
	}
	var req struct {
		OptionID  string  `json:"option_id"`
		TraitCode string  `json:"trait_code"`
		Weight    float64 `json:"weight"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	link, err := rt.content.SetOptionWeight(req.OptionID, req.TraitCode, req.Weight)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (rt *Router) handleTraits(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !requireAdmin(w, r) {
			return
		}
		var req struct {
			Code            string `json:"code"`
			Name            string `json:"name"`
			BipolarPairCode string `json:"bipolar_pair_code"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		t, err := rt.content.RegisterTrait(req.Code, req.Name, req.BipolarPairCode)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	case http.MethodGet:
		traits, err := rt.content.ListTraits()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"traits": traits})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (rt *Router) handleProfessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if !requireAdmin(w, r) {
			return
		}
		var req struct {
			Code           string `json:"code"`
			Title          string `json:"title"`
			ClassifierCode string `json:"classifier_code"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		p, err := rt.content.RegisterProfession(req.Code, req.Title, req.ClassifierCode)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodGet:
		professions, err := rt.content.ListProfessions()
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"professions": professions})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- attempts ---

// POST /api/attempts {version_id} — authenticated users bind the attempt to
// their account; everyone else gets a guest token in the response.
func (rt *Router) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		VersionID string `json:"version_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	uid, _ := middleware.UserIDFromContext(r.Context())
	a, err := rt.attempts.StartAttempt(req.VersionID, uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAttemptScoped dispatches /api/attempts/{id}/... subroutes.
func (rt *Router) handleAttemptScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/attempts/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	attemptID := parts[0]
	owner := ownerFromRequest(r)
	switch {
	case parts[1] == "answers" && r.Method == http.MethodPost:
		rt.handleAnswers(w, r, owner, attemptID)
	case parts[1] == "submit" && r.Method == http.MethodPost:
		rt.handleSubmit(w, r, owner, attemptID)
	case parts[1] == "result" && r.Method == http.MethodGet:
		rt.handleResult(w, r, owner, attemptID)
	default:
		http.NotFound(w, r)
	}
}

// POST /api/attempts/{id}/answers
// {option_id} appends one answer; {option_ids} replaces the whole set;
// {question_id, option_ids} replaces one question's answers.
func (rt *Router) handleAnswers(w http.ResponseWriter, r *http.Request, owner services.Owner, attemptID string) {
	var req struct {
		OptionID   string   `json:"option_id"`
		OptionIDs  []string `json:"option_ids"`
		QuestionID string   `json:"question_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	switch {
	case req.QuestionID != "":
		n, err := rt.attempts.AddAnswersForQuestion(owner, attemptID, req.QuestionID, req.OptionIDs)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": n})
	case len(req.OptionIDs) > 0:
		n, err := rt.attempts.AddAnswersBulk(owner, attemptID, req.OptionIDs)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": n})
	default:
		ans, err := rt.attempts.AddAnswer(owner, attemptID, req.OptionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ans)
	}
}

func (rt *Router) handleSubmit(w http.ResponseWriter, r *http.Request, owner services.Owner, attemptID string) {
	res, err := rt.attempts.SubmitAttempt(owner, attemptID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleResult(w http.ResponseWriter, r *http.Request, owner services.Owner, attemptID string) {
	res, err := rt.attempts.GetResult(owner, attemptID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (rt *Router) handleMyAttempts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	attempts, err := rt.attempts.ListMyAttempts(ownerFromRequest(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// POST /api/me/attempts/delete {attempt_ids, confirm}
func (rt *Router) handleDeleteMy(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req struct {
		AttemptIDs []string `json:"attempt_ids"`
		Confirm    bool     `json:"confirm"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	n, err := rt.attempts.DeleteSelectedAttempts(ownerFromRequest(r), req.AttemptIDs, req.Confirm)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": n})
}

// --- admin ---

func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !requireAdmin(w, r) {
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	entries, err := rt.store.ListAudit(limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

// POST /api/seed — create a small published sample quiz for local setups.
func (rt *Router) handleSeed(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	quiz, err := rt.seedSample()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	v, err := rt.versions.GetCurrentVersion(quiz.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "quiz_id": quiz.ID, "version_id": v.ID})
}

func (rt *Router) seedSample() (*services.Quiz, error) {
	if q, err := rt.store.GetQuizByCode("sample"); err == nil && q != nil {
		return q, nil
	}
	quiz, err := rt.content.CreateQuiz("sample", "Career Orientation Sample", services.ModeTraitSum)
	if err != nil {
		if services.IsCode(err, services.ErrorConflict) {
			return rt.store.GetQuizByCode("sample")
		}
		return nil, err
	}
	for _, t := range []struct{ code, name string }{
		{"R", "Realistic"}, {"I", "Investigative"}, {"A", "Artistic"},
		{"S", "Social"}, {"E", "Enterprising"}, {"C", "Conventional"},
	} {
		if _, err := rt.content.RegisterTrait(t.code, t.name, ""); err != nil && !services.IsCode(err, services.ErrorConflict) {
			return nil, err
		}
	}
	for _, p := range []struct{ code, title, classifier string }{
		{"eng", "Engineer", "R+I"},
		{"teacher", "Teacher", "S"},
		{"designer", "Designer", "A"},
		{"analyst", "Analyst", "I+C"},
	} {
		if _, err := rt.content.RegisterProfession(p.code, p.title, p.classifier); err != nil {
			return nil, err
		}
	}
	latest, err := rt.store.GetLatestVersion(quiz.ID)
	if err != nil {
		return nil, err
	}
	questions := []struct {
		text    string
		options []struct {
			label  string
			trait  string
			weight float64
		}
	}{
		{"Which activity sounds most appealing?", []struct {
			label  string
			trait  string
			weight float64
		}{
			{"Repairing a machine", "R", 2},
			{"Running an experiment", "I", 2},
			{"Sketching a poster", "A", 2},
		}},
		{"Pick the task you would volunteer for.", []struct {
			label  string
			trait  string
			weight float64
		}{
			{"Tutoring a classmate", "S", 2},
			{"Pitching a project", "E", 2},
			{"Organizing the records", "C", 2},
		}},
	}
	for i, qd := range questions {
		question, err := rt.content.AddQuestion(latest.ID, i+1, services.QuestionSingleChoice, qd.text)
		if err != nil {
			return nil, err
		}
		for j, od := range qd.options {
			option, err := rt.content.AddOption(question.ID, j+1, od.label)
			if err != nil {
				return nil, err
			}
			if _, err := rt.content.SetOptionWeight(option.ID, od.trait, od.weight); err != nil {
				return nil, err
			}
		}
	}
	if _, err := rt.versions.Publish(quiz.ID, "seed"); err != nil {
		return nil, err
	}
	return quiz, nil
}

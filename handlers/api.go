package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"leavedesk/i18n"
	"leavedesk/models"
)

type APIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type leaveView struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Date     string `json:"date"`
	Type     string `json:"leave_type"`
	Comment  string `json:"comment"`
	Status   string `json:"status"`
}

func toLeaveViews(leaves []models.LeaveRequest) []leaveView {
	views := make([]leaveView, 0, len(leaves))
	for _, l := range leaves {
		views = append(views, leaveView{
			ID:       l.ID,
			Username: l.Username,
			Date:     l.DateString(),
			Type:     string(l.Type),
			Comment:  l.Comment,
			Status:   string(l.Status),
		})
	}
	return views
}

func RegisterAPIHandlers(mux *http.ServeMux, app *App) {
	mux.HandleFunc("/api/v1/register", app.APIRegisterHandler)
	mux.HandleFunc("/api/v1/login", app.APILoginHandler)
	mux.HandleFunc("/api/v1/logout", app.APILogoutHandler)
	mux.HandleFunc("/api/v1/managers", app.APIManagersHandler)
	mux.HandleFunc("/api/v1/me", app.APIMeHandler)
	mux.HandleFunc("/api/v1/leaves", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			app.APIHistoryHandler(w, r)
		case http.MethodPost:
			app.APISubmitHandler(w, r)
		default:
			sendJSONResponse(w, http.StatusMethodNotAllowed, APIResponse{Status: "error", Message: "Method not allowed"})
		}
	})
	mux.HandleFunc("/api/v1/leaves/decide", app.APIDecideHandler)
	mux.HandleFunc("/api/v1/queue", app.APIQueueHandler)
}

func sendJSONResponse(w http.ResponseWriter, status int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSONResponse(w, status, APIResponse{Status: "error", Message: message})
}

// apiUser resolves the X-API-Token header to a username and role. It writes
// the error response itself when it returns false.
func (a *App) apiUser(w http.ResponseWriter, r *http.Request) (string, models.Role, bool) {
	lang := i18n.DetectLanguage(r)
	username, ok := a.Tokens.Lookup(r.Context(), r.Header.Get("X-API-Token"))
	if !ok {
		sendError(w, http.StatusUnauthorized, i18n.T(lang, "Unauthorized"))
		return "", "", false
	}
	role, err := a.Directory.Role(r.Context(), username)
	if errors.Is(err, models.ErrNotFound) {
		sendError(w, http.StatusUnauthorized, i18n.T(lang, "Unauthorized"))
		return "", "", false
	}
	if err != nil {
		log.Printf("Error looking up role for %q (API): %v", username, err)
		sendError(w, http.StatusInternalServerError, i18n.T(lang, "InternalServerError"))
		return "", "", false
	}
	return username, role, true
}

func (a *App) APIRegisterHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, i18n.T(lang, "MethodNotAllowed"))
		return
	}

	ip := getClientIP(r)
	if !registerLimiter.Allow(ip) {
		sendError(w, http.StatusTooManyRequests, i18n.T(lang, "TooManyAttempts"))
		return
	}

	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
		Manager  string `json:"manager"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, http.StatusBadRequest, i18n.T(lang, "InvalidRequestBody"))
		return
	}

	err := a.Directory.Register(r.Context(), input.Username, input.Password, models.Role(input.Role), input.Manager)
	switch {
	case errors.Is(err, models.ErrDuplicateUsername):
		sendError(w, http.StatusConflict, i18n.T(lang, "UsernameAlreadyExists"))
		return
	case models.IsValidation(err):
		sendError(w, http.StatusBadRequest, validationMessage(lang, err))
		return
	case err != nil:
		log.Printf("Error registering user (API): %v", err)
		sendError(w, http.StatusInternalServerError, i18n.T(lang, "InternalServerError"))
		return
	}

	registerLimiter.Record(ip)

	sendJSONResponse(w, http.StatusCreated, APIResponse{
		Status:  "success",
		Message: i18n.T(lang, "AccountCreated"),
		Data: map[string]any{
			"username": input.Username,
			"role":     input.Role,
		},
	})
}

func (a *App) APILoginHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, i18n.T(lang, "MethodNotAllowed"))
		return
	}

	ip := getClientIP(r)
	if !loginLimiter.Allow(ip) {
		sendError(w, http.StatusTooManyRequests, i18n.T(lang, "TooManyAttempts"))
		return
	}

	var input struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, http.StatusBadRequest, i18n.T(lang, "InvalidRequestBody"))
		return
	}

	user, err := a.Directory.Authenticate(r.Context(), input.Username, input.Password)
	if errors.Is(err, models.ErrNotFound) {
		loginLimiter.RecordFailure(ip)
		sendError(w, http.StatusUnauthorized, i18n.T(lang, "InvalidCredentials"))
		return
	}
	if err != nil {
		log.Printf("Error authenticating (API): %v", err)
		sendError(w, http.StatusInternalServerError, i18n.T(lang, "InternalServerError"))
		return
	}

	loginLimiter.Reset(ip)

	token, err := a.Tokens.Create(r.Context(), user.Username)
	if err != nil {
		log.Printf("Error creating API token: %v", err)
		sendError(w, http.StatusInternalServerError, i18n.T(lang, "InternalServerError"))
		return
	}

	sendJSONResponse(w, http.StatusOK, APIResponse{
		Status: "success",
		Data: map[string]any{
			"token":    token,
			"username": user.Username,
			"role":     user.Role,
			"manager":  user.Manager,
		},
	})
}

func (a *App) APILogoutHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, i18n.T(lang, "MethodNotAllowed"))
		return
	}
	token := r.Header.Get("X-API-Token")
	if _, ok := a.Tokens.Lookup(r.Context(), token); !ok {
		sendError(w, http.StatusUnauthorized, i18n.T(lang, "Unauthorized"))
		return
	}
	if err := a.Tokens.Revoke(r.Context(), token); err != nil {
		log.Printf("Error revoking API token: %v", err)
		sendError(w, http.StatusInternalServerError, i18n.T(lang, "InternalServerError"))
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success"})
}

func (a *App) APIManagersHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, i18n.T(lang, "MethodNotAllowed"))
		return
	}
	managers, err := a.Directory.ListManagers(r.Context())
	if err != nil {
		log.Printf("Error listing managers (API): %v", err)
		sendError(w, http.StatusInternalServerError, i18n.T(lang, "InternalServerError"))
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: managers})
}

func (a *App) APIMeHandler(w http.ResponseWriter, r *http.Request) {
	username, role, ok := a.apiUser(w, r)
	if !ok {
		return
	}
	data := map[string]any{"username": username, "role": role}
	if manager, ok, err := a.Directory.ManagerOf(r.Context(), username); err == nil && ok {
		data["manager"] = manager
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: data})
}

func (a *App) APIHistoryHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	username, _, ok := a.apiUser(w, r)
	if !ok {
		return
	}
	history, err := a.Ledger.History(r.Context(), username)
	if err != nil {
		log.Printf("Error loading history (API): %v", err)
		sendError(w, http.StatusInternalServerError, i18n.T(lang, "InternalServerError"))
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: toLeaveViews(history)})
}

func (a *App) APISubmitHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	username, role, ok := a.apiUser(w, r)
	if !ok {
		return
	}
	if role != models.RoleEmployee {
		sendError(w, http.StatusForbidden, i18n.T(lang, "Forbidden"))
		return
	}

	var input struct {
		Entries []struct {
			Date      string `json:"date"`
			LeaveType string `json:"leave_type"`
			Comment   string `json:"comment"`
		} `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, http.StatusBadRequest, i18n.T(lang, "InvalidRequestBody"))
		return
	}

	entries := make([]models.LeaveEntry, 0, len(input.Entries))
	for _, in := range input.Entries {
		entry, err := parseEntry(in.Date, in.LeaveType, in.Comment, a.today())
		if err != nil {
			sendError(w, http.StatusBadRequest, validationMessage(lang, err))
			return
		}
		entries = append(entries, entry)
	}

	ids, err := a.Ledger.SubmitBatch(r.Context(), username, entries)
	if models.IsValidation(err) {
		sendError(w, http.StatusBadRequest, validationMessage(lang, err))
		return
	}
	if err != nil {
		log.Printf("Error submitting leaves (API) for %q (%d committed): %v", username, len(ids), err)
		sendJSONResponse(w, http.StatusInternalServerError, APIResponse{
			Status:  "error",
			Message: i18n.T(lang, "InternalServerError"),
			Data:    map[string]any{"ids": ids},
		})
		return
	}

	sendJSONResponse(w, http.StatusCreated, APIResponse{Status: "success", Data: map[string]any{"ids": ids}})
}

func (a *App) APIQueueHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodGet {
		sendError(w, http.StatusMethodNotAllowed, i18n.T(lang, "MethodNotAllowed"))
		return
	}
	username, role, ok := a.apiUser(w, r)
	if !ok {
		return
	}
	if role != models.RoleManager {
		sendError(w, http.StatusForbidden, i18n.T(lang, "Forbidden"))
		return
	}
	queue, err := a.Ledger.Queue(r.Context(), username)
	if err != nil {
		log.Printf("Error loading queue (API): %v", err)
		sendError(w, http.StatusInternalServerError, i18n.T(lang, "InternalServerError"))
		return
	}
	sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: toLeaveViews(queue)})
}

func (a *App) APIDecideHandler(w http.ResponseWriter, r *http.Request) {
	lang := i18n.DetectLanguage(r)
	if r.Method != http.MethodPost {
		sendError(w, http.StatusMethodNotAllowed, i18n.T(lang, "MethodNotAllowed"))
		return
	}
	username, role, ok := a.apiUser(w, r)
	if !ok {
		return
	}
	if role != models.RoleManager {
		sendError(w, http.StatusForbidden, i18n.T(lang, "Forbidden"))
		return
	}

	var input struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		sendError(w, http.StatusBadRequest, i18n.T(lang, "InvalidRequestBody"))
		return
	}
	status := models.Status(input.Status)
	if !status.IsDecision() {
		sendError(w, http.StatusBadRequest, i18n.T(lang, "Invalid.status"))
		return
	}

	_, code := a.decide(r, username, input.ID, status)
	switch code {
	case http.StatusOK:
		sendJSONResponse(w, http.StatusOK, APIResponse{Status: "success", Data: map[string]any{"id": input.ID, "status": status}})
	case http.StatusNotFound:
		sendError(w, code, i18n.T(lang, "LeaveNotFound"))
	case http.StatusForbidden:
		sendError(w, code, i18n.T(lang, "Forbidden"))
	default:
		sendError(w, code, i18n.T(lang, "InternalServerError"))
	}
}

package handlers

import (
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"leavedesk/auth"
	"leavedesk/config"
	"leavedesk/db"
	"leavedesk/directory"
	"leavedesk/i18n"
	"leavedesk/ledger"
	"leavedesk/models"

	"github.com/dchest/captcha"
	"github.com/gorilla/csrf"
)

// App holds the collaborators every handler needs.
type App struct {
	Store       *db.Store
	Directory   *directory.Directory
	Ledger      *ledger.Ledger
	Tokens      *auth.Tokens
	TemplateDir string
	// Now is overridden in tests; nil means time.Now.
	Now func() time.Time
}

func (a *App) today() time.Time {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	y, m, d := now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func RegisterHandlers(mux *http.ServeMux, app *App) {
	mux.HandleFunc("/", app.IndexHandler)
	mux.HandleFunc("/login", app.LoginHandler)
	mux.HandleFunc("/register", app.RegisterHandler)
	mux.HandleFunc("/logout", app.LogoutHandler)
	mux.HandleFunc("/dashboard", app.DashboardHandler)
	mux.HandleFunc("/leaves/apply", app.ApplyHandler)
	mux.HandleFunc("/leaves/decide", app.DecideHandler)
	mux.HandleFunc("/leaves/export", app.ExportHandler)
	mux.HandleFunc("/lang", app.LanguageHandler)
	mux.HandleFunc("/healthz", app.HealthHandler)
	mux.Handle("/captcha/", captcha.Server(captcha.StdWidth, captcha.StdHeight))
}

func (a *App) IndexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if auth.FromContext(r.Context()).LoggedIn {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	managers, err := a.Directory.ListManagers(r.Context())
	if err != nil {
		log.Printf("Error listing managers: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]any{
		"Managers": managers,
		"Roles":    []models.Role{models.RoleEmployee, models.RoleManager},
		"Flashes":  auth.Flashes(w, r),
	}
	if config.AppConfig.CaptchaEnabled {
		data["CaptchaID"] = captcha.New()
	}
	a.renderTemplate(w, r, "index.html", data)
}

func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	lang := i18n.DetectLanguage(r)

	ip := getClientIP(r)
	if !loginLimiter.Allow(ip) {
		formError(w, r, "#login-error", http.StatusTooManyRequests, i18n.T(lang, "TooManyAttempts"))
		return
	}

	username := r.FormValue("username")
	password := r.FormValue("password")

	user, err := a.Directory.Authenticate(r.Context(), username, password)
	if errors.Is(err, models.ErrNotFound) {
		loginLimiter.RecordFailure(ip)
		w.Header().Set("HX-Trigger", "loginError")
		formError(w, r, "#login-error", http.StatusUnauthorized, i18n.T(lang, "InvalidCredentials"))
		return
	}
	if err != nil {
		log.Printf("Error authenticating %q: %v", username, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	loginLimiter.Reset(ip)
	if err := auth.SetSession(w, r, user.Username); err != nil {
		log.Printf("Error saving session: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	auth.AddFlash(w, r, i18n.T(lang, "LoginSuccessful"))
	redirect(w, r, "/dashboard")
}

func (a *App) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	lang := i18n.DetectLanguage(r)

	ip := getClientIP(r)
	if !registerLimiter.Allow(ip) {
		formError(w, r, "#register-error", http.StatusTooManyRequests, i18n.T(lang, "TooManyAttempts"))
		return
	}

	if config.AppConfig.CaptchaEnabled &&
		!captcha.VerifyString(r.FormValue("captcha_id"), r.FormValue("captcha_solution")) {
		// The captcha is single-use; reload the page to get a fresh one.
		auth.AddFlash(w, r, i18n.T(lang, "InvalidCaptcha"))
		redirect(w, r, "/")
		return
	}

	role := models.Role(r.FormValue("role"))
	manager := ""
	if role == models.RoleEmployee {
		manager = r.FormValue("manager")
	}

	err := a.Directory.Register(r.Context(), r.FormValue("username"), r.FormValue("password"), role, manager)
	switch {
	case errors.Is(err, models.ErrDuplicateUsername):
		formError(w, r, "#register-error", http.StatusConflict, i18n.T(lang, "UsernameAlreadyExists"))
		return
	case models.IsValidation(err):
		formError(w, r, "#register-error", http.StatusBadRequest, validationMessage(lang, err))
		return
	case err != nil:
		log.Printf("Error registering user: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	registerLimiter.Record(ip)
	auth.AddFlash(w, r, i18n.T(lang, "AccountCreated"))
	redirect(w, r, "/")
}

func (a *App) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	auth.ClearSession(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// currentUser resolves the logged-in user's role. It clears sessions that
// point at an account that no longer exists.
func (a *App) currentUser(w http.ResponseWriter, r *http.Request) (auth.Session, models.Role, bool) {
	s := auth.FromContext(r.Context())
	if !s.LoggedIn {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return s, "", false
	}
	role, err := a.Directory.Role(r.Context(), s.Username)
	if errors.Is(err, models.ErrNotFound) {
		auth.ClearSession(w, r)
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return s, "", false
	}
	if err != nil {
		log.Printf("Error looking up role for %q: %v", s.Username, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return s, "", false
	}
	return s, role, true
}

func (a *App) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	s, role, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	data := map[string]any{
		"Username": s.Username,
		"Role":     role,
		"Flashes":  auth.Flashes(w, r),
	}

	switch role {
	case models.RoleEmployee:
		if manager, ok, err := a.Directory.ManagerOf(ctx, s.Username); err == nil && ok {
			data["Manager"] = manager
		}
		history, err := a.Ledger.History(ctx, s.Username)
		if err != nil {
			log.Printf("Error loading history for %q: %v", s.Username, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		count := parseCount(r.URL.Query().Get("count"))
		rows := make([]int, count)
		for i := range rows {
			rows[i] = i
		}
		options := make([]int, ledger.MaxBatch)
		for i := range options {
			options[i] = i + 1
		}
		data["Count"] = count
		data["Rows"] = rows
		data["Options"] = options
		data["Today"] = a.today().Format(models.DateLayout)
		data["LeaveTypes"] = models.LeaveTypes
		data["Leaves"] = history
		a.renderTemplate(w, r, "employee.html", data)
	case models.RoleManager:
		queue, err := a.Ledger.Queue(ctx, s.Username)
		if err != nil {
			log.Printf("Error loading queue for %q: %v", s.Username, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		data["Leaves"] = queue
		a.renderTemplate(w, r, "manager.html", data)
	default:
		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

func (a *App) ApplyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s, role, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	if role != models.RoleEmployee {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	lang := i18n.DetectLanguage(r)

	count := parseCount(r.FormValue("count"))
	entries := make([]models.LeaveEntry, 0, count)
	for i := 0; i < count; i++ {
		suffix := strconv.Itoa(i)
		entry, err := parseEntry(r.FormValue("date_"+suffix), r.FormValue("type_"+suffix), r.FormValue("comment_"+suffix), a.today())
		if err != nil {
			formError(w, r, "#apply-error", http.StatusBadRequest, fmt.Sprintf("#%d: %s", i+1, validationMessage(lang, err)))
			return
		}
		entries = append(entries, entry)
	}

	ids, err := a.Ledger.SubmitBatch(r.Context(), s.Username, entries)
	if models.IsValidation(err) {
		formError(w, r, "#apply-error", http.StatusBadRequest, validationMessage(lang, err))
		return
	}
	if err != nil {
		log.Printf("Error submitting leaves for %q (%d committed): %v", s.Username, len(ids), err)
		if len(ids) == 0 {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		auth.AddFlash(w, r, fmt.Sprintf(i18n.T(lang, "LeavesPartiallySubmitted"), len(ids), len(entries)))
		redirect(w, r, "/dashboard")
		return
	}

	auth.AddFlash(w, r, fmt.Sprintf(i18n.T(lang, "LeavesSubmitted"), len(ids)))
	redirect(w, r, "/dashboard")
}

func (a *App) DecideHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s, role, ok := a.currentUser(w, r)
	if !ok {
		return
	}
	if role != models.RoleManager {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	lang := i18n.DetectLanguage(r)

	id, err := strconv.ParseInt(r.FormValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid leave id", http.StatusBadRequest)
		return
	}
	status := models.Status(r.FormValue("decision"))
	if !status.IsDecision() {
		http.Error(w, "Invalid decision", http.StatusBadRequest)
		return
	}

	status, code := a.decide(r, s.Username, id, status)
	if code != http.StatusOK {
		http.Error(w, http.StatusText(code), code)
		return
	}

	key := "LeaveApproved"
	if status == models.StatusRejected {
		key = "LeaveRejected"
	}
	auth.AddFlash(w, r, fmt.Sprintf(i18n.T(lang, key), id))
	redirect(w, r, "/dashboard")
}

// decide applies a manager's decision after checking the request belongs to
// one of their employees. It returns an HTTP status describing the outcome.
func (a *App) decide(r *http.Request, manager string, id int64, status models.Status) (models.Status, int) {
	ctx := r.Context()
	leave, err := a.Ledger.Get(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return "", http.StatusNotFound
	}
	if err != nil {
		log.Printf("Error loading leave %d: %v", id, err)
		return "", http.StatusInternalServerError
	}

	owner, ok, err := a.Directory.ManagerOf(ctx, leave.Username)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Printf("Error loading manager of %q: %v", leave.Username, err)
		return "", http.StatusInternalServerError
	}
	if !ok || owner != manager {
		return "", http.StatusForbidden
	}

	if err := a.Ledger.Decide(ctx, id, status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", http.StatusNotFound
		}
		log.Printf("Error deciding leave %d: %v", id, err)
		return "", http.StatusInternalServerError
	}
	return status, http.StatusOK
}

// LanguageHandler pins the interface language in a cookie and returns the
// visitor to the page they came from.
func (a *App) LanguageHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	for _, lang := range i18n.Languages() {
		if lang == code {
			http.SetCookie(w, &http.Cookie{
				Name:     i18n.LangCookie,
				Value:    code,
				Path:     "/",
				MaxAge:   86400 * 365,
				HttpOnly: true,
				Secure:   config.AppConfig.SecureCookies,
				SameSite: http.SameSiteLaxMode,
			})
			break
		}
	}

	back := "/"
	if ref, err := url.Parse(r.Referer()); err == nil && ref.Host == r.Host && ref.Path != "" {
		back = ref.Path
	}
	http.Redirect(w, r, back, http.StatusSeeOther)
}

func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.Ping(r.Context()); err != nil {
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ok"))
}

// parseCount clamps the requested number of leave rows to 1..MaxBatch.
func parseCount(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	if n > ledger.MaxBatch {
		return ledger.MaxBatch
	}
	return n
}

// parseEntry builds a leave entry from form or JSON fields. Dates before
// today are refused here rather than in the ledger.
func parseEntry(date, leaveType, comment string, today time.Time) (models.LeaveEntry, error) {
	parsed, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return models.LeaveEntry{}, models.Invalid("date", "must be a valid date in YYYY-MM-DD format")
	}
	if parsed.Before(today) {
		return models.LeaveEntry{}, models.Invalid("date", "date cannot be in the past")
	}
	lt := models.LeaveType(leaveType)
	if !lt.Valid() {
		return models.LeaveEntry{}, models.Invalid("leave_type", "unknown leave type")
	}
	return models.LeaveEntry{Date: parsed, Type: lt, Comment: comment}, nil
}

// validationMessage translates a validation error, falling back to its reason.
func validationMessage(lang string, err error) string {
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		return err.Error()
	}
	key := "Invalid." + verr.Field
	if msg := i18n.T(lang, key); msg != key {
		return msg
	}
	return verr.Reason
}

// formError reports a form problem. htmx requests get the message swapped
// into target with a 200 so the swap happens; other clients get status.
func formError(w http.ResponseWriter, r *http.Request, target string, status int, message string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Retarget", target)
		w.WriteHeader(http.StatusOK)
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
	}
	w.Write([]byte(template.HTMLEscapeString(message)))
}

func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (a *App) renderTemplate(w http.ResponseWriter, r *http.Request, name string, data map[string]any) {
	lang := i18n.DetectLanguage(r)

	funcMap := template.FuncMap{
		"T": func(key any) string {
			return i18n.T(lang, fmt.Sprint(key))
		},
		"inc": func(i int) int {
			return i + 1
		},
	}

	tmpl, err := template.New(name).Funcs(funcMap).ParseFiles(
		filepath.Join(a.TemplateDir, "layout.html"),
		filepath.Join(a.TemplateDir, name),
	)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if data == nil {
		data = map[string]any{}
	}
	if _, exists := data["AppName"]; !exists {
		data["AppName"] = config.AppConfig.AppName
	}
	data["Lang"] = lang
	data["Languages"] = i18n.Languages()
	data["csrfField"] = csrf.TemplateField(r)
	data["Session"] = auth.FromContext(r.Context())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "layout", data); err != nil {
		log.Printf("Error rendering %s: %v", name, err)
	}
}

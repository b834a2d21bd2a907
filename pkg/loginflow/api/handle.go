package api

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/jinzhu/copier"

	"github.com/markusahlstrand/authhero-sub008/pkg/errors"
	"github.com/markusahlstrand/authhero-sub008/pkg/frontchannel"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginflow"
	"github.com/markusahlstrand/authhero-sub008/pkg/loginsession"
	"github.com/markusahlstrand/authhero-sub008/pkg/passwordless"
	"github.com/markusahlstrand/authhero-sub008/pkg/requestctx"
	"github.com/markusahlstrand/authhero-sub008/pkg/workflow"
)

// Handle serves the universal login pages and the passwordless grant.
type Handle struct {
	logins         *loginflow.Service
	passwordless   *passwordless.Service
	enforceIPCheck bool
	grantLimiter   func(http.Handler) http.Handler
}

// NewHandle creates a handle. Either service may be nil, in which case its
// routes are not registered.
func NewHandle(logins *loginflow.Service, pwd *passwordless.Service) *Handle {
	return &Handle{logins: logins, passwordless: pwd}
}

// WithEnforceIPCheck makes the passwordless grant compare the caller's IP
// with the one the login started from.
func (h *Handle) WithEnforceIPCheck(enforce bool) *Handle {
	h.enforceIPCheck = enforce
	return h
}

// WithGrantLimiter wraps the passwordless grant with mw, typically
// ratelimit.PerIP.
func (h *Handle) WithGrantLimiter(mw func(http.Handler) http.Handler) *Handle {
	h.grantLimiter = mw
	return h
}

// Handler returns a router with all routes registered. Tenant and client IP
// are expected on the request context, see requestctx.Middleware.
func Handler(h *Handle) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the login routes on r.
func (h *Handle) RegisterRoutes(r chi.Router) {
	if h.logins != nil {
		r.Get("/authorize", h.Authorize)
		r.Get("/u/login/{state}", h.GetScreen)
		r.Post("/u/login/{state}", h.PostScreen)
		r.Get("/u/login/{state}/continue", h.Continue)
	}
	if h.passwordless != nil {
		r.Group(func(r chi.Router) {
			if h.grantLimiter != nil {
				r.Use(h.grantLimiter)
			}
			r.Post("/passwordless/verify", h.PasswordlessVerify)
		})
	}
}

// Authorize handles GET /authorize: it starts a login and sends the browser
// to its first screen.
func (h *Handle) Authorize(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	params := loginflow.StartParams{
		AuthParams: loginsession.AuthParams{
			ClientID:     q.Get("client_id"),
			Username:     q.Get("login_hint"),
			RedirectURI:  q.Get("redirect_uri"),
			ResponseType: q.Get("response_type"),
			ResponseMode: q.Get("response_mode"),
			Scope:        q.Get("scope"),
			State:        q.Get("state"),
			Nonce:        q.Get("nonce"),
			Audience:     q.Get("audience"),
		},
		IP:        requestctx.ClientIP(r.Context()),
		UserAgent: requestctx.UserAgent(r.Context()),
	}
	if params.AuthParams.ClientID == "" {
		writeError(w, r, errors.InvalidInput("client_id", "is required"))
		return
	}

	result, err := h.logins.Start(r.Context(), tenantID, params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if result.Type == workflow.ResultScreen && result.Screen != nil {
		http.Redirect(w, r, result.Screen.Action, http.StatusFound)
		return
	}
	writeResult(w, r, result)
}

// GetScreen handles GET /u/login/{state}.
func (h *Handle) GetScreen(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	writeResult(w, r, h.logins.Screen(r.Context(), tenantID, chi.URLParam(r, "state")))
}

// PostScreen handles POST /u/login/{state}. Both JSON and form bodies are
// accepted.
func (h *Handle) PostScreen(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	input, err := decodeInput(r)
	if err != nil {
		slog.Error("Failed to decode screen input", "error", err)
		writeError(w, r, errors.InvalidInput("body", "could not be decoded"))
		return
	}
	writeResult(w, r, h.logins.Submit(r.Context(), tenantID, chi.URLParam(r, "state"), input))
}

// Continue handles GET /u/login/{state}/continue, where page hooks send the
// browser back.
func (h *Handle) Continue(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantOf(w, r)
	if !ok {
		return
	}
	writeResult(w, r, h.logins.Continue(r.Context(), tenantID, chi.URLParam(r, "state")))
}

// PasswordlessVerify handles POST /passwordless/verify.
func (h *Handle) PasswordlessVerify(w http.ResponseWriter, r *http.Request) {
	var req PasswordlessVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Error("Failed to decode request body", "error", err)
		writeError(w, r, errors.InvalidInput("body", "could not be decoded"))
		return
	}

	var params passwordless.GrantParams
	copier.Copy(&params, &req)
	params.EnforceIPCheck = h.enforceIPCheck
	if req.RedirectURI != "" || req.ResponseType != "" || req.State != "" || req.Scope != "" {
		var auth loginsession.AuthParams
		copier.Copy(&auth, &req)
		params.AuthParams = &auth
	}

	resp, err := h.passwordless.GrantUser(r.Context(), params)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp.Write(w, r)
}

func tenantOf(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := requestctx.TenantID(r.Context())
	if tenantID == "" {
		writeError(w, r, errors.New(errors.ErrCodeTenantNotFound, "tenant not found"))
		return "", false
	}
	return tenantID, true
}

func decodeInput(r *http.Request) (map[string]any, error) {
	input := map[string]any{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			return nil, err
		}
		return input, nil
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for k := range r.PostForm {
		input[k] = r.PostForm.Get(k)
	}
	return input, nil
}

func writeResult(w http.ResponseWriter, r *http.Request, result workflow.RunResult) {
	switch result.Type {
	case workflow.ResultScreen:
		resp := ScreenResponse{}
		if result.State != nil {
			resp.State = result.State.ID
			resp.Step = result.State.Step
		}
		if result.Screen != nil {
			copier.Copy(&resp.Screen, result.Screen)
		}
		render.Status(r, http.StatusOK)
		render.JSON(w, r, resp)
	case workflow.ResultRedirect:
		http.Redirect(w, r, result.URL, http.StatusFound)
	case workflow.ResultComplete:
		completion(result.Result).Write(w, r)
	default:
		runErr := result.Error
		if runErr == nil {
			runErr = &workflow.RunError{Code: workflow.ErrCodeUnknownResult, Message: "unknown result"}
		}
		status := runErrorStatus(runErr.Code)
		if status >= http.StatusInternalServerError {
			slog.Error("Login workflow failed", "code", runErr.Code, "message", runErr.Message)
		}
		render.Status(r, status)
		render.JSON(w, r, ErrorResponse{Error: string(runErr.Code), ErrorDescription: runErr.Message})
	}
}

// completion turns the result of a completed login back into the front
// channel response it was built from.
func completion(result map[string]any) *frontchannel.Response {
	resp := &frontchannel.Response{Status: http.StatusOK}
	switch status := result["status"].(type) {
	case int:
		resp.Status = status
	case float64:
		resp.Status = int(status)
	}
	resp.Location, _ = result["location"].(string)
	switch body := result["body"].(type) {
	case map[string]string:
		resp.Body = body
	case map[string]any:
		resp.Body = make(map[string]string, len(body))
		for k, v := range body {
			if s, ok := v.(string); ok {
				resp.Body[k] = s
			}
		}
	}
	return resp
}

func runErrorStatus(code workflow.ErrorCode) int {
	switch code {
	case workflow.ErrCodeStateNotFound, workflow.ErrCodeWorkflowNotFound:
		return http.StatusNotFound
	case workflow.ErrCodeWorkflowExpired:
		return http.StatusGone
	case workflow.ErrCodeStateConflict, workflow.ErrCodeNotSuspendedOnScreen:
		return http.StatusConflict
	case workflow.ErrCodeStepLimitExceeded:
		return http.StatusLoopDetected
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.GetCode(err)
	status := errors.MapErrorCodeToHTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.Error("Login request failed", "error", err)
	}
	message := err.Error()
	var e *errors.Error
	if stderrors.As(err, &e) {
		message = e.Message
	}
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: string(code), ErrorDescription: message})
}

package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/jobq/pkg/logger"
)

// ActionPrefix is the route prefix of the action endpoints.
const ActionPrefix = "/api/action"

// maxBodySize bounds a POST action body.
const maxBodySize = 1 << 20

// Response is the envelope of every action response.
type Response struct {
	Result  any          `json:"result,omitempty"`
	Error   *ActionError `json:"error,omitempty"`
	Help    string       `json:"help"`
	Success bool         `json:"success"`
}

// ActionError describes a failed action.
type ActionError struct {
	Fields  map[string][]string `json:"fields,omitempty"`
	Type    string              `json:"__type"`
	Message string              `json:"message"`
}

// Error types reported in ActionError.Type.
const (
	ErrorTypeNotFound      = "Not Found Error"
	ErrorTypeValidation    = "Validation Error"
	ErrorTypeAuthorization = "Authorization Error"
	ErrorTypeInternal      = "Internal Server Error"
	ErrorTypeBadRequest    = "Bad Request"
)

// actionParams are the parameters accepted by the job actions. GET requests
// carry them in the query string, POST requests in a JSON body.
type actionParams struct {
	ID     string   `json:"id"`
	Queues []string `json:"queues"`
}

type action func(h *handler, r *http.Request, p actionParams) (any, error)

var actions = map[string]action{
	"job_list": func(h *handler, r *http.Request, p actionParams) (any, error) {
		return h.svc.List(r.Context(), p.Queues)
	},
	"job_show": func(h *handler, r *http.Request, p actionParams) (any, error) {
		if p.ID == "" {
			return nil, missingID()
		}
		return h.svc.Show(r.Context(), p.ID)
	},
	"job_clear": func(h *handler, r *http.Request, p actionParams) (any, error) {
		return h.svc.Clear(r.Context(), p.Queues)
	},
	"job_cancel": func(h *handler, r *http.Request, p actionParams) (any, error) {
		if p.ID == "" {
			return nil, missingID()
		}
		return nil, h.svc.Cancel(r.Context(), p.ID)
	},
}

type fieldError struct {
	fields map[string][]string
}

func (e *fieldError) Error() string { return "admin: invalid parameters" }

func (e *fieldError) Unwrap() error { return ErrValidation }

func missingID() error {
	return &fieldError{fields: map[string][]string{"id": {"Missing value"}}}
}

type handler struct {
	svc    *Service
	logger *slog.Logger
	token  string
}

// HandlerOption configures the action handler.
type HandlerOption func(*handler)

// WithToken requires every request to present token in the Authorization
// header, either bare or as a Bearer token. An empty token disables the check.
func WithToken(token string) HandlerOption {
	return func(h *handler) {
		h.token = token
	}
}

// WithHandlerLogger sets the logger for internal errors.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHandler returns a router serving the job actions under ActionPrefix.
func NewHandler(svc *Service, opts ...HandlerOption) http.Handler {
	r := chi.NewRouter()
	Mount(r, svc, opts...)
	return r
}

// Mount registers the job actions under ActionPrefix on r.
func Mount(r chi.Router, svc *Service, opts ...HandlerOption) {
	h := &handler{svc: svc, logger: logger.NewNope()}
	for _, opt := range opts {
		opt(h)
	}

	r.Route(ActionPrefix, func(r chi.Router) {
		r.Use(h.authenticate)
		r.Get("/{action}", h.serveAction)
		r.Post("/{action}", h.serveAction)
	})
}

func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := strings.TrimSpace(r.Header.Get("Authorization"))
		got = strings.TrimPrefix(got, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			writeError(w, http.StatusForbidden, &ActionError{
				Type:    ErrorTypeAuthorization,
				Message: "Access denied",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handler) serveAction(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "action")
	act, ok := actions[name]
	if !ok {
		writeError(w, http.StatusBadRequest, &ActionError{
			Type:    ErrorTypeBadRequest,
			Message: fmt.Sprintf("Action name not known: %s", name),
		})
		return
	}

	params, err := decodeParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, &ActionError{
			Type:    ErrorTypeBadRequest,
			Message: err.Error(),
		})
		return
	}

	result, err := act(h, r, params)
	if err != nil {
		h.writeActionError(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, &Response{
		Help:    helpURL(r, name),
		Success: true,
		Result:  result,
	})
}

func (h *handler) writeActionError(w http.ResponseWriter, r *http.Request, name string, err error) {
	var fe *fieldError
	switch {
	case errors.As(err, &fe):
		writeError(w, http.StatusConflict, &ActionError{
			Type:    ErrorTypeValidation,
			Message: "Invalid parameters",
			Fields:  fe.fields,
		})
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, &ActionError{
			Type:    ErrorTypeNotFound,
			Message: "Not found",
		})
	case errors.Is(err, ErrValidation):
		writeError(w, http.StatusConflict, &ActionError{
			Type:    ErrorTypeValidation,
			Message: err.Error(),
		})
	default:
		h.logger.ErrorContext(r.Context(), "action failed",
			slog.String("action", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, &ActionError{
			Type:    ErrorTypeInternal,
			Message: "Internal server error",
		})
	}
}

func decodeParams(r *http.Request) (actionParams, error) {
	var p actionParams
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		p.ID = q.Get("id")
		for _, v := range q["queues"] {
			for name := range strings.SplitSeq(v, ",") {
				if name = strings.TrimSpace(name); name != "" {
					p.Queues = append(p.Queues, name)
				}
			}
		}
		return p, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return p, fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(body, &p); err != nil {
		return p, fmt.Errorf("invalid JSON body: %w", err)
	}
	return p, nil
}

func helpURL(r *http.Request, name string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s/help_show?name=%s", scheme, r.Host, ActionPrefix, name)
}

func writeError(w http.ResponseWriter, status int, e *ActionError) {
	writeJSON(w, status, &Response{Error: e})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json;charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package bugtrack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/oarkflow/bugtrack/utils"
)

const (
	MessageAccessDenied = "access denied"
	NoticeResetSent     = "Email sent with password reset instructions."
	NoticeResetDone     = "Password has been reset."
	AlertResetExpired   = "Password reset has expired."

	ForgotPasswordPath = "/password_reset/new"
	LoginPath          = "/login"
)

type ctxKey int

const (
	decisionKey ctxKey = iota
	principalKey
	routeParamsKey
)

func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey, d)
}

func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey).(Decision)
	return d, ok
}

func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the request principal, or anonymous.
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok && p != nil {
		return p
	}
	return Anonymous()
}

// RouteParamsFromContext returns the ':name' segments of the matched route.
func RouteParamsFromContext(ctx context.Context) map[string]string {
	params, _ := ctx.Value(routeParamsKey).(map[string]string)
	return params
}

// Route maps a "METHOD /path/:id" pattern to the action it performs.
type Route struct {
	Pattern string
	Action  Action
	Entity  EntityType
}

type RouteTable []Route

// Match returns the first route matching the request.
func (rt RouteTable) Match(r *http.Request) (Route, map[string]string, bool) {
	value := r.Method + " " + r.URL.Path
	for _, route := range rt {
		if !utils.MatchRoute(value, route.Pattern) {
			continue
		}
		_, path, ok := strings.Cut(route.Pattern, " ")
		if !ok {
			path = route.Pattern
		}
		params, _ := utils.RouteParams(r.URL.Path, path)
		return route, params, true
	}
	return Route{}, nil, false
}

// ActionForMethod maps an HTTP method to the matching CRUD action.
func ActionForMethod(method string) Action {
	switch method {
	case http.MethodGet, http.MethodHead:
		return ActionRead
	case http.MethodPost:
		return ActionCreate
	case http.MethodPut, http.MethodPatch:
		return ActionUpdate
	case http.MethodDelete:
		return ActionDelete
	}
	return Action(method)
}

// HTTPAuthOptions configures the net/http authorization middleware.
// Extractor functions are supplied by the application. OnDenied and OnError
// customize responses.
type HTTPAuthOptions struct {
	Engine    *Engine
	Routes    RouteTable
	Principal func(r *http.Request) (*Principal, error)
	// Target loads the record the request acts on. Route params are available
	// through RouteParamsFromContext.
	Target   func(r *http.Request, route Route) (Target, error)
	OnDenied func(w http.ResponseWriter, r *http.Request, decision Decision)
	OnError  func(w http.ResponseWriter, r *http.Request, err error)
}

func DefaultHTTPAuthOptions() *HTTPAuthOptions {
	return &HTTPAuthOptions{
		OnDenied: func(w http.ResponseWriter, r *http.Request, decision Decision) { WriteDenied(w) },
		OnError:  WriteError,
	}
}

// NewHTTPAuthMiddleware resolves the principal, the route and the target of
// each request, asks the engine, and only calls next when access is granted.
// Requests matching no route pass through untouched.
func NewHTTPAuthMiddleware(opts *HTTPAuthOptions) func(next http.Handler) http.Handler {
	def := DefaultHTTPAuthOptions()
	if opts == nil {
		opts = def
	}
	if opts.OnDenied == nil {
		opts.OnDenied = def.OnDenied
	}
	if opts.OnError == nil {
		opts.OnError = def.OnError
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Engine == nil {
				next.ServeHTTP(w, r)
				return
			}
			route, params, ok := opts.Routes.Match(r)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			p := Anonymous()
			if opts.Principal != nil {
				var err error
				if p, err = opts.Principal(r); err != nil {
					opts.OnError(w, r, err)
					return
				}
			}
			ctx := context.WithValue(r.Context(), routeParamsKey, params)
			ctx = ContextWithPrincipal(ctx, p)
			r = r.WithContext(ctx)

			var target Target = route.Entity
			if opts.Target != nil {
				t, err := opts.Target(r, route)
				if err != nil {
					opts.OnError(w, r, err)
					return
				}
				if t != nil {
					target = t
				}
			}
			action := route.Action
			if action == "" {
				action = ActionForMethod(r.Method)
			}
			dec := opts.Engine.Decide(p, action, target)
			r = r.WithContext(ContextWithDecision(r.Context(), dec))
			if dec.Allowed {
				next.ServeHTTP(w, r)
				return
			}
			opts.OnDenied(w, r, dec)
		})
	}
}

// WriteDenied renders the user-visible denial.
func WriteDenied(w http.ResponseWriter) {
	http.Error(w, MessageAccessDenied, http.StatusForbidden)
}

// WriteError renders lookup failures as 404 and an expired reset as a
// redirect back to the forgot-password form.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrResetExpired):
		Redirect(w, r, ForgotPasswordPath, "alert", AlertResetExpired)
	case errors.Is(err, ErrInvalidPassword):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Redirect issues a 303 carrying a flash message in the query string.
func Redirect(w http.ResponseWriter, r *http.Request, path, kind, message string) {
	http.Redirect(w, r, path+"?"+url.Values{kind: {message}}.Encode(), http.StatusSeeOther)
}

// PasswordResetHandler serves the reset flow:
//
//	POST /password_reset              email
//	GET  /password_reset/{token}/edit
//	POST /password_reset/{token}      password, password_confirmation
func PasswordResetHandler(resets *PasswordResets) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /password_reset", func(w http.ResponseWriter, r *http.Request) {
		if err := resets.Request(r.Context(), r.FormValue("email")); err != nil {
			WriteError(w, r, err)
			return
		}
		Redirect(w, r, "/", "notice", NoticeResetSent)
	})
	mux.HandleFunc("GET /password_reset/{token}/edit", func(w http.ResponseWriter, r *http.Request) {
		u, err := resets.Lookup(r.Context(), r.PathValue("token"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"email": u.Email})
	})
	mux.HandleFunc("POST /password_reset/{token}", func(w http.ResponseWriter, r *http.Request) {
		err := resets.Reset(r.Context(), r.PathValue("token"), r.FormValue("password"), r.FormValue("password_confirmation"))
		if err != nil {
			WriteError(w, r, err)
			return
		}
		Redirect(w, r, LoginPath, "notice", NoticeResetDone)
	})
	return mux
}

// ExplainHandler serves POST /explain: an ExplainRequest in, a traced
// Decision out.
func ExplainHandler(e *Engine) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req ExplainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		dec, err := e.ExplainRequest(&req)
		if err != nil {
			http.Error(w, fmt.Sprintf("bad request: %v", err), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(dec)
	})
}

package inbound

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/thomasrutger/Connector/core"
)

const defaultMaxBodyBytes int64 = 1 << 20

// MessageService is the part of core.Service the HTTP surface drives.
type MessageService interface {
	HandleProtocolMessage(ctx context.Context, msg core.ProtocolMessage, claims core.Claims) (core.HandleOutcome, error)
	DescribeProcess(ctx context.Context, kind core.ProcessKind, correlationID string, claims core.Claims) (core.Acknowledgement, error)
	Config() core.Config
}

type Router struct {
	Service      MessageService
	Verifier     core.CredentialVerifier
	Catalog      CatalogProvider
	MaxBodyBytes int64
	Logger       core.Logger

	once sync.Once
	mux  http.Handler
}

type claimsKey struct{}

func NewRouter(service MessageService, verifier core.CredentialVerifier) (*Router, error) {
	if service == nil {
		return nil, fmt.Errorf("inbound: message service is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("inbound: credential verifier is required")
	}
	return &Router{
		Service:      service,
		Verifier:     verifier,
		Catalog:      EmptyCatalog{ParticipantID: service.Config().ParticipantID},
		MaxBodyBytes: defaultMaxBodyBytes,
		Logger:       glog.Nop(),
	}, nil
}

// Handler builds the chi mux serving the protocol endpoints.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/.well-known/dspace-version", rt.handleVersions)

	r.Group(func(api chi.Router) {
		api.Use(rt.authenticate)
		for _, route := range messageRoutes() {
			api.Post(route, rt.handleMessage(route))
		}
		api.Get("/negotiations/{cid}", rt.handleDescribe(core.ProcessNegotiation))
		api.Get("/transfers/{cid}", rt.handleDescribe(core.ProcessTransfer))
		api.Post("/catalog/request", rt.handleCatalog)
	})
	return r
}

// ServeHTTP builds the mux on first use. Handlers read the exported fields
// per request, so changes made after that still apply.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.once.Do(func() { rt.mux = rt.Handler() })
	rt.mux.ServeHTTP(w, r)
}

// messageRoutes lists the distinct path templates of all wire message kinds.
func messageRoutes() []string {
	seen := map[string]struct{}{}
	routes := make([]string, 0, 12)
	for _, area := range []core.ProcessKind{core.ProcessNegotiation, core.ProcessTransfer} {
		for _, kind := range core.KindsForArea(area) {
			route := kind.Route()
			if route == "" {
				continue
			}
			if _, ok := seen[route]; ok {
				continue
			}
			seen[route] = struct{}{}
			routes = append(routes, route)
		}
	}
	sort.Strings(routes)
	return routes
}

func (rt *Router) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		token := ""
		if len(header) > len("bearer ") && strings.EqualFold(header[:len("bearer ")], "bearer ") {
			token = strings.TrimSpace(header[len("bearer "):])
		}
		if token == "" {
			rt.fail(w, r, inboundError(
				"inbound: bearer token is required",
				goerrors.CategoryAuth,
				http.StatusUnauthorized,
				core.ErrorUnauthenticated,
				nil,
			))
			return
		}
		claims, err := rt.Verifier.Verify(r.Context(), token)
		if err != nil {
			rt.fail(w, r, fmt.Errorf("%w: %v", core.ErrUnauthenticated, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// ClaimsFromContext returns the verified caller claims of the request.
func ClaimsFromContext(ctx context.Context) (core.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(core.Claims)
	return claims, ok
}

func (rt *Router) handleMessage(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := rt.readBody(w, r)
		if err != nil {
			rt.fail(w, r, err)
			return
		}
		msg, kind, err := core.DecodeProtocolMessage(raw, rt.Service.Config().Protocols()...)
		if err != nil {
			rt.fail(w, r, err)
			return
		}
		if kind.Route() != route {
			rt.fail(w, r, inboundMalformed(
				fmt.Sprintf("inbound: %s cannot be posted to %s", msg.Type, route),
				map[string]any{"message_type": msg.Type, "route": route},
			))
			return
		}
		if strings.Contains(route, "{cid}") {
			cid, unescapeErr := url.PathUnescape(chi.URLParam(r, "cid"))
			if unescapeErr != nil || cid != strings.TrimSpace(msg.CorrelationID) {
				rt.fail(w, r, inboundMalformed(
					"inbound: path correlation id does not match message",
					map[string]any{"path_correlation_id": chi.URLParam(r, "cid"), "correlation_id": msg.CorrelationID},
				))
				return
			}
		}

		claims, _ := ClaimsFromContext(r.Context())
		outcome, err := rt.Service.HandleProtocolMessage(r.Context(), msg, claims)
		if err != nil {
			rt.fail(w, r, err)
			return
		}
		status := outcome.Status
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, outcome.Ack)
	}
}

func (rt *Router) handleDescribe(kind core.ProcessKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cid, err := url.PathUnescape(chi.URLParam(r, "cid"))
		if err != nil {
			rt.fail(w, r, inboundMalformed("inbound: invalid correlation id", nil))
			return
		}
		claims, _ := ClaimsFromContext(r.Context())
		ack, err := rt.Service.DescribeProcess(r.Context(), kind, cid, claims)
		if err != nil {
			rt.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ack)
	}
}

func (rt *Router) handleCatalog(w http.ResponseWriter, r *http.Request) {
	raw, err := rt.readBody(w, r)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	request, err := DecodeCatalogRequest(raw)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	provider := rt.Catalog
	if provider == nil {
		provider = EmptyCatalog{ParticipantID: rt.Service.Config().ParticipantID}
	}
	claims, _ := ClaimsFromContext(r.Context())
	catalog, err := provider.Catalog(r.Context(), claims, request)
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

type versionEntry struct {
	Version string `json:"version"`
	Path    string `json:"path"`
}

type versionResponse struct {
	ProtocolVersions []versionEntry `json:"protocolVersions"`
}

func (rt *Router) handleVersions(w http.ResponseWriter, _ *http.Request) {
	protocols := rt.Service.Config().Protocols()
	entries := make([]versionEntry, 0, len(protocols))
	for _, protocol := range protocols {
		entries = append(entries, versionEntry{Version: protocol, Path: "/"})
	}
	writeJSON(w, http.StatusOK, versionResponse{ProtocolVersions: entries})
}

func (rt *Router) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	limit := rt.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, inboundWrapError(
			err,
			goerrors.CategoryBadInput,
			"inbound: read message body",
			http.StatusBadRequest,
			core.ErrorMalformedMessage,
			map[string]any{"limit_bytes": limit},
		)
	}
	return raw, nil
}

func (rt *Router) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, err)
	if rt.Logger == nil {
		return
	}
	args := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		rt.Logger.Error("inbound request failed", args...)
		return
	}
	rt.Logger.Debug("inbound request rejected", args...)
}

var _ http.Handler = (*Router)(nil)

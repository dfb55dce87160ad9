// Package httpapi serves the review API: reading collections, submitting
// decisions, previews, sweeps and recovery.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/postbox/internal/archive"
	"github.com/roach88/postbox/internal/docstore"
	"github.com/roach88/postbox/internal/errkind"
	"github.com/roach88/postbox/internal/lifecycle"
	"github.com/roach88/postbox/internal/message"
	"github.com/roach88/postbox/internal/pipeline"
	"github.com/roach88/postbox/internal/project"
	"github.com/roach88/postbox/internal/site"
)

// Header names.
const (
	ActorHeader   = "X-Postbox-Actor"
	SessionHeader = "X-Postbox-Session"
)

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Publisher renders and publishes one approved message.
type Publisher interface {
	PublishOne(ctx context.Context, sess docstore.Session, id string) (pipeline.PublishResult, error)
}

// Response is the JSON envelope for every API reply.
type Response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Error   *Error `json:"error,omitempty"`
	Session string `json:"session,omitempty"`
}

// Error is the error part of a Response.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable,omitempty"`
}

// Server holds the API dependencies.
type Server struct {
	engine    *lifecycle.Engine
	policy    *archive.Policy
	publisher Publisher
	limits    archive.Limits
	gatherer  prometheus.Gatherer
	actor     string
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithLimits sets the thresholds used by sweeps that do not pass their own.
func WithLimits(l archive.Limits) Option {
	return func(s *Server) { s.limits = l }
}

// WithGatherer exposes metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithPublisher routes publish decisions through p so the post is rendered
// before the message moves.
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.publisher = p }
}

// WithDefaultActor names requests that carry no actor header.
func WithDefaultActor(actor string) Option {
	return func(s *Server) { s.actor = actor }
}

// New creates a server.
func New(engine *lifecycle.Engine, policy *archive.Policy, opts ...Option) *Server {
	s := &Server{
		engine: engine,
		policy: policy,
		limits: archive.DefaultLimits,
		actor:  docstore.DefaultActor,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.withSession, s.logRequests)

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/collections/{name}", s.getCollection).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}", s.getMessage).Methods(http.MethodGet)
	v1.HandleFunc("/messages/{id}/transitions", s.transition).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{id}/preview", s.preview).Methods(http.MethodGet)
	v1.HandleFunc("/sweeps/{name}", s.sweep).Methods(http.MethodPost)
	v1.HandleFunc("/recover", s.recoverIntents).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, &Error{Code: errkind.CodeNotFound, Message: "no such endpoint"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, &Error{Code: errkind.CodeSchema, Message: "method not allowed"})
	})
	return r
}

type sessionKey struct{}

// sessionFrom returns the request session set by withSession.
func sessionFrom(r *http.Request) docstore.Session {
	if sess, ok := r.Context().Value(sessionKey{}).(docstore.Session); ok {
		return sess
	}
	return docstore.NewSession(docstore.DefaultActor)
}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(ActorHeader)
		if actor == "" {
			actor = s.actor
		}
		sess := docstore.NewSession(actor)
		w.Header().Set(SessionHeader, sess.ID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"session", sessionFrom(r).ID,
			"elapsed", time.Since(start),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Status: "ok", Data: data, Session: sessionFrom(r).ID})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Status: "error", Error: e, Session: sessionFrom(r).ID})
}

// fail maps err to its code and status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := errkind.Code(err)
	status := errkind.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "error", err)
	}
	if errkind.Retriable(code) {
		w.Header().Set("Retry-After", "1")
	}
	s.writeError(w, r, status, &Error{Code: code, Message: err.Error(), Retriable: errkind.Retriable(code)})
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &message.SchemaError{Field: "body", Reason: "malformed JSON", Err: err}
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	name, err := message.ParseCollection(mux.Vars(r)["name"])
	if err == nil && name == message.CollectionArchive {
		err = &message.SchemaError{Field: "collection", Reason: "archive batches are read by name"}
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	col, err := s.engine.Store().Read(r.Context(), name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, col)
}

type located struct {
	Collection message.Collection `json:"collection"`
	Message    message.Message    `json:"message"`
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	m, col, err := s.engine.Locate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, located{Collection: col, Message: m})
}

type transitionBody struct {
	Action message.Action `json:"action"`
	Tags   []string       `json:"tags,omitempty"`
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	if err := decode(r, &body); err != nil {
		s.fail(w, r, err)
		return
	}
	action, err := message.ParseAction(string(body.Action))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	id := mux.Vars(r)["id"]
	sess := sessionFrom(r)

	if action == message.ActionPublish && s.publisher != nil {
		if len(body.Tags) > 0 {
			s.fail(w, r, &message.SchemaError{Field: "tags", Reason: "tags are only accepted with approve"})
			return
		}
		if _, err := s.publisher.PublishOne(r.Context(), sess, id); err != nil {
			s.fail(w, r, err)
			return
		}
		m, col, err := s.engine.Locate(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.writeJSON(w, r, http.StatusOK, located{Collection: col, Message: m})
		return
	}

	m, err := s.engine.Apply(r.Context(), sess, message.TransitionRequest{ID: id, Action: action, Tags: body.Tags})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, located{Collection: message.CollectionFor(m.Status), Message: m})
}

func (s *Server) preview(w http.ResponseWriter, r *http.Request) {
	m, _, err := s.engine.Locate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	html, err := site.Preview(project.Project(m))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	name, err := message.ParseCollection(mux.Vars(r)["name"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limits := s.limits
	if err := decode(r, &limits); err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.policy.Sweep(r.Context(), sessionFrom(r), name, limits.MaxActive, limits.MaxAgeDays)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, report)
}

func (s *Server) recoverIntents(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Recover(r.Context(), sessionFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, report)
}

// Package httpapi is the HTTP boundary enumerated in spec.md §6: a thin
// gorilla/mux router translating requests into calls on the core
// components (TriageAPI, NotificationDispatcher, TicketSync, Correlator).
// HTML rendering, session persistence, and OAuth login are external
// collaborators (spec.md §2); this package only implements the operation
// contracts and returns JSON/plain-text where the original surface would
// have rendered a template.
//
// Grounded on the teacher's presentation/controllers pattern
// (modules/crm/presentation/controllers/twilio_controller.go): a
// Register(r *mux.Router) method per controller, wired into one top-level
// router by the process entrypoint.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/paperwatch/traceline/internal/correlate"
	"github.com/paperwatch/traceline/internal/domain"
	"github.com/paperwatch/traceline/internal/notify"
	"github.com/paperwatch/traceline/internal/ticketsync"
	"github.com/paperwatch/traceline/internal/triage"
	"github.com/paperwatch/traceline/pkg/cache"
	"github.com/paperwatch/traceline/pkg/scheduler"
)

const sessionCookie = "traceline_session"

// healthChecker is the subset of internal/store.Store the healthcheck
// needs: a cheap read that proves the index is reachable.
type healthChecker interface {
	GetTracebacks(ctx context.Context, startDate, endDate *time.Time, limit int) ([]domain.Traceback, error)
}

// tracebackReader is the subset of internal/store.Store the ticket-creation
// and formatted-list handlers read through.
type tracebackReader interface {
	GetTraceback(ctx context.Context, id string) (domain.Traceback, bool, error)
}

// Server holds every collaborator the HTTP boundary dispatches to.
type Server struct {
	triage     *triage.API
	correlator *correlate.Correlator
	dispatcher *notify.Dispatcher
	ticketSync *ticketsync.TicketSync
	scheduler  *scheduler.Scheduler
	cache      cache.Coordinator
	tracebacks tracebackReader
	health     healthChecker
	redis      *redis.Client
	logger     *logrus.Logger

	healthTimeout time.Duration
}

func NewServer(
	triageAPI *triage.API,
	correlator *correlate.Correlator,
	dispatcher *notify.Dispatcher,
	ticketSync *ticketsync.TicketSync,
	sched *scheduler.Scheduler,
	coord cache.Coordinator,
	tracebacks tracebackReader,
	health healthChecker,
	redisClient *redis.Client,
	logger *logrus.Logger,
) *Server {
	return &Server{
		triage:        triageAPI,
		correlator:    correlator,
		dispatcher:    dispatcher,
		ticketSync:    ticketSync,
		scheduler:     sched,
		cache:         coord,
		tracebacks:    tracebacks,
		health:        health,
		redis:         redisClient,
		logger:        logger,
		healthTimeout: time.Second,
	}
}

// Register wires every route named in spec.md §6 onto r.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc("/", s.handleListDay).Methods(http.MethodGet)
	r.HandleFunc("/api/parse_s3", s.handleParseS3).Methods(http.MethodPost)
	r.HandleFunc("/api/parse_s3_day", s.handleParseS3Day).Methods(http.MethodPost)
	r.HandleFunc("/api/parse_s3_date_range", s.handleParseS3DateRange).Methods(http.MethodPost)
	r.HandleFunc("/realtime_update", s.handleRealtimeUpdate).Methods(http.MethodPost)
	r.HandleFunc("/hide_traceback", s.handleHideTraceback).Methods(http.MethodPost)
	r.HandleFunc("/restore_all", s.handleRestoreAll).Methods(http.MethodPost)
	r.HandleFunc("/create_jira_ticket", s.handleCreateJiraTicket).Methods(http.MethodPost)
	r.HandleFunc("/jira_comment", s.handleJiraComment).Methods(http.MethodPost)
	r.HandleFunc("/jira_formatted_list/{id}", s.handleJiraFormattedList).Methods(http.MethodGet)
	r.HandleFunc("/slack-callback", s.handleSlackCallback).Methods(http.MethodPost)
	r.HandleFunc("/api/update_jira_db", s.handleUpdateJiraDB).Methods(http.MethodPut)
	r.HandleFunc("/api/invalidate_cache", s.handleInvalidateCache).Methods(http.MethodPut)
	r.HandleFunc("/api/invalidate_cache/{name}", s.handleInvalidateCache).Methods(http.MethodPut)
	r.HandleFunc("/api/purge_queue", s.handlePurgeQueue).Methods(http.MethodPut)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
}

// Key matches the teacher's controller-registry convention.
func (s *Server) Key() string { return "TriageHTTPServer" }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: id, Path: "/", HttpOnly: true})
	return id
}

// GET / : the boundary for list_day(days_ago, filter). HTML rendering is
// an external collaborator; this returns the same correlate.Result set a
// template would consume.
func (s *Server) handleListDay(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := s.sessionID(w, r)

	daysAgo := 0
	if v := r.URL.Query().Get("days_ago"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			daysAgo = n
		}
	}
	filter := correlate.Filter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = correlate.FilterAll
	}

	results, err := s.triage.ListDay(ctx, sessionID, daysAgo, filter, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleParseS3(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bucket string `json:"bucket"`
		Key    string `json:"key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.triage.IngestArchive(r.Context(), req.Bucket, req.Key); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleParseS3Day(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	if err := s.triage.IngestDay(r.Context(), date); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleParseS3DateRange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		http.Error(w, "invalid start_date", http.StatusBadRequest)
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		http.Error(w, "invalid end_date", http.StatusBadRequest)
		return
	}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := s.triage.IngestDay(r.Context(), d); err != nil {
			s.writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRealtimeUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EndTime string `json:"end_time"`
	}
	decodeOptionalJSON(r, &req)
	var endTime time.Time
	if req.EndTime != "" {
		if t, err := time.Parse(time.RFC3339, req.EndTime); err == nil {
			endTime = t
		}
	}
	if err := s.triage.EnqueueRealtime(r.Context(), endTime); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHideTraceback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TracebackText string `json:"traceback_text"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	s.triage.HideTraceback(s.sessionID(w, r), req.TracebackText)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRestoreAll(w http.ResponseWriter, r *http.Request) {
	s.triage.RestoreAll(s.sessionID(w, r))
	w.WriteHeader(http.StatusOK)
}

// handleCreateJiraTicket implements POST /create_jira_ticket: synchronous
// ticket creation, title/description built from the correlated traceback
// the way jira_issue_aservice.py's create_title/create_description do.
func (s *Server) handleCreateJiraTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginPapertrailID string `json:"origin_papertrail_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	tb, found, err := s.tracebacks.GetTraceback(ctx, req.OriginPapertrailID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "traceback not found", http.StatusNotFound)
		return
	}
	result, err := s.correlator.Correlate(ctx, tb)
	if err != nil {
		s.writeError(w, err)
		return
	}
	fields := triage.BuildTicketFields(tb, result.SimilarTracebacks)
	key, err := s.triage.CreateTicket(ctx, tb, fields)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(key))
}

func (s *Server) handleJiraComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OriginPapertrailID string `json:"origin_papertrail_id"`
		IssueKey           string `json:"issue_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	tb, found, err := s.tracebacks.GetTraceback(ctx, req.OriginPapertrailID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "traceback not found", http.StatusNotFound)
		return
	}
	result, err := s.correlator.Correlate(ctx, tb)
	if err != nil {
		s.writeError(w, err)
		return
	}
	all := append([]domain.Traceback{tb}, result.SimilarTracebacks...)
	key, err := s.triage.CommentOnTicket(ctx, req.IssueKey, triage.CommentWithHitsList(all))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(key))
}

// handleJiraFormattedList implements GET /jira_formatted_list/<id>: the
// hits list for id's traceback text, in the same link-per-line shape
// create_comment_with_hits_list renders into a comment body.
func (s *Server) handleJiraFormattedList(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx := r.Context()
	tb, found, err := s.tracebacks.GetTraceback(ctx, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		http.Error(w, "traceback not found", http.StatusNotFound)
		return
	}
	result, err := s.correlator.Correlate(ctx, tb)
	if err != nil {
		s.writeError(w, err)
		return
	}
	all := append([]domain.Traceback{tb}, result.SimilarTracebacks...)
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(triage.HitsList(all)))
}

// handleSlackCallback implements POST /slack-callback per spec.md §6: the
// form field "payload" is a URL-encoded JSON object, either an action
// dispatch or a type-ahead option-load request.
func (s *Server) handleSlackCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}
	raw := r.FormValue("payload")

	var actionPayload struct {
		CallbackID string `json:"callback_id"`
		Actions    []struct {
			Name           string `json:"name"`
			SelectedOptions []struct {
				Value string `json:"value"`
			} `json:"selected_options"`
		} `json:"actions"`
	}
	if err := json.Unmarshal([]byte(raw), &actionPayload); err == nil && len(actionPayload.Actions) > 0 {
		s.handleSlackAction(w, r, actionPayload.CallbackID, actionPayload.Actions[0].Name, firstSelectedValue(actionPayload.Actions[0].SelectedOptions))
		return
	}

	var optionLoad struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := json.Unmarshal([]byte(raw), &optionLoad); err == nil && optionLoad.Name != "" {
		opts, err := s.dispatcher.TypeAhead(r.Context(), optionLoad.Value)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"options": opts})
		return
	}

	http.Error(w, "unrecognized callback payload", http.StatusBadRequest)
}

func firstSelectedValue(opts []struct {
	Value string `json:"value"`
}) string {
	if len(opts) == 0 {
		return ""
	}
	return opts[0].Value
}

func (s *Server) handleSlackAction(w http.ResponseWriter, r *http.Request, originID, action, value string) {
	ctx := r.Context()
	var err error
	switch action {
	case notify.ActionCreateTicket:
		err = s.dispatcher.HandleCreateTicket(ctx, s.scheduler, originID, value)
	case notify.ActionAddToExisting:
		err = s.dispatcher.HandleAddToExistingTicket(ctx, s.scheduler, value, originID)
	default:
		http.Error(w, "unrecognized action", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleUpdateJiraDB implements PUT /api/update_jira_db: {issue_key} xor
// {all:true}.
func (s *Server) handleUpdateJiraDB(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IssueKey string `json:"issue_key"`
		All      bool   `json:"all"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()
	if req.All {
		if err := s.ticketSync.UpdateAllTickets(ctx, "project = "+req.IssueKey, s.scheduler); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if req.IssueKey == "" {
		http.Error(w, "issue_key or all required", http.StatusBadRequest)
		return
	}
	if err := s.ticketSync.UpdateTicket(ctx, req.IssueKey, true); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	region := cache.RegionTraceback
	switch name {
	case "", string(cache.RegionTraceback):
		region = cache.RegionTraceback
	case string(cache.RegionJira):
		region = cache.RegionJira
	default:
		http.Error(w, "unknown cache region", http.StatusBadRequest)
		return
	}
	if err := s.cache.Invalidate(r.Context(), region); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePurgeQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.Purge(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleHealthz implements GET /healthz: 200 when the index and Redis are
// both reachable within the default 1s budget (spec.md §5).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.healthTimeout)
	defer cancel()

	if _, err := s.health.GetTracebacks(ctx, nil, nil, 1); err != nil {
		http.Error(w, "index unreachable", http.StatusServiceUnavailable)
		return
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// decodeOptionalJSON decodes an empty or absent body as a no-op, since
// some operations (realtime_update) accept a body with every field
// optional, including no body at all.
func decodeOptionalJSON(r *http.Request, v any) {
	if r.Body == nil {
		return
	}
	_ = json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch domain.KindOf(err) {
	case domain.KindNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case domain.KindAuthz:
		http.Error(w, err.Error(), http.StatusForbidden)
	case domain.KindPermanentInput:
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.WithError(err).Error("httpapi: request failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Ticket summary/description/comment content (BuildTicketFields,
// CommentWithHitsList, HitsList) is built by internal/triage, shared with
// the create_ticket/create_comment_on_existing_ticket scheduled tasks.

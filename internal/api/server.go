package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/oxenfxc/bilibili-autoreply/internal/biz/domain"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/repo"
	"github.com/oxenfxc/bilibili-autoreply/internal/biz/usecase"
	"github.com/oxenfxc/bilibili-autoreply/internal/engine"
)

// Defaults are filled into rule create requests that omit the fields
type Defaults struct {
	MatchType     domain.MatchType
	CaseSensitive bool
}

// Server is the local control API: account lifecycle, rule CRUD, stats
// and throttle views, prometheus metrics.
type Server struct {
	accounts   repo.AccountRepo
	rules      *usecase.RuleStore
	stats      *usecase.StatsCollector
	replyLogs  repo.ReplyLogRepo
	dispatcher *engine.Dispatcher
	defaults   Defaults
	log        zerolog.Logger

	server *http.Server
	port   int
}

// NewServer wires the control API
func NewServer(
	accounts repo.AccountRepo,
	rules *usecase.RuleStore,
	stats *usecase.StatsCollector,
	replyLogs repo.ReplyLogRepo,
	dispatcher *engine.Dispatcher,
	defaults Defaults,
	port int,
	log zerolog.Logger,
) *Server {
	return &Server{
		accounts:   accounts,
		rules:      rules,
		stats:      stats,
		replyLogs:  replyLogs,
		dispatcher: dispatcher,
		defaults:   defaults,
		port:       port,
		log:        log,
	}
}

// Router builds the route table. Split out so tests can drive handlers
// without a listening socket.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/accounts", s.handleListAccounts).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{uid}", s.handleGetAccount).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{uid}/settings", s.handleUpdateSettings).Methods(http.MethodPut)
	r.HandleFunc("/api/accounts/{uid}/start", s.handleStartAccount).Methods(http.MethodPost)
	r.HandleFunc("/api/accounts/{uid}/stop", s.handleStopAccount).Methods(http.MethodPost)

	r.HandleFunc("/api/accounts/{uid}/rules", s.handleListRules).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{uid}/rules", s.handleCreateRule).Methods(http.MethodPost)
	r.HandleFunc("/api/accounts/{uid}/rules/{id}", s.handleGetRule).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{uid}/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	r.HandleFunc("/api/accounts/{uid}/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)
	r.HandleFunc("/api/accounts/{uid}/rules/{id}/enabled", s.handleSetRuleEnabled).Methods(http.MethodPut)

	r.HandleFunc("/api/accounts/{uid}/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/api/accounts/{uid}/throttle", s.handleThrottle).Methods(http.MethodGet)

	return r
}

// Start runs the HTTP server until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler: s.Router(),
	}
	s.log.Info().Int("port", s.port).Msg("control API listening")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// ============ Accounts ============

type accountView struct {
	UID      string               `json:"uid"`
	Name     string               `json:"name"`
	Active   bool                 `json:"active"`
	Running  bool                 `json:"running"`
	Settings domain.ReplySettings `json:"settings"`
}

func (s *Server) accountToView(acct *domain.Account) accountView {
	return accountView{
		UID:      acct.UID,
		Name:     acct.Name,
		Active:   acct.Active,
		Running:  s.dispatcher.Running(acct.UID),
		Settings: acct.Settings,
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.accounts.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]accountView, len(accounts))
	for i, acct := range accounts {
		views[i] = s.accountToView(acct)
	}
	s.writeJSON(w, map[string]interface{}{"accounts": views})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.loadAccount(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, s.accountToView(acct))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.loadAccount(w, r)
	if !ok {
		return
	}

	settings := acct.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := settings.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.accounts.UpdateSettings(r.Context(), acct.UID, settings); err != nil {
		s.writeError(w, err)
		return
	}
	// A running poller keeps its old pacing until restarted.
	s.writeJSON(w, map[string]interface{}{"success": true, "restart_required": s.dispatcher.Running(acct.UID)})
}

func (s *Server) handleStartAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := s.loadAccount(w, r)
	if !ok {
		return
	}
	if !acct.Active {
		http.Error(w, "account is deactivated, log in again first", http.StatusConflict)
		return
	}
	if err := s.dispatcher.StartAccount(r.Context(), acct); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleStopAccount(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	s.dispatcher.StopAccount(uid)
	s.writeJSON(w, map[string]interface{}{"success": true})
}

// ============ Rules ============

type ruleRequest struct {
	Keyword       string  `json:"keyword"`
	ReplyContent  string  `json:"reply_content"`
	MatchType     *string `json:"match_type"`
	CaseSensitive *bool   `json:"case_sensitive"`
	Enabled       *bool   `json:"enabled"`
	Priority      int     `json:"priority"`
	Description   string  `json:"description"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	rules, err := s.rules.List(r.Context(), uid)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"rules": rules})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rule := s.ruleFromRequest(uid, &req)
	id, err := s.rules.Save(r.Context(), rule)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, map[string]interface{}{"id": id})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := s.ruleVars(w, r)
	if !ok {
		return
	}
	rule, err := s.rules.Get(r.Context(), uid, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rule == nil {
		http.Error(w, "rule not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := s.ruleVars(w, r)
	if !ok {
		return
	}
	existing, err := s.rules.Get(r.Context(), uid, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if existing == nil {
		http.Error(w, "rule not found", http.StatusNotFound)
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rule := s.ruleFromRequest(uid, &req)
	rule.ID = id
	rule.CreatedAt = existing.CreatedAt
	if _, err := s.rules.Save(r.Context(), rule); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := s.ruleVars(w, r)
	if !ok {
		return
	}
	if err := s.rules.Delete(r.Context(), uid, id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleSetRuleEnabled(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := s.ruleVars(w, r)
	if !ok {
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.rules.SetEnabled(r.Context(), uid, id, req.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

// ruleFromRequest applies the configured defaults to omitted fields
func (s *Server) ruleFromRequest(uid string, req *ruleRequest) *domain.Rule {
	rule := &domain.Rule{
		AccountUID:    uid,
		Keyword:       req.Keyword,
		ReplyContent:  req.ReplyContent,
		MatchType:     s.defaults.MatchType,
		CaseSensitive: s.defaults.CaseSensitive,
		Enabled:       true,
		Priority:      req.Priority,
		Description:   req.Description,
	}
	if req.MatchType != nil {
		rule.MatchType = domain.MatchType(*req.MatchType)
	}
	if req.CaseSensitive != nil {
		rule.CaseSensitive = *req.CaseSensitive
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	return rule
}

// ============ Stats and throttle ============

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]

	limit := 50
	if l := r.URL.Query().Get("recent"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	recent, err := s.replyLogs.Recent(r.Context(), uid, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"aggregates": s.stats.ForAccount(uid),
		"recent":     recent,
	})
}

func (s *Server) handleThrottle(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	states, running := s.dispatcher.ThrottleSnapshot(uid)
	s.writeJSON(w, map[string]interface{}{
		"running": running,
		"talkers": states,
	})
}

// ============ Helpers ============

func (s *Server) loadAccount(w http.ResponseWriter, r *http.Request) (*domain.Account, bool) {
	uid := mux.Vars(r)["uid"]
	acct, err := s.accounts.Get(r.Context(), uid)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	if acct == nil {
		http.Error(w, "account not found", http.StatusNotFound)
		return nil, false
	}
	return acct, true
}

func (s *Server) ruleVars(w http.ResponseWriter, r *http.Request) (uid string, id int64, ok bool) {
	vars := mux.Vars(r)
	uid = vars["uid"]
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return "", 0, false
	}
	return uid, id, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.log.Error().Err(err).Msg("request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

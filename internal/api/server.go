// Package api serves the read-side HTTP surface and a bearer-token admin
// endpoint. Reads funnel through the game loop like every other op, with a
// short response cache to keep hot polling off the loop.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"herovault.gg/internal/core/game"
	"herovault.gg/internal/protocol"
)

// Doer submits ops to the game loop.
type Doer interface {
	Do(ctx context.Context, op protocol.OpMsg) (protocol.ResultMsg, error)
}

// AuditReader serves the audit history endpoints. May be nil.
type AuditReader interface {
	RecentAudits(limit int) ([]game.AuditEntry, error)
	AuditsByCaller(caller string, limit int) ([]game.AuditEntry, error)
}

// readCaller tags loop ops issued on behalf of anonymous HTTP reads.
const readCaller = "api"

type Server struct {
	game       Doer
	audits     AuditReader
	adminToken string
	log        *zap.Logger
	cache      *cache.Cache
}

func NewServer(g Doer, audits AuditReader, adminToken string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		game:       g,
		audits:     audits,
		adminToken: adminToken,
		log:        log,
		cache:      cache.New(2*time.Second, time.Minute),
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/market/listings", s.cached(s.handleListings)).Methods(http.MethodGet)
	r.HandleFunc("/v1/boxes/{id:[0-9]+}", s.cached(s.handleBoxInfo)).Methods(http.MethodGet)
	r.HandleFunc("/v1/boxes/{id:[0-9]+}/supply", s.cached(s.handleBoxSupply)).Methods(http.MethodGet)
	r.HandleFunc("/v1/tokens/{asset}/balances/{owner}", s.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/v1/registries/{registry}/owners/{owner}/tokens", s.handleTokensOf).Methods(http.MethodGet)
	r.HandleFunc("/v1/audits", s.handleAudits).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/op", s.requireAdmin(s.handleAdminOp)).Methods(http.MethodPost)
	return r
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrAccessDenied, protocol.ErrNotAuthorized, protocol.ErrNotOwner:
		return http.StatusForbidden
	case protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusUnprocessableEntity
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) do(w http.ResponseWriter, r *http.Request, op protocol.OpMsg) {
	op.Type = protocol.TypeOp
	op.ProtocolVersion = protocol.Version
	res, err := s.game.Do(r.Context(), op)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "code": protocol.ErrProtoBadRequest, "message": "game unavailable"})
		return
	}
	if !res.OK {
		writeJSON(w, statusFor(res.Code), map[string]any{"ok": false, "code": res.Code, "message": res.Message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": res.Data})
}

// cached replays the last good body for identical URLs for a couple of
// seconds. Only successful responses are stored.
func (s *Server) cached(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.String()
		if body, ok := s.cache.Get(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(body.([]byte))
			return
		}
		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		if rec.status == http.StatusOK {
			s.cache.Set(key, append([]byte(nil), rec.body...), cache.DefaultExpiration)
		}
	}
}

type recorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == http.StatusOK {
		r.body = append(r.body, b...)
	}
	return r.ResponseWriter.Write(b)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	s.do(w, r, protocol.OpMsg{Op: protocol.OpMarketListings, Caller: readCaller})
}

func pathID(r *http.Request) uint64 {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	return id
}

func (s *Server) handleBoxInfo(w http.ResponseWriter, r *http.Request) {
	s.do(w, r, protocol.OpMsg{Op: protocol.OpBoxInfo, Caller: readCaller, BoxID: pathID(r)})
}

func (s *Server) handleBoxSupply(w http.ResponseWriter, r *http.Request) {
	s.do(w, r, protocol.OpMsg{Op: protocol.OpBoxLeftSupply, Caller: readCaller, BoxID: pathID(r)})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	asset := vars["asset"]
	if asset == "native" {
		asset = ""
	}
	s.do(w, r, protocol.OpMsg{Op: protocol.OpTokenBalance, Caller: readCaller, Asset: asset, Owner: vars["owner"]})
}

func (s *Server) handleTokensOf(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cursor, _ := strconv.ParseUint(r.URL.Query().Get("cursor"), 10, 64)
	size, err := strconv.ParseUint(r.URL.Query().Get("size"), 10, 64)
	if err != nil || size == 0 {
		size = 50
	}
	s.do(w, r, protocol.OpMsg{
		Op:       protocol.OpRegistryTokensOf,
		Caller:   readCaller,
		Registry: vars["registry"],
		Owner:    vars["owner"],
		Cursor:   cursor,
		Size:     size,
	})
}

func (s *Server) handleAudits(w http.ResponseWriter, r *http.Request) {
	if s.audits == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false, "code": protocol.ErrNotFound, "message": "audit index not enabled"})
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 || limit > 1000 {
		limit = 100
	}
	var (
		entries []game.AuditEntry
		qerr    error
	)
	if caller := r.URL.Query().Get("caller"); caller != "" {
		entries, qerr = s.audits.AuditsByCaller(caller, limit)
	} else {
		entries, qerr = s.audits.RecentAudits(limit)
	}
	if qerr != nil {
		s.log.Error("audit query failed", zap.Error(qerr))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "message": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": map[string]any{"audits": entries}})
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const prefix = "Bearer "
		auth := r.Header.Get("Authorization")
		if s.adminToken == "" || !strings.HasPrefix(auth, prefix) || strings.TrimPrefix(auth, prefix) != s.adminToken {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "message": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// handleAdminOp forwards a raw OP frame into the loop. The frame still
// carries its own caller; the bearer token only gates the transport.
func (s *Server) handleAdminOp(w http.ResponseWriter, r *http.Request) {
	var op protocol.OpMsg
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "code": protocol.ErrProtoBadRequest, "message": "malformed body"})
		return
	}
	s.do(w, r, op)
}

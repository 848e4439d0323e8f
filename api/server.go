// Package api serves the read-only HTTP surface of the node. It exposes
// clean REST endpoints for gateways and dashboards to query protocol
// state: events, proposals, disputes, stakes, slashing records, reward
// pools and arbitrator reputation. Uses Gorilla Mux for routing with CORS
// support and a token-bucket rate limit on every request.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/UncleTom29/predictlink-evm/config"
	"github.com/UncleTom29/predictlink-evm/core/ledger"
	"github.com/UncleTom29/predictlink-evm/core/state"
	"github.com/UncleTom29/predictlink-evm/metrics"
	"github.com/UncleTom29/predictlink-evm/oracle/arbitration"
	"github.com/UncleTom29/predictlink-evm/oracle/lifecycle"
	"github.com/UncleTom29/predictlink-evm/rewards"
	"github.com/UncleTom29/predictlink-evm/staking"
	"github.com/UncleTom29/predictlink-evm/staking/slashing"
)

var log = logging.Logger("api")

// Server is the HTTP API server
type Server struct {
	cfg         *config.Config
	state       *state.ProtocolState
	lifecycle   *lifecycle.Manager
	arbitration *arbitration.Manager
	staking     *staking.Manager
	slashing    *slashing.Governor
	rewards     *rewards.Distributor
	metrics     *metrics.Metrics

	router  *mux.Router
	server  *http.Server
	limiter *rate.Limiter
}

// NewServer creates the API server over the assembled protocol components
func NewServer(cfg *config.Config, st *state.ProtocolState, lc *lifecycle.Manager,
	arb *arbitration.Manager, stk *staking.Manager, slh *slashing.Governor,
	rwd *rewards.Distributor, mtr *metrics.Metrics) *Server {

	s := &Server{
		cfg:         cfg,
		state:       st,
		lifecycle:   lc,
		arbitration: arb,
		staking:     stk,
		slashing:    slh,
		rewards:     rwd,
		metrics:     mtr,
		limiter:     rate.NewLimiter(rate.Limit(cfg.API.RateLimit), cfg.API.RateBurst),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Oracle lifecycle endpoints
	api.HandleFunc("/events/{id}", s.getEvent).Methods("GET")
	api.HandleFunc("/events/{id}/proposal", s.getActiveProposal).Methods("GET")
	api.HandleFunc("/proposals/{id}", s.getProposal).Methods("GET")
	api.HandleFunc("/proposals/{id}/disputes", s.getProposalDisputes).Methods("GET")
	api.HandleFunc("/disputes/{id}", s.getDispute).Methods("GET")
	api.HandleFunc("/disputes/{id}/voting", s.getVoting).Methods("GET")

	// Staking endpoints
	api.HandleFunc("/stakes/{address}", s.getStake).Methods("GET")
	api.HandleFunc("/accounts/{address}/balance", s.getBalance).Methods("GET")

	// Slashing endpoints
	api.HandleFunc("/slashing/requests/{id}", s.getSlashingRequest).Methods("GET")
	api.HandleFunc("/slashing/history/{address}", s.getSlashingHistory).Methods("GET")

	// Reward pool endpoints
	api.HandleFunc("/pools/{id}", s.getPool).Methods("GET")
	api.HandleFunc("/pools/{id}/participants/{address}", s.getParticipant).Methods("GET")

	// Arbitration endpoints
	api.HandleFunc("/arbitrators/{address}/reputation", s.getReputation).Methods("GET")

	// Status endpoints
	api.HandleFunc("/status", s.getStatus).Methods("GET")
	api.HandleFunc("/health", s.getHealth).Methods("GET")

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	if s.cfg.API.EnableCORS {
		c := cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		})
		s.router.Use(c.Handler)
	}

	s.router.Use(s.rateLimitMiddleware)
	s.router.Use(s.loggingMiddleware)
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.API.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infow("api server starting", "addr", s.cfg.API.ListenAddr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Router exposes the mux for tests
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debugw("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

// Oracle lifecycle endpoints

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.lifecycle.GetEvent(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "event not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, event)
}

func (s *Server) getActiveProposal(w http.ResponseWriter, r *http.Request) {
	proposal, active := s.lifecycle.ActiveProposal(mux.Vars(r)["id"])
	if !active {
		s.writeError(w, "no active proposal", http.StatusNotFound)
		return
	}
	s.writeJSON(w, proposal)
}

func (s *Server) getProposal(w http.ResponseWriter, r *http.Request) {
	proposal, err := s.lifecycle.GetProposal(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "proposal not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, proposal)
}

func (s *Server) getProposalDisputes(w http.ResponseWriter, r *http.Request) {
	proposalID := mux.Vars(r)["id"]
	disputes := s.lifecycle.DisputesForProposal(proposalID)
	s.writeJSON(w, map[string]interface{}{
		"proposal_id": proposalID,
		"disputes":    disputes,
		"count":       len(disputes),
	})
}

func (s *Server) getDispute(w http.ResponseWriter, r *http.Request) {
	dispute, err := s.lifecycle.GetDispute(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "dispute not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, dispute)
}

func (s *Server) getVoting(w http.ResponseWriter, r *http.Request) {
	voting, err := s.arbitration.GetVoting(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "voting session not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, voting)
}

// Staking endpoints

func (s *Server) getStake(w http.ResponseWriter, r *http.Request) {
	stake, err := s.staking.GetStake(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, "no stake for address", http.StatusNotFound)
		return
	}
	s.writeJSON(w, stake)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	s.writeJSON(w, map[string]interface{}{
		"address": address,
		"balance": s.state.Ledger().Balance(address),
	})
}

// Slashing endpoints

func (s *Server) getSlashingRequest(w http.ResponseWriter, r *http.Request) {
	request, err := s.slashing.GetRequest(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "slashing request not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, request)
}

func (s *Server) getSlashingHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	history, err := s.slashing.GetHistory(address)
	if err != nil {
		s.writeJSON(w, map[string]interface{}{
			"target":         address,
			"total_slashed":  0,
			"slashing_count": 0,
		})
		return
	}
	s.writeJSON(w, history)
}

// Reward pool endpoints

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	pool, err := s.rewards.GetPool(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "reward pool not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, pool)
}

func (s *Server) getParticipant(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	participant, err := s.rewards.GetParticipant(vars["id"], vars["address"])
	if err != nil {
		s.writeError(w, "participant not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, participant)
}

// Arbitration endpoints

func (s *Server) getReputation(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	s.writeJSON(w, map[string]interface{}{
		"arbitrator": address,
		"reputation": s.arbitration.Reputation(address),
	})
}

// Status endpoints

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	eventCount, proposalCount, disputeCount := s.lifecycle.Counts()

	s.writeJSON(w, map[string]interface{}{
		"node_id":       s.cfg.NodeID,
		"state_root":    s.state.StateRoot(),
		"total_supply":  s.state.Ledger().TotalSupply(),
		"total_staked":  s.staking.TotalStaked(),
		"treasury":      s.state.Ledger().Balance(ledger.TreasuryAccount),
		"events":        eventCount,
		"proposals":     proposalCount,
		"disputes":      disputeCount,
		"votings":       s.arbitration.VotingCount(),
		"reward_pools":  s.rewards.PoolCount(),
		"staker_count":  s.staking.StakerCount(),
		"event_entries": s.state.EventLog().Len(),
	})
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.state.ValidateConsistency(); err != nil {
		s.writeError(w, fmt.Sprintf("state inconsistent: %v", err), http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Response helpers

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Errorw("failed to encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
		"code":  code,
	})
}

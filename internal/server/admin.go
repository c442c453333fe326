package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"battleground/internal/battle"
	"battleground/internal/constants"
	"battleground/internal/domain"
	"battleground/internal/service"

	"github.com/rs/zerolog"
)

// AdminServer is the JSON control surface: battles are created, listed,
// inspected and torn down here, and players can be queued on their
// behalf. Gameplay itself flows through the collaborator ports, not HTTP.
type AdminServer struct {
	orch   *service.Orchestrator
	logger zerolog.Logger
}

func NewAdminServer(orch *service.Orchestrator, logger zerolog.Logger) *AdminServer {
	return &AdminServer{orch: orch, logger: logger}
}

// Routes registers every handler on the mux.
func (s *AdminServer) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/battles", s.handleListBattles)
	mux.HandleFunc("POST /api/v1/battles", s.handleCreateBattle)
	mux.HandleFunc("GET /api/v1/battles/{serial}", s.handleGetBattle)
	mux.HandleFunc("DELETE /api/v1/battles/{serial}", s.handleDeleteBattle)
	mux.HandleFunc("POST /api/v1/battles/{serial}/open", s.handleOpenBattle)
	mux.HandleFunc("POST /api/v1/battles/{serial}/close", s.handleCloseBattle)
	mux.HandleFunc("POST /api/v1/battles/{serial}/queue", s.handleEnqueue)
	mux.HandleFunc("DELETE /api/v1/battles/{serial}/queue/{player}", s.handleDequeue)
	mux.HandleFunc("POST /api/v1/battles/{serial}/accept", s.handleAcceptInvite)
	mux.HandleFunc("GET /api/v1/profiles/{player}", s.handleGetProfile)
	mux.HandleFunc("POST /api/v1/presence/{player}/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/presence/{player}/logout", s.handleLogout)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

type battleSummary struct {
	Serial    string    `json:"serial"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	State     string    `json:"state"`
	Capacity  int       `json:"capacity"`
	QueueLen  int       `json:"queue_len"`
	Teams     []string  `json:"teams"`
	ChangedAt time.Time `json:"changed_at"`
}

type teamDetail struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
	Score   int      `json:"score"`
}

type battleDetail struct {
	battleSummary
	Description string       `json:"description,omitempty"`
	TeamDetails []teamDetail `json:"team_details"`
	Spectators  int          `json:"spectators"`
}

func summarize(b *battle.Battle) battleSummary {
	snap := b.Snapshot()
	names := make([]string, 0, len(snap.Teams))
	for _, t := range snap.Teams {
		names = append(names, t.Name)
	}
	return battleSummary{
		Serial:    snap.Serial.String(),
		Name:      snap.Name,
		Category:  snap.Category,
		State:     snap.State.String(),
		Capacity:  snap.Capacity,
		QueueLen:  snap.QueueLen,
		Teams:     names,
		ChangedAt: snap.LastStateChange,
	}
}

func (s *AdminServer) handleListBattles(w http.ResponseWriter, r *http.Request) {
	live := s.orch.ListBattles()
	out := make([]battleSummary, 0, len(live))
	for _, b := range live {
		out = append(out, summarize(b))
	}
	s.writeJSON(w, http.StatusOK, out)
}

type createBattleRequest struct {
	Name            string                 `json:"name"`
	Description     string                 `json:"description"`
	Category        string                 `json:"category"`
	Teams           []createTeamRequest    `json:"teams"`
	Region          battle.RegionSnapshot  `json:"region"`
	SpectatorRegion *battle.RegionSnapshot `json:"spectator_region,omitempty"`
	Options         *battle.Options        `json:"options,omitempty"`
	Open            bool                   `json:"open"`
}

type createTeamRequest struct {
	Name        string          `json:"name"`
	Color       int             `json:"color"`
	MinCapacity int             `json:"min_capacity"`
	MaxCapacity int             `json:"max_capacity"`
	HomeBase    battle.Location `json:"home_base"`
	SpawnPoint  battle.Location `json:"spawn_point"`
}

func (s *AdminServer) handleCreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	spec := service.BattleSpec{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Region:      req.Region,
		Options:     req.Options,
		Open:        req.Open,
	}
	if req.SpectatorRegion != nil {
		spec.SpectatorRegion = *req.SpectatorRegion
	}
	for _, t := range req.Teams {
		spec.Teams = append(spec.Teams, service.TeamSpec{
			Name:        t.Name,
			Color:       t.Color,
			MinCapacity: t.MinCapacity,
			MaxCapacity: t.MaxCapacity,
			HomeBase:    t.HomeBase,
			SpawnPoint:  t.SpawnPoint,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.RequestTimeout)
	defer cancel()
	b, err := s.orch.CreateBattle(ctx, spec)
	if err != nil {
		s.logger.Warn().Err(err).Str("name", req.Name).Msg("battle creation rejected")
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, summarize(b))
}

func (s *AdminServer) handleGetBattle(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.GetBattle(r.PathValue("serial"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "battle not found")
		return
	}

	snap := b.Snapshot()
	names := make([]string, 0, len(snap.Teams))
	for _, t := range snap.Teams {
		names = append(names, t.Name)
	}
	detail := battleDetail{battleSummary: battleSummary{
		Serial:    snap.Serial.String(),
		Name:      snap.Name,
		Category:  snap.Category,
		State:     snap.State.String(),
		Capacity:  snap.Capacity,
		QueueLen:  snap.QueueLen,
		Teams:     names,
		ChangedAt: snap.LastStateChange,
	}}
	detail.Description = snap.Description
	for _, t := range snap.Teams {
		members := make([]string, 0, len(t.Members))
		for _, m := range t.Members {
			members = append(members, string(m))
		}
		detail.TeamDetails = append(detail.TeamDetails, teamDetail{
			Name:    t.Name,
			Members: members,
			Score:   t.Score,
		})
	}
	detail.Spectators = snap.Spectators
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *AdminServer) handleDeleteBattle(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	if err := s.orch.DeleteBattle(r.Context(), serial); err != nil {
		if errors.Is(err, service.ErrBattleNotFound) {
			s.writeError(w, http.StatusNotFound, "battle not found")
			return
		}
		s.logger.Error().Err(err).Str("serial", serial).Msg("failed to delete battle")
		s.writeError(w, http.StatusInternalServerError, "failed to delete battle")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleOpenBattle(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.GetBattle(r.PathValue("serial"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	if err := b.Open(); err != nil {
		s.writeBattleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summarize(b))
}

func (s *AdminServer) handleCloseBattle(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.GetBattle(r.PathValue("serial"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	b.Close()
	s.writeJSON(w, http.StatusOK, summarize(b))
}

type queueRequest struct {
	Player string `json:"player"`
	Team   string `json:"team,omitempty"`
}

func (s *AdminServer) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.GetBattle(r.PathValue("serial"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Player == "" {
		s.writeError(w, http.StatusBadRequest, "player is required")
		return
	}
	if err := b.Enqueue(battle.PlayerID(req.Player), req.Team); err != nil {
		s.writeBattleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summarize(b))
}

func (s *AdminServer) handleDequeue(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.GetBattle(r.PathValue("serial"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	b.Dequeue(battle.PlayerID(r.PathValue("player")))
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	b, err := s.orch.GetBattle(r.PathValue("serial"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "battle not found")
		return
	}
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Player == "" {
		s.writeError(w, http.StatusBadRequest, "player is required")
		return
	}
	if err := b.AcceptInvite(battle.PlayerID(req.Player)); err != nil {
		s.writeBattleError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summarize(b))
}

type profileResponse struct {
	domain.Profile
	Counters []domain.ProfileCounter `json:"counters,omitempty"`
}

func (s *AdminServer) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	player := r.PathValue("player")
	p, counters, err := s.orch.GetProfile(r.Context(), player)
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			s.writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		s.logger.Error().Err(err).Str("player", player).Msg("failed to load profile")
		s.writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	s.writeJSON(w, http.StatusOK, profileResponse{Profile: *p, Counters: counters})
}

func (s *AdminServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.orch.PlayerLogin(r.PathValue("player"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.orch.PlayerLogout(r.PathValue("player"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeBattleError maps the battle sentinels onto HTTP statuses: protocol
// rejections are conflicts, lifecycle misuse is a bad request.
func (s *AdminServer) writeBattleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, battle.ErrDeleted):
		s.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, battle.ErrNotQueued):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, battle.ErrNotOpen),
		errors.Is(err, battle.ErrInvitesDisabled),
		errors.Is(err, battle.ErrOffline),
		errors.Is(err, battle.ErrInCombat),
		errors.Is(err, battle.ErrAlreadyQueued),
		errors.Is(err, battle.ErrAlreadyJoined),
		errors.Is(err, battle.ErrOtherBattle),
		errors.Is(err, battle.ErrDeserter),
		errors.Is(err, battle.ErrNoTeam),
		errors.Is(err, battle.ErrTeamFull):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}

func (s *AdminServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *AdminServer) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

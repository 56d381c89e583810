package net

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyuha/server/internal/handler"
	"github.com/vyuha/server/internal/oracle"
	"github.com/vyuha/server/internal/world"
)

const maxBody = 64 << 10

type simulationResponse struct {
	State   *world.State `json:"state"`
	Version uint64       `json:"version"`
	Message string       `json:"message,omitempty"`
}

type simulationRequest struct {
	Action   string `json:"action"`
	Scenario string `json:"scenario"`
}

type agentActionRequest struct {
	AgentID string `json:"agentId"`
}

type agentActionResponse struct {
	AgentID  string           `json:"agentId"`
	Decision *oracle.Decision `json:"decision"`
	Delay    int64            `json:"delay"`    // ms
	RestTime int64            `json:"restTime"` // ms
	Message  string           `json:"message"`
	State    *world.State     `json:"state"`
}

type godModeRequest struct {
	Message string `json:"message"`
}

type godModeResponse struct {
	Message   string          `json:"message"`
	Mutations json.RawMessage `json:"mutations"`
	State     *world.State    `json:"state"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Raw     string `json:"raw,omitempty"`
	Details string `json:"details,omitempty"`
}

func (s *Server) handleGetSimulation(w http.ResponseWriter, r *http.Request) {
	st, err := handler.SimulationState(r.Context(), s.deps)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulationResponse{State: st, Version: st.Version})
}

func (s *Server) handlePostSimulation(w http.ResponseWriter, r *http.Request) {
	var req simulationRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		st  *world.State
		msg string
		err error
	)
	switch strings.ToLower(req.Action) {
	case "start":
		st, err = handler.StartSimulation(r.Context(), s.deps)
		msg = "Simulation started"
	case "stop":
		st, err = handler.StopSimulation(r.Context(), s.deps)
		msg = "Simulation stopped"
	case "reset":
		st, err = handler.ResetSimulation(r.Context(), s.deps, req.Scenario)
		msg = "World reset"
	default:
		writeError(w, http.StatusBadRequest, "Invalid action", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulationResponse{State: st, Version: st.Version, Message: msg})
}

func (s *Server) handleAgentAction(w http.ResponseWriter, r *http.Request) {
	var req agentActionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agentId is required", nil)
		return
	}
	res, err := handler.RunTurn(r.Context(), s.deps, req.AgentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agentActionResponse{
		AgentID:  res.AgentID,
		Decision: res.Decision,
		Delay:    res.Delay.Milliseconds(),
		RestTime: res.RestTime.Milliseconds(),
		Message:  res.Message,
		State:    res.State,
	})
}

func (s *Server) handleGodMode(w http.ResponseWriter, r *http.Request) {
	var req godModeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := handler.GodMode(r.Context(), s.deps, req.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, godModeResponse{Message: res.Message, Mutations: res.Mutations, State: res.State})
}

// adminOnly requires a bearer token matching http.admin_token_hash. With
// no hash configured every caller is admitted.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminHash == nil {
			next(w, r)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" || bcrypt.CompareHashAndPassword(s.adminHash, []byte(token)) != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="vyuha"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next(w, r)
	}
}

// fail maps handler errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound *handler.NotFoundError
		decision *handler.DecisionParseError
		god      *handler.GodModeParseError
		oracleE  *handler.OracleError
	)
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "Agent not found", err)
	case errors.As(err, &decision):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Failed to parse agent response", Raw: decision.Raw})
	case errors.As(err, &god):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "Failed to parse LLM response", Raw: god.Raw})
	case errors.Is(err, handler.ErrEmptyCommand):
		writeError(w, http.StatusBadRequest, "Message is required", nil)
	case errors.Is(err, handler.ErrUnknownScenario):
		writeError(w, http.StatusBadRequest, "Unknown scenario", err)
	case errors.As(err, &oracleE):
		s.log.Warn("oracle failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusBadGateway, "Oracle request failed", err)
	case r.Context().Err() != nil:
		// client went away
	default:
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Request failed", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Error: msg}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

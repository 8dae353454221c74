package httpapi

import (
	"net/http"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/agent"
	"github.com/Agora-Build/voxgrid/id"
)

type registerAgentRequest struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (a *API) registerAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	ag, err := a.coord.RegisterAgent(r.Context(), tokenFrom(r.Context()), req.Name, req.Metadata)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ag)
}

type heartbeatRequest struct {
	State agent.State `json:"state,omitempty"`
}

func (a *API) heartbeat(w http.ResponseWriter, r *http.Request) {
	agentID, err := id.ParseAgentID(r.PathValue("agentID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid agent id"})
		return
	}
	var req heartbeatRequest
	if r.ContentLength != 0 {
		if decErr := decodeJSON(r, &req); decErr != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
	}
	if err := a.coord.Heartbeat(r.Context(), tokenFrom(r.Context()), agentID, req.State); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "ok"})
}

func (a *API) listAgents(w http.ResponseWriter, r *http.Request) {
	limit, offset := listOptsFrom(r)
	agents, err := a.coord.ListAgents(r.Context(), agent.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if agents == nil {
		agents = []*agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

type issueTokenRequest struct {
	Region voxgrid.Region `json:"region"`
	Name   string         `json:"name"`
}

type issueTokenResponse struct {
	Token  *agent.Token `json:"token"`
	Secret string       `json:"secret"`
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request) {
	var req issueTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	tok, secret, err := a.coord.IssueToken(r.Context(), req.Region, req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueTokenResponse{Token: tok, Secret: secret})
}

func (a *API) listTokens(w http.ResponseWriter, r *http.Request) {
	limit, offset := listOptsFrom(r)
	tokens, err := a.coord.ListTokens(r.Context(), agent.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []*agent.Token{}
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (a *API) revokeToken(w http.ResponseWriter, r *http.Request) {
	tokenID, err := id.ParseTokenID(r.PathValue("tokenID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid token id"})
		return
	}
	if err := a.coord.RevokeToken(r.Context(), tokenID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusBody{Status: "revoked"})
}

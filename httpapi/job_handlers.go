package httpapi

import (
	"net/http"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/coord"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/job"
)

func (a *API) listPending(w http.ResponseWriter, r *http.Request) {
	limit, offset := listOptsFrom(r)
	jobs, err := a.coord.ListPendingJobs(r.Context(), tokenFrom(r.Context()), job.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

type claimRequest struct {
	AgentID id.AgentID `json:"agent_id"`
}

func (a *API) claimNext(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil || req.AgentID.IsNil() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "agent_id is required"})
		return
	}
	j, err := a.coord.ClaimNext(r.Context(), tokenFrom(r.Context()), req.AgentID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if j == nil {
		// Nothing eligible right now. 204 tells the agent to poll later.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) claimJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid job id"})
		return
	}
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil || req.AgentID.IsNil() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "agent_id is required"})
		return
	}
	j, err := a.coord.Claim(r.Context(), tokenFrom(r.Context()), req.AgentID, jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if j == nil {
		writeJSON(w, http.StatusConflict, statusBody{Status: "already_claimed"})
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type completeRequest struct {
	AgentID id.AgentID        `json:"agent_id"`
	Error   string            `json:"error,omitempty"`
	Results map[string]string `json:"results,omitempty"`
}

func (a *API) completeJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid job id"})
		return
	}
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil || req.AgentID.IsNil() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "agent_id is required"})
		return
	}
	j, err := a.coord.Complete(r.Context(), tokenFrom(r.Context()), req.AgentID, jobID, req.Error, req.Results)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type runWorkflowRequest struct {
	WorkflowID string         `json:"workflow_id"`
	EvalSetID  string         `json:"eval_set_id,omitempty"`
	Region     voxgrid.Region `json:"region"`
	Priority   int            `json:"priority,omitempty"`
	MaxRetries int            `json:"max_retries,omitempty"`
}

func (a *API) runWorkflow(w http.ResponseWriter, r *http.Request) {
	var req runWorkflowRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	if req.WorkflowID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "workflow_id is required"})
		return
	}
	j, err := a.coord.RunWorkflow(r.Context(), coord.EnqueueInput{
		WorkflowID: req.WorkflowID,
		EvalSetID:  req.EvalSetID,
		Region:     req.Region,
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := listOptsFrom(r)
	q := r.URL.Query()
	f := job.Filters{
		Status:     job.Status(q.Get("status")),
		Region:     voxgrid.Region(q.Get("region")),
		WorkflowID: q.Get("workflow_id"),
	}
	if raw := q.Get("schedule_id"); raw != "" {
		scheduleID, err := id.ParseScheduleID(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid schedule id"})
			return
		}
		f.ScheduleID = scheduleID
	}
	jobs, err := a.coord.ListJobs(r.Context(), f, job.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []*job.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (a *API) getJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid job id"})
		return
	}
	j, err := a.coord.GetJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (a *API) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("jobID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid job id"})
		return
	}
	j, err := a.coord.CancelJob(r.Context(), jobID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if j == nil {
		// The job already left pending; the cancel arrived too late.
		writeJSON(w, http.StatusConflict, statusBody{Status: "too_late"})
		return
	}
	writeJSON(w, http.StatusOK, j)
}

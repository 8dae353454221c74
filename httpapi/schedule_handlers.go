package httpapi

import (
	"net/http"
	"time"

	"github.com/Agora-Build/voxgrid"
	"github.com/Agora-Build/voxgrid/coord"
	"github.com/Agora-Build/voxgrid/id"
	"github.com/Agora-Build/voxgrid/schedule"
)

type createScheduleRequest struct {
	WorkflowID     string         `json:"workflow_id"`
	EvalSetID      string         `json:"eval_set_id,omitempty"`
	Region         voxgrid.Region `json:"region"`
	Type           schedule.Type  `json:"type"`
	CronExpression string         `json:"cron_expression,omitempty"`
	Timezone       string         `json:"timezone,omitempty"`
	RunAt          *time.Time     `json:"run_at,omitempty"`
	MaxRuns        int            `json:"max_runs,omitempty"`
}

func (a *API) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	s, err := a.coord.CreateSchedule(r.Context(), coord.CreateScheduleInput{
		WorkflowID:     req.WorkflowID,
		EvalSetID:      req.EvalSetID,
		Region:         req.Region,
		Type:           req.Type,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		RunAt:          req.RunAt,
		MaxRuns:        req.MaxRuns,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) listSchedules(w http.ResponseWriter, r *http.Request) {
	limit, offset := listOptsFrom(r)
	schedules, err := a.coord.ListSchedules(r.Context(), schedule.ListOpts{Limit: limit, Offset: offset})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if schedules == nil {
		schedules = []*schedule.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (a *API) getSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := id.ParseScheduleID(r.PathValue("scheduleID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid schedule id"})
		return
	}
	s, err := a.coord.GetSchedule(r.Context(), scheduleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type updateScheduleRequest struct {
	CronExpression *string `json:"cron_expression,omitempty"`
	Timezone       *string `json:"timezone,omitempty"`
	Enabled        *bool   `json:"enabled,omitempty"`
	MaxRuns        *int    `json:"max_runs,omitempty"`
}

func (a *API) updateSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := id.ParseScheduleID(r.PathValue("scheduleID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid schedule id"})
		return
	}
	var req updateScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	s, err := a.coord.UpdateSchedule(r.Context(), scheduleID, coord.UpdateScheduleInput{
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Enabled:        req.Enabled,
		MaxRuns:        req.MaxRuns,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := id.ParseScheduleID(r.PathValue("scheduleID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid schedule id"})
		return
	}
	if err := a.coord.DeleteSchedule(r.Context(), scheduleID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) runScheduleNow(w http.ResponseWriter, r *http.Request) {
	scheduleID, err := id.ParseScheduleID(r.PathValue("scheduleID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid schedule id"})
		return
	}
	j, err := a.coord.RunScheduleNow(r.Context(), scheduleID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

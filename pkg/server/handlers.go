package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/batchq/pkg/approval"
	bqerrors "github.com/odvcencio/batchq/pkg/errors"
	"github.com/odvcencio/batchq/pkg/jobqueue"
	"github.com/odvcencio/batchq/pkg/tool"
)

// RunView is the JSON shape of a run.
type RunView struct {
	RunID    string           `json:"run_id"`
	Status   string           `json:"status"`
	Size     int              `json:"size"`
	Index    int              `json:"index,omitempty"`
	InFlight []jobqueue.Key   `json:"in_flight,omitempty"`
	Failures int              `json:"failures,omitempty"`
	Results  jobqueue.Results `json:"results,omitempty"`
	Error    string           `json:"error,omitempty"`
	Code     string           `json:"code,omitempty"`
	Started  *time.Time       `json:"started,omitempty"`
	Finished *time.Time       `json:"finished,omitempty"`
}

func snapshotView(snap jobqueue.Snapshot) RunView {
	v := RunView{
		RunID:    snap.RunID,
		Status:   jobqueue.RunStatusRunning,
		Size:     snap.Len,
		Index:    snap.Index,
		InFlight: snap.InFlight,
		Failures: snap.Failures,
		Results:  snap.Results,
	}
	if snap.Finished {
		v.Status = jobqueue.RunStatusCompleted
		if snap.Err != nil {
			v.Status = jobqueue.RunStatusFailed
			v.Error = snap.Err.Error()
			v.Code = string(bqerrors.GetCode(snap.Err))
		}
	}
	return v
}

func recordView(rec jobqueue.RunRecord) RunView {
	v := RunView{
		RunID:  rec.RunID,
		Status: rec.Status,
		Size:   rec.Size,
		Error:  rec.Error,
	}
	if !rec.Started.IsZero() {
		started := rec.Started
		v.Started = &started
	}
	if !rec.Finished.IsZero() {
		finished := rec.Finished
		v.Finished = &finished
	}
	return v
}

// handleSubmitBatch accepts a YAML or JSON batch. With ?wait=true it answers
// when the run finishes; otherwise it answers 202 with the run ID at once.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Queue == nil {
		writeError(w, http.StatusServiceUnavailable, "queue not configured")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		writeErr(w, err)
		return
	}
	batch, err := tool.LoadBatch(bytes.NewReader(body))
	if err != nil {
		writeErr(w, err)
		return
	}
	if batch.Len() == 0 {
		writeError(w, http.StatusBadRequest, "batch has no entries")
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if wait {
		s.runAndWait(r.Context(), w, batch)
		return
	}

	entry := &activeRun{}
	cont := s.cfg.Queue.Run(s.runCtx, batch.Source(), batch, func(err error, results jobqueue.Results) {
		s.mu.Lock()
		entry.done = true
		if entry.id != "" {
			delete(s.active, entry.id)
		}
		s.mu.Unlock()
	})
	snap := cont()

	s.mu.Lock()
	if !entry.done {
		entry.id = snap.RunID
		entry.cont = cont
		s.active[snap.RunID] = entry
	}
	s.mu.Unlock()

	s.logger.Info("batch accepted", "run_id", snap.RunID, "size", snap.Len)
	writeJSON(w, http.StatusAccepted, snapshotView(snap))
}

func (s *Server) runAndWait(ctx context.Context, w http.ResponseWriter, batch *tool.Batch) {
	type outcome struct {
		err     error
		results jobqueue.Results
	}
	done := make(chan outcome, 1)
	cont := s.cfg.Queue.Run(ctx, batch.Source(), batch, func(err error, results jobqueue.Results) {
		done <- outcome{err: err, results: results}
	})

	select {
	case o := <-done:
		snap := cont()
		view := snapshotView(snap)
		view.Results = o.results
		if o.err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, view)
			return
		}
		writeJSON(w, http.StatusOK, view)
	case <-ctx.Done():
		// Client went away; the run is cancelled through ctx.
	}
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	s.mu.Lock()
	entry, ok := s.active[runID]
	s.mu.Unlock()
	if ok {
		writeJSON(w, http.StatusOK, snapshotView(entry.cont()))
		return
	}

	if s.cfg.Store == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	rec, err := s.cfg.Store.GetRun(r.Context(), runID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, recordView(*rec))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	runs, err := s.cfg.Store.ListRuns(r.Context(), queryLimit(r, defaultRunsLimit))
	if err != nil {
		writeErr(w, err)
		return
	}
	views := make([]RunView, 0, len(runs))
	for _, rec := range runs {
		views = append(views, recordView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": views})
}

// JobView is the JSON shape of a recorded job.
type JobView struct {
	Key        string    `json:"key"`
	JobID      string    `json:"job_id"`
	Result     any       `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	Started    time.Time `json:"started"`
	DurationMs int64     `json:"duration_ms"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	runID := chi.URLParam(r, "runID")
	jobs, err := s.cfg.Store.ListJobs(r.Context(), runID)
	if err != nil {
		writeErr(w, err)
		return
	}
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, JobView{
			Key:        string(j.Key),
			JobID:      j.JobID,
			Result:     j.Result,
			Error:      j.Error,
			Started:    j.Started,
			DurationMs: j.Duration.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "jobs": views})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "run store not configured")
		return
	}
	runID := chi.URLParam(r, "runID")
	entries, err := s.cfg.Store.ListApprovals(r.Context(), runID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if entries == nil {
		entries = []approval.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "approvals": entries})
}

package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"transcription-service/internal/entity"
	"transcription-service/internal/store"
)

// JobService is the orchestration port exposed over HTTP.
type JobService interface {
	Submit(audioPath string, params entity.TranscriptionParams) (entity.Job, error)
	Get(id string) (entity.Job, bool)
	Cancel(id string) error
	QueueInfo() entity.QueueInfo
}

type Handler struct {
	jobSvc JobService
}

func NewHandler(jobSvc JobService) *Handler {
	return &Handler{jobSvc: jobSvc}
}

type submitJobDTO struct {
	AudioPath        string  `json:"audio_path"`
	Language         string  `json:"language,omitempty"`
	Model            string  `json:"model,omitempty"`
	ReturnTimestamps *bool   `json:"return_timestamps,omitempty"`
	Temperature      float64 `json:"temperature,omitempty"`
	InitialPrompt    string  `json:"initial_prompt,omitempty"`
}

type submitJobResp struct {
	ID     string           `json:"id"`
	Status entity.JobStatus `json:"status"`
}

type cancelJobResp struct {
	ID     string           `json:"id"`
	Status entity.JobStatus `json:"status"`
}

type jobResp struct {
	ID          string                      `json:"id"`
	Status      entity.JobStatus            `json:"status"`
	Progress    float64                     `json:"progress"`
	Message     string                      `json:"message"`
	Result      *entity.TranscriptionResult `json:"result,omitempty"`
	Error       string                      `json:"error,omitempty"`
	CreatedAt   string                      `json:"created_at"`
	StartedAt   *string                     `json:"started_at,omitempty"`
	CompletedAt *string                     `json:"completed_at,omitempty"`
}

func toJobResp(j entity.Job) jobResp {
	resp := jobResp{
		ID:        j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Message:   j.Message,
		Result:    j.Result,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
	}
	if j.StartedAt != nil {
		s := j.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &s
	}
	if j.CompletedAt != nil {
		s := j.CompletedAt.Format(time.RFC3339)
		resp.CompletedAt = &s
	}
	return resp
}

// SubmitJob godoc
// @Summary Submit a transcription job
// @Description Records the job and queues it for background processing.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitJobDTO true "job payload"
// @Success 201 {object} submitJobResp
// @Failure 400 {object} apiError
// @Router /jobs [post]
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var dto submitJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if dto.AudioPath == "" {
		writeErr(w, http.StatusBadRequest, "audio_path is required")
		return
	}
	if dto.Temperature < 0 || dto.Temperature > 1 {
		writeErr(w, http.StatusBadRequest, "temperature must be within [0,1]")
		return
	}

	returnTimestamps := true
	if dto.ReturnTimestamps != nil {
		returnTimestamps = *dto.ReturnTimestamps
	}

	job, err := h.jobSvc.Submit(dto.AudioPath, entity.TranscriptionParams{
		Language:         dto.Language,
		Model:            dto.Model,
		ReturnTimestamps: returnTimestamps,
		Temperature:      dto.Temperature,
		InitialPrompt:    dto.InitialPrompt,
	})
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, submitJobResp{ID: job.ID, Status: job.Status})
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} jobResp
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, ok := h.jobSvc.Get(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, toJobResp(job))
}

// GetJobResult godoc
// @Summary Get transcription result
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} entity.TranscriptionResult
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, ok := h.jobSvc.Get(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status != entity.StatusCompleted || job.Result == nil {
		writeErr(w, http.StatusConflict, "job not completed")
		return
	}

	writeJSON(w, http.StatusOK, job.Result)
}

// CancelJob godoc
// @Summary Cancel a job
// @Description Queued jobs are cancelled directly; processing jobs are signalled.
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Success 200 {object} cancelJobResp
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id} [delete]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := h.jobSvc.Cancel(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, cancelJobResp{ID: id, Status: entity.StatusCancelled})
	case errors.Is(err, store.ErrNotFound):
		writeErr(w, http.StatusNotFound, "job not found")
	case errors.Is(err, store.ErrTerminalState):
		writeErr(w, http.StatusConflict, "job already finished")
	default:
		writeErr(w, http.StatusInternalServerError, err.Error())
	}
}

// QueueInfo godoc
// @Summary Queue and worker pool snapshot
// @Tags queue
// @Produce json
// @Success 200 {object} entity.QueueInfo
// @Router /queue/info [get]
func (h *Handler) QueueInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.jobSvc.QueueInfo())
}

// Package http exposes the contest over JSON endpoints and a websocket
// leaderboard feed. It is a thin shell: all rules live in internal/app.
package http

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"daily-quiz-service/internal/app"
	"daily-quiz-service/internal/domain"
)

// BoardReader serves leaderboard reads; either the contest service directly
// or the Redis cache in front of it.
type BoardReader interface {
	Leaderboard(ctx context.Context, date string) (domain.Leaderboard, error)
}

// Handler wires the contest use cases onto a ServeMux.
type Handler struct {
	service *app.ContestService
	boards  BoardReader
	log     zerolog.Logger
}

func NewHandler(service *app.ContestService, boards BoardReader, log zerolog.Logger) *Handler {
	if boards == nil {
		boards = service
	}
	return &Handler{service: service, boards: boards, log: log}
}

// Register mounts all routes.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/identify", h.identify)
	mux.HandleFunc("GET /api/question", h.visibleQuestion)
	mux.HandleFunc("POST /api/submissions", h.submit)
	mux.HandleFunc("POST /api/heartbeat", h.heartbeat)
	mux.HandleFunc("GET /api/leaderboard", h.leaderboard)

	mux.HandleFunc("GET /api/admin/stats", h.stats)
	mux.HandleFunc("POST /api/admin/reset", h.reset)
	mux.HandleFunc("GET /api/admin/questions", h.listQuestions)
	mux.HandleFunc("POST /api/admin/questions", h.createQuestion)
	mux.HandleFunc("PUT /api/admin/questions/{id}", h.updateQuestion)
	mux.HandleFunc("DELETE /api/admin/questions/{id}", h.deleteQuestion)
	mux.HandleFunc("DELETE /api/admin/questions/{id}/submissions", h.clearSubmissions)
	mux.HandleFunc("POST /api/admin/participants/{id}/ban", h.setBanned)
	mux.HandleFunc("GET /api/admin/export.csv", h.exportCSV)

	mux.HandleFunc("/ws", h.ServeWS)
}

type identifyRequest struct {
	Name     string `json:"name"`
	DeviceID string `json:"deviceId"`
}

func (h *Handler) identify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	participant, err := h.service.Identify(r.Context(), req.Name, req.DeviceID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, participant)
}

func (h *Handler) visibleQuestion(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participantId")
	if participantID == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("participantId is required"))
		return
	}
	view, err := h.service.ResolveVisibleQuestion(r.Context(), participantID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if view == nil {
		// No open question is a normal outcome, not an error.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

type submitRequest struct {
	ParticipantID string `json:"participantId"`
	QuestionID    string `json:"questionId"`
	AnswerIndex   *int   `json:"answerIndex"`
	DeviceID      string `json:"deviceId"`
	ForcedReason  string `json:"forcedReason,omitempty"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	submission, err := h.service.Submit(r.Context(), app.SubmitRequest{
		ParticipantID: req.ParticipantID,
		QuestionID:    req.QuestionID,
		AnswerIndex:   req.AnswerIndex,
		DeviceID:      req.DeviceID,
		ForcedReason:  req.ForcedReason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, submission)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	participantID := r.URL.Query().Get("participantId")
	if participantID == "" {
		h.writeError(w, http.StatusBadRequest, errors.New("participantId is required"))
		return
	}
	h.service.Heartbeat(r.Context(), participantID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := h.boards.Leaderboard(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, board)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	epoch, err := h.service.PerformReset(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.log.Info().Int64("epoch", epoch).Msg("scoring epoch advanced")
	h.writeJSON(w, http.StatusOK, map[string]int64{"epoch": epoch})
}

func (h *Handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := h.service.Questions(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if questions == nil {
		questions = []domain.Question{}
	}
	h.writeJSON(w, http.StatusOK, questions)
}

func (h *Handler) createQuestion(w http.ResponseWriter, r *http.Request) {
	var in app.QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	question, err := h.service.CreateQuestion(r.Context(), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, question)
}

func (h *Handler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	var in app.QuestionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	question, err := h.service.UpdateQuestion(r.Context(), r.PathValue("id"), in)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, question)
}

func (h *Handler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteQuestion(r.Context(), r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearSubmissions(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.ClearSubmissions(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

type banRequest struct {
	Banned bool `json:"banned"`
}

func (h *Handler) setBanned(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if err := h.service.SetBanned(r.Context(), r.PathValue("id"), req.Banned); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var exportHeader = []string{
	"participant", "question", "date", "status", "answer_order",
	"base_marks", "deduction_marks", "bonus_percent", "extra_applied",
	"final_score", "auto_submitted", "auto_submit_reason", "epoch", "submitted_at",
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Export(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="submissions.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write(exportHeader)
	for _, row := range rows {
		_ = cw.Write([]string{
			row.ParticipantName,
			row.QuestionText,
			row.QuestionDate,
			string(row.Status),
			strconv.Itoa(row.AnswerOrder),
			row.BaseMarks.String(),
			row.DeductionMarks.String(),
			row.BonusPercent.String(),
			strconv.FormatBool(row.ExtraApplied),
			row.FinalScore.String(),
			strconv.FormatBool(row.AutoSubmitted),
			row.AutoSubmitReason,
			strconv.FormatInt(row.Epoch, 10),
			row.SubmittedAt.Format("2006-01-02 15:04:05"),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.log.Error().Err(err).Msg("csv export write failed")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("write response failed")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeDomainError maps the business-rule rejections onto HTTP statuses;
// anything unrecognized is a storage/infrastructure failure.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadySubmitted):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrQuestionNotFound), errors.Is(err, domain.ErrParticipantNotFound):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrNameDeviceConflict), errors.Is(err, domain.ErrDeleteBlocked):
		h.writeError(w, http.StatusConflict, err)
	case errors.Is(err, domain.ErrBanned):
		h.writeError(w, http.StatusForbidden, err)
	case errors.Is(err, domain.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err)
	default:
		h.log.Error().Err(err).Msg("request failed")
		h.writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

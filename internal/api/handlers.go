package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// decode reads a JSON body into dst and validates it. It writes the 400 response itself.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Warn("Server."+op+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		slog.Warn("Server."+op+": validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(validationMessage(err)))
		return false
	}
	return true
}

// startHandler handles POST /onboarding/start.
func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if !s.decode(w, r, "startHandler", &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	resp, err := s.engine.Start(ctx, req.TenantID, req.SubjectHint)
	if err != nil {
		writeEngineError(w, "startHandler", err)
		return
	}
	slog.Info("Server.startHandler: intake started", "sessionID", resp.SessionID, "subjectID", resp.SubjectID, "resumed", resp.Resumed)
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// messageHandler handles POST /onboarding/message.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitAnswerRequest
	if !s.decode(w, r, "messageHandler", &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	resp, err := s.engine.Submit(ctx, req.SessionID, req.Message, req.MessageID)
	if err != nil {
		writeEngineError(w, "messageHandler", err)
		return
	}
	slog.Debug("Server.messageHandler: turn processed", "sessionID", req.SessionID, "cursor", resp.Cursor, "completed", resp.Completed)
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// statusHandler handles GET /onboarding/status/{session_id}.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	resp, err := s.engine.Status(r.Context(), sessionID)
	if err != nil {
		writeEngineError(w, "statusHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(resp))
}

// generateAnswerHandler handles POST /onboarding/generate-answer.
func (s *Server) generateAnswerHandler(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateAnswerRequest
	if !s.decode(w, r, "generateAnswerHandler", &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), DefaultRequestTimeout)
	defer cancel()

	q, st, err := s.engine.CurrentQuestion(ctx, req.SessionID)
	if err != nil {
		writeEngineError(w, "generateAnswerHandler", err)
		return
	}
	stageName := ""
	if stage, ok := s.engine.Catalog().StageOf(q.Index); ok {
		stageName = stage.Name
	}
	answer := s.answers.Generate(ctx, q, st.SubjectHint, stageName)
	writeJSONResponse(w, http.StatusOK, models.Success(models.GenerateAnswerResponse{
		FieldName: q.FieldName,
		Answer:    answer,
	}))
}

// crmSyncCompleteHandler handles POST /webhooks/crm-sync-complete.
func (s *Server) crmSyncCompleteHandler(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeJSONResponse(w, http.StatusNotFound, models.Error("CRM callback not configured"))
		return
	}
	var req models.CRMSyncCompleteRequest
	if !s.decode(w, r, "crmSyncCompleteHandler", &req) {
		return
	}
	if err := s.recorder.RecordExternalID(r.Context(), req.SubjectID, req.ExternalID, time.Now()); err != nil {
		writeEngineError(w, "crmSyncCompleteHandler", err)
		return
	}
	slog.Info("Server.crmSyncCompleteHandler: external id recorded", "subjectID", req.SubjectID, "externalID", req.ExternalID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("External ID recorded", nil))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	cat := s.engine.Catalog()
	writeJSONResponse(w, http.StatusOK, models.Success(models.HealthResponse{
		Status:    "healthy",
		Questions: cat.Total(),
		Stages:    len(cat.Stages()),
		Store:     s.backend,
	}))
}

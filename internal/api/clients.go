package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// ClientRecords reads stored intake checkpoints for the staff-facing client endpoints.
type ClientRecords interface {
	store.CheckpointLister
	GetCheckpoint(ctx context.Context, subjectID string) (*models.Checkpoint, error)
}

// WithRecords enables the read-only client endpoints.
func WithRecords(r ClientRecords) Option {
	return func(s *Server) { s.records = r }
}

// parseClientQuery reads and validates the client listing parameters. A
// non-empty message describes why the query was rejected.
func (s *Server) parseClientQuery(values url.Values) (models.ClientListQuery, string) {
	q := models.ClientListQuery{
		TenantID: values.Get("tenant_id"),
		Status:   values.Get("status"),
		Search:   values.Get("search"),
	}
	for name, dst := range map[string]*int{"page": &q.Page, "page_size": &q.PageSize} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, "Invalid request: " + name + " must be an integer"
		}
		*dst = n
	}
	if err := s.validate.Struct(q); err != nil {
		return q, validationMessage(err)
	}
	return q, ""
}

// listClientsHandler handles GET /clients.
func (s *Server) listClientsHandler(w http.ResponseWriter, r *http.Request) {
	q, msg := s.parseClientQuery(r.URL.Query())
	if msg != "" {
		slog.Warn("Server.listClientsHandler: bad query", "reason", msg)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(msg))
		return
	}
	page := store.Page{Number: q.Page, Size: q.PageSize}.Normalize()
	checkpoints, total, err := s.records.ListCheckpoints(r.Context(), store.CheckpointFilter{
		TenantID: q.TenantID,
		Status:   q.Status,
		Search:   q.Search,
	}, page)
	if err != nil {
		writeEngineError(w, "listClientsHandler", err)
		return
	}
	clients := make([]models.ClientSummary, 0, len(checkpoints))
	for _, cp := range checkpoints {
		clients = append(clients, s.clientSummary(cp))
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ClientListResponse{
		Clients:  clients,
		Total:    total,
		Page:     page.Number,
		PageSize: page.Size,
	}))
}

// getClientHandler handles GET /clients/{subject_id}.
func (s *Server) getClientHandler(w http.ResponseWriter, r *http.Request) {
	cp, err := s.records.GetCheckpoint(r.Context(), r.PathValue("subject_id"))
	if err != nil {
		writeEngineError(w, "getClientHandler", err)
		return
	}
	answers := cp.Answers.Clone()
	if answers == nil {
		answers = models.Answers{}
	}
	messages := cp.Messages
	if messages == nil {
		messages = []models.Message{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(models.ClientDetail{
		ClientSummary: s.clientSummary(*cp),
		Answers:       answers,
		Messages:      messages,
	}))
}

func (s *Server) clientSummary(cp models.Checkpoint) models.ClientSummary {
	cat := s.engine.Catalog()
	total := cat.Total()
	practice := cp.Answers.String("practice_legal_name")
	if practice == "" {
		practice = cp.SubjectHint
	}
	stageName := ""
	if stage, ok := cat.StageOf(cp.Cursor); ok && !cp.Completed {
		stageName = stage.Name
	}
	return models.ClientSummary{
		SubjectID:       cp.SubjectID,
		TenantID:        cp.TenantID,
		PracticeName:    practice,
		ContactEmail:    cp.ContactEmail,
		Cursor:          cp.Cursor,
		TotalQuestions:  total,
		ProgressPercent: models.ProgressPercent(cp.Cursor, total),
		StageName:       stageName,
		Completed:       cp.Completed,
		CreatedAt:       cp.CreatedAt,
		UpdatedAt:       cp.UpdatedAt,
		CompletedAt:     cp.CompletedAt,
		ExternalID:      cp.ExternalID,
	}
}

// Package flow drives the intake conversation turn by turn.
//
// The Engine asks the catalog's questions in order, validates each answer,
// checkpoints the state synchronously after every turn, resumes incomplete
// intakes, collapses duplicate starts and hands completed intakes off to a
// CompletionHandler without blocking the final turn.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/BTreeMap/IntakePipe/internal/catalog"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/session"
	"github.com/BTreeMap/IntakePipe/internal/store"
	"github.com/BTreeMap/IntakePipe/internal/util"
	"github.com/BTreeMap/IntakePipe/internal/validate"
)

// Error variables for engine operations.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCompleted = errors.New("session already completed")
	ErrPersistence      = errors.New("checkpoint could not be saved")
	ErrMissingTenant    = errors.New("tenant id is required")
)

// Engine defaults.
const (
	DefaultDuplicateWindow = 30 * time.Second
	DefaultSaveAttempts    = 3
	DefaultSaveBackoff     = 50 * time.Millisecond
	DefaultHandoffTimeout  = 30 * time.Second
)

// AnswerValidator checks one raw answer against its question.
type AnswerValidator interface {
	Validate(ctx context.Context, q models.QuestionSpec, raw string) validate.Result
}

// CompletionHandler receives a completed intake. It must return quickly;
// delivery to external systems happens elsewhere.
type CompletionHandler interface {
	HandleCompletion(ctx context.Context, ev models.CompletionEvent) error
}

// Observer is told about starts, turns and persistence failures.
type Observer interface {
	StartRecorded(kind string)
	TurnRecorded(outcome string, elapsed time.Duration)
	PersistenceFailed()
}

type noopObserver struct{}

func (noopObserver) StartRecorded(string)               {}
func (noopObserver) TurnRecorded(string, time.Duration) {}
func (noopObserver) PersistenceFailed()                {}

// Engine runs intake sessions.
type Engine struct {
	catalog     *catalog.Catalog
	checkpoints store.CheckpointStore
	sessions    session.Store
	locks       *session.Locks
	validator   AnswerValidator
	skip        *SkipMatcher
	dedup       store.DedupRepo
	handoff     CompletionHandler
	observer    Observer

	duplicateWindow time.Duration
	saveAttempts    int
	saveBackoff     time.Duration
	handoffTimeout  time.Duration
	now             func() time.Time
	emailField      string

	starts singleflight.Group
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidator replaces the default rule-based validator.
func WithValidator(v AnswerValidator) Option {
	return func(e *Engine) { e.validator = v }
}

// WithSessionStore sets where live sessions are kept between turns.
func WithSessionStore(s session.Store) Option {
	return func(e *Engine) { e.sessions = s }
}

// WithCompletionHandler sets the receiver of completed intakes.
func WithCompletionHandler(h CompletionHandler) Option {
	return func(e *Engine) { e.handoff = h }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithSkipPhrases replaces the default skip phrases.
func WithSkipPhrases(phrases []string) Option {
	return func(e *Engine) {
		if len(phrases) > 0 {
			e.skip = NewSkipMatcher(phrases)
		}
	}
}

// WithDuplicateWindow sets how long after a start a repeated start is treated as a duplicate.
func WithDuplicateWindow(d time.Duration) Option {
	return func(e *Engine) { e.duplicateWindow = d }
}

// WithDedup enables client message ID deduplication.
func WithDedup(d store.DedupRepo) Option {
	return func(e *Engine) { e.dedup = d }
}

// WithSaveRetry sets the bounded retry used for checkpoint writes.
func WithSaveRetry(attempts int, backoff time.Duration) Option {
	return func(e *Engine) {
		if attempts > 0 {
			e.saveAttempts = attempts
		}
		if backoff >= 0 {
			e.saveBackoff = backoff
		}
	}
}

// WithHandoffTimeout bounds the completion hand-off call.
func WithHandoffTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.handoffTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over cat and the durable checkpoint store.
func NewEngine(cat *catalog.Catalog, checkpoints store.CheckpointStore, opts ...Option) *Engine {
	e := &Engine{
		catalog:         cat,
		checkpoints:     checkpoints,
		sessions:        session.NewMemoryStore(),
		locks:           session.NewLocks(),
		validator:       validate.New(),
		skip:            NewSkipMatcher(DefaultSkipPhrases),
		observer:        noopObserver{},
		duplicateWindow: DefaultDuplicateWindow,
		saveAttempts:    DefaultSaveAttempts,
		saveBackoff:     DefaultSaveBackoff,
		handoffTimeout:  DefaultHandoffTimeout,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.emailField = contactEmailField(cat)
	return e
}

// contactEmailField picks the answer stored as the subject's contact email:
// the question mapped to the CRM email role, else the first email question.
func contactEmailField(cat *catalog.Catalog) string {
	first := ""
	for i := 0; i < cat.Total(); i++ {
		q, _ := cat.QuestionAt(i)
		if q.CRM != nil && q.CRM.Role == models.CRMRoleEmail {
			return q.FieldName
		}
		if first == "" && q.AnswerType == models.AnswerEmail {
			first = q.FieldName
		}
	}
	return first
}

// Catalog returns the catalog the engine asks from.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// SubjectKey normalizes a start hint into the natural key used for resume and
// duplicate matching: trimmed, lowercased, inner whitespace collapsed.
func SubjectKey(hint string) string {
	return strings.Join(strings.Fields(strings.ToLower(hint)), " ")
}

// Start begins an intake for subjectHint within tenantID, resuming an incomplete
// one when it exists and collapsing duplicate starts.
func (e *Engine) Start(ctx context.Context, tenantID, subjectHint string) (*models.StartSessionResponse, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	subjectHint = strings.TrimSpace(subjectHint)
	key := SubjectKey(subjectHint)
	if key == "" {
		return e.startFresh(ctx, tenantID, subjectHint, key)
	}

	v, err, shared := e.starts.Do(tenantID+"\x00"+key, func() (any, error) {
		return e.start(ctx, tenantID, subjectHint, key)
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*models.StartSessionResponse)
	if shared {
		slog.Debug("Engine.Start: concurrent start collapsed", "tenantID", tenantID, "sessionID", resp.SessionID)
		cp := *resp
		return &cp, nil
	}
	return resp, nil
}

func (e *Engine) start(ctx context.Context, tenantID, hint, key string) (*models.StartSessionResponse, error) {
	dup, err := e.checkpoints.FindRecentDuplicate(ctx, tenantID, key, e.duplicateWindow)
	if err != nil {
		return nil, fmt.Errorf("duplicate lookup failed: %w", err)
	}
	if dup != nil {
		return e.continueDuplicate(ctx, dup)
	}

	cp, err := e.checkpoints.FindResumable(ctx, tenantID, key)
	if err != nil {
		return nil, fmt.Errorf("resume lookup failed: %w", err)
	}
	if cp != nil {
		return e.resume(ctx, cp)
	}
	return e.startFresh(ctx, tenantID, hint, key)
}

func (e *Engine) startFresh(ctx context.Context, tenantID, hint, key string) (*models.StartSessionResponse, error) {
	at := e.now()
	st := &models.ConversationState{
		SessionID:   newSessionID(),
		SubjectID:   uuid.NewString(),
		TenantID:    tenantID,
		SubjectKey:  key,
		SubjectHint: hint,
		Answers:     models.Answers{},
		StartedAt:   at,
		UpdatedAt:   at,
	}

	var msgs []string
	completing := false
	if q, ok := e.catalog.QuestionAt(0); ok {
		st.CurrentStageID = q.StageID
		msgs = append(msgs, RenderQuestion(q))
	} else {
		msgs = append(msgs, e.complete(st, at))
		completing = true
	}
	for _, m := range msgs {
		st.Append(models.RoleAssistant, m, at)
	}

	created, fresh, err := e.checkpoints.CreateCheckpoint(ctx, st.Checkpoint())
	if err != nil {
		e.observer.PersistenceFailed()
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !fresh {
		// Another process created the record first.
		return e.continueDuplicate(ctx, &created)
	}
	if completing {
		if err := e.markCompleted(ctx, st, at); err != nil {
			return nil, err
		}
	}
	e.commit(ctx, st)
	if completing {
		e.dispatch(st)
	}

	slog.Info("Engine.Start: new intake", "sessionID", st.SessionID, "subjectID", st.SubjectID, "tenantID", tenantID)
	e.observer.StartRecorded(StartFresh)
	return e.startResponse(st, msgs, false, nil), nil
}

// continueDuplicate returns the live session behind a checkpoint created moments ago.
func (e *Engine) continueDuplicate(ctx context.Context, cp *models.Checkpoint) (*models.StartSessionResponse, error) {
	st, err := e.sessions.Get(ctx, cp.SessionID)
	if err != nil {
		st = e.reconcile(cp.State(cp.SessionID))
		e.commit(ctx, st)
	}
	slog.Info("Engine.Start: duplicate start suppressed", "sessionID", st.SessionID, "subjectID", st.SubjectID)
	e.observer.StartRecorded(StartDuplicate)
	return e.startResponse(st, []string{e.currentPrompt(st)}, false, nil), nil
}

func (e *Engine) resume(ctx context.Context, cp *models.Checkpoint) (*models.StartSessionResponse, error) {
	at := e.now()
	history := append([]models.Message(nil), cp.Messages...)
	previous := cp.SessionID

	st := e.reconcile(cp.State(newSessionID()))
	st.UpdatedAt = at

	var msgs []string
	completing := false
	if st.Cursor >= e.catalog.Total() {
		// The last answer was saved but completion was not recorded.
		msgs = append(msgs, e.complete(st, at))
		completing = true
	} else {
		msgs = append(msgs, ResumeMessage(st.Cursor, e.catalog.Total(), e.stageName(st.Cursor)))
		msgs = append(msgs, e.currentPrompt(st))
	}
	for _, m := range msgs {
		st.Append(models.RoleAssistant, m, at)
	}

	if err := e.persist(ctx, st, completing, at); err != nil {
		return nil, err
	}
	if previous != "" {
		if err := e.sessions.Delete(ctx, previous); err != nil {
			slog.Warn("Engine.resume: failed to drop previous session", "sessionID", previous, "error", err)
		}
	}
	e.commit(ctx, st)
	if completing {
		e.dispatch(st)
	}

	slog.Info("Engine.Start: resumed intake", "sessionID", st.SessionID, "subjectID", st.SubjectID, "cursor", st.Cursor)
	e.observer.StartRecorded(StartResumed)
	return e.startResponse(st, msgs, true, history), nil
}

// Submit applies one answer to the session and returns every message emitted by the turn.
// messageID is optional; a repeated non-empty messageID replays the earlier reply.
func (e *Engine) Submit(ctx context.Context, sessionID, raw, messageID string) (*models.TurnResponse, error) {
	began := time.Now()
	unlock := e.locks.Lock(sessionID)
	defer unlock()

	st, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if messageID != "" && e.dedup != nil {
		seen, err := e.dedup.IsDuplicate(messageID)
		if err != nil {
			slog.Warn("Engine.Submit: dedup check failed", "sessionID", sessionID, "error", err)
		} else if seen {
			slog.Info("Engine.Submit: replaying duplicate message", "sessionID", sessionID, "messageID", messageID)
			e.observer.TurnRecorded(OutcomeReplayed, time.Since(began))
			return e.turnResponse(st, lastReply(st.Messages)), nil
		}
	}

	next, msgs, outcome, err := e.turn(ctx, st, raw)
	if errors.Is(err, store.ErrStaleCheckpoint) {
		// Another process advanced this subject; apply the answer to the durable state instead.
		slog.Warn("Engine.Submit: cached state is stale, reloading checkpoint", "sessionID", sessionID, "subjectID", st.SubjectID)
		if derr := e.sessions.Delete(ctx, sessionID); derr != nil {
			slog.Warn("Engine.Submit: failed to drop stale session", "sessionID", sessionID, "error", derr)
		}
		if st, err = e.load(ctx, sessionID); err != nil {
			return nil, err
		}
		next, msgs, outcome, err = e.turn(ctx, st, raw)
	}
	if err != nil {
		return nil, err
	}
	e.commit(ctx, next)

	if messageID != "" && e.dedup != nil {
		if _, err := e.dedup.RecordInbound(messageID, next.SubjectID); err != nil {
			slog.Warn("Engine.Submit: failed to record message id", "messageID", messageID, "error", err)
		}
	}
	if next.Completed {
		e.dispatch(next)
	}

	slog.Debug("Engine.Submit: turn processed", "sessionID", sessionID, "subjectID", next.SubjectID, "cursor", next.Cursor, "outcome", outcome)
	e.observer.TurnRecorded(outcome, time.Since(began))
	return e.turnResponse(next, msgs), nil
}

// turn applies raw to a clone of st and persists it. st itself is never modified.
func (e *Engine) turn(ctx context.Context, st *models.ConversationState, raw string) (*models.ConversationState, []string, string, error) {
	if st.Completed {
		return nil, nil, "", ErrSessionCompleted
	}
	at := e.now()
	next := st.Clone()
	next.Append(models.RoleUser, raw, at)
	next.UpdatedAt = at

	msgs, outcome := e.apply(ctx, next, raw, at)
	for _, m := range msgs {
		next.Append(models.RoleAssistant, m, at)
	}
	// The re-prompt has been emitted; the flags do not outlive the turn.
	next.NeedsClarification = false
	next.PendingError = ""

	if err := e.persist(ctx, next, next.Completed, at); err != nil {
		return nil, nil, "", err
	}
	return next, msgs, outcome, nil
}

// apply runs the validate/advance machine on st and returns the assistant messages.
func (e *Engine) apply(ctx context.Context, st *models.ConversationState, raw string, at time.Time) ([]string, string) {
	phase := PhaseValidating
	q, ok := e.catalog.QuestionAt(st.Cursor)
	if !ok {
		// Cursor past the catalog: the checkpoint outlived its questions.
		slog.Warn("Engine.apply: no question at cursor, completing", "subjectID", st.SubjectID, "cursor", st.Cursor)
		return []string{e.complete(st, at)}, OutcomeCompleted
	}

	var msgs []string
	outcome := OutcomeAccepted
	if e.skip.Match(raw) {
		st.Answers[q.FieldName] = models.Skipped
		outcome = OutcomeSkipped
		phase = PhaseAdvancing
	} else {
		res := e.validator.Validate(ctx, q, raw)
		switch res.Outcome {
		case validate.Accepted:
			st.Answers[q.FieldName] = res.Value
			phase = PhaseAdvancing
		case validate.NeedsExplanation:
			st.NeedsClarification = true
			st.PendingError = res.Reason
			outcome = OutcomeExplained
			phase = PhaseClarifying
			msgs = append(msgs, ExplanationMessage(res.Reason, q))
		default:
			st.NeedsClarification = true
			st.PendingError = res.Reason
			outcome = OutcomeRejected
			phase = PhaseClarifying
			msgs = append(msgs, ClarificationMessage(res.Reason))
		}
	}
	slog.Debug("Engine.apply", "subjectID", st.SubjectID, "field", q.FieldName, "phase", phase.String(), "outcome", outcome)
	if phase != PhaseAdvancing {
		return msgs, outcome
	}

	st.NeedsClarification = false
	st.PendingError = ""
	st.Cursor++
	total := e.catalog.Total()
	if p, ok := e.catalog.StageCompletedBy(st.Cursor - 1); ok && st.Cursor < total {
		msgs = append(msgs, StageMessage(p))
	}
	if st.Cursor >= total {
		msgs = append(msgs, e.complete(st, at))
		return msgs, OutcomeCompleted
	}
	nq, _ := e.catalog.QuestionAt(st.Cursor)
	st.CurrentStageID = nq.StageID
	msgs = append(msgs, RenderQuestion(nq))
	return msgs, outcome
}

// complete moves st into the completed phase and returns the closing message.
func (e *Engine) complete(st *models.ConversationState, at time.Time) string {
	st.Completed = true
	if st.CompletedAt == nil {
		t := at
		st.CompletedAt = &t
	}
	st.CurrentStageID = ""
	if st.Cursor < e.catalog.Total() {
		st.Cursor = e.catalog.Total()
	}
	practice := st.Answers.String("practice_legal_name")
	if practice == "" {
		practice = st.SubjectHint
	}
	return CompletionMessage(practice)
}

// Status reports progress for a session.
func (e *Engine) Status(ctx context.Context, sessionID string) (*models.StatusResponse, error) {
	st, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	externalID := st.ExternalID
	// The checkpoint may be newer than the cached state when another process
	// took a turn, and the CRM identifier arrives after the session left memory.
	if cp, err := e.checkpoints.GetCheckpoint(ctx, st.SubjectID); err == nil {
		if cp.Revision > st.Revision && cp.SessionID == sessionID {
			st = e.reconcile(cp.State(sessionID))
			e.commit(ctx, st)
		}
		externalID = cp.ExternalID
	}

	total := e.catalog.Total()
	return &models.StatusResponse{
		SessionID:       st.SessionID,
		SubjectID:       st.SubjectID,
		Cursor:          st.Cursor,
		TotalQuestions:  total,
		ProgressPercent: models.ProgressPercent(st.Cursor, total),
		StageName:       e.stageName(st.Cursor),
		Completed:       st.Completed,
		StartedAt:       st.StartedAt,
		CompletedAt:     st.CompletedAt,
		ExternalID:      externalID,
		Answers:         st.Answers.Clone(),
	}, nil
}

// CurrentQuestion returns the question the session is waiting on.
func (e *Engine) CurrentQuestion(ctx context.Context, sessionID string) (models.QuestionSpec, *models.ConversationState, error) {
	st, err := e.load(ctx, sessionID)
	if err != nil {
		return models.QuestionSpec{}, nil, err
	}
	q, ok := e.catalog.QuestionAt(st.Cursor)
	if st.Completed || !ok {
		return models.QuestionSpec{}, st, ErrSessionCompleted
	}
	return q, st, nil
}

// SweepSessions evicts idle sessions from an in-memory session store.
func (e *Engine) SweepSessions(ttl time.Duration) int {
	if m, ok := e.sessions.(*session.MemoryStore); ok {
		return m.Sweep(ttl)
	}
	return 0
}

// load returns the live state for sessionID, rehydrating it from its checkpoint when needed.
func (e *Engine) load(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	st, err := e.sessions.Get(ctx, sessionID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		slog.Warn("Engine.load: session store failed, using checkpoint", "sessionID", sessionID, "error", err)
	}
	cp, err := e.checkpoints.FindBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup failed: %w", err)
	}
	if cp == nil {
		return nil, ErrSessionNotFound
	}
	st = e.reconcile(cp.State(sessionID))
	e.commit(ctx, st)
	slog.Debug("Engine.load: rehydrated session from checkpoint", "sessionID", sessionID, "subjectID", st.SubjectID)
	return st, nil
}

// reconcile fits a restored state to the current catalog: unknown answer fields
// are dropped and the cursor is clamped to the catalog size.
func (e *Engine) reconcile(st *models.ConversationState) *models.ConversationState {
	for field := range st.Answers {
		if _, ok := e.catalog.Question(field); !ok {
			slog.Debug("Engine.reconcile: dropping unknown field", "subjectID", st.SubjectID, "field", field)
			delete(st.Answers, field)
		}
	}
	if st.Cursor < 0 {
		st.Cursor = 0
	}
	if st.Cursor > e.catalog.Total() {
		st.Cursor = e.catalog.Total()
	}
	if q, ok := e.catalog.QuestionAt(st.Cursor); ok && !st.Completed {
		st.CurrentStageID = q.StageID
	}
	return st
}

// persist saves st as the next checkpoint revision with bounded retry and
// records completion when requested. On success st carries the new revision.
func (e *Engine) persist(ctx context.Context, st *models.ConversationState, completing bool, at time.Time) error {
	cp := st.Checkpoint()
	cp.Revision = st.Revision + 1
	cp.ContactEmail = e.contactEmail(st.Answers)
	var err error
	for attempt := 1; attempt <= e.saveAttempts; attempt++ {
		if err = e.checkpoints.SaveCheckpoint(ctx, cp); err == nil {
			break
		}
		if errors.Is(err, store.ErrStaleCheckpoint) {
			slog.Warn("Engine.persist: checkpoint has a newer revision", "subjectID", st.SubjectID, "revision", cp.Revision)
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		slog.Warn("Engine.persist: checkpoint save failed", "subjectID", st.SubjectID, "attempt", attempt, "error", err)
		if attempt == e.saveAttempts || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
		case <-time.After(e.saveBackoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		e.observer.PersistenceFailed()
		slog.Error("Engine.persist: giving up", "subjectID", st.SubjectID, "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	st.Revision = cp.Revision
	if completing {
		return e.markCompleted(ctx, st, at)
	}
	return nil
}

func (e *Engine) contactEmail(a models.Answers) string {
	if v, ok := a[e.emailField].(string); ok {
		return v
	}
	return ""
}

func (e *Engine) markCompleted(ctx context.Context, st *models.ConversationState, at time.Time) error {
	if err := e.checkpoints.MarkCompleted(ctx, st.SubjectID, at); err != nil {
		e.observer.PersistenceFailed()
		slog.Error("Engine.markCompleted: failed", "subjectID", st.SubjectID, "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	slog.Info("Engine: intake completed", "subjectID", st.SubjectID, "tenantID", st.TenantID, "skipped", st.Answers.CountSkipped())
	return nil
}

// commit publishes st as the live session state.
func (e *Engine) commit(ctx context.Context, st *models.ConversationState) {
	if err := e.sessions.Put(ctx, st); err != nil {
		slog.Warn("Engine.commit: session store put failed; checkpoint remains authoritative", "sessionID", st.SessionID, "error", err)
	}
}

// dispatch hands the completed intake off without blocking the caller.
func (e *Engine) dispatch(st *models.ConversationState) {
	if e.handoff == nil {
		return
	}
	ev := models.CompletionEvent{
		SubjectID:   st.SubjectID,
		TenantID:    st.TenantID,
		SubjectHint: st.SubjectHint,
		Answers:     st.Answers.Clone(),
	}
	if st.CompletedAt != nil {
		ev.CompletedAt = *st.CompletedAt
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.handoffTimeout)
		defer cancel()
		if err := e.handoff.HandleCompletion(ctx, ev); err != nil {
			slog.Error("Engine.dispatch: completion hand-off failed", "subjectID", ev.SubjectID, "error", err)
			return
		}
		slog.Debug("Engine.dispatch: completion handed off", "subjectID", ev.SubjectID)
	}()
}

func (e *Engine) currentPrompt(st *models.ConversationState) string {
	if q, ok := e.catalog.QuestionAt(st.Cursor); ok && !st.Completed {
		return RenderQuestion(q)
	}
	practice := st.Answers.String("practice_legal_name")
	if practice == "" {
		practice = st.SubjectHint
	}
	return CompletionMessage(practice)
}

func (e *Engine) stageName(cursor int) string {
	if st, ok := e.catalog.StageOf(cursor); ok {
		return st.Name
	}
	return ""
}

func (e *Engine) startResponse(st *models.ConversationState, msgs []string, resumed bool, history []models.Message) *models.StartSessionResponse {
	first := ""
	if len(msgs) > 0 {
		first = msgs[len(msgs)-1]
	}
	return &models.StartSessionResponse{
		SessionID:      st.SessionID,
		SubjectID:      st.SubjectID,
		FirstPrompt:    first,
		Messages:       msgs,
		Cursor:         st.Cursor,
		StageName:      e.stageName(st.Cursor),
		TotalQuestions: e.catalog.Total(),
		Resumed:        resumed,
		ResumeHistory:  history,
	}
}

func (e *Engine) turnResponse(st *models.ConversationState, msgs []string) *models.TurnResponse {
	return &models.TurnResponse{
		Messages:       msgs,
		Cursor:         st.Cursor,
		StageName:      e.stageName(st.Cursor),
		TotalQuestions: e.catalog.Total(),
		Completed:      st.Completed,
		Answers:        st.Answers.Clone(),
	}
}

// lastReply returns the assistant messages that followed the most recent user message.
func lastReply(log []models.Message) []string {
	var out []string
	for i := len(log) - 1; i >= 0; i-- {
		if log[i].Role == models.RoleUser {
			break
		}
		out = append([]string{log[i].Content}, out...)
	}
	return out
}

func newSessionID() string {
	return util.NewSessionID()
}

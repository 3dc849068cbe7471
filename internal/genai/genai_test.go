package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/validate"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params []openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = append(m.params, params)
	return m.resp, m.err
}

func reply(content string) openai.ChatCompletion {
	return openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func newTestClient(m *mockChatService) *Client {
	return &Client{chat: m, model: "test-model", temperature: 0.1, maxTokens: 100}
}

func TestGeneratePromptWithContext_Success(t *testing.T) {
	mock := &mockChatService{resp: reply("  Hello World \n")}
	client := newTestClient(mock)
	out, err := client.GeneratePromptWithContext(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(mock.params) != 1 {
		t.Fatalf("expected one call, got %d", len(mock.params))
	}
	if got := mock.params[0].Model; got != "test-model" {
		t.Errorf("expected model test-model, got %s", got)
	}
	if len(mock.params[0].Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(mock.params[0].Messages))
	}
}

func TestGeneratePromptWithContext_ServiceError(t *testing.T) {
	client := newTestClient(&mockChatService{err: errors.New("service failure")})
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestGeneratePromptWithContext_NoChoices(t *testing.T) {
	client := newTestClient(&mockChatService{resp: openai.ChatCompletion{}})
	_, err := client.GeneratePromptWithContext(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestNewClient_NoKey(t *testing.T) {
	_, err := NewClient()
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel(""), WithMaxTokens(0))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.Model() != DefaultModel {
		t.Errorf("expected default model, got %s", cli.Model())
	}
	if cli.maxTokens != DefaultMaxTokens {
		t.Errorf("expected default max tokens, got %d", cli.maxTokens)
	}
}

func TestInterpreter_InterpretText(t *testing.T) {
	q := models.QuestionSpec{FieldName: "practice_ein", Prompt: "What is your practice EIN?", AnswerType: models.AnswerFreeText}
	tests := []struct {
		name    string
		reply   string
		outcome validate.Outcome
		want    string
		wantErr bool
	}{
		{"valid", "VALID", validate.Accepted, "12-3456789", false},
		{"valid lowercase", "valid.", validate.Accepted, "12-3456789", false},
		{"invalid with reason", "INVALID: Please share the nine-digit EIN.", validate.Rejected, "Please share the nine-digit EIN.", false},
		{"invalid bare", "INVALID", validate.Rejected, "Could you give me an answer that fits the question?", false},
		{"explain", "EXPLAIN: We need it for billing.\nextra line", validate.NeedsExplanation, "We need it for billing.", false},
		{"explain empty", "EXPLAIN:", 0, "", true},
		{"garbage", "Sure thing!", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := NewInterpreter(newTestClient(&mockChatService{resp: reply(tt.reply)}))
			res, err := in.InterpretText(context.Background(), q, " 12-3456789 ")
			if tt.wantErr {
				if !errors.Is(err, ErrUnexpectedReply) {
					t.Fatalf("expected ErrUnexpectedReply, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Outcome != tt.outcome {
				t.Errorf("expected outcome %v, got %v", tt.outcome, res.Outcome)
			}
			got := res.Reason
			if res.Outcome == validate.Accepted {
				got, _ = res.Value.(string)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestInterpreter_InterpretText_ServiceError(t *testing.T) {
	in := NewInterpreter(newTestClient(&mockChatService{err: errors.New("timeout")}))
	if _, err := in.InterpretText(context.Background(), models.QuestionSpec{Prompt: "Name?"}, "Jane"); err == nil {
		t.Fatal("expected error")
	}
}

func TestInterpreter_InterpretBoolean(t *testing.T) {
	tests := map[string]validate.BoolVerdict{
		"YES":         validate.VerdictYes,
		" yes. ":      validate.VerdictYes,
		"NO":          validate.VerdictNo,
		"\"No\"":      validate.VerdictNo,
		"INVALID":     validate.VerdictInvalid,
		"I'm unsure.": validate.VerdictInvalid,
	}
	q := models.QuestionSpec{Prompt: "Do you have a logo?", AnswerType: models.AnswerBoolean}
	for content, want := range tests {
		in := NewInterpreter(newTestClient(&mockChatService{resp: reply(content)}))
		got, err := in.InterpretBoolean(context.Background(), q, "we sure do")
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", content, err)
		}
		if got != want {
			t.Errorf("reply %q: expected %v, got %v", content, want, got)
		}
	}
}

func TestInterpreter_WorksBehindBoundedFallback(t *testing.T) {
	in := NewInterpreter(newTestClient(&mockChatService{err: errors.New("unavailable")}))
	fallbacks := 0
	bounded := validate.NewBounded(in, 0, validate.WithFallbackHook(func(string, error) { fallbacks++ }))
	v := validate.New(validate.WithInterpreter(bounded))

	res := v.Validate(context.Background(), models.QuestionSpec{Prompt: "Name?", AnswerType: models.AnswerFreeText}, "Jane Smith")
	if !res.OK() || res.Value != "Jane Smith" {
		t.Fatalf("expected fallback acceptance, got %+v", res)
	}
	if fallbacks != 1 {
		t.Errorf("expected one fallback, got %d", fallbacks)
	}
}

func TestAnswerGenerator_Generate(t *testing.T) {
	q := models.QuestionSpec{FieldName: "channel", Prompt: "Preferred channel?", AnswerType: models.AnswerSingleChoice, Options: []string{"Email", "Text"}}

	mock := &mockChatService{resp: reply("Text")}
	got := NewAnswerGenerator(newTestClient(mock)).Generate(context.Background(), q, "", "Quick Start")
	if got != "Text" {
		t.Errorf("expected model answer, got %q", got)
	}
	if len(mock.params) != 1 {
		t.Fatalf("expected one call, got %d", len(mock.params))
	}

	failing := NewAnswerGenerator(newTestClient(&mockChatService{err: errors.New("down")}))
	if got := failing.Generate(context.Background(), q, "Sunrise", "Quick Start"); got != "Email" {
		t.Errorf("expected sample fallback, got %q", got)
	}

	if got := NewAnswerGenerator(nil).Generate(context.Background(), q, "", ""); got != "Email" {
		t.Errorf("expected sample without client, got %q", got)
	}
}

func TestSampleAnswer_PassesValidation(t *testing.T) {
	v := validate.New()
	questions := []models.QuestionSpec{
		{Prompt: "Name?", AnswerType: models.AnswerFreeText},
		{Prompt: "Story?", AnswerType: models.AnswerLongText},
		{Prompt: "Email?", AnswerType: models.AnswerEmail},
		{Prompt: "Phone?", AnswerType: models.AnswerPhone},
		{Prompt: "Site?", AnswerType: models.AnswerURL},
		{Prompt: "Color?", AnswerType: models.AnswerHexColor},
		{Prompt: "Rate?", AnswerType: models.AnswerNumericScale, ScaleMin: 1, ScaleMax: 10},
		{Prompt: "Logo?", AnswerType: models.AnswerBoolean},
		{Prompt: "Pick", AnswerType: models.AnswerSingleChoice, Options: []string{"A", "B"}},
		{Prompt: "Pick some", AnswerType: models.AnswerMultiSelect, Options: []string{"Slack", "Calendly"}},
	}
	for _, q := range questions {
		if res := v.Validate(context.Background(), q, SampleAnswer(q)); !res.OK() {
			t.Errorf("%s sample %q rejected: %s", q.AnswerType, SampleAnswer(q), res.Reason)
		}
	}
}

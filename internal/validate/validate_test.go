package validate

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

func TestPhone(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"5551234567", "(555) 123-4567", true},
		{"15551234567", "+1 (555) 123-4567", true},
		{"(555) 123-4567", "(555) 123-4567", true},
		{"+1 555.123.4567", "+1 (555) 123-4567", true},
		{"555123", "", false},
		{"25551234567", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			res := Phone(tt.in)
			require.Equal(t, tt.ok, res.OK(), res.Reason)
			if tt.ok {
				assert.Equal(t, tt.want, res.Value)
			} else {
				assert.NotEmpty(t, res.Reason)
			}
		})
	}
}

func TestHexColor(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"F57", "#FF5577", true},
		{"FF5733", "#FF5733", true},
		{"#abc", "#AABBCC", true},
		{"#1a73e8", "#1A73E8", true},
		{"notahex", "", false},
		{"#12345", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			res := HexColor(tt.in)
			require.Equal(t, tt.ok, res.OK())
			if tt.ok {
				assert.Equal(t, tt.want, res.Value)
			}
		})
	}
}

func TestEmail(t *testing.T) {
	res := Email("  Info@Practice.COM ")
	require.True(t, res.OK())
	assert.Equal(t, "info@practice.com", res.Value)

	res = Email("not-an-email")
	require.False(t, res.OK())
	assert.Contains(t, res.Reason, "info@practice.com")
}

func TestURL(t *testing.T) {
	res := URL("www.mypractice.com")
	require.True(t, res.OK())
	assert.Equal(t, "https://www.mypractice.com", res.Value)

	res = URL("http://example.org/about")
	require.True(t, res.OK())
	assert.Equal(t, "http://example.org/about", res.Value)

	res = URL("www.sunrise.com/?ref=https://google.com")
	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, "https://www.sunrise.com/?ref=https://google.com", res.Value)

	res = URL("HTTPS://Sunrise.com")
	require.True(t, res.OK())
	assert.Equal(t, "https://Sunrise.com", res.Value)

	assert.False(t, URL("my site").OK())
	assert.False(t, URL("https://").OK())
}

func TestScale(t *testing.T) {
	res := Scale("7", 1, 5)
	require.False(t, res.OK())
	assert.Contains(t, res.Reason, "between 1 and 5")

	assert.False(t, Scale("three", 1, 5).OK())
	assert.False(t, Scale("0", 1, 5).OK())

	res = Scale(" 4 ", 1, 5)
	require.True(t, res.OK())
	assert.Equal(t, 4, res.Value)
}

func TestSingleChoice(t *testing.T) {
	opts := []string{"Email", "Text", "Phone Call", "Video Call"}

	res := SingleChoice("email", opts)
	require.True(t, res.OK())
	assert.Equal(t, "Email", res.Value)

	res = SingleChoice("phone", opts)
	require.True(t, res.OK())
	assert.Equal(t, "Phone Call", res.Value)

	res = SingleChoice("call", opts)
	require.False(t, res.OK())
	assert.Contains(t, res.Reason, "Phone Call")
	assert.Contains(t, res.Reason, "Video Call")

	res = SingleChoice("carrier pigeon", opts)
	require.False(t, res.OK())
	assert.Contains(t, res.Reason, "Email, Text, Phone Call, Video Call")
}

func TestMultiSelect(t *testing.T) {
	opts := []string{"Instagram", "Facebook", "LinkedIn"}

	res := MultiSelect("insta, facebook", opts)
	require.True(t, res.OK())
	assert.Equal(t, []string{"Instagram", "Facebook"}, res.Value)

	res = MultiSelect("linkedin; instagram", opts)
	require.True(t, res.OK())
	assert.Equal(t, []string{"LinkedIn", "Instagram"}, res.Value)

	res = MultiSelect("Facebook\nInstagram", opts)
	require.True(t, res.OK())
	assert.Equal(t, []string{"Facebook", "Instagram"}, res.Value)

	res = MultiSelect("facebook, Facebook", opts)
	require.True(t, res.OK())
	assert.Equal(t, []string{"Facebook"}, res.Value)

	for _, none := range []string{"none", "No", "n/a", "NA", "skip"} {
		res = MultiSelect(none, opts)
		require.True(t, res.OK(), none)
		assert.Equal(t, []string{}, res.Value)
	}

	res = MultiSelect("instagram, myspace", opts)
	require.False(t, res.OK())
	assert.Contains(t, res.Reason, "myspace")
}

func TestMultiSelectCommaTakesPriority(t *testing.T) {
	opts := []string{"A;B", "C"}
	res := MultiSelect("a;b, c", opts)
	require.True(t, res.OK())
	assert.Equal(t, []string{"A;B", "C"}, res.Value)
}

func TestIsExplanationRequest(t *testing.T) {
	for _, s := range []string{"why?", "Why", "why do you need this?", "What's this for", "how come"} {
		assert.True(t, IsExplanationRequest(s), s)
	}
	for _, s := range []string{"Why not, we love it", "Dr. Whyte", "yes"} {
		assert.False(t, IsExplanationRequest(s), s)
	}
}

func TestValidatorDispatch(t *testing.T) {
	v := New()
	ctx := context.Background()

	res := v.Validate(ctx, models.QuestionSpec{AnswerType: models.AnswerPhone}, "5551234567")
	require.True(t, res.OK())
	assert.Equal(t, "(555) 123-4567", res.Value)

	res = v.Validate(ctx, models.QuestionSpec{AnswerType: models.AnswerNumericScale, ScaleMin: 1, ScaleMax: 10}, "7")
	require.True(t, res.OK())
	assert.Equal(t, 7, res.Value)

	res = v.Validate(ctx, models.QuestionSpec{AnswerType: models.AnswerFreeText}, "  Acme Wellness  ")
	require.True(t, res.OK())
	assert.Equal(t, "Acme Wellness", res.Value)

	res = v.Validate(ctx, models.QuestionSpec{AnswerType: models.AnswerFreeText}, "   ")
	assert.Equal(t, Rejected, res.Outcome)

	res = v.Validate(ctx, models.QuestionSpec{AnswerType: models.AnswerFreeText}, "x")
	assert.Equal(t, Rejected, res.Outcome)

	long := strings.Repeat("a", MaxFreeTextLength+1)
	assert.Equal(t, Rejected, v.Validate(ctx, models.QuestionSpec{AnswerType: models.AnswerFreeText}, long).Outcome)
	assert.True(t, v.Validate(ctx, models.QuestionSpec{AnswerType: models.AnswerLongText}, long).OK())
}

func TestValidatorExplanation(t *testing.T) {
	v := New()
	q := models.QuestionSpec{AnswerType: models.AnswerEmail, Why: "We send your updates there."}
	res := v.Validate(context.Background(), q, "why do you need this?")
	assert.Equal(t, NeedsExplanation, res.Outcome)
	assert.Equal(t, "We send your updates there.", res.Reason)
}

type stubInterpreter struct {
	text    Result
	verdict BoolVerdict
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (s *stubInterpreter) InterpretText(ctx context.Context, _ models.QuestionSpec, _ string) (Result, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	return s.text, s.err
}

func (s *stubInterpreter) InterpretBoolean(ctx context.Context, _ models.QuestionSpec, _ string) (BoolVerdict, error) {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return VerdictInvalid, ctx.Err()
		}
	}
	return s.verdict, s.err
}

func TestValidatorBoolean(t *testing.T) {
	stub := &stubInterpreter{verdict: VerdictYes}
	v := New(WithInterpreter(stub))
	q := models.QuestionSpec{AnswerType: models.AnswerBoolean}
	ctx := context.Background()

	res := v.Validate(ctx, q, "Yep!")
	require.True(t, res.OK())
	assert.Equal(t, true, res.Value)
	assert.Equal(t, int32(0), stub.calls.Load())

	res = v.Validate(ctx, q, "nah")
	require.True(t, res.OK())
	assert.Equal(t, false, res.Value)

	res = v.Validate(ctx, q, "we have one but it's old")
	require.True(t, res.OK())
	assert.Equal(t, true, res.Value)
	assert.Equal(t, int32(1), stub.calls.Load())

	stub.verdict = VerdictInvalid
	res = v.Validate(ctx, q, "purple")
	assert.Equal(t, Rejected, res.Outcome)
}

func TestValidatorBooleanCustomWords(t *testing.T) {
	v := New(WithBooleanWords([]string{"si"}, []string{"nein"}))
	q := models.QuestionSpec{AnswerType: models.AnswerBoolean}
	assert.Equal(t, true, v.Validate(context.Background(), q, "si").Value)
	assert.Equal(t, false, v.Validate(context.Background(), q, "nein").Value)
	assert.Equal(t, Rejected, v.Validate(context.Background(), q, "yes").Outcome)
}

func TestBoundedFallsBackOnTimeout(t *testing.T) {
	stub := &stubInterpreter{text: Reject("off topic"), delay: time.Second}
	var fallbacks atomic.Int32
	b := NewBounded(stub, 20*time.Millisecond, WithFallbackHook(func(string, error) { fallbacks.Add(1) }))

	start := time.Now()
	res, err := b.InterpretText(context.Background(), models.QuestionSpec{AnswerType: models.AnswerFreeText}, "A real answer")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, res.OK())
	assert.Equal(t, "A real answer", res.Value)
	assert.Equal(t, int32(1), fallbacks.Load())
}

func TestBoundedFallsBackOnError(t *testing.T) {
	stub := &stubInterpreter{err: errors.New("boom"), verdict: VerdictYes}
	b := NewBounded(stub, time.Second)

	v, err := b.InterpretBoolean(context.Background(), models.QuestionSpec{}, "kinda")
	require.NoError(t, err)
	assert.Equal(t, VerdictInvalid, v)
}

func TestBoundedUsesPrimaryWhenHealthy(t *testing.T) {
	stub := &stubInterpreter{text: Reject("That doesn't answer the question.")}
	b := NewBounded(stub, time.Second)

	res, err := b.InterpretText(context.Background(), models.QuestionSpec{}, "bananas")
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Outcome)
	assert.Equal(t, "That doesn't answer the question.", res.Reason)
}

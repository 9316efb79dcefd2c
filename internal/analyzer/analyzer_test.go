package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/iyulab/threatlens/internal/input"
)

// mockProvider returns a fixed response and records the last request.
type mockProvider struct {
	response string
	err      error
	errs     []error // consumed first, one per call
	calls    int
	last     Request
	wait     bool // block until the context is done
}

func (m *mockProvider) Generate(ctx context.Context, req Request) (string, error) {
	m.calls++
	m.last = req
	if m.wait {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	return m.response, m.err
}

func quietDecoder() *Decoder {
	d := NewDecoder(nil, false)
	d.SetLogWriter(io.Discard)
	return d
}

func validResponse(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(sampleResult())
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestAnalyze_Success(t *testing.T) {
	p := &mockProvider{response: validResponse(t)}
	a := New(p, quietDecoder(), Options{})

	report, err := a.Analyze(context.Background(), Settings{}, "Failed password for root")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Fallback || report.Stage != StageParsed {
		t.Errorf("stage=%s fallback=%v", report.Stage, report.Fallback)
	}
	if report.Result.ThreatScore != 82 {
		t.Errorf("threatScore = %d", report.Result.ThreatScore)
	}
	if report.ID == "" || report.Duration == "" {
		t.Error("report must carry an ID and duration")
	}
	if report.Model != ModelFlash {
		t.Errorf("default model = %q, want %q", report.Model, ModelFlash)
	}

	if p.last.Temperature != DefaultTemperature {
		t.Errorf("temperature = %v", p.last.Temperature)
	}
	if p.last.MaxTokens != DefaultMaxTokens {
		t.Errorf("max tokens = %d", p.last.MaxTokens)
	}
	if p.last.System != DefaultPersona {
		t.Error("empty persona should use DefaultPersona")
	}
	if !strings.HasPrefix(p.last.Prompt, InstructionPrefix) || !strings.HasSuffix(p.last.Prompt, "Failed password for root") {
		t.Errorf("prompt not wrapped in instruction prefix: %q", p.last.Prompt)
	}
	if p.last.Schema == nil {
		t.Error("schema must be requested")
	}
}

func TestAnalyze_CustomPersonaAndModel(t *testing.T) {
	p := &mockProvider{response: validResponse(t)}
	a := New(p, quietDecoder(), Options{})

	_, err := a.Analyze(context.Background(), Settings{Model: ModelPro, Persona: "You are terse."}, "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.last.Model != ModelPro || p.last.System != "You are terse." {
		t.Errorf("model=%q system=%q", p.last.Model, p.last.System)
	}
}

func TestAnalyze_UnknownModel(t *testing.T) {
	p := &mockProvider{response: validResponse(t)}
	a := New(p, quietDecoder(), Options{})

	_, err := a.Analyze(context.Background(), Settings{Model: "gpt-2"}, "x")
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
	if p.calls != 0 {
		t.Error("provider must not be called for an unknown model")
	}
}

func TestAnalyze_TransportFailurePropagates(t *testing.T) {
	p := &mockProvider{err: errors.New("anthropic API error 401: invalid key")}
	a := New(p, quietDecoder(), Options{})

	report, err := a.Analyze(context.Background(), Settings{}, "x")
	if report != nil {
		t.Error("no report on transport failure")
	}
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	var aerr *AnalysisError
	if !errors.As(err, &aerr) || aerr.Model != ModelFlash {
		t.Errorf("err = %#v", err)
	}
	if !strings.Contains(err.Error(), "analysis failed") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestAnalyze_DecodeFailureDegrades(t *testing.T) {
	p := &mockProvider{response: `{"threatScore": 80, "timeline": [{"timestamp":"t1","desc`}
	a := New(p, quietDecoder(), Options{})

	report, err := a.Analyze(context.Background(), Settings{}, "x")
	if err != nil {
		t.Fatalf("decode failure must not be an error: %v", err)
	}
	if !report.Fallback || report.Result.MarkdownReport != FallbackReport {
		t.Errorf("expected fallback result, got %+v", report.Result)
	}
}

func TestAnalyze_TruncatesInput(t *testing.T) {
	p := &mockProvider{response: validResponse(t)}
	a := New(p, quietDecoder(), Options{})

	report, err := a.Analyze(context.Background(), Settings{}, strings.Repeat("a", input.MaxChars+500))
	if err != nil {
		t.Fatal(err)
	}
	if !report.Truncated || report.InputChars != input.MaxChars {
		t.Errorf("truncated=%v chars=%d", report.Truncated, report.InputChars)
	}
	if len(p.last.Prompt) != len(InstructionPrefix)+input.MaxChars {
		t.Errorf("prompt length = %d", len(p.last.Prompt))
	}
}

func TestAnalyze_Timeout(t *testing.T) {
	p := &mockProvider{wait: true}
	a := New(p, quietDecoder(), Options{Timeout: 20 * time.Millisecond})

	_, err := a.Analyze(context.Background(), Settings{}, "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Error("timeout is a transport failure")
	}
}

func TestAnalyze_Cancellation(t *testing.T) {
	p := &mockProvider{wait: true}
	a := New(p, quietDecoder(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := a.Analyze(ctx, Settings{}, "x")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
}

func TestAnalyze_Retries(t *testing.T) {
	p := &mockProvider{
		response: validResponse(t),
		errs:     []error{errors.New("502 bad gateway")},
	}
	a := New(p, quietDecoder(), Options{Retries: 1})

	if _, err := a.Analyze(context.Background(), Settings{}, "x"); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if p.calls != 2 {
		t.Errorf("calls = %d, want 2", p.calls)
	}

	p = &mockProvider{errs: []error{errors.New("down")}, response: validResponse(t)}
	a = New(p, quietDecoder(), Options{})
	if _, err := a.Analyze(context.Background(), Settings{}, "x"); err == nil {
		t.Error("no retries by default")
	}
	if p.calls != 1 {
		t.Errorf("calls = %d, want 1", p.calls)
	}
}

func TestAnalyze_Progress(t *testing.T) {
	p := &mockProvider{response: validResponse(t)}
	a := New(p, quietDecoder(), Options{})

	var phases []string
	a.SetProgress(func(phase string, elapsed time.Duration, err error) {
		phases = append(phases, phase)
	})
	a.Analyze(context.Background(), Settings{}, "x")

	if strings.Join(phases, ",") != "request,decode" {
		t.Errorf("phases = %v", phases)
	}
}

func TestPersonaOrDefault(t *testing.T) {
	if PersonaOrDefault(" \n\t") != DefaultPersona {
		t.Error("blank persona should reset to default")
	}
	if PersonaOrDefault("custom") != "custom" {
		t.Error("custom persona must be kept")
	}
}

func TestModels(t *testing.T) {
	a := New(&mockProvider{}, nil, Options{Models: []string{"llama3.1"}})
	models := a.Models()
	if len(models) != 1 || models[0] != "llama3.1" {
		t.Errorf("models = %v", models)
	}
	models[0] = "mutated"
	if a.Models()[0] != "llama3.1" {
		t.Error("Models must return a copy")
	}
}

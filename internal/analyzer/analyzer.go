package analyzer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/iyulab/threatlens/internal/input"
)

// Enumerated model options offered for the Gemini provider.
const (
	ModelFlash = "gemini-2.5-flash"
	ModelPro   = "gemini-2.5-pro"
)

// DefaultModels are the model choices when configuration names none.
var DefaultModels = []string{ModelFlash, ModelPro}

const (
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 8192
	DefaultTimeout     = 120 * time.Second
)

// ErrAnalysisFailed matches every transport-level analysis failure.
var ErrAnalysisFailed = errors.New("analysis failed")

// ErrUnknownModel is returned when Settings names a model outside the allowed list.
var ErrUnknownModel = errors.New("unknown model")

// AnalysisError reports that the provider call itself failed (network,
// credentials, quota, timeout). The user must retry.
type AnalysisError struct {
	Model string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis failed (%s): %v", e.Model, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAnalysisFailed) true for any AnalysisError.
func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysisFailed }

// Settings is the caller-owned selection for one analysis.
type Settings struct {
	Model   string `json:"model"`
	Persona string `json:"persona"`
}

// Options tunes the request sent to the provider.
type Options struct {
	Models      []string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retries     int // extra provider attempts after a transport failure
	Verbose     bool
}

// Report is one completed analysis.
type Report struct {
	ID         string         `json:"id" yaml:"id"`
	Model      string         `json:"model" yaml:"model"`
	Result     AnalysisResult `json:"result" yaml:"result"`
	Stage      Stage          `json:"stage" yaml:"stage"`
	Repaired   bool           `json:"repaired" yaml:"repaired"`
	Fallback   bool           `json:"fallback" yaml:"fallback"`
	InputChars int            `json:"input_chars" yaml:"input_chars"`
	Truncated  bool           `json:"truncated" yaml:"truncated"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	Duration   string         `json:"duration" yaml:"duration"`
}

// ProgressFunc is called when a phase of an analysis completes.
type ProgressFunc func(phase string, elapsed time.Duration, err error)

// Analyzer sends input to the provider and decodes the response.
type Analyzer struct {
	provider Provider
	decoder  *Decoder
	opts     Options
	progress ProgressFunc
}

// New creates an Analyzer. Zero-valued options take the package defaults, so a
// temperature of exactly 0 is not expressible.
func New(provider Provider, decoder *Decoder, opts Options) *Analyzer {
	if decoder == nil {
		decoder = NewDecoder(nil, opts.Verbose)
	}
	if len(opts.Models) == 0 {
		opts.Models = DefaultModels
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Analyzer{provider: provider, decoder: decoder, opts: opts}
}

// SetProgress registers a callback for phase completion.
func (a *Analyzer) SetProgress(fn ProgressFunc) {
	a.progress = fn
}

// Models returns the allowed model identifiers; the first is the default.
func (a *Analyzer) Models() []string {
	return slices.Clone(a.opts.Models)
}

// ResolveModel returns the model to use for s, or ErrUnknownModel.
func (a *Analyzer) ResolveModel(model string) (string, error) {
	if model == "" {
		return a.opts.Models[0], nil
	}
	if !slices.Contains(a.opts.Models, model) {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
	}
	return model, nil
}

// Analyze runs one analysis. A transport failure returns an *AnalysisError;
// an undecodable response returns the fallback result with a nil error.
func (a *Analyzer) Analyze(ctx context.Context, s Settings, data string) (*Report, error) {
	model, err := a.ResolveModel(s.Model)
	if err != nil {
		return nil, err
	}

	text, truncated := input.Truncate(data)
	report := &Report{
		ID:         uuid.New().String(),
		Model:      model,
		InputChars: len([]rune(text)),
		Truncated:  truncated,
		StartedAt:  time.Now().UTC(),
	}

	req := Request{
		Model:       model,
		System:      PersonaOrDefault(s.Persona),
		Prompt:      BuildPrompt(text),
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
		Schema:      AnalysisSchema,
	}

	if a.opts.Verbose {
		fmt.Fprintf(os.Stderr, "[analyzer] %s: %d chars (truncated=%v), model %s\n",
			report.ID, report.InputChars, truncated, model)
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	start := time.Now()
	raw, err := a.callWithRetry(ctx, req)
	a.report("request", time.Since(start), err)
	if err != nil {
		return nil, &AnalysisError{Model: model, Err: err}
	}

	decodeStart := time.Now()
	decoded := a.decoder.Decode(raw)
	a.report("decode", time.Since(decodeStart), decoded.Cause)

	report.Result = decoded.Result
	report.Stage = decoded.Stage
	report.Repaired = decoded.Repaired
	report.Fallback = decoded.Fallback
	report.Duration = time.Since(start).Round(time.Millisecond).String()
	return report, nil
}

// callWithRetry calls the provider, retrying transport failures up to
// opts.Retries times while the context is alive.
func (a *Analyzer) callWithRetry(ctx context.Context, req Request) (string, error) {
	raw, err := a.provider.Generate(ctx, req)
	for attempt := 0; err != nil && attempt < a.opts.Retries && ctx.Err() == nil; attempt++ {
		if a.opts.Verbose {
			fmt.Fprintf(os.Stderr, "[analyzer] attempt %d failed, retrying: %v\n", attempt+1, err)
		}
		raw, err = a.provider.Generate(ctx, req)
	}
	return raw, err
}

func (a *Analyzer) report(phase string, elapsed time.Duration, err error) {
	if a.progress != nil {
		a.progress(phase, elapsed, err)
	}
}

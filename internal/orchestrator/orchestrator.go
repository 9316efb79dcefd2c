// Package orchestrator coordinates the Read → Analyze → Report pipeline and
// the dashboard server.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/iyulab/threatlens/internal/analyzer"
	"github.com/iyulab/threatlens/internal/browser"
	"github.com/iyulab/threatlens/internal/config"
	"github.com/iyulab/threatlens/internal/input"
	"github.com/iyulab/threatlens/internal/jsonfix"
	"github.com/iyulab/threatlens/internal/reporter"
	"github.com/iyulab/threatlens/internal/server"
)

// Options holds CLI flags for the orchestrator.
type Options struct {
	Input   string // file path, or "-" for stdin
	Model   string // overrides llm.model for this run
	Serve   bool   // keep the dashboard open on the result
	Package bool   // zip the output directory (also enabled by output.package)
	NoOpen  bool   // do not launch a browser when serving
	Verbose bool
	Version string
}

// Result summarizes a completed one-shot run.
type Result struct {
	Report    *analyzer.Report
	Source    string
	OutputDir string
	Manifest  *reporter.Manifest
	ZipPath   string
}

// Orchestrator runs the one-shot pipeline and the dashboard.
type Orchestrator struct {
	cfg      *config.Config
	opts     Options
	provider analyzer.Provider // optional: injected for testing
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
	open     func(string) error
}

// New creates an Orchestrator with a validated config.
func New(cfg *config.Config, opts Options) *Orchestrator {
	return &Orchestrator{
		cfg:    cfg,
		opts:   opts,
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		open:   browser.Open,
	}
}

// SetProvider overrides the LLM provider (used in tests).
func (o *Orchestrator) SetProvider(p analyzer.Provider) {
	o.provider = p
}

// SetIO replaces the standard streams (used in tests).
func (o *Orchestrator) SetIO(stdin io.Reader, stdout, stderr io.Writer) {
	o.stdin, o.stdout, o.stderr = stdin, stdout, stderr
}

// NewAnalyzer builds the analyzer described by the config.
func (o *Orchestrator) NewAnalyzer() (*analyzer.Analyzer, error) {
	provider := o.provider
	if provider == nil {
		var err error
		provider, err = analyzer.NewProvider(
			o.cfg.LLM.Provider,
			o.cfg.LLM.APIKey,
			o.cfg.LLM.Endpoint,
			o.cfg.LLM.Timeout,
		)
		if err != nil {
			return nil, fmt.Errorf("create provider: %w", err)
		}
	}

	repair, ok := jsonfix.Strategy(o.cfg.Decoder.Repair)
	if !ok {
		return nil, fmt.Errorf("unsupported decoder.repair: %q", o.cfg.Decoder.Repair)
	}
	decoder := analyzer.NewDecoder(repair, o.opts.Verbose)
	decoder.SetLogWriter(o.stderr)

	timeout := time.Duration(o.cfg.LLM.Timeout) * time.Second
	return analyzer.New(provider, decoder, analyzer.Options{
		Models:      o.cfg.ModelsWithDefaultFirst(),
		Temperature: o.cfg.LLM.Temperature,
		MaxTokens:   o.cfg.LLM.MaxTokens,
		Timeout:     timeout,
		Retries:     o.cfg.LLM.Retries,
		Verbose:     o.opts.Verbose,
	}), nil
}

// Run executes the one-shot pipeline: read the input, analyze it, and write
// the artifacts. With Options.Serve it then serves the dashboard until ctx
// is cancelled.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	startTime := time.Now()

	// --- Stage 1: Read ---
	doc, err := o.readInput()
	if err != nil {
		return nil, err
	}
	kind := "text"
	switch {
	case doc.Binary:
		kind = "binary, printable strings extracted"
	case doc.HTML:
		kind = "html, converted to markdown"
	}
	fmt.Fprintf(o.stderr, "[*] Input: %s (%d bytes, %s)\n", doc.Name, doc.Size, kind)
	if doc.Truncated {
		fmt.Fprintf(o.stderr, "[*] Input truncated to %d characters\n", input.MaxChars)
	}

	// --- Stage 2: Analyze ---
	a, err := o.NewAnalyzer()
	if err != nil {
		return nil, err
	}
	a.SetProgress(func(phase string, elapsed time.Duration, err error) {
		if err != nil && o.opts.Verbose {
			fmt.Fprintf(o.stderr, "[orchestrator] %s failed after %s: %v\n", phase, elapsed.Round(time.Millisecond), err)
			return
		}
		if o.opts.Verbose {
			fmt.Fprintf(o.stderr, "[orchestrator] %s done in %s\n", phase, elapsed.Round(time.Millisecond))
		}
	})

	settings := analyzer.Settings{Model: o.opts.Model, Persona: o.cfg.LLM.Persona}
	model, err := a.ResolveModel(settings.Model)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(o.stderr, "[*] Analyzing with %s...\n", model)

	report, err := a.Analyze(ctx, settings, doc.Text)
	if err != nil {
		return nil, err
	}
	report.Truncated = report.Truncated || doc.Truncated
	switch {
	case report.Fallback:
		fmt.Fprintf(o.stderr, "[!] Model response could not be decoded; writing fallback result\n")
	case report.Repaired:
		fmt.Fprintf(o.stderr, "[*] Truncated model response repaired\n")
	}

	// --- Stage 3: Report ---
	rep, err := reporter.New()
	if err != nil {
		return nil, fmt.Errorf("create reporter: %w", err)
	}
	data := reporter.ReportData{
		Version:     o.opts.Version,
		GeneratedAt: time.Now().UTC(),
		Source:      doc.Name,
		Report:      report,
	}

	res := &Result{Report: report, Source: doc.Name, OutputDir: GenerateOutputDir(o.cfg.Output.Dir, report.ID)}
	if o.opts.Verbose {
		fmt.Fprintf(o.stderr, "[orchestrator] output: %s\n", res.OutputDir)
	}
	res.Manifest, err = rep.WriteArtifacts(res.OutputDir, data, o.cfg.Output.Formats)
	if err != nil {
		return nil, fmt.Errorf("write artifacts: %w", err)
	}
	fmt.Fprintf(o.stderr, "[*] Artifacts written: %s (%d files)\n", res.OutputDir, len(res.Manifest.Files))

	if o.opts.Package || o.cfg.Output.Package {
		zipPath, zipErr := reporter.Package(res.OutputDir)
		if zipErr != nil {
			fmt.Fprintf(o.stderr, "[orchestrator] warning: package: %v\n", zipErr)
		} else {
			res.ZipPath = zipPath
			fmt.Fprintf(o.stderr, "[*] Package: %s\n", zipPath)
		}
	}

	fmt.Fprintf(o.stderr, "[*] Total time: %s\n", time.Since(startTime).Round(time.Millisecond))
	o.printSummary(res, data)

	if o.opts.Serve {
		return res, o.serve(ctx, a, rep, func(s *server.Server) {
			s.Session().Complete(analyzer.Settings{Model: report.Model, Persona: o.cfg.LLM.Persona}, doc.Name, report)
		})
	}
	return res, nil
}

// Serve runs the dashboard until ctx is cancelled.
func (o *Orchestrator) Serve(ctx context.Context) error {
	a, err := o.NewAnalyzer()
	if err != nil {
		return err
	}
	rep, err := reporter.New()
	if err != nil {
		return fmt.Errorf("create reporter: %w", err)
	}
	return o.serve(ctx, a, rep, nil)
}

func (o *Orchestrator) serve(ctx context.Context, a *analyzer.Analyzer, rep *reporter.Reporter, prepare func(*server.Server)) error {
	srv := server.New(server.Options{
		Analyzer: a,
		Reporter: rep,
		Version:  o.opts.Version,
		Persona:  o.cfg.LLM.Persona,
		Verbose:  o.opts.Verbose,
	})
	if prepare != nil {
		prepare(srv)
	}

	addr, err := srv.Start(ctx, o.cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer srv.Stop()

	url := "http://" + addr + "/"
	fmt.Fprintf(o.stderr, "[*] Dashboard: %s (Ctrl+C to stop)\n", url)
	if o.cfg.Server.OpenBrowser && !o.opts.NoOpen {
		if err := o.open(url); err != nil {
			fmt.Fprintf(o.stderr, "[orchestrator] warning: %v\n", err)
		}
	}

	<-ctx.Done()
	fmt.Fprintf(o.stderr, "[*] Shutting down\n")
	return nil
}

func (o *Orchestrator) readInput() (*input.Document, error) {
	switch o.opts.Input {
	case "":
		return nil, fmt.Errorf("no input: pass a file path or - for stdin")
	case "-":
		return input.Load("stdin", o.stdin)
	default:
		return input.ReadFile(o.opts.Input)
	}
}

func (o *Orchestrator) printSummary(res *Result, data reporter.ReportData) {
	r := res.Report.Result
	c := data.Counts()
	fmt.Fprintf(o.stdout, "\n=== threatlens Report ===\n")
	fmt.Fprintf(o.stdout, "Source: %s\n", res.Source)
	fmt.Fprintf(o.stdout, "Threat score: %d/100 (%s)\n", r.ThreatScore, data.Level())
	fmt.Fprintf(o.stdout, "Events: %d critical, %d high, %d elevated, %d info\n", c.Critical, c.High, c.Elevated, c.Info)
	fmt.Fprintf(o.stdout, "Techniques: %d across %d tactics\n", len(r.MitreMapping), len(data.Tactics()))
	if res.Report.Fallback {
		fmt.Fprintf(o.stdout, "Decoder: %s (fallback result)\n", res.Report.Stage)
	}
	fmt.Fprintf(o.stdout, "Output: %s\n", res.OutputDir)
	if res.ZipPath != "" {
		fmt.Fprintf(o.stdout, "Package: %s\n", res.ZipPath)
	}
}

// GenerateOutputDir returns baseDir/<timestamp>-<id prefix> for a report.
func GenerateOutputDir(baseDir, reportID string) string {
	ts := time.Now().Format("2006-01-02T15-04-05")
	if len(reportID) > 8 {
		reportID = reportID[:8]
	}
	if reportID == "" {
		return filepath.Join(baseDir, ts)
	}
	return filepath.Join(baseDir, ts+"-"+reportID)
}

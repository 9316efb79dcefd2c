package reporter

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iyulab/threatlens/internal/analyzer"
)

//go:embed templates/*.tmpl
var templates embed.FS

// ReportData is the complete data model passed to the dashboard template.
type ReportData struct {
	// Header
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`

	// Interactive enables the input form and live status (serve mode).
	// Exported reports render the results only.
	Interactive    bool     `json:"-"`
	Models         []string `json:"models,omitempty"`
	Model          string   `json:"model,omitempty"`
	Persona        string   `json:"-"`
	DefaultPersona string   `json:"-"`
	Busy           bool     `json:"busy"`

	// Source names the analyzed input (file name or "pasted").
	Source string           `json:"source,omitempty"`
	Report *analyzer.Report `json:"report,omitempty"`
	Error  string           `json:"error,omitempty"`
}

// HasResult reports whether there is an analysis to show.
func (d ReportData) HasResult() bool {
	return d.Report != nil
}

// Level is the threat level of the current result.
func (d ReportData) Level() string {
	if d.Report == nil {
		return "low"
	}
	return ThreatLevel(d.Report.Result.ThreatScore)
}

// Counts tallies the current timeline per display bucket.
func (d ReportData) Counts() BucketCounts {
	if d.Report == nil {
		return BucketCounts{}
	}
	return CountBuckets(d.Report.Result.Timeline)
}

// Tactics groups the current technique mapping in kill-chain order.
func (d ReportData) Tactics() []TacticGroup {
	if d.Report == nil {
		return nil
	}
	return GroupByTactic(d.Report.Result.MitreMapping)
}

// Reporter renders the dashboard and exported reports.
type Reporter struct {
	tmpl *template.Template
}

// New creates a Reporter with the embedded HTML template.
func New() (*Reporter, error) {
	funcMap := template.FuncMap{
		"severityClass": SeverityClass,
		"levelClass": func(level string) string {
			return "level-" + level
		},
		"killChainClass": func(g TacticGroup) string {
			if !g.Known {
				return "kc-default"
			}
			p := strings.ToLower(g.Tactic)
			switch {
			case strings.Contains(p, "recon"), strings.Contains(p, "resource"), strings.Contains(p, "initial"):
				return "kc-initial"
			case strings.Contains(p, "execut"), strings.Contains(p, "persist"), strings.Contains(p, "privilege"):
				return "kc-execution"
			case strings.Contains(p, "defense"), strings.Contains(p, "credential"), strings.Contains(p, "discovery"):
				return "kc-evasion"
			case strings.Contains(p, "lateral"), strings.Contains(p, "collect"), strings.Contains(p, "command"):
				return "kc-lateral"
			default:
				return "kc-impact"
			}
		},
		"stageClass": func(r *analyzer.Report) string {
			switch {
			case r.Fallback:
				return "stage-fallback"
			case r.Repaired:
				return "stage-repaired"
			default:
				return "stage-ok"
			}
		},
		"upper": strings.ToUpper,
	}

	tmpl, err := template.New("dashboard.html.tmpl").Funcs(funcMap).ParseFS(templates, "templates/dashboard.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	return &Reporter{tmpl: tmpl}, nil
}

// Render writes the dashboard for data to w.
func (r *Reporter) Render(w io.Writer, data ReportData) error {
	if err := r.tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// GenerateString renders the dashboard to a string.
func (r *Reporter) GenerateString(data ReportData) (string, error) {
	var buf strings.Builder
	if err := r.Render(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Generate renders a static report and writes it to the output directory.
func (r *Reporter) Generate(data ReportData, outputDir string) (string, error) {
	data.Interactive = false
	reportPath := filepath.Join(outputDir, "report.html")
	f, err := os.Create(reportPath)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if err := r.Render(f, data); err != nil {
		return "", err
	}

	return reportPath, nil
}

package reporter

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Artifact file names written by WriteArtifacts.
const (
	ResultJSON   = "result.json"
	ResultYAML   = "result.yaml"
	ReportMD     = "report.md"
	ReportHTML   = "report.html"
	ManifestJSON = "manifest.json"
)

// Manifest records the artifacts of one analysis for integrity checks.
type Manifest struct {
	Version     string         `json:"version"`
	ReportID    string         `json:"report_id,omitempty"`
	Source      string         `json:"source,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ToolVersion string         `json:"tool_version"`
	Files       []ArtifactFile `json:"files"`
}

// ArtifactFile records one written artifact.
type ArtifactFile struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// WriteArtifacts writes the requested formats (json, yaml, markdown, html)
// for data into dir, followed by manifest.json. It returns the manifest.
func (r *Reporter) WriteArtifacts(dir string, data ReportData, formats []string) (*Manifest, error) {
	if data.Report == nil {
		return nil, fmt.Errorf("write artifacts: no report")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	manifest := &Manifest{
		Version:     "1.0",
		ReportID:    data.Report.ID,
		Source:      data.Source,
		CreatedAt:   time.Now().UTC(),
		ToolVersion: data.Version,
	}

	write := func(name string, content []byte) error {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		h := sha256.Sum256(content)
		manifest.Files = append(manifest.Files, ArtifactFile{
			Name:   name,
			SHA256: hex.EncodeToString(h[:]),
			Size:   int64(len(content)),
		})
		return nil
	}

	if slices.Contains(formats, "json") {
		b, err := json.MarshalIndent(data.Report, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		if err := write(ResultJSON, b); err != nil {
			return nil, err
		}
	}
	if slices.Contains(formats, "yaml") {
		b, err := yaml.Marshal(data.Report)
		if err != nil {
			return nil, fmt.Errorf("marshal result yaml: %w", err)
		}
		if err := write(ResultYAML, b); err != nil {
			return nil, err
		}
	}
	if slices.Contains(formats, "markdown") {
		if err := write(ReportMD, []byte(RenderMarkdown(data))); err != nil {
			return nil, err
		}
	}
	if slices.Contains(formats, "html") {
		data.Interactive = false
		html, err := r.GenerateString(data)
		if err != nil {
			return nil, err
		}
		if err := write(ReportHTML, []byte(html)); err != nil {
			return nil, err
		}
	}

	b, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestJSON), b, 0644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return manifest, nil
}

// Package creates a ZIP archive of the output directory for handoff.
// Returns the path to the created ZIP file (outputDir + ".zip").
func Package(outputDir string) (string, error) {
	zipPath := filepath.Clean(outputDir) + ".zip"

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", fmt.Errorf("read output dir: %w", err)
	}

	zipFile, err := os.Create(zipPath)
	if err != nil {
		return "", fmt.Errorf("create zip: %w", err)
	}
	defer zipFile.Close()

	w := zip.NewWriter(zipFile)
	dirBase := filepath.Base(outputDir)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := addToZip(w, filepath.Join(outputDir, entry.Name()), dirBase+"/"+entry.Name()); err != nil {
			w.Close()
			return "", err
		}
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close zip writer: %w", err)
	}
	if err := zipFile.Close(); err != nil {
		return "", fmt.Errorf("close zip file: %w", err)
	}

	return zipPath, nil
}

func addToZip(w *zip.Writer, path, archivePath string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	zf, err := w.Create(archivePath)
	if err != nil {
		return fmt.Errorf("zip create %s: %w", archivePath, err)
	}
	if _, err := io.Copy(zf, f); err != nil {
		return fmt.Errorf("zip write %s: %w", archivePath, err)
	}
	return nil
}

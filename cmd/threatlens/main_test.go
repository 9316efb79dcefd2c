package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iyulab/threatlens/internal/analyzer"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDecode_TruncatedFromStdin(t *testing.T) {
	raw := "```json\n{\"threatScore\": 55, \"markdownReport\": \"## Summary\\nLateral movem"
	stdout, stderr, err := execute(t, raw, "decode", "-")
	if err != nil {
		t.Fatalf("decode: %v\n%s", err, stderr)
	}

	var res analyzer.AnalysisResult
	if err := json.Unmarshal([]byte(stdout), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout)
	}
	if res.ThreatScore != 55 || res.Timeline == nil || res.MitreMapping == nil {
		t.Errorf("result = %+v", res)
	}
	if !strings.Contains(stderr, "repaired=true") {
		t.Errorf("stage line = %q", stderr)
	}
}

func TestDecode_FileFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.txt")
	os.WriteFile(path, []byte("Sorry, I can't help with that."), 0644)

	stdout, stderr, err := execute(t, "", "decode", path)
	if err == nil {
		t.Fatal("expected an error for an unrecoverable response")
	}
	if !strings.Contains(stdout, "Analysis Incomplete") {
		t.Errorf("fallback result should still be printed: %s", stdout)
	}
	if !strings.Contains(stderr, "UNRECOVERABLE") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestDecode_UnknownRepair(t *testing.T) {
	if _, _, err := execute(t, "{}", "decode", "--repair", "magic", "-"); err == nil {
		t.Fatal("expected error for unknown repair strategy")
	}
}

func TestSchema(t *testing.T) {
	stdout, _, err := execute(t, "", "schema")
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(stdout), &schema); err != nil {
		t.Fatalf("schema output is not JSON: %v", err)
	}
	props, _ := schema["properties"].(map[string]interface{})
	for _, field := range []string{"threatScore", "markdownReport", "timeline", "mitreMapping"} {
		if _, ok := props[field]; !ok {
			t.Errorf("schema missing %s", field)
		}
	}
}

func TestAnalyze_RequiresInput(t *testing.T) {
	if _, _, err := execute(t, "", "analyze"); err == nil {
		t.Fatal("expected usage error without an input argument")
	}
}

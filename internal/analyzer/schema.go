// Package analyzer sends security log data to an LLM and decodes the
// structured threat assessment it returns.
package analyzer

// Severity is the five-level severity of a timeline event.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Severities lists every valid severity, most severe first.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// ValidSeverities are the accepted timeline severity values.
var ValidSeverities = map[Severity]bool{
	SeverityInfo:     true,
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// TimelineEvent is a single event in the reconstructed attack timeline.
type TimelineEvent struct {
	Timestamp   string   `json:"timestamp" yaml:"timestamp"`
	Description string   `json:"description" yaml:"description"` // ~15 words by convention
	Severity    Severity `json:"severity" yaml:"severity"`
}

// MitreTechnique maps observed behavior to a MITRE ATT&CK technique.
type MitreTechnique struct {
	Tactic string `json:"tactic" yaml:"tactic"`
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
}

// AnalysisResult is the structured assessment returned by the model.
// Timeline and MitreMapping are never nil in a decoded result.
type AnalysisResult struct {
	ThreatScore    int              `json:"threatScore" yaml:"threatScore"`
	MarkdownReport string           `json:"markdownReport" yaml:"markdownReport"`
	Timeline       []TimelineEvent  `json:"timeline" yaml:"timeline"`
	MitreMapping   []MitreTechnique `json:"mitreMapping" yaml:"mitreMapping"`
}

// TechniqueIDPattern is the ATT&CK technique ID convention (T1059, T1059.001).
const TechniqueIDPattern = `^T\d{4}(\.\d{3})?$`

// AnalysisSchema is the JSON Schema the model output must satisfy. It is sent
// to providers that support constrained output and used for local validation.
var AnalysisSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"threatScore": map[string]interface{}{
			"type":        "integer",
			"minimum":     0,
			"maximum":     100,
			"description": "Overall threat score from 0 (benign) to 100 (active compromise)",
		},
		"markdownReport": map[string]interface{}{
			"type":        "string",
			"description": "Full incident report in markdown",
		},
		"timeline": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"timestamp":   map[string]interface{}{"type": "string"},
					"description": map[string]interface{}{"type": "string", "description": "At most ~15 words"},
					"severity":    map[string]interface{}{"type": "string", "enum": []string{"INFO", "LOW", "MEDIUM", "HIGH", "CRITICAL"}},
				},
				"required": []interface{}{"timestamp", "description", "severity"},
			},
		},
		"mitreMapping": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"tactic": map[string]interface{}{"type": "string"},
					"id":     map[string]interface{}{"type": "string", "pattern": TechniqueIDPattern},
					"name":   map[string]interface{}{"type": "string"},
				},
				"required": []interface{}{"tactic", "id", "name"},
			},
		},
	},
	"required": []interface{}{"threatScore", "markdownReport", "timeline", "mitreMapping"},
}

// FallbackReport is the markdown shown when the model response cannot be decoded.
const FallbackReport = `## Analysis Incomplete

The model response could not be parsed into a structured assessment, even after
automatic repair. This usually means the response was cut off by the output
token limit or did not follow the required format.

Try again with less input data, or switch to a different model.`

// FallbackResult returns the fixed result substituted for an undecodable response.
func FallbackResult() AnalysisResult {
	return AnalysisResult{
		ThreatScore:    0,
		MarkdownReport: FallbackReport,
		Timeline:       []TimelineEvent{},
		MitreMapping:   []MitreTechnique{},
	}
}

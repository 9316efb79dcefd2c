package reporter

import (
	"strings"

	"github.com/iyulab/threatlens/internal/analyzer"
)

// Display buckets for timeline severities. LOW and MEDIUM share one bucket.
const (
	BucketCritical = "critical"
	BucketHigh     = "high"
	BucketElevated = "elevated"
	BucketInfo     = "info"
)

// Buckets lists the display buckets, most severe first.
var Buckets = []string{BucketCritical, BucketHigh, BucketElevated, BucketInfo}

// BucketCounts is the number of timeline events in each display bucket.
type BucketCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Elevated int `json:"elevated"`
	Info     int `json:"info"`
}

// Total returns the number of counted events.
func (c BucketCounts) Total() int {
	return c.Critical + c.High + c.Elevated + c.Info
}

// BucketOf maps a severity to its display bucket. Unknown values land in info.
func BucketOf(s analyzer.Severity) string {
	switch analyzer.Severity(strings.ToUpper(strings.TrimSpace(string(s)))) {
	case analyzer.SeverityCritical:
		return BucketCritical
	case analyzer.SeverityHigh:
		return BucketHigh
	case analyzer.SeverityMedium, analyzer.SeverityLow:
		return BucketElevated
	default:
		return BucketInfo
	}
}

// CountBuckets tallies timeline events per display bucket.
func CountBuckets(events []analyzer.TimelineEvent) BucketCounts {
	var c BucketCounts
	for _, ev := range events {
		switch BucketOf(ev.Severity) {
		case BucketCritical:
			c.Critical++
		case BucketHigh:
			c.High++
		case BucketElevated:
			c.Elevated++
		default:
			c.Info++
		}
	}
	return c
}

// SeverityRank orders severities for sorting: CRITICAL is 0, INFO is 4,
// anything else sorts after INFO.
func SeverityRank(s analyzer.Severity) int {
	for i, known := range analyzer.Severities {
		if strings.EqualFold(string(s), string(known)) {
			return i
		}
	}
	return len(analyzer.Severities)
}

// SeverityClass returns the CSS class for a timeline severity badge.
func SeverityClass(s analyzer.Severity) string {
	switch analyzer.Severity(strings.ToUpper(string(s))) {
	case analyzer.SeverityCritical:
		return "sev-critical"
	case analyzer.SeverityHigh:
		return "sev-high"
	case analyzer.SeverityMedium:
		return "sev-medium"
	case analyzer.SeverityLow:
		return "sev-low"
	default:
		return "sev-info"
	}
}

// ThreatLevel classifies a 0-100 threat score for the gauge.
func ThreatLevel(score int) string {
	switch {
	case score >= 80:
		return "critical"
	case score >= 60:
		return "high"
	case score >= 30:
		return "medium"
	default:
		return "low"
	}
}

package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/iyulab/threatlens/internal/jsonfix"
)

// Stage is the furthest state a decode reached.
type Stage string

const (
	StageRaw           Stage = "RAW"
	StageStripped      Stage = "STRIPPED"
	StageParsed        Stage = "PARSED"
	StageParseFailed   Stage = "PARSE_FAILED"
	StageRepaired      Stage = "REPAIRED"
	StageUnrecoverable Stage = "UNRECOVERABLE"
)

// Decoded is the outcome of decoding one raw model response.
type Decoded struct {
	Result   AnalysisResult
	Stage    Stage
	Repaired bool  // the result came from the repaired text
	Fallback bool  // Result is FallbackResult()
	Cause    error // why decoding fell back; diagnostic only
}

// Decoder turns raw model output into an AnalysisResult. It strips fences,
// parses, makes exactly one repair attempt on a syntax failure, validates,
// and falls back to FallbackResult when nothing works.
type Decoder struct {
	repair  jsonfix.RepairFunc
	verbose bool
	logw    io.Writer
}

// NewDecoder creates a Decoder. A nil repair uses jsonfix.Structural.
func NewDecoder(repair jsonfix.RepairFunc, verbose bool) *Decoder {
	if repair == nil {
		repair = jsonfix.Structural
	}
	return &Decoder{repair: repair, verbose: verbose, logw: os.Stderr}
}

// SetLogWriter redirects diagnostics (default os.Stderr).
func (d *Decoder) SetLogWriter(w io.Writer) {
	d.logw = w
}

// Decode never fails: undecodable input yields the fallback result.
func (d *Decoder) Decode(raw string) (out Decoded) {
	out.Stage = StageRaw
	defer func() {
		if r := recover(); r != nil {
			out = d.fallback(raw, out.Stage, fmt.Errorf("panic during decode: %v", r))
		}
	}()

	stripped := jsonfix.StripFence(raw)
	out.Stage = StageStripped

	obj, err := parseObject(stripped)
	if err != nil {
		out.Stage = StageParseFailed
		if d.verbose {
			fmt.Fprintf(d.logw, "[decoder] parse failed (raw %d bytes), repairing: %v\n", len(raw), err)
		}

		repaired, rerr := d.repair(stripped)
		if rerr != nil {
			return d.fallback(raw, out.Stage, fmt.Errorf("repair: %w", rerr))
		}
		out.Stage = StageRepaired
		out.Repaired = true

		obj, err = parseObject(repaired)
		if err != nil {
			return d.fallback(raw, out.Stage, fmt.Errorf("parse repaired: %w", err))
		}
	}

	result, err := toResult(obj)
	if err != nil {
		return d.fallback(raw, out.Stage, err)
	}

	out.Result = result
	out.Stage = StageParsed
	if d.verbose && out.Repaired {
		fmt.Fprintf(d.logw, "[decoder] recovered truncated response (raw %d bytes)\n", len(raw))
	}
	return out
}

func (d *Decoder) fallback(raw string, reached Stage, cause error) Decoded {
	// Diagnostics go to stderr even when not verbose: a fallback hides the
	// model output from the user.
	fmt.Fprintf(d.logw, "[decoder] unrecoverable response after %s (raw %d bytes): %v\n", reached, len(raw), cause)
	return Decoded{
		Result:   FallbackResult(),
		Stage:    StageUnrecoverable,
		Repaired: reached == StageRepaired,
		Fallback: true,
		Cause:    cause,
	}
}

var errNotObject = errors.New("top-level value is not an object")

func parseObject(text string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// toResult coerces and validates obj, then converts it to an AnalysisResult.
func toResult(obj map[string]any) (AnalysisResult, error) {
	coerce(obj)
	if err := Validate(obj); err != nil {
		return AnalysisResult{}, err
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("re-marshal: %w", err)
	}
	var result AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return AnalysisResult{}, fmt.Errorf("convert result: %w", err)
	}
	if result.Timeline == nil {
		result.Timeline = []TimelineEvent{}
	}
	if result.MitreMapping == nil {
		result.MitreMapping = []MitreTechnique{}
	}
	return result, nil
}

// DecodeResponse decodes raw with the default structural repair and no
// diagnostics output.
func DecodeResponse(raw string) Decoded {
	d := NewDecoder(nil, false)
	d.SetLogWriter(io.Discard)
	return d.Decode(raw)
}

package jsonfix

import (
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairFunc turns malformed JSON text into text that should parse.
type RepairFunc func(text string) (string, error)

// Structural is the default RepairFunc. It closes what truncation left open
// and never fails.
func Structural(text string) (string, error) {
	return Repair(text), nil
}

// Lenient delegates to kaptinlin/jsonrepair, which also rewrites unquoted or
// dangling keys, single quotes and comments.
func Lenient(text string) (string, error) {
	return jsonrepair.JSONRepair(text)
}

// Strategy returns the RepairFunc registered under name. Unknown names
// report false.
func Strategy(name string) (RepairFunc, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "structural":
		return Structural, true
	case "lenient":
		return Lenient, true
	default:
		return nil, false
	}
}

// Repair scans text and closes it. See RepairScanned.
func Repair(text string) string {
	return RepairScanned(text, Scan(text))
}

// RepairScanned produces a structurally closed document from text and the
// state Scan reported for it:
//
//  1. an open string literal is closed (an unfinished escape is dropped first)
//  2. a trailing comma is removed
//  3. a trailing colon gets a null value
//  4. open brackets are closed, most recent first
//
// A key left without a colon is not fixed; the result may still fail to parse.
func RepairScanned(text string, st ScanState) string {
	var b strings.Builder
	b.Grow(len(text) + len(st.Stack) + 6)

	out := text
	if st.InString {
		out = out[:len(out)-st.Pending]
		out += `"`
	}

	trimmed := strings.TrimRight(out, " \t\r\n")
	if strings.HasSuffix(trimmed, ",") {
		out = trimmed[:len(trimmed)-1]
		trimmed = strings.TrimRight(out, " \t\r\n")
	}

	b.WriteString(out)
	if strings.HasSuffix(trimmed, ":") {
		b.WriteString("null")
	}

	for i := len(st.Stack) - 1; i >= 0; i-- {
		b.WriteByte(closer(st.Stack[i]))
	}

	return b.String()
}

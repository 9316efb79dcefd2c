// Package jsonfix recovers JSON documents from LLM output that may be wrapped in
// markdown fences or truncated mid-structure by a generation length cap.
package jsonfix

import "strings"

const fence = "```"

// StripFence removes a leading ``` (or ```json) fence line and a trailing ```
// fence line, repeating while the remainder still opens with a fence, so
// stripping its own output changes nothing. Text that does not start with a
// fence is returned unchanged.
func StripFence(raw string) string {
	s := strings.TrimLeft(raw, " \t\r\n")
	if !strings.HasPrefix(s, fence) {
		return raw
	}
	for strings.HasPrefix(s, fence) {
		s = strings.TrimLeft(stripOnce(s), " \t\r\n")
	}
	return s
}

func stripOnce(s string) string {
	s = s[len(fence):]
	if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
		s = s[4:]
	}
	// Drop the rest of the fence line only when it carries nothing but whitespace;
	// "```json{...}" keeps its payload.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 && strings.TrimSpace(s[:idx]) == "" {
		s = s[idx+1:]
	}

	s = strings.TrimRight(s, " \t\r\n")
	s = strings.TrimSuffix(s, fence)

	return strings.TrimSpace(s)
}

package jsonfix

// ScanState is the result of a single left-to-right pass over a possibly
// truncated JSON text.
type ScanState struct {
	// Stack holds the unmatched openers ('{' or '['); the last element is the
	// most recently opened.
	Stack []byte
	// InString reports whether the text ends inside a string literal.
	InString bool
	// Escaped reports whether the text ends on a backslash that has not yet
	// consumed the following character.
	Escaped bool
	// Pending is the length of an unfinished escape at end of text: 1 for a
	// lone backslash, 2 to 5 for a \u escape missing some of its hex digits.
	Pending int

	Pushes int
	Pops   int
}

// Depth returns the number of structures still open at end of text.
func (s ScanState) Depth() int {
	return len(s.Stack)
}

// Scan classifies every byte of text as string content, string delimiter,
// escape, structural bracket or other, and records the brackets left open.
//
// A closer pops only when it matches the top of the stack. Mismatched closers
// and closers on an empty stack are ignored.
func Scan(text string) ScanState {
	st := ScanState{Stack: make([]byte, 0, 8)}
	hexLeft := 0

	for i := 0; i < len(text); i++ {
		c := text[i]

		if st.InString {
			if hexLeft > 0 {
				if isHex(c) {
					hexLeft--
					st.Pending++
					if hexLeft == 0 {
						st.Pending = 0
					}
					continue
				}
				// malformed \u escape; the byte is read as plain content
				hexLeft = 0
				st.Pending = 0
			}
			switch {
			case st.Escaped:
				st.Escaped = false
				st.Pending = 0
				if c == 'u' {
					hexLeft = 4
					st.Pending = 2
				}
			case c == '\\':
				st.Escaped = true
				st.Pending = 1
			case c == '"':
				st.InString = false
			}
			continue
		}

		switch c {
		case '"':
			st.InString = true
		case '{', '[':
			st.Stack = append(st.Stack, c)
			st.Pushes++
		case '}', ']':
			if len(st.Stack) == 0 {
				continue
			}
			if top := st.Stack[len(st.Stack)-1]; top == opener(c) {
				st.Stack = st.Stack[:len(st.Stack)-1]
				st.Pops++
			}
		}
	}

	return st
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func opener(closer byte) byte {
	if closer == '}' {
		return '{'
	}
	return '['
}

func closer(opener byte) byte {
	if opener == '{' {
		return '}'
	}
	return ']'
}

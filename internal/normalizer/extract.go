package normalizer

import (
	"errors"
	"fmt"
	"strings"
)

var (
	errNoObject   = errors.New("no JSON object in response")
	errNoCutPoint = errors.New("truncated output has no complete prefix")
)

// StripFences removes a leading ```json / ``` fence and a trailing ``` fence.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		// drop the language tag on the opening line
		if nl := strings.IndexByte(text, '\n'); nl >= 0 && !strings.ContainsAny(text[:nl], "{[") {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "json")
		}
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// ExtractSpan returns the top-level JSON object starting at the first '{'.
// complete is false when the object is never closed. Raw control characters
// inside string literals are escaped on the way.
func ExtractSpan(text string) (span string, complete bool, err error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false, errNoObject
	}

	var b strings.Builder
	b.Grow(len(text) - start)

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			case c < 0x20:
				b.WriteString(escapeControl(c))
				continue
			}
			b.WriteByte(c)
			continue
		}

		b.WriteByte(c)
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return b.String(), true, nil
			}
		}
	}
	return b.String(), false, nil
}

func escapeControl(c byte) string {
	switch c {
	case '\n':
		return `\n`
	case '\r':
		return `\r`
	case '\t':
		return `\t`
	}
	return fmt.Sprintf(`\u%04x`, c)
}

// RepairTruncated closes a JSON prefix that was cut off mid-generation.
//
// The prefix is cut back to the last point where every open container can be
// closed without leaving a partial value behind, and where no object that is
// an array element is still open. An array of line items therefore keeps
// exactly its fully generated elements.
func RepairTruncated(span string) (string, error) {
	var stack []byte

	cut := -1
	var cutStack []byte
	mark := func(pos int) {
		if !cleanStack(stack) {
			return
		}
		cut = pos
		cutStack = append(cutStack[:0], stack...)
	}

	inString, escaped := false, false
	for i := 0; i < len(span); i++ {
		c := span[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
			mark(i + 1)
		case '}', ']':
			if len(stack) == 0 {
				return "", errNoCutPoint
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				// already balanced
				return span[:i+1], nil
			}
			mark(i + 1)
		case ',':
			mark(i)
		}
	}

	if cut < 0 {
		return "", errNoCutPoint
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(span[:cut], " \t\r\n,"))
	for i := len(cutStack) - 1; i >= 0; i-- {
		if cutStack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String(), nil
}

// cleanStack reports whether no object on the stack is an array element.
func cleanStack(stack []byte) bool {
	inArray := false
	for _, c := range stack {
		if c == '[' {
			inArray = true
		} else if inArray {
			return false
		}
	}
	return true
}

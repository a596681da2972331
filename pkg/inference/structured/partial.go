package structured

// Partial is the best-effort value recovered from a truncated JSON payload.
// Dangling containers are closed at the current position, a half-written
// string value is kept truncated, and a dangling object key (or a key with no
// value yet) is dropped together with its preceding comma.
type Partial struct {
	// JSON is the repaired, syntactically complete document.
	JSON string
	// Depth counts the containers still open where the input ended.
	Depth int
	// InValue reports that the input ended in the middle of a value or key.
	InValue bool
	// Complete reports that the root value was fully closed by the input
	// itself, with no repair needed.
	Complete bool
}

type repairState int

const (
	stExpectValue repairState = iota
	stAfterValue
	stExpectKeyOrEnd
	stExpectKey
	stExpectColon
	stInString
	stInNumber
	stInLiteral
)

type repairFrame struct {
	kind byte // '{' or '['
	// entryLen is the output length where the current member or element
	// begins, including its preceding comma. Truncating to it drops the
	// unfinished entry cleanly.
	entryLen int
}

// ParsePartial repairs a possibly truncated JSON document. It returns false
// when the input holds no committable value yet (empty, whitespace, or
// leading garbage).
func ParsePartial(s string) (Partial, bool) {
	var (
		out      []byte
		stack    []repairFrame
		state    = stExpectValue
		isKey    bool
		escStart = -1 // output offset of an in-flight escape sequence
		uniRem   int
		numStart int
		litWord  string
		litDone  int
		rootDone bool
		garbage  bool
	)

	top := func() *repairFrame {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}

	// completeValue is called when a value closes during the scan.
	completeValue := func() {
		state = stAfterValue
		if len(stack) == 0 {
			rootDone = true
		}
	}

	i := 0
scan:
	for i < len(s) {
		c := s[i]

		switch state {
		case stInString:
			switch {
			case uniRem > 0:
				out = append(out, c)
				uniRem--
				if uniRem == 0 {
					escStart = -1
				}
			case escStart >= 0 && uniRem == 0 && out[len(out)-1] == '\\':
				out = append(out, c)
				if c == 'u' {
					uniRem = 4
				} else {
					escStart = -1
				}
			case c == '\\':
				escStart = len(out)
				out = append(out, c)
			case c == '"':
				out = append(out, c)
				if isKey {
					isKey = false
					state = stExpectColon
				} else {
					completeValue()
				}
			default:
				out = append(out, c)
			}
			i++
			continue

		case stInNumber:
			if isNumberByte(c) {
				out = append(out, c)
				i++
				continue
			}
			completeValue()
			continue // reprocess c in stAfterValue

		case stInLiteral:
			if litDone < len(litWord) && c == litWord[litDone] {
				out = append(out, c)
				litDone++
				if litDone == len(litWord) {
					completeValue()
				}
				i++
				continue
			}
			garbage = true
			break scan
		}

		if isSpace(c) {
			i++
			continue
		}

		switch state {
		case stExpectValue:
			switch {
			case c == '{':
				out = append(out, '{')
				stack = append(stack, repairFrame{kind: '{', entryLen: len(out)})
				state = stExpectKeyOrEnd
			case c == '[':
				out = append(out, '[')
				stack = append(stack, repairFrame{kind: '[', entryLen: len(out)})
				// stays in stExpectValue for the first element
			case c == '"':
				out = append(out, '"')
				state = stInString
			case c == ']' && top() != nil && top().kind == '[':
				out = out[:top().entryLen] // drop a trailing comma
				out = append(out, ']')
				stack = stack[:len(stack)-1]
				completeValue()
			case c == '-' || (c >= '0' && c <= '9'):
				numStart = len(out)
				out = append(out, c)
				state = stInNumber
			case c == 't':
				litWord, litDone = "true", 1
				out = append(out, c)
				state = stInLiteral
			case c == 'f':
				litWord, litDone = "false", 1
				out = append(out, c)
				state = stInLiteral
			case c == 'n':
				litWord, litDone = "null", 1
				out = append(out, c)
				state = stInLiteral
			default:
				garbage = true
				break scan
			}

		case stExpectKeyOrEnd, stExpectKey:
			switch {
			case c == '"':
				out = append(out, '"')
				isKey = true
				state = stInString
			case c == '}' && state == stExpectKeyOrEnd:
				out = append(out, '}')
				stack = stack[:len(stack)-1]
				completeValue()
			default:
				garbage = true
				break scan
			}

		case stExpectColon:
			if c == ':' {
				out = append(out, ':')
				state = stExpectValue
			} else {
				garbage = true
				break scan
			}

		case stAfterValue:
			t := top()
			switch {
			case t == nil:
				// Root value done; trailing bytes are ignored.
				break scan
			case c == ',':
				entry := len(out)
				out = append(out, ',')
				t.entryLen = entry
				if t.kind == '{' {
					state = stExpectKey
				} else {
					state = stExpectValue
				}
			case c == '}' && t.kind == '{':
				out = append(out, '}')
				stack = stack[:len(stack)-1]
				completeValue()
			case c == ']' && t.kind == '[':
				out = append(out, ']')
				stack = stack[:len(stack)-1]
				completeValue()
			default:
				garbage = true
				break scan
			}
		}
		i++
	}

	res := Partial{Depth: len(stack)}

	// Settle whatever the input left unfinished.
	switch {
	case garbage:
		res.InValue = len(stack) > 0
		if t := top(); t != nil {
			out = out[:t.entryLen]
		} else if !rootDone {
			return Partial{}, false
		}
	case state == stInString:
		res.InValue = true
		if isKey {
			t := top()
			out = out[:t.entryLen]
		} else {
			if escStart >= 0 {
				out = out[:escStart]
			}
			out = append(out, '"')
		}
	case state == stInNumber:
		res.InValue = true
		for len(out) > numStart && isDanglingNumberByte(out[len(out)-1]) {
			out = out[:len(out)-1]
		}
		if len(out) == numStart {
			if t := top(); t != nil {
				out = out[:t.entryLen]
			} else {
				return Partial{}, false
			}
		}
	case state == stInLiteral:
		res.InValue = true
		out = append(out, litWord[litDone:]...)
	case state == stExpectColon:
		res.InValue = true
		out = out[:top().entryLen]
	case state == stExpectValue, state == stExpectKey, state == stExpectKeyOrEnd:
		if t := top(); t != nil {
			out = out[:t.entryLen]
		} else {
			return Partial{}, false
		}
	case state == stAfterValue && len(stack) == 0:
		res.Complete = true
	}

	for j := len(stack) - 1; j >= 0; j-- {
		if stack[j].kind == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}

	if len(out) == 0 {
		return Partial{}, false
	}
	res.JSON = string(out)
	return res, true
}

func isNumberByte(c byte) bool {
	return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E'
}

// isDanglingNumberByte reports bytes a number cannot end on.
func isDanglingNumberByte(c byte) bool {
	return c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E'
}

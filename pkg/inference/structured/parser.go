package structured

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Mode selects the shape of the structured output stream.
type Mode string

const (
	// ModeObject streams partial snapshots of a single schema-shaped object.
	ModeObject Mode = "object"
	// ModeArray streams a growing array; a snapshot is emitted only when
	// the count of fully closed elements grows.
	ModeArray Mode = "array"
	// ModeEnum streams a single string constrained to a fixed set.
	ModeEnum Mode = "enum"
)

// Config declares what the caller expects from the model. Schema describes
// the object (object mode) or one element (array mode); Enum lists the
// permitted strings (enum mode).
type Config struct {
	Mode   Mode
	Name   string
	Schema map[string]any
	Enum   []string
}

// ProviderSchema renders the schema actually sent to the provider. Array
// mode wraps elements in an object because providers reliably emit objects;
// the stream exposed to the caller stays a plain array.
func (c Config) ProviderSchema() map[string]any {
	switch c.Mode {
	case ModeArray:
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"elements": map[string]any{"type": "array", "items": c.Schema},
			},
			"required":             []any{"elements"},
			"additionalProperties": false,
		}
	case ModeEnum:
		vals := make([]any, len(c.Enum))
		for i, v := range c.Enum {
			vals[i] = v
		}
		return map[string]any{"type": "string", "enum": vals}
	default:
		return c.Schema
	}
}

// Parser consumes the text deltas of one turn and produces the lazy sequence
// of partial snapshots. One Parser serves exactly one turn; a retried or
// continued turn starts a fresh one.
type Parser struct {
	cfg       Config
	fence     FenceStripper
	buf       strings.Builder
	validator *Validator

	lastSnapshot string
	closedElems  int
	lastEnum     string
}

func NewParser(cfg Config) (*Parser, error) {
	p := &Parser{cfg: cfg}
	switch cfg.Mode {
	case ModeObject:
		v, err := NewValidator(cfg.Schema)
		if err != nil {
			return nil, err
		}
		p.validator = v
	case ModeArray:
		v, err := NewValidator(map[string]any{"type": "array", "items": cfg.Schema})
		if err != nil {
			return nil, err
		}
		p.validator = v
	case ModeEnum:
		if len(cfg.Enum) == 0 {
			return nil, errors.New("enum mode needs at least one permitted value")
		}
	default:
		return nil, errors.Errorf("unknown structured output mode %q", cfg.Mode)
	}
	return p, nil
}

// Feed consumes one text delta. It returns the next snapshot when the value
// meaningfully changed; repeated equal snapshots are coalesced away.
func (p *Parser) Feed(delta string) (json.RawMessage, bool) {
	text := p.fence.Feed(delta)
	if text == "" {
		return nil, false
	}
	p.buf.WriteString(text)
	return p.snapshot()
}

// Finish flushes the stream tail, reconstructs the final value, and validates
// it against the declared schema. The partial snapshots already emitted are
// never retroactively corrected.
func (p *Parser) Finish() (json.RawMessage, error) {
	if tail := p.fence.Finish(); tail != "" {
		p.buf.WriteString(tail)
	}
	rep, ok := ParsePartial(p.buf.String())
	if !ok {
		return nil, &ValidationError{Message: "no structured output produced"}
	}

	switch p.cfg.Mode {
	case ModeEnum:
		val := gjson.Parse(rep.JSON).String()
		for _, c := range p.cfg.Enum {
			if c == val {
				out, _ := json.Marshal(c)
				return out, nil
			}
		}
		return nil, &ValidationError{Message: "value " + quote(val) + " is not one of the permitted values"}

	case ModeArray:
		arr := p.arraySnapshot(rep)
		if err := p.validator.ValidateFinal(arr); err != nil {
			return nil, err
		}
		return json.RawMessage(arr), nil

	default:
		if err := p.validator.ValidateFinal(rep.JSON); err != nil {
			return nil, err
		}
		return json.RawMessage(rep.JSON), nil
	}
}

func (p *Parser) snapshot() (json.RawMessage, bool) {
	rep, ok := ParsePartial(p.buf.String())
	if !ok {
		return nil, false
	}

	switch p.cfg.Mode {
	case ModeEnum:
		val := gjson.Parse(rep.JSON).String()
		match, ok := p.matchEnum(val, rep.Complete)
		if !ok || match == p.lastEnum {
			return nil, false
		}
		p.lastEnum = match
		out, _ := json.Marshal(match)
		return out, true

	case ModeArray:
		closed := p.closedElementCount(rep)
		if closed <= p.closedElems {
			return nil, false
		}
		arr := p.arraySnapshot(rep)
		if !p.validator.ValidatePartial(arr) {
			return nil, false
		}
		p.closedElems = closed
		return json.RawMessage(arr), true

	default:
		if rep.JSON == p.lastSnapshot {
			return nil, false
		}
		if !p.validator.ValidatePartial(rep.JSON) {
			return nil, false
		}
		p.lastSnapshot = rep.JSON
		return json.RawMessage(rep.JSON), true
	}
}

// matchEnum applies the ambiguity rule: a partial that is a strict prefix of
// any candidate stays unemitted; a partial equal to a candidate is emitted
// only when no longer candidate extends it, or once the terminating quote
// proves the value complete.
func (p *Parser) matchEnum(partial string, closed bool) (string, bool) {
	if closed {
		for _, c := range p.cfg.Enum {
			if c == partial {
				return c, true
			}
		}
		return "", false
	}
	exact := ""
	extended := false
	for _, c := range p.cfg.Enum {
		switch {
		case c == partial:
			exact = c
		case strings.HasPrefix(c, partial):
			extended = true
		}
	}
	if exact != "" && !extended {
		return exact, true
	}
	return "", false
}

// closedElementCount counts the elements the input itself finished. A
// trailing element the repair had to close does not count.
func (p *Parser) closedElementCount(rep Partial) int {
	elems, depth := p.elements(rep)
	n := len(elems)
	if n == 0 {
		return 0
	}
	if rep.Depth > depth || (rep.Depth == depth && rep.InValue) {
		n--
	}
	return n
}

// elements extracts the element list, tolerating both the wrapped
// {"elements": [...]} shape and a bare root array.
func (p *Parser) elements(rep Partial) ([]gjson.Result, int) {
	root := gjson.Parse(rep.JSON)
	if root.IsArray() {
		return root.Array(), 1
	}
	return root.Get("elements").Array(), 2
}

// arraySnapshot renders the plain array of input-closed elements. A trailing
// element the repair had to finish is left out.
func (p *Parser) arraySnapshot(rep Partial) string {
	elems, _ := p.elements(rep)
	n := p.closedElementCount(rep)
	if n > len(elems) {
		n = len(elems)
	}
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		parts = append(parts, elems[i].Raw)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

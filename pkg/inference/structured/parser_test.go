package structured

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var contentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"content": map[string]any{"type": "string"},
	},
	"required": []any{"content"},
}

func feedAll(t *testing.T, p *Parser, deltas []string) []string {
	t.Helper()
	var snaps []string
	for _, d := range deltas {
		if snap, ok := p.Feed(d); ok {
			snaps = append(snaps, string(snap))
		}
	}
	return snaps
}

func TestObjectModeWorkedExample(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeObject, Schema: contentSchema})
	require.NoError(t, err)

	deltas := []string{`{ `, `"content": `, `"Hello, `, `world`, `!"`, ` }`}
	snaps := feedAll(t, p, deltas)

	require.Len(t, snaps, 4)
	assert.JSONEq(t, `{}`, snaps[0])
	assert.JSONEq(t, `{"content":"Hello, "}`, snaps[1])
	assert.JSONEq(t, `{"content":"Hello, world"}`, snaps[2])
	assert.JSONEq(t, `{"content":"Hello, world!"}`, snaps[3])

	final, err := p.Finish()
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"Hello, world!"}`, string(final))
}

func TestObjectModeWrongShapeEmitsNothingAndRejects(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeObject, Schema: contentSchema})
	require.NoError(t, err)

	snaps := feedAll(t, p, []string{`{"invalid": "x"}`})
	assert.Empty(t, snaps)

	_, err = p.Finish()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "content", verr.Path)
}

func TestObjectModeFencedPayload(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeObject, Schema: contentSchema})
	require.NoError(t, err)

	deltas := []string{"```json\n", `{"content"`, `: "hi"}`, "\n```"}
	snaps := feedAll(t, p, deltas)
	require.NotEmpty(t, snaps)

	final, err := p.Finish()
	require.NoError(t, err)
	assert.JSONEq(t, `{"content":"hi"}`, string(final))
}

func TestObjectModeCoalescesUnchangedSnapshots(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeObject, Schema: contentSchema})
	require.NoError(t, err)

	snaps := feedAll(t, p, []string{`{"content": "a"`, ` `, ` `, `}`})
	assert.Len(t, snaps, 1)
}

func TestArrayModeEmitsOnClosedElementGrowth(t *testing.T) {
	elem := map[string]any{
		"type":       "object",
		"properties": map[string]any{"n": map[string]any{"type": "number"}},
		"required":   []any{"n"},
	}
	p, err := NewParser(Config{Mode: ModeArray, Schema: elem})
	require.NoError(t, err)

	deltas := []string{
		`{"elements": [`,
		`{"n": 1`, // element open, not closed: no snapshot
		`}, `,     // first element closed
		`{"n": `,  // second element open
		`2}`,      // second element closed
		`]}`,
	}

	var snaps []string
	for _, d := range deltas {
		if snap, ok := p.Feed(d); ok {
			snaps = append(snaps, string(snap))
		}
	}

	require.Len(t, snaps, 2)
	assert.JSONEq(t, `[{"n":1}]`, snaps[0])
	assert.JSONEq(t, `[{"n":1},{"n":2}]`, snaps[1])

	final, err := p.Finish()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"n":1},{"n":2}]`, string(final))
}

func TestArrayModeSnapshotsArePrefixes(t *testing.T) {
	elem := map[string]any{"type": "number"}
	p, err := NewParser(Config{Mode: ModeArray, Schema: elem})
	require.NoError(t, err)

	var snaps [][]float64
	for _, d := range []string{`{"elements": [1`, `, 2`, `, 3`, `]}`} {
		if snap, ok := p.Feed(d); ok {
			var v []float64
			require.NoError(t, json.Unmarshal(snap, &v))
			snaps = append(snaps, v)
		}
	}

	require.NotEmpty(t, snaps)
	for i := 1; i < len(snaps); i++ {
		require.Greater(t, len(snaps[i]), len(snaps[i-1]))
		assert.Equal(t, snaps[i][:len(snaps[i-1])], snaps[i-1])
	}

	final, err := p.Finish()
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(final))
}

func TestEnumModeUnambiguousMatch(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeEnum, Enum: []string{"positive", "negative"}})
	require.NoError(t, err)

	snap, ok := p.Feed(`"posi`)
	assert.False(t, ok, "strict prefix stays unemitted")
	assert.Nil(t, snap)

	snap, ok = p.Feed(`tive`)
	require.True(t, ok)
	assert.Equal(t, `"positive"`, string(snap))

	final, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, `"positive"`, string(final))
}

func TestEnumModePrefixOfEachOther(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeEnum, Enum: []string{"foo", "foobar"}})
	require.NoError(t, err)

	// "foo" equals a candidate but "foobar" extends it, so nothing is
	// emitted until the terminating quote confirms the shorter value.
	_, ok := p.Feed(`"foo`)
	assert.False(t, ok)

	snap, ok := p.Feed(`"`)
	require.True(t, ok)
	assert.Equal(t, `"foo"`, string(snap))

	final, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, `"foo"`, string(final))
}

func TestEnumModeLongerCandidateWins(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeEnum, Enum: []string{"foo", "foobar"}})
	require.NoError(t, err)

	_, ok := p.Feed(`"foo`)
	assert.False(t, ok)
	_, ok = p.Feed(`ba`)
	assert.False(t, ok)
	snap, ok := p.Feed(`r`)
	require.True(t, ok)
	assert.Equal(t, `"foobar"`, string(snap))

	final, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, `"foobar"`, string(final))
}

func TestEnumModeCorrection(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeEnum, Enum: []string{"go", "gopher"}})
	require.NoError(t, err)

	// Terminating quote on "go" confirms the shorter candidate.
	snap, ok := p.Feed(`"go"`)
	require.True(t, ok)
	assert.Equal(t, `"go"`, string(snap))
}

func TestEnumModeRejectsUnknownValue(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeEnum, Enum: []string{"yes", "no"}})
	require.NoError(t, err)

	_, ok := p.Feed(`"maybe"`)
	assert.False(t, ok)

	_, err = p.Finish()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFinishWithoutContentRejects(t *testing.T) {
	p, err := NewParser(Config{Mode: ModeObject, Schema: contentSchema})
	require.NoError(t, err)

	_, err = p.Finish()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestProviderSchemaShapes(t *testing.T) {
	arr := Config{Mode: ModeArray, Schema: map[string]any{"type": "object"}}.ProviderSchema()
	assert.Equal(t, "object", arr["type"])
	props := arr["properties"].(map[string]any)
	assert.Contains(t, props, "elements")

	enum := Config{Mode: ModeEnum, Enum: []string{"a", "b"}}.ProviderSchema()
	assert.Equal(t, "string", enum["type"])
	assert.Len(t, enum["enum"], 2)

	obj := Config{Mode: ModeObject, Schema: contentSchema}.ProviderSchema()
	assert.Equal(t, contentSchema, obj)
}

package runloop

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/stromboli/pkg/inference/tools"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

// PendingCall is one tool call waiting on an external resolution.
type PendingCall struct {
	ToolCallID     string `yaml:"tool_call_id" json:"tool_call_id"`
	ToolName       string `yaml:"tool_name" json:"tool_name"`
	Args           string `yaml:"args" json:"args"`
	SuspendPayload string `yaml:"suspend_payload,omitempty" json:"suspend_payload,omitempty"`
	Dynamic        bool   `yaml:"dynamic,omitempty" json:"dynamic,omitempty"`
}

// ResumptionRecord is everything needed to pick a suspended run back up in a
// fresh process: the message log, the fallback position, the index of the
// next step to run, and the calls still waiting.
type ResumptionRecord struct {
	RunID      string        `yaml:"run_id" json:"run_id"`
	ModelIndex int           `yaml:"model_index" json:"model_index"`
	StepIndex  int           `yaml:"step_index" json:"step_index"`
	Messages   []turns.Block `yaml:"messages" json:"messages"`
	Pending    []PendingCall `yaml:"pending" json:"pending"`
}

// Encode serializes the record to YAML.
func (r *ResumptionRecord) Encode() ([]byte, error) {
	b, err := yaml.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode resumption record")
	}
	return b, nil
}

// DecodeResumption parses a YAML resumption record.
func DecodeResumption(data []byte) (*ResumptionRecord, error) {
	var rec ResumptionRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(err, "decode resumption record")
	}
	if rec.RunID == "" {
		return nil, errors.New("decode resumption record: missing run_id")
	}
	return &rec, nil
}

func buildResumption(run *turns.Run, stepIdx int, records []*tools.ToolCallRecord) *ResumptionRecord {
	rec := &ResumptionRecord{
		RunID:      run.ID,
		ModelIndex: run.ModelIndex,
		StepIndex:  stepIdx,
		Messages:   cloneBlocks(run.Messages),
	}
	for _, r := range records {
		if r.State() != tools.StateAwaitingApproval {
			continue
		}
		rec.Pending = append(rec.Pending, PendingCall{
			ToolCallID:     r.ToolCallID,
			ToolName:       r.ToolName,
			Args:           r.ArgsText(),
			SuspendPayload: string(r.SuspendPayload),
			Dynamic:        r.Dynamic,
		})
	}
	return rec
}

// Resume picks a suspended run back up. Each entry in resolutions settles the
// pending call with that ID: approval-only calls take the resolution as their
// result, suspended handlers re-run with it available through the execution
// info. Calls left unresolved suspend the run again.
func (l *Loop) Resume(ctx context.Context, rec *ResumptionRecord, resolutions map[string]json.RawMessage) (*Handle, error) {
	if rec == nil {
		return nil, errors.New("resume: nil resumption record")
	}
	if len(rec.Pending) == 0 {
		return nil, errors.New("resume: record has no pending calls")
	}

	run := &turns.Run{ID: rec.RunID, ModelIndex: rec.ModelIndex}
	run.AppendMessages(rec.Messages...)

	records := make([]*tools.ToolCallRecord, 0, len(rec.Pending))
	for _, p := range rec.Pending {
		r := tools.NewToolCallRecord(p.ToolCallID, p.ToolName, false, p.Dynamic)
		if err := r.AppendArgs(p.Args); err != nil {
			return nil, errors.Wrapf(err, "resume: rebuild call %s", p.ToolCallID)
		}
		if err := r.Seal(); err != nil {
			return nil, errors.Wrapf(err, "resume: rebuild call %s", p.ToolCallID)
		}
		if err := r.Await(json.RawMessage(p.SuspendPayload)); err != nil {
			return nil, errors.Wrapf(err, "resume: rebuild call %s", p.ToolCallID)
		}
		records = append(records, r)
	}

	return l.launch(ctx, run, rec.StepIndex, &resumeInput{
		records:     records,
		resolutions: resolutions,
	}), nil
}

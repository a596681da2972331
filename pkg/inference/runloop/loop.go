package runloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/inference/engine"
	"github.com/go-go-golems/stromboli/pkg/inference/streaming"
	"github.com/go-go-golems/stromboli/pkg/inference/structured"
	"github.com/go-go-golems/stromboli/pkg/inference/tools"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

// Loop is the step controller: it owns the turn loop, the message log, and
// the fallback position. One Loop can serve many runs; per-run state lives on
// the Run and the Handle.
type Loop struct {
	cfg      Config
	registry tools.ToolRegistry
	executor *tools.Executor
}

func New(cfg Config) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	c := cfg.withDefaults()
	if c.Structured != nil {
		// Surface a bad structured config here rather than on every step.
		if _, err := structured.NewParser(*c.Structured); err != nil {
			return nil, err
		}
	}
	registry := c.Registry
	if registry == nil {
		registry = tools.NewInMemoryToolRegistry()
	}
	return &Loop{
		cfg:      c,
		registry: registry,
		executor: tools.NewExecutor(registry, c.MaxParallelTools),
	}, nil
}

// Start launches a run over the given prompt blocks and returns its handle.
func (l *Loop) Start(ctx context.Context, prompt ...turns.Block) *Handle {
	run := &turns.Run{ID: uuid.NewString()}
	run.AppendMessages(prompt...)
	return l.launch(ctx, run, 0, nil)
}

func (l *Loop) launch(ctx context.Context, run *turns.Run, baseStep int, resume *resumeInput) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := newHandle(run.ID, cancel)
	go func() {
		res, err := l.execute(ctx, run, baseStep, resume)
		h.settle(res, err)
	}()
	return h
}

type resumeInput struct {
	records     []*tools.ToolCallRecord
	resolutions map[string]json.RawMessage
}

// stepOutcome is what one model stream produced.
type stepOutcome struct {
	turn       *turns.Turn
	records    []*tools.ToolCallRecord
	parser     *structured.Parser
	calls      []events.ToolCall
	sawContent bool
}

func (l *Loop) execute(ctx context.Context, run *turns.Run, baseStep int, resume *resumeInput) (*Result, error) {
	ctx = events.WithSinks(ctx, l.cfg.Sinks...)
	// Handlers can look up sibling tools through their context.
	ctx = tools.WithRegistry(ctx, l.registry)

	modelIDs := make([]string, len(l.cfg.Models))
	for i, m := range l.cfg.Models {
		modelIDs[i] = m.Spec.ModelID
	}
	l.publish(ctx, events.NewRunStartEvent(l.meta(run, baseStep, ""), modelIDs))

	var (
		allCalls   []events.ToolCall
		allResults []events.ToolResult
	)

	if resume != nil {
		meta := l.meta(run, baseStep, "")
		err := l.executor.ResumeAll(ctx, resume.records, tools.ExecOptions{
			Meta:       meta,
			Messages:   cloneBlocks(run.Messages),
			ResumeData: resume.resolutions,
		})
		if err != nil {
			l.reportError(err)
			return l.finish(ctx, run, events.StopReasonError, nil, allCalls, allResults), err
		}
		// Settled records are persisted either way; a re-suspended run must
		// carry its siblings' results so nothing is re-run on resume.
		run.AppendMessages(l.toolOutcomeBlocks(resume.records)...)
		allResults = append(allResults, collectResults(resume.records)...)
		if pending := tools.Pending(resume.records); len(pending) > 0 {
			return l.suspend(ctx, run, baseStep, resume.records, pending, allCalls, allResults), nil
		}
	}

	stopReason := events.StopReasonStop
	var finalParser *structured.Parser

	for step := 0; ; step++ {
		stepIdx := baseStep + step
		if stepIdx >= l.cfg.MaxSteps {
			stopReason = events.StopReasonMaxSteps
			break
		}

		plan := &StepPlan{
			Index:      stepIdx,
			Messages:   cloneBlocks(run.Messages),
			Tools:      tools.Declarations(l.registry),
			ToolChoice: l.cfg.ToolChoice,
			ForcedTool: l.cfg.ForcedTool,
		}
		if l.cfg.PrepareStep != nil {
			if err := l.cfg.PrepareStep(ctx, plan); err != nil {
				err = errors.Wrap(err, "prepare step")
				l.reportError(err)
				return l.finish(ctx, run, events.StopReasonError, finalParser, allCalls, allResults), err
			}
		}

		stepID := uuid.NewString()
		meta := l.meta(run, stepIdx, stepID)
		l.publish(ctx, events.NewStepStartEvent(meta))

		outcome, err := l.streamStep(ctx, run, plan, meta)
		if ctx.Err() != nil {
			return l.abort(ctx, run, meta, outcome, allCalls, allResults), nil
		}
		if err != nil {
			l.reportError(err)
			l.publish(ctx, events.NewErrorEvent(meta, err))
			if outcome != nil && outcome.turn != nil {
				outcome.turn.StopReason = events.StopReasonError
				run.AppendTurn(outcome.turn)
			}
			return l.finish(ctx, run, events.StopReasonError, finalParser, allCalls, allResults), err
		}

		run.AppendTurn(outcome.turn)
		finalParser = outcome.parser
		allCalls = append(allCalls, outcome.calls...)

		if len(outcome.records) > 0 {
			execErr := l.executor.ExecuteAll(ctx, outcome.records, tools.ExecOptions{
				Meta:       meta,
				Messages:   cloneBlocks(run.Messages),
				ResumeData: nil,
			})
			if ctx.Err() != nil {
				return l.abort(ctx, run, meta, nil, allCalls, allResults), nil
			}
			if execErr != nil {
				l.reportError(execErr)
				return l.finish(ctx, run, events.StopReasonError, finalParser, allCalls, allResults), execErr
			}
			run.AppendMessages(l.toolOutcomeBlocks(outcome.records)...)
			allResults = append(allResults, collectResults(outcome.records)...)
			if pending := tools.Pending(outcome.records); len(pending) > 0 {
				l.publish(ctx, events.NewStepFinishEvent(meta, events.StopReasonSuspended, outcome.turn.Usage, false))
				return l.suspend(ctx, run, stepIdx+1, outcome.records, pending, allCalls, allResults), nil
			}
		}

		stopReason = outcome.turn.StopReason
		shouldContinue := stopReason == events.StopReasonToolUse && localWork(outcome.records)
		for _, cond := range l.cfg.StopWhen {
			if cond(run) {
				shouldContinue = false
			}
		}
		if shouldContinue && stepIdx+1 >= l.cfg.MaxSteps {
			shouldContinue = false
			stopReason = events.StopReasonMaxSteps
		}
		outcome.turn.IsContinued = shouldContinue
		l.publish(ctx, events.NewStepFinishEvent(meta, stopReason, outcome.turn.Usage, shouldContinue))

		if !shouldContinue {
			break
		}
	}

	return l.finish(ctx, run, stopReason, finalParser, allCalls, allResults), nil
}

// streamStep drives one turn against the fallback chain. A stream that fails
// before producing any content is retried against the same model up to the
// per-model budget, then handed to the next model in the chain. A failure
// after content means the turn dies; there is nothing to fall back to.
func (l *Loop) streamStep(ctx context.Context, run *turns.Run, plan *StepPlan, meta events.EventMetadata) (*stepOutcome, error) {
	var lastErr error
	for run.ModelIndex < len(l.cfg.Models) {
		model := l.cfg.Models[run.ModelIndex]
		req := l.buildRequest(model, plan)

		for attempt := 1; attempt <= l.cfg.RetriesPerModel; attempt++ {
			outcome, err := l.consumeStream(ctx, model, req, meta)
			if err == nil {
				return outcome, nil
			}
			if ctx.Err() != nil {
				return outcome, err
			}
			if outcome != nil && outcome.sawContent {
				return outcome, err
			}
			lastErr = &ModelStreamError{Model: model.Spec.ModelID, Attempt: attempt, Err: err}
			log.Warn().Err(err).
				Str("model", model.Spec.ModelID).
				Int("attempt", attempt).
				Msg("model stream failed before content")
		}
		run.ModelIndex++
	}
	return nil, errors.Wrap(lastErr, "all models in the fallback chain failed")
}

func (l *Loop) buildRequest(model engine.Model, plan *StepPlan) *engine.Request {
	req := &engine.Request{
		Messages:        plan.Messages,
		Tools:           plan.Tools,
		ToolChoice:      plan.ToolChoice,
		ForcedTool:      plan.ForcedTool,
		MaxTokens:       l.cfg.MaxTokens,
		Temperature:     l.cfg.Temperature,
		Headers:         model.Spec.MergedHeaders(l.cfg.Headers),
		ProviderOptions: model.Spec.MergedOptions(l.cfg.ProviderOptions),
		RawPassthrough:  l.cfg.RawPassthrough,
	}
	if l.cfg.Structured != nil {
		req.Structured = &engine.StructuredOutput{
			Name:   l.cfg.Structured.Name,
			Schema: l.cfg.Structured.ProviderSchema(),
		}
	}
	return req
}

func (l *Loop) consumeStream(ctx context.Context, model engine.Model, req *engine.Request, meta events.EventMetadata) (*stepOutcome, error) {
	stream, err := model.Engine.Stream(ctx, req)
	if err != nil {
		return &stepOutcome{}, err
	}

	out := &stepOutcome{}
	norm := streaming.NewNormalizer(meta)
	tracker := streaming.NewBlockTracker()
	if l.cfg.Structured != nil {
		parser, perr := structured.NewParser(*l.cfg.Structured)
		if perr != nil {
			return out, perr
		}
		out.parser = parser
	}

	records := map[string]*tools.ToolCallRecord{}
	kinds := map[string]turns.BlockKind{}
	// Provider results may arrive while the call's args are still streaming;
	// they are held here until the block closes and the record seals.
	earlyResults := map[*tools.ToolCallRecord]json.RawMessage{}
	var respMeta *turns.ResponseMeta
	usage := events.Usage{}
	stopReason := events.StopReasonUnknown
	var streamErr error

consume:
	for raw := range stream {
		if l.cfg.RawPassthrough && len(raw.Payload) > 0 {
			l.publish(ctx, events.NewRawEvent(meta, raw.Payload))
		}

		switch raw.Kind {
		case engine.RawKindResponseMeta:
			respMeta = raw.Response

		case engine.RawKindFinish:
			if raw.Usage != nil {
				usage = *raw.Usage
			}
			if raw.StopReason != "" {
				stopReason = raw.StopReason
			}

		case engine.RawKindBlockStart:
			ev, nerr := norm.Normalize(raw)
			if nerr != nil {
				streamErr = nerr
				break consume
			}
			start := ev.(*events.EventBlockStart)
			info := streaming.BlockInfo{
				Kind:             blockKindOf(raw.BlockType),
				ToolCallID:       raw.ToolCallID,
				ToolName:         raw.ToolName,
				ProviderExecuted: raw.ProviderExecuted,
				Dynamic:          raw.Dynamic,
			}
			if terr := tracker.Open(start.BlockID, info); terr != nil {
				streamErr = terr
				break consume
			}
			out.sawContent = true
			kinds[start.BlockID] = info.Kind
			if info.Kind == turns.BlockKindToolCall {
				callID := raw.ToolCallID
				if callID == "" {
					callID = start.BlockID
				}
				records[start.BlockID] = tools.NewToolCallRecord(callID, raw.ToolName, raw.ProviderExecuted, raw.Dynamic)
				out.records = append(out.records, records[start.BlockID])
			}
			l.publish(ctx, start)

		case engine.RawKindBlockDelta:
			ev, nerr := norm.Normalize(raw)
			if nerr != nil {
				streamErr = nerr
				break consume
			}
			delta := ev.(*events.EventBlockDelta)
			acc, terr := tracker.Delta(delta.BlockID, delta.Delta)
			if terr != nil {
				streamErr = terr
				break consume
			}
			delta.Completion = acc
			out.sawContent = true
			if rec, ok := records[delta.BlockID]; ok {
				if aerr := rec.AppendArgs(delta.Delta); aerr != nil {
					log.Warn().Err(aerr).Str("block_id", delta.BlockID).Msg("tool args delta dropped")
				}
			} else if out.parser != nil && kinds[delta.BlockID] == turns.BlockKindText {
				if snap, changed := out.parser.Feed(delta.Delta); changed {
					l.publish(ctx, events.NewObjectSnapshotEvent(meta, snap, false))
				}
			}
			l.publish(ctx, delta)

		case engine.RawKindBlockStop:
			ev, nerr := norm.Normalize(raw)
			if nerr != nil {
				streamErr = nerr
				break consume
			}
			stop := ev.(*events.EventBlockStop)
			cb, terr := tracker.Close(stop.BlockID)
			if terr != nil {
				streamErr = terr
				break consume
			}
			stop.Kind = string(cb.Info.Kind)
			stop.Text = cb.Text
			l.publish(ctx, stop)
			if rec, ok := records[stop.BlockID]; ok {
				call := events.ToolCall{
					ID:               rec.ToolCallID,
					Name:             rec.ToolName,
					Input:            rec.ArgsText(),
					ProviderExecuted: rec.ProviderExecuted,
					Dynamic:          rec.Dynamic,
				}
				out.calls = append(out.calls, call)
				l.publish(ctx, events.NewToolCallEvent(meta, call))
				if serr := rec.Seal(); serr != nil {
					// Bad argument JSON: the record is failed and the
					// parse error is fed back like any tool error.
					l.publish(ctx, events.NewToolErrorEvent(meta, rec.ToolCallID, rec.ToolName, serr))
				} else if result, held := earlyResults[rec]; held {
					delete(earlyResults, rec)
					if aerr := tools.AttachProviderResult(rec, result); aerr != nil {
						log.Warn().Err(aerr).Str("tool_call_id", rec.ToolCallID).Msg("provider result rejected")
					}
				}
			}

		case engine.RawKindToolResult:
			rec := findRecord(records, raw.ToolCallID)
			if rec == nil {
				log.Warn().Str("tool_call_id", raw.ToolCallID).Msg("provider result for unknown tool call")
				continue
			}
			if rec.State() == tools.StateAccumulating {
				earlyResults[rec] = raw.Result
			} else if aerr := tools.AttachProviderResult(rec, raw.Result); aerr != nil {
				log.Warn().Err(aerr).Str("tool_call_id", raw.ToolCallID).Msg("provider result rejected")
				continue
			}
			ev, _ := norm.Normalize(raw)
			l.publish(ctx, ev)

		case engine.RawKindSource:
			ev, _ := norm.Normalize(raw)
			l.publish(ctx, ev)
			tracker.Append(turns.NewSourceBlock(raw.SourceID, raw.Title, raw.URL))

		case engine.RawKindFile:
			ev, _ := norm.Normalize(raw)
			l.publish(ctx, ev)
			tracker.Append(turns.NewFileBlock("", raw.MediaType, raw.FileName, raw.Data))

		case engine.RawKindError:
			_, nerr := norm.Normalize(raw)
			streamErr = nerr
			break consume
		}
	}

	if streamErr == nil && ctx.Err() != nil {
		streamErr = ctx.Err()
	}

	turn := &turns.Turn{
		ID:         meta.StepID,
		Blocks:     tracker.Finish(),
		Response:   streaming.ResponseMetaDefaults(respMeta, model.Spec.ModelID),
		Usage:      usage,
		StopReason: resolveStopReason(stopReason, out.records),
	}
	out.turn = turn

	if streamErr != nil {
		return out, streamErr
	}
	return out, nil
}

// abort finalizes a cancelled run: exactly one abort event, a terminal step
// carrying the tripwire stop reason, and a settled result. Cancellation is
// not an error and never reaches the error callback.
func (l *Loop) abort(ctx context.Context, run *turns.Run, meta events.EventMetadata, outcome *stepOutcome, calls []events.ToolCall, results []events.ToolResult) *Result {
	l.publish(ctx, events.NewRunAbortEvent(meta))

	turn := &turns.Turn{ID: meta.StepID, StopReason: events.StopReasonTripwire}
	if outcome != nil && outcome.turn != nil {
		turn = outcome.turn
		turn.StopReason = events.StopReasonTripwire
	}
	run.AppendTurn(turn)
	l.publish(ctx, events.NewStepFinishEvent(meta, events.StopReasonTripwire, turn.Usage, false))

	return l.finish(ctx, run, events.StopReasonTripwire, nil, calls, results)
}

func (l *Loop) suspend(ctx context.Context, run *turns.Run, stepIdx int, records []*tools.ToolCallRecord, pending []string, calls []events.ToolCall, results []events.ToolResult) *Result {
	meta := l.meta(run, stepIdx, "")
	l.publish(ctx, events.NewRunSuspendEvent(meta, pending))

	return &Result{
		RunID:       run.ID,
		Text:        finalText(run),
		StopReason:  events.StopReasonSuspended,
		Usage:       run.Usage,
		ToolCalls:   calls,
		ToolResults: results,
		Suspended:   true,
		Pending:     pending,
		Resumption:  buildResumption(run, stepIdx, records),
		Run:         run,
	}
}

func (l *Loop) finish(ctx context.Context, run *turns.Run, stopReason events.StopReason, parser *structured.Parser, calls []events.ToolCall, results []events.ToolResult) *Result {
	res := &Result{
		RunID:       run.ID,
		Text:        finalText(run),
		StopReason:  stopReason,
		Usage:       run.Usage,
		ToolCalls:   calls,
		ToolResults: results,
		Run:         run,
	}

	if l.cfg.Structured != nil && parser != nil && stopReason != events.StopReasonTripwire {
		obj, oerr := parser.Finish()
		meta := l.meta(run, len(run.Turns), "")
		if oerr != nil {
			// The rejection settles the object value; the partial
			// snapshots already emitted stay as they are.
			res.ObjectErr = oerr
			l.reportError(oerr)
		} else {
			res.Object = obj
			l.publish(ctx, events.NewObjectSnapshotEvent(meta, obj, true))
		}
	}

	l.publish(ctx, events.NewRunFinishEvent(l.meta(run, len(run.Turns), ""), stopReason, run.Usage, res.Text))
	return res
}

func (l *Loop) toolOutcomeBlocks(records []*tools.ToolCallRecord) []turns.Block {
	var out []turns.Block
	for _, rec := range records {
		switch rec.State() {
		case tools.StateSucceeded:
			result := rec.Result
			if !rec.ProviderExecuted {
				if def, err := l.registry.GetTool(rec.ToolName); err == nil {
					result = def.ModelOutput(rec.Result)
				}
			}
			out = append(out, turns.NewToolResultBlock(rec.ToolCallID, result))
		case tools.StateFailed:
			msg := "tool execution failed"
			if rec.Err != nil {
				msg = rec.Err.Error()
			}
			out = append(out, turns.NewToolErrorBlock(rec.ToolCallID, rec.ToolName, msg))
		}
	}
	return out
}

func (l *Loop) meta(run *turns.Run, stepIdx int, stepID string) events.EventMetadata {
	return events.EventMetadata{
		ID:        uuid.New(),
		RunID:     run.ID,
		StepID:    stepID,
		StepIndex: stepIdx,
	}
}

func (l *Loop) publish(ctx context.Context, ev events.Event) {
	if ev == nil {
		return
	}
	events.PublishToContext(ctx, ev)
}

func (l *Loop) reportError(err error) {
	if l.cfg.OnError != nil && err != nil {
		l.cfg.OnError(err)
	}
}

func cloneBlocks(blocks []turns.Block) []turns.Block {
	out := make([]turns.Block, len(blocks))
	for i := range blocks {
		out[i] = blocks[i].Clone()
	}
	return out
}

func blockKindOf(blockType string) turns.BlockKind {
	switch blockType {
	case engine.RawBlockReasoning:
		return turns.BlockKindReasoning
	case engine.RawBlockToolCall:
		return turns.BlockKindToolCall
	default:
		return turns.BlockKindText
	}
}

func resolveStopReason(sr events.StopReason, records []*tools.ToolCallRecord) events.StopReason {
	if sr != events.StopReasonUnknown && sr != "" {
		return sr
	}
	if len(records) > 0 {
		return events.StopReasonToolUse
	}
	return events.StopReasonStop
}

// localWork reports whether any record produced something to feed back to the
// model; a turn of purely provider-executed calls has nothing to send.
func localWork(records []*tools.ToolCallRecord) bool {
	for _, r := range records {
		if !r.ProviderExecuted {
			return true
		}
	}
	return false
}

func findRecord(records map[string]*tools.ToolCallRecord, toolCallID string) *tools.ToolCallRecord {
	if rec, ok := records[toolCallID]; ok {
		return rec
	}
	for _, rec := range records {
		if rec.ToolCallID == toolCallID {
			return rec
		}
	}
	return nil
}

func collectResults(records []*tools.ToolCallRecord) []events.ToolResult {
	var out []events.ToolResult
	for _, rec := range records {
		if rec.State() != tools.StateSucceeded {
			continue
		}
		out = append(out, events.ToolResult{ID: rec.ToolCallID, Result: marshalAny(rec.Result)})
	}
	return out
}

func marshalAny(v any) string {
	if v == nil {
		return "null"
	}
	if raw, ok := v.(json.RawMessage); ok {
		return string(raw)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

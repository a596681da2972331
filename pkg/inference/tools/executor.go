package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/stromboli/pkg/events"
	"github.com/go-go-golems/stromboli/pkg/turns"
)

// DefaultConcurrency bounds parallel tool execution when the caller does not
// configure a limit.
const DefaultConcurrency = 4

// Executor dispatches ready tool call records against a registry. Execution
// is concurrent up to the configured bound; calls beyond the bound queue in
// arrival order.
type Executor struct {
	registry ToolRegistry
	limit    int
}

func NewExecutor(registry ToolRegistry, limit int) *Executor {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Executor{registry: registry, limit: limit}
}

// ExecOptions carries the per-turn execution environment.
type ExecOptions struct {
	// Meta stamps the events published during execution.
	Meta events.EventMetadata
	// Messages is the run's message log snapshot handed to handlers.
	Messages []turns.Block
	// ResumeData maps tool call ids to caller-supplied resolution data for
	// resumed runs.
	ResumeData map[string]json.RawMessage
}

// ExecuteAll settles every record of one turn. Provider-executed records and
// records that already failed during argument accumulation are left as they
// are. A handler error settles its record as failed and is fed back to the
// model, never returned; suspension parks the record as awaiting approval.
func (e *Executor) ExecuteAll(ctx context.Context, records []*ToolCallRecord, opts ExecOptions) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for _, rec := range records {
		if rec.State() != StateReady || rec.ProviderExecuted {
			continue
		}

		def, err := e.registry.GetTool(rec.ToolName)
		if err != nil {
			// ToolNotFound included: settled as failed and fed back so
			// the model can pick a valid name.
			e.settleFail(ctx, rec, err, opts)
			continue
		}
		if def.Function == nil {
			// Declared but not executable here: needs external approval.
			if err := rec.Await(nil); err != nil {
				return err
			}
			continue
		}

		g.Go(func() error {
			e.run(gctx, rec, def, opts)
			return nil
		})
	}

	return g.Wait()
}

func (e *Executor) run(ctx context.Context, rec *ToolCallRecord, def *ToolDefinition, opts ExecOptions) {
	if err := rec.Begin(); err != nil {
		log.Error().Err(err).Str("tool", rec.ToolName).Msg("tool call in unexpected state")
		return
	}

	events.PublishToContext(ctx, events.NewToolCallExecuteEvent(opts.Meta, events.ToolCall{
		ID:      rec.ToolCallID,
		Name:    rec.ToolName,
		Input:   string(rec.ParsedArgs),
		Dynamic: rec.Dynamic,
	}))

	execCtx := WithExecInfo(ctx, ExecInfo{
		ToolCallID: rec.ToolCallID,
		Messages:   opts.Messages,
		ResumeData: opts.ResumeData[rec.ToolCallID],
	})

	result, err := def.Function.Invoke(execCtx, rec.ParsedArgs)
	if err != nil {
		var susp *SuspendError
		if errors.As(err, &susp) {
			if aerr := rec.Await(susp.Payload); aerr != nil {
				log.Error().Err(aerr).Str("tool", rec.ToolName).Msg("suspend on settled record")
			}
			return
		}
		e.settleFail(ctx, rec, err, opts)
		return
	}

	if serr := rec.Succeed(result); serr != nil {
		log.Error().Err(serr).Str("tool", rec.ToolName).Msg("success on settled record")
		return
	}
	events.PublishToContext(ctx, events.NewToolResultEvent(opts.Meta, events.ToolResult{
		ID:     rec.ToolCallID,
		Result: marshalResult(result),
	}))
}

func (e *Executor) settleFail(ctx context.Context, rec *ToolCallRecord, err error, opts ExecOptions) {
	if ferr := rec.Fail(err); ferr != nil {
		log.Error().Err(ferr).Str("tool", rec.ToolName).Msg("failure on settled record")
		return
	}
	events.PublishToContext(ctx, events.NewToolErrorEvent(opts.Meta, rec.ToolCallID, rec.ToolName, err))
}

// ResumeAll re-dispatches records awaiting approval using the caller's
// resolution data. A record with no resolution entry stays parked. When the
// tool has no local handler the resolution data itself becomes the result;
// otherwise the handler runs again with the data reachable through ExecInfo.
func (e *Executor) ResumeAll(ctx context.Context, records []*ToolCallRecord, opts ExecOptions) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.limit)

	for _, rec := range records {
		if rec.State() != StateAwaitingApproval {
			continue
		}
		data, ok := opts.ResumeData[rec.ToolCallID]
		if !ok {
			continue
		}

		def, err := e.registry.GetTool(rec.ToolName)
		if err != nil {
			e.settleFail(ctx, rec, err, opts)
			continue
		}
		if def.Function == nil {
			if serr := rec.Succeed(data); serr != nil {
				log.Error().Err(serr).Str("tool", rec.ToolName).Msg("resolution on settled record")
				continue
			}
			events.PublishToContext(ctx, events.NewToolResultEvent(opts.Meta, events.ToolResult{
				ID:     rec.ToolCallID,
				Result: string(data),
			}))
			continue
		}

		g.Go(func() error {
			e.run(gctx, rec, def, opts)
			return nil
		})
	}

	return g.Wait()
}

// AttachProviderResult settles a provider-executed record with the result the
// provider streamed; the call is never re-invoked locally.
func AttachProviderResult(rec *ToolCallRecord, result json.RawMessage) error {
	if !rec.ProviderExecuted {
		return errors.Errorf("tool call %s is not provider-executed", rec.ToolCallID)
	}
	return rec.Succeed(result)
}

// Pending lists the ids of records awaiting approval.
func Pending(records []*ToolCallRecord) []string {
	var out []string
	for _, r := range records {
		if r.State() == StateAwaitingApproval {
			out = append(out, r.ToolCallID)
		}
	}
	return out
}

func marshalResult(result any) string {
	if result == nil {
		return "null"
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("%v", result)
	}
	return string(b)
}

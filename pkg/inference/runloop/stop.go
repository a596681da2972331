package runloop

import (
	"strings"

	"github.com/go-go-golems/stromboli/pkg/turns"
)

// StopCondition decides, after a finished step, whether the loop should
// terminate. Conditions are combined with logical OR: any condition returning
// true stops the run. The hard MaxSteps cap applies regardless.
type StopCondition func(run *turns.Run) bool

// StepCountAtLeast stops once the run has produced n steps.
func StepCountAtLeast(n int) StopCondition {
	return func(run *turns.Run) bool {
		return len(run.Turns) >= n
	}
}

// ToolCalled stops once any step called the named tool.
func ToolCalled(name string) StopCondition {
	return func(run *turns.Run) bool {
		for _, t := range run.Turns {
			for _, b := range turns.FindBlocksByKind(t, turns.BlockKindToolCall) {
				if n, _ := b.Payload[turns.PayloadKeyName].(string); n == name {
					return true
				}
			}
		}
		return false
	}
}

// TextContains stops once the latest step's text contains the substring.
func TextContains(sub string) StopCondition {
	return func(run *turns.Run) bool {
		t := run.LastTurn()
		if t == nil {
			return false
		}
		for _, b := range turns.FindBlocksByKind(t, turns.BlockKindText) {
			if strings.Contains(turns.BlockText(b), sub) {
				return true
			}
		}
		return false
	}
}

package agent

import "fmt"

// LoopState is the phase of one agent loop run.
type LoopState string

const (
	StateReasoning     LoopState = "reasoning"
	StateActingOnTools LoopState = "acting_on_tools"
	StateDone          LoopState = "done"
	StateExhausted     LoopState = "exhausted"
)

func (s LoopState) Terminal() bool {
	return s == StateDone || s == StateExhausted
}

type loopEvent int

const (
	eventToolCalls loopEvent = iota
	eventFinalAnswer
	eventToolsExecuted
	eventIterationCap
)

func (e loopEvent) String() string {
	switch e {
	case eventToolCalls:
		return "tool_calls"
	case eventFinalAnswer:
		return "final_answer"
	case eventToolsExecuted:
		return "tools_executed"
	case eventIterationCap:
		return "iteration_cap"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// transition is the only place loop states change.
//
//	reasoning --tool_calls--> acting_on_tools --tools_executed--> reasoning
//	reasoning --final_answer--> done
//	reasoning --iteration_cap--> exhausted
func transition(from LoopState, ev loopEvent) (LoopState, error) {
	switch from {
	case StateReasoning:
		switch ev {
		case eventToolCalls:
			return StateActingOnTools, nil
		case eventFinalAnswer:
			return StateDone, nil
		case eventIterationCap:
			return StateExhausted, nil
		}
	case StateActingOnTools:
		if ev == eventToolsExecuted {
			return StateReasoning, nil
		}
	}
	return from, fmt.Errorf("invalid loop transition from %s on %s", from, ev)
}

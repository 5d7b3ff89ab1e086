package orchestrator

import (
	"fmt"

	"thesis-backend/internal/thesis"
)

// Action is the router's verdict.
type Action string

const (
	ActionWork    Action = "work"
	ActionCompile Action = "compile"
	ActionFatal   Action = "fatal"
)

// RouteOptions isolates the router's tunable fallbacks.
type RouteOptions struct {
	CompileOnInconsistentOutline bool
}

// Decision is the single routing decision made for one invocation.
// RouterIndex is the cursor after routing; it only differs from the input
// when the backward scan recovers an earlier section.
type Decision struct {
	Action       Action
	SectionID    string
	SectionIndex int
	RouterIndex  int
	Warning      string
	Err          error
}

// Route picks the next unit of work. Rules are evaluated in order and the first match wins:
// anchor modification request, forward scan for pending, backward scan for pending,
// all settled, inconsistent fallback.
func Route(outline []thesis.Section, routerIndex int, opts RouteOptions) Decision {
	if len(outline) == 0 {
		return Decision{Action: ActionFatal, RouterIndex: routerIndex, Err: ErrEmptyOutline}
	}
	if routerIndex < 0 {
		routerIndex = 0
	}

	if routerIndex < len(outline) {
		anchor := outline[routerIndex]
		if anchor.HumanFeedback != nil && anchor.HumanFeedback.ModificationRequested {
			return work(anchor, routerIndex, routerIndex)
		}
	}

	for i := routerIndex; i < len(outline); i++ {
		if outline[i].Status == thesis.StatusPending {
			return work(outline[i], i, routerIndex)
		}
	}

	for i := 0; i < routerIndex && i < len(outline); i++ {
		if outline[i].Status == thesis.StatusPending {
			return work(outline[i], i, i)
		}
	}

	unsettled := make([]string, 0)
	for _, s := range outline {
		if !s.Status.Terminal() {
			unsettled = append(unsettled, fmt.Sprintf("%s(%s)", s.ID, s.Status))
		}
	}
	if len(unsettled) == 0 {
		return Decision{Action: ActionCompile, RouterIndex: routerIndex}
	}

	warning := fmt.Sprintf("no actionable section but %d not settled: %v", len(unsettled), unsettled)
	if !opts.CompileOnInconsistentOutline {
		return Decision{
			Action:      ActionFatal,
			RouterIndex: routerIndex,
			Warning:     warning,
			Err:         fmt.Errorf("%w: %s", ErrInconsistentOutline, warning),
		}
	}
	return Decision{Action: ActionCompile, RouterIndex: routerIndex, Warning: warning}
}

func work(s thesis.Section, index, cursor int) Decision {
	return Decision{
		Action:       ActionWork,
		SectionID:    s.ID,
		SectionIndex: index,
		RouterIndex:  cursor,
	}
}

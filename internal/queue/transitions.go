package queue

import "qms/visit-queue/internal/models"

type Action string

const (
	ActionCall     Action = "call"
	ActionArrived  Action = "arrived"
	ActionSkip     Action = "skip"
	ActionComplete Action = "complete"
	ActionRecall   Action = "recall"
)

// Actions lists the staff commands in the order they are presented.
var Actions = []Action{ActionCall, ActionArrived, ActionSkip, ActionComplete, ActionRecall}

// recall is keyed on the skipped flag rather than status, see Check.
var transitionMap = map[Action][]string{
	ActionCall:     {models.StatusWaiting},
	ActionArrived:  {models.StatusCalled},
	ActionSkip:     {models.StatusWaiting, models.StatusCalled, models.StatusInProgress},
	ActionComplete: {models.StatusCalled, models.StatusInProgress},
	ActionRecall:   {models.StatusWaiting},
}

func ValidTransition(action Action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

func ParseAction(raw string) (Action, bool) {
	for _, action := range Actions {
		if string(action) == raw {
			return action, true
		}
	}
	return "", false
}

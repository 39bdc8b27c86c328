// Package rotation expands a parent answer into per-option step instances and
// keeps the session's rotation bookkeeping consistent.
package rotation

import (
	"strings"

	"surveyrun/internal/model"
	"surveyrun/internal/normalizer"
)

// LabelPlaceholder is replaced by the option label in each rotated step label
const LabelPlaceholder = "TRANSPORT"

// GenerateQueue returns one wrapper per (selected code, rotation child), all
// children of the first code before any child of the next.
func GenerateQueue(sv *model.Survey, parentID string, answers model.Answers) []model.RotationWrapper {
	parent, ok := sv.Step(parentID)
	if !ok {
		return nil
	}
	children := sv.RotationChildren(parentID)
	if len(children) == 0 {
		return nil
	}

	var queue []model.RotationWrapper
	for _, code := range model.ToStrings(answers[parentID]) {
		opt, ok := parent.Option(code)
		if !ok {
			continue
		}
		for _, child := range children {
			clone := child.Clone()
			clone.Label = strings.Replace(clone.Label, LabelPlaceholder, opt.Label, 1)
			queue = append(queue, model.RotationWrapper{
				ID:          child.ID,
				Parent:      parentID,
				OptionCode:  string(opt.Code),
				OptionLabel: opt.Label,
				Step:        clone,
			})
		}
	}
	return queue
}

// CurrentStep returns the step awaiting an answer: the queue head, the session's
// current step, or the first paged step (which is then recorded as current).
func CurrentStep(state *model.SessionState, sv *model.Survey) (*model.Step, *model.RotationWrapper, bool) {
	if w, ok := state.Head(); ok {
		if w.Step != nil {
			return w.Step, w, true
		}
		step, ok := sv.Step(w.ID)
		return step, w, ok
	}
	if state.CurrentStepID != "" {
		step, ok := sv.Step(state.CurrentStepID)
		return step, nil, ok
	}
	first, ok := sv.FirstStep()
	if !ok {
		return nil, nil, false
	}
	state.CurrentStepID = first.ID
	return first, nil, true
}

// Init starts the rotation of parent when it is being left with a real answer.
// It reports false when no rotation applies. An empty queue marks the rotation
// done and resolves to the parent's redirection.
func Init(state *model.SessionState, sv *model.Survey, parent *model.Step) (string, bool) {
	if !sv.IsRotationParent(parent.ID) {
		return "", false
	}
	if !model.HasRealAnswer(state.Answers[parent.ID]) {
		return "", false
	}
	if state.RotationQueueDone[parent.ID] && state.CurrentStepID != parent.ID {
		return "", false
	}

	queue := GenerateQueue(sv, parent.ID, state.Answers)
	state.RotationQueueDone[parent.ID] = true
	if len(queue) == 0 {
		return parent.Redirection, true
	}
	state.RotationQueue = queue
	state.PushHistory(model.RotationEvent(queue[0]))
	return queue[0].ID, true
}

// Advance consumes the queue head. When the queue drains it is torn down and the
// parent's redirection is returned; false means the caller resolves the target.
func Advance(state *model.SessionState, sv *model.Survey) (string, bool) {
	if !state.InRotation() {
		return "", false
	}
	processed := state.RotationQueue[0]
	state.RotationQueue = state.RotationQueue[1:]
	if len(state.RotationQueue) > 0 {
		return state.RotationQueue[0].ID, true
	}

	state.ClearRotation()
	if parent, ok := sv.Step(processed.Parent); ok && parent.Redirection != "" {
		return parent.Redirection, true
	}
	return "", false
}

// Rebuild regenerates the whole queue of e's parent and resumes it at the
// instance matching both the step id and the option code.
func Rebuild(state *model.SessionState, sv *model.Survey, e model.NavigationEvent) {
	delete(state.RotationQueueDone, e.ParentID)

	all := GenerateQueue(sv, e.ParentID, state.Answers)
	for i, w := range all {
		if w.ID == e.StepID && w.OptionCode == e.OptionCode {
			state.RotationQueue = all[i:]
			return
		}
	}
	state.RotationQueue = all
}

// ResetParent forgets everything about parentID's rotation
func ResetParent(state *model.SessionState, parentID string) {
	state.ClearRotation()
	delete(state.RotationQueueDone, parentID)
	delete(state.RotationState, parentID)
}

// Refresh honours a pending needsRefresh flag so the next Init regenerates the queue
func Refresh(state *model.SessionState, parentID string) {
	if !state.RotationState[parentID].NeedsRefresh {
		return
	}
	delete(state.RotationQueueDone, parentID)
	delete(state.RotationState, parentID)
}

// Invalidate reacts to a changed parent selection. It flags the parent for
// regeneration, drops its queue, removes the session answers of every rotated
// instance under a deselected code and returns their persisted keys.
func Invalidate(state *model.SessionState, sv *model.Survey, parent *model.Step, previous, next []string) []string {
	if !sv.IsRotationParent(parent.ID) || len(previous) == 0 || model.SameSelection(previous, next) {
		return nil
	}

	state.RotationState[parent.ID] = model.RotationFlags{NeedsRefresh: true}
	delete(state.RotationQueueDone, parent.ID)
	if w, ok := state.Head(); ok && w.Parent == parent.ID {
		state.ClearRotation()
	}

	targets := rotatedSteps(sv, parent)
	var keys []string
	for _, code := range model.Deselected(previous, next) {
		for _, t := range targets {
			w := &model.RotationWrapper{ID: t.ID, Parent: parent.ID, OptionCode: code}
			keys = append(keys, normalizer.OwnedDBKeys(t, model.ScopeFor(t, w))...)

			id := t.ID
			state.DeleteAnswers(func(k string) bool { return model.BelongsToOption(k, id, code) })
		}
	}
	return keys
}

// rotatedSteps lists the steps whose answers are namespaced by parent's codes
func rotatedSteps(sv *model.Survey, parent *model.Step) []*model.Step {
	var out []*model.Step
	for _, id := range parent.RotationTemplate {
		if s, ok := sv.Step(id); ok {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		return out
	}
	if children := sv.RotationChildren(parent.ID); len(children) > 0 {
		return children
	}
	return []*model.Step{parent}
}

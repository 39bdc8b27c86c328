package model

import "time"

// RotationWrapper is one rotation queue entry: a cloned step bound to its parent and option
type RotationWrapper struct {
	ID          string `json:"id"`
	Parent      string `json:"parent"`
	OptionCode  string `json:"optionCode"`
	OptionLabel string `json:"optionLabel"`
	Step        *Step  `json:"step"`
}

// RotationFlags tracks per-parent rotation bookkeeping
type RotationFlags struct {
	NeedsRefresh bool `json:"needsRefresh"`
}

type EventKind string

const (
	EventSequential EventKind = "sequential"
	EventRotation   EventKind = "rotation"
)

// NavigationEvent is one history entry
type NavigationEvent struct {
	Kind       EventKind `json:"kind"`
	StepID     string    `json:"stepId"`
	ParentID   string    `json:"parentId,omitempty"`
	OptionCode string    `json:"optionCode,omitempty"`
}

func SequentialEvent(stepID string) NavigationEvent {
	return NavigationEvent{Kind: EventSequential, StepID: stepID}
}

func RotationEvent(w RotationWrapper) NavigationEvent {
	return NavigationEvent{Kind: EventRotation, StepID: w.ID, ParentID: w.Parent, OptionCode: w.OptionCode}
}

// Key identifies the step instance the event points at
func (e NavigationEvent) Key() string {
	if e.Kind == EventRotation {
		return RotationKey(e.StepID, e.OptionCode).String()
	}
	return e.StepID
}

// SessionState is the mutable per-respondent run state
type SessionState struct {
	ID                string                   `json:"id"`
	SurveyID          string                   `json:"surveyId"`
	ResponseID        string                   `json:"responseId,omitempty"`
	CurrentStepID     string                   `json:"currentStepId,omitempty"`
	Answers           Answers                  `json:"answers"`
	History           []NavigationEvent        `json:"history"`
	RotationQueue     []RotationWrapper        `json:"rotationQueue,omitempty"`
	RotationQueueDone map[string]bool          `json:"rotationQueueDone"`
	RotationState     map[string]RotationFlags `json:"rotationState,omitempty"`
	UpdatedAt         time.Time                `json:"updatedAt"`
}

// NewSessionState returns an empty state for a respondent
func NewSessionState(id, surveyID string) *SessionState {
	s := &SessionState{ID: id, SurveyID: surveyID}
	s.Init()
	return s
}

// Init makes sure the maps and history are allocated
func (s *SessionState) Init() {
	if s.Answers == nil {
		s.Answers = Answers{}
	}
	if s.History == nil {
		s.History = []NavigationEvent{}
	}
	if s.RotationQueueDone == nil {
		s.RotationQueueDone = map[string]bool{}
	}
	if s.RotationState == nil {
		s.RotationState = map[string]RotationFlags{}
	}
}

// InRotation reports whether a rotation queue is active
func (s *SessionState) InRotation() bool {
	return len(s.RotationQueue) > 0
}

// Head returns the active rotation instance
func (s *SessionState) Head() (*RotationWrapper, bool) {
	if len(s.RotationQueue) == 0 {
		return nil, false
	}
	return &s.RotationQueue[0], true
}

// CurrentEvent describes where the respondent currently stands
func (s *SessionState) CurrentEvent() NavigationEvent {
	if w, ok := s.Head(); ok {
		return RotationEvent(*w)
	}
	return SequentialEvent(s.CurrentStepID)
}

// PushHistory appends e unless the top entry already points at the same instance
func (s *SessionState) PushHistory(e NavigationEvent) {
	if n := len(s.History); n > 0 && s.History[n-1].Key() == e.Key() {
		return
	}
	s.History = append(s.History, e)
}

// ClearRotation drops the active queue
func (s *SessionState) ClearRotation() {
	s.RotationQueue = nil
}

// Reset clears navigation and answers but keeps the session and response binding
func (s *SessionState) Reset() {
	s.CurrentStepID = ""
	s.Answers = Answers{}
	s.History = []NavigationEvent{}
	s.RotationQueue = nil
	s.RotationQueueDone = map[string]bool{}
	s.RotationState = map[string]RotationFlags{}
}

// DeleteAnswers removes every session answer matching pred
func (s *SessionState) DeleteAnswers(pred func(key string) bool) {
	for k := range s.Answers {
		if pred(k) {
			delete(s.Answers, k)
		}
	}
}

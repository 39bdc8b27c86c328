package service

// Broadcaster interface for WebSocket broadcasting (avoids import cycle)
type Broadcaster interface {
	BroadcastToSurvey(surveyID string, msgType string, payload interface{})
}

// Progress event types sent to survey monitors
const (
	EventResponseStarted = "response_started"
	EventStepCompleted   = "step_completed"
	EventSurveyFinished  = "survey_finished"
	EventSurveyRestarted = "survey_restarted"
)

// ProgressEvent is the payload of every progress message
type ProgressEvent struct {
	SessionID  string `json:"sessionId"`
	ResponseID string `json:"responseId,omitempty"`
	StepID     string `json:"stepId,omitempty"`
	NextStepID string `json:"nextStepId,omitempty"`
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToSurvey(string, string, interface{}) {}

package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"surveyrun/internal/model"
	"surveyrun/internal/repository"
)

func page(n int) *int { return &n }

type stubSurveys struct {
	mu      sync.Mutex
	surveys map[string]*model.Survey
	reads   int
}

func newStubSurveys(surveys ...*model.Survey) *stubSurveys {
	s := &stubSurveys{surveys: map[string]*model.Survey{}}
	for _, sv := range surveys {
		s.surveys[sv.ID] = sv
	}
	return s
}

func (s *stubSurveys) GetByID(_ context.Context, id string) (*model.Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.surveys[id], nil
}

func (s *stubSurveys) List(_ context.Context) ([]*model.Survey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Survey, 0, len(s.surveys))
	for _, sv := range s.surveys {
		out = append(out, sv)
	}
	return out, nil
}

func (s *stubSurveys) Upsert(_ context.Context, sv *model.Survey) error {
	if err := sv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surveys[sv.ID] = sv
	return nil
}

type recordedEvent struct {
	surveyID string
	msgType  string
	payload  ProgressEvent
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *recordingBroadcaster) BroadcastToSurvey(surveyID, msgType string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, _ := payload.(ProgressEvent)
	b.events = append(b.events, recordedEvent{surveyID: surveyID, msgType: msgType, payload: ev})
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.msgType
	}
	return out
}

// tripSurvey asks for a name, the transports used, one distance per transport
// and a closing comment.
func tripSurvey() *model.Survey {
	return &model.Survey{
		ID: "trip",
		Steps: []*model.Step{
			{ID: "name", Type: model.StepText, Page: page(1), Required: true, Label: "Name", Redirection: "p"},
			{ID: "p", IDDB: "P", Type: model.StepMultipleChoice, Page: page(2), Required: true, Label: "Transport", Redirection: "end",
				Options: []model.Option{
					{Code: "A", Label: "Car"},
					{Code: "B", Label: "Bus"},
					{Code: "O", Label: "Other", RequiresPrecision: true},
				}},
			{ID: "s1", IDDB: "S1", Type: model.StepText, Label: "How far by TRANSPORT?", RepeatFor: "p", Required: true},
			{ID: "end", Type: model.StepText, Page: page(3), Label: "Comments"},
		},
	}
}

type harness struct {
	surveys     *stubSurveys
	responses   *repository.MemoryResponseRepository
	broadcaster *recordingBroadcaster
	survey      *SurveyService
	run         *RunService
}

func newHarness(surveys ...*model.Survey) *harness {
	h := &harness{
		surveys:     newStubSurveys(surveys...),
		responses:   repository.NewMemoryResponseRepository(),
		broadcaster: &recordingBroadcaster{},
	}
	h.survey = NewSurveyService(h.surveys, nil, zerolog.Nop())
	h.run = NewRunService(h.survey, h.responses, zerolog.Nop())
	h.run.SetBroadcaster(h.broadcaster)
	return h
}

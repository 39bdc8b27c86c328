package model

import "time"

// Response is the persisted answer document of one run
type Response struct {
	ID         string         `json:"id" bson:"_id,omitempty"`
	SurveyID   string         `json:"surveyId" bson:"surveyId"`
	UserID     string         `json:"userId" bson:"userId"`
	Answers    map[string]any `json:"answers" bson:"answers"`
	Finished   bool           `json:"finished" bson:"finished"`
	CreatedAt  time.Time      `json:"createdAt" bson:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt" bson:"updatedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty" bson:"finishedAt,omitempty"`
}

// AnonymousUser is recorded when the respondent is not identified
const AnonymousUser = "anonymous"

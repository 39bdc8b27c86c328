package model

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StepType is the kind of a survey step
type StepType string

const (
	StepText           StepType = "text"
	StepSpinner        StepType = "spinner"
	StepSingleChoice   StepType = "single_choice"
	StepMultipleChoice StepType = "multiple_choice"
	StepAutocomplete   StepType = "autocomplete"
	StepAccordion      StepType = "accordion"
	StepGrid           StepType = "grid"
)

// IsChoice reports whether the step answers with option codes
func (t StepType) IsChoice() bool {
	return t == StepSingleChoice || t == StepMultipleChoice
}

// ReadsWholeBody reports whether the step reads the full submission rather than body[step.id]
func (t StepType) ReadsWholeBody() bool {
	switch t {
	case StepSingleChoice, StepMultipleChoice, StepAccordion, StepGrid:
		return true
	}
	return false
}

// FinishStepID is the terminal navigation target
const FinishStepID = "FIN"

// Survey is an immutable questionnaire definition
type Survey struct {
	ID        string    `json:"id" yaml:"id" bson:"_id"`
	Title     string    `json:"title" yaml:"title" bson:"title"`
	Steps     []*Step   `json:"steps" yaml:"steps" bson:"steps"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty" bson:"updatedAt,omitempty"`
}

// Step is one question (or question group) of a survey
type Step struct {
	ID          string      `json:"id" yaml:"id" bson:"id"`
	IDDB        string      `json:"id_db,omitempty" yaml:"id_db,omitempty" bson:"id_db,omitempty"`
	Type        StepType    `json:"type" yaml:"type" bson:"type"`
	Label       string      `json:"label,omitempty" yaml:"label,omitempty" bson:"label,omitempty"`
	Page        *int        `json:"page,omitempty" yaml:"page,omitempty" bson:"page,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty" bson:"required,omitempty"`
	Options     []Option    `json:"options,omitempty" yaml:"options,omitempty" bson:"options,omitempty"`
	Navigation  *Navigation `json:"navigation,omitempty" yaml:"navigation,omitempty" bson:"navigation,omitempty"`
	Redirection string      `json:"redirection,omitempty" yaml:"redirection,omitempty" bson:"redirection,omitempty"`

	// Rotation
	RepeatFor        string   `json:"repeatFor,omitempty" yaml:"repeatFor,omitempty" bson:"repeatFor,omitempty"`
	RotationTemplate []string `json:"rotationTemplate,omitempty" yaml:"rotationTemplate,omitempty" bson:"rotationTemplate,omitempty"`

	// Accordion
	Sections []Section `json:"sections,omitempty" yaml:"sections,omitempty" bson:"sections,omitempty"`

	// Grid: Rows are declared under "questions", columns under "reponses"
	Rows      []GridRow      `json:"questions,omitempty" yaml:"questions,omitempty" bson:"questions,omitempty"`
	Responses []GridResponse `json:"reponses,omitempty" yaml:"reponses,omitempty" bson:"reponses,omitempty"`

	// Autocomplete
	Table   string               `json:"table,omitempty" yaml:"table,omitempty" bson:"table,omitempty"`
	Columns []AutocompleteColumn `json:"columns,omitempty" yaml:"columns,omitempty" bson:"columns,omitempty"`
}

// Option is one selectable answer of a choice step
type Option struct {
	Code              Code    `json:"codeItem" yaml:"codeItem" bson:"codeItem"`
	Label             string  `json:"label" yaml:"label" bson:"label"`
	RequiresPrecision bool    `json:"requiresPrecision,omitempty" yaml:"requiresPrecision,omitempty" bson:"requiresPrecision,omitempty"`
	SubQuestions      []*Step `json:"subQuestions,omitempty" yaml:"subQuestions,omitempty" bson:"subQuestions,omitempty"`
}

// Section groups accordion questions
type Section struct {
	ID        string  `json:"id_sect" yaml:"id_sect" bson:"id_sect"`
	Title     string  `json:"title,omitempty" yaml:"title,omitempty" bson:"title,omitempty"`
	Questions []*Step `json:"questions" yaml:"questions" bson:"questions"`
}

// GridRow is one row of a grid step
type GridRow struct {
	ID       string              `json:"id" yaml:"id" bson:"id"`
	IDDB     string              `json:"id_db_qst,omitempty" yaml:"id_db_qst,omitempty" bson:"id_db_qst,omitempty"`
	Label    string              `json:"label,omitempty" yaml:"label,omitempty" bson:"label,omitempty"`
	Required bool                `json:"required,omitempty" yaml:"required,omitempty" bson:"required,omitempty"`
	Cells    map[string]GridCell `json:"cells,omitempty" yaml:"cells,omitempty" bson:"cells,omitempty"`
}

// CellEnabled reports whether the row accepts the given response
func (r GridRow) CellEnabled(responseID string) bool {
	cell, ok := r.Cells[responseID]
	if !ok || cell.Enabled == nil {
		return true
	}
	return *cell.Enabled
}

// GridCell configures one row x response intersection
type GridCell struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty" bson:"enabled,omitempty"`
}

// GridResponse is one response column of a grid step
type GridResponse struct {
	ID    string    `json:"id" yaml:"id" bson:"id"`
	IDDB  string    `json:"id_db_rps,omitempty" yaml:"id_db_rps,omitempty" bson:"id_db_rps,omitempty"`
	Label string    `json:"label,omitempty" yaml:"label,omitempty" bson:"label,omitempty"`
	Input GridInput `json:"input" yaml:"input" bson:"input"`
}

type GridInputType string

const (
	InputRadio    GridInputType = "radio"
	InputCheckbox GridInputType = "checkbox"
)

type GridAxis string

const (
	AxisRow    GridAxis = "row"
	AxisColumn GridAxis = "column"
)

type GridInput struct {
	Type     GridInputType `json:"type" yaml:"type" bson:"type"`
	Axis     GridAxis      `json:"axis" yaml:"axis" bson:"axis"`
	Required bool          `json:"required,omitempty" yaml:"required,omitempty" bson:"required,omitempty"`
}

// AutocompleteColumn maps a table column onto the autocomplete widget
type AutocompleteColumn struct {
	Name           string `json:"name" yaml:"name" bson:"name"`
	DisplayInList  bool   `json:"displayInList,omitempty" yaml:"displayInList,omitempty" bson:"displayInList,omitempty"`
	DisplayInInput bool   `json:"displayInInput,omitempty" yaml:"displayInInput,omitempty" bson:"displayInInput,omitempty"`
	SaveInDB       bool   `json:"saveInDB,omitempty" yaml:"saveInDB,omitempty" bson:"saveInDB,omitempty"`
}

// Navigation holds conditional branching rules
type Navigation struct {
	Rules   []NavRule `json:"rules,omitempty" yaml:"rules,omitempty" bson:"rules,omitempty"`
	Default string    `json:"default,omitempty" yaml:"default,omitempty" bson:"default,omitempty"`
}

const (
	NavDefaultNext        = "NEXT"
	NavDefaultRedirection = "redirection"
)

type NavRule struct {
	If   Condition `json:"if" yaml:"if" bson:"if"`
	Then NavTarget `json:"then" yaml:"then" bson:"then"`
}

type NavTarget struct {
	GoTo string `json:"goTo" yaml:"goTo" bson:"goTo"`
}

// Operator is a navigation comparison operator
type Operator string

const (
	OpEquals    Operator = "EQUALS"
	OpNotEquals Operator = "NOT_EQUALS"
	OpIn        Operator = "IN"
	OpNotIn     Operator = "NOT_IN"
	OpLT        Operator = "LT"
	OpLTE       Operator = "LTE"
	OpGT        Operator = "GT"
	OpGTE       Operator = "GTE"
	OpBetween   Operator = "BETWEEN"
	OpFilled    Operator = "FILLED"
	OpEmpty     Operator = "EMPTY"
)

// Condition is a navigation predicate. Axis selects a grid rule, Conditions a
// multi-condition rule; otherwise it is a simple rule.
type Condition struct {
	Question   string      `json:"question,omitempty" yaml:"question,omitempty" bson:"question,omitempty"`
	Field      string      `json:"field,omitempty" yaml:"field,omitempty" bson:"field,omitempty"`
	Operator   Operator    `json:"operator,omitempty" yaml:"operator,omitempty" bson:"operator,omitempty"`
	Value      any         `json:"value,omitempty" yaml:"value,omitempty" bson:"value,omitempty"`
	Values     []any       `json:"values,omitempty" yaml:"values,omitempty" bson:"values,omitempty"`
	Axis       GridAxis    `json:"axis,omitempty" yaml:"axis,omitempty" bson:"axis,omitempty"`
	Column     string      `json:"column,omitempty" yaml:"column,omitempty" bson:"column,omitempty"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty" bson:"conditions,omitempty"`
}

// Code is an option code. Definitions write it either as a number or a string.
type Code string

func (c *Code) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Code(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Code(n.String())
	return nil
}

func (c *Code) UnmarshalYAML(node *yaml.Node) error {
	*c = Code(node.Value)
	return nil
}

func (c Code) String() string { return string(c) }

// PageOf returns the step page, or false for steps outside the page sequence
func (s *Step) PageOf() (int, bool) {
	if s.Page == nil {
		return 0, false
	}
	return *s.Page, true
}

// DBID returns the persistence id, falling back to the session id
func (s *Step) DBID() string {
	if s.IDDB != "" {
		return s.IDDB
	}
	return s.ID
}

// Option finds a declared option by string comparison of its code
func (s *Step) Option(code string) (*Option, bool) {
	for i := range s.Options {
		if string(s.Options[i].Code) == code {
			return &s.Options[i], true
		}
	}
	return nil, false
}

// OptionCodes lists the declared option codes in declaration order
func (s *Step) OptionCodes() []string {
	codes := make([]string, 0, len(s.Options))
	for _, o := range s.Options {
		codes = append(codes, string(o.Code))
	}
	return codes
}

// Row finds a grid row by id
func (s *Step) Row(id string) (*GridRow, bool) {
	for i := range s.Rows {
		if s.Rows[i].ID == id {
			return &s.Rows[i], true
		}
	}
	return nil, false
}

// Response finds a grid response column by id
func (s *Step) Response(id string) (*GridResponse, bool) {
	for i := range s.Responses {
		if s.Responses[i].ID == id {
			return &s.Responses[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy so rotation instances never mutate the shared definition
func (s *Step) Clone() *Step {
	if s == nil {
		return nil
	}
	c := *s
	if s.Page != nil {
		p := *s.Page
		c.Page = &p
	}
	if s.Options != nil {
		c.Options = make([]Option, len(s.Options))
		for i, o := range s.Options {
			c.Options[i] = o
			c.Options[i].SubQuestions = cloneSteps(o.SubQuestions)
		}
	}
	if s.Sections != nil {
		c.Sections = make([]Section, len(s.Sections))
		for i, sec := range s.Sections {
			c.Sections[i] = sec
			c.Sections[i].Questions = cloneSteps(sec.Questions)
		}
	}
	if s.Rows != nil {
		c.Rows = make([]GridRow, len(s.Rows))
		for i, r := range s.Rows {
			c.Rows[i] = r
			if r.Cells != nil {
				c.Rows[i].Cells = make(map[string]GridCell, len(r.Cells))
				for k, v := range r.Cells {
					c.Rows[i].Cells[k] = v
				}
			}
		}
	}
	c.Responses = append([]GridResponse(nil), s.Responses...)
	c.Columns = append([]AutocompleteColumn(nil), s.Columns...)
	c.RotationTemplate = append([]string(nil), s.RotationTemplate...)
	if s.Navigation != nil {
		n := *s.Navigation
		n.Rules = append([]NavRule(nil), s.Navigation.Rules...)
		c.Navigation = &n
	}
	return &c
}

func cloneSteps(steps []*Step) []*Step {
	if steps == nil {
		return nil
	}
	out := make([]*Step, len(steps))
	for i, s := range steps {
		out[i] = s.Clone()
	}
	return out
}

// Step looks up a top-level step by id
func (sv *Survey) Step(id string) (*Step, bool) {
	for _, s := range sv.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// FirstStep returns the step with the lowest page; declaration order breaks ties
func (sv *Survey) FirstStep() (*Step, bool) {
	paged := make([]*Step, 0, len(sv.Steps))
	for _, s := range sv.Steps {
		if s.Page != nil {
			paged = append(paged, s)
		}
	}
	if len(paged) == 0 {
		return nil, false
	}
	sort.SliceStable(paged, func(i, j int) bool { return *paged[i].Page < *paged[j].Page })
	return paged[0], true
}

// PageSteps returns the steps declared on the same page as step
func (sv *Survey) PageSteps(step *Step) []*Step {
	page, ok := step.PageOf()
	if !ok {
		return []*Step{step}
	}
	var out []*Step
	for _, s := range sv.Steps {
		if p, ok := s.PageOf(); ok && p == page {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []*Step{step}
	}
	return out
}

// NextSequential returns the id of the step declared after id, or FIN
func (sv *Survey) NextSequential(id string) string {
	return NextStepID(sv.Steps, id)
}

// NextStepID returns the id following id in steps, or FIN
func NextStepID(steps []*Step, id string) string {
	for i, s := range steps {
		if s.ID == id && i+1 < len(steps) {
			return steps[i+1].ID
		}
	}
	return FinishStepID
}

// RotationChildren returns the steps declared with repeatFor == parentID
func (sv *Survey) RotationChildren(parentID string) []*Step {
	var out []*Step
	for _, s := range sv.Steps {
		if s.RepeatFor == parentID {
			out = append(out, s)
		}
	}
	return out
}

// IsRotationParent reports whether any step repeats for id
func (sv *Survey) IsRotationParent(id string) bool {
	for _, s := range sv.Steps {
		if s.RepeatFor == id {
			return true
		}
	}
	return false
}

// DefinitionError lists the broken references of a survey definition
type DefinitionError struct {
	SurveyID string
	Problems []string
}

func (e *DefinitionError) Error() string {
	return "survey " + e.SurveyID + ": " + strings.Join(e.Problems, "; ")
}

// Validate checks step id uniqueness and that every referenced step id exists
func (sv *Survey) Validate() error {
	var problems []string
	if len(sv.Steps) == 0 {
		problems = append(problems, "no steps")
	}
	ids := make(map[string]bool, len(sv.Steps))
	for i, s := range sv.Steps {
		if s.ID == "" {
			problems = append(problems, "step #"+strconv.Itoa(i)+" has no id")
			continue
		}
		if ids[s.ID] {
			problems = append(problems, "duplicate step id "+s.ID)
		}
		ids[s.ID] = true
	}
	known := func(id string) bool { return id == "" || id == FinishStepID || ids[id] }

	for _, s := range sv.Steps {
		if !known(s.Redirection) {
			problems = append(problems, s.ID+": unknown redirection "+s.Redirection)
		}
		if s.RepeatFor != "" && !ids[s.RepeatFor] {
			problems = append(problems, s.ID+": unknown repeatFor "+s.RepeatFor)
		}
		for _, id := range s.RotationTemplate {
			if !ids[id] {
				problems = append(problems, s.ID+": unknown rotationTemplate step "+id)
			}
		}
		if s.Navigation != nil {
			for _, r := range s.Navigation.Rules {
				if !known(r.Then.GoTo) {
					problems = append(problems, s.ID+": rule targets unknown step "+r.Then.GoTo)
				}
			}
		}
	}
	if len(problems) > 0 {
		return &DefinitionError{SurveyID: sv.ID, Problems: problems}
	}
	return nil
}

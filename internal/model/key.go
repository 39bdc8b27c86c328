package model

import (
	"sort"
	"strings"
)

// KeyKind tags the shape of an AnswerKey
type KeyKind int

const (
	KeyPlain KeyKind = iota
	KeySubQuestion
	KeyPrecision
	KeyRotation
)

func (k KeyKind) String() string {
	switch k {
	case KeySubQuestion:
		return "sub_question"
	case KeyPrecision:
		return "precision"
	case KeyRotation:
		return "rotation"
	default:
		return "plain"
	}
}

const precisionInfix = "_pr_"

// AnswerKey addresses one answer. Its string form is the persisted key:
//
//	Plain             stepId
//	SubQuestion       stepId_code_subId
//	Precision         stepId_pr_code
//	RotationInstance  stepId_code
type AnswerKey struct {
	Kind   KeyKind
	StepID string
	Code   string
	SubID  string
}

func PlainKey(stepID string) AnswerKey {
	return AnswerKey{Kind: KeyPlain, StepID: stepID}
}

func SubQuestionKey(stepID, code, subID string) AnswerKey {
	return AnswerKey{Kind: KeySubQuestion, StepID: stepID, Code: code, SubID: subID}
}

func PrecisionKey(stepID, code string) AnswerKey {
	return AnswerKey{Kind: KeyPrecision, StepID: stepID, Code: code}
}

func RotationKey(stepID, code string) AnswerKey {
	return AnswerKey{Kind: KeyRotation, StepID: stepID, Code: code}
}

func (k AnswerKey) String() string {
	switch k.Kind {
	case KeySubQuestion:
		return k.StepID + "_" + k.Code + "_" + k.SubID
	case KeyPrecision:
		return k.StepID + precisionInfix + k.Code
	case KeyRotation:
		return k.StepID + "_" + k.Code
	default:
		return k.StepID
	}
}

// ParseKey decodes raw against the owning step id and its declared option codes.
// Codes are tried longest first so that "q3_10_x" never decodes under code "1".
func ParseKey(raw, stepID string, codes []string) (AnswerKey, bool) {
	if raw == stepID {
		return PlainKey(stepID), true
	}
	rest, ok := strings.CutPrefix(raw, stepID+"_")
	if !ok {
		return AnswerKey{}, false
	}

	sorted := append([]string(nil), codes...)
	sort.SliceStable(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	if code, ok := strings.CutPrefix(rest, "pr_"); ok {
		for _, c := range sorted {
			if code == c {
				return PrecisionKey(stepID, c), true
			}
		}
	}
	for _, c := range sorted {
		if rest == c {
			return RotationKey(stepID, c), true
		}
		if sub, ok := strings.CutPrefix(rest, c+"_"); ok && sub != "" {
			return SubQuestionKey(stepID, c, sub), true
		}
	}
	return AnswerKey{}, false
}

// BelongsToOption reports whether raw is namespaced under stepID's option code
func BelongsToOption(raw, stepID, code string) bool {
	base := stepID + "_" + code
	return raw == base ||
		strings.HasPrefix(raw, base+"_") ||
		raw == stepID+precisionInfix+code
}

// Scope is the key namespace of one step instance
type Scope struct {
	SessionID  string
	DBID       string
	OptionCode string
}

// ScopeFor returns the plain scope of a step, or its rotation-instance scope
func ScopeFor(step *Step, w *RotationWrapper) Scope {
	if w == nil {
		return Scope{SessionID: step.ID, DBID: step.DBID()}
	}
	return Scope{
		SessionID:  RotationKey(step.ID, w.OptionCode).String(),
		DBID:       RotationKey(step.DBID(), w.OptionCode).String(),
		OptionCode: w.OptionCode,
	}
}

// InRotation reports whether the scope addresses a rotation instance
func (s Scope) InRotation() bool { return s.OptionCode != "" }

// Suffix scopes a declared id (accordion section, grid cell key) to the rotation instance
func (s Scope) Suffix(id string) string {
	if !s.InRotation() {
		return id
	}
	return RotationKey(id, s.OptionCode).String()
}

// Precision returns the session and persisted precision keys of code
func (s Scope) Precision(code string) (sessionKey, dbKey string) {
	return PrecisionKey(s.SessionID, code).String(), PrecisionKey(s.DBID, code).String()
}

// Sub nests a child scope under code. The child keeps its own ids as the sub part.
func (s Scope) Sub(code, subSessionKey, subDBKey string) (sessionKey, dbKey string) {
	return SubQuestionKey(s.SessionID, code, subSessionKey).String(),
		SubQuestionKey(s.DBID, code, subDBKey).String()
}

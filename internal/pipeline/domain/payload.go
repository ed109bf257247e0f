package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ActionData is the tagged union of per-action-type payloads. Each variant
// carries the explicit schema for one action code; payloads are validated at
// the ledger boundary before an action is accepted.
type ActionData interface {
	// Validate checks the payload's own schema rules.
	Validate() error
}

// Call outcomes recorded by telephony integration or manual logging.
const (
	OutcomeAnswered    = "answered"
	OutcomeNoAnswer    = "no_answer"
	OutcomeVoicemail   = "voicemail"
	OutcomeWrongNumber = "wrong_number"
)

// FirstCallData is the payload for make_first_call.
type FirstCallData struct {
	Attempt         int    `json:"attempt"`
	Outcome         string `json:"outcome"`
	DurationSeconds int    `json:"durationSeconds"`
}

// Successful reports whether this attempt reached the client. An answered
// call is the success criterion for the first-contact gate.
func (d FirstCallData) Successful() bool {
	return d.Outcome == OutcomeAnswered
}

func (d FirstCallData) Validate() error {
	if d.Attempt < 1 {
		return fmt.Errorf("attempt must be at least 1")
	}
	switch d.Outcome {
	case OutcomeAnswered, OutcomeNoAnswer, OutcomeVoicemail, OutcomeWrongNumber:
	default:
		return fmt.Errorf("unknown call outcome %q", d.Outcome)
	}
	if d.DurationSeconds < 0 {
		return fmt.Errorf("durationSeconds cannot be negative")
	}
	return nil
}

// PiliAnalysisData is the payload for request_pili_analysis. The sale
// viability verdict is captured when the analysis result is recorded, so the
// action itself is mutated only once, by the validation gate.
type PiliAnalysisData struct {
	AnalysisID         uuid.UUID `json:"analysisId"`
	CanSell            bool      `json:"canSell"`
	Confidence         float64   `json:"confidence"`
	RecommendedService string    `json:"recommendedService,omitempty"`
}

func (d PiliAnalysisData) Validate() error {
	if d.AnalysisID == uuid.Nil {
		return fmt.Errorf("analysisId is required")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1")
	}
	return nil
}

// LawyerReviewData is the payload for validate_pili_analysis.
type LawyerReviewData struct {
	AnalysisID uuid.UUID `json:"analysisId"`
	Assessment string    `json:"assessment,omitempty"`
}

func (d LawyerReviewData) Validate() error {
	if d.AnalysisID == uuid.Nil {
		return fmt.Errorf("analysisId is required")
	}
	return nil
}

// TramiteDecisionData is the payload for approve_or_reject_tramite.
type TramiteDecisionData struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

func (d TramiteDecisionData) Validate() error {
	if !d.Approved && strings.TrimSpace(d.Reason) == "" {
		return fmt.Errorf("reason is required when the tramite is not approved")
	}
	return nil
}

// ContractData is the payload for generate_contract. The hiring code links
// the stage record to the generated contract.
type ContractData struct {
	HiringCodeID uuid.UUID `json:"hiringCodeId"`
	Template     string    `json:"template,omitempty"`
}

func (d ContractData) Validate() error {
	if d.HiringCodeID == uuid.Nil {
		return fmt.Errorf("hiringCodeId is required")
	}
	return nil
}

// ExpedienteData is the payload for create_expediente, recorded when the
// signature+payment webhook completes the pipeline.
type ExpedienteData struct {
	ExpedienteNumber string `json:"expedienteNumber"`
	PaymentReference string `json:"paymentReference,omitempty"`
}

func (d ExpedienteData) Validate() error {
	if strings.TrimSpace(d.ExpedienteNumber) == "" {
		return fmt.Errorf("expedienteNumber is required")
	}
	return nil
}

// FollowUpData is the payload shared by the follow-up action codes and
// wait_signature_payment/elevate_to_lawyer, which carry free-form context.
type FollowUpData struct {
	Channel string `json:"channel,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func (d FollowUpData) Validate() error {
	return nil
}

// DecodeActionData decodes and validates raw payload bytes into the typed
// variant for the given action type. Unknown fields are rejected so payload
// drift surfaces at the boundary instead of deep in the resolver.
func DecodeActionData(actionType ActionType, raw json.RawMessage) (ActionData, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	decode := func(dst ActionData) (ActionData, error) {
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(dst); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", actionType, err)
		}
		return deref(dst), nil
	}

	var data ActionData
	var err error
	switch actionType {
	case ActionMakeFirstCall:
		data, err = decode(&FirstCallData{})
	case ActionRequestPiliAnalysis:
		data, err = decode(&PiliAnalysisData{})
	case ActionValidatePiliAnalysis:
		data, err = decode(&LawyerReviewData{})
	case ActionApproveOrRejectTramite:
		data, err = decode(&TramiteDecisionData{})
	case ActionGenerateContract:
		data, err = decode(&ContractData{})
	case ActionCreateExpediente:
		data, err = decode(&ExpedienteData{})
	case ActionFollowUpFailedCalls, ActionFollowUpRejectedCase, ActionElevateToLawyer,
		ActionWaitSignaturePayment, ActionRelationshipFollowUp:
		data, err = decode(&FollowUpData{})
	default:
		return nil, fmt.Errorf("unknown action type %q", actionType)
	}
	if err != nil {
		return nil, err
	}
	if err := data.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", actionType, err)
	}
	return data, nil
}

// deref unwraps the pointer the decoder needed into the value variant the
// rest of the domain works with.
func deref(data ActionData) ActionData {
	switch v := data.(type) {
	case *FirstCallData:
		return *v
	case *PiliAnalysisData:
		return *v
	case *LawyerReviewData:
		return *v
	case *TramiteDecisionData:
		return *v
	case *ContractData:
		return *v
	case *ExpedienteData:
		return *v
	case *FollowUpData:
		return *v
	}
	return data
}

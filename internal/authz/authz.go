// Package authz holds the role-to-action permission matrix for the
// validation gate.
package authz

import (
	"crm_pipeline_backend/internal/pipeline/domain"
)

// permissions maps each action type to the roles allowed to resolve it.
// Admins also cover agent work so a short-staffed office keeps moving, but
// the lawyer gate stays lawyer-only.
var permissions = map[domain.ActionType][]domain.Role{
	domain.ActionMakeFirstCall:          {domain.RoleAgent, domain.RoleAdmin},
	domain.ActionFollowUpFailedCalls:    {domain.RoleAgent, domain.RoleAdmin},
	domain.ActionRequestPiliAnalysis:    {domain.RoleAgent, domain.RoleAdmin},
	domain.ActionFollowUpRejectedCase:   {domain.RoleAgent, domain.RoleAdmin},
	domain.ActionElevateToLawyer:        {domain.RoleAgent, domain.RoleAdmin},
	domain.ActionValidatePiliAnalysis:   {domain.RoleLawyer},
	domain.ActionApproveOrRejectTramite: {domain.RoleLawyer, domain.RoleAdmin},
	domain.ActionGenerateContract:       {domain.RoleAdmin},
	domain.ActionWaitSignaturePayment:   {domain.RoleAdmin},
	domain.ActionCreateExpediente:       {domain.RoleAdmin},
	domain.ActionRelationshipFollowUp:   {domain.RoleAgent, domain.RoleAdmin},
}

// Checker implements the validation gate's permission check.
type Checker struct{}

// NewChecker returns the static permission matrix.
func NewChecker() *Checker {
	return &Checker{}
}

// CheckPermission reports whether the role may resolve the action type.
// Unknown action types are denied.
func (c *Checker) CheckPermission(role domain.Role, actionType domain.ActionType) bool {
	for _, allowed := range permissions[actionType] {
		if allowed == role {
			return true
		}
	}
	return false
}

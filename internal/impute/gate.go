package impute

import "github.com/clearstage/enhance/internal/model"

// GateDecision is the policy gate's answer for one field-imputation
// candidate, evaluated before any value is computed.
type GateDecision struct {
	Allowed  bool
	Approval model.ApprovalState
	Reason   string
}

// EvaluateGate applies the risk policy for a field. Disallowed,
// business-critical and high-risk fields are never filled automatically;
// low risk auto-approves; medium risk computes a value but holds it
// pending an external decision.
func EvaluateGate(p *model.FieldPolicy) GateDecision {
	switch {
	case p == nil:
		return GateDecision{Reason: "no policy for field"}
	case !p.AllowImputation:
		return GateDecision{Reason: "imputation disabled by policy"}
	case p.BusinessCritical:
		return GateDecision{Reason: "business-critical field"}
	case p.RiskTier == model.RiskHigh:
		return GateDecision{Reason: "high risk tier"}
	case p.RiskTier == model.RiskMedium:
		return GateDecision{Allowed: true, Approval: model.ApprovalPending}
	default:
		return GateDecision{Allowed: true, Approval: model.ApprovalAuto}
	}
}

// Package vision provides the narrow VisionClient capability the
// Progressive Escalation Engine's tiers 2-3 call into (spec.md §4.3). Per
// spec.md §9, the several LLM providers behind the original's vision calls
// collapse into one capability selected by a provider-id tag; provider
// -specific request/response shapes stay behind this interface. No HTTP
// client for a specific multimodal provider is grounded anywhere in the
// retrieved example pack, so this package ships the interface plus a
// deterministic stub implementation usable in tests and as a default when
// no llm_model is configured (spec.md §1 explicitly scopes the LLM surface
// as narrow and out of this core's concern beyond this call shape).
package vision

import "context"

// Decision is the structured verdict a "is the user logged in"-style vision
// call returns.
type Decision struct {
	Verdict    bool
	Confidence float64
}

// ElementHint is the structured locator a vision element-finder call
// returns, preferring selector over text over coordinates per spec.md §4.3.
type ElementHint struct {
	Selector   string
	Text       string
	X, Y       float64
	Confidence float64
}

// Provider is the capability the escalation engine's vision tiers call.
// Concrete providers are selected by a provider-id tag at construction time
// and encapsulate their own request/response transformation.
type Provider interface {
	ProviderID() string
	Decide(ctx context.Context, screenshot []byte, prompt string) (Decision, error)
	FindElement(ctx context.Context, screenshot []byte, prompt string) (ElementHint, error)
}

// StubProvider always returns a low-confidence negative verdict. It exists
// so the escalation engine's vision tiers have a safe, dependency-free
// default: they will simply fail to meet the confidence threshold and the
// engine surfaces EscalationExhausted, which is the correct behavior when
// no real vision backend is configured.
type StubProvider struct{}

func (StubProvider) ProviderID() string { return "stub" }

func (StubProvider) Decide(_ context.Context, _ []byte, _ string) (Decision, error) {
	return Decision{Verdict: false, Confidence: 0}, nil
}

func (StubProvider) FindElement(_ context.Context, _ []byte, _ string) (ElementHint, error) {
	return ElementHint{Confidence: 0}, nil
}

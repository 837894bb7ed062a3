package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"mahilo/internal/config"
	"mahilo/internal/models"
	"mahilo/internal/observability"
	"mahilo/internal/repository"
	"mahilo/internal/validation"
)

// Decision is the outcome of running a send through the policy funnel.
type Decision struct {
	Allowed bool `json:"allowed"`
	// Reason is the human-readable rejection reason when not allowed.
	Reason string `json:"reason,omitempty"`
	// PolicyID identifies the rejecting policy.
	PolicyID string `json:"policyId,omitempty"`
	// Warnings collects non-fatal evaluation notes (skipped llm policies,
	// evaluator failures).
	Warnings []string `json:"warnings,omitempty"`
	// Evaluated counts the policies actually run.
	Evaluated int `json:"evaluated"`
}

func allow() Decision { return Decision{Allowed: true} }

// SendInput is the policy-relevant slice of a send request.
type SendInput struct {
	Sender            *models.User
	RecipientUser     *models.User
	RecipientGroupID  string
	RecipientUsername string
	Payload           string
	PayloadType       string
	Context           string
}

// PolicyEngine evaluates the sender's applicable policies against a send.
// Policies run in priority order, highest first; the first rejection stops
// the funnel. The engine only sees plaintext: in untrusted deployments or
// for ciphertext payloads evaluation is skipped entirely.
type PolicyEngine struct {
	cfg      *config.Config
	policies repository.PolicyRepository
	friends  repository.FriendRepository
	client   *http.Client
}

// NewPolicyEngine creates a new policy engine
func NewPolicyEngine(cfg *config.Config, policies repository.PolicyRepository, friends repository.FriendRepository) *PolicyEngine {
	return &PolicyEngine{
		cfg:      cfg,
		policies: policies,
		friends:  friends,
		client:   &http.Client{Timeout: cfg.LLMTimeout()},
	}
}

// EvaluateUserSend runs the funnel for a direct send.
func (e *PolicyEngine) EvaluateUserSend(ctx context.Context, in SendInput) (Decision, error) {
	if e.skip(in.PayloadType) {
		return allow(), nil
	}

	roles, err := e.friends.ListRolesForPair(ctx, in.Sender.ID, in.RecipientUser.ID)
	if err != nil {
		return Decision{}, err
	}
	policies, err := e.policies.ListApplicableForUserSend(ctx, in.Sender.ID, in.RecipientUser.ID, roles)
	if err != nil {
		return Decision{}, err
	}
	return e.run(ctx, policies, in), nil
}

// EvaluateGroupSend runs the funnel for a group send: the sender's global
// policies plus the group's shared policies.
func (e *PolicyEngine) EvaluateGroupSend(ctx context.Context, in SendInput) (Decision, error) {
	if e.skip(in.PayloadType) {
		return allow(), nil
	}
	policies, err := e.policies.ListApplicableForGroupSend(ctx, in.Sender.ID, in.RecipientGroupID)
	if err != nil {
		return Decision{}, err
	}
	return e.run(ctx, policies, in), nil
}

// Applicable returns the ordered funnel without evaluating it, for the
// policy-context preview API.
func (e *PolicyEngine) Applicable(ctx context.Context, senderID, recipientID string, recipientRoles []string) ([]models.Policy, error) {
	return e.policies.ListApplicableForUserSend(ctx, senderID, recipientID, recipientRoles)
}

// skip reports whether evaluation cannot apply: the registry is not trusted
// with plaintext, or the payload is opaque ciphertext.
func (e *PolicyEngine) skip(payloadType string) bool {
	return !e.cfg.TrustedMode || payloadType == models.PayloadTypeCiphertext
}

func (e *PolicyEngine) run(ctx context.Context, policies []models.Policy, in SendInput) Decision {
	decision := allow()
	for i := range policies {
		p := &policies[i]
		decision.Evaluated++
		switch p.PolicyType {
		case models.PolicyTypeHeuristic:
			if reason, terminal := e.evalHeuristic(p, in); reason != "" {
				return Decision{
					Allowed:   false,
					Reason:    reason,
					PolicyID:  p.ID,
					Warnings:  decision.Warnings,
					Evaluated: decision.Evaluated,
				}
			} else if terminal {
				// Trusted recipient: this policy waives the rest of the funnel.
				return decision
			}
		case models.PolicyTypeLLM:
			reason, warning := e.evalLLM(ctx, p, in)
			if warning != "" {
				decision.Warnings = append(decision.Warnings, warning)
			}
			if reason != "" {
				return Decision{
					Allowed:   false,
					Reason:    reason,
					PolicyID:  p.ID,
					Warnings:  decision.Warnings,
					Evaluated: decision.Evaluated,
				}
			}
		}
	}
	return decision
}

// evalHeuristic returns a non-empty reason on rejection. terminal reports a
// trusted-recipient match, which short-circuits the remaining policies.
func (e *PolicyEngine) evalHeuristic(p *models.Policy, in SendInput) (reason string, terminal bool) {
	rules, err := validation.ParseHeuristicContent(p.PolicyContent)
	if err != nil {
		// Content was validated at create time; a parse failure here means
		// corrupted storage. Fail closed.
		return fmt.Sprintf("policy %s has invalid content", p.ID), false
	}

	recipient := in.RecipientUsername
	for _, trusted := range rules.TrustedRecipients {
		if trusted == recipient {
			return "", true
		}
	}
	for _, blocked := range rules.BlockedRecipients {
		if blocked == recipient {
			return fmt.Sprintf("recipient %q is blocked by policy", recipient), false
		}
	}

	if rules.MaxLength != nil && len(in.Payload) > *rules.MaxLength {
		return fmt.Sprintf("message exceeds maximum length of %d characters", *rules.MaxLength), false
	}
	if rules.MinLength != nil && len(in.Payload) < *rules.MinLength {
		return fmt.Sprintf("message is shorter than minimum length of %d characters", *rules.MinLength), false
	}
	if rules.RequireContext && in.Context == "" {
		return "message requires a context note", false
	}

	for _, pattern := range rules.BlockedPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if re.MatchString(in.Payload) {
			return fmt.Sprintf("message matches blocked pattern %q", pattern), false
		}
	}
	for _, pattern := range rules.RequiredPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		if !re.MatchString(in.Payload) {
			return fmt.Sprintf("message does not match required pattern %q", pattern), false
		}
	}
	return "", false
}

type llmEvalRequest struct {
	Prompt    string `json:"prompt"`
	Payload   string `json:"payload"`
	Context   string `json:"context,omitempty"`
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
}

type llmEvalResponse struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// evalLLM consults the external evaluator when configured. With no evaluator,
// or when the evaluator errors or times out, the policy passes with a warning:
// an unavailable judge must not silently drop messages.
func (e *PolicyEngine) evalLLM(ctx context.Context, p *models.Policy, in SendInput) (reason, warning string) {
	if e.cfg.LLMEvaluatorURL == "" {
		return "", fmt.Sprintf("llm policy %s not evaluated: no evaluator configured", p.ID)
	}

	body, err := json.Marshal(llmEvalRequest{
		Prompt:    p.PolicyContent,
		Payload:   in.Payload,
		Context:   in.Context,
		Sender:    in.Sender.Username,
		Recipient: in.RecipientUsername,
	})
	if err != nil {
		return "", fmt.Sprintf("llm policy %s not evaluated: %v", p.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.LLMEvaluatorURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Sprintf("llm policy %s not evaluated: %v", p.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		observability.Logger().Warn("llm evaluator call failed",
			slog.String("policy_id", p.ID), slog.Any("error", err))
		return "", fmt.Sprintf("llm policy %s not evaluated: evaluator unreachable", p.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Sprintf("llm policy %s not evaluated: evaluator returned %d", p.ID, resp.StatusCode)
	}
	var out llmEvalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Sprintf("llm policy %s not evaluated: bad evaluator response", p.ID)
	}
	if out.Decision == "reject" {
		if out.Reason == "" {
			out.Reason = "rejected by llm policy"
		}
		return out.Reason, ""
	}
	return "", ""
}

// Summarize renders a policy as a short human-readable description for the
// policy-context preview, without leaking raw patterns verbatim for llm
// prompts.
func Summarize(p *models.Policy) string {
	switch p.PolicyType {
	case models.PolicyTypeHeuristic:
		rules, err := validation.ParseHeuristicContent(p.PolicyContent)
		if err != nil {
			return "heuristic policy"
		}
		var parts []string
		if rules.MaxLength != nil {
			parts = append(parts, fmt.Sprintf("max length %d", *rules.MaxLength))
		}
		if rules.MinLength != nil {
			parts = append(parts, fmt.Sprintf("min length %d", *rules.MinLength))
		}
		if len(rules.BlockedPatterns) > 0 {
			parts = append(parts, fmt.Sprintf("%d blocked pattern(s)", len(rules.BlockedPatterns)))
		}
		if len(rules.RequiredPatterns) > 0 {
			parts = append(parts, fmt.Sprintf("%d required pattern(s)", len(rules.RequiredPatterns)))
		}
		if rules.RequireContext {
			parts = append(parts, "context required")
		}
		if len(rules.BlockedRecipients) > 0 {
			parts = append(parts, fmt.Sprintf("%d blocked recipient(s)", len(rules.BlockedRecipients)))
		}
		if len(rules.TrustedRecipients) > 0 {
			parts = append(parts, fmt.Sprintf("%d trusted recipient(s)", len(rules.TrustedRecipients)))
		}
		if len(parts) == 0 {
			return "heuristic policy with no constraints"
		}
		summary := "heuristic: " + parts[0]
		for _, part := range parts[1:] {
			summary += ", " + part
		}
		return summary
	case models.PolicyTypeLLM:
		return "llm-evaluated policy"
	default:
		return string(p.PolicyType)
	}
}

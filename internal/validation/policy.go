package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"mahilo/internal/models"
)

// ParseHeuristicContent validates and parses heuristic policy content.
// Every pattern must compile as a regular expression and length bounds must
// be non-negative; violations are rejected at policy create time.
func ParseHeuristicContent(content string) (*models.HeuristicRules, error) {
	var rules models.HeuristicRules
	dec := json.NewDecoder(strings.NewReader(content))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("heuristic policy content must be a JSON object: %w", err)
	}

	if rules.MaxLength != nil && *rules.MaxLength < 0 {
		return nil, fmt.Errorf("maxLength must be a non-negative integer")
	}
	if rules.MinLength != nil && *rules.MinLength < 0 {
		return nil, fmt.Errorf("minLength must be a non-negative integer")
	}
	if rules.MaxLength != nil && rules.MinLength != nil && *rules.MaxLength < *rules.MinLength {
		return nil, fmt.Errorf("maxLength must not be smaller than minLength")
	}

	for _, p := range rules.BlockedPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("invalid blocked pattern %q: %w", p, err)
		}
	}
	for _, p := range rules.RequiredPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("invalid required pattern %q: %w", p, err)
		}
	}

	return &rules, nil
}

// ValidateLLMContent checks an llm policy prompt.
func ValidateLLMContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("llm policy content must be a non-empty prompt")
	}
	return nil
}

// ValidatePolicyContent dispatches on the policy type.
func ValidatePolicyContent(policyType models.PolicyType, content string) error {
	switch policyType {
	case models.PolicyTypeHeuristic:
		_, err := ParseHeuristicContent(content)
		return err
	case models.PolicyTypeLLM:
		return ValidateLLMContent(content)
	default:
		return fmt.Errorf("unknown policy type %q", policyType)
	}
}

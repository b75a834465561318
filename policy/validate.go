package policy

import (
	"fmt"

	validation "github.com/jellydator/validation"

	"github.com/root-sector/identity-wallet-module-protection/types"
)

// Closed enum sets for rule validation
var (
	validPIITypes = []interface{}{
		types.PIITypeEmail, types.PIITypePhone, types.PIITypeName,
		types.PIITypeAddress, types.PIITypeDOB, types.PIITypeTaxID,
		types.PIITypeAccount, types.PIITypeCard, types.PIITypeBiometric,
		types.PIITypeHealth, types.PIITypeOther,
	}
	validClassifications = []interface{}{
		types.ClassificationOfficial,
		types.ClassificationOfficialSensitive,
		types.ClassificationSecret,
	}
	validRedactionPatterns = []interface{}{
		types.RedactShowLastFour, types.RedactShowFirstThree,
		types.RedactShowDomain, types.RedactFull,
	}
	validSearchStrategies = []interface{}{
		types.SearchExact, types.SearchPrefix,
		types.SearchPhonetic, types.SearchName,
	}
)

// validateRule checks one field protection rule in isolation
func validateRule(rule *types.FieldProtectionRule) error {
	return validation.ValidateStruct(rule,
		validation.Field(&rule.EntityType, validation.Required),
		validation.Field(&rule.FieldName, validation.Required),
		validation.Field(&rule.PIIType, validation.Required, validation.In(validPIITypes...)),
		validation.Field(&rule.MinimumClassification, validation.Required, validation.In(validClassifications...)),
		validation.Field(&rule.RedactionPattern, validation.In(validRedactionPatterns...)),
		validation.Field(&rule.SearchStrategy,
			validation.In(validSearchStrategies...),
			validation.When(rule.EnableTokenization,
				validation.Required.Error("search strategy is required when tokenization is enabled")),
		),
		validation.Field(&rule.MaxUnmaskDurationSeconds, validation.Min(0)),
	)
}

// ValidatePolicy validates a full tenant security policy. All violations are
// collected into one types.ValidationError: tenant admins submit many rules
// per request and must see every problem at once, and nothing is applied when
// any rule is invalid.
func ValidatePolicy(policy *types.TenantSecurityPolicy) error {
	ve := types.NewValidationError()

	if policy.TenantID == "" {
		ve.Add("tenantId", "cannot be blank")
	}
	if policy.EffectiveFrom.IsZero() {
		ve.Add("effectiveFrom", "cannot be zero")
	}
	if policy.EffectiveTo != nil && !policy.EffectiveTo.After(policy.EffectiveFrom) {
		ve.Add("effectiveTo", "must be after effectiveFrom")
	}

	if policy.Unmasking.DefaultUnmaskDurationSeconds < 0 {
		ve.Add("unmasking.defaultUnmaskDurationSeconds", "must not be negative")
	}
	if policy.Unmasking.MaxUnmaskDurationSeconds < 0 {
		ve.Add("unmasking.maxUnmaskDurationSeconds", "must not be negative")
	}
	if policy.Unmasking.DefaultUnmaskDurationSeconds > 0 && policy.Unmasking.MaxUnmaskDurationSeconds > 0 &&
		policy.Unmasking.DefaultUnmaskDurationSeconds > policy.Unmasking.MaxUnmaskDurationSeconds {
		ve.Add("unmasking.defaultUnmaskDurationSeconds", "must not exceed the maximum unmask duration")
	}
	if policy.Unmasking.MaxConcurrentSessions < 0 {
		ve.Add("unmasking.maxConcurrentSessions", "must not be negative")
	}
	if policy.Retention.RetainDays < 0 {
		ve.Add("retention.retainDays", "must not be negative")
	}

	seen := make(map[string]int)
	for i := range policy.Rules {
		rule := &policy.Rules[i]
		prefix := fmt.Sprintf("rules[%d]", i)

		if err := validateRule(rule); err != nil {
			if fieldErrs, ok := err.(validation.Errors); ok {
				for field, fieldErr := range fieldErrs {
					ve.Add(fmt.Sprintf("%s.%s", prefix, field), fieldErr.Error())
				}
			} else {
				ve.Add(prefix, err.Error())
			}
		}

		pair := rule.EntityType + "/" + rule.FieldName
		if firstIdx, dup := seen[pair]; dup {
			ve.Add(fmt.Sprintf("%s.fieldName", prefix),
				fmt.Sprintf("duplicate rule for %s, first defined at rules[%d]", pair, firstIdx))
		} else {
			seen[pair] = i
		}
	}

	if ve.HasViolations() {
		return ve
	}
	return nil
}

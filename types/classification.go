package types

// Classification represents a data sensitivity tier driving protection requirements
type Classification string

const (
	ClassificationOfficial          Classification = "official"
	ClassificationOfficialSensitive Classification = "official_sensitive"
	ClassificationSecret            Classification = "secret"
)

// classificationRanks orders classifications from least to most sensitive.
// Unknown classifications rank below Official so they never unlock anything.
var classificationRanks = map[Classification]int{
	ClassificationOfficial:          1,
	ClassificationOfficialSensitive: 2,
	ClassificationSecret:            3,
}

// Rank returns the ordinal sensitivity of the classification (higher is more sensitive)
func (c Classification) Rank() int {
	return classificationRanks[c]
}

// AtLeast reports whether the classification is at or above the given threshold
func (c Classification) AtLeast(threshold Classification) bool {
	return c.Rank() >= threshold.Rank()
}

// SensitiveFloor is the classification at or above which a redacted display
// string is always computed for protected values.
const SensitiveFloor = ClassificationOfficialSensitive

// PIIType categorizes the kind of personal data held in a field
type PIIType string

const (
	PIITypeEmail     PIIType = "email"
	PIITypePhone     PIIType = "phone"
	PIITypeName      PIIType = "name"
	PIITypeAddress   PIIType = "address"
	PIITypeDOB       PIIType = "date_of_birth"
	PIITypeTaxID     PIIType = "tax_id"
	PIITypeAccount   PIIType = "account_number"
	PIITypeCard      PIIType = "card_number"
	PIITypeBiometric PIIType = "biometric"
	PIITypeHealth    PIIType = "health"
	PIITypeOther     PIIType = "other"
)

// RedactionPattern selects how a value is masked for low-privilege display.
// The set is closed: patterns are defined by tenant policy, not extensible at runtime.
type RedactionPattern string

const (
	// RedactShowLastFour keeps the last 4 characters, masks the remainder
	RedactShowLastFour RedactionPattern = "show_last_four"

	// RedactShowFirstThree keeps the first 3 characters, masks the remainder
	RedactShowFirstThree RedactionPattern = "show_first_three"

	// RedactShowDomain masks the local part of an email, keeps the domain
	RedactShowDomain RedactionPattern = "show_domain"

	// RedactFull replaces the value with a fixed-length mask
	RedactFull RedactionPattern = "full"
)

// SearchStrategy selects the tokenization approach for searchable protection.
// The set is closed, mirroring RedactionPattern.
type SearchStrategy string

const (
	// SearchExact generates one token over the fully normalized value
	SearchExact SearchStrategy = "exact"

	// SearchPrefix generates tokens for leading substrings of the value
	SearchPrefix SearchStrategy = "prefix"

	// SearchPhonetic generates tokens from a coarse soundalike reduction.
	// Best-effort fuzzy matching only; this is not Double Metaphone.
	SearchPhonetic SearchStrategy = "phonetic"

	// SearchName combines prefix, phonetic, initials and full-name tokens
	SearchName SearchStrategy = "name"
)

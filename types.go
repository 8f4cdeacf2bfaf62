package nightfall

import "time"

// Confidence is how likely a finding is to be a true positive.
type Confidence string

const (
	ConfidenceVeryUnlikely Confidence = "VERY_UNLIKELY"
	ConfidenceUnlikely     Confidence = "UNLIKELY"
	ConfidencePossible     Confidence = "POSSIBLE"
	ConfidenceLikely       Confidence = "LIKELY"
	ConfidenceVeryLikely   Confidence = "VERY_LIKELY"
)

// String returns the string representation of the confidence.
func (c Confidence) String() string {
	return string(c)
}

// DetectorType selects how a detector matches content.
type DetectorType string

const (
	// DetectorTypeNightfall uses one of the built-in Nightfall detectors, e.g. CREDIT_CARD_NUMBER.
	DetectorTypeNightfall DetectorType = "NIGHTFALL_DETECTOR"
	// DetectorTypeRegex matches a regular expression.
	DetectorTypeRegex DetectorType = "REGEX"
	// DetectorTypeWordList matches any word in a list.
	DetectorTypeWordList DetectorType = "WORD_LIST"
)

// LogicalOp combines the detectors of a rule.
type LogicalOp string

const (
	LogicalOpAny LogicalOp = "ANY"
	LogicalOpAll LogicalOp = "ALL"
)

// MatchType controls whether an exclusion rule must match the whole finding or only part of it.
type MatchType string

const (
	MatchTypePartial MatchType = "PARTIAL"
	MatchTypeFull    MatchType = "FULL"
)

type Regex struct {
	Pattern         string `json:"pattern"`
	IsCaseSensitive bool   `json:"isCaseSensitive"`
}

type WordList struct {
	Values          []string `json:"values"`
	IsCaseSensitive bool     `json:"isCaseSensitive"`
}

// Proximity is the window around a finding that a context rule looks at, in bytes.
type Proximity struct {
	WindowBefore int `json:"windowBefore"`
	WindowAfter  int `json:"windowAfter"`
}

// ContextRule adjusts the confidence of a finding when the regex matches nearby.
type ContextRule struct {
	Regex                Regex      `json:"regex"`
	Proximity            Proximity  `json:"proximity"`
	ConfidenceAdjustment Confidence `json:"confidenceAdjustment"`
}

// ExclusionRule drops findings that match a regex or word list.
type ExclusionRule struct {
	MatchType     MatchType    `json:"matchType"`
	ExclusionType DetectorType `json:"exclusionType"`
	Regex         *Regex       `json:"regex,omitempty"`
	WordList      *WordList    `json:"wordList,omitempty"`
}

type MaskConfig struct {
	CharsToIgnore           []string `json:"charsToIgnore,omitempty"`
	MaskingChar             string   `json:"maskingChar,omitempty"`
	NumCharsToLeaveUnmasked int      `json:"numCharsToLeaveUnmasked,omitempty"`
	MaskLeftToRight         bool     `json:"maskLeftToRight,omitempty"`
}

type SubstitutionConfig struct {
	SubstitutionPhrase string `json:"substitutionPhrase"`
}

type CryptoConfig struct {
	PublicKey string `json:"publicKey"`
}

// RedactionConfig describes how findings are redacted in the returned payload. Set at most one of
// the redaction variants.
type RedactionConfig struct {
	MaskConfig                 *MaskConfig         `json:"maskConfig,omitempty"`
	InfoTypeSubstitutionConfig map[string]string   `json:"infoTypeSubstitutionConfig,omitempty"`
	SubstitutionConfig         *SubstitutionConfig `json:"substitutionConfig,omitempty"`
	CryptoConfig               *CryptoConfig       `json:"cryptoConfig,omitempty"`
	RemoveFinding              bool                `json:"removeFinding,omitempty"`
}

// Detector is a single detector inside a detection rule.
type Detector struct {
	MinNumFindings    int              `json:"minNumFindings"`
	MinConfidence     Confidence       `json:"minConfidence"`
	DetectorUUID      string           `json:"detectorUUID,omitempty"`
	DisplayName       string           `json:"displayName"`
	DetectorType      DetectorType     `json:"detectorType"`
	NightfallDetector string           `json:"nightfallDetector,omitempty"`
	Regex             *Regex           `json:"regex,omitempty"`
	WordList          *WordList        `json:"wordList,omitempty"`
	ContextRules      []ContextRule    `json:"contextRules,omitempty"`
	ExclusionRules    []ExclusionRule  `json:"exclusionRules,omitempty"`
	RedactionConfig   *RedactionConfig `json:"redactionConfig,omitempty"`
}

// DetectionRule is an inline rule: a named set of detectors combined with a logical operator.
type DetectionRule struct {
	Name      string     `json:"name"`
	LogicalOp LogicalOp  `json:"logicalOp"`
	Detectors []Detector `json:"detectors"`
}

// AlertConfig sends a copy of the results to Slack, email or a URL.
type AlertConfig struct {
	Slack *SlackAlert   `json:"slack,omitempty"`
	Email *EmailAlert   `json:"email,omitempty"`
	URL   *WebhookAlert `json:"url,omitempty"`
}

type SlackAlert struct {
	Target string `json:"target"`
}

type EmailAlert struct {
	Address string `json:"address"`
}

type WebhookAlert struct {
	Address string `json:"address"`
}

// ScanTextConfig is the policy for a ScanText request. Either DetectionRuleUUIDs or DetectionRules
// must be non-empty unless policy UUIDs are supplied to ScanText.
type ScanTextConfig struct {
	DetectionRuleUUIDs     []string         `json:"detectionRuleUUIDs,omitempty"`
	DetectionRules         []DetectionRule  `json:"detectionRules,omitempty"`
	ContextBytes           int              `json:"contextBytes,omitempty"`
	DefaultRedactionConfig *RedactionConfig `json:"defaultRedactionConfig,omitempty"`
	AlertConfig            *AlertConfig     `json:"alertConfig,omitempty"`
}

// ScanPolicy is the policy for a file scan. It is sent to the service unmodified. WebhookURL is where
// the findings are delivered once the asynchronous scan completes.
type ScanPolicy struct {
	DetectionRuleUUIDs []string        `json:"detectionRuleUUIDs,omitempty"`
	DetectionRules     []DetectionRule `json:"detectionRules,omitempty"`
	WebhookURL         string          `json:"webhookURL,omitempty"`
	AlertConfig        *AlertConfig    `json:"alertConfig,omitempty"`
}

// Range is a half-open [Start, End) range.
type Range struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Location is where a finding occurs in the scanned payload.
type Location struct {
	ByteRange      Range  `json:"byteRange"`
	CodepointRange Range  `json:"codepointRange"`
	RowRange       *Range `json:"rowRange,omitempty"`
	ColumnRange    *Range `json:"columnRange,omitempty"`
	CommitHash     string `json:"commitHash,omitempty"`
	CommitAuthor   string `json:"commitAuthor,omitempty"`
}

// DetectorRef identifies the detector that produced a finding.
type DetectorRef struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// Finding is one detected instance of sensitive content.
type Finding struct {
	Finding                   string      `json:"finding"`
	RedactedFinding           string      `json:"redactedFinding,omitempty"`
	BeforeContext             string      `json:"beforeContext,omitempty"`
	AfterContext              string      `json:"afterContext,omitempty"`
	Detector                  DetectorRef `json:"detector"`
	Confidence                Confidence  `json:"confidence"`
	Location                  Location    `json:"location"`
	RedactedLocation          *Location   `json:"redactedLocation,omitempty"`
	MatchedDetectionRuleUUIDs []string    `json:"matchedDetectionRuleUUIDs"`
	MatchedDetectionRules     []string    `json:"matchedDetectionRules"`
}

// ScanTextResponse holds one list of findings and one redacted payload per input string, in input
// order.
type ScanTextResponse struct {
	Findings        [][]Finding `json:"findings"`
	RedactedPayload []string    `json:"redactedPayload"`
}

// FileUpload describes a remote upload as reported by the service when it is initialized and
// again when it is finished.
type FileUpload struct {
	ID            string `json:"id"`
	FileSizeBytes int64  `json:"fileSizeBytes"`
	ChunkSize     int64  `json:"chunkSize"`
	MimeType      string `json:"mimeType"`
}

// ScanFileResponse confirms that a file scan was accepted. The findings arrive later on the webhook.
type ScanFileResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ErrorDetail is the structured error body the service returns.
type ErrorDetail struct {
	Code           int               `json:"code"`
	Message        string            `json:"message"`
	Description    string            `json:"description,omitempty"`
	AdditionalData map[string]string `json:"additionalData,omitempty"`
}

// WebhookBody is the notification the service posts once a file scan completes. Decode it only
// after the raw bytes have been verified.
type WebhookBody struct {
	// FindingsURL is a pre-signed URL to download the findings from. Empty when no findings.
	FindingsURL string `json:"findingsURL"`
	// ValidUntil is when FindingsURL expires.
	ValidUntil time.Time `json:"validUntil"`
	// UploadID is the id returned when the upload was initialized.
	UploadID string `json:"uploadID"`
	// FindingsPresent reports whether any detector matched.
	FindingsPresent bool `json:"findingsPresent"`
	// RequestMetadata echoes the metadata sent with the scan request.
	RequestMetadata string `json:"requestMetadata"`
	// Errors lists problems the service hit while scanning.
	Errors []ErrorDetail `json:"errors"`
}

// Builders for requests
//
// These are provided to make it easier to construct policies.
//
// Example:
//
//	rule := NewDetectionRuleBuilder("Find credit cards").
//		AddNightfallDetector("CREDIT_CARD_NUMBER", "Credit Card Number", ConfidenceLikely).
//		Build()
//	policy := NewScanPolicyBuilder().AddDetectionRule(rule).WebhookURL("https://example.com/hook").Build()

// DetectionRuleBuilder simplifies the construction of a DetectionRule. The logical operator
// defaults to ANY.
type DetectionRuleBuilder struct {
	rule DetectionRule
}

// NewDetectionRuleBuilder creates a new DetectionRuleBuilder.
func NewDetectionRuleBuilder(name string) *DetectionRuleBuilder {
	return &DetectionRuleBuilder{
		rule: DetectionRule{
			Name:      name,
			LogicalOp: LogicalOpAny,
			Detectors: make([]Detector, 0, 4),
		},
	}
}

// LogicalOp sets how the detectors are combined.
func (b *DetectionRuleBuilder) LogicalOp(op LogicalOp) *DetectionRuleBuilder {
	b.rule.LogicalOp = op
	return b
}

// AddDetector adds fully specified detectors to the rule.
func (b *DetectionRuleBuilder) AddDetector(detectors ...Detector) *DetectionRuleBuilder {
	b.rule.Detectors = append(b.rule.Detectors, detectors...)
	return b
}

// AddNightfallDetector adds a built-in detector that fires on a single finding.
func (b *DetectionRuleBuilder) AddNightfallDetector(name, displayName string, minConfidence Confidence) *DetectionRuleBuilder {
	return b.AddDetector(Detector{
		MinNumFindings:    1,
		MinConfidence:     minConfidence,
		DisplayName:       displayName,
		DetectorType:      DetectorTypeNightfall,
		NightfallDetector: name,
	})
}

// AddRegexDetector adds a regular expression detector that fires on a single finding.
func (b *DetectionRuleBuilder) AddRegexDetector(pattern, displayName string, caseSensitive bool, minConfidence Confidence) *DetectionRuleBuilder {
	return b.AddDetector(Detector{
		MinNumFindings: 1,
		MinConfidence:  minConfidence,
		DisplayName:    displayName,
		DetectorType:   DetectorTypeRegex,
		Regex:          &Regex{Pattern: pattern, IsCaseSensitive: caseSensitive},
	})
}

// Build creates a new DetectionRule from the builder.
func (b *DetectionRuleBuilder) Build() DetectionRule {
	rule := b.rule
	rule.Detectors = append([]Detector(nil), b.rule.Detectors...)
	return rule
}

// ScanPolicyBuilder simplifies the construction of a ScanPolicy.
type ScanPolicyBuilder struct {
	policy ScanPolicy
}

// NewScanPolicyBuilder creates a new ScanPolicyBuilder.
func NewScanPolicyBuilder() *ScanPolicyBuilder {
	return &ScanPolicyBuilder{}
}

// AddDetectionRuleUUID references detection rules created in the Nightfall dashboard.
func (b *ScanPolicyBuilder) AddDetectionRuleUUID(uuids ...string) *ScanPolicyBuilder {
	b.policy.DetectionRuleUUIDs = append(b.policy.DetectionRuleUUIDs, uuids...)
	return b
}

// AddDetectionRule adds inline detection rules.
func (b *ScanPolicyBuilder) AddDetectionRule(rules ...DetectionRule) *ScanPolicyBuilder {
	b.policy.DetectionRules = append(b.policy.DetectionRules, rules...)
	return b
}

// WebhookURL sets where the findings are delivered.
func (b *ScanPolicyBuilder) WebhookURL(url string) *ScanPolicyBuilder {
	b.policy.WebhookURL = url
	return b
}

// AlertConfig sets additional alert targets.
func (b *ScanPolicyBuilder) AlertConfig(cfg *AlertConfig) *ScanPolicyBuilder {
	b.policy.AlertConfig = cfg
	return b
}

// Build creates a new ScanPolicy from the builder.
func (b *ScanPolicyBuilder) Build() *ScanPolicy {
	policy := b.policy
	return &policy
}

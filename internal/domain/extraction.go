package domain

// FailureKind classifies why an extraction did not produce a media URL.
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureStatus     FailureKind = "status"
	FailureRequest    FailureKind = "request"
	FailureDecode     FailureKind = "decode"
	FailureTooLarge   FailureKind = "too_large"
	FailureUpstream   FailureKind = "upstream"
	FailureUnresolved FailureKind = "unresolved"
)

// ExtractionResult is the tagged outcome of calling the extraction API:
// either a resolved media URL or a failure with a human-readable reason.
// Exactly one of MediaURL and Reason is set.
type ExtractionResult struct {
	MediaURL string
	Kind     FailureKind
	Reason   string
}

// Resolved builds a successful result.
func Resolved(mediaURL string) ExtractionResult {
	return ExtractionResult{MediaURL: mediaURL}
}

// Failed builds a failure result.
func Failed(kind FailureKind, reason string) ExtractionResult {
	return ExtractionResult{Kind: kind, Reason: reason}
}

// OK reports whether the result carries a media URL.
func (r ExtractionResult) OK() bool { return r.MediaURL != "" && r.Reason == "" }

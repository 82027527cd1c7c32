package privacy

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSpan is returned when a span does not describe text[start:end]
	ErrInvalidSpan = errors.New("invalid finding span")
	// ErrInvalidRule marks a rule configuration that cannot be compiled
	ErrInvalidRule = errors.New("invalid rule")
	// ErrUnsupportedTemplate marks a replacement template the masker cannot expand
	ErrUnsupportedTemplate = errors.New("unsupported replacement template")
	// ErrRecognizerUnavailable is returned by recognizers that cannot serve a request
	ErrRecognizerUnavailable = errors.New("recognizer unavailable")
)

// Finding is one matched PII span. Start and End are byte offsets into the
// scanned text, half-open, with text[Start:End] == Value.
type Finding struct {
	PIIType string `json:"pii_type"`
	Value   string `json:"value"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// newFinding builds a Finding for text[start:end], rejecting spans that fall
// outside the text or split a UTF-8 sequence.
func newFinding(text, piiType string, start, end int) (Finding, error) {
	if err := checkSpan(text, start, end); err != nil {
		return Finding{}, err
	}
	return Finding{
		PIIType: piiType,
		Value:   text[start:end],
		Start:   start,
		End:     end,
	}, nil
}

// Validate reports whether f describes a span of text.
func (f Finding) Validate(text string) error {
	if err := checkSpan(text, f.Start, f.End); err != nil {
		return err
	}
	if text[f.Start:f.End] != f.Value {
		return fmt.Errorf("%w: value does not match text[%d:%d]", ErrInvalidSpan, f.Start, f.End)
	}
	return nil
}

// Len returns the span length in bytes.
func (f Finding) Len() int {
	return f.End - f.Start
}

// Overlaps reports whether the two spans share at least one byte.
func (f Finding) Overlaps(other Finding) bool {
	return f.Start < other.End && other.Start < f.End
}

func (f Finding) String() string {
	return f.PIIType + ": " + f.Value
}

func checkSpan(text string, start, end int) error {
	if start < 0 || start > end || end > len(text) {
		return fmt.Errorf("%w: [%d,%d) outside text of length %d", ErrInvalidSpan, start, end, len(text))
	}
	if !runeBoundary(text, start) || !runeBoundary(text, end) {
		return fmt.Errorf("%w: [%d,%d) splits a UTF-8 sequence", ErrInvalidSpan, start, end)
	}
	return nil
}

func runeBoundary(text string, i int) bool {
	if i == 0 || i == len(text) {
		return true
	}
	// continuation bytes are 10xxxxxx
	return text[i]&0xC0 != 0x80
}

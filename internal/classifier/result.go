package classifier

import (
	"strings"

	"github.com/jo-hoe/goberry/internal/apperror"
)

// AnalysisResult is one classification outcome for one uploaded image.
// Confidence is a pointer so a response without the field can be told apart from 0.
type AnalysisResult struct {
	Status     string
	Confidence *float64
	Timestamp  string
	ImageID    string
	ImageURL   string
}

// WithImageURL returns a copy of the result carrying the inline image.
func (r AnalysisResult) WithImageURL(imageURL string) AnalysisResult {
	r.ImageURL = imageURL
	if r.Confidence != nil {
		c := *r.Confidence
		r.Confidence = &c
	}
	return r
}

// Validate checks that every field the result card shows is present and in range.
func (r *AnalysisResult) Validate() error {
	if r == nil {
		return apperror.Malformed("result is nil")
	}
	if strings.TrimSpace(r.Status) == "" {
		return apperror.Malformed("status is missing")
	}
	if r.Confidence == nil {
		return apperror.Malformed("confidence is missing")
	}
	if *r.Confidence < 0 || *r.Confidence > 100 {
		return apperror.Malformed("confidence %v is outside [0,100]", *r.Confidence)
	}
	if strings.TrimSpace(r.Timestamp) == "" {
		return apperror.Malformed("timestamp is missing")
	}
	return nil
}

// Float64 is a helper for building results in code and tests.
func Float64(v float64) *float64 {
	return &v
}

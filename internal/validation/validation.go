package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/encoderhq/encoderd/internal/types"
)

// MaxTextLength bounds item text, measured in runes.
const MaxTextLength = 8192

// MaxItems bounds the number of items in one embedding request.
const MaxItems = 4096

// MaxCandidates bounds the candidate set of one rerank request.
const MaxCandidates = 1024

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateEmbedRequest checks an embedding request. An empty item list is
// valid: it produces an empty result without touching the pipeline.
func ValidateEmbedRequest(req types.EmbedRequest) []ValidationError {
	var c Collector

	if len(req.Items) > MaxItems {
		c.Add(&ValidationError{
			Field:   "items",
			Message: fmt.Sprintf("exceeds maximum of %d items", MaxItems),
		})
		return c.Errors()
	}

	for i, item := range req.Items {
		validateContentItem(&c, fmt.Sprintf("items[%d]", i), item)
	}
	return c.Errors()
}

// ValidateRerankRequest checks a rerank request.
func ValidateRerankRequest(req types.RerankRequest) []ValidationError {
	var c Collector

	validateContentItem(&c, "query", req.Query)

	if len(req.Candidates) == 0 {
		c.Add(&ValidationError{Field: "candidates", Message: "must not be empty"})
		return c.Errors()
	}
	if len(req.Candidates) > MaxCandidates {
		c.Add(&ValidationError{
			Field:   "candidates",
			Message: fmt.Sprintf("exceeds maximum of %d candidates", MaxCandidates),
		})
		return c.Errors()
	}

	for i, item := range req.Candidates {
		validateContentItem(&c, fmt.Sprintf("candidates[%d]", i), item)
	}
	return c.Errors()
}

// validateContentItem enforces the exactly-one-content-field rule and text
// hygiene for a single item.
func validateContentItem(c *Collector, field string, item types.ContentItem) {
	if item.ContentFields() != 1 {
		c.Add(&ValidationError{Field: field, Message: "must set exactly one of text, blob, or tensor"})
		return
	}

	if item.Text != "" {
		c.Add(ValidateUTF8(field+".text", item.Text))
		c.Add(ValidateNoNullBytes(field+".text", item.Text))
		c.Add(ValidateMaxLength(field+".text", item.Text, MaxTextLength))
	}
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

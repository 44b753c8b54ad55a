package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ValidatorConfig holds request-payload validation limits.
type ValidatorConfig struct {
	MaxBodySize   int64 // max request body size in bytes
	MaxJobType    int   // max job_type length
	MaxJobName    int   // max job_name length
	MaxNotesBytes int   // max notes length
}

// DefaultValidatorConfig returns sane defaults for job submission payloads.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxBodySize:   10 << 20, // 10MB, well above BlobstoreThresholdBytes
		MaxJobType:    256,
		MaxJobName:    256,
		MaxNotesBytes: 4096,
	}
}

// ValidationError represents one payload validation failure (§7 invalid-payload).
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validator performs job-submission payload checks ahead of put-job!, so
// an obviously malformed request never reaches the graph engine.
type Validator struct {
	config ValidatorConfig
}

// NewValidator builds a Validator with the given limits.
func NewValidator(config ValidatorConfig) *Validator {
	return &Validator{config: config}
}

// Config returns the validator's configured limits.
func (v *Validator) Config() ValidatorConfig {
	return v.config
}

// ValidateJobType checks that job_type is present and within bounds.
func (v *Validator) ValidateJobType(jobType string) error {
	if jobType == "" {
		return &ValidationError{Field: "job_type", Message: "job_type is required"}
	}
	if len(jobType) > v.config.MaxJobType {
		return &ValidationError{Field: "job_type", Message: "job_type exceeds maximum length"}
	}
	return nil
}

// ValidateJobName checks job_name, which is optional but bounded.
func (v *Validator) ValidateJobName(name string) error {
	if len(name) > v.config.MaxJobName {
		return &ValidationError{Field: "job_name", Message: "job_name exceeds maximum length"}
	}
	return nil
}

// ValidateNotes checks the free-text notes field.
func (v *Validator) ValidateNotes(notes string) error {
	if len(notes) > v.config.MaxNotesBytes {
		return &ValidationError{Field: "notes", Message: "notes exceeds maximum length"}
	}
	return nil
}

// BodySizeLimitMiddleware rejects oversized request bodies outright.
func BodySizeLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
			})
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// SecurityHeadersMiddleware adds the standard defensive response headers.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// RequestIDMiddleware stamps every request with a correlation id, reusing
// one the caller already supplied.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = newRequestID()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func newRequestID() string {
	return "req-" + uuid.NewString()
}

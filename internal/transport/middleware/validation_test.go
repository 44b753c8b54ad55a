package middleware_test

import (
	"testing"

	. "github.com/nightslayer18/skeenode-contracts/internal/transport/middleware"
)

func TestValidator_ValidateJobType_RejectsEmpty(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateJobType(""); err == nil {
		t.Error("expected empty job_type to be rejected")
	}
}

func TestValidator_ValidateJobType_AcceptsWithinBounds(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, jobType := range []string{"report", "video-transcode", "ml.train"} {
		if err := v.ValidateJobType(jobType); err != nil {
			t.Errorf("expected job_type %q to be valid, got %v", jobType, err)
		}
	}
}

func TestValidator_ValidateJobType_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxJobType = 5
	v := NewValidator(config)

	if err := v.ValidateJobType("much-too-long-a-job-type"); err == nil {
		t.Error("expected overlong job_type to be rejected")
	}
}

func TestValidator_ValidateJobName_AcceptsEmpty(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateJobName(""); err != nil {
		t.Errorf("job_name is optional, expected no error, got %v", err)
	}
}

func TestValidator_ValidateJobName_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxJobName = 5
	v := NewValidator(config)

	if err := v.ValidateJobName("way too long a name"); err == nil {
		t.Error("expected overlong job_name to be rejected")
	}
}

func TestValidator_ValidateNotes_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxNotesBytes = 5
	v := NewValidator(config)

	if err := v.ValidateNotes("way too long a note"); err == nil {
		t.Error("expected overlong notes to be rejected")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Field:   "job_type",
		Message: "is required",
	}

	expected := "job_type: is required"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

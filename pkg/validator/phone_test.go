package validator

import (
	"testing"

	playground "github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ValidNumbers(t *testing.T) {
	validator := NewPhoneValidator()

	validNumbers := []struct {
		input    string
		expected string
		name     string
	}{
		{"01712345678", "01712345678", "Standard format"},
		{"017 1234 5678", "01712345678", "With spaces"},
		{"017-1234-5678", "01712345678", "With dashes"},
		{"(017) 1234.5678", "01712345678", "With parentheses and dots"},
		{"+8801712345678", "01712345678", "With country code"},
		{"8801912345678", "01912345678", "Country code without plus"},
		{"01312345678", "01312345678", "Grameenphone 013"},
		{"01512345678", "01512345678", "Teletalk 015"},
		{"01812345678", "01812345678", "Robi 018"},
	}

	for _, tc := range validNumbers {
		t.Run(tc.name, func(t *testing.T) {
			sanitized, err := validator.Validate(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sanitized)
		})
	}
}

func TestValidate_InvalidNumbers(t *testing.T) {
	validator := NewPhoneValidator()

	invalidNumbers := []struct {
		input       string
		expectedErr error
		name        string
	}{
		{"", ErrEmptyPhone, "Empty string"},
		{"   ", ErrEmptyPhone, "Only spaces"},
		{"017", ErrInvalidLength, "Too short"},
		{"017123456789", ErrInvalidLength, "Too long"},
		{"01212345678", ErrInvalidPrefix, "Invalid prefix 012"},
		{"02712345678", ErrInvalidPrefix, "Landline prefix"},
		{"0171234567a", ErrInvalidFormat, "Contains letters"},
		{"017-1234-567!", ErrInvalidFormat, "Contains special characters"},
	}

	for _, tc := range invalidNumbers {
		t.Run(tc.name, func(t *testing.T) {
			_, err := validator.Validate(tc.input)
			assert.Equal(t, tc.expectedErr, err)
		})
	}
}

func TestFormatAndOperator(t *testing.T) {
	validator := NewPhoneValidator()

	formatted, err := validator.Format("+8801712345678")
	require.NoError(t, err)
	assert.Equal(t, "017-1234-5678", formatted)

	operator, err := validator.GetOperator("01912345678")
	require.NoError(t, err)
	assert.Equal(t, "Banglalink", operator)

	_, err = validator.GetOperator("123")
	assert.Error(t, err)
}

func TestRegisterTags(t *testing.T) {
	validate := playground.New()
	require.NoError(t, RegisterTags(validate))

	type contact struct {
		Phone    string `validate:"required,bdphone"`
		Fallback string `validate:"omitempty,bdphone"`
	}

	assert.NoError(t, validate.Struct(contact{Phone: "01712345678"}))
	assert.NoError(t, validate.Struct(contact{Phone: "017 1234 5678", Fallback: "01512345678"}))
	assert.Error(t, validate.Struct(contact{Phone: "0771234567"}))
	assert.Error(t, validate.Struct(contact{Phone: "01712345678", Fallback: "12"}))
}

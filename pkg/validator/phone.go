package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	playground "github.com/go-playground/validator/v10"
)

// PhoneTag is the struct tag that checks a Bangladeshi mobile number
const PhoneTag = "bdphone"

var (
	// ErrInvalidLength indicates phone number length is not 11 digits
	ErrInvalidLength = errors.New("phone number must be exactly 11 digits")

	// ErrInvalidPrefix indicates phone number doesn't start with a mobile operator prefix
	ErrInvalidPrefix = errors.New("phone number must start with 013, 014, 015, 016, 017, 018 or 019")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

// operators maps each mobile prefix to its operator
var operators = map[string]string{
	"013": "Grameenphone",
	"017": "Grameenphone",
	"014": "Banglalink",
	"019": "Banglalink",
	"015": "Teletalk",
	"016": "Robi",
	"018": "Robi",
}

var phoneRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator handles phone number validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates a Bangladeshi mobile number.
// Accepts 01712345678, 017-1234-5678 or +8801712345678 and returns the
// digits-only local form.
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)
	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}
	if len(sanitized) != 11 {
		return "", ErrInvalidLength
	}
	if !v.IsValidPrefix(sanitized) {
		return "", ErrInvalidPrefix
	}

	return sanitized, nil
}

// Sanitize strips separators and the 880 country code
func (v *PhoneValidator) Sanitize(phone string) string {
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "").Replace(phone)

	if strings.HasPrefix(phone, "880") && len(phone) == 13 {
		phone = phone[2:]
	}
	return phone
}

// IsValidPrefix checks the operator prefix
func (v *PhoneValidator) IsValidPrefix(phone string) bool {
	if len(phone) < 3 {
		return false
	}
	_, ok := operators[phone[:3]]
	return ok
}

// Format returns the display form 01X-XXXX-XXXX
func (v *PhoneValidator) Format(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", sanitized[0:3], sanitized[3:7], sanitized[7:11]), nil
}

// GetOperator returns the mobile operator name based on prefix
func (v *PhoneValidator) GetOperator(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	return operators[sanitized[:3]], nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}

// RegisterTags adds the bdphone tag to a struct validator
func RegisterTags(validate *playground.Validate) error {
	phones := NewPhoneValidator()
	return validate.RegisterValidation(PhoneTag, func(fl playground.FieldLevel) bool {
		return phones.IsValid(fl.Field().String())
	})
}

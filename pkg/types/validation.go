package types

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// ErrValidation is the root of every ValidationError
	ErrValidation = errors.New("validation failed")

	validate = newValidator()
)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("userid", func(fl validator.FieldLevel) bool {
		return IsValidUserID(fl.Field().String())
	})
	return v
}

// Validate checks the struct tags of an event payload and returns a
// *ValidationError listing the offending fields.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Err: err}
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Error: describeTag(fe)})
	}
	return &ValidationError{Err: ErrValidation, Fields: fields}
}

// ValidatePrivateMessage applies the relay rules to an outgoing message
// from senderID.
func ValidatePrivateMessage(senderID string, msg *PrivateMessage) error {
	if msg == nil {
		return &ValidationError{Err: ErrValidation, Fields: []FieldError{{Field: "receiver", Error: "is required"}, {Field: "content", Error: "is required"}}}
	}
	if err := Validate(msg); err != nil {
		return err
	}
	if msg.Receiver == senderID {
		return &ValidationError{Err: ErrSelfMessage, Fields: []FieldError{{Field: "receiver", Error: "cannot be the sender"}}}
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank", "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "userid":
		return "must be 1-50 characters, alphanumeric + underscore/hyphen only"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// IsValidUserID checks if an id meets format requirements.
// Used for user ids and session ids alike.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

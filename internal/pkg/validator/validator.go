package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Register custom validations
	registerCustomValidations()
}

func registerCustomValidations() {
	// Role validation
	validate.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		role := fl.Field().String()
		validRoles := []string{"participant", "photographer", "organizer", "admin"}
		for _, r := range validRoles {
			if role == r {
				return true
			}
		}
		return false
	})

	// Booking policy validation
	validate.RegisterValidation("booking_policy", func(fl validator.FieldLevel) bool {
		policy := fl.Field().String()
		validPolicies := []string{"first_come", "lottery", "admin_lottery", "priority", "waitlist"}
		for _, p := range validPolicies {
			if policy == p {
				return true
			}
		}
		return false
	})

	// Rank validation
	validate.RegisterValidation("rank", func(fl validator.FieldLevel) bool {
		rank := fl.Field().String()
		validRanks := []string{"general", "gold", "platinum"}
		for _, r := range validRanks {
			if rank == r {
				return true
			}
		}
		return false
	})

	// Dispute reason validation
	validate.RegisterValidation("dispute_reason", func(fl validator.FieldLevel) bool {
		reason := fl.Field().String()
		validReasons := []string{"no_show", "quality_issue", "incomplete_delivery", "wrong_item", "other"}
		for _, r := range validReasons {
			if reason == r {
				return true
			}
		}
		return false
	})

	// ISO currency code validation (subset the gateway supports)
	validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		currency := fl.Field().String()
		validCurrencies := []string{"JPY", "USD", "EUR", ""}
		for _, c := range validCurrencies {
			if currency == c {
				return true
			}
		}
		return false
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "email":
			errors[field] = "Invalid email format"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gt":
			errors[field] = "Value must be greater than " + err.Param()
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "url":
			errors[field] = "Invalid URL format"
		case "role":
			errors[field] = "Invalid role. Must be: participant, photographer, organizer, or admin"
		case "booking_policy":
			errors[field] = "Invalid policy. Must be: first_come, lottery, admin_lottery, priority, or waitlist"
		case "rank":
			errors[field] = "Invalid rank. Must be: general, gold, or platinum"
		case "dispute_reason":
			errors[field] = "Invalid dispute reason"
		case "currency":
			errors[field] = "Unsupported currency"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}

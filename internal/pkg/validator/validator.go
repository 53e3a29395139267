package validator

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

var referralCodePattern = regexp.MustCompile(`^[A-Z0-9]{6,12}$`)

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

	registerCustomValidations()
}

func registerCustomValidations() {
	validate.RegisterValidation("referral_code", func(fl validator.FieldLevel) bool {
		return referralCodePattern.MatchString(strings.ToUpper(fl.Field().String()))
	})

	validate.RegisterValidation("payout_method", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "paypal", "gift_card", "bank_transfer", "upi":
			return true
		}
		return false
	})

	validate.RegisterValidation("vote_target", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "blog_post", "wallpaper", "craftland_code":
			return true
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

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	errors := make(map[string]string)
	for _, err := range validationErrors {
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
		case "ne":
			errors[field] = "Value must not be " + err.Param()
		case "oneof":
			errors[field] = "Must be one of: " + err.Param()
		case "referral_code":
			errors[field] = "Invalid referral code format"
		case "payout_method":
			errors[field] = "Invalid payout method. Must be: paypal, gift_card, bank_transfer, or upi"
		case "vote_target":
			errors[field] = "Invalid target type. Must be: blog_post, wallpaper, or craftland_code"
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

package validation

import (
	"reflect"
	"strings"

	"github.com/shopspring/decimal"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a configured validator with custom struct-level validation registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// a payment report must say how and how much was paid
	v.RegisterStructValidation(transitionStructValidation, TransitionRequest{})

	return v
}

func transitionStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(TransitionRequest)
	if req.Target != "paid" {
		return
	}
	if req.PaymentMethod == "" {
		sl.ReportError(req.PaymentMethod, "payment_method", "PaymentMethod", "required_for_paid", "")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		sl.ReportError(req.Amount, "amount", "Amount", "decimal_amount", req.Amount)
	}
}

// ValidEmail reports whether email is a syntactically valid address.
func ValidEmail(v *validatorv10.Validate, email string) bool {
	return v.Var(email, "required,email,max=254") == nil
}

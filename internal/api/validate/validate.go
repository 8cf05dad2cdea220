package validate

import (
	"regexp"
	"strconv"
	"strings"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string { // error interface
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Helpers
func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

// Form-level phone check: 254XXXXXXXXX, 0XXXXXXXXX or a bare 9-digit
// local number. The gateway client re-validates defensively.
var phoneRe = regexp.MustCompile(`^(254[0-9]{9}|0[0-9]{9}|[0-9]{9})$`)

func Phone(field, value string) *ErrField {
	if !phoneRe.MatchString(strings.TrimSpace(value)) {
		return &ErrField{Field: field, Msg: "invalid phone number format"}
	}
	return nil
}

// AmountRange enforces the payment form's bounds, in whole currency units.
func AmountRange(field string, v, min, max float64) *ErrField {
	if v < min || v > max {
		return &ErrField{
			Field: field,
			Msg: "must be between " + strconv.FormatFloat(min, 'f', -1, 64) +
				" and " + strconv.FormatFloat(max, 'f', -1, 64),
		}
	}
	return nil
}

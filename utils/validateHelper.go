package utils

import (
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// Custom binding tags used by the request payloads.
//   - request_status: OPEN | CLOSED (case-insensitive)
//   - weight_unit:    kg, g, lb, lbs, t, ton, tonne, mt
//   - incoterm:       Incoterms 2020 three-letter codes
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("request_status", oneOfFold("OPEN", "CLOSED"))
		_ = v.RegisterValidation("weight_unit", oneOfFold("kg", "kgs", "g", "lb", "lbs", "t", "ton", "tonne", "mt"))
		_ = v.RegisterValidation("incoterm", oneOfFold("EXW", "FCA", "CPT", "CIP", "DAP", "DPU", "DDP", "FAS", "FOB", "CFR", "CIF"))
	})
}

func oneOfFold(allowed ...string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value := strings.TrimSpace(fl.Field().String())
		if value == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(a, value) {
				return true
			}
		}
		return false
	}
}

func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		errorResponse["body"] = err.Error()
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Field names accepted by Apply. They match the JSON keys of Configuration.
const (
	FieldPrimaryModel      = "primaryModel"
	FieldSecondaryModel    = "secondaryModel"
	FieldOptimizationLevel = "optimizationLevel"
	FieldChunkSize         = "chunkSize"
	FieldUseAccelerator    = "useAccelerator"
	FieldPrivacyMode       = "privacyMode"
	FieldQuantization      = "quantization"
)

// Fields lists the settable field names.
func Fields() []string {
	return []string{
		FieldPrimaryModel,
		FieldSecondaryModel,
		FieldOptimizationLevel,
		FieldChunkSize,
		FieldUseAccelerator,
		FieldPrivacyMode,
		FieldQuantization,
	}
}

// Apply parses a textual value and assigns it to the named field through the
// matching setter. Field names are matched case-insensitively.
func (c *Configuration) Apply(field, value string) error {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(field)) {
	case strings.ToLower(FieldPrimaryModel):
		m, err := parseModel(value)
		if err != nil {
			return err
		}
		return c.SetPrimaryModel(m)
	case strings.ToLower(FieldSecondaryModel):
		m, err := parseModel(value)
		if err != nil {
			return err
		}
		return c.SetSecondaryModel(m)
	case strings.ToLower(FieldOptimizationLevel):
		for _, l := range OptimizationLevels() {
			if strings.EqualFold(string(l), value) {
				return c.SetOptimizationLevel(l)
			}
		}
		return fmt.Errorf("%w: unknown optimization level %q", ErrInvalidConfiguration, value)
	case strings.ToLower(FieldChunkSize):
		n, err := strconv.Atoi(strings.TrimSpace(value))
		// Out-of-range integers come back saturated and clamp like any other.
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return fmt.Errorf("%w: chunk size %q is not an integer", ErrInvalidConfiguration, value)
		}
		c.SetChunkSize(n)
		return nil
	case strings.ToLower(FieldUseAccelerator):
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: useAccelerator %q is not a boolean", ErrInvalidConfiguration, value)
		}
		c.SetUseAccelerator(b)
		return nil
	case strings.ToLower(FieldPrivacyMode):
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: privacyMode %q is not a boolean", ErrInvalidConfiguration, value)
		}
		c.SetPrivacyMode(b)
		return nil
	case strings.ToLower(FieldQuantization):
		for _, q := range Quantizations() {
			if strings.EqualFold(string(q), value) {
				return c.SetQuantization(q)
			}
		}
		return fmt.Errorf("%w: unknown quantization %q", ErrInvalidConfiguration, value)
	default:
		return fmt.Errorf("%w: unknown field %q (expected one of %s)", ErrInvalidConfiguration, field, strings.Join(Fields(), ", "))
	}
}

func parseModel(value string) (Model, error) {
	for _, m := range Models() {
		if strings.EqualFold(string(m), value) {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown model %q", ErrInvalidConfiguration, value)
}

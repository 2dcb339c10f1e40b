package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// GeometryTypeError reports asset geometries that do not match the type the
// selected mode requires.
type GeometryTypeError struct {
	Path     string
	Expected []string
	// Found maps each offending geometry type to the number of features with it.
	Found map[string]int
}

func (e *GeometryTypeError) Error() string {
	var found []string
	for _, t := range slices.Sorted(maps.Keys(e.Found)) {
		found = append(found, fmt.Sprintf("%s=%d", t, e.Found[t]))
	}
	src := "asset vector"
	if e.Path != "" {
		src = fmt.Sprintf("asset vector %s", e.Path)
	}
	return fmt.Sprintf("%s: all geometries must be %s, found %s",
		src, strings.Join(e.Expected, " or "), strings.Join(found, ", "))
}

// ConfigurationError reports an invalid combination of inputs or a malformed
// reference table. Input names the file or option that failed the check.
type ConfigurationError struct {
	Input  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Input != "" {
		msg = fmt.Sprintf("%s: %s", e.Input, e.Reason)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "configuration: " + msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError builds a ConfigurationError with a formatted reason.
func NewConfigurationError(input, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Input: input, Reason: fmt.Sprintf(format, args...)}
}

// MissingRasterError reports an ecosystem service raster that does not exist.
type MissingRasterError struct {
	ServiceID string
	Path      string
	Catalog   string
}

func (e *MissingRasterError) Error() string {
	return fmt.Sprintf("raster %s for service %q (listed in %s) does not exist", e.Path, e.ServiceID, e.Catalog)
}

// IsGeometryTypeError returns true if err (or any error in its chain) is a GeometryTypeError.
func IsGeometryTypeError(err error) bool {
	var ge *GeometryTypeError
	return errors.As(err, &ge)
}

// IsConfigurationError returns true if err (or any error in its chain) is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsMissingRasterError returns true if err (or any error in its chain) is a
// MissingRasterError.
func IsMissingRasterError(err error) bool {
	var me *MissingRasterError
	return errors.As(err, &me)
}

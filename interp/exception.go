package interp

import "fmt"

// Exception is a catchable in-language error. It unwinds through the
// handler tables of the active frames; if nothing catches it the run fails.
// Resource limit violations are deliberately not Exceptions.
type Exception struct {
	Type    string
	Message string
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func Raise(excType, format string, args ...any) *Exception {
	return &Exception{Type: excType, Message: fmt.Sprintf(format, args...)}
}

// Exception type names, following the conventional taxonomy.
const (
	ExcType            = "TypeError"
	ExcName            = "NameError"
	ExcValue           = "ValueError"
	ExcIndex           = "IndexError"
	ExcKey             = "KeyError"
	ExcAttribute       = "AttributeError"
	ExcZeroDivision    = "ZeroDivisionError"
	ExcRuntime         = "RuntimeError"
	ExcHostError       = "HostError"
	ExcHostUnavailable = "HostUnavailable"
)

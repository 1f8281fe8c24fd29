package sandbox

import "fmt"

// Status classifies how one sandboxed execution ended.
type Status int

const (
	// not initialized status (as error)
	StatusInvalid Status = iota

	// exited with code 0 within all limits
	StatusNormal

	// exited non-zero or crashed inside the sandbox
	StatusRuntimeError

	// killed by the wall clock watchdog or CPU limit
	StatusKilledTimeout

	// killed after exceeding the memory ceiling
	StatusKilledMemory

	// terminated after stdout/stderr exceeded the output cap
	StatusKilledOutputOverflow

	// sandbox infrastructure failure, not a property of the submission
	StatusInternalError
)

var statusToString = []string{
	"invalid",
	"normal",
	"runtime_error",
	"killed_timeout",
	"killed_memory",
	"killed_output_overflow",
	"internal_error",
}

var stringToStatus = make(map[string]Status)

func init() {
	for i, v := range statusToString {
		stringToStatus[v] = Status(i)
	}
}

func (s Status) String() string {
	v := int(s)
	if v < 0 || v >= len(statusToString) {
		return statusToString[0]
	}
	return statusToString[v]
}

// MarshalJSON encodes the status as its string name.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the status from its string name.
func (s *Status) UnmarshalJSON(b []byte) error {
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid status: %s", b)
	}
	v, ok := stringToStatus[string(b[1:len(b)-1])]
	if !ok {
		return fmt.Errorf("unknown status %s", b)
	}
	*s = v
	return nil
}

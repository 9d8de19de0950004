package solver

import (
	"fmt"
	"strings"
)

// NoVersionError is returned when no catalog candidate at all satisfies the
// requested range.
type NoVersionError struct {
	Name    string
	Range   string
	Parents []string
}

func (e *NoVersionError) Error() string {
	return fmt.Sprintf("could not find a version of %q matching %q%s",
		e.Name, e.Range, requiredBy(e.Parents))
}

// ToolchainError is returned when the toolchain filter alone caused the miss:
// some candidate would have satisfied the range without it. It is
// deliberately distinct from NoVersionError so callers can suggest relaxing
// the constraint instead of reporting a plain miss.
type ToolchainError struct {
	Name      string
	Range     string
	Toolchain Toolchain
	Parents   []string
}

func (e *ToolchainError) Error() string {
	return fmt.Sprintf("no version of %q matching %q is compatible with %s %s; versions exist outside this constraint, consider relaxing it%s",
		e.Name, e.Range, e.Toolchain.Name, e.Toolchain.Version, requiredBy(e.Parents))
}

func requiredBy(parents []string) string {
	if len(parents) == 0 {
		return ""
	}
	return fmt.Sprintf(" (required by %s)", strings.Join(parents, " > "))
}

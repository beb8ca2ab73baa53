package source

import (
	"errors"
	"strings"
)

// CommandError is a failed git invocation with its captured stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := "git " + strings.Join(e.Args, " ") + ": " + e.Err.Error()
	if e.Stderr != "" {
		msg += " (stderr: " + e.Stderr + ")"
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"connection timed out",
	"timed out",
	"temporary failure in name resolution",
	"could not resolve host",
	"early eof",
	"rpc failed",
	"the remote end hung up unexpectedly",
	"returned error: 500",
	"returned error: 502",
	"returned error: 503",
	"returned error: 504",
}

var permanentMarkers = []string{
	"authentication failed",
	"could not read username",
	"terminal prompts disabled",
	"permission denied",
	"repository not found",
	"does not appear to be a git repository",
	"not found",
	"returned error: 401",
	"returned error: 403",
	"returned error: 404",
}

// IsTransient reports whether err looks like a failure worth retrying.
// Authentication and not-found failures never are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	var ce *CommandError
	if errors.As(err, &ce) {
		msg = strings.ToLower(ce.Stderr + " " + ce.Err.Error())
	}
	for _, m := range permanentMarkers {
		if strings.Contains(msg, m) {
			return false
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

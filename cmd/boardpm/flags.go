package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// enumValue is a string flag restricted to a fixed set of values.
type enumValue struct {
	target  *string
	allowed []string
}

var _ pflag.Value = (*enumValue)(nil)

func newEnumValue(target *string, allowed ...string) *enumValue {
	return &enumValue{target: target, allowed: allowed}
}

func (e *enumValue) String() string {
	if e.target == nil {
		return ""
	}
	return *e.target
}

func (e *enumValue) Set(v string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range e.allowed {
		if v == a {
			*e.target = v
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(e.allowed, "|"))
}

func (e *enumValue) Type() string { return "string" }

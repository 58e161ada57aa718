// Package buildinfo carries build-time metadata injected by the linker. It is
// kept apart from conf so that version data never ends up in config files.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// Info is implemented by Context. Consumers that only read metadata accept
// this interface so tests can supply their own values.
type Info interface {
	Version() string
	BuildDate() string
	SystemID() string
}

// Context holds build metadata. A nil *Context reports UnknownValue.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

var _ Info = (*Context)(nil)

// NewContext returns a Context for the given values.
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{version: version, buildDate: buildDate, systemID: systemID}
}

// Version returns the git tag the binary was built from.
func (c *Context) Version() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.version)
}

// BuildDate returns the build timestamp.
func (c *Context) BuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.buildDate)
}

// SystemID returns the anonymous installation identifier used in telemetry.
func (c *Context) SystemID() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.systemID)
}

// WithSystemID returns a copy of c carrying id.
func (c *Context) WithSystemID(id string) *Context {
	if c == nil {
		return NewContext("", "", id)
	}
	cp := *c
	cp.systemID = id
	return &cp
}

// Release formats the Sentry release name, e.g. "mediacore@1.2.0".
func Release(i Info) string {
	return "mediacore@" + i.Version()
}

// String renders the version line printed by the version command.
func String(i Info) string {
	return fmt.Sprintf("mediacore %s (built %s)", i.Version(), i.BuildDate())
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

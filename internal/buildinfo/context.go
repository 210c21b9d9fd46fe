// Package buildinfo holds build-time metadata injected with -ldflags.
package buildinfo

// UnknownValue is reported for metadata that was not set at build time.
const UnknownValue = "unknown"

// Context carries the build metadata of the running binary.
type Context struct {
	version   string
	buildDate string
}

// NewContext returns build metadata. Empty values report as UnknownValue.
func NewContext(version, buildDate string) *Context {
	return &Context{version: version, buildDate: buildDate}
}

// Version returns the version tag.
func (c *Context) Version() string {
	if c == nil || c.version == "" {
		return UnknownValue
	}
	return c.version
}

// BuildDate returns the build timestamp.
func (c *Context) BuildDate() string {
	if c == nil || c.buildDate == "" {
		return UnknownValue
	}
	return c.buildDate
}

// String renders "<version> (built <date>)" for --version output.
func (c *Context) String() string {
	return c.Version() + " (built " + c.BuildDate() + ")"
}

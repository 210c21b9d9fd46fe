//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// NoPrintLogging routes library output through the structured logger.
// Commands print to their writer and are excluded.
func NoPrintLogging(m dsl.Matcher) {
	m.Match(`fmt.Println($*_)`, `fmt.Printf($*_)`, `log.Printf($*_)`, `log.Println($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("use the module logger from logger.Global().Module(...) instead of printing")
}

// ErrorField keeps error values as typed fields.
func ErrorField(m dsl.Matcher) {
	m.Match(`logger.String($k, $err.Error())`).
		Where(m["err"].Type.Implements("error")).
		Report("use logger.Error($err)").
		Suggest("logger.Error($err)")
}

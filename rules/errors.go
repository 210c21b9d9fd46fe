//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// EnhancedErrors keeps service packages on internal/errors so failures carry
// a component and a category for the HTTP error mapping and for Sentry.
// Tests, commands and the errors package itself are exempt.
func EnhancedErrors(m dsl.Matcher) {
	m.Import("errors")

	m.Match(`errors.New($msg)`).
		Where(m.File().PkgPath.Matches(`/internal/(dataset|catalog|inference|detector|datastore|api)`) &&
			!m.File().Name.Matches(`_test\.go$`) &&
			m.File().Imports("errors")).
		Report("use errors.Newf or a category helper from internal/errors so the error carries a category")

	m.Match(`return fmt.Errorf($*_)`, `return $_, fmt.Errorf($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/(dataset|catalog)$`) &&
			!m.File().Name.Matches(`_test\.go$`)).
		Report("dataset errors are mapped to HTTP status by category; build them with internal/errors")
}

// CategoryCompare flags direct comparison of categories where the helper
// also unwraps joined and wrapped errors.
func CategoryCompare(m dsl.Matcher) {
	m.Match(`$e.Category == $c`).
		Where(m["e"].Type.Is("*errors.EnhancedError") && !m.File().PkgPath.Matches(`/internal/errors$`)).
		Report("use errors.IsCategory(err, $c)")
}

// WrapVerb keeps error chains intact.
func WrapVerb(m dsl.Matcher) {
	m.Match(`fmt.Errorf($f, $*_, $err)`).
		Where(m["err"].Type.Implements("error") && m["f"].Text.Matches(`%v"$`)).
		Report("wrap with %w so errors.Is and errors.As still see $err")
}

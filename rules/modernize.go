//go:build ruleguard

// Package gorules holds the ruleguard checks run by golangci-lint over the
// repository.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine idiom where wg.Go does the same
// bookkeeping.
//
//	wg.Go(func() {
//	    doSomething()
//	})
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of go func() { defer $wg.Done(); ... }()").
		Suggest("$wg.Go(func() { $*_ })")

	m.Match(`$wg.Add(1)`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("$wg.Go calls Add(1) itself")
}

// MinMax flags float round trips used to clamp integers.
func MinMax(m dsl.Matcher) {
	m.Match(`int(math.Min(float64($a), float64($b)))`).
		Report("use min($a, $b)").
		Suggest("min($a, $b)")

	m.Match(`int(math.Max(float64($a), float64($b)))`).
		Report("use max($a, $b)").
		Suggest("max($a, $b)")

	m.Match(`if $a < $b { $a = $b }`).
		Report("use $a = max($a, $b)").
		Suggest("$a = max($a, $b)")

	m.Match(`if $a > $b { $a = $b }`).
		Report("use $a = min($a, $b)").
		Suggest("$a = min($a, $b)")
}

// SortSlices prefers the generic slices package. Label lists, subset names
// and model versions are all sorted this way.
func SortSlices(m dsl.Matcher) {
	m.Match(`sort.Strings($s)`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Ints($s)`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Slice($s, func($i, $j int) bool { return $s[$i] < $s[$j] })`).
		Report("use slices.Sort($s)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.Slice($s, $_)`).
		Report("use slices.SortFunc($s, ...) with a cmp-style comparator")
}

// ContainsLoop flags hand-written membership loops.
func ContainsLoop(m dsl.Matcher) {
	m.Match(`for _, $x := range $s { if $x == $v { return true } }; return false`).
		Report("use slices.Contains($s, $v)").
		Suggest("return slices.Contains($s, $v)")
}

// RangeInt prefers ranging over an integer.
func RangeInt(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $n; $i++ { $*body }`).
		Where(m["n"].Type.Is("int") && m["n"].Pure).
		Report("use for $i := range $n")
}

// StringsCut flags index-and-slice splits that strings.Cut expresses
// directly.
func StringsCut(m dsl.Matcher) {
	m.Match(`$i := strings.Index($s, $sep); if $i >= 0 { $*_ }`).
		Report("consider strings.Cut($s, $sep)")

	m.Match(`strings.SplitN($s, $sep, 2)[0]`).
		Report("use before, _, _ := strings.Cut($s, $sep)")
}

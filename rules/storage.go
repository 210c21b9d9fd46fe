//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// ProjectFilesThroughSecureFS keeps every project read and write inside the
// os.Root backed SecureFS, which is what stops uploaded archive paths and
// request parameters from escaping the projects directory.
func ProjectFilesThroughSecureFS(m dsl.Matcher) {
	m.Match(
		`os.Open($*_)`,
		`os.OpenFile($*_)`,
		`os.Create($*_)`,
		`os.ReadFile($*_)`,
		`os.WriteFile($*_)`,
		`os.Remove($*_)`,
		`os.RemoveAll($*_)`,
		`os.MkdirAll($*_)`,
	).
		Where(m.File().PkgPath.Matches(`/internal/(dataset|api/v1)$`) && !m.File().Name.Matches(`_test\.go$`)).
		Report("project files must go through securefs.SecureFS")
}

// ArchiveEntryJoin flags joining a zip entry name onto a directory, which is
// the zip-slip pattern.
func ArchiveEntryJoin(m dsl.Matcher) {
	m.Match(`filepath.Join($dir, $f.Name)`).
		Where(m["f"].Type.Is("*zip.File")).
		Report("sanitise $f.Name and write through securefs instead of joining it onto $dir")
}

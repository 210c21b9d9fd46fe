package dataset

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irdetect/autoannotate/internal/errors"
)

func TestSubsetsAreNumberedSequentially(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	images := seedImages(t, dir, "thermal", 4)

	for i := range 3 {
		created, err := store.CreateFullSubset("thermal")
		require.NoError(t, err)
		assert.Equal(t, images, created.Images)
		assert.Equal(t, []string{"subset_1", "subset_2", "subset_3"}[i], created.Name)
	}

	subsets, err := store.ListSubsets("thermal")
	require.NoError(t, err)
	assert.Equal(t, []Subset{
		{Name: "subset_1", JSON: "subset_1/subset_1.json"},
		{Name: "subset_2", JSON: "subset_2/subset_2.json"},
		{Name: "subset_3", JSON: "subset_3/subset_3.json"},
	}, subsets)

	var doc SubsetDocument
	readJSON(t, filepath.Join(dir, "thermal", "subset_2", "subset_2.json"), &doc)
	assert.Equal(t, images, doc.Images)
}

func TestNextSubsetIndexFillsGaps(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 1)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "thermal", "subset_1"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "thermal", "subset_3"), 0o750))

	n, err := store.NextSubsetIndex("thermal")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	created, err := store.CreateManualSubset("thermal", []string{"ghost.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "subset_2", created.Name)
}

func TestListSubsetsOrdersNumerically(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 1)

	for _, name := range []string{"subset_10", "subset_2", "subset_1"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "thermal", name), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "thermal", name, name+".json"), []byte(`{"images":[]}`), 0o600))
	}
	// folder without its json file is skipped
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "thermal", "subset_4"), 0o750))

	subsets, err := store.ListSubsets("thermal")
	require.NoError(t, err)
	names := make([]string, len(subsets))
	for i, s := range subsets {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"subset_1", "subset_2", "subset_10"}, names)
}

func TestConcurrentSubsetCreationUsesDistinctIndexes(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 2)

	const n = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		names = map[string]struct{}{}
	)
	for range n {
		wg.Go(func() {
			created, err := store.CreateFullSubset("thermal")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			names[created.Name] = struct{}{}
			mu.Unlock()
		})
	}
	wg.Wait()

	assert.Len(t, names, n)
}

func TestCreateSubsetSkipsIndexClaimedOnDisk(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 1)

	// A stray file named subset_1 counts as used.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thermal", "subset_1"), nil, 0o600))

	created, err := store.CreateFullSubset("thermal")
	require.NoError(t, err)
	assert.Equal(t, "subset_2", created.Name)
}

func TestCreateFullSubsetErrors(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)

	_, err := store.CreateFullSubset("ghost")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "noimages"), 0o750))
	_, err = store.CreateFullSubset("noimages")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, store.CreateProject("empty"))
	_, err = store.CreateFullSubset("empty")
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCreateManualSubsetRequiresImages(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	require.NoError(t, store.CreateProject("thermal"))

	_, err := store.CreateManualSubset("thermal", nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestCreateRandomSubsetSamplesWithoutReplacement(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	all := seedImages(t, dir, "thermal", 10)

	created, err := store.CreateRandomSubset("thermal", 50)
	require.NoError(t, err)
	require.Len(t, created.Images, 5)

	seen := map[string]struct{}{}
	for _, img := range created.Images {
		assert.Contains(t, all, img)
		seen[img] = struct{}{}
	}
	assert.Len(t, seen, 5)
}

func TestCreateRandomSubsetSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		total   int
		percent float64
		want    int
	}{
		{"at least one", 10, 1, 1},
		{"floor", 7, 50, 3},
		{"everything", 7, 100, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, dir := newTestStore(t)
			seedImages(t, dir, "thermal", tt.total)

			created, err := store.CreateRandomSubset("thermal", tt.percent)
			require.NoError(t, err)
			assert.Len(t, created.Images, tt.want)
		})
	}
}

func TestCreateRandomSubsetRejectsPercent(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 3)

	for _, p := range []float64{0, -5, 100.5} {
		_, err := store.CreateRandomSubset("thermal", p)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), "percent %g", p)
	}
}

func TestDeleteSubset(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 2)

	created, err := store.CreateFullSubset("thermal")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "thermal", created.Name, SubsetResultsFile), []byte("{}"), 0o600))

	require.NoError(t, store.DeleteSubset("thermal", created.Name))
	assert.NoDirExists(t, filepath.Join(dir, "thermal", created.Name))
	assert.DirExists(t, filepath.Join(dir, "thermal", ImagesDir))
}

func TestDeleteMissingSubsetLeavesProjectUntouched(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 2)

	before, err := os.ReadDir(filepath.Join(dir, "thermal"))
	require.NoError(t, err)

	for _, name := range []string{"subset_9", "subset_missing"} {
		err = store.DeleteSubset("thermal", name)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err), name)
	}

	after, err := os.ReadDir(filepath.Join(dir, "thermal"))
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestDeleteListedNonNumericSubset(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 1)

	legacy := filepath.Join(dir, "thermal", "subset_old")
	require.NoError(t, os.MkdirAll(legacy, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(legacy, "subset_old.json"), []byte(`["img_0.jpg"]`), 0o600))

	listed, err := store.ListSubsets("thermal")
	require.NoError(t, err)
	require.Equal(t, []Subset{{Name: "subset_old", JSON: "subset_old/subset_old.json"}}, listed)

	require.NoError(t, store.DeleteSubset("thermal", "subset_old"))
	assert.NoDirExists(t, legacy)

	listed, err = store.ListSubsets("thermal")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestDeleteSubsetRejectsInvalidName(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 1)

	for _, name := range []string{"images", "subset_", "subset_1/..", "../thermal"} {
		err := store.DeleteSubset("thermal", name)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), name)
	}
	assert.DirExists(t, filepath.Join(dir, "thermal", ImagesDir))
}

func TestResolveSubsetRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ref      string
		wantJSON string
		wantDir  string
		wantErr  bool
	}{
		{"subset_1/subset_1.json", "subset_1/subset_1.json", "subset_1", false},
		{"subset_2", "subset_2/subset_2.json", "subset_2", false},
		{`subset_3\subset_3.json`, "subset_3/subset_3.json", "subset_3", false},
		{"custom.json", "custom.json", ".", false},
		{"", "", "", true},
		{"../other/subset_1.json", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			t.Parallel()
			jsonPath, dir, err := ResolveSubsetRef(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantJSON, jsonPath)
			assert.Equal(t, tt.wantDir, dir)
		})
	}
}

func TestReadSubset(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	seedImages(t, dir, "thermal", 3)

	created, err := store.CreateRandomSubset("thermal", 100)
	require.NoError(t, err)

	loaded, err := store.ReadSubset("thermal", created.JSON)
	require.NoError(t, err)
	assert.Equal(t, created.Images, loaded.Images)
	assert.Equal(t, created.Name, loaded.Dir)

	byName, err := store.ReadSubset("thermal", created.Name)
	require.NoError(t, err)
	assert.Equal(t, loaded, byName)

	_, err = store.ReadSubset("thermal", "subset_42")
	assert.True(t, errors.IsNotFound(err))
}

package dataset

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
	"github.com/irdetect/autoannotate/internal/securefs"
)

func newTestStore(t *testing.T, opts ...Option) (store *Store, dir string) {
	t.Helper()

	dir = t.TempDir()
	sfs, err := securefs.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sfs.Close() })

	opts = append([]Option{
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)),
		WithRand(rand.New(rand.NewPCG(1, 2))),
	}, opts...)
	return NewStore(sfs, opts...), dir
}

// makeZip builds an in-memory archive from name -> content.
func makeZip(t *testing.T, files map[string]string, order ...string) *bytes.Reader {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func seedImages(t *testing.T, dir, project string, n int) []string {
	t.Helper()

	imagesDir := filepath.Join(dir, project, ImagesDir)
	require.NoError(t, os.MkdirAll(imagesDir, 0o750))
	names := make([]string, n)
	for i := range n {
		names[i] = fmt.Sprintf("ir_%02d.jpg", i)
		require.NoError(t, os.WriteFile(filepath.Join(imagesDir, names[i]), []byte("x"), 0o600))
	}
	return names
}

type fullDisk struct{}

func (fullDisk) CheckFreeSpace() error {
	return errors.Newf("insufficient disk space").Category(errors.CategoryLimit).Build()
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"simple", "flir_2024", false},
		{"with dot", "set.v2", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"dot", ".", true},
		{"dotdot", "..", true},
		{"slash", "a/b", true},
		{"backslash", `a\b`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateName("project", tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCreateProjectTwiceConflicts(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)

	require.NoError(t, store.CreateProject("thermal"))
	assert.DirExists(t, filepath.Join(dir, "thermal", ImagesDir))

	err := store.CreateProject("thermal")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"thermal"}, projects)
}

func TestCreateProjectRejectsBadNames(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	for _, name := range []string{"", "..", "a/b"} {
		err := store.CreateProject(name)
		require.Error(t, err, name)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation), name)
	}
}

func TestListProjectsIncludesStrayFiles(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)

	require.NoError(t, store.CreateProject("b"))
	require.NoError(t, store.CreateProject("a"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o600))

	projects, err := store.ListProjects()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "notes.txt"}, projects)
}

func TestUploadImagesFiltersAndFlattens(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	require.NoError(t, store.CreateProject("thermal"))

	archive := makeZip(t, map[string]string{
		"a.jpg":     "jpeg",
		"b.txt":     "text",
		"sub/":      "",
		"sub/c.png": "png",
	}, "a.jpg", "b.txt", "sub/", "sub/c.png")

	n, err := store.UploadImages(context.Background(), "thermal", archive, archive.Size())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	images, err := store.ListImages("thermal")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "c.png"}, images)

	data, err := os.ReadFile(filepath.Join(dir, "thermal", ImagesDir, "c.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestUploadImagesLaterEntryWins(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)

	archive := makeZip(t, map[string]string{
		"day/x.JPG":   "first",
		"night/x.JPG": "second",
	}, "day/x.JPG", "night/x.JPG")

	n, err := store.UploadImages(context.Background(), "fresh", archive, archive.Size())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, err := os.ReadFile(filepath.Join(dir, "fresh", ImagesDir, "x.JPG"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestUploadImagesRejectsInvalidArchive(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	r := bytes.NewReader([]byte("definitely not a zip"))
	_, err := store.UploadImages(context.Background(), "thermal", r, r.Size())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestUploadImagesHonorsSpaceGuard(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t, WithSpaceGuard(fullDisk{}))

	archive := makeZip(t, map[string]string{"a.jpg": "x"}, "a.jpg")
	_, err := store.UploadImages(context.Background(), "thermal", archive, archive.Size())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))
	assert.NoDirExists(t, filepath.Join(dir, "thermal"))
}

func TestListImagesMissingDirectory(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "bare"), 0o750))

	images, err := store.ListImages("bare")
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.NotNil(t, images)
}

func TestProjectFilePath(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)

	p, err := store.ProjectFilePath("thermal", "subset_1/subset_1.json")
	require.NoError(t, err)
	assert.Equal(t, "thermal/subset_1/subset_1.json", p)

	p, err = store.ProjectFilePath("thermal", "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "thermal/etc/passwd", p)

	_, err = store.ProjectFilePath("thermal", "")
	assert.Error(t, err)
}

func TestLabels(t *testing.T) {
	t.Parallel()
	store, dir := newTestStore(t)

	_, err := store.Labels("ghost")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, store.CreateProject("thermal"))
	labels, err := store.Labels("thermal")
	require.NoError(t, err)
	assert.Empty(t, labels)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "thermal", LabelsFile), []byte("person\n\n  car  "), 0o600))
	require.NoError(t, store.AddLabel("thermal", "  bicycle "))

	labels, err = store.Labels("thermal")
	require.NoError(t, err)
	assert.Equal(t, []string{"person", "car", "bicycle"}, labels)

	err = store.AddLabel("thermal", "car")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	require.NoError(t, store.AddLabel("thermal", "Car"), "labels are case sensitive")

	err = store.AddLabel("thermal", "   ")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	err = store.AddLabel("ghost", "dog")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	t.Parallel()
	km := newKeyedMutex()

	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Go(func() {
			unlock := km.Lock("thermal")
			counter++
			unlock()
		})
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, km.size())
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))))
}

func readJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

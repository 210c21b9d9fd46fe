package dataset

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

const (
	subsetPrefix = "subset_"

	// maxSubsetClaimAttempts bounds the mkdir retry loop when another process
	// keeps claiming the index we computed.
	maxSubsetClaimAttempts = 32
)

var subsetNamePattern = regexp.MustCompile(`^subset_\d+$`)

// Subset identifies a subset folder and its JSON file, relative to the project.
type Subset struct {
	Name string `json:"name"`
	JSON string `json:"json"`
}

// SubsetDocument is the content of subset_N/subset_N.json.
type SubsetDocument struct {
	Images []string `json:"images"`
}

// CreatedSubset is returned by the create operations.
type CreatedSubset struct {
	Subset
	Images []string `json:"images"`
}

// LoadedSubset is a subset resolved for inference.
type LoadedSubset struct {
	Subset
	Dir    string // project-relative directory of the subset
	Images []string
}

func subsetJSONPath(name string) string {
	return path.Join(name, name+".json")
}

// subsetIndex parses N from "subset_N". ok is false for other names.
func subsetIndex(name string) (int, bool) {
	if !subsetNamePattern.MatchString(name) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, subsetPrefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// usedSubsetIndexes collects N for every project entry named subset_N.
func (s *Store) usedSubsetIndexes(project string) (map[int]struct{}, error) {
	entries, err := s.fs.ReadDir(project)
	if err != nil {
		return nil, internalError(err, "list_subsets", project)
	}
	used := make(map[int]struct{}, len(entries))
	for _, e := range entries {
		if n, ok := subsetIndex(e.Name()); ok {
			used[n] = struct{}{}
		}
	}
	return used, nil
}

func lowestFree(used map[int]struct{}) int {
	n := 1
	for {
		if _, taken := used[n]; !taken {
			return n
		}
		n++
	}
}

// NextSubsetIndex returns the smallest positive N with no subset_N entry.
func (s *Store) NextSubsetIndex(project string) (int, error) {
	if err := s.requireProject(project); err != nil {
		return 0, err
	}
	used, err := s.usedSubsetIndexes(project)
	if err != nil {
		return 0, err
	}
	return lowestFree(used), nil
}

// createSubset claims the lowest free subset_N directory and writes the image list.
// Within this process creation is serialized per project; across processes the
// exclusive mkdir decides the winner and the loser moves on to the next index.
func (s *Store) createSubset(project string, images []string) (*CreatedSubset, error) {
	unlock := s.locks.Lock(project)
	defer unlock()

	used, err := s.usedSubsetIndexes(project)
	if err != nil {
		return nil, err
	}

	var name string
	for range maxSubsetClaimAttempts {
		n := lowestFree(used)
		candidate := fmt.Sprintf("%s%d", subsetPrefix, n)
		err := s.fs.Mkdir(projectPath(project, candidate), dirPerm)
		if err == nil {
			name = candidate
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, internalError(err, "create_subset", project)
		}
		used[n] = struct{}{}
	}
	if name == "" {
		return nil, internalError(fmt.Errorf("no free subset index after %d attempts", maxSubsetClaimAttempts), "create_subset", project)
	}

	data, err := json.MarshalIndent(SubsetDocument{Images: images}, "", "  ")
	if err != nil {
		return nil, internalError(err, "create_subset", project)
	}
	jsonPath := subsetJSONPath(name)
	if err := s.fs.WriteFileAtomic(projectPath(project, jsonPath), data, filePerm); err != nil {
		_ = s.fs.RemoveAll(projectPath(project, name))
		return nil, internalError(err, "create_subset", project)
	}

	s.log.Info("Subset created",
		logger.String("project", project),
		logger.String("subset", name),
		logger.Int("images", len(images)))

	return &CreatedSubset{Subset: Subset{Name: name, JSON: jsonPath}, Images: images}, nil
}

// projectImages lists the project's images, failing with NotFound when the
// images directory is absent and BadRequest when it is empty.
func (s *Store) projectImages(project string) ([]string, error) {
	if err := s.requireProject(project); err != nil {
		return nil, err
	}
	isDir, err := s.fs.IsDir(projectPath(project, ImagesDir))
	if err != nil {
		return nil, internalError(err, "list_images", project)
	}
	if !isDir {
		return nil, errors.NotFoundError("project %q has no images directory", project)
	}
	images, err := s.ListImages(project)
	if err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, badRequest("project %q has no images", project)
	}
	return images, nil
}

// CreateFullSubset creates a subset holding every image of the project.
func (s *Store) CreateFullSubset(project string) (*CreatedSubset, error) {
	images, err := s.projectImages(project)
	if err != nil {
		return nil, err
	}
	return s.createSubset(project, images)
}

// CreateManualSubset creates a subset from the caller's list as given.
// Names are not checked against the images directory.
func (s *Store) CreateManualSubset(project string, images []string) (*CreatedSubset, error) {
	if len(images) == 0 {
		return nil, badRequest("no images provided")
	}
	if err := s.requireProject(project); err != nil {
		return nil, err
	}
	return s.createSubset(project, slices.Clone(images))
}

// CreateRandomSubset samples max(1, floor(total*percent/100)) distinct images
// uniformly without replacement. percent must be in (0, 100].
func (s *Store) CreateRandomSubset(project string, percent float64) (*CreatedSubset, error) {
	if !(percent > 0 && percent <= 100) {
		return nil, badRequest("percent must be in (0, 100], got %g", percent)
	}

	images, err := s.projectImages(project)
	if err != nil {
		return nil, err
	}

	k := max(1, int(float64(len(images))*percent/100))
	k = min(k, len(images))

	s.rngMu.Lock()
	perm := s.rng.Perm(len(images))
	s.rngMu.Unlock()

	sample := make([]string, k)
	for i := range k {
		sample[i] = images[perm[i]]
	}
	return s.createSubset(project, sample)
}

// ListSubsets returns subset_* folders that contain their same-named JSON
// file, ordered by index.
func (s *Store) ListSubsets(project string) ([]Subset, error) {
	if err := s.requireProject(project); err != nil {
		return nil, err
	}

	entries, err := s.fs.ReadDir(project)
	if err != nil {
		return nil, internalError(err, "list_subsets", project)
	}

	subsets := []Subset{}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, subsetPrefix) {
			continue
		}
		jsonPath := subsetJSONPath(name)
		exists, err := s.fs.Exists(projectPath(project, jsonPath))
		if err != nil || !exists {
			continue
		}
		subsets = append(subsets, Subset{Name: name, JSON: jsonPath})
	}

	slices.SortFunc(subsets, func(a, b Subset) int {
		ai, aok := subsetIndex(a.Name)
		bi, bok := subsetIndex(b.Name)
		switch {
		case aok && bok:
			return ai - bi
		case aok:
			return -1
		case bok:
			return 1
		default:
			return strings.Compare(a.Name, b.Name)
		}
	})
	return subsets, nil
}

// DeleteSubset removes a subset folder and everything inside it.
func (s *Store) DeleteSubset(project, name string) error {
	if err := validateSubsetName(name); err != nil {
		return err
	}
	if err := s.requireProject(project); err != nil {
		return err
	}

	unlock := s.locks.Lock(project)
	defer unlock()

	dir := projectPath(project, name)
	isDir, err := s.fs.IsDir(dir)
	if err != nil {
		return internalError(err, "delete_subset", project)
	}
	if !isDir {
		return errors.NotFoundError("subset %q not found", name)
	}

	if err := s.fs.RemoveAll(dir); err != nil {
		return internalError(err, "delete_subset", project)
	}

	s.log.Info("Subset deleted", logger.String("project", project), logger.String("subset", name))
	return nil
}

// validateSubsetName accepts any single path element that ListSubsets could
// return: the subset_ prefix followed by at least one character.
func validateSubsetName(name string) error {
	if err := ValidateName("subset", name); err != nil {
		return err
	}
	if !strings.HasPrefix(name, subsetPrefix) || len(name) == len(subsetPrefix) {
		return badRequest("invalid subset name %q", name)
	}
	return nil
}

// ResolveSubsetRef maps a subset reference, either a JSON path such as
// "subset_1/subset_1.json" or a bare name such as "subset_1", to its
// project-relative JSON path and directory.
func ResolveSubsetRef(ref string) (jsonPath, dir string, err error) {
	ref = strings.TrimSpace(strings.ReplaceAll(ref, `\`, "/"))
	if ref == "" {
		return "", "", badRequest("no subset provided")
	}

	if strings.HasSuffix(strings.ToLower(ref), ".json") {
		jsonPath = path.Clean(ref)
	} else {
		name := strings.Trim(ref, "/")
		if err := ValidateName("subset", name); err != nil {
			return "", "", err
		}
		jsonPath = subsetJSONPath(name)
	}

	if path.IsAbs(jsonPath) || jsonPath == ".." || strings.HasPrefix(jsonPath, "../") {
		return "", "", badRequest("invalid subset reference %q", ref)
	}

	dir = path.Dir(jsonPath)
	return jsonPath, dir, nil
}

// ReadSubset loads the image list of a subset reference. A missing subset
// file is NotFound.
func (s *Store) ReadSubset(project, ref string) (*LoadedSubset, error) {
	if err := s.requireProject(project); err != nil {
		return nil, err
	}

	jsonPath, dir, err := ResolveSubsetRef(ref)
	if err != nil {
		return nil, err
	}

	data, err := s.fs.ReadFile(projectPath(project, jsonPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFoundError("subset %q not found", ref)
	}
	if err != nil {
		return nil, internalError(err, "read_subset", project)
	}

	var doc SubsetDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.New(fmt.Errorf("subset %q is not valid JSON: %w", ref, err)).
			Component("dataset").
			Category(errors.CategoryFileParsing).
			Build()
	}
	if doc.Images == nil {
		doc.Images = []string{}
	}

	return &LoadedSubset{
		Subset: Subset{Name: path.Base(dir), JSON: jsonPath},
		Dir:    dir,
		Images: doc.Images,
	}, nil
}

package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for DecodeConfig
	_ "image/png"
	"io/fs"
	"maps"
	"math"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

// Annotation is one annotation object. Clients may attach arbitrary fields,
// so it is kept as a generic JSON object.
type Annotation map[string]any

// Label returns the "label" field, falling back to "category".
func (a Annotation) Label() string {
	for _, key := range []string{"label", "category"} {
		if v, ok := a[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ImageEntry holds the annotations of one image. Keys other than width,
// height and annotations are kept in Extra and written back unchanged.
type ImageEntry struct {
	Width       int
	Height      int
	Annotations []Annotation
	Extra       map[string]json.RawMessage
}

type imageEntryFields struct {
	Width       int          `json:"width"`
	Height      int          `json:"height"`
	Annotations []Annotation `json:"annotations"`
}

// MarshalJSON writes the known fields followed by Extra.
func (e ImageEntry) MarshalJSON() ([]byte, error) {
	annotations := e.Annotations
	if annotations == nil {
		annotations = []Annotation{}
	}
	return marshalWithExtra(imageEntryFields{Width: e.Width, Height: e.Height, Annotations: annotations}, e.Extra)
}

// UnmarshalJSON accepts whole-number floats such as 640.0 for the dimensions.
func (e *ImageEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if e.Width, err = takeDimension(raw, "width"); err != nil {
		return err
	}
	if e.Height, err = takeDimension(raw, "height"); err != nil {
		return err
	}
	e.Annotations = nil
	if v, ok := raw["annotations"]; ok {
		delete(raw, "annotations")
		if err := json.Unmarshal(v, &e.Annotations); err != nil {
			return err
		}
	}
	e.Extra = extraOrNil(raw)
	return nil
}

// Document is an annotation document keyed by image file name. Top-level keys
// other than images and categories survive a load and save in Extra.
type Document struct {
	Images     map[string]*ImageEntry
	Categories []string
	Extra      map[string]json.RawMessage
}

type documentFields struct {
	Images     map[string]*ImageEntry `json:"images"`
	Categories []string               `json:"categories"`
}

// MarshalJSON writes images and categories followed by Extra.
func (d Document) MarshalJSON() ([]byte, error) {
	fields := documentFields{Images: d.Images, Categories: d.Categories}
	if fields.Images == nil {
		fields.Images = map[string]*ImageEntry{}
	}
	if fields.Categories == nil {
		fields.Categories = []string{}
	}
	return marshalWithExtra(fields, d.Extra)
}

// UnmarshalJSON keeps unknown top-level keys in Extra.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Images = nil
	if v, ok := raw["images"]; ok {
		delete(raw, "images")
		if err := json.Unmarshal(v, &d.Images); err != nil {
			return err
		}
	}
	d.Categories = nil
	if v, ok := raw["categories"]; ok {
		delete(raw, "categories")
		if err := json.Unmarshal(v, &d.Categories); err != nil {
			return err
		}
	}
	d.Extra = extraOrNil(raw)
	return nil
}

// takeDimension removes key from raw and reads it as a pixel count.
func takeDimension(raw map[string]json.RawMessage, key string) (int, error) {
	v, ok := raw[key]
	if !ok {
		return 0, nil
	}
	delete(raw, key)

	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

func extraOrNil(raw map[string]json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// marshalWithExtra encodes known, a struct with at least one field, and
// appends the extra keys in sorted order.
func marshalWithExtra(known any, extra map[string]json.RawMessage) ([]byte, error) {
	data, err := json.Marshal(known)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1])
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NewDocument returns an empty annotation document.
func NewDocument() *Document {
	return &Document{
		Images:     map[string]*ImageEntry{},
		Categories: []string{},
	}
}

// AddCategory appends label to the category list unless it is already present.
func (d *Document) AddCategory(label string) {
	if label == "" || slices.Contains(d.Categories, label) {
		return
	}
	d.Categories = append(d.Categories, label)
}

// Upsert replaces the entry for file and registers every label it carries.
func (d *Document) Upsert(file string, width, height int, annotations []Annotation) {
	if annotations == nil {
		annotations = []Annotation{}
	}
	d.Images[file] = &ImageEntry{Width: width, Height: height, Annotations: annotations}
	for _, a := range annotations {
		d.AddCategory(a.Label())
	}
}

func (d *Document) normalize() {
	if d.Images == nil {
		d.Images = map[string]*ImageEntry{}
	}
	if d.Categories == nil {
		d.Categories = []string{}
	}
}

func marshalPretty(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "    ")
}

// ReplaceAnnotations validates that raw is a JSON object with an "images" key
// and stores it, pretty printed, as manual_annotations.json.
func (s *Store) ReplaceAnnotations(project string, raw []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return badRequest("invalid annotation document: %v", err)
	}
	if _, ok := doc["images"]; !ok {
		return badRequest("annotation document has no images")
	}
	if err := s.requireProject(project); err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "    "); err != nil {
		return badRequest("invalid annotation document: %v", err)
	}

	unlock := s.locks.Lock(project)
	defer unlock()

	if err := s.fs.WriteFileAtomic(projectPath(project, ManualAnnotationsFile), out.Bytes(), filePerm); err != nil {
		return internalError(err, "save_annotations", project)
	}

	s.log.Info("Annotations replaced", logger.String("project", project), logger.Int("bytes", out.Len()))
	return nil
}

// loadManual reads manual_annotations.json or returns an empty document.
func (s *Store) loadManual(project string) (*Document, error) {
	data, err := s.fs.ReadFile(projectPath(project, ManualAnnotationsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, internalError(err, "read_annotations", project)
	}

	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, errors.New(fmt.Errorf("manual annotations are not valid JSON: %w", err)).
			Component("dataset").
			Category(errors.CategoryFileParsing).
			Context("project", project).
			Build()
	}
	doc.normalize()
	return doc, nil
}

// UpsertAnnotation replaces the entry for file in manual_annotations.json.
func (s *Store) UpsertAnnotation(project, file string, width, height int, annotations []Annotation) error {
	if strings.TrimSpace(file) == "" {
		return badRequest("no file name provided")
	}
	if err := s.requireProject(project); err != nil {
		return err
	}

	unlock := s.locks.Lock(project)
	defer unlock()

	doc, err := s.loadManual(project)
	if err != nil {
		return err
	}
	doc.Upsert(file, width, height, annotations)

	data, err := marshalPretty(doc)
	if err != nil {
		return internalError(err, "save_annotation", project)
	}
	if err := s.fs.WriteFileAtomic(projectPath(project, ManualAnnotationsFile), data, filePerm); err != nil {
		return internalError(err, "save_annotation", project)
	}

	s.log.Debug("Annotation saved",
		logger.String("project", project),
		logger.String("image", file),
		logger.Int("annotations", len(annotations)))
	return nil
}

// ImageAnnotations returns the stored manual annotations for file, or an
// empty list.
func (s *Store) ImageAnnotations(project, file string) ([]Annotation, error) {
	if strings.TrimSpace(file) == "" {
		return nil, badRequest("no image provided")
	}
	if err := s.requireProject(project); err != nil {
		return nil, err
	}

	doc, err := s.loadManual(project)
	if err != nil {
		return nil, err
	}
	entry, ok := doc.Images[file]
	if !ok || entry == nil || entry.Annotations == nil {
		return []Annotation{}, nil
	}
	return entry.Annotations, nil
}

// ImageSize reads the pixel dimensions of a project image from its header.
func (s *Store) ImageSize(project, file string) (width, height int, err error) {
	f, err := s.OpenImage(project, file)
	if errors.IsNotFound(err) {
		return 0, 0, badRequest("image %q not found in project %q", file, project)
	}
	if err != nil {
		return 0, 0, err
	}
	defer f.Close() //nolint:errcheck // read-only

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, errors.New(fmt.Errorf("decode %s: %w", file, err)).
			Component("dataset").
			Category(errors.CategoryImageDecode).
			Context("project", project).
			Build()
	}
	return cfg.Width, cfg.Height, nil
}

// Annotate stores boxes for an image, taking its size from the image file.
func (s *Store) Annotate(project, file string, boxes []Annotation) error {
	if strings.TrimSpace(file) == "" {
		return badRequest("no image provided")
	}
	if err := s.requireProject(project); err != nil {
		return err
	}
	width, height, err := s.ImageSize(project, file)
	if err != nil {
		return err
	}
	return s.UpsertAnnotation(project, file, width, height, boxes)
}

// WriteSubsetResults stores an inference document as <subsetDir>/annotations.json
// and returns its project-relative path.
func (s *Store) WriteSubsetResults(project, subsetDir string, doc *Document) (string, error) {
	rel := subsetDir + "/" + SubsetResultsFile
	if subsetDir == "" || subsetDir == "." {
		rel = SubsetResultsFile
	}
	return rel, s.writeDocument(project, rel, doc, "write_subset_results")
}

// WriteLegacyResults stores an inference document as auto_annotate_results.json.
func (s *Store) WriteLegacyResults(project string, doc *Document) (string, error) {
	return AutoResultsFile, s.writeDocument(project, AutoResultsFile, doc, "write_results")
}

func (s *Store) writeDocument(project, rel string, doc *Document, op string) error {
	if err := s.requireProject(project); err != nil {
		return err
	}
	doc.normalize()
	data, err := marshalPretty(doc)
	if err != nil {
		return internalError(err, op, project)
	}

	unlock := s.locks.Lock(project)
	defer unlock()

	if err := s.fs.WriteFileAtomic(projectPath(project, rel), data, filePerm); err != nil {
		return internalError(err, op, project)
	}
	return nil
}

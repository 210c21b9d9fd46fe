package yolo

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/irdetect/autoannotate/internal/errors"
)

//go:embed data/coco80.names
var coco80Names []byte

// COCO80 returns the 80 COCO class names in model output order.
func COCO80() []string {
	names, _ := parseNames(coco80Names)
	return names
}

// NamesPath returns the class-name sidecar for a weights file:
// models/yolov8/yolov8n.onnx -> models/yolov8/yolov8n.names.
func NamesPath(modelPath string) string {
	return strings.TrimSuffix(modelPath, filepath.Ext(modelPath)) + ".names"
}

// LoadClassNames reads the class names that belong to modelPath, falling
// back to COCO80 when the model has no .names file.
func LoadClassNames(modelPath string) ([]string, error) {
	data, err := os.ReadFile(NamesPath(modelPath))
	if errors.Is(err, fs.ErrNotExist) {
		return COCO80(), nil
	}
	if err != nil {
		return nil, errors.New(fmt.Errorf("read class names: %w", err)).
			Component("yolo").
			Category(errors.CategoryModelLoad).
			FileContext(NamesPath(modelPath), 0).
			Build()
	}

	names, err := parseNames(data)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, errors.Newf("class names file %s is empty", NamesPath(modelPath)).
			Component("yolo").
			Category(errors.CategoryModelLoad).
			Build()
	}
	return names, nil
}

// parseNames reads one class name per line, skipping blank lines.
func parseNames(data []byte) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if name := strings.TrimSpace(scanner.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.New(err).Component("yolo").Category(errors.CategoryFileParsing).Build()
	}
	return names, nil
}

// className returns names[id] or a synthetic "class_<id>" for ids the
// table does not cover.
func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

package dataset

import (
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/irdetect/autoannotate/internal/errors"
	"github.com/irdetect/autoannotate/internal/logger"
)

// Labels returns the non-empty trimmed lines of labels.txt, or an empty list
// when the file does not exist yet.
func (s *Store) Labels(project string) ([]string, error) {
	if err := s.requireProject(project); err != nil {
		return nil, err
	}
	return s.readLabels(project)
}

func (s *Store) readLabels(project string) ([]string, error) {
	data, err := s.fs.ReadFile(projectPath(project, LabelsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, internalError(err, "read_labels", project)
	}

	labels := []string{}
	for line := range strings.Lines(string(data)) {
		if l := strings.TrimSpace(line); l != "" {
			labels = append(labels, l)
		}
	}
	return labels, nil
}

// AddLabel appends a trimmed label to labels.txt. Duplicates are rejected
// with Conflict; the comparison is case sensitive.
func (s *Store) AddLabel(project, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return badRequest("no label provided")
	}
	if strings.ContainsAny(label, "\r\n") {
		return badRequest("label must be a single line")
	}
	if err := s.requireProject(project); err != nil {
		return err
	}

	unlock := s.locks.Lock(project)
	defer unlock()

	labels, err := s.readLabels(project)
	if err != nil {
		return err
	}
	if slices.Contains(labels, label) {
		return errors.ConflictError("label %q already exists", label)
	}

	labelsPath := projectPath(project, LabelsFile)
	prefix := ""
	if data, err := s.fs.ReadFile(labelsPath); err == nil && len(data) > 0 && data[len(data)-1] != '\n' {
		prefix = "\n"
	}

	f, err := s.fs.OpenFile(labelsPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, filePerm)
	if err != nil {
		return internalError(err, "add_label", project)
	}
	_, werr := f.WriteString(prefix + label + "\n")
	if err := errors.Join(werr, f.Close()); err != nil {
		return internalError(err, "add_label", project)
	}

	s.log.Info("Label added", logger.String("project", project), logger.String("label", label))
	return nil
}

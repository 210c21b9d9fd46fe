package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/irdetect/autoannotate/internal/datastore"
)

const verifyBatchSize = 500

// Verifier checks that a target store holds every run of the source.
type Verifier struct {
	source *datastore.Store
	target *datastore.Store
}

// NewVerifier creates a Verifier.
func NewVerifier(source, target *datastore.Store) *Verifier {
	return &Verifier{source: source, target: target}
}

// Verify compares row counts, then checks that each source run exists in
// the target with the same status and detection count.
func (v *Verifier) Verify(ctx context.Context) error {
	sourceCount, err := v.source.Count(ctx)
	if err != nil {
		return err
	}
	targetCount, err := v.target.Count(ctx)
	if err != nil {
		return err
	}
	if targetCount < sourceCount {
		return fmt.Errorf("runs: source has %d rows, target has %d", sourceCount, targetCount)
	}

	var mismatches []string
	err = v.source.EachBatch(ctx, verifyBatchSize, func(runs []datastore.Run) error {
		for i := range runs {
			want := runs[i].Info()
			got, err := v.target.GetRun(ctx, want.ID)
			if err != nil {
				mismatches = append(mismatches, fmt.Sprintf("%s: %v", want.ID, err))
				continue
			}
			if got.Status != want.Status || got.Detections != want.Detections {
				mismatches = append(mismatches, fmt.Sprintf("%s: status %s/%s detections %d/%d",
					want.ID, want.Status, got.Status, want.Detections, got.Detections))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(mismatches) > 0 {
		return fmt.Errorf("%d run(s) differ: %s", len(mismatches), strings.Join(mismatches, "; "))
	}
	return nil
}

package yolo

import (
	"slices"

	"github.com/irdetect/autoannotate/internal/detector"
)

type candidate struct {
	classID int
	score   float32
	box     detector.BBox // model input space
}

// decodeOutput reads a YOLOv8 head of shape [1, 4+classes, anchors]. Each
// anchor column holds cx, cy, w, h followed by one score per class.
func decodeOutput(data []float32, attrs, anchors int, confidence float32) []candidate {
	if attrs <= 4 || len(data) < attrs*anchors {
		return nil
	}
	classes := attrs - 4

	var out []candidate
	for i := range anchors {
		best, bestScore := -1, float32(0)
		for c := range classes {
			if s := data[(4+c)*anchors+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || bestScore < confidence {
			continue
		}
		out = append(out, candidate{
			classID: best,
			score:   bestScore,
			box: detector.BBox{
				CX: float64(data[i]),
				CY: float64(data[anchors+i]),
				W:  float64(data[2*anchors+i]),
				H:  float64(data[3*anchors+i]),
			},
		})
	}
	return out
}

// iou is the intersection over union of two center boxes.
func iou(a, b detector.BBox) float64 {
	ax0, ay0, ax1, ay1 := a.Rect()
	bx0, by0, bx1, by1 := b.Rect()

	iw := min(ax1, bx1) - max(ax0, bx0)
	ih := min(ay1, by1) - max(ay0, by0)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// nms runs class-aware non-maximum suppression, keeping the highest scoring
// box of every overlapping group.
func nms(cands []candidate, threshold float64) []candidate {
	slices.SortStableFunc(cands, func(a, b candidate) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	kept := make([]candidate, 0, len(cands))
	for _, c := range cands {
		suppressed := false
		for _, k := range kept {
			if k.classID == c.classID && iou(k.box, c.box) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

// toDetections maps surviving candidates to source pixel space.
func toDetections(cands []candidate, t transform, names []string) []detector.Detection {
	dets := make([]detector.Detection, 0, len(cands))
	for _, c := range cands {
		cx, cy, w, h := t.toSource(c.box.CX, c.box.CY, c.box.W, c.box.H)
		if w <= 0 || h <= 0 {
			continue
		}
		dets = append(dets, detector.Detection{
			Box:   detector.BBox{CX: cx, CY: cy, W: w, H: h},
			Label: className(names, c.classID),
			Score: c.score,
		})
	}
	return dets
}

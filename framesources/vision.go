package framesources

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"go.viam.com/rdk/services/vision"

	"taglocalizer/utils"
)

// VisionSource reads tag detections for one camera from a vision service. The service
// must label each detection with the tag id, optionally prefixed (for example
// "tag36h11:7" or "tag_7").
type VisionSource struct {
	detector   vision.Service
	cameraName string
	minScore   float64
	clock      clock.Clock
}

func NewVisionSource(detector vision.Service, cameraName string, minScore float64, clk clock.Clock) (*VisionSource, error) {
	if detector == nil {
		return nil, errors.New("vision source needs a vision service")
	}
	if cameraName == "" {
		return nil, errors.New("vision source needs a camera name")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &VisionSource{detector: detector, cameraName: cameraName, minScore: minScore, clock: clk}, nil
}

func (v *VisionSource) Frame(ctx context.Context) (utils.CameraFrame, error) {
	frame := utils.CameraFrame{Timestamp: utils.Seconds(v.clock.Now())}
	detections, err := v.detector.DetectionsFromCamera(ctx, v.cameraName, nil)
	if err != nil {
		return frame, fmt.Errorf("error getting detections from camera %q: %w", v.cameraName, err)
	}
	for _, det := range detections {
		if det.Score() < v.minScore {
			continue
		}
		id, err := ParseTagLabel(det.Label())
		if err != nil {
			continue
		}
		box := det.BoundingBox()
		if box == nil {
			continue
		}
		// axis-aligned box, so perspective skew is lost
		minX, minY := float64(box.Min.X), float64(box.Min.Y)
		maxX, maxY := float64(box.Max.X), float64(box.Max.Y)
		frame.Observations = append(frame.Observations, utils.TagObservation{
			ID: id,
			Corners: [4]r2.Point{
				{X: minX, Y: maxY},
				{X: maxX, Y: maxY},
				{X: maxX, Y: minY},
				{X: minX, Y: minY},
			},
			Ambiguity: utils.Clamp(1-det.Score(), 0, 1),
		})
	}
	return frame, nil
}

// ParseTagLabel extracts the tag id from the trailing digits of a detection label.
func ParseTagLabel(label string) (int, error) {
	label = strings.TrimSpace(label)
	end := len(label)
	start := end
	for start > 0 && label[start-1] >= '0' && label[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0, fmt.Errorf("label %q has no tag id", label)
	}
	return strconv.Atoi(label[start:end])
}

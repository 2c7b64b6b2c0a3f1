// Package estimators turns one camera's tag detections into a robot pose and a
// distance-based confidence.
package estimators

import (
	"fmt"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"

	"taglocalizer/utils"
)

// Strategy names how a FusionResult's pose was obtained.
type Strategy string

const (
	StrategyNone              Strategy = "none"
	StrategyMultiTag          Strategy = "multi-tag"
	StrategySingleTagHeading  Strategy = "single-tag-heading"
	StrategySingleTagFallback Strategy = "single-tag-lowest-error"
	// StrategyMultiTagFallback is a failed multi-tag solve redone on the least ambiguous tag.
	StrategyMultiTagFallback Strategy = "multi-tag-lowest-ambiguity"
)

// SentinelPose is reported when a camera has nothing usable.
func SentinelPose() spatialmath.Pose {
	return spatialmath.NewPoseFromPoint(r3.Vector{X: 100, Y: 100, Z: 100})
}

// TagLayout looks up the field pose of a tag id.
type TagLayout interface {
	PoseOf(id int) (spatialmath.Pose, bool)
}

// FusionResult is one camera's estimate for one frame.
type FusionResult struct {
	Camera     string
	Pose       spatialmath.Pose
	Timestamp  float64
	Confidence utils.ConfidenceVector
	Strategy   Strategy
	Tags       []ResolvedTag
}

// Valid reports whether the result may be forwarded to a consumer.
func (r FusionResult) Valid() bool {
	return r.Confidence.IsFinite()
}

func (r FusionResult) TagCount() int {
	return len(r.Tags)
}

// SingleCameraEstimator holds one camera's static description and its heading history.
type SingleCameraEstimator struct {
	logger     logging.Logger
	info       utils.CameraInfo
	solver     PoseSolver
	confidence ConfidenceConfig
	headings   *HeadingBuffer
}

// NewSingleCameraEstimator validates the camera and merges its overrides over cfg.
func NewSingleCameraEstimator(
	logger logging.Logger,
	info utils.CameraInfo,
	solver PoseSolver,
	cfg ConfidenceConfig,
	headingWindowSec float64,
) (*SingleCameraEstimator, error) {
	if err := utils.ValidateCameraInfo(info); err != nil {
		return nil, err
	}
	if solver == nil {
		return nil, fmt.Errorf("camera %q: no pose solver", info.Name)
	}
	merged := cfg.WithOverrides(info.Overrides)
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("camera %q: %w", info.Name, err)
	}
	return &SingleCameraEstimator{
		logger:     logger,
		info:       info,
		solver:     solver,
		confidence: merged,
		headings:   NewHeadingBuffer(headingWindowSec),
	}, nil
}

func (e *SingleCameraEstimator) Info() utils.CameraInfo {
	return e.info
}

func (e *SingleCameraEstimator) Confidence() ConfidenceConfig {
	return e.confidence
}

func (e *SingleCameraEstimator) IngestHeading(timestamp, yaw float64) {
	e.headings.Add(timestamp, yaw)
}

// Estimate resolves the frame's tags against layout, solves for the robot pose and
// scores it. It never fails: anything unusable comes back as the sentinel.
func (e *SingleCameraEstimator) Estimate(frame utils.CameraFrame, layout TagLayout) FusionResult {
	tags := e.resolve(frame, layout)
	sentinel := FusionResult{
		Camera:     e.info.Name,
		Pose:       SentinelPose(),
		Timestamp:  frame.Timestamp,
		Confidence: utils.MaxConfidence(),
		Strategy:   StrategyNone,
		Tags:       tags,
	}
	if len(tags) == 0 {
		return sentinel
	}

	var (
		pose     spatialmath.Pose
		strategy Strategy
		err      error
	)
	if len(tags) > 1 {
		pose, err = e.solver.SolveMultiTag(e.info, tags)
		strategy = StrategyMultiTag
		if err != nil {
			fallback := leastAmbiguous(tags)
			e.logger.Debugf("camera %s: multi-tag solve failed (%v), retrying with tag %d",
				e.info.Name, err, fallback.Observation.ID)
			pose, _, err = e.solveSingle(frame.Timestamp, fallback)
			strategy = StrategyMultiTagFallback
		}
	} else {
		pose, strategy, err = e.solveSingle(frame.Timestamp, tags[0])
	}
	if err != nil {
		e.logger.Debugf("camera %s: pose solve with %d tags failed: %v", e.info.Name, len(tags), err)
		return sentinel
	}

	positions := make([]r3.Vector, len(tags))
	for i, t := range tags {
		positions[i] = t.FieldPose.Point()
	}
	return FusionResult{
		Camera:     e.info.Name,
		Pose:       pose,
		Timestamp:  frame.Timestamp,
		Confidence: e.confidence.Compute(pose, positions),
		Strategy:   strategy,
		Tags:       tags,
	}
}

func (e *SingleCameraEstimator) resolve(frame utils.CameraFrame, layout TagLayout) []ResolvedTag {
	if layout == nil {
		return nil
	}
	tags := make([]ResolvedTag, 0, len(frame.Observations))
	for _, obs := range frame.Observations {
		pose, ok := layout.PoseOf(obs.ID)
		if !ok {
			e.logger.Debugf("camera %s: tag %d not in layout, dropping", e.info.Name, obs.ID)
			continue
		}
		tags = append(tags, ResolvedTag{Observation: obs, FieldPose: pose})
	}
	return tags
}

// solveSingle picks the hypothesis whose yaw best matches the platform heading at the
// frame time, or the lower reprojection error when there is no heading yet.
func (e *SingleCameraEstimator) solveSingle(timestamp float64, tag ResolvedTag) (spatialmath.Pose, Strategy, error) {
	best, alt, err := e.solver.SolveSingleTag(e.info, tag)
	if err != nil {
		return nil, StrategyNone, err
	}
	heading, ok := e.headings.SampleAt(timestamp)
	if !ok {
		return best.Pose, StrategySingleTagFallback, nil
	}
	bestErr := utils.AngleDifference(utils.YawOf(best.Pose), heading)
	altErr := utils.AngleDifference(utils.YawOf(alt.Pose), heading)
	if altErr < bestErr {
		return alt.Pose, StrategySingleTagHeading, nil
	}
	return best.Pose, StrategySingleTagHeading, nil
}

// leastAmbiguous returns the tag with the lowest observation ambiguity, the first on ties.
func leastAmbiguous(tags []ResolvedTag) ResolvedTag {
	best := tags[0]
	for _, t := range tags[1:] {
		if t.Observation.Ambiguity < best.Observation.Ambiguity {
			best = t
		}
	}
	return best
}

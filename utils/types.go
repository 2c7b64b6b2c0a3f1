package utils

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
)

// TagObservation is one detected fiducial in a camera frame.
// Corners are in pixels, ordered bottom-left, bottom-right, top-right, top-left
// as seen by the camera.
type TagObservation struct {
	ID        int         `json:"id"`
	Corners   [4]r2.Point `json:"corners"`
	Ambiguity float64     `json:"ambiguity"`
}

// CameraFrame is a synchronous snapshot of one camera's detections.
type CameraFrame struct {
	Timestamp    float64          `json:"timestamp"`
	Observations []TagObservation `json:"observations"`
}

// HeadingSample is the platform's yaw in field coordinates at a point in time.
type HeadingSample struct {
	Timestamp float64 `json:"timestamp"`
	Yaw       float64 `json:"yaw"`
}

// Pose2D is the ground-plane projection of a pose.
type Pose2D struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// ConfidenceVector holds the x, y and heading standard deviations of an estimate.
type ConfidenceVector struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// MaxConfidence is the reject sentinel: the estimate must not be trusted.
func MaxConfidence() ConfidenceVector {
	return ConfidenceVector{X: math.MaxFloat64, Y: math.MaxFloat64, Heading: math.MaxFloat64}
}

// NewConfidenceVector builds a vector from a [x, y, heading] triple.
func NewConfidenceVector(v [3]float64) ConfidenceVector {
	return ConfidenceVector{X: v[0], Y: v[1], Heading: v[2]}
}

func (c ConfidenceVector) Scale(k float64) ConfidenceVector {
	return ConfidenceVector{X: c.X * k, Y: c.Y * k, Heading: c.Heading * k}
}

// IsFinite reports whether every component is a usable magnitude.
func (c ConfidenceVector) IsFinite() bool {
	for _, v := range c.Array() {
		if v >= math.MaxFloat64 || math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

func (c ConfidenceVector) Array() [3]float64 {
	return [3]float64{c.X, c.Y, c.Heading}
}

// ConfidenceOverrides replaces global confidence settings for a single camera.
// Nil fields keep the global value.
type ConfidenceOverrides struct {
	MultiTagStdDevs      *[3]float64 `json:"multi_tag_std_devs,omitempty"`
	SingleTagStdDevs     *[3]float64 `json:"single_tag_std_devs,omitempty"`
	RejectDistance       *float64    `json:"reject_distance,omitempty"`
	DistanceScaleDivisor *float64    `json:"distance_scale_divisor,omitempty"`
}

// CameraInfo is the static description of one fixed camera.
type CameraInfo struct {
	Name          string
	RobotToCamera spatialmath.Pose
	Intrinsics    *transform.PinholeCameraIntrinsics
	TagSizeMeters float64
	Overrides     *ConfidenceOverrides
}

// PoseConfig is the JSON form of a rigid transform, angles in degrees.
type PoseConfig struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Z        float64 `json:"z"`
	RollDeg  float64 `json:"roll_deg"`
	PitchDeg float64 `json:"pitch_deg"`
	YawDeg   float64 `json:"yaw_deg"`
}

// ToPose converts the config to a spatialmath.Pose
func (p PoseConfig) ToPose() spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: p.X, Y: p.Y, Z: p.Z},
		&spatialmath.EulerAngles{
			Roll:  DegreesToRadians(p.RollDeg),
			Pitch: DegreesToRadians(p.PitchDeg),
			Yaw:   DegreesToRadians(p.YawDeg),
		},
	)
}

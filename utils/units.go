package utils

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// Helper to convert spatialmath.Pose to a user-friendly map
func PoseToMap(pose spatialmath.Pose) map[string]interface{} {
	if pose == nil {
		return nil
	}
	pos := pose.Point()
	ori := pose.Orientation().Quaternion()
	return map[string]interface{}{
		"translation": map[string]interface{}{
			"x": pos.X,
			"y": pos.Y,
			"z": pos.Z,
		},
		"orientation": map[string]interface{}{
			"Imag": ori.Imag,
			"Jmag": ori.Jmag,
			"Kmag": ori.Kmag,
			"Real": ori.Real,
		},
	}
}

// Clamp clamps a value between min and max
func Clamp(value, min, max float64) float64 {
	return math.Max(min, math.Min(max, value))
}

func DegreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180.0
}

func RadiansToDegrees(radians float64) float64 {
	return radians * 180.0 / math.Pi
}

// WrapAngleRad wraps an angle into (-pi, pi].
func WrapAngleRad(angle float64) float64 {
	wrapped := math.Mod(angle+math.Pi, 2*math.Pi)
	if wrapped <= 0 {
		wrapped += 2 * math.Pi
	}
	return wrapped - math.Pi
}

// AngleDifference returns the absolute shortest-arc difference between two angles in radians.
func AngleDifference(a, b float64) float64 {
	return math.Abs(WrapAngleRad(a - b))
}

// YawOf returns the heading of a pose on the ground plane: the angle of its rotated
// +X axis projected onto XY. It does not depend on the euler convention of the orientation.
func YawOf(pose spatialmath.Pose) float64 {
	if pose == nil {
		return 0
	}
	forward := spatialmath.Compose(
		spatialmath.NewPoseFromOrientation(pose.Orientation()),
		spatialmath.NewPoseFromPoint(r3.Vector{X: 1}),
	).Point()
	return math.Atan2(forward.Y, forward.X)
}

// ToPose2D projects a pose onto the ground plane.
// A nil pose projects to the origin.
func ToPose2D(pose spatialmath.Pose) Pose2D {
	if pose == nil {
		return Pose2D{}
	}
	pt := pose.Point()
	return Pose2D{X: pt.X, Y: pt.Y, Theta: YawOf(pose)}
}

// PlanarDistance is the euclidean distance between two points ignoring Z.
func PlanarDistance(a, b r3.Vector) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// TransformPointToCameraFrame expresses a world point in the frame of the given camera pose.
func TransformPointToCameraFrame(cameraPose spatialmath.Pose, worldPoint r3.Vector) r3.Vector {
	// camera_inverse * point
	cameraPoseInverse := spatialmath.PoseInverse(cameraPose)
	return spatialmath.Compose(cameraPoseInverse, spatialmath.NewPoseFromPoint(worldPoint)).Point()
}

// NewPoseFromYaw builds a ground pose with only a heading rotation.
func NewPoseFromYaw(x, y, z, yaw float64) spatialmath.Pose {
	return spatialmath.NewPose(r3.Vector{X: x, Y: y, Z: z}, &spatialmath.EulerAngles{Yaw: yaw})
}

// Seconds converts a wall-clock time to the float seconds used for frame and heading timestamps.
func Seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

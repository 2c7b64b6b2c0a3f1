package estimators

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/mat"

	"taglocalizer/utils"
)

// minDepth is the closest a point may be in front of the lens and still project.
const minDepth = 1e-3

// Projector maps points in the camera body frame (+X forward, +Y left, +Z up) to pixels
// through a pinhole model.
type Projector struct {
	intrinsics *transform.PinholeCameraIntrinsics
	k          *mat.Dense
}

func NewProjector(intrinsics *transform.PinholeCameraIntrinsics) (*Projector, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	return &Projector{intrinsics: intrinsics, k: intrinsics.GetCameraMatrix()}, nil
}

// Project returns the pixel of a camera-frame point and false if it is behind the lens.
func (p *Projector) Project(pointInCamera r3.Vector) (r2.Point, bool) {
	// body frame to optical frame: right, down, forward
	optical := mat.NewVecDense(3, []float64{-pointInCamera.Y, -pointInCamera.Z, pointInCamera.X})
	if optical.AtVec(2) < minDepth {
		return r2.Point{}, false
	}
	var pixel mat.VecDense
	pixel.MulVec(p.k, optical)
	w := pixel.AtVec(2)
	return r2.Point{X: pixel.AtVec(0) / w, Y: pixel.AtVec(1) / w}, true
}

// InImage reports whether a pixel falls on the sensor.
func (p *Projector) InImage(px r2.Point) bool {
	return px.X >= 0 && px.Y >= 0 && px.X <= float64(p.intrinsics.Width) && px.Y <= float64(p.intrinsics.Height)
}

// CameraPoseInField composes the robot pose with the fixed robot-to-camera transform.
func CameraPoseInField(robotPose, robotToCamera spatialmath.Pose) spatialmath.Pose {
	return spatialmath.Compose(robotPose, robotToCamera)
}

// RobotPoseFromCamera is the inverse of CameraPoseInField.
func RobotPoseFromCamera(cameraPose, robotToCamera spatialmath.Pose) spatialmath.Pose {
	return spatialmath.Compose(cameraPose, spatialmath.PoseInverse(robotToCamera))
}

// TagCornersInField returns the four corners of a square tag of the given edge length in
// detection order: bottom-left, bottom-right, top-right, top-left as seen facing the tag.
func TagCornersInField(tagPose spatialmath.Pose, tagSize float64) [4]r3.Vector {
	h := tagSize / 2
	local := [4]r3.Vector{
		{Y: -h, Z: -h},
		{Y: h, Z: -h},
		{Y: h, Z: h},
		{Y: -h, Z: h},
	}
	var corners [4]r3.Vector
	for i, c := range local {
		corners[i] = spatialmath.Compose(tagPose, spatialmath.NewPoseFromPoint(c)).Point()
	}
	return corners
}

// TagNormal is the unit vector pointing out of the tag face.
func TagNormal(tagPose spatialmath.Pose) r3.Vector {
	return spatialmath.Compose(
		spatialmath.NewPoseFromOrientation(tagPose.Orientation()),
		spatialmath.NewPoseFromPoint(r3.Vector{X: 1}),
	).Point()
}

// ProjectTag projects every corner of a tag seen from the given robot pose. It returns
// false if any corner is behind the camera.
func ProjectTag(
	projector *Projector,
	robotPose, robotToCamera, tagPose spatialmath.Pose,
	tagSize float64,
) ([4]r2.Point, bool) {
	cameraPose := CameraPoseInField(robotPose, robotToCamera)
	var pixels [4]r2.Point
	for i, corner := range TagCornersInField(tagPose, tagSize) {
		px, ok := projector.Project(utils.TransformPointToCameraFrame(cameraPose, corner))
		if !ok {
			return pixels, false
		}
		pixels[i] = px
	}
	return pixels, true
}

package estimators

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"taglocalizer/utils"
)

// DefaultTagSizeMeters is the black-border edge length of a 36h11 FRC tag.
const DefaultTagSizeMeters = 0.1651

// behindCameraPenalty is the pixel residual charged for a point that does not project.
const behindCameraPenalty = 1000.0

var errBehindCamera = errors.New("solution places tag corners behind the camera")

// ResolvedTag is an observation paired with the field pose of its tag.
type ResolvedTag struct {
	Observation utils.TagObservation
	FieldPose   spatialmath.Pose
}

// Hypothesis is a candidate robot pose and its RMS reprojection error in pixels.
type Hypothesis struct {
	Pose              spatialmath.Pose
	ReprojectionError float64
}

// PoseSolver turns tag corner observations into robot poses in the field frame.
type PoseSolver interface {
	// SolveMultiTag fits one pose to the corners of two or more tags.
	SolveMultiTag(info utils.CameraInfo, tags []ResolvedTag) (spatialmath.Pose, error)
	// SolveSingleTag returns the two mirror-ambiguous poses for one tag, lower error first.
	SolveSingleTag(info utils.CameraInfo, tag ResolvedTag) (Hypothesis, Hypothesis, error)
}

// ReprojectionResiduals scores a candidate robot pose by the pixel distance between the
// tag corners it predicts and the detected corners.
type ReprojectionResiduals struct {
	Projector     *Projector
	RobotToCamera spatialmath.Pose
	FieldPoints   []r3.Vector
	Observed      []r2.Point
	// Planar params are [x, y, yaw] with the robot on the floor, otherwise
	// [x, y, z, roll, pitch, yaw].
	Planar bool
}

func (r *ReprojectionResiduals) Pose(params []float64) spatialmath.Pose {
	if r.Planar {
		return utils.NewPoseFromYaw(params[0], params[1], 0, params[2])
	}
	return spatialmath.NewPose(
		r3.Vector{X: params[0], Y: params[1], Z: params[2]},
		&spatialmath.EulerAngles{Roll: params[3], Pitch: params[4], Yaw: params[5]},
	)
}

func (r *ReprojectionResiduals) Func(params []float64) float64 {
	residuals := r.Residuals(params)
	return floats.Dot(residuals, residuals)
}

func (r *ReprojectionResiduals) Residuals(params []float64) []float64 {
	cameraPose := CameraPoseInField(r.Pose(params), r.RobotToCamera)
	residuals := make([]float64, 0, 2*len(r.FieldPoints))
	for i, p := range r.FieldPoints {
		px, ok := r.Projector.Project(utils.TransformPointToCameraFrame(cameraPose, p))
		if !ok {
			residuals = append(residuals, behindCameraPenalty, behindCameraPenalty)
			continue
		}
		residuals = append(residuals, px.X-r.Observed[i].X, px.Y-r.Observed[i].Y)
	}
	return residuals
}

// RMS is the root mean square pixel error per corner coordinate.
func (r *ReprojectionResiduals) RMS(params []float64) float64 {
	if len(r.FieldPoints) == 0 {
		return 0
	}
	return math.Sqrt(r.Func(params) / float64(2*len(r.FieldPoints)))
}

func (r *ReprojectionResiduals) inFront(params []float64) bool {
	cameraPose := CameraPoseInField(r.Pose(params), r.RobotToCamera)
	for _, p := range r.FieldPoints {
		if _, ok := r.Projector.Project(utils.TransformPointToCameraFrame(cameraPose, p)); !ok {
			return false
		}
	}
	return true
}

func (r *ReprojectionResiduals) hypothesis(params []float64) (Hypothesis, error) {
	if !r.inFront(params) {
		return Hypothesis{}, errBehindCamera
	}
	return Hypothesis{Pose: r.Pose(params), ReprojectionError: r.RMS(params)}, nil
}

func fullParams(pose spatialmath.Pose) []float64 {
	p := pose.Point()
	e := pose.Orientation().EulerAngles()
	return []float64{p.X, p.Y, p.Z, e.Roll, e.Pitch, e.Yaw}
}

// ReprojectionSolver fits poses with Nelder-Mead: a planar multi-start search seeded in
// front of each tag, followed by a full 6-DoF refinement.
type ReprojectionSolver struct {
	// SeedDistances are the camera-to-tag ranges tried for the planar seeds.
	SeedDistances []float64
	// SeedBearings are offsets in radians from the tag normal tried for the planar seeds.
	SeedBearings []float64
	// MaxSeedTags bounds how many tags contribute seeds in a multi-tag solve.
	MaxSeedTags     int
	FuncEvaluations int
}

func NewReprojectionSolver() *ReprojectionSolver {
	return &ReprojectionSolver{
		SeedDistances:   []float64{1.5, 3, 5},
		SeedBearings:    []float64{-0.7, 0, 0.7},
		MaxSeedTags:     3,
		FuncEvaluations: 20000,
	}
}

func (s *ReprojectionSolver) SolveMultiTag(info utils.CameraInfo, tags []ResolvedTag) (spatialmath.Pose, error) {
	if len(tags) < 2 {
		return nil, fmt.Errorf("multi-tag solve needs at least 2 tags, got %d", len(tags))
	}
	rf, err := newResiduals(info, tags)
	if err != nil {
		return nil, err
	}
	best, err := s.solve(info, rf, tags)
	if err != nil {
		return nil, err
	}
	return best.Pose, nil
}

func (s *ReprojectionSolver) SolveSingleTag(info utils.CameraInfo, tag ResolvedTag) (Hypothesis, Hypothesis, error) {
	rf, err := newResiduals(info, []ResolvedTag{tag})
	if err != nil {
		return Hypothesis{}, Hypothesis{}, err
	}
	primary, err := s.solve(info, rf, []ResolvedTag{tag})
	if err != nil {
		return Hypothesis{}, Hypothesis{}, err
	}
	mirrored, err := s.mirror(info, rf, tag, primary)
	if err != nil {
		// head-on view, both hypotheses coincide
		return primary, primary, nil //nolint:nilerr
	}
	if mirrored.ReprojectionError < primary.ReprojectionError {
		return mirrored, primary, nil
	}
	return primary, mirrored, nil
}

func newResiduals(info utils.CameraInfo, tags []ResolvedTag) (*ReprojectionResiduals, error) {
	if info.RobotToCamera == nil {
		return nil, fmt.Errorf("camera %q has no robot-to-camera transform", info.Name)
	}
	projector, err := NewProjector(info.Intrinsics)
	if err != nil {
		return nil, fmt.Errorf("camera %q: %w", info.Name, err)
	}
	size := info.TagSizeMeters
	if size <= 0 {
		size = DefaultTagSizeMeters
	}
	rf := &ReprojectionResiduals{
		Projector:     projector,
		RobotToCamera: info.RobotToCamera,
		FieldPoints:   make([]r3.Vector, 0, 4*len(tags)),
		Observed:      make([]r2.Point, 0, 4*len(tags)),
	}
	for _, tag := range tags {
		if tag.FieldPose == nil {
			return nil, fmt.Errorf("tag %d has no field pose", tag.Observation.ID)
		}
		corners := TagCornersInField(tag.FieldPose, size)
		rf.FieldPoints = append(rf.FieldPoints, corners[:]...)
		rf.Observed = append(rf.Observed, tag.Observation.Corners[:]...)
	}
	return rf, nil
}

func (s *ReprojectionSolver) solve(info utils.CameraInfo, full *ReprojectionResiduals, tags []ResolvedTag) (Hypothesis, error) {
	planar := *full
	planar.Planar = true

	var best []float64
	bestCost := math.Inf(1)
	for _, seed := range s.seeds(info, tags) {
		x, cost, err := minimize(planar.Func, seed, 0.5, s.FuncEvaluations/10)
		if err != nil {
			continue
		}
		if cost < bestCost {
			best, bestCost = x, cost
		}
	}
	if best == nil {
		return Hypothesis{}, errors.New("no planar seed converged")
	}

	x0 := []float64{best[0], best[1], 0, 0, 0, best[2]}
	refined, cost, err := minimize(full.Func, x0, 0.05, s.FuncEvaluations)
	if err != nil || cost > bestCost {
		refined = x0
	}
	return full.hypothesis(refined)
}

// seeds places a camera in front of each tag at several ranges and bearings, looking at
// the tag, and converts each to planar robot parameters.
func (s *ReprojectionSolver) seeds(info utils.CameraInfo, tags []ResolvedTag) [][]float64 {
	if s.MaxSeedTags > 0 && len(tags) > s.MaxSeedTags {
		tags = tags[:s.MaxSeedTags]
	}
	seeds := make([][]float64, 0, len(tags)*len(s.SeedBearings)*len(s.SeedDistances))
	for _, tag := range tags {
		center := tag.FieldPose.Point()
		normalYaw := utils.YawOf(tag.FieldPose)
		for _, bearing := range s.SeedBearings {
			dir := normalYaw + bearing
			for _, d := range s.SeedDistances {
				camera := utils.NewPoseFromYaw(
					center.X+d*math.Cos(dir),
					center.Y+d*math.Sin(dir),
					center.Z,
					dir+math.Pi,
				)
				robot := RobotPoseFromCamera(camera, info.RobotToCamera)
				seeds = append(seeds, []float64{robot.Point().X, robot.Point().Y, utils.YawOf(robot)})
			}
		}
	}
	return seeds
}

// mirror builds the second single-tag hypothesis by reflecting the line of sight about
// the tag normal and refining from there.
func (s *ReprojectionSolver) mirror(
	info utils.CameraInfo,
	rf *ReprojectionResiduals,
	tag ResolvedTag,
	primary Hypothesis,
) (Hypothesis, error) {
	camera := CameraPoseInField(primary.Pose, info.RobotToCamera)
	center := tag.FieldPose.Point()
	normal := TagNormal(tag.FieldPose)

	toCamera := camera.Point().Sub(center)
	r := toCamera.Norm()
	if r < 1e-9 {
		return Hypothesis{}, errors.New("camera coincides with tag")
	}
	w := toCamera.Mul(1 / r)
	reflected := normal.Mul(2 * w.Dot(normal)).Sub(w)

	axis := w.Cross(reflected)
	sin := axis.Norm()
	if sin < 1e-6 {
		return Hypothesis{}, errors.New("line of sight is on the tag normal")
	}
	axis = axis.Mul(1 / sin)
	rotation := spatialmath.NewPoseFromOrientation(&spatialmath.R4AA{
		Theta: math.Atan2(sin, w.Dot(reflected)),
		RX:    axis.X,
		RY:    axis.Y,
		RZ:    axis.Z,
	})
	orientation := spatialmath.Compose(rotation, spatialmath.NewPoseFromOrientation(camera.Orientation())).Orientation()
	mirroredCamera := spatialmath.NewPose(center.Add(reflected.Mul(r)), orientation)

	x0 := fullParams(RobotPoseFromCamera(mirroredCamera, info.RobotToCamera))
	x, _, err := minimize(rf.Func, x0, 0.05, s.FuncEvaluations)
	if err != nil {
		return Hypothesis{}, err
	}
	return rf.hypothesis(x)
}

func minimize(f func([]float64) float64, x0 []float64, simplexSize float64, evaluations int) ([]float64, float64, error) {
	problem := optimize.Problem{
		Func: f,
	}
	settings := &optimize.Settings{
		FuncEvaluations: evaluations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-10,
			Relative:   1e-10,
			Iterations: 100,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{SimplexSize: simplexSize})
	if result == nil || len(result.X) != len(x0) {
		if err == nil {
			err = errors.New("optimizer returned no location")
		}
		return nil, math.Inf(1), fmt.Errorf("optimization failed: %w", err)
	}
	cost := f(result.X)
	if math.IsNaN(cost) {
		return nil, math.Inf(1), errors.New("optimization failed: cost is NaN")
	}
	return result.X, cost, nil
}

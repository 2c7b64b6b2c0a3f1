package estimators

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"

	"taglocalizer/utils"
)

type mapLayout map[int]spatialmath.Pose

func (m mapLayout) PoseOf(id int) (spatialmath.Pose, bool) {
	p, ok := m[id]
	return p, ok
}

// stubSolver returns canned poses so the confidence heuristic can be checked in isolation.
type stubSolver struct {
	multi     spatialmath.Pose
	best, alt Hypothesis
	err       error
	multiErr  error
	calls     int
	singleIDs []int
}

func (s *stubSolver) SolveMultiTag(_ utils.CameraInfo, _ []ResolvedTag) (spatialmath.Pose, error) {
	s.calls++
	if s.multiErr != nil {
		return nil, s.multiErr
	}
	return s.multi, s.err
}

func (s *stubSolver) SolveSingleTag(_ utils.CameraInfo, tag ResolvedTag) (Hypothesis, Hypothesis, error) {
	s.calls++
	s.singleIDs = append(s.singleIDs, tag.Observation.ID)
	return s.best, s.alt, s.err
}

func testIntrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{Width: 1280, Height: 800, Fx: 900, Fy: 900, Ppx: 640, Ppy: 400}
}

func testCameraInfo() utils.CameraInfo {
	return utils.CameraInfo{
		Name:          "front",
		RobotToCamera: utils.NewPoseFromYaw(0.2, 0, 0.3, 0),
		Intrinsics:    testIntrinsics(),
		TagSizeMeters: DefaultTagSizeMeters,
	}
}

func newTestEstimator(t *testing.T, info utils.CameraInfo, solver PoseSolver) *SingleCameraEstimator {
	t.Helper()
	e, err := NewSingleCameraEstimator(logging.NewTestLogger(t), info, solver, DefaultConfidenceConfig(), 0)
	test.That(t, err, test.ShouldBeNil)
	return e
}

func frameOf(ts float64, ids ...int) utils.CameraFrame {
	frame := utils.CameraFrame{Timestamp: ts}
	for _, id := range ids {
		frame.Observations = append(frame.Observations, utils.TagObservation{ID: id})
	}
	return frame
}

func TestTwoTagsAtOneMeter(t *testing.T) {
	layout := mapLayout{
		1: utils.NewPoseFromYaw(5, 5, 0.5, math.Pi),
		2: utils.NewPoseFromYaw(5, 3, 0.5, math.Pi),
	}
	solver := &stubSolver{multi: utils.NewPoseFromYaw(5, 4, 0, 0)}
	e := newTestEstimator(t, testCameraInfo(), solver)

	result := e.Estimate(frameOf(2.5, 1, 2), layout)
	test.That(t, result.Strategy, test.ShouldEqual, StrategyMultiTag)
	test.That(t, result.TagCount(), test.ShouldEqual, 2)
	test.That(t, result.Timestamp, test.ShouldEqual, 2.5)
	test.That(t, result.Camera, test.ShouldEqual, "front")
	test.That(t, result.Valid(), test.ShouldBeTrue)

	scale := 1 + 1.0/30
	test.That(t, result.Confidence.X, test.ShouldAlmostEqual, 0.5*scale, 1e-9)
	test.That(t, result.Confidence.Y, test.ShouldAlmostEqual, 0.5*scale, 1e-9)
	test.That(t, result.Confidence.Heading, test.ShouldAlmostEqual, 1.0*scale, 1e-9)
}

func TestSingleTagBeyondRejectDistance(t *testing.T) {
	layout := mapLayout{7: utils.NewPoseFromYaw(5.2, 0, 0.5, math.Pi)}
	pose := utils.NewPoseFromYaw(0, 0, 0, 0)
	solver := &stubSolver{best: Hypothesis{Pose: pose}, alt: Hypothesis{Pose: pose}}
	e := newTestEstimator(t, testCameraInfo(), solver)

	result := e.Estimate(frameOf(1, 7), layout)
	test.That(t, result.Confidence, test.ShouldResemble, utils.MaxConfidence())
	test.That(t, result.Valid(), test.ShouldBeFalse)
	test.That(t, result.TagCount(), test.ShouldEqual, 1)
}

func TestNoResolvableTags(t *testing.T) {
	solver := &stubSolver{}
	e := newTestEstimator(t, testCameraInfo(), solver)

	for _, frame := range []utils.CameraFrame{frameOf(3), frameOf(3, 99, 100)} {
		result := e.Estimate(frame, mapLayout{1: utils.NewPoseFromYaw(1, 1, 0, 0)})
		test.That(t, result.Strategy, test.ShouldEqual, StrategyNone)
		test.That(t, result.TagCount(), test.ShouldEqual, 0)
		test.That(t, result.Confidence, test.ShouldResemble, utils.MaxConfidence())
		test.That(t, result.Pose.Point(), test.ShouldResemble, SentinelPose().Point())
		test.That(t, result.Timestamp, test.ShouldEqual, 3.0)
	}
	test.That(t, solver.calls, test.ShouldEqual, 0)

	result := e.Estimate(frameOf(4, 1), nil)
	test.That(t, result.Valid(), test.ShouldBeFalse)
}

func TestSolverFailureIsSentinel(t *testing.T) {
	layout := mapLayout{1: utils.NewPoseFromYaw(2, 0, 0.5, math.Pi)}
	solver := &stubSolver{err: errors.New("boom")}
	e := newTestEstimator(t, testCameraInfo(), solver)

	result := e.Estimate(frameOf(1, 1), layout)
	test.That(t, result.Valid(), test.ShouldBeFalse)
	test.That(t, result.Pose.Point(), test.ShouldResemble, SentinelPose().Point())
}

func TestMultiTagFailureFallsBackToLeastAmbiguousTag(t *testing.T) {
	layout := mapLayout{
		1: utils.NewPoseFromYaw(5, 5, 0.5, math.Pi),
		2: utils.NewPoseFromYaw(5, 3, 0.5, math.Pi),
	}
	pose := utils.NewPoseFromYaw(4, 4, 0, 0)
	solver := &stubSolver{
		multiErr: errors.New("no planar seed converged"),
		best:     Hypothesis{Pose: pose, ReprojectionError: 0.2},
		alt:      Hypothesis{Pose: utils.NewPoseFromYaw(4, 4, 0, 1), ReprojectionError: 0.4},
	}
	e := newTestEstimator(t, testCameraInfo(), solver)

	frame := utils.CameraFrame{Timestamp: 2, Observations: []utils.TagObservation{
		{ID: 1, Ambiguity: 0.4},
		{ID: 2, Ambiguity: 0.05},
	}}
	result := e.Estimate(frame, layout)
	test.That(t, result.Strategy, test.ShouldEqual, StrategyMultiTagFallback)
	test.That(t, solver.singleIDs, test.ShouldResemble, []int{2})
	test.That(t, result.Valid(), test.ShouldBeTrue)
	test.That(t, result.Pose.Point(), test.ShouldResemble, pose.Point())
	test.That(t, result.TagCount(), test.ShouldEqual, 2)

	// confidence is still scored over both tags with the multi-tag base
	positions := []r3.Vector{layout[1].Point(), layout[2].Point()}
	test.That(t, result.Confidence, test.ShouldResemble, DefaultConfidenceConfig().Compute(pose, positions))

	// both solves failing is still the sentinel
	solver.err = errors.New("boom")
	result = e.Estimate(frame, layout)
	test.That(t, result.Valid(), test.ShouldBeFalse)
	test.That(t, result.Strategy, test.ShouldEqual, StrategyNone)
}

func repeat(p r3.Vector, n int) []r3.Vector {
	out := make([]r3.Vector, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func TestConfidenceMonotonicInDistance(t *testing.T) {
	cfg := DefaultConfidenceConfig()
	tag := r3.Vector{Z: 0.5}

	for _, n := range []int{1, 2} {
		prev := utils.ConfidenceVector{}
		for d := 0.0; d <= 4.0; d += 0.25 {
			conf := cfg.Compute(utils.NewPoseFromYaw(d, 0, 0, 0), repeat(tag, n))
			test.That(t, conf.IsFinite(), test.ShouldBeTrue)
			test.That(t, conf.X, test.ShouldBeGreaterThanOrEqualTo, prev.X)
			test.That(t, conf.Y, test.ShouldBeGreaterThanOrEqualTo, prev.Y)
			test.That(t, conf.Heading, test.ShouldBeGreaterThanOrEqualTo, prev.Heading)
			prev = conf
		}
	}

	// exactly at the reject distance is still accepted
	atLimit := cfg.Compute(utils.NewPoseFromYaw(4, 0, 0, 0), repeat(tag, 1))
	test.That(t, atLimit.IsFinite(), test.ShouldBeTrue)
	test.That(t, atLimit.X, test.ShouldAlmostEqual, 4*(1+16.0/30), 1e-9)

	// multi-tag is never rejected by distance
	far := cfg.Compute(utils.NewPoseFromYaw(10, 0, 0, 0), repeat(tag, 2))
	test.That(t, far.IsFinite(), test.ShouldBeTrue)

	test.That(t, cfg.Compute(utils.NewPoseFromYaw(1, 0, 0, 0), nil), test.ShouldResemble, utils.MaxConfidence())
}

func TestEstimateDeterministic(t *testing.T) {
	layout := mapLayout{
		1: utils.NewPoseFromYaw(5, 5, 0.5, math.Pi),
		2: utils.NewPoseFromYaw(5, 3, 0.5, math.Pi),
	}
	solver := &stubSolver{multi: utils.NewPoseFromYaw(3, 4, 0, 0.1)}
	e := newTestEstimator(t, testCameraInfo(), solver)

	a := e.Estimate(frameOf(1, 1, 2), layout)
	b := e.Estimate(frameOf(1, 1, 2), layout)
	test.That(t, a.Confidence, test.ShouldResemble, b.Confidence)
	test.That(t, a.Strategy, test.ShouldEqual, b.Strategy)
	test.That(t, spatialmath.PoseAlmostEqual(a.Pose, b.Pose), test.ShouldBeTrue)
}

func TestSingleTagHeadingSelection(t *testing.T) {
	layout := mapLayout{4: utils.NewPoseFromYaw(3, 0, 0.5, math.Pi)}
	solver := &stubSolver{
		best: Hypothesis{Pose: utils.NewPoseFromYaw(1, 0.2, 0, 0), ReprojectionError: 0.5},
		alt:  Hypothesis{Pose: utils.NewPoseFromYaw(1, -0.2, 0, 1.0), ReprojectionError: 0.7},
	}
	e := newTestEstimator(t, testCameraInfo(), solver)

	// no heading yet: lower reprojection error wins
	result := e.Estimate(frameOf(1, 4), layout)
	test.That(t, result.Strategy, test.ShouldEqual, StrategySingleTagFallback)
	test.That(t, result.Pose.Point().Y, test.ShouldAlmostEqual, 0.2)

	e.IngestHeading(0.5, 0.9)
	e.IngestHeading(1.5, 1.0)
	result = e.Estimate(frameOf(1, 4), layout)
	test.That(t, result.Strategy, test.ShouldEqual, StrategySingleTagHeading)
	test.That(t, result.Pose.Point().Y, test.ShouldAlmostEqual, -0.2)
	test.That(t, result.Confidence.X, test.ShouldAlmostEqual, 4*(1+4.04/30), 1e-9)
}

func TestPerCameraOverrides(t *testing.T) {
	reject := 6.0
	single := [3]float64{1, 1, 2}
	info := testCameraInfo()
	info.Overrides = &utils.ConfidenceOverrides{RejectDistance: &reject, SingleTagStdDevs: &single}

	layout := mapLayout{7: utils.NewPoseFromYaw(5.2, 0, 0.5, math.Pi)}
	pose := utils.NewPoseFromYaw(0, 0, 0, 0)
	e := newTestEstimator(t, info, &stubSolver{best: Hypothesis{Pose: pose}, alt: Hypothesis{Pose: pose}})

	result := e.Estimate(frameOf(1, 7), layout)
	test.That(t, result.Valid(), test.ShouldBeTrue)
	test.That(t, result.Confidence.X, test.ShouldAlmostEqual, 1+5.2*5.2/30, 1e-9)
	test.That(t, e.Confidence().MultiTagStdDevs, test.ShouldResemble, DefaultConfidenceConfig().MultiTagStdDevs)
}

func TestNewSingleCameraEstimatorErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewSingleCameraEstimator(logger, utils.CameraInfo{}, &stubSolver{}, DefaultConfidenceConfig(), 0)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewSingleCameraEstimator(logger, testCameraInfo(), nil, DefaultConfidenceConfig(), 0)
	test.That(t, err, test.ShouldNotBeNil)

	bad := DefaultConfidenceConfig()
	bad.DistanceScaleDivisor = 0
	_, err = NewSingleCameraEstimator(logger, testCameraInfo(), &stubSolver{}, bad, 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "distance_scale_divisor")
}

func observe(t *testing.T, info utils.CameraInfo, robot spatialmath.Pose, layout mapLayout, ids ...int) utils.CameraFrame {
	t.Helper()
	projector, err := NewProjector(info.Intrinsics)
	test.That(t, err, test.ShouldBeNil)
	frame := utils.CameraFrame{Timestamp: 1}
	for _, id := range ids {
		corners, ok := ProjectTag(projector, robot, info.RobotToCamera, layout[id], info.TagSizeMeters)
		test.That(t, ok, test.ShouldBeTrue)
		for _, c := range corners {
			test.That(t, projector.InImage(c), test.ShouldBeTrue)
		}
		frame.Observations = append(frame.Observations, utils.TagObservation{ID: id, Corners: corners})
	}
	return frame
}

func TestReprojectionSolverMultiTag(t *testing.T) {
	layout := mapLayout{
		1: utils.NewPoseFromYaw(5, 4, 0.5, math.Pi),
		2: utils.NewPoseFromYaw(5, 3, 0.5, math.Pi),
	}
	info := testCameraInfo()
	truth := utils.NewPoseFromYaw(3, 3.8, 0, 0.1)
	e := newTestEstimator(t, info, NewReprojectionSolver())

	result := e.Estimate(observe(t, info, truth, layout, 1, 2), layout)
	test.That(t, result.Strategy, test.ShouldEqual, StrategyMultiTag)
	test.That(t, result.Valid(), test.ShouldBeTrue)
	test.That(t, utils.PlanarDistance(result.Pose.Point(), truth.Point()), test.ShouldBeLessThan, 0.05)
	test.That(t, utils.AngleDifference(utils.YawOf(result.Pose), 0.1), test.ShouldBeLessThan, 0.02)
}

func TestReprojectionSolverSingleTag(t *testing.T) {
	layout := mapLayout{1: utils.NewPoseFromYaw(5, 4, 0.5, math.Pi)}
	info := testCameraInfo()
	truth := utils.NewPoseFromYaw(3.5, 3.7, 0, 0.2)
	frame := observe(t, info, truth, layout, 1)

	solver := NewReprojectionSolver()
	best, alt, err := solver.SolveSingleTag(info, ResolvedTag{Observation: frame.Observations[0], FieldPose: layout[1]})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, best.ReprojectionError, test.ShouldBeLessThanOrEqualTo, alt.ReprojectionError)
	test.That(t, best.ReprojectionError, test.ShouldBeLessThan, 0.5)
	test.That(t, utils.PlanarDistance(best.Pose.Point(), truth.Point()), test.ShouldBeLessThan, 0.05)

	_, err = solver.SolveMultiTag(info, []ResolvedTag{{Observation: frame.Observations[0], FieldPose: layout[1]}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestProjectorBehindCamera(t *testing.T) {
	projector, err := NewProjector(testIntrinsics())
	test.That(t, err, test.ShouldBeNil)

	px, ok := projector.Project(r3.Vector{X: 2})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px, test.ShouldResemble, r2.Point{X: 640, Y: 400})

	// +Y is left in the body frame, so it lands left of center
	px, ok = projector.Project(r3.Vector{X: 2, Y: 0.5, Z: 0.5})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, px.X, test.ShouldBeLessThan, 640)
	test.That(t, px.Y, test.ShouldBeLessThan, 400)

	_, ok = projector.Project(r3.Vector{X: -1})
	test.That(t, ok, test.ShouldBeFalse)

	_, err = NewProjector(nil)
	test.That(t, err, test.ShouldNotBeNil)
}

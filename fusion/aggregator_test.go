package fusion

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"

	"taglocalizer/estimators"
	"taglocalizer/fieldlayout"
	"taglocalizer/framesources"
	"taglocalizer/utils"
)

// fixedSolver reports a robot pose one meter in front of the first tag.
type fixedSolver struct{}

func inFrontOf(tag spatialmath.Pose) spatialmath.Pose {
	p := tag.Point()
	yaw := utils.YawOf(tag)
	return utils.NewPoseFromYaw(p.X+math.Cos(yaw), p.Y+math.Sin(yaw), 0, yaw+math.Pi)
}

func (fixedSolver) SolveMultiTag(_ utils.CameraInfo, tags []estimators.ResolvedTag) (spatialmath.Pose, error) {
	return inFrontOf(tags[0].FieldPose), nil
}

func (fixedSolver) SolveSingleTag(_ utils.CameraInfo, tag estimators.ResolvedTag) (estimators.Hypothesis, estimators.Hypothesis, error) {
	h := estimators.Hypothesis{Pose: inFrontOf(tag.FieldPose)}
	return h, h, nil
}

func newCamera(t *testing.T, name string, source framesources.FrameSource) Camera {
	t.Helper()
	info := utils.CameraInfo{
		Name:          name,
		RobotToCamera: utils.NewPoseFromYaw(0, 0, 0.3, 0),
		Intrinsics:    &transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240},
		TagSizeMeters: estimators.DefaultTagSizeMeters,
	}
	e, err := estimators.NewSingleCameraEstimator(
		logging.NewTestLogger(t), info, fixedSolver{}, estimators.DefaultConfidenceConfig(), 0)
	test.That(t, err, test.ShouldBeNil)
	return Camera{Source: source, Estimator: e}
}

func staticFrames(ids ...int) framesources.FrameSource {
	return framesources.FuncSource(func(context.Context) (utils.CameraFrame, error) {
		frame := utils.CameraFrame{Timestamp: 10}
		for _, id := range ids {
			frame.Observations = append(frame.Observations, utils.TagObservation{ID: id})
		}
		return frame, nil
	})
}

type consumed struct {
	pose       utils.Pose2D
	timestamp  float64
	confidence utils.ConfidenceVector
}

func TestRunCycleForwardsOnlyFinite(t *testing.T) {
	var calls []consumed
	consumer := func(pose utils.Pose2D, ts float64, conf utils.ConfidenceVector) {
		calls = append(calls, consumed{pose, ts, conf})
	}
	sink := NewLatestSink()
	cameras := []Camera{
		newCamera(t, "left", staticFrames(18, 19)),
		newCamera(t, "right", staticFrames(21)),
		newCamera(t, "rear", staticFrames()),
		newCamera(t, "broken", framesources.FuncSource(func(context.Context) (utils.CameraFrame, error) {
			return utils.CameraFrame{}, errors.New("camera unplugged")
		})),
	}
	clk := clock.NewMock()
	clk.Set(time.Unix(42, 0))
	agg, err := NewAggregator(logging.NewTestLogger(t), cameras,
		fieldlayout.NewProvider(fieldlayout.ReefscapeReefLayout()), consumer, sink, clk)
	test.That(t, err, test.ShouldBeNil)

	results := agg.RunCycle(context.Background(), &utils.HeadingSample{Timestamp: 10, Yaw: 0}, fieldlayout.Blue)
	test.That(t, len(results), test.ShouldEqual, 4)
	test.That(t, len(calls), test.ShouldEqual, 2)
	test.That(t, calls[0].timestamp, test.ShouldEqual, 10.0)

	// one meter in front of tag 18, which faces -x
	test.That(t, calls[0].pose.X, test.ShouldAlmostEqual, 3.658-1, 1e-9)
	test.That(t, calls[0].pose.Y, test.ShouldAlmostEqual, 4.026, 1e-9)
	test.That(t, calls[0].confidence.X, test.ShouldBeGreaterThan, 0.5)

	states := agg.States()
	test.That(t, states["left"], test.ShouldEqual, StateValid)
	test.That(t, states["right"], test.ShouldEqual, StateValid)
	test.That(t, states["rear"], test.ShouldEqual, StateInvalid)
	test.That(t, states["broken"], test.ShouldEqual, StateInvalid)

	// diagnostics are emitted for every camera, including the empty one
	test.That(t, len(sink.All()), test.ShouldEqual, 4)
	rear, ok := sink.Latest("rear")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rear.Confidence, test.ShouldResemble, utils.MaxConfidence())
	test.That(t, rear.Pose.Point(), test.ShouldResemble, estimators.SentinelPose().Point())

	broken, ok := sink.Latest("broken")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, broken.Timestamp, test.ShouldEqual, 42.0)

	left, _ := sink.Latest("left")
	test.That(t, left.TagIDs, test.ShouldResemble, []int{18, 19})
	test.That(t, len(left.TagPoses), test.ShouldEqual, 2)
	test.That(t, left.Strategy, test.ShouldEqual, estimators.StrategyMultiTag)
	test.That(t, left.ToMap()["state"], test.ShouldEqual, "VALID")
}

func TestRunCycleResolvesAllianceEachCycle(t *testing.T) {
	var poses []utils.Pose2D
	consumer := func(pose utils.Pose2D, _ float64, _ utils.ConfidenceVector) {
		poses = append(poses, pose)
	}
	agg, err := NewAggregator(logging.NewTestLogger(t),
		[]Camera{newCamera(t, "front", staticFrames(18, 19))},
		fieldlayout.NewProvider(fieldlayout.ReefscapeReefLayout()), consumer, nil, nil)
	test.That(t, err, test.ShouldBeNil)

	agg.RunCycle(context.Background(), nil, fieldlayout.Unknown)
	agg.RunCycle(context.Background(), nil, fieldlayout.Red)
	agg.RunCycle(context.Background(), nil, fieldlayout.Blue)
	test.That(t, len(poses), test.ShouldEqual, 3)

	test.That(t, poses[0], test.ShouldResemble, poses[2])
	test.That(t, poses[1].X, test.ShouldAlmostEqual, fieldlayout.ReefscapeFieldLength-poses[0].X, 1e-9)
	test.That(t, poses[1].Y, test.ShouldAlmostEqual, fieldlayout.ReefscapeFieldWidth-poses[0].Y, 1e-9)
}

func TestSingleDistantTagNeverForwarded(t *testing.T) {
	calls := 0
	consumer := func(utils.Pose2D, float64, utils.ConfidenceVector) { calls++ }

	far := func(_ utils.CameraInfo, tag estimators.ResolvedTag) spatialmath.Pose {
		p := tag.FieldPose.Point()
		return utils.NewPoseFromYaw(p.X-5.2, p.Y, 0, 0)
	}
	cam := newCamera(t, "front", staticFrames(18))
	e, err := estimators.NewSingleCameraEstimator(logging.NewTestLogger(t), cam.Estimator.Info(),
		farSolver(far), estimators.DefaultConfidenceConfig(), 0)
	test.That(t, err, test.ShouldBeNil)
	cam.Estimator = e

	agg, err := NewAggregator(logging.NewTestLogger(t), []Camera{cam},
		fieldlayout.NewProvider(fieldlayout.ReefscapeReefLayout()), consumer, nil, nil)
	test.That(t, err, test.ShouldBeNil)

	results := agg.RunCycle(context.Background(), nil, fieldlayout.Blue)
	test.That(t, calls, test.ShouldEqual, 0)
	test.That(t, results[0].Valid(), test.ShouldBeFalse)
	test.That(t, agg.States()["front"], test.ShouldEqual, StateInvalid)
}

type farSolver func(utils.CameraInfo, estimators.ResolvedTag) spatialmath.Pose

func (f farSolver) SolveMultiTag(info utils.CameraInfo, tags []estimators.ResolvedTag) (spatialmath.Pose, error) {
	return f(info, tags[0]), nil
}

func (f farSolver) SolveSingleTag(info utils.CameraInfo, tag estimators.ResolvedTag) (estimators.Hypothesis, estimators.Hypothesis, error) {
	h := estimators.Hypothesis{Pose: f(info, tag)}
	return h, h, nil
}

func TestNewAggregatorErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	provider := fieldlayout.NewProvider(fieldlayout.ReefscapeReefLayout())

	_, err := NewAggregator(logger, nil, nil, nil, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = NewAggregator(logger, []Camera{{}}, provider, nil, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)

	dup := []Camera{newCamera(t, "a", staticFrames()), newCamera(t, "a", staticFrames())}
	_, err = NewAggregator(logger, dup, provider, nil, nil, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "duplicate camera name")
}

func TestMultiSink(t *testing.T) {
	a, b := NewLatestSink(), NewLatestSink()
	// a record without a pose must not take the logger sink down
	MultiSink{a, b, LoggerSink{Logger: logging.NewTestLogger(t)}}.Record(Diagnostics{Camera: "x", State: StateValid})
	_, ok := a.Latest("x")
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = b.Latest("x")
	test.That(t, ok, test.ShouldBeTrue)
}

func TestDiagnosticsCarryAmbiguity(t *testing.T) {
	tag := utils.NewPoseFromYaw(3.658, 4.026, 0.308, math.Pi)
	d := newDiagnostics(estimators.FusionResult{
		Camera:     "left",
		Pose:       estimators.SentinelPose(),
		Confidence: utils.MaxConfidence(),
		Tags: []estimators.ResolvedTag{{
			Observation: utils.TagObservation{ID: 18, Ambiguity: 0.25},
			FieldPose:   tag,
		}},
	})
	test.That(t, d.State, test.ShouldEqual, StateInvalid)
	test.That(t, d.Ambiguities, test.ShouldResemble, []float64{0.25})

	tags := d.ToMap()["tags"].([]interface{})
	test.That(t, len(tags), test.ShouldEqual, 1)
	first := tags[0].(map[string]interface{})
	test.That(t, first["id"], test.ShouldEqual, 18)
	test.That(t, first["ambiguity"], test.ShouldEqual, 0.25)
	test.That(t, first["field_pose"], test.ShouldNotBeNil)
}

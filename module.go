// Package taglocalizer runs the tag localizer end to end against a scripted robot path,
// and resolves camera mounts from a live machine's frame system.
package taglocalizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/stat"

	"taglocalizer/estimators"
	"taglocalizer/fieldlayout"
	"taglocalizer/framesources"
	"taglocalizer/fusion"
	"taglocalizer/utils"
)

const defaultStepSec = 0.02

// Waypoint is one true robot pose on a scripted path.
type Waypoint struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	YawDeg float64 `json:"yaw_deg"`
}

func (w Waypoint) pose() spatialmath.Pose {
	return utils.NewPoseFromYaw(w.X, w.Y, 0, utils.DegreesToRadians(w.YawDeg))
}

// LinearPath interpolates steps waypoints from a to b, both included.
func LinearPath(a, b Waypoint, steps int) []Waypoint {
	if steps < 2 {
		return []Waypoint{a}
	}
	path := make([]Waypoint, steps)
	dYaw := utils.RadiansToDegrees(utils.WrapAngleRad(utils.DegreesToRadians(b.YawDeg - a.YawDeg)))
	for i := range path {
		t := float64(i) / float64(steps-1)
		path[i] = Waypoint{
			X:      a.X + t*(b.X-a.X),
			Y:      a.Y + t*(b.Y-a.Y),
			YawDeg: a.YawDeg + t*dYaw,
		}
	}
	return path
}

type SimulationConfig struct {
	Cameras          []utils.CameraInfo
	Path             []Waypoint
	Alliance         fieldlayout.Alliance
	Layout           *fieldlayout.FieldTagLayout // blue origin, defaults to the reefscape reef
	StepSec          float64
	HeadingWindowSec float64
	Confidence       *estimators.ConfidenceConfig
	Noise            framesources.SimulatedConfig
}

// DefaultCameras is a front and a rear camera at bumper height.
func DefaultCameras() []utils.CameraInfo {
	intrinsics := &transform.PinholeCameraIntrinsics{Width: 1280, Height: 800, Fx: 900, Fy: 900, Ppx: 640, Ppy: 400}
	return []utils.CameraInfo{
		{
			Name:          "front",
			RobotToCamera: utils.NewPoseFromYaw(0.3, 0, 0.25, 0),
			Intrinsics:    intrinsics,
			TagSizeMeters: estimators.DefaultTagSizeMeters,
		},
		{
			Name:          "rear",
			RobotToCamera: utils.NewPoseFromYaw(-0.3, 0, 0.25, math.Pi),
			Intrinsics:    intrinsics,
			TagSizeMeters: estimators.DefaultTagSizeMeters,
		},
	}
}

// SimulatedObservation pairs an accepted estimate with the truth at that step.
type SimulatedObservation struct {
	Step       int                    `json:"step"`
	Truth      utils.Pose2D           `json:"truth"`
	Estimate   utils.Pose2D           `json:"estimate"`
	Timestamp  float64                `json:"timestamp"`
	Confidence utils.ConfidenceVector `json:"confidence"`
}

// PositionError is the planar distance between estimate and truth.
func (o SimulatedObservation) PositionError() float64 {
	return math.Hypot(o.Estimate.X-o.Truth.X, o.Estimate.Y-o.Truth.Y)
}

// SimulationReport summarizes a run. ValidCycles counts, per camera, the cycles that
// produced an accepted estimate.
type SimulationReport struct {
	Cycles              int                    `json:"cycles"`
	Observations        []SimulatedObservation `json:"observations"`
	ValidCycles         map[string]int         `json:"valid_cycles"`
	MeanPositionErrorM  float64                `json:"mean_position_error_m"`
	MeanHeadingErrorRad float64                `json:"mean_heading_error_rad"`
	WorstPositionErrorM float64                `json:"worst_position_error_m"`
}

// Simulation walks a robot along a path, rendering every camera's view of the layout,
// and runs the aggregator once per waypoint on a mock clock.
type Simulation struct {
	logger logging.Logger
	cfg    SimulationConfig
	clock  *clock.Mock

	mu    sync.Mutex
	truth spatialmath.Pose
}

func NewSimulation(logger logging.Logger, cfg SimulationConfig) (*Simulation, error) {
	if len(cfg.Path) == 0 {
		return nil, errors.New("simulation path is empty")
	}
	if len(cfg.Cameras) == 0 {
		cfg.Cameras = DefaultCameras()
	}
	if cfg.Layout == nil {
		cfg.Layout = fieldlayout.ReefscapeReefLayout()
	}
	if cfg.StepSec <= 0 {
		cfg.StepSec = defaultStepSec
	}
	if cfg.Confidence == nil {
		defaults := estimators.DefaultConfidenceConfig()
		cfg.Confidence = &defaults
	}
	if err := cfg.Confidence.Validate(); err != nil {
		return nil, err
	}
	return &Simulation{
		logger: logger,
		cfg:    cfg,
		clock:  clock.NewMock(),
	}, nil
}

func (s *Simulation) truthPose() spatialmath.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truth
}

func (s *Simulation) setTruth(p spatialmath.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truth = p
}

// Run drives the whole path and reports every accepted estimate.
func (s *Simulation) Run(ctx context.Context) (*SimulationReport, error) {
	layouts := fieldlayout.NewProvider(s.cfg.Layout)
	active := layouts.Resolve(s.cfg.Alliance)
	layoutFn := func() *fieldlayout.FieldTagLayout { return active }

	solver := estimators.NewReprojectionSolver()
	cameras := make([]fusion.Camera, 0, len(s.cfg.Cameras))
	for i, info := range s.cfg.Cameras {
		estimator, err := estimators.NewSingleCameraEstimator(s.logger, info, solver, *s.cfg.Confidence, s.cfg.HeadingWindowSec)
		if err != nil {
			return nil, err
		}
		noise := s.cfg.Noise
		noise.Seed += uint64(i)
		source, err := framesources.NewSimulatedSource(info, s.truthPose, layoutFn, s.clock, noise)
		if err != nil {
			return nil, fmt.Errorf("camera %s: %w", info.Name, err)
		}
		cameras = append(cameras, fusion.Camera{Source: source, Estimator: estimator})
	}

	report := &SimulationReport{ValidCycles: map[string]int{}}
	step := 0
	var truth utils.Pose2D
	consumer := func(pose utils.Pose2D, timestamp float64, confidence utils.ConfidenceVector) {
		report.Observations = append(report.Observations, SimulatedObservation{
			Step:       step,
			Truth:      truth,
			Estimate:   pose,
			Timestamp:  timestamp,
			Confidence: confidence,
		})
	}
	agg, err := fusion.NewAggregator(s.logger, cameras, layouts, consumer, nil, s.clock)
	if err != nil {
		return nil, err
	}

	stepDuration := time.Duration(s.cfg.StepSec * float64(time.Second))
	for i, wp := range s.cfg.Path {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step = i
		pose := wp.pose()
		truth = utils.ToPose2D(pose)
		s.setTruth(pose)

		heading := &utils.HeadingSample{Timestamp: utils.Seconds(s.clock.Now()), Yaw: truth.Theta}
		for _, r := range agg.RunCycle(ctx, heading, s.cfg.Alliance) {
			if r.Valid() {
				report.ValidCycles[r.Camera]++
			}
		}
		report.Cycles++
		s.clock.Add(stepDuration)
	}

	report.summarize()
	s.logger.Infof("Simulation done: %d cycles, %d accepted estimates, mean position error %.3fm",
		report.Cycles, len(report.Observations), report.MeanPositionErrorM)
	return report, nil
}

func (r *SimulationReport) summarize() {
	if len(r.Observations) == 0 {
		return
	}
	positions := make([]float64, len(r.Observations))
	headings := make([]float64, len(r.Observations))
	for i, o := range r.Observations {
		positions[i] = o.PositionError()
		headings[i] = utils.AngleDifference(o.Estimate.Theta, o.Truth.Theta)
		r.WorstPositionErrorM = math.Max(r.WorstPositionErrorM, positions[i])
	}
	r.MeanPositionErrorM = stat.Mean(positions, nil)
	r.MeanHeadingErrorRad = stat.Mean(headings, nil)
}

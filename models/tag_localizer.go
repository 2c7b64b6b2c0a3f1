package models

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage/transform"
	genericservice "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/rdk/spatialmath"
	rdk_utils "go.viam.com/utils"

	"taglocalizer/estimators"
	"taglocalizer/fieldlayout"
	"taglocalizer/framesources"
	"taglocalizer/fusion"
	"taglocalizer/utils"
)

var ModelTagLocalizer = resource.NewModel("viam", "tag-localizer", "tag-localizer")

const (
	defaultUpdateRateHz = 50.0
	defaultMaxRangeM    = 6.0
)

func init() {
	resource.RegisterService(genericservice.API, ModelTagLocalizer,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newTagLocalizer,
		},
	)
}

type CameraConfig struct {
	Name          string                             `json:"name"`
	CameraName    string                             `json:"camera_name"`
	VisionService string                             `json:"vision_service"`
	MinScore      float64                            `json:"min_score"`
	RobotToCamera utils.PoseConfig                   `json:"robot_to_camera"`
	Intrinsics    *transform.PinholeCameraIntrinsics `json:"intrinsics"`
	Overrides     *utils.ConfidenceOverrides         `json:"confidence_overrides,omitempty"`
}

// SimulationConfig replaces every camera's vision service with rendered detections of a
// robot at TruthPose.
type SimulationConfig struct {
	TruthPose utils.PoseConfig `json:"truth_pose"`
	framesources.SimulatedConfig
}

type Config struct {
	Cameras            []CameraConfig               `json:"cameras"`
	MovementSensorName string                       `json:"movement_sensor_name,omitempty"`
	UpdateRateHz       float64                      `json:"update_rate_hz"`
	EnableOnStart      bool                         `json:"enable_on_start"`
	Alliance           string                       `json:"alliance"`
	TagLayoutPath      string                       `json:"tag_layout_path,omitempty"`
	TagSizeMeters      float64                      `json:"tag_size_meters"`
	HeadingWindowSec   float64                      `json:"heading_window_sec"`
	Confidence         *estimators.ConfidenceConfig `json:"confidence,omitempty"`
	Simulation         *SimulationConfig            `json:"simulation,omitempty"`
}

// Validate ensures all parts of the config are valid, fills in defaults, and returns the
// vision services and movement sensor as required dependencies.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	var deps []string
	var err error

	if len(cfg.Cameras) == 0 {
		err = multierr.Append(err, resource.NewConfigValidationFieldRequiredError(path, "cameras"))
	}
	if cfg.UpdateRateHz == 0 {
		cfg.UpdateRateHz = defaultUpdateRateHz
	}
	if cfg.UpdateRateHz < 0 {
		err = multierr.Append(err, errors.New("update_rate_hz must be greater than 0"))
	}
	if cfg.TagSizeMeters == 0 {
		cfg.TagSizeMeters = estimators.DefaultTagSizeMeters
	}
	if cfg.HeadingWindowSec == 0 {
		cfg.HeadingWindowSec = estimators.DefaultHeadingWindowSec
	}
	if _, aErr := fieldlayout.ParseAlliance(cfg.Alliance); aErr != nil {
		err = multierr.Append(err, aErr)
	}
	if cfg.Confidence == nil {
		defaults := estimators.DefaultConfidenceConfig()
		cfg.Confidence = &defaults
	}
	if cErr := cfg.Confidence.Validate(); cErr != nil {
		err = multierr.Append(err, cErr)
	}
	if cfg.Simulation != nil && cfg.Simulation.MaxRangeMeters == 0 {
		cfg.Simulation.MaxRangeMeters = defaultMaxRangeM
	}

	seen := map[string]bool{}
	for i, cam := range cfg.Cameras {
		if cam.Name == "" {
			err = multierr.Append(err, resource.NewConfigValidationFieldRequiredError(path, fmt.Sprintf("cameras.%d.name", i)))
		} else if seen[cam.Name] {
			err = multierr.Append(err, fmt.Errorf("duplicate camera name %q", cam.Name))
		}
		seen[cam.Name] = true
		if iErr := utils.ValidateCameraInfo(cfg.cameraInfo(cam)); iErr != nil {
			err = multierr.Append(err, iErr)
		}
		if cfg.Simulation != nil {
			continue
		}
		if cam.VisionService == "" {
			err = multierr.Append(err, resource.NewConfigValidationFieldRequiredError(path, fmt.Sprintf("cameras.%d.vision_service", i)))
		} else {
			deps = append(deps, cam.VisionService)
		}
		if cam.CameraName == "" {
			err = multierr.Append(err, resource.NewConfigValidationFieldRequiredError(path, fmt.Sprintf("cameras.%d.camera_name", i)))
		}
	}
	if cfg.MovementSensorName != "" {
		deps = append(deps, cfg.MovementSensorName)
	}
	if err != nil {
		return nil, nil, err
	}
	return deps, nil, nil
}

func (cfg *Config) cameraInfo(cam CameraConfig) utils.CameraInfo {
	return utils.CameraInfo{
		Name:          cam.Name,
		RobotToCamera: cam.RobotToCamera.ToPose(),
		Intrinsics:    cam.Intrinsics,
		TagSizeMeters: cfg.TagSizeMeters,
		Overrides:     cam.Overrides,
	}
}

// Observation is an estimate that was handed to the consumer.
type Observation struct {
	Pose       utils.Pose2D           `json:"pose"`
	Timestamp  float64                `json:"timestamp"`
	Confidence utils.ConfidenceVector `json:"confidence"`
}

type tagLocalizer struct {
	resource.AlwaysRebuild
	name resource.Name

	logger logging.Logger
	cfg    *Config
	clock  clock.Clock

	aggregator  *fusion.Aggregator
	diagnostics *fusion.LatestSink
	heading     movementsensor.MovementSensor

	mu           sync.Mutex
	alliance     fieldlayout.Alliance
	truth        spatialmath.Pose
	observations []Observation

	cycleMu sync.Mutex
	pending []Observation

	worker *rdk_utils.StoppableWorkers
}

// Close implements resource.Resource.
func (s *tagLocalizer) Close(ctx context.Context) error {
	s.worker.Stop()
	return nil
}

func newTagLocalizer(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (resource.Resource, error) {
	conf, err := resource.NativeConfig[*Config](rawConf)
	if err != nil {
		return nil, err
	}

	return NewTagLocalizer(ctx, deps, rawConf.ResourceName(), conf, logger)
}

func NewTagLocalizer(ctx context.Context, deps resource.Dependencies, name resource.Name, conf *Config, logger logging.Logger) (resource.Resource, error) {
	s, err := newTagLocalizerWithClock(ctx, deps, name, conf, logger, clock.New())
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newTagLocalizerWithClock(
	ctx context.Context,
	deps resource.Dependencies,
	name resource.Name,
	conf *Config,
	logger logging.Logger,
	clk clock.Clock,
) (*tagLocalizer, error) {
	configJSON, _ := json.MarshalIndent(conf, "", "  ")
	logger.Debugf("Creating tag localizer with the following config:\n%s", configJSON)

	alliance, err := fieldlayout.ParseAlliance(conf.Alliance)
	if err != nil {
		return nil, err
	}
	layouts, err := loadLayouts(conf.TagLayoutPath)
	if err != nil {
		return nil, err
	}

	s := &tagLocalizer{
		name:        name,
		logger:      logger,
		cfg:         conf,
		clock:       clk,
		diagnostics: fusion.NewLatestSink(),
		alliance:    alliance,
		worker:      rdk_utils.NewBackgroundStoppableWorkers(),
	}
	if conf.Simulation != nil {
		s.truth = conf.Simulation.TruthPose.ToPose()
	}
	if conf.MovementSensorName != "" {
		s.heading, err = movementsensor.FromDependencies(deps, conf.MovementSensorName)
		if err != nil {
			return nil, fmt.Errorf("failed to get movement sensor: %w", err)
		}
	}

	confidence := estimators.DefaultConfidenceConfig()
	if conf.Confidence != nil {
		confidence = *conf.Confidence
	}
	solver := estimators.NewReprojectionSolver()
	cameras := make([]fusion.Camera, 0, len(conf.Cameras))
	for _, camConf := range conf.Cameras {
		info := conf.cameraInfo(camConf)
		estimator, err := estimators.NewSingleCameraEstimator(logger, info, solver, confidence, conf.HeadingWindowSec)
		if err != nil {
			return nil, err
		}
		source, err := s.frameSource(deps, camConf, info, layouts)
		if err != nil {
			return nil, err
		}
		cameras = append(cameras, fusion.Camera{Source: source, Estimator: estimator})
	}

	sink := fusion.MultiSink{s.diagnostics, fusion.LoggerSink{Logger: logger}}
	s.aggregator, err = fusion.NewAggregator(logger, cameras, layouts, s.accept, sink, clk)
	if err != nil {
		return nil, err
	}

	if conf.EnableOnStart {
		s.logger.Info("Starting tag localizer on start")
		s.worker.Add(s.localizationLoop)
	}
	return s, nil
}

func loadLayouts(path string) (*fieldlayout.Provider, error) {
	if path == "" {
		return fieldlayout.NewProvider(fieldlayout.ReefscapeReefLayout()), nil
	}
	blue, err := fieldlayout.LoadLayoutJSON(path)
	if err != nil {
		return nil, err
	}
	return fieldlayout.NewProvider(blue), nil
}

func (s *tagLocalizer) frameSource(
	deps resource.Dependencies,
	camConf CameraConfig,
	info utils.CameraInfo,
	layouts *fieldlayout.Provider,
) (framesources.FrameSource, error) {
	if s.cfg.Simulation != nil {
		return framesources.NewSimulatedSource(
			info,
			s.truthPose,
			func() *fieldlayout.FieldTagLayout { return layouts.Resolve(s.getAlliance()) },
			s.clock,
			s.cfg.Simulation.SimulatedConfig,
		)
	}
	detector, err := vision.FromDependencies(deps, camConf.VisionService)
	if err != nil {
		return nil, fmt.Errorf("failed to get vision service %q: %w", camConf.VisionService, err)
	}
	return framesources.NewVisionSource(detector, camConf.CameraName, camConf.MinScore, s.clock)
}

func (s *tagLocalizer) Name() resource.Name {
	return s.name
}

func (s *tagLocalizer) getAlliance() fieldlayout.Alliance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alliance
}

func (s *tagLocalizer) truthPose() spatialmath.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.truth
}

// accept is the aggregator's consumer.
func (s *tagLocalizer) accept(pose utils.Pose2D, timestamp float64, confidence utils.ConfidenceVector) {
	s.pending = append(s.pending, Observation{Pose: pose, Timestamp: timestamp, Confidence: confidence})
}

// readHeading samples the movement sensor yaw, or the truth pose in simulation.
func (s *tagLocalizer) readHeading(ctx context.Context) *utils.HeadingSample {
	now := utils.Seconds(s.clock.Now())
	if s.heading != nil {
		ori, err := s.heading.Orientation(ctx, nil)
		if err != nil {
			s.logger.Warnf("Failed to read heading: %v", err)
			return nil
		}
		yaw := utils.YawOf(spatialmath.NewPoseFromOrientation(ori))
		return &utils.HeadingSample{Timestamp: now, Yaw: yaw}
	}
	if truth := s.truthPose(); truth != nil {
		return &utils.HeadingSample{Timestamp: now, Yaw: utils.YawOf(truth)}
	}
	return nil
}

func (s *tagLocalizer) runCycle(ctx context.Context) []estimators.FusionResult {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	s.pending = nil
	results := s.aggregator.RunCycle(ctx, s.readHeading(ctx), s.getAlliance())

	s.mu.Lock()
	s.observations = s.pending
	s.mu.Unlock()
	return results
}

func (s *tagLocalizer) localizationLoop(ctx context.Context) {
	updateInterval := time.Duration(1.0 / s.cfg.UpdateRateHz * float64(time.Second))
	s.logger.Infof("Starting localization loop, update interval: %v", updateInterval)
	ticker := s.clock.Ticker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *tagLocalizer) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	s.logger.Debugf("DoCommand: %+v", cmd)
	switch cmd["command"] {
	case "set-alliance":
		raw, ok := cmd["alliance"].(string)
		if !ok {
			return nil, errors.New("alliance must be a string")
		}
		alliance, err := fieldlayout.ParseAlliance(raw)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.alliance = alliance
		s.mu.Unlock()
		return map[string]interface{}{"alliance": alliance.String()}, nil

	case "get-alliance":
		return map[string]interface{}{"alliance": s.getAlliance().String()}, nil

	case "run-cycle":
		results := s.runCycle(ctx)
		out := make([]interface{}, 0, len(results))
		for _, r := range results {
			pose := utils.ToPose2D(r.Pose)
			out = append(out, map[string]interface{}{
				"camera":    r.Camera,
				"valid":     r.Valid(),
				"strategy":  string(r.Strategy),
				"tag_count": r.TagCount(),
				"timestamp": r.Timestamp,
				"pose":      map[string]interface{}{"x": pose.X, "y": pose.Y, "theta": pose.Theta},
				"confidence": map[string]interface{}{
					"x":       r.Confidence.X,
					"y":       r.Confidence.Y,
					"heading": r.Confidence.Heading,
				},
			})
		}
		return map[string]interface{}{"results": out}, nil

	case "get-observations":
		s.mu.Lock()
		observations := s.observations
		s.mu.Unlock()
		out := make([]interface{}, 0, len(observations))
		for _, o := range observations {
			out = append(out, map[string]interface{}{
				"x":          o.Pose.X,
				"y":          o.Pose.Y,
				"theta":      o.Pose.Theta,
				"timestamp":  o.Timestamp,
				"confidence": []interface{}{o.Confidence.X, o.Confidence.Y, o.Confidence.Heading},
			})
		}
		return map[string]interface{}{"observations": out}, nil

	case "get-diagnostics":
		var records []fusion.Diagnostics
		if camera, ok := cmd["camera"].(string); ok && camera != "" {
			d, found := s.diagnostics.Latest(camera)
			if !found {
				return nil, fmt.Errorf("no diagnostics for camera %q", camera)
			}
			records = append(records, d)
		} else {
			records = s.diagnostics.All()
		}
		out := make([]interface{}, 0, len(records))
		for _, d := range records {
			out = append(out, d.ToMap())
		}
		return map[string]interface{}{"diagnostics": out}, nil

	case "set-truth-pose":
		if s.cfg.Simulation == nil {
			return nil, errors.New("set-truth-pose is only available in simulation")
		}
		x, okX := cmd["x"].(float64)
		y, okY := cmd["y"].(float64)
		yawDeg, okYaw := cmd["yaw_deg"].(float64)
		if !okX || !okY || !okYaw {
			return nil, errors.New("x, y and yaw_deg must be numbers")
		}
		s.mu.Lock()
		s.truth = utils.NewPoseFromYaw(x, y, 0, utils.DegreesToRadians(yawDeg))
		s.mu.Unlock()
		return map[string]interface{}{"status": "success"}, nil

	default:
		return nil, fmt.Errorf("invalid command: %v", cmd["command"])
	}
}

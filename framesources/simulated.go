package framesources

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r2"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/stat/distuv"

	"taglocalizer/estimators"
	"taglocalizer/fieldlayout"
	"taglocalizer/utils"
)

// SimulatedConfig tunes the synthetic detections.
type SimulatedConfig struct {
	// NoiseStdDevPx is gaussian noise added to each corner coordinate. Zero disables noise.
	NoiseStdDevPx float64 `json:"noise_std_dev_px"`
	// MaxRangeMeters drops tags farther than this from the camera. Zero means no limit.
	MaxRangeMeters float64 `json:"max_range_meters"`
	Seed           uint64  `json:"seed"`
}

// SimulatedSource renders the tags of the active layout through a pinhole camera mounted
// on a robot whose true pose comes from a supplier.
type SimulatedSource struct {
	info      utils.CameraInfo
	projector *estimators.Projector
	truth     func() spatialmath.Pose
	layout    func() *fieldlayout.FieldTagLayout
	clock     clock.Clock
	cfg       SimulatedConfig

	mu    sync.Mutex
	noise *distuv.Normal
}

func NewSimulatedSource(
	info utils.CameraInfo,
	truth func() spatialmath.Pose,
	layout func() *fieldlayout.FieldTagLayout,
	clk clock.Clock,
	cfg SimulatedConfig,
) (*SimulatedSource, error) {
	if truth == nil || layout == nil {
		return nil, errors.New("simulated source needs a truth pose and a layout supplier")
	}
	if err := utils.ValidateCameraInfo(info); err != nil {
		return nil, err
	}
	projector, err := estimators.NewProjector(info.Intrinsics)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	s := &SimulatedSource{
		info:      info,
		projector: projector,
		truth:     truth,
		layout:    layout,
		clock:     clk,
		cfg:       cfg,
	}
	if cfg.NoiseStdDevPx > 0 {
		s.noise = &distuv.Normal{Mu: 0, Sigma: cfg.NoiseStdDevPx, Src: rand.NewPCG(cfg.Seed, cfg.Seed+1)}
	}
	return s, nil
}

func (s *SimulatedSource) Frame(ctx context.Context) (utils.CameraFrame, error) {
	if err := ctx.Err(); err != nil {
		return utils.CameraFrame{}, err
	}
	frame := utils.CameraFrame{Timestamp: utils.Seconds(s.clock.Now())}
	robot := s.truth()
	layout := s.layout()
	if robot == nil || layout == nil {
		return frame, nil
	}
	camera := estimators.CameraPoseInField(robot, s.info.RobotToCamera)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range layout.IDs() {
		tagPose, _ := layout.PoseOf(id)
		// the back of a tag is blank
		if estimators.TagNormal(tagPose).Dot(camera.Point().Sub(tagPose.Point())) <= 0 {
			continue
		}
		dist := camera.Point().Distance(tagPose.Point())
		if s.cfg.MaxRangeMeters > 0 && dist > s.cfg.MaxRangeMeters {
			continue
		}
		corners, ok := estimators.ProjectTag(s.projector, robot, s.info.RobotToCamera, tagPose, s.info.TagSizeMeters)
		if !ok || !s.allInImage(corners) {
			continue
		}
		if s.noise != nil {
			for i := range corners {
				corners[i] = corners[i].Add(r2.Point{X: s.noise.Rand(), Y: s.noise.Rand()})
			}
		}
		frame.Observations = append(frame.Observations, utils.TagObservation{
			ID:        id,
			Corners:   corners,
			Ambiguity: s.ambiguity(dist),
		})
	}
	return frame, nil
}

func (s *SimulatedSource) allInImage(corners [4]r2.Point) bool {
	for _, c := range corners {
		if !s.projector.InImage(c) {
			return false
		}
	}
	return true
}

// ambiguity grows with range; the simulator never renders a second hypothesis.
func (s *SimulatedSource) ambiguity(dist float64) float64 {
	if s.cfg.MaxRangeMeters <= 0 {
		return 0
	}
	return utils.Clamp(dist/s.cfg.MaxRangeMeters, 0, 1)
}

// Package fusion drives every camera's estimator once per control cycle and forwards
// the trusted estimates. It does not merge cameras: each accepted estimate goes to the
// consumer on its own.
package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"

	"taglocalizer/estimators"
	"taglocalizer/fieldlayout"
	"taglocalizer/framesources"
	"taglocalizer/utils"
)

// Consumer receives accepted estimates, typically a pose estimator's vision update.
type Consumer func(pose utils.Pose2D, timestamp float64, confidence utils.ConfidenceVector)

// Camera pairs an estimator with the source of its frames.
type Camera struct {
	Source    framesources.FrameSource
	Estimator *estimators.SingleCameraEstimator
}

type Aggregator struct {
	logger   logging.Logger
	cameras  []Camera
	layouts  *fieldlayout.Provider
	consumer Consumer
	sink     DiagnosticsSink
	clock    clock.Clock

	// cycles are serialized; heading buffers are not safe for concurrent use
	mu     sync.Mutex
	states map[string]CameraState
}

func NewAggregator(
	logger logging.Logger,
	cameras []Camera,
	layouts *fieldlayout.Provider,
	consumer Consumer,
	sink DiagnosticsSink,
	clk clock.Clock,
) (*Aggregator, error) {
	if layouts == nil {
		return nil, errors.New("aggregator needs a tag layout provider")
	}
	seen := map[string]bool{}
	for i, cam := range cameras {
		if cam.Source == nil || cam.Estimator == nil {
			return nil, fmt.Errorf("camera %d is missing its frame source or estimator", i)
		}
		name := cam.Estimator.Info().Name
		if seen[name] {
			return nil, fmt.Errorf("duplicate camera name %q", name)
		}
		seen[name] = true
	}
	if consumer == nil {
		consumer = func(utils.Pose2D, float64, utils.ConfidenceVector) {}
	}
	if sink == nil {
		sink = LoggerSink{Logger: logger}
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{
		logger:   logger,
		cameras:  cameras,
		layouts:  layouts,
		consumer: consumer,
		sink:     sink,
		clock:    clk,
		states:   map[string]CameraState{},
	}, nil
}

// RunCycle feeds the heading to every estimator, estimates each camera's frame against
// the layout of the given alliance, forwards the finite ones to the consumer and records
// diagnostics for all of them. A nil heading leaves the heading buffers untouched.
func (a *Aggregator) RunCycle(ctx context.Context, heading *utils.HeadingSample, alliance fieldlayout.Alliance) []estimators.FusionResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	layout := a.layouts.Resolve(alliance)
	results := make([]estimators.FusionResult, 0, len(a.cameras))
	for _, cam := range a.cameras {
		if heading != nil {
			cam.Estimator.IngestHeading(heading.Timestamp, heading.Yaw)
		}
		frame, err := cam.Source.Frame(ctx)
		if err != nil {
			a.logger.Warnf("camera %s: no frame this cycle: %v", cam.Estimator.Info().Name, err)
			frame = utils.CameraFrame{Timestamp: utils.Seconds(a.clock.Now())}
		}

		result := cam.Estimator.Estimate(frame, layout)
		if result.Valid() {
			a.consumer(utils.ToPose2D(result.Pose), result.Timestamp, result.Confidence)
		}
		diag := newDiagnostics(result)
		a.states[result.Camera] = diag.State
		a.sink.Record(diag)
		results = append(results, result)
	}
	return results
}

// States returns each camera's state as of the last cycle.
func (a *Aggregator) States() map[string]CameraState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]CameraState, len(a.states))
	for k, v := range a.states {
		out[k] = v
	}
	return out
}

func (a *Aggregator) CameraNames() []string {
	names := make([]string, 0, len(a.cameras))
	for _, cam := range a.cameras {
		names = append(names, cam.Estimator.Info().Name)
	}
	return names
}

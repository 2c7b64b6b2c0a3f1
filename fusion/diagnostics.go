package fusion

import (
	"sort"
	"sync"

	"github.com/golang/geo/r2"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"

	"taglocalizer/estimators"
	"taglocalizer/utils"
)

// CameraState is decided fresh every cycle from that cycle's estimate alone.
type CameraState string

const (
	StateValid   CameraState = "VALID"
	StateInvalid CameraState = "INVALID"
)

// Diagnostics is the per camera, per cycle record handed to telemetry.
type Diagnostics struct {
	Camera      string
	Timestamp   float64
	State       CameraState
	Strategy    estimators.Strategy
	Confidence  utils.ConfidenceVector
	TagIDs      []int
	Corners     [][4]r2.Point
	Ambiguities []float64
	TagPoses    []spatialmath.Pose
	Pose        spatialmath.Pose
}

func newDiagnostics(result estimators.FusionResult) Diagnostics {
	d := Diagnostics{
		Camera:     result.Camera,
		Timestamp:  result.Timestamp,
		State:      StateInvalid,
		Strategy:   result.Strategy,
		Confidence: result.Confidence,
		Pose:       result.Pose,
	}
	if result.Valid() {
		d.State = StateValid
	}
	for _, tag := range result.Tags {
		d.TagIDs = append(d.TagIDs, tag.Observation.ID)
		d.Corners = append(d.Corners, tag.Observation.Corners)
		d.Ambiguities = append(d.Ambiguities, tag.Observation.Ambiguity)
		d.TagPoses = append(d.TagPoses, tag.FieldPose)
	}
	return d
}

// ToMap renders the record for DoCommand responses.
func (d Diagnostics) ToMap() map[string]interface{} {
	tags := make([]interface{}, 0, len(d.TagIDs))
	for i, id := range d.TagIDs {
		corners := make([]interface{}, 0, 4)
		for _, c := range d.Corners[i] {
			corners = append(corners, map[string]interface{}{"x": c.X, "y": c.Y})
		}
		tag := map[string]interface{}{
			"id":      id,
			"corners": corners,
		}
		if i < len(d.Ambiguities) {
			tag["ambiguity"] = d.Ambiguities[i]
		}
		if i < len(d.TagPoses) && d.TagPoses[i] != nil {
			tag["field_pose"] = utils.PoseToMap(d.TagPoses[i])
		}
		tags = append(tags, tag)
	}
	return map[string]interface{}{
		"camera":    d.Camera,
		"timestamp": d.Timestamp,
		"state":     string(d.State),
		"strategy":  string(d.Strategy),
		"confidence": map[string]interface{}{
			"x":       d.Confidence.X,
			"y":       d.Confidence.Y,
			"heading": d.Confidence.Heading,
		},
		"tags": tags,
		"pose": utils.PoseToMap(d.Pose),
	}
}

// DiagnosticsSink receives every camera's record every cycle, valid or not.
type DiagnosticsSink interface {
	Record(d Diagnostics)
}

// LoggerSink writes records as structured debug logs.
type LoggerSink struct {
	Logger logging.Logger
}

func (s LoggerSink) Record(d Diagnostics) {
	s.Logger.Debugw("camera diagnostics",
		"camera", d.Camera,
		"timestamp", d.Timestamp,
		"state", d.State,
		"strategy", d.Strategy,
		"tags", d.TagIDs,
		"confidence", d.Confidence.Array(),
		"pose", utils.ToPose2D(d.Pose),
	)
}

// LatestSink keeps the most recent record of each camera.
type LatestSink struct {
	mu     sync.Mutex
	latest map[string]Diagnostics
}

func NewLatestSink() *LatestSink {
	return &LatestSink{latest: map[string]Diagnostics{}}
}

func (s *LatestSink) Record(d Diagnostics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[d.Camera] = d
}

func (s *LatestSink) Latest(camera string) (Diagnostics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.latest[camera]
	return d, ok
}

// All returns the latest record of every camera ordered by camera name.
func (s *LatestSink) All() []Diagnostics {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Diagnostics, 0, len(s.latest))
	for _, d := range s.latest {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Camera < out[j].Camera })
	return out
}

// MultiSink fans a record out to several sinks.
type MultiSink []DiagnosticsSink

func (m MultiSink) Record(d Diagnostics) {
	for _, s := range m {
		s.Record(d)
	}
}

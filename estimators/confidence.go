package estimators

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
	"go.uber.org/multierr"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/stat"

	"taglocalizer/utils"
)

// ConfidenceConfig holds the distance heuristic that turns a pose into standard deviations.
type ConfidenceConfig struct {
	MultiTagStdDevs      [3]float64 `json:"multi_tag_std_devs"`
	SingleTagStdDevs     [3]float64 `json:"single_tag_std_devs"`
	RejectDistance       float64    `json:"reject_distance"`
	DistanceScaleDivisor float64    `json:"distance_scale_divisor"`
}

func DefaultConfidenceConfig() ConfidenceConfig {
	return ConfidenceConfig{
		MultiTagStdDevs:      [3]float64{0.5, 0.5, 1.0},
		SingleTagStdDevs:     [3]float64{4, 4, 8},
		RejectDistance:       4.0,
		DistanceScaleDivisor: 30,
	}
}

// WithOverrides returns a copy with every non-nil override applied.
func (c ConfidenceConfig) WithOverrides(o *utils.ConfidenceOverrides) ConfidenceConfig {
	if o == nil {
		return c
	}
	if o.MultiTagStdDevs != nil {
		c.MultiTagStdDevs = *o.MultiTagStdDevs
	}
	if o.SingleTagStdDevs != nil {
		c.SingleTagStdDevs = *o.SingleTagStdDevs
	}
	if o.RejectDistance != nil {
		c.RejectDistance = *o.RejectDistance
	}
	if o.DistanceScaleDivisor != nil {
		c.DistanceScaleDivisor = *o.DistanceScaleDivisor
	}
	return c
}

func (c ConfidenceConfig) Validate() error {
	var err error
	err = multierr.Append(err, utils.ValidateStdDevs("multi_tag_std_devs", c.MultiTagStdDevs))
	err = multierr.Append(err, utils.ValidateStdDevs("single_tag_std_devs", c.SingleTagStdDevs))
	if c.RejectDistance <= 0 {
		err = multierr.Append(err, fmt.Errorf("reject_distance must be positive, got %v", c.RejectDistance))
	}
	if c.DistanceScaleDivisor <= 0 {
		err = multierr.Append(err, errors.New("distance_scale_divisor must be positive"))
	}
	return err
}

// AverageTagDistance is the mean planar distance from the pose to each tag position.
func AverageTagDistance(pose spatialmath.Pose, tagPositions []r3.Vector) float64 {
	if len(tagPositions) == 0 {
		return 0
	}
	distances := make([]float64, len(tagPositions))
	for i, p := range tagPositions {
		distances[i] = utils.PlanarDistance(pose.Point(), p)
	}
	return stat.Mean(distances, nil)
}

// Compute applies the heuristic. Zero tags, or one tag farther than RejectDistance,
// yields MaxConfidence.
func (c ConfidenceConfig) Compute(pose spatialmath.Pose, tagPositions []r3.Vector) utils.ConfidenceVector {
	n := len(tagPositions)
	if n == 0 || pose == nil {
		return utils.MaxConfidence()
	}
	avgDist := AverageTagDistance(pose, tagPositions)

	base := utils.NewConfidenceVector(c.SingleTagStdDevs)
	if n > 1 {
		base = utils.NewConfidenceVector(c.MultiTagStdDevs)
	} else if avgDist > c.RejectDistance {
		return utils.MaxConfidence()
	}
	return base.Scale(1 + avgDist*avgDist/c.DistanceScaleDivisor)
}

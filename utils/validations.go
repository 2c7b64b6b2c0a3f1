package utils

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/multierr"
)

// ValidateStdDevs checks a [x, y, heading] confidence triple.
func ValidateStdDevs(field string, v [3]float64) error {
	for i, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%s[%d] must be a valid number", field, i)
		}
		if c < 0 {
			return fmt.Errorf("%s[%d] must be greater than or equal to 0", field, i)
		}
	}
	return nil
}

// ValidateOverrides checks the optional per-camera confidence settings.
func ValidateOverrides(o *ConfidenceOverrides) error {
	if o == nil {
		return nil
	}
	var err error
	if o.MultiTagStdDevs != nil {
		err = multierr.Append(err, ValidateStdDevs("multi_tag_std_devs", *o.MultiTagStdDevs))
	}
	if o.SingleTagStdDevs != nil {
		err = multierr.Append(err, ValidateStdDevs("single_tag_std_devs", *o.SingleTagStdDevs))
	}
	if o.RejectDistance != nil && *o.RejectDistance <= 0 {
		err = multierr.Append(err, errors.New("reject_distance must be greater than 0"))
	}
	if o.DistanceScaleDivisor != nil && *o.DistanceScaleDivisor <= 0 {
		err = multierr.Append(err, errors.New("distance_scale_divisor must be greater than 0"))
	}
	return err
}

// ValidateCameraInfo reports every problem with a camera description at once.
func ValidateCameraInfo(info CameraInfo) error {
	var err error
	if info.Name == "" {
		err = multierr.Append(err, errors.New("camera name is required"))
	}
	if info.RobotToCamera == nil {
		err = multierr.Append(err, fmt.Errorf("camera %q: robot to camera transform is required", info.Name))
	}
	if cErr := info.Intrinsics.CheckValid(); cErr != nil {
		err = multierr.Append(err, fmt.Errorf("camera %q: %w", info.Name, cErr))
	}
	if info.TagSizeMeters <= 0 {
		err = multierr.Append(err, fmt.Errorf("camera %q: tag size must be greater than 0", info.Name))
	}
	if oErr := ValidateOverrides(info.Overrides); oErr != nil {
		err = multierr.Append(err, fmt.Errorf("camera %q: %w", info.Name, oErr))
	}
	return err
}

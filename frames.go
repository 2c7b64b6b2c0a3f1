package taglocalizer

import (
	"context"
	"fmt"

	"github.com/erh/vmodutils/touch"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/spatialmath"
)

// CameraMounts looks up each camera in the machine's frame system and returns its pose
// in baseFrame, i.e. the robot to camera transform, in meters to match robot_to_camera
// in the localizer config. Cameras without a frame are skipped with a warning.
func CameraMounts(
	ctx context.Context,
	machine robot.Robot,
	baseFrame string,
	cameraNames []string,
	logger logging.Logger,
) (map[string]spatialmath.Pose, error) {
	fsc, err := machine.FrameSystemConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get frame system config: %w", err)
	}

	mounts := make(map[string]spatialmath.Pose, len(cameraNames))
	for _, name := range cameraNames {
		part := touch.FindPart(fsc, name)
		if part == nil {
			logger.Warnf("can't find frame for %v", name)
			continue
		}
		pif, err := machine.GetPose(ctx, part.FrameConfig.Name(), baseFrame, []*referenceframe.LinkInFrame{}, map[string]interface{}{})
		if err != nil {
			return nil, fmt.Errorf("failed to get pose of %s in %s: %w", name, baseFrame, err)
		}
		logger.Debugf("Camera %s mounted at %v in %s", name, pif.Pose(), baseFrame)
		mounts[name] = metersFromFrameSystem(pif.Pose())
	}
	return mounts, nil
}

// the frame system works in millimeters
func metersFromFrameSystem(p spatialmath.Pose) spatialmath.Pose {
	return spatialmath.NewPose(p.Point().Mul(0.001), p.Orientation())
}

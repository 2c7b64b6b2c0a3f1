// Package framesources supplies per-cycle tag detections to the localizer, from either a
// simulated camera or a vision service on real hardware.
package framesources

import (
	"context"

	"taglocalizer/utils"
)

// FrameSource produces the latest detections of one camera. An error means no frame
// this cycle.
type FrameSource interface {
	Frame(ctx context.Context) (utils.CameraFrame, error)
}

// FuncSource adapts a function to a FrameSource.
type FuncSource func(ctx context.Context) (utils.CameraFrame, error)

func (f FuncSource) Frame(ctx context.Context) (utils.CameraFrame, error) {
	return f(ctx)
}

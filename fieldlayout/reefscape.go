package fieldlayout

import (
	"taglocalizer/utils"
)

const (
	ReefscapeFieldLength = 17.548
	ReefscapeFieldWidth  = 8.052

	reefTagHeight = 0.308
)

// reef tags of the 2025 welded field, blue origin: id, x, y, yaw in degrees
var reefTags = []struct {
	id     int
	x, y   float64
	yawDeg float64
}{
	{6, 13.474, 3.306, 300},
	{7, 13.890, 4.026, 0},
	{8, 13.474, 4.745, 60},
	{9, 12.643, 4.745, 120},
	{10, 12.227, 4.026, 180},
	{11, 12.643, 3.306, 240},
	{17, 4.074, 3.306, 240},
	{18, 3.658, 4.026, 180},
	{19, 4.074, 4.745, 120},
	{20, 4.905, 4.745, 60},
	{21, 5.321, 4.026, 0},
	{22, 4.905, 3.306, 300},
}

// ReefscapeReefLayout is the default layout: only the reef tags, blue origin.
func ReefscapeReefLayout() *FieldTagLayout {
	tags := make([]TagPose, 0, len(reefTags))
	for _, t := range reefTags {
		tags = append(tags, TagPose{
			ID:   t.id,
			Pose: utils.NewPoseFromYaw(t.x, t.y, reefTagHeight, utils.DegreesToRadians(t.yawDeg)),
		})
	}
	layout, err := NewFieldTagLayout("reefscape-reef", ReefscapeFieldLength, ReefscapeFieldWidth, tags)
	if err != nil {
		// static table, cannot fail
		panic(err)
	}
	return layout
}

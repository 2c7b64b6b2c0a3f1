// Package fieldlayout holds the known poses of the fiducial tags on the field and
// resolves which alliance-relative variant is active.
package fieldlayout

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// TagPose is the known field pose of one tag. The tag's +X axis points out of its face.
type TagPose struct {
	ID   int
	Pose spatialmath.Pose
}

// FieldTagLayout maps tag ids to field poses. It is never mutated after construction.
type FieldTagLayout struct {
	name        string
	fieldLength float64
	fieldWidth  float64
	tags        map[int]spatialmath.Pose
}

func NewFieldTagLayout(name string, fieldLength, fieldWidth float64, tags []TagPose) (*FieldTagLayout, error) {
	if fieldLength <= 0 || fieldWidth <= 0 {
		return nil, fmt.Errorf("layout %q: field dimensions must be greater than 0, got %.3f x %.3f", name, fieldLength, fieldWidth)
	}
	byID := make(map[int]spatialmath.Pose, len(tags))
	for _, tag := range tags {
		if tag.Pose == nil {
			return nil, fmt.Errorf("layout %q: tag %d has no pose", name, tag.ID)
		}
		if _, ok := byID[tag.ID]; ok {
			return nil, fmt.Errorf("layout %q: duplicate tag id %d", name, tag.ID)
		}
		byID[tag.ID] = tag.Pose
	}
	return &FieldTagLayout{
		name:        name,
		fieldLength: fieldLength,
		fieldWidth:  fieldWidth,
		tags:        byID,
	}, nil
}

// PoseOf returns the field pose of a tag. Unknown ids report false, they are not an error.
func (l *FieldTagLayout) PoseOf(id int) (spatialmath.Pose, bool) {
	if l == nil {
		return nil, false
	}
	pose, ok := l.tags[id]
	return pose, ok
}

// IDs returns the known tag ids in ascending order.
func (l *FieldTagLayout) IDs() []int {
	if l == nil {
		return nil
	}
	ids := make([]int, 0, len(l.tags))
	for id := range l.tags {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (l *FieldTagLayout) Name() string {
	return l.name
}

func (l *FieldTagLayout) FieldLength() float64 {
	return l.fieldLength
}

func (l *FieldTagLayout) FieldWidth() float64 {
	return l.fieldWidth
}

// Mirrored returns the same tags expressed from the opposite alliance wall: every pose is
// rotated 180 degrees about the vertical axis through the field centre.
func (l *FieldTagLayout) Mirrored(name string) *FieldTagLayout {
	flip := spatialmath.NewPose(
		r3.Vector{X: l.fieldLength, Y: l.fieldWidth},
		&spatialmath.EulerAngles{Yaw: math.Pi},
	)
	tags := make(map[int]spatialmath.Pose, len(l.tags))
	for id, pose := range l.tags {
		tags[id] = spatialmath.Compose(flip, pose)
	}
	return &FieldTagLayout{
		name:        name,
		fieldLength: l.fieldLength,
		fieldWidth:  l.fieldWidth,
		tags:        tags,
	}
}

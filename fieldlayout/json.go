package fieldlayout

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// layoutFile is the WPILib AprilTag field layout JSON format.
type layoutFile struct {
	Tags []struct {
		ID   int `json:"ID"`
		Pose struct {
			Translation struct {
				X float64 `json:"x"`
				Y float64 `json:"y"`
				Z float64 `json:"z"`
			} `json:"translation"`
			Rotation struct {
				Quaternion struct {
					W float64 `json:"W"` // Real component
					X float64 `json:"X"` // Imag
					Y float64 `json:"Y"` // Jmag
					Z float64 `json:"Z"` // Kmag
				} `json:"quaternion"`
			} `json:"rotation"`
		} `json:"pose"`
	} `json:"tags"`
	Field struct {
		Length float64 `json:"length"`
		Width  float64 `json:"width"`
	} `json:"field"`
}

// ParseLayoutJSON builds a layout from WPILib field layout JSON.
func ParseLayoutJSON(name string, data []byte) (*FieldTagLayout, error) {
	var raw layoutFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error parsing tag layout %q: %w", name, err)
	}
	tags := make([]TagPose, 0, len(raw.Tags))
	for _, t := range raw.Tags {
		q := t.Pose.Rotation.Quaternion
		if q.W == 0 && q.X == 0 && q.Y == 0 && q.Z == 0 {
			return nil, fmt.Errorf("tag layout %q: tag %d has a zero quaternion", name, t.ID)
		}
		tags = append(tags, TagPose{
			ID: t.ID,
			Pose: spatialmath.NewPose(
				r3.Vector{X: t.Pose.Translation.X, Y: t.Pose.Translation.Y, Z: t.Pose.Translation.Z},
				&spatialmath.Quaternion{Real: q.W, Imag: q.X, Jmag: q.Y, Kmag: q.Z},
			),
		})
	}
	return NewFieldTagLayout(name, raw.Field.Length, raw.Field.Width, tags)
}

// LoadLayoutJSON reads a WPILib field layout JSON file.
func LoadLayoutJSON(path string) (*FieldTagLayout, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error opening tag layout file: %w", err)
	}
	return ParseLayoutJSON(path, data)
}

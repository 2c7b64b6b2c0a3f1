package models

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"go.viam.com/rdk/components/camera"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/rimage"
	genericservice "go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/spatialmath"
)

var TagOverlayCamera = resource.NewModel("viam", "tag-localizer", "tag-overlay")

func init() {
	resource.RegisterComponent(camera.API, TagOverlayCamera,
		resource.Registration[camera.Camera, *TagOverlayConfig]{
			Constructor: newTagOverlayCamera,
		},
	)
}

type TagOverlayConfig struct {
	CameraName      string `json:"camera_name"`
	LocalizerName   string `json:"localizer_name"`
	LocalizerCamera string `json:"localizer_camera"` // camera name inside the localizer config
	LineThick       int    `json:"line_thick"`
	ValidColor      string `json:"valid_color"`
	InvalidColor    string `json:"invalid_color"`
}

// Validate ensures all parts of the config are valid and important fields exist.
// Returns implicit dependencies based on the config.
func (cfg *TagOverlayConfig) Validate(path string) ([]string, []string, error) {
	if cfg.CameraName == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "camera_name")
	}
	if cfg.LocalizerName == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "localizer_name")
	}
	if cfg.LocalizerCamera == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "localizer_camera")
	}
	if cfg.LineThick == 0 {
		cfg.LineThick = 3
	}
	if cfg.ValidColor == "" {
		cfg.ValidColor = "green"
	}
	if cfg.InvalidColor == "" {
		cfg.InvalidColor = "red"
	}
	return []string{cfg.CameraName, cfg.LocalizerName}, nil, nil
}

// tagOutline is one tag as drawn on the image.
type tagOutline struct {
	ID      int
	Corners [4]image.Point
}

type tagOverlayCamera struct {
	resource.AlwaysRebuild
	name          resource.Name
	logger        logging.Logger
	cfg           *TagOverlayConfig
	underlyingCam camera.Camera
	localizer     resource.Resource
	validColor    color.Color
	invalidColor  color.Color
}

func newTagOverlayCamera(ctx context.Context, deps resource.Dependencies, rawConf resource.Config, logger logging.Logger) (camera.Camera, error) {
	conf, err := resource.NativeConfig[*TagOverlayConfig](rawConf)
	if err != nil {
		return nil, err
	}

	cam, err := camera.FromDependencies(deps, conf.CameraName)
	if err != nil {
		return nil, err
	}
	localizer, err := resource.FromDependencies[resource.Resource](deps, genericservice.Named(conf.LocalizerName))
	if err != nil {
		return nil, fmt.Errorf("failed to get tag localizer %q: %w", conf.LocalizerName, err)
	}

	return &tagOverlayCamera{
		name:          rawConf.ResourceName(),
		logger:        logger,
		cfg:           conf,
		underlyingCam: cam,
		localizer:     localizer,
		validColor:    parseColor(conf.ValidColor),
		invalidColor:  parseColor(conf.InvalidColor),
	}, nil
}

func (s *tagOverlayCamera) Name() resource.Name {
	return s.name
}

func (s *tagOverlayCamera) Close(context.Context) error {
	return nil
}

func (s *tagOverlayCamera) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return nil, nil
}

// latestOutlines asks the localizer for this camera's last diagnostics.
func (s *tagOverlayCamera) latestOutlines(ctx context.Context) ([]tagOutline, bool, error) {
	resp, err := s.localizer.DoCommand(ctx, map[string]interface{}{
		"command": "get-diagnostics",
		"camera":  s.cfg.LocalizerCamera,
	})
	if err != nil {
		return nil, false, err
	}
	records, ok := resp["diagnostics"].([]interface{})
	if !ok || len(records) == 0 {
		return nil, false, errors.New("no diagnostics in response")
	}
	record, ok := records[0].(map[string]interface{})
	if !ok {
		return nil, false, errors.New("diagnostics record is not a map")
	}
	return parseOutlines(record)
}

func parseOutlines(record map[string]interface{}) ([]tagOutline, bool, error) {
	valid := record["state"] == "VALID"
	tags, ok := record["tags"].([]interface{})
	if !ok {
		return nil, valid, nil
	}
	outlines := make([]tagOutline, 0, len(tags))
	for i, raw := range tags {
		tag, ok := raw.(map[string]interface{})
		if !ok {
			return nil, false, fmt.Errorf("tag %d is not a map", i)
		}
		corners, ok := tag["corners"].([]interface{})
		if !ok || len(corners) != 4 {
			return nil, false, fmt.Errorf("tag %d must have 4 corners", i)
		}
		outline := tagOutline{ID: int(toFloat(tag["id"]))}
		for j, c := range corners {
			corner, ok := c.(map[string]interface{})
			if !ok {
				return nil, false, fmt.Errorf("tag %d corner %d is not a map", i, j)
			}
			outline.Corners[j] = image.Point{
				X: int(math.Round(toFloat(corner["x"]))),
				Y: int(math.Round(toFloat(corner["y"]))),
			}
		}
		outlines = append(outlines, outline)
	}
	return outlines, valid, nil
}

// toFloat reads a number that may have come through protobuf as float64 or locally as int.
func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return math.NaN()
	}
}

func (s *tagOverlayCamera) drawOverlay(ctx context.Context, img image.Image) image.Image {
	outlines, valid, err := s.latestOutlines(ctx)
	if err != nil {
		s.logger.Debugf("No tag outlines to draw: %v", err)
		return img
	}
	c := s.invalidColor
	if valid {
		c = s.validColor
	}
	return drawOutlines(img, outlines, c, s.cfg.LineThick)
}

// drawOutlines draws each tag's quadrilateral and marks its bottom-left corner.
func drawOutlines(img image.Image, outlines []tagOutline, c color.Color, thick int) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetColor(c)
	dc.SetLineWidth(float64(thick))
	for _, o := range outlines {
		dc.MoveTo(float64(o.Corners[0].X), float64(o.Corners[0].Y))
		for _, p := range o.Corners[1:] {
			dc.LineTo(float64(p.X), float64(p.Y))
		}
		dc.ClosePath()
		dc.Stroke()

		bl := o.Corners[0]
		dc.DrawCircle(float64(bl.X), float64(bl.Y), float64(thick))
		dc.Fill()
	}
	return dc.Image()
}

// parseColor converts color string to color.Color
func parseColor(colorName string) color.Color {
	switch colorName {
	case "red":
		return color.RGBA{R: 255, G: 0, B: 0, A: 255}
	case "green":
		return color.RGBA{R: 0, G: 255, B: 0, A: 255}
	case "blue":
		return color.RGBA{R: 0, G: 0, B: 255, A: 255}
	case "white":
		return color.RGBA{R: 255, G: 255, B: 255, A: 255}
	case "yellow":
		return color.RGBA{R: 255, G: 255, B: 0, A: 255}
	case "magenta":
		return color.RGBA{R: 255, G: 0, B: 255, A: 255}
	default:
		return color.RGBA{R: 255, G: 0, B: 0, A: 255}
	}
}

func (s *tagOverlayCamera) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	return nil, nil
}

func (s *tagOverlayCamera) Image(ctx context.Context, mimeType string, extra map[string]interface{}) ([]byte, camera.ImageMetadata, error) {
	imgs, _, err := s.Images(ctx, nil, extra)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	if len(imgs) == 0 {
		return nil, camera.ImageMetadata{}, errors.New("no images returned from underlying camera")
	}
	img, err := imgs[0].Image(ctx)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	if mimeType == "" {
		mimeType = imgs[0].MimeType()
	}
	data, err := rimage.EncodeImage(ctx, img, mimeType)
	if err != nil {
		return nil, camera.ImageMetadata{}, err
	}
	return data, camera.ImageMetadata{MimeType: mimeType}, nil
}

func (s *tagOverlayCamera) Images(ctx context.Context, filterSourceNames []string, extra map[string]interface{}) ([]camera.NamedImage, resource.ResponseMetadata, error) {
	imgs, meta, err := s.underlyingCam.Images(ctx, filterSourceNames, extra)
	if err != nil {
		return nil, resource.ResponseMetadata{}, err
	}

	resultImgs := make([]camera.NamedImage, len(imgs))
	for i, namedImg := range imgs {
		img, err := namedImg.Image(ctx)
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}

		resultImg, err := camera.NamedImageFromImage(s.drawOverlay(ctx, img), namedImg.SourceName, namedImg.MimeType())
		if err != nil {
			return nil, resource.ResponseMetadata{}, err
		}
		resultImgs[i] = resultImg
	}

	return resultImgs, meta, nil
}

func (s *tagOverlayCamera) NextPointCloud(ctx context.Context, extra map[string]interface{}) (pointcloud.PointCloud, error) {
	return nil, errors.New("next point cloud not implemented")
}

func (s *tagOverlayCamera) Properties(ctx context.Context) (camera.Properties, error) {
	return s.underlyingCam.Properties(ctx)
}

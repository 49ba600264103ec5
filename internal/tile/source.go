package tile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/rand/v2"
	"strconv"
	"strings"
)

// ErrLowMemory is returned by a decoder when there is not enough memory
// headroom to materialize a tile.
var ErrLowMemory = errors.New("low memory")

// Source describes where tiles come from and how their bytes are decoded.
type Source interface {
	Name() string
	MinZoom() int
	MaxZoom() int
	TileSizePixels() int
	URL(k Key) string
	RelativePath(k Key) string
	Decode(data []byte) (image.Image, error)
}

type XYOption func(*XYSource)

// WithLowMemoryCheck makes Decode fail with ErrLowMemory while check reports true.
func WithLowMemoryCheck(check func() bool) XYOption {
	return func(s *XYSource) {
		s.lowMemory = check
	}
}

// XYSource is a slippy-map source addressed as <base>/<z>/<x>/<y><ending>.
// A base URL containing {z}, {x} and {y} placeholders is used as a template
// instead.
type XYSource struct {
	name      string
	minZoom   int
	maxZoom   int
	tileSize  int
	ending    string
	baseURLs  []string
	lowMemory func() bool
}

var _ Source = (*XYSource)(nil)

func NewXYSource(name string, minZoom, maxZoom, tileSize int, ending string, baseURLs []string, opts ...XYOption) (*XYSource, error) {
	if name == "" {
		return nil, errors.New("tile source name is empty")
	}
	if len(baseURLs) == 0 {
		return nil, fmt.Errorf("tile source %q has no base urls", name)
	}
	if minZoom < 0 || maxZoom < minZoom {
		return nil, fmt.Errorf("tile source %q has invalid zoom range [%d, %d]", name, minZoom, maxZoom)
	}

	s := &XYSource{
		name:     name,
		minZoom:  minZoom,
		maxZoom:  maxZoom,
		tileSize: tileSize,
		ending:   ending,
		baseURLs: baseURLs,
	}
	for _, o := range opts {
		o(s)
	}

	return s, nil
}

func (s *XYSource) Name() string        { return s.name }
func (s *XYSource) MinZoom() int        { return s.minZoom }
func (s *XYSource) MaxZoom() int        { return s.maxZoom }
func (s *XYSource) TileSizePixels() int { return s.tileSize }

// URL picks one of the mirrors at random.
func (s *XYSource) URL(k Key) string {
	base := s.baseURLs[0]
	if len(s.baseURLs) > 1 {
		base = s.baseURLs[rand.IntN(len(s.baseURLs))]
	}

	if strings.Contains(base, "{z}") {
		return strings.NewReplacer(
			"{z}", strconv.Itoa(k.Zoom),
			"{x}", strconv.Itoa(k.X),
			"{y}", strconv.Itoa(k.Y),
		).Replace(base)
	}

	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return fmt.Sprintf("%s%d/%d/%d%s", base, k.Zoom, k.X, k.Y, s.ending)
}

// RelativePath is <name>/<z>/<x>/<y> without the ending.
func (s *XYSource) RelativePath(k Key) string {
	return fmt.Sprintf("%s/%d/%d/%d", s.name, k.Zoom, k.X, k.Y)
}

func (s *XYSource) Decode(data []byte) (image.Image, error) {
	if s.lowMemory != nil && s.lowMemory() {
		return nil, ErrLowMemory
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	return img, nil
}

package tile

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewXYSource_Validation(t *testing.T) {
	_, err := NewXYSource("", 0, 19, 256, ".png", []string{"http://a"})
	assert.Error(t, err)

	_, err = NewXYSource("osm", 0, 19, 256, ".png", nil)
	assert.Error(t, err)

	_, err = NewXYSource("osm", 5, 2, 256, ".png", []string{"http://a"})
	assert.Error(t, err)
}

func TestXYSource_URL(t *testing.T) {
	s, err := NewXYSource("osm", 0, 19, 256, ".png", []string{"https://tile.openstreetmap.org"})
	require.NoError(t, err)

	k := NewKey("osm", 3, 1, 2)
	assert.Equal(t, "https://tile.openstreetmap.org/3/1/2.png", s.URL(k))
	assert.Equal(t, "osm/3/1/2", s.RelativePath(k))
	assert.Equal(t, 256, s.TileSizePixels())
}

func TestXYSource_URLTemplate(t *testing.T) {
	s, err := NewXYSource("osm", 0, 19, 256, "", []string{"https://example.com/{z}/{x}/{y}@2x.png"})
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/3/1/2@2x.png", s.URL(NewKey("osm", 3, 1, 2)))
}

func TestXYSource_URLUsesEveryMirror(t *testing.T) {
	mirrors := []string{"https://a.example.com/", "https://b.example.com/"}
	s, err := NewXYSource("osm", 0, 19, 256, ".png", mirrors)
	require.NoError(t, err)

	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[s.URL(NewKey("osm", 1, 0, 0))] = true
	}
	assert.Len(t, seen, 2)
}

func TestXYSource_Decode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	low := false
	s, err := NewXYSource("osm", 0, 19, 256, ".png", []string{"http://a"}, WithLowMemoryCheck(func() bool { return low }))
	require.NoError(t, err)

	decoded, err := s.Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2, 2), decoded.Bounds())

	_, err = s.Decode([]byte("garbage"))
	assert.Error(t, err)

	low = true
	_, err = s.Decode(buf.Bytes())
	assert.ErrorIs(t, err, ErrLowMemory)
}

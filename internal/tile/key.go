package tile

import "fmt"

// Key identifies one tile of one source. It is comparable and is used as a
// map key for queueing and as the basis of the on-disk path.
type Key struct {
	Source string
	Zoom   int
	X      int
	Y      int
}

func NewKey(source string, zoom, x, y int) Key {
	return Key{
		Source: source,
		Zoom:   zoom,
		X:      x,
		Y:      y,
	}
}

// Valid reports whether x and y fall inside the 2^zoom grid.
func (k Key) Valid() bool {
	if k.Zoom < 0 || k.Zoom > 30 || k.X < 0 || k.Y < 0 {
		return false
	}
	n := 1 << k.Zoom
	return k.X < n && k.Y < n
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", k.Source, k.Zoom, k.X, k.Y)
}

// Package geo converts track-relative positions into route coordinates and
// geographic coordinates.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Route coordinates are EPSG:3857 metres. Snapshots also carry EPSG:4326
// longitude and latitude.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// LineFromPoints builds a shape from [x, y] pairs.
func LineFromPoints(points [][2]float64) (geom.LineString, error) {
	if len(points) < 2 {
		return geom.LineString{}, fmt.Errorf("polyline must have at least 2 points, got %d", len(points))
	}
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p[0], p[1])
	}
	seq := geom.NewSequence(flat, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// PointAlong returns the point at offset metres along a node of the given
// length whose geometry is ls. The offset is scaled to the drawn length of
// the shape. It reports false for an empty shape.
func PointAlong(ls geom.LineString, offset, length float64) (mgl64.Vec2, bool) {
	seq := ls.Coordinates()
	n := seq.Length()
	if n == 0 || length <= 0 {
		return mgl64.Vec2{}, false
	}
	pts := make([]mgl64.Vec2, n)
	drawn := 0.0
	for i := 0; i < n; i++ {
		xy := seq.GetXY(i)
		pts[i] = mgl64.Vec2{xy.X, xy.Y}
		if i > 0 {
			drawn += pts[i].Sub(pts[i-1]).Len()
		}
	}
	if n == 1 || drawn == 0 {
		return pts[0], true
	}

	want := mgl64.Clamp(offset/length, 0, 1) * drawn
	for i := 1; i < n; i++ {
		seg := pts[i].Sub(pts[i-1])
		l := seg.Len()
		if want <= l {
			if l == 0 {
				return pts[i], true
			}
			return pts[i-1].Add(seg.Mul(want / l)), true
		}
		want -= l
	}
	return pts[n-1], true
}

// Heading returns the bearing of the shape at the point nearest offset, in
// radians anticlockwise from the x axis.
func Heading(ls geom.LineString, offset, length float64) float64 {
	const step = 0.5
	a, ok := PointAlong(ls, offset-step, length)
	if !ok {
		return 0
	}
	b, _ := PointAlong(ls, offset+step, length)
	d := b.Sub(a)
	if d.Len() == 0 {
		return 0
	}
	return math.Atan2(d.Y(), d.X())
}

// ToLonLat converts EPSG:3857 metres to EPSG:4326 degrees.
func ToLonLat(x, y float64) (lon, lat float64) {
	f := wgs84.EPSG().Transform(3857, 4326)
	lon, lat, _ = f(x, y, 0)
	return lon, lat
}

// Coords3857From4326 creates a route point from a longitude and latitude
func Coords3857From4326(
	longitude float64,
	latitude float64,
) (
	point geom.Point,
	err error,
) {
	if longitude < -180 || longitude > 180 || latitude < -90 || latitude > 90 {
		return geom.NewEmptyPoint(geom.DimXY), ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x, y, _ := f(longitude, latitude, 0)
	point = geom.NewPoint(
		geom.Coordinates{
			XY: geom.XY{X: x, Y: y},
		},
	)
	return point, nil
}

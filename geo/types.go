package geo

import "fmt"

// Level is the administrative level of a boundary. Higher values are more
// specific regions.
type Level uint8

const (
	LevelCountry Level = iota
	LevelProvince
	LevelCity
	LevelDistrict
)

// String returns the name of the level.
func (l Level) String() string {
	switch l {
	case LevelCountry:
		return "country"
	case LevelProvince:
		return "province"
	case LevelCity:
		return "city"
	case LevelDistrict:
		return "district"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Coordinate is a WGS84 GPS position.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether the coordinate lies inside the WGS84 ranges.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// sentinel reports whether the coordinate is a known placeholder written by
// cameras without a GPS fix. Null Island (0,0) and the north pole variant
// (90,0) both mean "no location".
func (c Coordinate) sentinel() bool {
	return (c.Lat == 0 && c.Lon == 0) || (c.Lat == 90 && c.Lon == 0)
}

// LocationTag is the resolved place name hierarchy for a coordinate.
type LocationTag struct {
	Country  string `json:"country"`
	Province string `json:"province"`
	City     string `json:"city"`
	District string `json:"district,omitempty"`
}

// String formats the tag the way it is shown to users.
func (t LocationTag) String() string {
	return fmt.Sprintf("%s, %s, %s", t.City, t.Province, t.Country)
}

// Vertex is one corner of a boundary polygon.
type Vertex struct {
	Lat float64
	Lon float64
}

// Boundary is a named administrative region with a closed polygon. The last
// vertex implicitly connects back to the first. Boundaries are immutable once
// loaded.
type Boundary struct {
	Level      Level
	Name       string
	ParentName string
	Vertices   []Vertex
	Tag        LocationTag
}

// boundingBox is the axis-aligned prefilter for one polygon.
type boundingBox struct {
	minLat, maxLat float64
	minLon, maxLon float64
}

func (b boundingBox) contains(c Coordinate) bool {
	return c.Lat >= b.minLat && c.Lat <= b.maxLat && c.Lon >= b.minLon && c.Lon <= b.maxLon
}

func computeBoundingBox(vertices []Vertex) boundingBox {
	bb := boundingBox{
		minLat: vertices[0].Lat, maxLat: vertices[0].Lat,
		minLon: vertices[0].Lon, maxLon: vertices[0].Lon,
	}
	for _, v := range vertices[1:] {
		bb.minLat = min(bb.minLat, v.Lat)
		bb.maxLat = max(bb.maxLat, v.Lat)
		bb.minLon = min(bb.minLon, v.Lon)
		bb.maxLon = max(bb.maxLon, v.Lon)
	}
	return bb
}

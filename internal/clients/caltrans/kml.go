package caltrans

// KML elements read from the Caltrans feeds. Only the fields the parser
// uses are mapped.

// Placemark is a single feature in a feed
type Placemark struct {
	Name          string         `xml:"name"`
	Description   string         `xml:"description"`
	StyleURL      string         `xml:"styleUrl"`
	Point         *Point         `xml:"Point"`
	LineString    *LineString    `xml:"LineString"`
	Polygon       *Polygon       `xml:"Polygon"`
	MultiGeometry *MultiGeometry `xml:"MultiGeometry"`
}

type Point struct {
	Coordinates string `xml:"coordinates"`
}

type LineString struct {
	Coordinates string `xml:"coordinates"`
}

type LinearRing struct {
	Coordinates string `xml:"coordinates"`
}

type Boundary struct {
	LinearRing LinearRing `xml:"LinearRing"`
}

type Polygon struct {
	OuterBoundary   Boundary   `xml:"outerBoundaryIs"`
	InnerBoundaries []Boundary `xml:"innerBoundaryIs"`
}

type MultiGeometry struct {
	Points      []Point      `xml:"Point"`
	LineStrings []LineString `xml:"LineString"`
	Polygons    []Polygon    `xml:"Polygon"`
}

package caltrans

import (
	"context"
	"encoding/xml"
	"fmt"
	"hash/fnv"
	"html"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/proximity"
)

// CaltransFeedType represents the type of Caltrans feed
type CaltransFeedType int

const (
	CHAIN_CONTROL CaltransFeedType = iota
	LANE_CLOSURE
	CHP_INCIDENT
)

func (f CaltransFeedType) String() string {
	switch f {
	case CHAIN_CONTROL:
		return "chain_control"
	case LANE_CLOSURE:
		return "lane_closure"
	case CHP_INCIDENT:
		return "chp_incident"
	default:
		return "unknown"
	}
}

// HTTPDoer is the subset of *http.Client used by FeedParser
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FeedParser processes Caltrans KML feeds
type FeedParser struct {
	HTTPClient HTTPDoer
}

// CaltransIncident represents parsed incident data from KML feeds
type CaltransIncident struct {
	FeedType        CaltransFeedType
	Name            string
	DescriptionHtml string
	DescriptionText string
	StyleUrl        string
	Geometry        orb.Geometry
	ParsedStatus    string
	ParsedDates     []string
	LastFetched     time.Time
}

// NewFeedParser creates a new Caltrans KML feed parser
func NewFeedParser() *FeedParser {
	return &FeedParser{
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ParseFeed downloads url and parses every placemark in it. Placemarks
// without usable geometry are dropped.
func (p *FeedParser) ParseFeed(ctx context.Context, url string, feedType CaltransFeedType) ([]CaltransIncident, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download KML: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d downloading KML from %s", resp.StatusCode, url)
	}

	placemarks, err := decodePlacemarks(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse KML: %w", err)
	}

	now := time.Now()
	incidents := make([]CaltransIncident, 0, len(placemarks))
	for i := range placemarks {
		if incident := processPlacemark(&placemarks[i], feedType, now); incident != nil {
			incidents = append(incidents, *incident)
		}
	}

	return incidents, nil
}

// decodePlacemarks streams the document and decodes every Placemark,
// wherever it is nested.
func decodePlacemarks(r io.Reader) ([]Placemark, error) {
	decoder := xml.NewDecoder(r)
	var placemarks []Placemark
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return placemarks, nil
		}
		if err != nil {
			return nil, err
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Placemark" {
			continue
		}

		var pm Placemark
		if err := decoder.DecodeElement(&pm, &start); err != nil {
			return nil, err
		}
		placemarks = append(placemarks, pm)
	}
}

// processPlacemark converts KML Placemark to CaltransIncident
func processPlacemark(placemark *Placemark, feedType CaltransFeedType, fetchTime time.Time) *CaltransIncident {
	geometry := extractGeometry(placemark)
	if geometry == nil || geo.ValidateGeometry(geometry) != nil {
		return nil
	}

	descriptionText := extractTextFromHTML(placemark.Description)

	return &CaltransIncident{
		FeedType:        feedType,
		Name:            strings.TrimSpace(placemark.Name),
		DescriptionHtml: placemark.Description,
		DescriptionText: descriptionText,
		StyleUrl:        strings.TrimSpace(placemark.StyleURL),
		Geometry:        geometry,
		ParsedStatus:    extractStatus(descriptionText),
		ParsedDates:     extractDates(descriptionText),
		LastFetched:     fetchTime,
	}
}

// extractGeometry converts the placemark geometry into an orb geometry. A
// MultiGeometry mixing element types is flattened into the vertices that
// matter for distance (points, line vertices and outer rings).
func extractGeometry(placemark *Placemark) orb.Geometry {
	switch {
	case placemark.Point != nil:
		points := parseCoordinates(placemark.Point.Coordinates)
		if len(points) == 0 {
			return nil
		}
		return points[0]

	case placemark.LineString != nil:
		points := parseCoordinates(placemark.LineString.Coordinates)
		if len(points) == 0 {
			return nil
		}
		return orb.LineString(points)

	case placemark.Polygon != nil:
		return polygon(placemark.Polygon)

	case placemark.MultiGeometry != nil:
		return multiGeometry(placemark.MultiGeometry)
	}

	return nil
}

func polygon(p *Polygon) orb.Geometry {
	outer := parseCoordinates(p.OuterBoundary.LinearRing.Coordinates)
	if len(outer) == 0 {
		return nil
	}

	poly := orb.Polygon{orb.Ring(outer)}
	for _, inner := range p.InnerBoundaries {
		if ring := parseCoordinates(inner.LinearRing.Coordinates); len(ring) > 0 {
			poly = append(poly, orb.Ring(ring))
		}
	}
	return poly
}

func multiGeometry(mg *MultiGeometry) orb.Geometry {
	var (
		points   orb.MultiPoint
		lines    orb.MultiLineString
		polygons orb.MultiPolygon
	)

	for _, pt := range mg.Points {
		points = append(points, parseCoordinates(pt.Coordinates)...)
	}
	for _, ls := range mg.LineStrings {
		if line := parseCoordinates(ls.Coordinates); len(line) > 0 {
			lines = append(lines, orb.LineString(line))
		}
	}
	for i := range mg.Polygons {
		if poly, ok := polygon(&mg.Polygons[i]).(orb.Polygon); ok {
			polygons = append(polygons, poly)
		}
	}

	kinds := 0
	for _, n := range []int{len(points), len(lines), len(polygons)} {
		if n > 0 {
			kinds++
		}
	}

	switch {
	case kinds == 0:
		return nil
	case kinds > 1:
		flat := append(orb.MultiPoint{}, points...)
		for _, line := range lines {
			flat = append(flat, line...)
		}
		for _, poly := range polygons {
			flat = append(flat, poly[0]...)
		}
		return flat
	case len(points) > 0:
		return points
	case len(lines) > 0:
		return lines
	default:
		return polygons
	}
}

// parseCoordinates parses a KML coordinates string ("lon,lat[,alt] ...").
// Tuples that fail to parse are skipped.
func parseCoordinates(raw string) []orb.Point {
	var points []orb.Point
	for _, tuple := range strings.Fields(raw) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		lon, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			continue
		}
		lat, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		points = append(points, orb.Point{lon, lat})
	}
	return points
}

// Candidate converts the incident into a proximity candidate.
func (i CaltransIncident) Candidate() proximity.Candidate {
	c := proximity.Candidate{
		ID:       i.ID(),
		Geometry: i.Geometry,
		Title:    i.Name,
		Status:   i.ParsedStatus,
		Kind:     i.Kind(),
		Properties: map[string]any{
			"source":      "caltrans",
			"feed":        i.FeedType.String(),
			"description": i.DescriptionText,
		},
	}
	if len(i.ParsedDates) > 0 {
		c.Properties["dates"] = i.ParsedDates
	}
	if i.StyleUrl != "" {
		c.Properties["style_url"] = i.StyleUrl
	}
	if p, ok := geo.Centroid(i.Geometry); ok {
		c.Location = &p
	}
	return c
}

// ID is a stable identifier derived from the feed, name and geometry, so
// the same placemark keeps its ID across refreshes.
func (i CaltransIncident) ID() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%v", i.FeedType, i.Name, i.Geometry)
	return fmt.Sprintf("caltrans-%s-%016x", i.FeedType, h.Sum64())
}

// Kind maps the feed and description onto an impact kind.
func (i CaltransIncident) Kind() string {
	switch i.FeedType {
	case CHAIN_CONTROL:
		return "chain_control"
	case LANE_CLOSURE:
		if i.ParsedStatus == "construction" {
			return "construction"
		}
		return "closure"
	default:
		return "incident"
	}
}

// extractTextFromHTML removes HTML tags and decodes HTML entities
func extractTextFromHTML(htmlContent string) string {
	text := htmlTagPattern.ReplaceAllString(htmlContent, " ")
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	// Common status patterns in Caltrans descriptions, most specific first
	statusPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(closed?)`),
		regexp.MustCompile(`(?i)(chain control in effect)`),
		regexp.MustCompile(`(?i)(restrictions?)`),
		regexp.MustCompile(`(?i)(incident)`),
		regexp.MustCompile(`(?i)(construction)`),
	}

	// Dates like "12/25/2024" or "Dec 25, 2024"
	datePattern = regexp.MustCompile(`\d{1,2}[/\-]\d{1,2}[/\-]\d{4}|[A-Za-z]{3}\s+\d{1,2},\s+\d{4}`)
)

// extractStatus attempts to extract status information from description text
func extractStatus(text string) string {
	for _, re := range statusPatterns {
		if match := re.FindString(text); match != "" {
			return strings.ToLower(match)
		}
	}
	return ""
}

// extractDates attempts to extract date/time information from description text
func extractDates(text string) []string {
	matches := datePattern.FindAllString(text, -1)

	seen := make(map[string]bool)
	uniqueDates := []string{}
	for _, date := range matches {
		if !seen[date] {
			seen[date] = true
			uniqueDates = append(uniqueDates, date)
		}
	}

	return uniqueDates
}

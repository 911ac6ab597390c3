// Package export renders routes and their impacts for map tools.
package export

import (
	"fmt"
	"image/color"
	"io"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-kml"

	"github.com/dpup/impact.ersn.net/server/internal/lib/geo"
	"github.com/dpup/impact.ersn.net/server/internal/lib/routing"
)

const (
	routeStyleID     = "route"
	onRouteStyleID   = "impact-on-route"
	nearbyStyleID    = "impact-nearby"
	connectorStyleID = "connector"
)

// RouteImpactKML builds a KML document containing the route line, one
// placemark per impact that has a location, and a connector from each
// impact to the nearest point on the route.
func RouteImpactKML(name string, route orb.LineString, impacts []routing.ClassifiedImpact) *kml.CompoundElement {
	doc := kml.Document(
		kml.Name(name),
		kml.SharedStyle(routeStyleID,
			kml.LineStyle(kml.Color(color.RGBA{R: 0, G: 102, B: 255, A: 255}), kml.Width(4)),
		),
		kml.SharedStyle(onRouteStyleID,
			kml.IconStyle(kml.Color(color.RGBA{R: 255, G: 0, B: 0, A: 255})),
		),
		kml.SharedStyle(nearbyStyleID,
			kml.IconStyle(kml.Color(color.RGBA{R: 255, G: 170, B: 0, A: 255})),
		),
		kml.SharedStyle(connectorStyleID,
			kml.LineStyle(kml.Color(color.RGBA{R: 128, G: 128, B: 128, A: 200}), kml.Width(1)),
		),
		kml.Placemark(
			kml.Name(name),
			kml.StyleURL("#"+routeStyleID),
			kml.LineString(
				kml.Tessellate(true),
				kml.Coordinates(coordinates(route)...),
			),
		),
	)

	folder := kml.Folder(kml.Name("Impacts"))
	for _, impact := range impacts {
		if impact.Location == nil {
			continue
		}
		folder.Add(impactPlacemark(impact, route))
	}
	doc.Add(folder)

	return kml.KML(doc)
}

// WriteRouteImpactKML writes the document built by RouteImpactKML to w.
func WriteRouteImpactKML(w io.Writer, name string, route orb.LineString, impacts []routing.ClassifiedImpact) error {
	return RouteImpactKML(name, route, impacts).WriteIndent(w, "", "  ")
}

func impactPlacemark(impact routing.ClassifiedImpact, route orb.LineString) kml.Element {
	title := impact.Title
	if title == "" {
		title = impact.ID
	}

	style := nearbyStyleID
	if impact.Classification == routing.OnRoute {
		style = onRouteStyleID
	}

	description := fmt.Sprintf("%d m from route (%s)", impact.DistanceMeters, impact.Classification)
	if impact.Status != "" {
		description += "\nStatus: " + impact.Status
	}
	if impact.Kind != "" {
		description += "\nType: " + impact.Kind
	}

	location := *impact.Location
	geometries := []kml.Element{
		kml.Point(kml.Coordinates(coordinate(location))),
	}
	if closest, d, ok := geo.ClosestPointOnRoute(location, route); ok && d > 0 {
		geometries = append(geometries, kml.LineString(
			kml.Coordinates(coordinate(location), coordinate(closest)),
		))
	}

	children := []kml.Element{
		kml.Name(title),
		kml.Description(description),
		kml.StyleURL("#" + style),
	}
	if len(geometries) == 1 {
		children = append(children, geometries[0])
	} else {
		children = append(children, kml.MultiGeometry(geometries...))
	}

	return kml.Placemark(children...)
}

func coordinate(p orb.Point) kml.Coordinate {
	return kml.Coordinate{Lon: p.Lon(), Lat: p.Lat()}
}

func coordinates(ls orb.LineString) []kml.Coordinate {
	out := make([]kml.Coordinate, len(ls))
	for i, p := range ls {
		out[i] = coordinate(p)
	}
	return out
}

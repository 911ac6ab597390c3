package caltrans

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFeedServer serves the KML fixtures under testdata/ and counts requests
func newFeedServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/data/lcs2way.kml", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.ServeFile(w, r, "testdata/lane_closures.kml")
	})
	mux.HandleFunc("/data/chp-only.kml", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.ServeFile(w, r, "testdata/chp_incidents.kml")
	})
	mux.HandleFunc("/data/cc.kml", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.ServeFile(w, r, "testdata/chain_controls.kml")
	})
	mux.HandleFunc("/data/broken.kml", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &hits
}

func TestParseFeed_LaneClosures(t *testing.T) {
	server, _ := newFeedServer(t)
	parser := NewFeedParser()

	incidents, err := parser.ParseFeed(context.Background(), server.URL+"/data/lcs2way.kml", LANE_CLOSURE)
	require.NoError(t, err)
	require.Len(t, incidents, 3, "out-of-range placemark is dropped")

	closure := incidents[0]
	assert.Equal(t, LANE_CLOSURE, closure.FeedType)
	assert.Equal(t, "SR-4 Full Closure near Murphys", closure.Name)
	assert.Equal(t, "#lcs", closure.StyleUrl)
	assert.Equal(t, "Highway 4 is CLOSED in both directions Until 12/25/2024", closure.DescriptionText)
	assert.Equal(t, "closed", closure.ParsedStatus)
	assert.Equal(t, []string{"12/25/2024"}, closure.ParsedDates)
	assert.Equal(t, orb.LineString{{-120.47, 38.13}, {-120.4606, 38.1327}}, closure.Geometry)
	assert.NotZero(t, closure.LastFetched)

	assert.Equal(t, orb.Point{-120.3486, 38.2458}, incidents[1].Geometry)
	assert.Equal(t, "construction", incidents[1].ParsedStatus)

	poly, ok := incidents[2].Geometry.(orb.Polygon)
	require.True(t, ok)
	assert.Len(t, poly[0], 4)
}

func TestParseFeed_MultiGeometry(t *testing.T) {
	server, _ := newFeedServer(t)
	parser := NewFeedParser()

	incidents, err := parser.ParseFeed(context.Background(), server.URL+"/data/chp-only.kml", CHP_INCIDENT)
	require.NoError(t, err)
	require.Len(t, incidents, 1, "placemark without geometry is dropped")

	// Mixed point + line is flattened into its vertices
	assert.Equal(t, orb.MultiPoint{
		{-120.465, 38.131},
		{-120.466, 38.1305},
		{-120.464, 38.1315},
	}, incidents[0].Geometry)
	assert.Equal(t, "incident", incidents[0].ParsedStatus)
}

func TestParseFeed_HTTPError(t *testing.T) {
	server, _ := newFeedServer(t)
	parser := NewFeedParser()

	_, err := parser.ParseFeed(context.Background(), server.URL+"/data/broken.kml", CHP_INCIDENT)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP error 503")
}

func TestParseFeed_InvalidXML(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<kml><Document><Placemark><name>oops</Document>"))
	}))
	defer server.Close()

	_, err := NewFeedParser().ParseFeed(context.Background(), server.URL, LANE_CLOSURE)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse KML")
}

func TestExtractGeometry(t *testing.T) {
	t.Run("Point geometry", func(t *testing.T) {
		g := extractGeometry(&Placemark{Point: &Point{Coordinates: "-120.5000,38.1000,0"}})
		assert.Equal(t, orb.Point{-120.5, 38.1}, g)
	})

	t.Run("Polygon with hole", func(t *testing.T) {
		g := extractGeometry(&Placemark{Polygon: &Polygon{
			OuterBoundary: Boundary{LinearRing: LinearRing{Coordinates: "0,0 1,0 1,1 0,0"}},
			InnerBoundaries: []Boundary{
				{LinearRing: LinearRing{Coordinates: "0.2,0.2 0.3,0.2 0.3,0.3 0.2,0.2"}},
			},
		}})
		poly, ok := g.(orb.Polygon)
		require.True(t, ok)
		assert.Len(t, poly, 2)
	})

	t.Run("MultiGeometry of lines", func(t *testing.T) {
		g := extractGeometry(&Placemark{MultiGeometry: &MultiGeometry{
			LineStrings: []LineString{
				{Coordinates: "0,0 1,1"},
				{Coordinates: "2,2 3,3"},
			},
		}})
		lines, ok := g.(orb.MultiLineString)
		require.True(t, ok)
		assert.Len(t, lines, 2)
	})

	t.Run("Unparseable coordinates", func(t *testing.T) {
		assert.Nil(t, extractGeometry(&Placemark{LineString: &LineString{Coordinates: "abc def"}}))
	})

	t.Run("No geometry", func(t *testing.T) {
		assert.Nil(t, extractGeometry(&Placemark{Name: "Test placemark with no geometry"}))
	})
}

func TestCaltransIncident_Candidate(t *testing.T) {
	incident := CaltransIncident{
		FeedType:        LANE_CLOSURE,
		Name:            "SR-4 Full Closure",
		DescriptionText: "Highway 4 is CLOSED",
		ParsedStatus:    "closed",
		ParsedDates:     []string{"12/25/2024"},
		Geometry:        orb.LineString{{-120.47, 38.13}, {-120.465, 38.131}, {-120.4606, 38.1327}},
	}

	c := incident.Candidate()
	assert.Equal(t, "closure", c.Kind)
	assert.Equal(t, "closed", c.Status)
	assert.Equal(t, "SR-4 Full Closure", c.Title)
	assert.True(t, strings.HasPrefix(c.ID, "caltrans-lane_closure-"))
	assert.Equal(t, c.ID, incident.Candidate().ID, "IDs are stable")
	require.NotNil(t, c.Location)
	assert.Equal(t, orb.Point{-120.465, 38.131}, *c.Location, "middle vertex")
	assert.Equal(t, "lane_closure", c.Properties["feed"])
	assert.Equal(t, []string{"12/25/2024"}, c.Properties["dates"])

	other := incident
	other.Name = "Another closure"
	assert.NotEqual(t, c.ID, other.ID())
}

func TestCaltransIncident_Kind(t *testing.T) {
	assert.Equal(t, "chain_control", CaltransIncident{FeedType: CHAIN_CONTROL}.Kind())
	assert.Equal(t, "closure", CaltransIncident{FeedType: LANE_CLOSURE}.Kind())
	assert.Equal(t, "construction", CaltransIncident{FeedType: LANE_CLOSURE, ParsedStatus: "construction"}.Kind())
	assert.Equal(t, "incident", CaltransIncident{FeedType: CHP_INCIDENT}.Kind())
}

func TestSource_Candidates(t *testing.T) {
	server, hits := newFeedServer(t)
	source := NewSource(NewFeedParser(),
		Feed{Type: LANE_CLOSURE, URL: server.URL + "/data/lcs2way.kml", RefreshInterval: time.Minute},
		Feed{Type: CHP_INCIDENT, URL: server.URL + "/data/chp-only.kml", RefreshInterval: time.Minute},
		Feed{Type: CHAIN_CONTROL, URL: server.URL + "/data/cc.kml", RefreshInterval: time.Minute},
	)

	// Box around Angels Camp - Murphys; excludes Arnold, the SR-108 polygon and the chain control
	bound := orb.Bound{Min: orb.Point{-120.55, 38.05}, Max: orb.Point{-120.45, 38.15}}

	candidates, err := source.Candidates(context.Background(), bound)
	require.NoError(t, err)

	var titles []string
	for _, c := range candidates {
		titles = append(titles, c.Title)
	}
	assert.ElementsMatch(t, []string{
		"SR-4 Full Closure near Murphys",
		"Traffic Collision - SR-4 at Parrotts Ferry Rd",
	}, titles)
	assert.Equal(t, int32(3), hits.Load())

	// Within the refresh interval feeds are served from memory
	_, err = source.Candidates(context.Background(), bound)
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())

	// After the interval they are fetched again
	source.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = source.Candidates(context.Background(), bound)
	require.NoError(t, err)
	assert.Equal(t, int32(6), hits.Load())
}

func TestSource_FailingFeeds(t *testing.T) {
	server, _ := newFeedServer(t)
	world := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

	t.Run("one failing feed is skipped", func(t *testing.T) {
		source := NewSource(NewFeedParser(),
			Feed{Type: CHP_INCIDENT, URL: server.URL + "/data/broken.kml"},
			Feed{Type: CHAIN_CONTROL, URL: server.URL + "/data/cc.kml"},
		)
		candidates, err := source.Candidates(context.Background(), world)
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, "chain_control", candidates[0].Kind)
	})

	t.Run("all feeds failing is an error", func(t *testing.T) {
		source := NewSource(NewFeedParser(),
			Feed{Type: CHP_INCIDENT, URL: server.URL + "/data/broken.kml"},
		)
		_, err := source.Candidates(context.Background(), world)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all Caltrans feeds failed")
	})
}

func TestExtractTextFromHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Basic HTML removal",
			input:    "<p>Hello <b>world</b>!</p>",
			expected: "Hello world !",
		},
		{
			name:     "HTML entities",
			input:    "Route &amp; Highway",
			expected: "Route & Highway",
		},
		{
			name:     "Multiple whitespace cleanup",
			input:    "<div>  Multiple   \n  spaces  </div>",
			expected: "Multiple spaces",
		},
		{
			name:     "Empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractTextFromHTML(tt.input))
		})
	}
}

func TestExtractStatus(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Closed status",
			input:    "Highway 4 is CLOSED due to snow",
			expected: "closed",
		},
		{
			name:     "Chain control",
			input:    "Chain control in effect from mile marker 10",
			expected: "chain control in effect",
		},
		{
			name:     "Construction",
			input:    "Road construction project ongoing",
			expected: "construction",
		},
		{
			name:     "No status",
			input:    "Normal traffic conditions",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractStatus(tt.input))
		})
	}
}

func TestExtractDates(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Single date MM/DD/YYYY",
			input:    "Expected to end at 5:00pm 12/25/2024",
			expected: []string{"12/25/2024"},
		},
		{
			name:     "Date with text format",
			input:    "Starting Dec 15, 2024 until further notice",
			expected: []string{"Dec 15, 2024"},
		},
		{
			name:     "Multiple dates",
			input:    "From 01/01/2025 to 12/31/2025",
			expected: []string{"01/01/2025", "12/31/2025"},
		},
		{
			name:     "No dates",
			input:    "No specific dates mentioned",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractDates(tt.input))
		})
	}
}

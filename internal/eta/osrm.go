package eta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ambulance-dispatch/internal/models"
)

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

// ComputeRoute queries OSRM /route between points and returns the overview
// geometry plus a rendered duration.
func (o *OSRMClient) ComputeRoute(ctx context.Context, origin, destination models.Coord) (models.Route, error) {
	// OSRM route query: /route/v1/driving/{lng1},{lat1};{lng2},{lat2}
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, origin.Lng, origin.Lat, destination.Lng, destination.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Route{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.Route{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Routes []struct {
			Duration float64 `json:"duration"`
			Geometry struct {
				Coordinates [][2]float64 `json:"coordinates"` // [lng, lat]
			} `json:"geometry"`
		} `json:"routes"`
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Route{}, err
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.Route{}, fmt.Errorf("osrm no route: %v", out.Code)
	}

	r := out.Routes[0]
	path := make([]models.Coord, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		path = append(path, models.Coord{Lat: c[1], Lng: c[0]})
	}
	return models.Route{Path: path, DurationText: DurationText(r.Duration)}, nil
}

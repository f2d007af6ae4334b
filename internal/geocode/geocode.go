// ABOUTME: Google reverse geocoding of GPS coordinates to address components
// ABOUTME: Failures degrade to a nil address; geocoding never fails a location read

package geocode

import (
	"context"
	"log/slog"

	"googlemaps.github.io/maps"
)

// Address holds the components extracted from a reverse-geocoding result.
type Address struct {
	FormattedAddress string `json:"formattedAddress"`
	StreetNumber     string `json:"streetNumber,omitempty"`
	Street           string `json:"street,omitempty"`
	City             string `json:"city,omitempty"`
	State            string `json:"state,omitempty"`
	Country          string `json:"country,omitempty"`
	PostalCode       string `json:"postalCode,omitempty"`
}

// Client wraps the Google Maps Geocoding API client.
type Client struct {
	mc     *maps.Client
	logger *slog.Logger
}

// New creates a geocoding client with the given API key.
func New(apiKey string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mc, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &Client{
		mc:     mc,
		logger: logger.With("component", "geocode"),
	}, nil
}

// ReverseGeocode resolves coordinates to an address. Returns nil on any
// failure; callers treat the address as best-effort enrichment.
func (c *Client) ReverseGeocode(ctx context.Context, latitude, longitude float64) *Address {
	results, err := c.mc.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: latitude, Lng: longitude},
	})
	if err != nil {
		c.logger.Warn("reverse geocode failed", "error", err)
		return nil
	}
	if len(results) == 0 {
		c.logger.Debug("reverse geocode returned no results",
			"latitude", latitude,
			"longitude", longitude,
		)
		return nil
	}

	result := results[0]
	return &Address{
		FormattedAddress: result.FormattedAddress,
		StreetNumber:     component(result, "street_number"),
		Street:           component(result, "route"),
		City:             cityComponent(result),
		State:            component(result, "administrative_area_level_1"),
		Country:          component(result, "country"),
		PostalCode:       component(result, "postal_code"),
	}
}

// component returns the long name of the first address component with the
// given type, or empty string.
func component(result maps.GeocodingResult, typ string) string {
	for _, c := range result.AddressComponents {
		for _, t := range c.Types {
			if t == typ {
				return c.LongName
			}
		}
	}
	return ""
}

// cityComponent prefers locality, falling back to sublocality.
func cityComponent(result maps.GeocodingResult) string {
	if city := component(result, "locality"); city != "" {
		return city
	}
	return component(result, "sublocality")
}

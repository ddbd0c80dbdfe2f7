package infra

import (
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// GeoIP wraps a MaxMind country database for best-effort locale detection.
// A nil *GeoIP is valid and resolves nothing.
type GeoIP struct {
	reader *geoip2.Reader
}

// NewGeoIP opens the database at path. An empty path disables lookups and
// returns nil without error.
func NewGeoIP(path string) (*GeoIP, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return &GeoIP{reader: reader}, nil
}

// CountryCode returns the ISO country code for ip, or "" when unknown.
func (g *GeoIP) CountryCode(ip string) (string, error) {
	if g == nil || g.reader == nil {
		return "", nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	record, err := g.reader.Country(parsed)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup country: %w", err)
	}
	if record == nil {
		return "", nil
	}
	return record.Country.IsoCode, nil
}

// Close releases the underlying database reader.
func (g *GeoIP) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}

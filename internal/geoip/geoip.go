// Package geoip resolves source IP addresses to a coarse location using
// MaxMind GeoLite2/GeoIP2 databases.
package geoip

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

var (
	ErrInvalidIP = errors.New("invalid ip address")
	ErrNotFound  = errors.New("ip address not found in database")
)

// Location is the resolved position of an IP address.
type Location struct {
	CountryCode string  `json:"countryCode,omitempty"`
	Country     string  `json:"country,omitempty"`
	City        string  `json:"city,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	ASN         uint    `json:"asn,omitempty"`
	ASNOrg      string  `json:"asnOrg,omitempty"`
}

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

type asnReader interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
	Close() error
}

// Resolver looks up IPs in a city database and, optionally, an ASN database.
// It is safe for concurrent use.
type Resolver struct {
	city cityReader
	asn  asnReader
}

// Open loads the city database and, when asnPath is non-empty, the ASN
// database.
func Open(cityPath, asnPath string) (*Resolver, error) {
	city, err := geoip2.Open(cityPath)
	if err != nil {
		return nil, fmt.Errorf("open geoip city db: %w", err)
	}
	r := &Resolver{city: city}
	if asnPath != "" {
		asn, err := geoip2.Open(asnPath)
		if err != nil {
			_ = city.Close()
			return nil, fmt.Errorf("open geoip asn db: %w", err)
		}
		r.asn = asn
	}
	return r, nil
}

// Lookup resolves ip. ASN data is best effort.
func (r *Resolver) Lookup(ip string) (*Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}

	rec, err := r.city.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("geoip city lookup: %w", err)
	}
	if rec.Country.IsoCode == "" && rec.City.GeoNameID == 0 {
		return nil, ErrNotFound
	}

	loc := &Location{
		CountryCode: rec.Country.IsoCode,
		Country:     rec.Country.Names["en"],
		City:        rec.City.Names["en"],
		Latitude:    rec.Location.Latitude,
		Longitude:   rec.Location.Longitude,
	}
	if r.asn != nil {
		if a, err := r.asn.ASN(parsed); err == nil {
			loc.ASN = a.AutonomousSystemNumber
			loc.ASNOrg = a.AutonomousSystemOrganization
		}
	}
	return loc, nil
}

// Close releases the database readers.
func (r *Resolver) Close() error {
	err := r.city.Close()
	if r.asn != nil {
		err = errors.Join(err, r.asn.Close())
	}
	return err
}

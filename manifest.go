package goswrcache

import "encoding/json"

// Endpoint keys of the care-service API. A key is the logical endpoint: path plus
// any semantic query, never the cache-busting token.
const (
	KeyDesign       = "/api/design"
	KeyServices     = "/api/services"
	KeyAllServices  = "/api/services?all=true"
	KeyPatients     = "/api/patients"
	KeyStaff        = "/api/staff"
	KeyAppointments = "/api/appointments"
	KeyCategories   = "/api/categories"
)

// Shape is the JSON kind an endpoint returns. It decides the empty fallback used when
// a preload fetch fails.
type Shape int

const (
	ShapeList Shape = iota
	ShapeObject
)

// Empty returns the empty value of the shape.
func (s Shape) Empty() json.RawMessage {
	if s == ShapeObject {
		return json.RawMessage(`{}`)
	}
	return json.RawMessage(`[]`)
}

func (s Shape) String() string {
	if s == ShapeObject {
		return "object"
	}
	return "list"
}

// Endpoint is one entry of a preload manifest.
type Endpoint struct {
	Key   string
	Shape Shape
}

// Manifest lists the endpoints a page needs before its content is shown.
type Manifest []Endpoint

// Merge concatenates manifests and drops repeated keys, keeping the first occurrence.
func Merge(ms ...Manifest) Manifest {
	seen := make(map[string]struct{})
	var out Manifest
	for _, m := range ms {
		for _, e := range m {
			if _, ok := seen[e.Key]; ok {
				continue
			}
			seen[e.Key] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// Keys returns the endpoint keys in order.
func (m Manifest) Keys() []string {
	keys := make([]string, len(m))
	for i, e := range m {
		keys[i] = e.Key
	}
	return keys
}

var (
	// SiteManifest is what the public site needs: theme settings and services.
	SiteManifest = Manifest{
		{Key: KeyDesign, Shape: ShapeObject},
		{Key: KeyServices, Shape: ShapeList},
	}

	// AdminManifest is what the admin panel needs.
	AdminManifest = Manifest{
		{Key: KeyDesign, Shape: ShapeObject},
		{Key: KeyPatients, Shape: ShapeList},
		{Key: KeyStaff, Shape: ShapeList},
		{Key: KeyAppointments, Shape: ShapeList},
		{Key: KeyCategories, Shape: ShapeList},
		{Key: KeyAllServices, Shape: ShapeList},
	}

	// FullManifest warms both the admin panel and the public site.
	FullManifest = Merge(AdminManifest, SiteManifest)
)

package geocode

import "strings"

// ReverseResponse is the subset of a Nominatim jsonv2 reverse lookup that is
// used to build labels.
type ReverseResponse struct {
	PlaceID     int64   `json:"place_id,omitempty"`
	DisplayName string  `json:"display_name,omitempty"`
	Address     Address `json:"address"`
	// Error is set by the service when nothing was found.
	Error string `json:"error,omitempty"`
}

// Address holds the administrative fields of a reverse lookup.
type Address struct {
	State       string `json:"state,omitempty"`
	Region      string `json:"region,omitempty"`
	County      string `json:"county,omitempty"`
	Province    string `json:"province,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// RegionName returns the most specific first-level region available.
func (a Address) RegionName() string {
	for _, v := range []string{a.State, a.Region, a.County, a.Province} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Label builds a "Region, Country" label from a response. Either part may be
// missing; the result is empty when both are.
func Label(resp *ReverseResponse) string {
	if resp == nil {
		return ""
	}
	region := resp.Address.RegionName()
	country := strings.TrimSpace(resp.Address.Country)

	switch {
	case region != "" && country != "":
		return region + ", " + country
	case region != "":
		return region
	default:
		return country
	}
}

package property

import (
	"regexp"
	"strconv"
)

// Property is a listing in the shape the website renders
type Property struct {
	Reference      string   `json:"reference"`
	PropertyType   string   `json:"propertyType"`
	Location       string   `json:"location"`
	Province       string   `json:"province"`
	Price          float64  `json:"price"`
	PriceMax       float64  `json:"priceMax"`
	Currency       string   `json:"currency"`
	Bedrooms       float64  `json:"bedrooms"`
	BedroomsMax    float64  `json:"bedroomsMax"`
	Bathrooms      float64  `json:"bathrooms"`
	BathroomsMax   float64  `json:"bathroomsMax"`
	BuiltArea      float64  `json:"builtArea"`
	BuiltAreaMax   float64  `json:"builtAreaMax"`
	PlotArea       float64  `json:"plotArea"`
	PlotAreaMax    float64  `json:"plotAreaMax"`
	MainImage      string   `json:"mainImage"`
	Images         []string `json:"images"`
	Description    string   `json:"description"`
	Features       []string `json:"features"`
	Pool           bool     `json:"pool"`
	Garden         bool     `json:"garden"`
	Parking        bool     `json:"parking"`
	Orientation    string   `json:"orientation"`
	Views          string   `json:"views"`
	NewDevelopment bool     `json:"newDevelopment"`
	Status         string   `json:"status"`
}

// Raw is one property object as the upstream API returns it. Field names
// and shapes vary between API versions.
type Raw map[string]any

var nonNumeric = regexp.MustCompile(`[^0-9.]`)

// feature flags in display order; any listed key set to "Yes" adds the feature
var featureFlags = []struct {
	name string
	keys []string
}{
	{"Pool", []string{"HasPool", "Pool", "CommunityPool"}},
	{"Garden", []string{"HasGarden", "Garden"}},
	{"Parking", nil},
	{"Air Conditioning", []string{"AirConditioning", "AC"}},
	{"Heating", []string{"Heating"}},
	{"Terrace", []string{"Terrace"}},
	{"Garage", []string{"Garage"}},
	{"Storage Room", []string{"Storage"}},
	{"Elevator", []string{"Lift", "Elevator"}},
	{"24h Security", []string{"Security", "Security24h"}},
	{"Gym", []string{"Gym", "CommunityGym"}},
	{"Jacuzzi", []string{"Jacuzzi"}},
	{"Sauna", []string{"Sauna"}},
	{"Sea Views", []string{"SeaViews"}},
	{"Golf Views", []string{"GolfViews"}},
	{"Mountain Views", []string{"MountainViews"}},
}

// Normalize maps a raw listing onto Property, applying the site defaults
func Normalize(r Raw) Property {
	p := Property{
		Reference:      r.str("Reference", "reference"),
		PropertyType:   propertyType(r),
		Location:       r.strOr("Costa del Sol", "Location", "Area", "Town", "City"),
		Province:       r.strOr("Málaga", "Province", "Region"),
		Price:          r.num("Price", "CurrentPrice"),
		PriceMax:       r.num("PriceMax", "PriceTo"),
		Currency:       r.strOr("EUR", "Currency"),
		Bedrooms:       r.num("Bedrooms", "BedroomsFrom"),
		BedroomsMax:    r.num("BedroomsMax", "BedroomsTo"),
		Bathrooms:      r.num("Bathrooms", "BathroomsFrom"),
		BathroomsMax:   r.num("BathroomsMax", "BathroomsTo"),
		BuiltArea:      r.num("Built", "BuiltArea", "BuiltM2"),
		BuiltAreaMax:   r.num("BuiltMax", "BuiltTo"),
		PlotArea:       r.num("Plot", "PlotArea", "PlotM2"),
		PlotAreaMax:    r.num("PlotMax", "PlotTo"),
		MainImage:      mainImage(r),
		Images:         images(r),
		Description:    r.str("Description", "FullDescription", "LongDescription"),
		Pool:           r.yes("HasPool", "Pool", "CommunityPool"),
		Garden:         r.yes("HasGarden", "Garden"),
		Parking:        hasParking(r),
		Orientation:    r.str("Orientation"),
		Views:          r.str("Views"),
		NewDevelopment: r.yes("NewDevelopment", "OffPlan"),
		Status:         r.strOr("Available", "Status"),
		Features:       []string{},
	}
	for _, f := range featureFlags {
		if (f.keys == nil && p.Parking) || (f.keys != nil && r.yes(f.keys...)) {
			p.Features = append(p.Features, f.name)
		}
	}
	return p
}

func propertyType(r Raw) string {
	if nested, ok := r["PropertyType"].(map[string]any); ok {
		if t, ok := nested["Type"].(string); ok && t != "" {
			return t
		}
	}
	return r.strOr("Property", "Type", "PropertyType")
}

func hasParking(r Raw) bool {
	v, ok := r["Parking"]
	if !ok || v == nil {
		return false
	}
	s, isString := v.(string)
	return !isString || (s != "None" && s != "0")
}

func mainImage(r Raw) string {
	if s := r.str("MainImage", "mainImage", "MainImageUrl", "BigPictureURL", "LargePictureURL", "OriginalPictureURL"); s != "" {
		return s
	}
	if pics := pictureList(r); len(pics) > 0 {
		return pics[0]
	}
	if nested, ok := r["Picture"].(map[string]any); ok {
		if s, ok := nested["MainImage"].(string); ok {
			return s
		}
	}
	return ""
}

func images(r Raw) []string {
	pics := pictureList(r)
	if pics == nil {
		return []string{}
	}
	return pics
}

// pictureList reads Pictures.Picture[], Pictures[], pictures[] or
// images.Picture[], whichever is present first
func pictureList(r Raw) []string {
	var list []any
	if pics, ok := r["Pictures"].(map[string]any); ok {
		list, _ = pics["Picture"].([]any)
	}
	if list == nil {
		list, _ = r["Pictures"].([]any)
	}
	if list == nil {
		list, _ = r["pictures"].([]any)
	}
	if list == nil {
		if imgs, ok := r["images"].(map[string]any); ok {
			list, _ = imgs["Picture"].([]any)
		}
	}

	var out []string
	for _, item := range list {
		switch v := item.(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case map[string]any:
			for _, k := range []string{"PictureURL", "url", "PictureUrl"} {
				if s, ok := v[k].(string); ok && s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

// str returns the first non-empty string among keys
func (r Raw) str(keys ...string) string {
	for _, k := range keys {
		if s, ok := r[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func (r Raw) strOr(fallback string, keys ...string) string {
	if s := r.str(keys...); s != "" {
		return s
	}
	return fallback
}

func (r Raw) yes(keys ...string) bool {
	for _, k := range keys {
		if s, ok := r[k].(string); ok && s == "Yes" {
			return true
		}
	}
	return false
}

// num returns the first non-zero numeric value among keys. Strings are read
// after dropping everything but digits and dots ("€ 1,250,000" is 1250000).
func (r Raw) num(keys ...string) float64 {
	for _, k := range keys {
		if n := parseNumeric(r[k]); n != 0 {
			return n
		}
	}
	return 0
}

func parseNumeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(nonNumeric.ReplaceAllString(n, ""), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

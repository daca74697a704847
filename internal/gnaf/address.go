// Package gnaf implements the G-NAF address-structuring engine: authority
// code tables, the row mapper, and the constituent-file layout of a release.
package gnaf

// CodeName pairs a G-NAF authority code with its resolved human-readable name.
// Name is empty when the code is missing from the authority table.
type CodeName struct {
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

// Display returns the resolved name, falling back to the raw code so
// renderings stay well-formed for unknown codes.
func (c CodeName) Display() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Code
}

// NumberPart is a prefixed/suffixed number fragment (lot, first, last).
type NumberPart struct {
	Prefix string `json:"prefix,omitempty"`
	Number string `json:"number,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

// Empty reports whether all fragments are blank.
func (n NumberPart) Empty() bool {
	return n.Prefix == "" && n.Number == "" && n.Suffix == ""
}

// Compact renders the fragment without separators, e.g. "12A".
func (n NumberPart) Compact() string {
	return n.Prefix + n.Number + n.Suffix
}

// NumberRange is a street number with an optional last number, e.g. 2-14.
type NumberRange struct {
	NumberPart
	Last *NumberPart `json:"last,omitempty"`
}

// FlatLevel describes a flat or a level: a typed, prefixed number.
type FlatLevel struct {
	Type   *CodeName `json:"type,omitempty"`
	Prefix string    `json:"prefix,omitempty"`
	Number string    `json:"number,omitempty"`
	Suffix string    `json:"suffix,omitempty"`
}

// CompactNumber renders the number fragment without separators.
func (f FlatLevel) CompactNumber() string {
	return f.Prefix + f.Number + f.Suffix
}

// Street is the joined street-locality record with resolved codes.
type Street struct {
	Name   string    `json:"name"`
	Type   *CodeName `json:"type,omitempty"`
	Suffix *CodeName `json:"suffix,omitempty"`
	Class  *CodeName `json:"class,omitempty"`
}

// Locality is the joined locality record with its resolved class.
type Locality struct {
	Name  string    `json:"name"`
	Class *CodeName `json:"class,omitempty"`
}

// State is an administrative region.
type State struct {
	Name         string `json:"name,omitempty"`
	Abbreviation string `json:"abbreviation"`
}

// StructuredAddress is the canonical structured form of one G-NAF address.
type StructuredAddress struct {
	BuildingName string       `json:"buildingName,omitempty"`
	Lot          *NumberPart  `json:"lotNumber,omitempty"`
	Flat         *FlatLevel   `json:"flat,omitempty"`
	Level        *FlatLevel   `json:"level,omitempty"`
	Number       *NumberRange `json:"number,omitempty"`
	Street       *Street      `json:"street,omitempty"`
	Locality     Locality     `json:"locality"`
	State        State        `json:"state"`
	Postcode     string       `json:"postcode,omitempty"`
	Confidence   *int         `json:"confidence,omitempty"`
}

// GeoLevel is the granularity of an address's geocoding, ranked 1 (coarse)
// to 7 (fine).
type GeoLevel struct {
	Code int    `json:"code"`
	Name string `json:"name,omitempty"`
}

// GeocodePoint is one geocode with resolved reliability and type.
type GeocodePoint struct {
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	IsDefault   bool      `json:"isDefault"`
	Reliability *CodeName `json:"reliability,omitempty"`
	Type        *CodeName `json:"type,omitempty"`
}

// Geo bundles an address's geocodes. Site-level entries precede defaults.
type Geo struct {
	Level    *GeoLevel      `json:"level,omitempty"`
	Geocodes []GeocodePoint `json:"geocodes"`
}

// AddressDetail is the document submitted to the search backend.
type AddressDetail struct {
	PID        string            `json:"pid"`
	SLA        string            `json:"sla"`
	SSLA       string            `json:"ssla"`
	MLA        []string          `json:"mla"`
	SMLA       []string          `json:"smla,omitempty"`
	Structured StructuredAddress `json:"structured"`
	// Confidence duplicates structured.confidence at the top level for sort.
	Confidence *int `json:"confidence,omitempty"`
	Geo        *Geo `json:"geo,omitempty"`
}

// DocumentID is the deterministic backend document id.
func (d AddressDetail) DocumentID() string {
	return "/addresses/" + d.PID
}

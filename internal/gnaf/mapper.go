package gnaf

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/dsv"
)

// LocalityRecord is the satellite row joined via LOCALITY_PID.
type LocalityRecord struct {
	PID       string
	Name      string
	ClassCode string
}

// StreetRecord is the satellite row joined via STREET_LOCALITY_PID.
type StreetRecord struct {
	PID        string
	Name       string
	TypeCode   string
	SuffixCode string
	ClassCode  string
}

// SiteGeocode is one ADDRESS_SITE_GEOCODE row joined via ADDRESS_SITE_PID.
type SiteGeocode struct {
	TypeCode        string
	ReliabilityCode string
	Latitude        string
	Longitude       string
}

// DefaultGeocode is one ADDRESS_DEFAULT_GEOCODE row joined via
// ADDRESS_DETAIL_PID.
type DefaultGeocode struct {
	TypeCode  string
	Latitude  string
	Longitude string
}

// Satellites carries the joined records for one address-detail row.
type Satellites struct {
	Locality        *LocalityRecord
	Street          *StreetRecord
	State           State
	SiteGeocodes    []SiteGeocode
	DefaultGeocodes []DefaultGeocode
}

// Mapper turns raw ADDRESS_DETAIL rows plus their satellites into indexable
// documents. It is pure: the same row and satellites always produce the
// same document.
type Mapper struct {
	idx       *AuthorityIndex
	enableGeo bool
	log       *zap.Logger
}

// NewMapper builds a mapper over idx. When enableGeo is false, geocode
// inputs are ignored and documents carry no geo field.
func NewMapper(idx *AuthorityIndex, enableGeo bool) *Mapper {
	return &Mapper{
		idx:       idx,
		enableGeo: enableGeo,
		log:       zap.L().With(zap.String("component", "gnaf.mapper")),
	}
}

// Map builds the document for one ADDRESS_DETAIL row. Unknown authority
// codes degrade to raw-code fallbacks; structural damage (a fifth display
// line, a geocode the mapper cannot interpret) is an error and the row
// must be skipped by the caller.
func (m *Mapper) Map(row dsv.Row, sat Satellites) (AddressDetail, error) {
	pid := strings.TrimSpace(row.Field("ADDRESS_DETAIL_PID"))
	if pid == "" {
		return AddressDetail{}, eris.New("gnaf: address detail row has no ADDRESS_DETAIL_PID")
	}
	if sat.Locality == nil {
		return AddressDetail{}, eris.Errorf("gnaf: address %s references unknown locality %q", pid, row.Field("LOCALITY_PID"))
	}

	s := StructuredAddress{
		BuildingName: row.Field("BUILDING_NAME"),
		Lot:          numberPart(row, "LOT_NUMBER"),
		Flat:         m.flatLevel(row, "FLAT", TableFlatType),
		Level:        m.flatLevel(row, "LEVEL", TableLevelType),
		Number:       numberRange(row),
		Locality: Locality{
			Name:  sat.Locality.Name,
			Class: m.idx.Resolve(TableLocalityClass, sat.Locality.ClassCode),
		},
		State:    sat.State,
		Postcode: row.Field("POSTCODE"),
	}

	if sat.Street != nil {
		s.Street = &Street{
			Name:   sat.Street.Name,
			Type:   m.idx.Resolve(TableStreetType, sat.Street.TypeCode),
			Suffix: m.idx.Resolve(TableStreetSuffix, sat.Street.SuffixCode),
			Class:  m.idx.Resolve(TableStreetClass, sat.Street.ClassCode),
		}
	}

	if raw := row.Field("CONFIDENCE"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			m.log.Warn("unparseable confidence",
				zap.String("pid", pid),
				zap.String("confidence", raw),
			)
		} else {
			s.Confidence = &n
		}
	}

	mla, err := RenderMLA(s)
	if err != nil {
		return AddressDetail{}, eris.Wrapf(err, "gnaf: address %s", pid)
	}
	smla, err := RenderSMLA(s)
	if err != nil {
		return AddressDetail{}, eris.Wrapf(err, "gnaf: address %s", pid)
	}

	doc := AddressDetail{
		PID:        pid,
		SLA:        RenderSLA(s),
		SSLA:       RenderSSLA(s),
		MLA:        mla,
		SMLA:       smla,
		Structured: s,
		Confidence: s.Confidence,
	}

	if m.enableGeo {
		geo, err := m.mapGeo(row.Field("LEVEL_GEOCODED_CODE"), sat.SiteGeocodes, sat.DefaultGeocodes)
		if err != nil {
			return AddressDetail{}, eris.Wrapf(err, "gnaf: address %s", pid)
		}
		doc.Geo = geo
	}

	return doc, nil
}

// flatLevel reads the {prefix}_TYPE_CODE and {prefix}_NUMBER_* columns.
func (m *Mapper) flatLevel(row dsv.Row, prefix string, table Table) *FlatLevel {
	fl := FlatLevel{
		Type:   m.idx.Resolve(table, row.Field(prefix+"_TYPE_CODE")),
		Prefix: row.Field(prefix + "_NUMBER_PREFIX"),
		Number: row.Field(prefix + "_NUMBER"),
		Suffix: row.Field(prefix + "_NUMBER_SUFFIX"),
	}
	if fl.Type == nil && fl.CompactNumber() == "" {
		return nil
	}
	return &fl
}

// numberPart reads a {prefix}_PREFIX / {prefix} / {prefix}_SUFFIX triplet.
func numberPart(row dsv.Row, prefix string) *NumberPart {
	n := NumberPart{
		Prefix: row.Field(prefix + "_PREFIX"),
		Number: row.Field(prefix),
		Suffix: row.Field(prefix + "_SUFFIX"),
	}
	if n.Empty() {
		return nil
	}
	return &n
}

func numberRange(row dsv.Row) *NumberRange {
	first := numberPart(row, "NUMBER_FIRST")
	if first == nil {
		return nil
	}
	return &NumberRange{NumberPart: *first, Last: numberPart(row, "NUMBER_LAST")}
}

// mapGeo folds the joined geocode rows into one bundle. Site-level entries
// precede defaults and only the first default-sourced entry is flagged.
// Attributes the mapper cannot interpret reject the whole bundle.
func (m *Mapper) mapGeo(levelCode string, sites []SiteGeocode, defaults []DefaultGeocode) (*Geo, error) {
	if len(sites) == 0 && len(defaults) == 0 {
		return nil, nil
	}

	geo := &Geo{}
	if levelCode != "" {
		rank, err := strconv.Atoi(levelCode)
		if err != nil {
			return nil, eris.Errorf("gnaf: unrecognised geocoded level %q", levelCode)
		}
		name, _ := m.idx.Lookup(TableGeocodedLevelType, levelCode)
		geo.Level = &GeoLevel{Code: rank, Name: name}
	}

	for _, g := range sites {
		pt, err := m.geocodePoint(g.Latitude, g.Longitude, g.TypeCode, g.ReliabilityCode, false)
		if err != nil {
			return nil, err
		}
		geo.Geocodes = append(geo.Geocodes, pt)
	}
	for i, g := range defaults {
		pt, err := m.geocodePoint(g.Latitude, g.Longitude, g.TypeCode, "", i == 0)
		if err != nil {
			return nil, err
		}
		geo.Geocodes = append(geo.Geocodes, pt)
	}
	return geo, nil
}

func (m *Mapper) geocodePoint(lat, lon, typeCode, reliabilityCode string, isDefault bool) (GeocodePoint, error) {
	latitude, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return GeocodePoint{}, eris.Errorf("gnaf: unrecognised latitude %q", lat)
	}
	longitude, err := strconv.ParseFloat(lon, 64)
	if err != nil {
		return GeocodePoint{}, eris.Errorf("gnaf: unrecognised longitude %q", lon)
	}
	if typeCode != "" {
		if _, ok := m.idx.Lookup(TableGeocodeType, typeCode); !ok && m.idx.Len(TableGeocodeType) > 0 {
			return GeocodePoint{}, eris.Errorf("gnaf: unrecognised geocode type %q", typeCode)
		}
	}
	return GeocodePoint{
		Latitude:    latitude,
		Longitude:   longitude,
		IsDefault:   isDefault,
		Reliability: m.idx.Resolve(TableGeocodeReliability, reliabilityCode),
		Type:        m.idx.Resolve(TableGeocodeType, typeCode),
	}, nil
}

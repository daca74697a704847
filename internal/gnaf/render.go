package gnaf

import (
	"strings"

	"github.com/rotisserie/eris"
)

// maxDisplayLines bounds the multi-line renderings. A fifth line means the
// source row is malformed.
const maxDisplayLines = 4

// RenderSLA renders the single-line address: level, building, flat, then
// lot-or-number with street, then locality, state and postcode. Output is
// upper-cased and deterministic for a given structured address.
func RenderSLA(s StructuredAddress) string {
	var parts []string
	if p := flatLevelText(s.Level); p != "" {
		parts = append(parts, p)
	}
	if s.BuildingName != "" {
		parts = append(parts, s.BuildingName)
	}
	if p := flatLevelText(s.Flat); p != "" {
		parts = append(parts, p)
	}
	if p := siteText(s); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, localityText(s))
	return strings.ToUpper(strings.Join(parts, ", "))
}

// RenderSSLA renders the short single-line address: the level and flat
// numbers slash-joined onto the compact street number.
func RenderSSLA(s StructuredAddress) string {
	var nums []string
	if s.Level != nil && s.Level.CompactNumber() != "" {
		nums = append(nums, s.Level.CompactNumber())
	}
	if s.Flat != nil && s.Flat.CompactNumber() != "" {
		nums = append(nums, s.Flat.CompactNumber())
	}
	if n := numberText(s); n != "" {
		nums = append(nums, n)
	}

	var parts []string
	site := strings.TrimSpace(strings.Join(nums, "/") + " " + streetText(s.Street))
	if site != "" {
		parts = append(parts, site)
	}
	parts = append(parts, localityText(s))
	return strings.ToUpper(strings.Join(parts, ", "))
}

// RenderMLA renders the 1-4 display lines: level and flat grouped on one
// line, building name, number with street, then locality. A fifth line is
// a structural error.
func RenderMLA(s StructuredAddress) ([]string, error) {
	var lines []string

	var levelFlat []string
	if p := flatLevelText(s.Level); p != "" {
		levelFlat = append(levelFlat, p)
	}
	if p := flatLevelText(s.Flat); p != "" {
		levelFlat = append(levelFlat, p)
	}
	if len(levelFlat) > 0 {
		lines = append(lines, strings.Join(levelFlat, ", "))
	}
	if s.BuildingName != "" {
		lines = append(lines, s.BuildingName)
	}
	if p := siteText(s); p != "" {
		lines = append(lines, p)
	}
	lines = append(lines, localityText(s))

	return upperLines(lines)
}

// RenderSMLA renders the shortened display lines: building, the short
// number with street, then locality.
func RenderSMLA(s StructuredAddress) ([]string, error) {
	var lines []string
	if s.BuildingName != "" {
		lines = append(lines, s.BuildingName)
	}

	var nums []string
	if s.Level != nil && s.Level.CompactNumber() != "" {
		nums = append(nums, s.Level.CompactNumber())
	}
	if s.Flat != nil && s.Flat.CompactNumber() != "" {
		nums = append(nums, s.Flat.CompactNumber())
	}
	if n := numberText(s); n != "" {
		nums = append(nums, n)
	}
	if site := strings.TrimSpace(strings.Join(nums, "/") + " " + streetText(s.Street)); site != "" {
		lines = append(lines, site)
	}

	lines = append(lines, localityText(s))
	return upperLines(lines)
}

func upperLines(lines []string) ([]string, error) {
	if len(lines) > maxDisplayLines {
		return nil, eris.Errorf("gnaf: address renders to %d display lines", len(lines))
	}
	for i := range lines {
		lines[i] = strings.ToUpper(lines[i])
	}
	return lines, nil
}

// flatLevelText renders "LEVEL 25", "TOWER 3", or a bare number when the
// type code is absent.
func flatLevelText(fl *FlatLevel) string {
	if fl == nil {
		return ""
	}
	var parts []string
	if fl.Type != nil {
		parts = append(parts, fl.Type.Display())
	}
	if n := fl.CompactNumber(); n != "" {
		parts = append(parts, n)
	}
	return strings.Join(parts, " ")
}

// siteText renders the lot-or-number with the street, e.g. "300 BARANGAROO AV".
func siteText(s StructuredAddress) string {
	var parts []string
	if n := numberText(s); n != "" {
		parts = append(parts, n)
	} else if s.Lot != nil {
		parts = append(parts, "LOT "+s.Lot.Compact())
	}
	if st := streetText(s.Street); st != "" {
		parts = append(parts, st)
	}
	return strings.Join(parts, " ")
}

func numberText(s StructuredAddress) string {
	if s.Number == nil {
		return ""
	}
	text := s.Number.Compact()
	if s.Number.Last != nil && !s.Number.Last.Empty() {
		text += "-" + s.Number.Last.Compact()
	}
	return text
}

// streetText renders the street name with its resolved type and suffix.
// Unknown codes render as the raw code.
func streetText(st *Street) string {
	if st == nil {
		return ""
	}
	parts := []string{st.Name}
	if st.Type != nil {
		parts = append(parts, st.Type.Display())
	}
	if st.Suffix != nil {
		parts = append(parts, st.Suffix.Display())
	}
	return strings.Join(parts, " ")
}

// localityText renders "BARANGAROO NSW 2000".
func localityText(s StructuredAddress) string {
	parts := []string{s.Locality.Name}
	if s.State.Abbreviation != "" {
		parts = append(parts, s.State.Abbreviation)
	}
	if s.Postcode != "" {
		parts = append(parts, s.Postcode)
	}
	return strings.Join(parts, " ")
}

package gnaf

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/addresskit/addresskit/internal/dsv"
)

// Table names an authority code table. The values match the {NAME} segment
// of Authority_Code_{NAME}_AUT_psv.psv.
type Table string

const (
	TableFlatType           Table = "FLAT_TYPE"
	TableLevelType          Table = "LEVEL_TYPE"
	TableStreetType         Table = "STREET_TYPE"
	TableStreetClass        Table = "STREET_CLASS"
	TableStreetSuffix       Table = "STREET_SUFFIX"
	TableLocalityClass      Table = "LOCALITY_CLASS"
	TableGeocodeReliability Table = "GEOCODE_RELIABILITY"
	TableGeocodeType        Table = "GEOCODE_TYPE"
	TableGeocodedLevelType  Table = "GEOCODED_LEVEL_TYPE"
)

// Tables lists every authority table the index loads.
var Tables = []Table{
	TableFlatType,
	TableLevelType,
	TableStreetType,
	TableStreetClass,
	TableStreetSuffix,
	TableLocalityClass,
	TableGeocodeReliability,
	TableGeocodeType,
	TableGeocodedLevelType,
}

// synonymTables contribute code/name pairs to the search analyzer: the
// tables whose codes appear in rendered address text.
var synonymTables = []Table{
	TableStreetType,
	TableFlatType,
	TableLevelType,
	TableStreetSuffix,
}

// AuthorityIndex holds the code-to-name lookup tables loaded from a
// release's Authority Code files. It is built once per ingestion run and
// read-only afterwards, so lookups need no locking.
type AuthorityIndex struct {
	tables map[Table]map[string]string
	log    *zap.Logger
}

// NewAuthorityIndex returns an empty index.
func NewAuthorityIndex() *AuthorityIndex {
	return &AuthorityIndex{
		tables: make(map[Table]map[string]string, len(Tables)),
		log:    zap.L().With(zap.String("component", "gnaf.authority")),
	}
}

// LoadTable reads one Authority_Code_*_AUT_psv.psv stream (CODE|NAME|
// DESCRIPTION) into the index, replacing any previous content for table.
func (ai *AuthorityIndex) LoadTable(ctx context.Context, table Table, r io.Reader) error {
	entries := make(map[string]string)
	res, err := dsv.Stream(ctx, r, dsv.Options{Delimiter: '|'}, func(ctx context.Context, rows []dsv.Row) error {
		for _, row := range rows {
			code := strings.TrimSpace(row.Field("CODE"))
			if code == "" {
				continue
			}
			entries[code] = strings.TrimSpace(row.Field("NAME"))
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "gnaf: load authority table %s", table)
	}

	ai.tables[table] = entries
	ai.log.Debug("authority table loaded",
		zap.String("table", string(table)),
		zap.Int("codes", len(entries)),
		zap.Int64("rows", res.Rows),
	)
	return nil
}

// Lookup returns the name for code, reporting whether the code is defined.
func (ai *AuthorityIndex) Lookup(table Table, code string) (string, bool) {
	name, ok := ai.tables[table][code]
	return name, ok && name != ""
}

// Resolve returns a CodeName for code. Codes missing from the table keep an
// empty Name and emit a diagnostic; rendering falls back to the raw code.
// Empty codes resolve to nil.
func (ai *AuthorityIndex) Resolve(table Table, code string) *CodeName {
	if code == "" {
		return nil
	}
	name, ok := ai.Lookup(table, code)
	if !ok {
		ai.log.Warn("authority code has no name",
			zap.String("table", string(table)),
			zap.String("code", code),
		)
	}
	return &CodeName{Code: code, Name: name}
}

// Len reports the number of codes loaded for table.
func (ai *AuthorityIndex) Len(table Table) int {
	return len(ai.tables[table])
}

// Synonyms returns the analyzer synonym list: one "CODE,NAME" entry per
// abbreviation pair in the street-type, flat-type, level-type and
// street-suffix tables, sorted and deduplicated. Pairs where the code and
// name coincide carry no signal and are dropped.
func (ai *AuthorityIndex) Synonyms() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, table := range synonymTables {
		for code, name := range ai.tables[table] {
			if name == "" || strings.EqualFold(code, name) {
				continue
			}
			entry := code + "," + name
			if _, dup := seen[entry]; dup {
				continue
			}
			seen[entry] = struct{}{}
			out = append(out, entry)
		}
	}
	sort.Strings(out)
	return out
}

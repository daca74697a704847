package gnaf

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

const (
	authorityDirName = "Authority Code"
	standardDirName  = "Standard"
	countsFileName   = "Counts.csv"
)

// Standard-table file stems, in the order the loader must consume them:
// satellites before the detail rows that join against them.
const (
	FileState          = "STATE"
	FileLocality       = "LOCALITY"
	FileStreetLocality = "STREET_LOCALITY"
	FileSiteGeocode    = "ADDRESS_SITE_GEOCODE"
	FileDefaultGeocode = "ADDRESS_DEFAULT_GEOCODE"
	FileAddressDetail  = "ADDRESS_DETAIL"
)

// Release is an extracted G-NAF tree rooted at the directory that holds the
// Authority Code and Standard subdirectories.
type Release struct {
	Root string
}

// OpenRelease locates the data root inside dir. Release zips nest the data
// under a dated directory, so the tree is walked until a directory with an
// Authority Code child is found.
func OpenRelease(dir string) (*Release, error) {
	var root string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == authorityDirName {
			root = filepath.Dir(path)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "gnaf: scan %s", dir)
	}
	if root == "" {
		return nil, eris.Errorf("gnaf: no %q directory under %s", authorityDirName, dir)
	}
	return &Release{Root: root}, nil
}

// AuthorityFile returns the path of one authority table file.
func (r *Release) AuthorityFile(table Table) string {
	name := fmt.Sprintf("Authority_Code_%s_AUT_psv.psv", table)
	return filepath.Join(r.Root, authorityDirName, name)
}

// StandardFile returns the path of one per-state constituent file, e.g.
// Standard/NSW_ADDRESS_DETAIL_psv.psv.
func (r *Release) StandardFile(state, stem string) string {
	return filepath.Join(r.Root, standardDirName, fmt.Sprintf("%s_%s_psv.psv", state, stem))
}

// StandardName returns the bare file name for a per-state constituent file,
// as it appears in the release's count summary.
func StandardName(state, stem string) string {
	return fmt.Sprintf("%s_%s_psv.psv", state, stem)
}

// CountsFile returns the path of the row-count summary shipped with the
// release. The file sits beside the data root in most releases; fall back
// to the root itself.
func (r *Release) CountsFile() string {
	candidates := []string{
		filepath.Join(r.Root, countsFileName),
		filepath.Join(filepath.Dir(r.Root), countsFileName),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

// States lists the region codes present in the Standard directory, derived
// from the *_STATE_psv.psv files.
func (r *Release) States() ([]string, error) {
	pattern := filepath.Join(r.Root, standardDirName, "*_"+FileState+"_psv.psv")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, eris.Wrap(err, "gnaf: list state files")
	}
	states := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		state := base[:len(base)-len("_"+FileState+"_psv.psv")]
		states = append(states, state)
	}
	return states, nil
}

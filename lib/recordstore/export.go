package recordstore

import (
	"path/filepath"

	"github.com/gocarina/gocsv"
	"github.com/spf13/afero"
)

// WriteCSV renders rows to a csv file, creating parent directories as
// needed. rows must be a slice of a struct carrying csv tags.
func WriteCSV(fs afero.Fs, path string, rows any) error {
	err := fs.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return err
	}
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	err = gocsv.Marshal(rows, f)
	cerr := f.Close()
	if err != nil {
		return err
	}
	return cerr
}

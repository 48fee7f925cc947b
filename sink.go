package ftpget

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// outputFileMode matches the historical tool: owner read/write only.
const outputFileMode os.FileMode = 0o600

// createOutput opens name for writing, creating it or truncating an existing
// file so a repeated download rewrites rather than appends.
func createOutput(fs afero.Fs, name string) (afero.File, error) {
	f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, outputFileMode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

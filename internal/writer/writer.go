package writer

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/example/menu-labeler/internal/labels"
)

// Indent is the indentation used for the output document.
const Indent = "    "

// Encode renders the result set exactly as Write stores it.
func Encode(results *labels.ResultSet) ([]byte, error) {
	data, err := json.MarshalIndent(results, "", Indent)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Write serializes the result set to path in a single write. Errors wrap
// labels.ErrWrite and are meant to be fatal for the run.
func Write(path string, results *labels.ResultSet) error {
	data, err := Encode(results)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", labels.ErrWrite, err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", labels.ErrWrite, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: %v", labels.ErrWrite, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", labels.ErrWrite, err)
	}
	return nil
}

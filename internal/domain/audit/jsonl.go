package audit

import (
	"encoding/json"
	"io"
)

// WriteJSONLines writes entries to w in the given order, one JSON document
// per line.
func WriteJSONLines(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return err
		}
	}
	return nil
}

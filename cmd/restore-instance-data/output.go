package main

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return exitWith(exitUnexpected, errors.Wrap(err, "json encode"))
	}
	return nil
}

package report

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/liliang-cn/rgrep/pkg/search"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Document is the JSON shape of a finished run.
type Document struct {
	*search.Report
	Summary Summary `json:"summary"`
}

// WriteJSON writes the report and its summary as indented JSON. Passwords
// are masked by inventory.Secret.
func WriteJSON(w io.Writer, r *search.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Document{Report: r, Summary: Summarize(r)})
}

package report

import (
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// KindDocument is one line of the identify command.
type KindDocument struct {
	File      string `json:"file" yaml:"file"`
	Name      string `json:"name" yaml:"name"`
	Category  string `json:"category" yaml:"category"`
	Extension string `json:"extension,omitempty" yaml:"extension,omitempty"`
	MIME      string `json:"mime" yaml:"mime"`
	Warning   string `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// RenderKinds writes the identify results.
func RenderKinds(w io.Writer, format string, docs []KindDocument, opts Options) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		return JSON(w, docs)
	case FormatYAML:
		return YAML(w, docs)
	case FormatText, "":
	default:
		return errors.Errorf("unknown output format %q", format)
	}

	r := &Reporter{w: w, color: opts.Color}
	for _, d := range docs {
		r.printf("%s: %s (%s)\n", d.File, d.Name, d.MIME)
		if d.Warning != "" {
			r.paint(color.FgYellow).Fprintf(w, "  ! %s\n", d.Warning)
		}
	}
	return r.err
}

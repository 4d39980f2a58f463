// Package report renders analysis results for people and for machines.
package report

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	pe "github.com/wanglei-coder/peinspect"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Document is one analyzed file together with what the CLI learned about
// it outside the PE engine.
type Document struct {
	Analysis    *pe.AnalysisResult `json:"analysis" yaml:"analysis"`
	FileType    string             `json:"fileType,omitempty" yaml:"fileType,omitempty"`
	OverlayType string             `json:"overlayType,omitempty" yaml:"overlayType,omitempty"`
	Warnings    []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Options controls the text report.
type Options struct {
	Verbose bool
	Color   bool
}

// Render writes docs to w in the given format. Structured formats emit a
// single object for one document and a list otherwise.
func Render(w io.Writer, format string, docs []*Document, opts Options) error {
	switch strings.ToLower(format) {
	case FormatText, "":
		for _, doc := range docs {
			if err := NewReporter(w, doc, opts).Print(); err != nil {
				return err
			}
		}
		return nil
	case FormatJSON:
		return JSON(w, payload(docs))
	case FormatYAML:
		return YAML(w, payload(docs))
	}
	return errors.Errorf("unknown output format %q", format)
}

func payload(docs []*Document) interface{} {
	if len(docs) == 1 {
		return docs[0]
	}
	return docs
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failure to encode JSON")
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return errors.Wrap(err, "failure to write report")
}

// YAML writes v as a YAML document.
func YAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "failure to encode YAML")
	}
	return errors.Wrap(enc.Close(), "failure to encode YAML")
}

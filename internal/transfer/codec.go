// Package transfer encodes a whole ledger document for export and decodes
// partial documents for import. JSON is the native format; YAML is offered
// for hand editing.
package transfer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"skarbnik/internal/core"
)

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Format names a serialisation of the document.
type Format string

var ErrUnknownFormat = errors.New("unknown transfer format")

// ParseFormat accepts json, yaml or yml (case-insensitive). Empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// FormatError reports a blob that could not be decoded.
type FormatError struct {
	Format Format
	Err    error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed %s document: %v", e.Format, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Patch is a decoded import. A nil field was absent (or null) in the blob
// and leaves the current value alone.
type Patch struct {
	Students    *[]core.Student    `json:"students" yaml:"students"`
	Collections *[]core.Collection `json:"collections" yaml:"collections"`
	Refunds     *[]core.Refund     `json:"refunds" yaml:"refunds"`
	ThemeKey    *string            `json:"themeKey" yaml:"themeKey"`
}

// Empty reports whether applying the patch would change nothing.
func (p Patch) Empty() bool {
	return p.Students == nil && p.Collections == nil && p.Refunds == nil && p.ThemeKey == nil
}

// Encode serialises every field of the document, empty ones included.
func Encode(doc core.Document, f Format) ([]byte, error) {
	doc = doc.Clone()
	doc.Normalize()
	switch f {
	case FormatJSON, "":
		return json.Marshal(doc)
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// Decode parses a blob into a patch. The top level must be an object.
func Decode(blob []byte, f Format) (Patch, error) {
	var p Patch
	switch f {
	case FormatJSON, "":
		f = FormatJSON
		trimmed := bytes.TrimSpace(blob)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return Patch{}, &FormatError{Format: f, Err: errors.New("top level is not an object")}
		}
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return Patch{}, &FormatError{Format: f, Err: err}
		}
	case FormatYAML:
		var root yaml.Node
		if err := yaml.Unmarshal(blob, &root); err != nil {
			return Patch{}, &FormatError{Format: f, Err: err}
		}
		if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
			return Patch{}, &FormatError{Format: f, Err: errors.New("top level is not a mapping")}
		}
		if err := root.Content[0].Decode(&p); err != nil {
			return Patch{}, &FormatError{Format: f, Err: err}
		}
	default:
		return Patch{}, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
	return p, nil
}

// Apply returns a copy of doc with the present fields replaced. An empty
// theme key counts as absent.
func (p Patch) Apply(doc core.Document) core.Document {
	out := doc.Clone()
	if p.Students != nil {
		out.Students = append([]core.Student{}, (*p.Students)...)
	}
	if p.Collections != nil {
		out.Collections = append([]core.Collection{}, (*p.Collections)...)
	}
	if p.Refunds != nil {
		out.Refunds = append([]core.Refund{}, (*p.Refunds)...)
	}
	if p.ThemeKey != nil && *p.ThemeKey != "" {
		out.ThemeKey = *p.ThemeKey
	}
	out.Normalize()
	return out
}

// Import decodes blob and applies it on top of doc. On error doc is
// returned unchanged.
func Import(doc core.Document, blob []byte, f Format) (core.Document, error) {
	p, err := Decode(blob, f)
	if err != nil {
		return doc, err
	}
	return p.Apply(doc), nil
}

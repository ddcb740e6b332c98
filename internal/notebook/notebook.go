// Package notebook reads Jupyter .ipynb documents. Only what the server
// needs is decoded: cell types and sources.
package notebook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrCellNotFound is returned when a code cell index is out of range.
	ErrCellNotFound = errors.New("notebook: cell not found")

	// ErrInvalidDocument is returned for bytes that are not a notebook.
	ErrInvalidDocument = errors.New("notebook: invalid document")
)

// MaxTitleLength caps derived cell titles, in runes.
const MaxTitleLength = 80

// CodeCell summarizes one code cell.
type CodeCell struct {
	// Index is the 0-based position among code cells only.
	Index int    `json:"index"`
	Title string `json:"title"`
}

// Cell is one code cell with its source.
type Cell struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Source string `json:"source"`
}

type document struct {
	Cells []rawCell `json:"cells"`
}

type rawCell struct {
	CellType string          `json:"cell_type"`
	Source   json.RawMessage `json:"source"`
}

// Validate checks that b is a JSON object with a cells array.
func Validate(b []byte) error {
	_, err := parse(b)
	return err
}

// ListCodeCells returns the code cells of a notebook in document order.
func ListCodeCells(b []byte) ([]CodeCell, error) {
	cells, err := codeCells(b)
	if err != nil {
		return nil, err
	}
	out := make([]CodeCell, len(cells))
	for i, c := range cells {
		out[i] = CodeCell{Index: c.Index, Title: c.Title}
	}
	return out, nil
}

// ReadCell returns the code cell at index, counted among code cells only.
func ReadCell(b []byte, index int) (Cell, error) {
	cells, err := codeCells(b)
	if err != nil {
		return Cell{}, err
	}
	if index < 0 || index >= len(cells) {
		return Cell{}, fmt.Errorf("%w: index %d of %d", ErrCellNotFound, index, len(cells))
	}
	return cells[index], nil
}

func parse(b []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Cells == nil {
		return document{}, fmt.Errorf("%w: missing cells array", ErrInvalidDocument)
	}
	return doc, nil
}

// codeCells walks the document once, remembering the last markdown heading
// so each code cell can borrow it as a title.
func codeCells(b []byte) ([]Cell, error) {
	doc, err := parse(b)
	if err != nil {
		return nil, err
	}

	var (
		out     []Cell
		heading string
	)
	for _, rc := range doc.Cells {
		src, err := joinSource(rc.Source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}

		switch rc.CellType {
		case "markdown":
			if h := lastHeading(src); h != "" {
				heading = h
			}
		case "code":
			idx := len(out)
			title := heading
			if title == "" {
				title = firstLine(src)
			}
			if title == "" {
				title = fmt.Sprintf("Cell %d", idx+1)
			}
			out = append(out, Cell{Index: idx, Title: truncate(title), Source: src})
			heading = ""
		}
	}
	if out == nil {
		out = []Cell{}
	}
	return out, nil
}

// joinSource accepts both encodings nbformat allows: a string or a list of
// strings.
func joinSource(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []string
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("cell source: %w", err)
	}
	return strings.Join(parts, ""), nil
}

func lastHeading(src string) string {
	var h string
	for line := range strings.Lines(src) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if t := strings.TrimSpace(strings.TrimLeft(line, "#")); t != "" {
				h = t
			}
		}
	}
	return h
}

func firstLine(src string) string {
	for line := range strings.Lines(src) {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		if line != "" {
			return line
		}
	}
	return ""
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= MaxTitleLength {
		return s
	}
	r := []rune(s)
	return string(r[:MaxTitleLength-3]) + "..."
}

package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"code.sajari.com/docconv"
)

func extractDoc(_ context.Context, data []byte) ([]Unit, error) {
	text, meta, err := docconv.ConvertDoc(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("convert doc: %w", err)
	}
	return []Unit{{Text: text, Metadata: officeMeta(meta)}}, nil
}

func extractDocx(_ context.Context, data []byte) ([]Unit, error) {
	text, meta, err := docconv.ConvertDocx(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("convert docx: %w", err)
	}
	return []Unit{{Text: text, Metadata: officeMeta(meta)}}, nil
}

func officeMeta(meta map[string]string) map[string]string {
	out := map[string]string{}
	if title := strings.TrimSpace(meta["Title"]); title != "" {
		out["doc_title"] = title
	}
	return out
}

type xlsxWorkbook struct {
	Sheets []struct {
		Name string `xml:"name,attr"`
		RID  string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sheets>sheet"`
}

type xlsxRels struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type xlsxSharedStrings struct {
	Items []struct {
		T string `xml:"t"`
		R []struct {
			T string `xml:"t"`
		} `xml:"r"`
	} `xml:"si"`
}

type xlsxSheet struct {
	Rows []struct {
		Cells []struct {
			Ref    string `xml:"r,attr"`
			Type   string `xml:"t,attr"`
			Value  string `xml:"v"`
			Inline struct {
				T string `xml:"t"`
			} `xml:"is"`
		} `xml:"c"`
	} `xml:"sheetData>row"`
}

// extractXlsx yields one unit per non-empty sheet; each data row becomes a
// block of "header: value" lines keyed by the first row.
func extractXlsx(_ context.Context, data []byte) ([]Unit, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	var wb xlsxWorkbook
	if err := decodeZipXML(zr, "xl/workbook.xml", &wb); err != nil {
		return nil, err
	}
	var rels xlsxRels
	if err := decodeZipXML(zr, "xl/_rels/workbook.xml.rels", &rels); err != nil {
		return nil, err
	}
	targets := make(map[string]string, len(rels.Items))
	for _, r := range rels.Items {
		target := strings.TrimPrefix(r.Target, "/")
		if !strings.HasPrefix(target, "xl/") {
			target = path.Join("xl", target)
		}
		targets[r.ID] = target
	}
	var shared xlsxSharedStrings
	if findZipFile(zr, "xl/sharedStrings.xml") != nil {
		if err := decodeZipXML(zr, "xl/sharedStrings.xml", &shared); err != nil {
			return nil, err
		}
	}
	strs := make([]string, len(shared.Items))
	for i, si := range shared.Items {
		var b strings.Builder
		b.WriteString(si.T)
		for _, r := range si.R {
			b.WriteString(r.T)
		}
		strs[i] = b.String()
	}

	var units []Unit
	for _, s := range wb.Sheets {
		target, ok := targets[s.RID]
		if !ok {
			continue
		}
		var sheet xlsxSheet
		if err := decodeZipXML(zr, target, &sheet); err != nil {
			return nil, err
		}
		var rows [][]string
		for _, row := range sheet.Rows {
			var cells []string
			for i, c := range row.Cells {
				col := columnIndex(c.Ref, i)
				for len(cells) <= col {
					cells = append(cells, "")
				}
				cells[col] = cellValue(c.Type, c.Value, c.Inline.T, strs)
			}
			rows = append(rows, cells)
		}
		text := rowsToText(rows)
		if strings.TrimSpace(text) == "" {
			continue
		}
		units = append(units, Unit{Text: text, Metadata: map[string]string{"sheet": s.Name}})
	}
	return units, nil
}

func cellValue(typ, value, inline string, shared []string) string {
	switch typ {
	case "s":
		var idx int
		if _, err := fmt.Sscanf(value, "%d", &idx); err == nil && idx >= 0 && idx < len(shared) {
			return shared[idx]
		}
		return ""
	case "inlineStr":
		return inline
	case "b":
		if value == "1" {
			return "TRUE"
		}
		return "FALSE"
	default:
		return value
	}
}

// columnIndex converts the letters of a cell reference (e.g. "AB12") to a
// zero-based column, falling back to the cell's position.
func columnIndex(ref string, fallback int) int {
	col := 0
	n := 0
	for _, r := range ref {
		if r < 'A' || r > 'Z' {
			break
		}
		col = col*26 + int(r-'A'+1)
		n++
	}
	if n == 0 {
		return fallback
	}
	return col - 1
}

func rowsToText(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	headers := rows[0]
	if len(rows) == 1 {
		return strings.Join(headers, "\t")
	}
	blocks := make([]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if block := rowBlock(headers, row); block != "" {
			blocks = append(blocks, block)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func decodeZipXML(zr *zip.Reader, name string, v any) error {
	f := findZipFile(zr, name)
	if f == nil {
		return fmt.Errorf("xlsx part %s missing", name)
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func findZipFile(zr *zip.Reader, name string) *zip.File {
	for _, f := range zr.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

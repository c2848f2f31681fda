package spreadsheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
)

// Extensões aceitas no upload.
var AcceptedExtensions = []string{".xls", ".xlsx", ".csv"}

var ErrEmptySheet = errors.New("a planilha está vazia")

// ParseError indica upload malformado/vazio: o arquivo é rejeitado e
// nada é importado.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// Sheet é o resultado estruturado de um upload: headers mapeados para
// nomes lógicos, linhas completas (campos ausentes viram string vazia)
// e o relatório de campos esperados não encontrados.
type Sheet struct {
	Headers       []string         `json:"headers"`
	RawHeaders    []string         `json:"raw_headers"`
	Rows          []map[string]any `json:"rows"`
	SheetName     string           `json:"sheet_name"`
	MissingFields []string         `json:"missing_fields"`
}

// Parse decodifica a primeira aba do arquivo e normaliza cada linha
// para o conjunto fixo de campos. Não persiste nada.
func Parse(name string, data []byte) (*Sheet, error) {
	ext := strings.ToLower(filepath.Ext(name))

	var (
		raw       [][]string
		sheetName string
		err       error
	)
	switch ext {
	case ".xlsx":
		raw, sheetName, err = readXLSX(data)
	case ".xls":
		raw, sheetName, err = readXLS(data)
	case ".csv":
		raw, err = readCSV(data)
		sheetName = strings.TrimSuffix(filepath.Base(name), ext)
	default:
		return nil, &ParseError{Reason: fmt.Sprintf(
			"formato não suportado %q: envie um arquivo %s", ext, strings.Join(AcceptedExtensions, ", "))}
	}
	if err != nil {
		return nil, &ParseError{Reason: "erro ao ler arquivo", Err: err}
	}

	return buildSheet(raw, sheetName)
}

func readXLSX(data []byte) ([][]string, string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, "", errors.New("arquivo sem abas")
	}
	// RawCellValue preserva seriais de data em vez do texto formatado.
	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, "", err
	}
	return rows, sheetName, nil
}

func readXLS(data []byte) ([][]string, string, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, "", err
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, "", errors.New("arquivo sem abas")
	}

	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, row.LastCol())
		for j := row.FirstCol(); j < row.LastCol(); j++ {
			cells[j] = row.Col(j)
		}
		rows = append(rows, cells)
	}
	return rows, sheet.Name, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // BOM

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	if line, _, ok := strings.Cut(string(data), "\n"); ok || line != "" {
		// planilhas brasileiras costumam vir com ponto e vírgula
		if strings.Count(line, ";") > strings.Count(line, ",") {
			r.Comma = ';'
		}
	}
	return r.ReadAll()
}

func buildSheet(raw [][]string, sheetName string) (*Sheet, error) {
	if len(raw) == 0 {
		return nil, &ParseError{Reason: ErrEmptySheet.Error(), Err: ErrEmptySheet}
	}

	headerIdx := detectHeaderRow(raw)
	rawHeaders := raw[headerIdx]

	headers := make([]string, len(rawHeaders))
	for i, h := range rawHeaders {
		headers[i] = fields.ToLogical(h)
	}

	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	missing := []string{}
	for _, f := range fields.Expected {
		if !present[f] {
			missing = append(missing, f)
		}
	}

	rows := make([]map[string]any, 0, len(raw)-headerIdx-1)
	for _, line := range raw[headerIdx+1:] {
		rec := make(map[string]any, len(fields.Expected))
		for i, h := range headers {
			if h == "" {
				continue
			}
			var cell string
			if i < len(line) {
				cell = line[i]
			}
			rec[h] = coerceCell(h, cell)
		}
		for _, f := range fields.Expected {
			if _, ok := rec[f]; !ok {
				rec[f] = ""
			}
		}
		if blankRow(rec) {
			continue
		}
		rows = append(rows, rec)
	}

	return &Sheet{
		Headers:       headers,
		RawHeaders:    rawHeaders,
		Rows:          rows,
		SheetName:     sheetName,
		MissingFields: missing,
	}, nil
}

// detectHeaderRow procura, nas 3 primeiras linhas, a primeira que
// contenha algum campo esperado (ou um fragmento reconhecível de
// NCM/CEST). Sem candidata, assume a linha 0.
func detectHeaderRow(raw [][]string) int {
	limit := len(raw)
	if limit > 3 {
		limit = 3
	}
	for i := 0; i < limit; i++ {
		row := raw[i]
		if len(row) == 0 {
			continue
		}
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = strings.ToLower(strings.TrimSpace(c))
		}
		rowText := strings.Join(cells, " ")
		for _, f := range fields.Expected {
			fl := strings.ToLower(f)
			if strings.Contains(rowText, fl) {
				return i
			}
			for _, c := range cells {
				if c == fl || strings.Contains(c, "ncm") || strings.Contains(c, "cest") {
					return i
				}
			}
		}
	}
	return 0
}

// coerceCell aplica as coerções de tipo por campo. As alíquotas passam
// pela mesma heurística de percentual usada na edição e na criação
// manual; a data vira serial legado.
func coerceCell(field, cell string) any {
	if strings.TrimSpace(cell) == "" {
		return ""
	}
	return CoerceValue(field, cell)
}

// CoerceValue aplica a semântica de coerção por campo a um valor de
// qualquer origem (célula, corpo JSON, formulário): percentuais viram
// razão, datas viram serial, numéricos viram float64. A mesma regra
// vale na importação, na edição inline e na criação manual. O que não
// se reconhece passa adiante intacto.
func CoerceValue(field string, value any) any {
	switch {
	case fields.IsRatio(field):
		if n, ok := ParseNumber(value); ok {
			return PercentInputToRatio(n)
		}
	case fields.IsDate(field):
		if n, ok := ParseNumber(value); ok {
			return int(n)
		}
		if t, ok := CoerceDate(value); ok {
			return DateToSerial(t)
		}
	case fields.IsNumeric(field):
		if n, ok := ParseNumber(value); ok {
			return n
		}
	}
	return value
}

func blankRow(rec map[string]any) bool {
	for _, v := range rec {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(t) != "" {
				return false
			}
		default:
			return false
		}
	}
	return true
}

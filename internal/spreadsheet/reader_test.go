package spreadsheet

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
)

func buildXLSX(t *testing.T, rows [][]any) []byte {
	t.Helper()
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := wb.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func TestParseXLSX(t *testing.T) {
	data := buildXLSX(t, [][]any{
		{"NCM", "II", "ultima atualização", "U$/KG considerado", "Observações"},
		{"3926.90.90", 18, 45000, 12.5, "nota"},
		{"0102.21.10", 0.02, "10/05/2024", "", ""},
	})

	sheet, err := Parse("tarifas.xlsx", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sheet.Rows) != 2 {
		t.Fatalf("esperado 2 linhas, recebido %d", len(sheet.Rows))
	}

	r0 := sheet.Rows[0]
	if r0[fields.FieldNCM] != "3926.90.90" {
		t.Fatalf("NCM: %v", r0[fields.FieldNCM])
	}
	// percentual digitado como 18 vira razão já na importação
	if r0[fields.FieldII] != 0.18 {
		t.Fatalf("II deveria virar razão: %v", r0[fields.FieldII])
	}
	if r0[fields.FieldLastUpdate] != 45000 {
		t.Fatalf("serial deveria ser preservado como inteiro: %v (%T)",
			r0[fields.FieldLastUpdate], r0[fields.FieldLastUpdate])
	}
	if r0[fields.FieldUSDPerKG] != 12.5 {
		t.Fatalf("U$/KG: %v", r0[fields.FieldUSDPerKG])
	}
	// coluna desconhecida é preservada, não descartada
	if r0["Observações"] != "nota" {
		t.Fatalf("coluna extra perdida: %#v", r0)
	}

	r1 := sheet.Rows[1]
	// fração já em [0,1] não é dividida de novo
	if r1[fields.FieldII] != 0.02 {
		t.Fatalf("razão não deveria ser dividida: %v", r1[fields.FieldII])
	}
	// data por extenso vira serial
	if r1[fields.FieldLastUpdate] != 45423 {
		t.Fatalf("data BR deveria virar serial 45423: %v", r1[fields.FieldLastUpdate])
	}

	// campos esperados ausentes entram vazios e são reportados
	if r0[fields.FieldCEST] != "" {
		t.Fatalf("campo ausente deveria ser vazio: %v", r0[fields.FieldCEST])
	}
	found := false
	for _, m := range sheet.MissingFields {
		if m == fields.FieldCEST {
			found = true
		}
	}
	if !found {
		t.Fatalf("CEST deveria constar em MissingFields: %#v", sheet.MissingFields)
	}
}

func TestParseXLSXHeaderForaDaPrimeiraLinha(t *testing.T) {
	data := buildXLSX(t, [][]any{
		{"Tarifas de importação - atualizado em maio"},
		{},
		{"NCM", "II"},
		{"3926.90.90", 18},
	})

	sheet, err := Parse("tarifas.xlsx", data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sheet.Rows) != 1 {
		t.Fatalf("linhas de título não podem virar dados: %#v", sheet.Rows)
	}
	if sheet.Rows[0][fields.FieldNCM] != "3926.90.90" {
		t.Fatalf("linha de dados errada: %#v", sheet.Rows[0])
	}
}

func TestParseCSVPontoeVirgulaEBOM(t *testing.T) {
	csv := "\xef\xbb\xbfncm;II;PIS \n3926.90.90;18;1,65\n\n;;\n"

	sheet, err := Parse("tarifas.csv", csv2bytes(csv))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	// linhas em branco são descartadas
	if len(sheet.Rows) != 1 {
		t.Fatalf("esperado 1 linha, recebido %d: %#v", len(sheet.Rows), sheet.Rows)
	}
	r := sheet.Rows[0]
	if r[fields.FieldNCM] != "3926.90.90" {
		t.Fatalf("BOM não foi tratado: %#v", sheet.RawHeaders)
	}
	if r[fields.FieldII] != 0.18 {
		t.Fatalf("II: %v", r[fields.FieldII])
	}
	// "PIS " com espaço e vírgula decimal
	if r[fields.FieldPIS] != 0.0165 {
		t.Fatalf("PIS: %v", r[fields.FieldPIS])
	}
	if sheet.SheetName != "tarifas" {
		t.Fatalf("nome da aba de CSV: %q", sheet.SheetName)
	}
}

func csv2bytes(s string) []byte { return []byte(s) }

func TestParseCSVVirgula(t *testing.T) {
	csv := "ncm,II\n3926.90.90,18\n"
	sheet, err := Parse("tarifas.csv", []byte(csv))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(sheet.Rows) != 1 || sheet.Rows[0][fields.FieldII] != 0.18 {
		t.Fatalf("CSV com vírgula: %#v", sheet.Rows)
	}
}

func TestParseVazioOuInvalido(t *testing.T) {
	if _, err := Parse("vazio.csv", []byte("")); !errors.Is(err, ErrEmptySheet) {
		t.Fatalf("esperado ErrEmptySheet, recebido %v", err)
	}

	_, err := Parse("dados.txt", []byte("qualquer coisa"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("extensão não suportada deveria ser ParseError: %v", err)
	}
	if !strings.Contains(pe.Reason, ".txt") {
		t.Fatalf("mensagem deveria citar a extensão: %q", pe.Reason)
	}

	if _, err := Parse("corrompido.xlsx", []byte("isto não é um zip")); err == nil {
		t.Fatal("xlsx corrompido deveria falhar")
	}
}

func TestExportRoundTrip(t *testing.T) {
	rows := []map[string]any{
		{
			fields.FieldNCM: "3926.90.90",
			fields.FieldII:  0.18,
			"Observações":   "nota",
		},
	}
	data, name, err := Export(rows)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasPrefix(name, "dados_exportados_") {
		t.Fatalf("nome do arquivo: %q", name)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("reabrir workbook: %v", err)
	}
	defer wb.Close()

	got, err := wb.GetRows(wb.GetSheetName(0))
	if err != nil {
		t.Fatalf("get rows: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("esperado cabeçalho + 1 linha, recebido %d", len(got))
	}
	// cabeçalho: campos fixos na ordem canônica, extras no final
	if got[0][0] != fields.FieldNCM {
		t.Fatalf("primeira coluna deveria ser NCM: %#v", got[0])
	}
	last := got[0][len(got[0])-1]
	if last != "Observações" {
		t.Fatalf("coluna extra deveria ir para o final: %#v", got[0])
	}
}

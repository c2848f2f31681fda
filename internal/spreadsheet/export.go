package spreadsheet

import (
	"fmt"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
)

const exportSheetName = "Dados"

// Export serializa o conjunto completo de registros (não a visão
// filtrada) em um workbook de uma aba. Timestamps nativos do banco
// viram texto de data/hora pt-BR. O nome do arquivo leva a data atual.
func Export(rows []map[string]any) ([]byte, string, error) {
	headers := exportHeaders(rows)

	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), exportSheetName)

	cell, _ := excelize.CoordinatesToCellName(1, 1)
	if err := f.SetSheetRow(exportSheetName, cell, &headers); err != nil {
		return nil, "", err
	}
	for i, row := range rows {
		values := make([]any, len(headers))
		for j, h := range headers {
			values[j] = exportValue(row[h])
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportSheetName, cell, &values); err != nil {
			return nil, "", err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, "", err
	}
	name := fmt.Sprintf("dados_exportados_%s.xlsx", time.Now().Format("2006-01-02"))
	return buf.Bytes(), name, nil
}

// exportHeaders devolve os campos fixos na ordem canônica, seguidos de
// qualquer chave extra encontrada nas linhas (colunas desconhecidas
// preservadas na importação, descrição, timestamps).
func exportHeaders(rows []map[string]any) []string {
	known := make(map[string]bool, len(fields.Expected))
	headers := make([]string, len(fields.Expected))
	copy(headers, fields.Expected)
	for _, f := range fields.Expected {
		known[f] = true
	}

	extra := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			if !known[k] {
				extra[k] = true
			}
		}
	}
	extras := make([]string, 0, len(extra))
	for k := range extra {
		extras = append(extras, k)
	}
	sort.Strings(extras)
	return append(headers, extras...)
}

func exportValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.Format("02/01/2006 15:04:05")
	case primitive.DateTime:
		return t.Time().Format("02/01/2006 15:04:05")
	}
	return v
}

package handlers

// O corpo de criação/edição é um objeto plano campo lógico -> valor.
// Não há struct fixa porque colunas desconhecidas preservadas na
// importação também são editáveis.
type recordBody map[string]any

type batchDeleteDTO struct {
	IDs     []string `json:"ids"`
	Confirm bool     `json:"confirm"`
}

type rowDTO struct {
	ID      string            `json:"id"`
	Fields  map[string]any    `json:"fields"`
	Display map[string]string `json:"display,omitempty"`
}

type listResponseDTO struct {
	Total      int      `json:"total"`
	TotalPages int      `json:"total_pages"`
	Page       int      `json:"page"`
	Rows       []rowDTO `json:"rows"`
}

type importResultDTO struct {
	Inserted      int      `json:"inserted"`
	ImportID      string   `json:"import_id,omitempty"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

type importPreviewDTO struct {
	SheetName     string           `json:"sheet_name"`
	Headers       []string         `json:"headers"`
	RawHeaders    []string         `json:"raw_headers"`
	MissingFields []string         `json:"missing_fields,omitempty"`
	TotalRows     int              `json:"total_rows"`
	Sample        []map[string]any `json:"sample"`
}

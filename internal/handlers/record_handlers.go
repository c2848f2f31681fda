package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
	"github.com/ravicomex/ncm-dashboard/internal/grid"
	"github.com/ravicomex/ncm-dashboard/internal/models"
	"github.com/ravicomex/ncm-dashboard/internal/ncm"
	"github.com/ravicomex/ncm-dashboard/internal/repository"
	"github.com/ravicomex/ncm-dashboard/internal/spreadsheet"
	"github.com/ravicomex/ncm-dashboard/internal/utils"
)

const maxUploadBytes = 32 << 20 // 32 MB por arquivo

type Repository interface {
	List(ctx context.Context, limit int64) ([]models.Record, error)
	Insert(ctx context.Context, doc map[string]any) (string, error)
	InsertRows(ctx context.Context, rows []map[string]any, fileName string, fileSize int64) (int, error)
	Update(ctx context.Context, id string, doc map[string]any) error
	Delete(ctx context.Context, id string) error
	SaveImport(ctx context.Context, imp *models.Import) (string, error)
	ImportHistory(ctx context.Context, limit int64) ([]models.Import, error)
}

type Publisher interface {
	Publish(ctx context.Context, body string, headers amqp.Table) error
	Close() error
}

type RecordHandler struct {
	Repo      Repository
	Pub       Publisher
	Grid      *grid.Grid
	NCM       *ncm.Service
	ListLimit int64
}

func NewRecordHandler(repo Repository, pub Publisher, g *grid.Grid, svc *ncm.Service, listLimit int64) *RecordHandler {
	if listLimit <= 0 {
		listLimit = 1000
	}
	return &RecordHandler{Repo: repo, Pub: pub, Grid: g, NCM: svc, ListLimit: listLimit}
}

func (h *RecordHandler) Health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// garantir que a requisição venha no padrão /api/registros/{...}
func parseRecordPath(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 3 && parts[0] == "api" && parts[1] == "registros" && parts[2] != "" {
		return parts[2], true
	}
	return "", false
}

// recarrega a grade a partir do banco; a grade é a visão de trabalho,
// o banco é a verdade
func (h *RecordHandler) refreshGrid(ctx context.Context) error {
	list, err := h.Repo.List(ctx, h.ListLimit)
	if err != nil {
		return err
	}
	rows := make([]grid.Row, len(list))
	for i, rec := range list {
		f := make(map[string]any, len(rec.Fields)+4)
		for k, v := range rec.Fields {
			f[k] = v
		}
		f["uploaded_at"] = rec.UploadedAt
		if !rec.UpdatedAt.IsZero() {
			f["updated_at"] = rec.UpdatedAt
		}
		if rec.FileName != "" {
			f["file_name"] = rec.FileName
		}
		if rec.FileSize != 0 {
			f["file_size"] = rec.FileSize
		}
		rows[i] = grid.Row{ID: rec.ID.Hex(), Fields: f}
	}
	h.Grid.Load(rows)
	return nil
}

// normaliza as chaves do corpo para nomes lógicos e aplica as coerções
// por campo (percentual vira razão, data vira serial)
func normalizeBody(body recordBody) recordBody {
	doc := make(recordBody, len(body))
	for k, v := range body {
		lk := fields.ToLogical(k)
		doc[lk] = spreadsheet.CoerceValue(lk, v)
	}
	return doc
}

func (h *RecordHandler) Records(w http.ResponseWriter, r *http.Request) {
	switch r.Method {

	// listagem paginada via grade (filtro, ordenação, página)
	case http.MethodGet:
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := h.refreshGrid(ctx); err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		q := r.URL.Query()
		h.Grid.SetQuery(q.Get("q"))
		if s := q.Get("sort"); s != "" {
			h.Grid.ApplySort(fields.ToLogical(s), q.Get("dir") != "desc")
		}
		if p := q.Get("page"); p != "" {
			if v, err := strconv.Atoi(p); err == nil {
				h.Grid.SetPage(v)
			}
		}

		pageRows := h.Grid.PageRows()
		rows := make([]rowDTO, len(pageRows))
		for i, row := range pageRows {
			rows[i] = rowDTO{ID: row.ID, Fields: row.Fields, Display: displayFields(row.Fields)}
		}
		utils.WriteJSON(w, http.StatusOK, listResponseDTO{
			Total:      h.Grid.TotalVisible(),
			TotalPages: h.Grid.TotalPages(),
			Page:       h.Grid.Page(),
			Rows:       rows,
		})

	// criação manual
	case http.MethodPost:
		var body recordBody
		if err := utils.DecodeStrict(r.Body, &body); err != nil {
			utils.BadRequest(w, utils.FormatUnknownFieldError(err))
			return
		}
		doc := normalizeBody(body)
		if err := validateCreate(doc); err != nil {
			utils.BadRequest(w, err.Error())
			return
		}
		// registro criado à mão já nasce com a atualização de hoje
		if v, ok := doc[fields.FieldLastUpdate]; !ok || v == "" {
			doc[fields.FieldLastUpdate] = spreadsheet.DateToSerial(time.Now())
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		id, err := h.Repo.Insert(ctx, doc)
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		h.publishEvent("Cadastro", id, doc)
		utils.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RecordSubtree atende /api/registros/{...}: export e excluir são
// nomes reservados, o resto é id.
func (h *RecordHandler) RecordSubtree(w http.ResponseWriter, r *http.Request) {
	tail, ok := parseRecordPath(r.URL.Path)
	if !ok {
		utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	switch tail {
	case "export":
		h.export(w, r)
	case "excluir":
		h.deleteBatch(w, r)
	default:
		h.recordByID(w, r, tail)
	}
}

func (h *RecordHandler) recordByID(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {

	// edição inline: sessão exclusiva na grade, commit no banco
	case http.MethodPut:
		var body recordBody
		if err := utils.DecodeStrict(r.Body, &body); err != nil {
			utils.BadRequest(w, utils.FormatUnknownFieldError(err))
			return
		}
		doc := normalizeBody(body)
		if err := validateUpdate(doc); err != nil {
			utils.BadRequest(w, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := h.refreshGrid(ctx); err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		if err := h.Grid.BeginEdit(id); err != nil {
			switch {
			case errors.Is(err, grid.ErrAlreadyEditing):
				utils.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			case errors.Is(err, grid.ErrNotFound):
				utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			default:
				utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}
			return
		}
		for k, v := range doc {
			_ = h.Grid.SetEditingField(k, v)
		}
		if err := h.Grid.CommitEdit(ctx); err != nil {
			// a requisição é autocontida: falha libera a sessão em vez
			// de segurar a exclusividade para um retry que não virá
			h.Grid.CancelEdit()
			switch {
			case errors.Is(err, grid.ErrCommitInFlight):
				utils.WriteJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			case errors.Is(err, repository.ErrNotFound):
				utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			default:
				utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}
			return
		}

		h.publishEvent("Edição", id, doc)
		utils.WriteJSON(w, http.StatusOK, map[string]string{"id": id})

	// exclusão unitária, atrás do portão de confirmação
	case http.MethodDelete:
		confirm := r.URL.Query().Get("confirm") == "true"
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.Grid.DeleteOne(ctx, id, confirm); err != nil {
			switch {
			case errors.Is(err, grid.ErrNotConfirmed):
				utils.BadRequest(w, err.Error())
			case errors.Is(err, repository.ErrNotFound):
				utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			default:
				utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}
			return
		}

		h.publishEvent("Exclusão", id, nil)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *RecordHandler) deleteBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var dto batchDeleteDTO
	if err := utils.DecodeStrict(r.Body, &dto); err != nil {
		utils.BadRequest(w, utils.FormatUnknownFieldError(err))
		return
	}
	// a confirmação é checada antes de tocar a seleção: ids de uma
	// requisição recusada não podem sobrar para a exclusão seguinte
	if !dto.Confirm {
		utils.BadRequest(w, grid.ErrNotConfirmed.Error())
		return
	}
	if len(dto.IDs) == 0 {
		utils.BadRequest(w, grid.ErrNothingSelected.Error())
		return
	}
	for _, id := range dto.IDs {
		h.Grid.ToggleSelect(id, true)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	n, err := h.Grid.DeleteSelected(ctx, dto.Confirm)
	if err != nil {
		switch {
		case errors.Is(err, grid.ErrNotConfirmed), errors.Is(err, grid.ErrNothingSelected):
			utils.BadRequest(w, err.Error())
		default:
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	h.publishEvent("Exclusão em lote", fmt.Sprintf("%d registros", n), nil)
	utils.WriteJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *RecordHandler) export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	if err := h.refreshGrid(ctx); err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	data, name, err := h.Grid.ExportVisible()
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// Imports atende upload (POST, com ?preview=true para só inspecionar)
// e histórico (GET).
func (h *RecordHandler) Imports(w http.ResponseWriter, r *http.Request) {
	switch r.Method {

	case http.MethodGet:
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		hist, err := h.Repo.ImportHistory(ctx, 50)
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		utils.WriteJSON(w, http.StatusOK, hist)

	case http.MethodPost:
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			utils.BadRequest(w, "multipart inválido: "+err.Error())
			return
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			utils.BadRequest(w, "campo 'file' ausente")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if len(data) > maxUploadBytes {
			utils.BadRequest(w, "arquivo maior que o limite de upload")
			return
		}

		sheet, err := spreadsheet.Parse(hdr.Filename, data)
		if err != nil {
			// erro de parsing é culpa do arquivo, não do servidor
			utils.BadRequest(w, err.Error())
			return
		}

		if r.URL.Query().Get("preview") == "true" {
			sample := sheet.Rows
			if len(sample) > 5 {
				sample = sample[:5]
			}
			utils.WriteJSON(w, http.StatusOK, importPreviewDTO{
				SheetName:     sheet.SheetName,
				Headers:       sheet.Headers,
				RawHeaders:    sheet.RawHeaders,
				MissingFields: sheet.MissingFields,
				TotalRows:     len(sheet.Rows),
				Sample:        sample,
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()
		n, err := h.Repo.InsertRows(ctx, sheet.Rows, hdr.Filename, hdr.Size)
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		impID, err := h.Repo.SaveImport(ctx, &models.Import{
			TotalRows: n,
			Headers:   sheet.Headers,
			SheetName: sheet.SheetName,
			FileName:  hdr.Filename,
			FileSize:  hdr.Size,
		})
		if err != nil {
			utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		h.publishEvent("Importação", fmt.Sprintf("%s (%d linhas)", hdr.Filename, n), nil)
		utils.WriteJSON(w, http.StatusCreated, importResultDTO{
			Inserted:      n,
			ImportID:      impID,
			MissingFields: sheet.MissingFields,
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// NCMSubtree atende /api/ncm/{codigo} (GET) e /api/ncm/cache (DELETE).
func (h *RecordHandler) NCMSubtree(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 3 || parts[0] != "api" || parts[1] != "ncm" || parts[2] == "" {
		utils.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if parts[2] == "cache" {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.NCM.ClearCache()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	res, err := h.NCM.Lookup(ctx, parts[2])
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}

// displayFields materializa a apresentação dos campos especiais:
// razões viram "18,00%", seriais viram data BR, numéricos ganham casas
// fixas.
func displayFields(f map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range f {
		switch {
		case fields.IsRatio(k):
			out[k] = spreadsheet.RatioToPercentText(v)
		case fields.IsDate(k):
			if t, ok := spreadsheet.CoerceDate(v); ok {
				out[k] = spreadsheet.FormatDateBR(t)
			} else {
				out[k] = "-"
			}
		case fields.IsNumeric(k):
			if n, ok := spreadsheet.ParseNumber(v); ok {
				out[k] = spreadsheet.FormatDecimal(n)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (h *RecordHandler) publishEvent(acao, ref string, doc map[string]any) {
	if h.Pub == nil {
		return
	}
	msg := fmt.Sprintf("%s de REGISTRO %s", acao, ref)

	headers := amqp.Table{
		"action":    strings.ToLower(acao),
		"ref":       ref,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if doc != nil {
		if v, ok := doc[fields.FieldNCM]; ok {
			headers["ncm"] = fmt.Sprintf("%v", v)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = h.Pub.Publish(ctx, msg, headers)
}

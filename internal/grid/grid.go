package grid

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
	"github.com/ravicomex/ncm-dashboard/internal/spreadsheet"
)

// PageSize é fixo: a grade sempre pagina de 50 em 50.
const PageSize = 50

var (
	ErrAlreadyEditing  = errors.New("já existe uma edição em andamento")
	ErrNoEdit          = errors.New("nenhuma edição em andamento")
	ErrCommitInFlight  = errors.New("salvamento em andamento para este registro")
	ErrNotFound        = errors.New("registro não encontrado")
	ErrNotConfirmed    = errors.New("exclusão exige confirmação explícita")
	ErrNothingSelected = errors.New("nenhum registro selecionado")
)

// Store são as operações de persistência que a grade dispara. A grade
// nunca é dona da identidade persistente: trabalha sobre um snapshot e
// o recarregamento após mutação é responsabilidade do chamador.
type Store interface {
	Update(ctx context.Context, id string, doc map[string]any) error
	Delete(ctx context.Context, id string) error
}

// Row é um registro do snapshot: id opaco do banco + campos com nomes
// lógicos.
type Row struct {
	ID     string
	Fields map[string]any
}

type Sort struct {
	Field string
	Asc   bool
}

type editSession struct {
	id     string
	draft  map[string]any
	saving bool
}

// campos que nunca entram num draft de edição nem num update
var strippedOnEdit = map[string]bool{
	"id":          true,
	"uploaded_at": true,
	"updated_at":  true,
}

// Grid mantém o conjunto de trabalho em memória e o estado de
// filtro/ordenação/paginação/edição/seleção como uma única máquina de
// estados. Edição é exclusiva por instância.
type Grid struct {
	mu       sync.Mutex
	rows     []Row
	query    string
	sort     Sort
	page     int
	editing  *editSession
	selected map[string]struct{}

	store Store
	now   func() time.Time // trocável em teste
}

func New(store Store) *Grid {
	return &Grid{
		sort:     Sort{Field: fields.FieldNCM, Asc: true},
		page:     1,
		selected: make(map[string]struct{}),
		store:    store,
		now:      time.Now,
	}
}

// Load substitui o snapshot. Seleção e página são preservadas; a
// edição em andamento também (o draft já é uma cópia).
func (g *Grid) Load(rows []Row) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rows = rows
}

func (g *Grid) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rows)
}

// SetQuery filtra por substring, case-insensitive, em qualquer campo
// do registro. Sempre volta para a página 1.
func (g *Grid) SetQuery(q string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.query = q
	g.page = 1
}

// SetSort alterna a direção quando o mesmo campo é clicado duas vezes
// seguidas; campo novo começa ascendente.
func (g *Grid) SetSort(field string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sort.Field == field && g.sort.Asc {
		g.sort.Asc = false
	} else {
		g.sort = Sort{Field: field, Asc: true}
	}
}

// ApplySort fixa campo e direção de uma vez (superfície HTTP, onde o
// cliente manda o estado completo em vez de cliques).
func (g *Grid) ApplySort(field string, asc bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sort = Sort{Field: field, Asc: asc}
}

func (g *Grid) Sort() Sort {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sort
}

func (g *Grid) SetPage(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n < 1 {
		n = 1
	}
	g.page = n
}

func (g *Grid) Page() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.page
}

// Visible devolve o snapshot filtrado e ordenado (todas as páginas).
func (g *Grid) Visible() []Row {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.visibleLocked()
}

func (g *Grid) visibleLocked() []Row {
	filtered := make([]Row, 0, len(g.rows))
	q := strings.ToLower(g.query)
	for _, r := range g.rows {
		if q == "" || rowMatches(r, q) {
			filtered = append(filtered, r)
		}
	}
	sortRows(filtered, g.sort)
	return filtered
}

// PageRows devolve a fatia visível da página corrente. Páginas fora do
// intervalo degradam para fatia vazia via limites do slice.
func (g *Grid) PageRows() []Row {
	g.mu.Lock()
	defer g.mu.Unlock()
	return pageSlice(g.visibleLocked(), g.page)
}

func (g *Grid) TotalVisible() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.visibleLocked())
}

func (g *Grid) TotalPages() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.visibleLocked())
	if n == 0 {
		return 0
	}
	return (n + PageSize - 1) / PageSize
}

func pageSlice(rows []Row, page int) []Row {
	start := (page - 1) * PageSize
	if start >= len(rows) {
		return nil
	}
	end := start + PageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

func rowMatches(r Row, q string) bool {
	for _, v := range r.Fields {
		if v == nil {
			continue
		}
		if strings.Contains(strings.ToLower(valueString(v)), q) {
			return true
		}
	}
	return false
}

// BeginEdit abre a sessão de edição para um registro, com uma cópia
// saneada dos campos (sem id/timestamps internos). Falha se já houver
// edição ativa: a exclusividade é pré-condição da própria grade.
func (g *Grid) BeginEdit(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editing != nil {
		return ErrAlreadyEditing
	}
	for _, r := range g.rows {
		if r.ID != id {
			continue
		}
		draft := make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			if strippedOnEdit[k] {
				continue
			}
			draft[k] = v
		}
		g.editing = &editSession{id: id, draft: draft}
		return nil
	}
	return ErrNotFound
}

// SetEditingField mescla um valor no draft. As coerções de data e
// percentual são responsabilidade de quem chama (ver spreadsheet).
func (g *Grid) SetEditingField(field string, value any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editing == nil {
		return ErrNoEdit
	}
	g.editing.draft[field] = value
	return nil
}

func (g *Grid) CancelEdit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.editing = nil
}

// Editing expõe a sessão corrente (id e cópia do draft) para a camada
// de apresentação.
func (g *Grid) Editing() (string, map[string]any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editing == nil {
		return "", nil, false
	}
	draft := make(map[string]any, len(g.editing.draft))
	for k, v := range g.editing.draft {
		draft[k] = v
	}
	return g.editing.id, draft, true
}

// CommitEdit grava o draft: remove campos internos, força a última
// atualização para agora (como serial de planilha) e chama o Store.
// Em caso de falha o draft é preservado para nova tentativa; um commit
// por registro de cada vez.
func (g *Grid) CommitEdit(ctx context.Context) error {
	g.mu.Lock()
	if g.editing == nil {
		g.mu.Unlock()
		return ErrNoEdit
	}
	if g.editing.saving {
		g.mu.Unlock()
		return ErrCommitInFlight
	}
	g.editing.saving = true
	id := g.editing.id
	doc := make(map[string]any, len(g.editing.draft)+1)
	for k, v := range g.editing.draft {
		if strippedOnEdit[k] {
			continue
		}
		doc[k] = v
	}
	doc[fields.FieldLastUpdate] = spreadsheet.DateToSerial(g.now())
	g.mu.Unlock()

	err := g.store.Update(ctx, id, doc)

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editing != nil && g.editing.id == id {
		g.editing.saving = false
		if err == nil {
			g.editing = nil
		}
	}
	return err
}

// ToggleSelect liga/desliga um id no conjunto de seleção, que
// sobrevive à troca de página.
func (g *Grid) ToggleSelect(id string, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if on {
		g.selected[id] = struct{}{}
	} else {
		delete(g.selected, id)
	}
}

// ToggleSelectAllOnPage opera só sobre os ids visíveis da página
// corrente; seleções feitas em outras páginas não são tocadas.
func (g *Grid) ToggleSelectAllOnPage(on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range pageSlice(g.visibleLocked(), g.page) {
		if r.ID == "" {
			continue
		}
		if on {
			g.selected[r.ID] = struct{}{}
		} else {
			delete(g.selected, r.ID)
		}
	}
}

func (g *Grid) IsSelected(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.selected[id]
	return ok
}

func (g *Grid) SelectedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.selected))
	for id := range g.selected {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DeleteOne exclui um registro. O portão de confirmação é explícito:
// sem confirm a operação nem chega ao Store.
func (g *Grid) DeleteOne(ctx context.Context, id string, confirm bool) error {
	if !confirm {
		return ErrNotConfirmed
	}
	if err := g.store.Delete(ctx, id); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.selected, id)
	return nil
}

// DeleteSelected dispara uma exclusão por id, concorrentes, e espera
// todas. Sucesso total devolve a contagem e limpa a seleção; qualquer
// falha vira um único erro agregado e a seleção fica intacta para
// retry. Não há semântica de tudo-ou-nada: exclusões que deram certo
// antes da falha permanecem feitas.
func (g *Grid) DeleteSelected(ctx context.Context, confirm bool) (int, error) {
	if !confirm {
		return 0, ErrNotConfirmed
	}
	ids := g.SelectedIDs()
	if len(ids) == 0 {
		return 0, ErrNothingSelected
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			errs[i] = g.store.Delete(ctx, id)
		}(i, id)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return 0, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.selected = make(map[string]struct{})
	return len(ids), nil
}

// ExportVisible serializa o conjunto completo (sem filtro nem
// paginação) para um workbook.
func (g *Grid) ExportVisible() ([]byte, string, error) {
	g.mu.Lock()
	rows := make([]map[string]any, len(g.rows))
	for i, r := range g.rows {
		m := make(map[string]any, len(r.Fields)+1)
		m["id"] = r.ID
		for k, v := range r.Fields {
			m[k] = v
		}
		rows[i] = m
	}
	g.mu.Unlock()
	return spreadsheet.Export(rows)
}

// --- ordenação ---

func sortRows(rows []Row, s Sort) {
	if s.Field == "" {
		return
	}
	greater := func(a, b Row) bool {
		return compareGreater(a.Fields[s.Field], b.Fields[s.Field], s.Field)
	}
	sort.Slice(rows, func(i, j int) bool {
		// direção troca os operandos do comparador; empates não têm
		// ordem determinística (limitação aceita)
		if s.Asc {
			return greater(rows[j], rows[i])
		}
		return greater(rows[i], rows[j])
	})
}

func compareGreater(a, b any, field string) bool {
	switch {
	case field == fields.FieldNCM:
		return ncmValue(a) > ncmValue(b)
	case fields.IsNumeric(field):
		return numValue(a) > numValue(b)
	default:
		return valueString(a) > valueString(b)
	}
}

// ncmValue ordena NCM numericamente sobre os dígitos ("1234" antes de
// "392690"); valor sem dígitos vale 0.
func ncmValue(v any) int64 {
	digits := fields.Digits(valueString(v))
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func numValue(v any) float64 {
	n, ok := spreadsheet.ParseNumber(v)
	if !ok {
		return 0
	}
	return n
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", v)
	}
}

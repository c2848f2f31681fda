package ncm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
)

// ErrEmptyTable indica que a planilha da TIPI foi lida mas nenhum par
// código/descrição foi reconhecido.
var ErrEmptyTable = errors.New("tabela NCM sem códigos reconhecíveis")

// Entry é o que a tabela oficial sabe sobre um código: a descrição e,
// quando a planilha traz, a unidade tributável (u.Trib).
type Entry struct {
	Description string
	Unit        string
}

// LoadFunc produz o mapa código (só dígitos) -> Entry. É injetada
// para que o cache não saiba de onde a tabela vem (arquivo, rede,
// fixture de teste).
type LoadFunc func(ctx context.Context) (map[string]Entry, error)

type tableState int

const (
	stateUnloaded tableState = iota
	stateLoading
	stateReady
)

// Table é o cache da tabela oficial de códigos. O carregamento é
// preguiçoso e single-flight: a primeira consulta dispara a carga e as
// concorrentes esperam o mesmo resultado em vez de recarregar.
type Table struct {
	mu      sync.Mutex
	state   tableState
	codes   map[string]Entry
	pending chan struct{}
	loadErr error

	load LoadFunc
}

func NewTable(load LoadFunc) *Table {
	return &Table{load: load}
}

// Get devolve a entrada para um código já limpo (só dígitos),
// carregando a tabela se for a primeira vez. Ausência do código não é
// erro: volta (Entry{}, false, nil).
func (t *Table) Get(ctx context.Context, digits string) (Entry, bool, error) {
	codes, err := t.snapshot(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := codes[digits]
	return entry, ok, nil
}

// Codes expõe o mapa completo (para busca por prefixo). A mesma
// disciplina de carga do Get.
func (t *Table) Codes(ctx context.Context) (map[string]Entry, error) {
	return t.snapshot(ctx)
}

func (t *Table) snapshot(ctx context.Context) (map[string]Entry, error) {
	t.mu.Lock()
	switch t.state {
	case stateReady:
		codes := t.codes
		t.mu.Unlock()
		return codes, nil

	case stateLoading:
		pending := t.pending
		t.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.state == stateReady {
			return t.codes, nil
		}
		return nil, t.loadErr

	default: // stateUnloaded
		t.state = stateLoading
		t.pending = make(chan struct{})
		pending := t.pending
		t.mu.Unlock()

		codes, err := t.load(ctx)

		t.mu.Lock()
		defer t.mu.Unlock()
		if err != nil {
			// falha volta para Unloaded: a próxima consulta tenta de novo
			t.state = stateUnloaded
			t.loadErr = err
			close(pending)
			return nil, err
		}
		t.state = stateReady
		t.codes = codes
		t.loadErr = nil
		close(pending)
		return codes, nil
	}
}

// Clear derruba o cache; a próxima consulta recarrega.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == stateLoading {
		return
	}
	t.state = stateUnloaded
	t.codes = nil
	t.loadErr = nil
}

// Enricher é uma fonte externa de descrições, consultada só quando a
// tabela oficial não conhece o código. Retorno vazio sem erro
// significa "também não achei".
type Enricher interface {
	Describe(ctx context.Context, digits string) (string, error)
}

// Result é o desfecho de uma consulta. Found=false NÃO é erro: o campo
// ConsultURL aponta onde o usuário pode conferir manualmente.
type Result struct {
	Code        string `json:"code"`
	Formatted   string `json:"formatted"`
	Description string `json:"description,omitempty"`
	Unit        string `json:"unit,omitempty"`
	Source      string `json:"source,omitempty"`
	Found       bool   `json:"found"`
	ConsultURL  string `json:"consult_url,omitempty"`
}

const consultURL = "https://portalunico.siscomex.gov.br/classif/#/nomenclatura/tabela"

// Service resolve descrições de NCM: tabela oficial primeiro, depois o
// enriquecedor externo (se houver), senão um não-encontrado com link
// de consulta.
type Service struct {
	table    *Table
	enricher Enricher
	logger   *slog.Logger
}

func NewService(table *Table, enricher Enricher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{table: table, enricher: enricher, logger: logger}
}

func (s *Service) Lookup(ctx context.Context, code string) (Result, error) {
	digits := Clean(code)
	res := Result{Code: digits, Formatted: Format(digits)}
	if digits == "" {
		res.ConsultURL = consultURL
		return res, nil
	}

	entry, ok, err := s.table.Get(ctx, digits)
	if err != nil {
		return res, fmt.Errorf("carregar tabela NCM: %w", err)
	}
	if ok {
		res.Description = entry.Description
		res.Unit = entry.Unit
		res.Source = "tabela"
		res.Found = true
		return res, nil
	}

	// códigos parciais: aceita o capítulo/posição mais longo que prefixa
	if entry, ok := s.prefixMatch(ctx, digits); ok {
		res.Description = entry.Description
		res.Unit = entry.Unit
		res.Source = "tabela"
		res.Found = true
		return res, nil
	}

	if s.enricher != nil {
		desc, err := s.enricher.Describe(ctx, digits)
		if err != nil {
			// fonte externa é melhor-esforço: loga e segue para o
			// não-encontrado
			s.logger.Warn("consulta externa de NCM falhou", "ncm", digits, "err", err)
		} else if desc != "" {
			res.Description = desc
			res.Source = "systax"
			res.Found = true
			return res, nil
		}
	}

	res.ConsultURL = consultURL
	return res, nil
}

func (s *Service) prefixMatch(ctx context.Context, digits string) (Entry, bool) {
	codes, err := s.table.Codes(ctx)
	if err != nil {
		return Entry{}, false
	}
	for l := len(digits) - 1; l >= 2; l-- {
		if entry, ok := codes[digits[:l]]; ok {
			return entry, true
		}
	}
	return Entry{}, false
}

// ClearCache descarta a tabela carregada (usado quando o arquivo da
// TIPI é atualizado em disco).
func (s *Service) ClearCache() { s.table.Clear() }

// Clean reduz qualquer grafia de NCM aos dígitos.
func Clean(code string) string { return fields.Digits(code) }

// Format aplica a máscara usual 9999.99.99 a um código completo;
// códigos parciais ficam como estão.
func Format(digits string) string {
	if len(digits) != 8 {
		return digits
	}
	return digits[:4] + "." + digits[4:6] + "." + digits[6:]
}

// FileLoader lê a tabela oficial de um .xlsx em disco. A linha de
// cabeçalho é localizada por palavra-chave porque a planilha publicada
// traz linhas de título antes dela.
func FileLoader(path string) LoadFunc {
	return func(ctx context.Context) (map[string]Entry, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("abrir tabela NCM: %w", err)
		}
		defer f.Close()
		return ParseTable(f)
	}
}

// ParseTable interpreta o workbook da tabela de códigos: acha as
// colunas de código, descrição e unidade tributável e indexa
// código (dígitos) -> Entry. A coluna de unidade é opcional.
func ParseTable(r io.Reader) (map[string]Entry, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("ler workbook da tabela NCM: %w", err)
	}
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	rows, err := wb.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("ler linhas da tabela NCM: %w", err)
	}

	codeCol, descCol, unitCol := -1, -1, -1
	start := 0
	for i, row := range rows {
		for j, cell := range row {
			c := strings.ToLower(strings.TrimSpace(cell))
			switch {
			case c == "ncm" || c == "código" || c == "codigo":
				codeCol = j
			case strings.Contains(c, "descri"):
				descCol = j
			case strings.Contains(c, "utrib") || strings.Contains(c, "u.trib") ||
				strings.Contains(c, "unidade"):
				unitCol = j
			}
		}
		if codeCol >= 0 && descCol >= 0 {
			start = i + 1
			break
		}
		codeCol, descCol, unitCol = -1, -1, -1
	}
	if codeCol < 0 || descCol < 0 {
		return nil, errors.New("cabeçalho da tabela NCM não encontrado")
	}

	codes := make(map[string]Entry)
	for _, row := range rows[start:] {
		if codeCol >= len(row) || descCol >= len(row) {
			continue
		}
		digits := Clean(row[codeCol])
		desc := strings.TrimSpace(row[descCol])
		if digits == "" || desc == "" {
			continue
		}
		unit := ""
		if unitCol >= 0 && unitCol < len(row) {
			unit = strings.TrimSpace(row[unitCol])
		}
		// continuações ("-- Outros") não sobrescrevem a primeira descrição
		if _, ok := codes[digits]; !ok {
			codes[digits] = Entry{Description: desc, Unit: unit}
		}
	}
	if len(codes) == 0 {
		return nil, ErrEmptyTable
	}
	return codes, nil
}

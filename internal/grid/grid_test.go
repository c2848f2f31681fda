package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ravicomex/ncm-dashboard/internal/fields"
)

type mockStore struct {
	mu         sync.Mutex
	UpdateFunc func(ctx context.Context, id string, doc map[string]any) error
	DeleteFunc func(ctx context.Context, id string) error
	deleted    []string
}

func (m *mockStore) Update(ctx context.Context, id string, doc map[string]any) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, id, doc)
	}
	return nil
}

func (m *mockStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, id)
	m.mu.Unlock()
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	return nil
}

func (m *mockStore) deletedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

func row(id, ncm string, extra map[string]any) Row {
	f := map[string]any{fields.FieldNCM: ncm}
	for k, v := range extra {
		f[k] = v
	}
	return Row{ID: id, Fields: f}
}

func newTestGrid(t *testing.T, store Store, rows []Row) *Grid {
	t.Helper()
	g := New(store)
	g.Load(rows)
	return g
}

func TestSortNCMNumerico(t *testing.T) {
	g := newTestGrid(t, &mockStore{}, []Row{
		row("a", "3926.90", nil),
		row("b", "1234", nil),
		row("c", "0102.21.10", nil),
	})

	got := g.Visible()
	// dígitos: b=1234, a=392690, c=1022110
	want := []string{"b", "a", "c"}
	for i, r := range got {
		if r.ID != want[i] {
			t.Fatalf("ordem ascendente errada na posição %d: esperado %s, recebido %s", i, want[i], r.ID)
		}
	}

	// segundo clique no mesmo campo inverte
	g.SetSort(fields.FieldNCM)
	got = g.Visible()
	for i, r := range got {
		if r.ID != want[len(want)-1-i] {
			t.Fatalf("ordem descendente errada na posição %d: recebido %s", i, r.ID)
		}
	}
}

func TestSortCampoNumerico(t *testing.T) {
	g := newTestGrid(t, &mockStore{}, []Row{
		row("a", "1", map[string]any{fields.FieldII: 0.18}),
		row("b", "2", map[string]any{fields.FieldII: 0.02}),
		row("c", "3", map[string]any{fields.FieldII: "9,5"}),
	})
	g.SetSort(fields.FieldII)

	got := g.Visible()
	want := []string{"b", "a", "c"} // 0.02 < 0.18 < 9.5
	for i, r := range got {
		if r.ID != want[i] {
			t.Fatalf("posição %d: esperado %s, recebido %s", i, want[i], r.ID)
		}
	}
}

func TestFiltroSubstringQualquerCampo(t *testing.T) {
	g := newTestGrid(t, &mockStore{}, []Row{
		row("a", "1234", map[string]any{fields.FieldDescription: "Parafuso de aço"}),
		row("b", "5678", map[string]any{fields.FieldDescription: "Arruela"}),
	})

	g.SetQuery("PARAFUSO")
	if got := g.TotalVisible(); got != 1 {
		t.Fatalf("esperado 1 visível, recebido %d", got)
	}
	if g.Visible()[0].ID != "a" {
		t.Fatalf("filtro devolveu o registro errado")
	}

	g.SetQuery("")
	if got := g.TotalVisible(); got != 2 {
		t.Fatalf("filtro vazio deveria devolver tudo, recebido %d", got)
	}
}

func TestPaginacao(t *testing.T) {
	rows := make([]Row, 120)
	for i := range rows {
		rows[i] = row(fmt.Sprintf("id%03d", i), fmt.Sprintf("%04d", i), nil)
	}
	g := newTestGrid(t, &mockStore{}, rows)

	if got := g.TotalPages(); got != 3 {
		t.Fatalf("esperado 3 páginas, recebido %d", got)
	}
	if got := len(g.PageRows()); got != PageSize {
		t.Fatalf("página 1 deveria ter %d linhas, recebido %d", PageSize, got)
	}
	g.SetPage(3)
	if got := len(g.PageRows()); got != 20 {
		t.Fatalf("página 3 deveria ter 20 linhas, recebido %d", got)
	}
	g.SetPage(99)
	if got := len(g.PageRows()); got != 0 {
		t.Fatalf("página fora do intervalo deveria ser vazia, recebido %d", got)
	}
}

func TestEdicaoExclusiva(t *testing.T) {
	g := newTestGrid(t, &mockStore{}, []Row{row("a", "1", nil), row("b", "2", nil)})

	if err := g.BeginEdit("a"); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	if err := g.BeginEdit("b"); !errors.Is(err, ErrAlreadyEditing) {
		t.Fatalf("segunda edição deveria falhar com ErrAlreadyEditing, recebido %v", err)
	}
	g.CancelEdit()
	if err := g.BeginEdit("b"); err != nil {
		t.Fatalf("após cancelar, nova edição deveria ser permitida: %v", err)
	}
}

func TestBeginEditInexistente(t *testing.T) {
	g := newTestGrid(t, &mockStore{}, []Row{row("a", "1", nil)})
	if err := g.BeginEdit("zzz"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("esperado ErrNotFound, recebido %v", err)
	}
}

func TestCommitCarimbaUltimaAtualizacao(t *testing.T) {
	var saved map[string]any
	store := &mockStore{UpdateFunc: func(_ context.Context, id string, doc map[string]any) error {
		saved = doc
		return nil
	}}
	g := newTestGrid(t, store, []Row{row("a", "1234", map[string]any{
		fields.FieldLastUpdate: 40000,
		"uploaded_at":          time.Now(),
	})})
	g.now = func() time.Time { return time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC) }

	if err := g.BeginEdit("a"); err != nil {
		t.Fatalf("BeginEdit: %v", err)
	}
	if err := g.SetEditingField(fields.FieldII, 0.18); err != nil {
		t.Fatalf("SetEditingField: %v", err)
	}
	if err := g.CommitEdit(context.Background()); err != nil {
		t.Fatalf("CommitEdit: %v", err)
	}

	if saved == nil {
		t.Fatal("Store.Update não foi chamado")
	}
	wantSerial := 45423 // 10/05/2024 no serial legado (com o dia fantasma de 1900)
	if got := saved[fields.FieldLastUpdate]; got != wantSerial {
		t.Fatalf("ultima atualização deveria ser o serial de hoje (%d), recebido %v", wantSerial, got)
	}
	if _, ok := saved["uploaded_at"]; ok {
		t.Fatal("campos internos não podem ir no update")
	}
	if _, _, ok := g.Editing(); ok {
		t.Fatal("commit com sucesso deveria encerrar a edição")
	}
}

func TestCommitFalhaPreservaDraft(t *testing.T) {
	store := &mockStore{UpdateFunc: func(context.Context, string, map[string]any) error {
		return errors.New("mongo fora do ar")
	}}
	g := newTestGrid(t, store, []Row{row("a", "1", nil)})

	_ = g.BeginEdit("a")
	_ = g.SetEditingField(fields.FieldII, 0.5)
	if err := g.CommitEdit(context.Background()); err == nil {
		t.Fatal("commit deveria propagar o erro do Store")
	}

	id, draft, ok := g.Editing()
	if !ok || id != "a" {
		t.Fatal("falha de commit deveria preservar a sessão de edição")
	}
	if draft[fields.FieldII] != 0.5 {
		t.Fatal("draft deveria sobreviver à falha para retry")
	}
}

func TestCommitEmAndamentoBloqueiaSegundo(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	store := &mockStore{UpdateFunc: func(context.Context, string, map[string]any) error {
		close(entered)
		<-release
		return nil
	}}
	g := newTestGrid(t, store, []Row{row("a", "1", nil)})
	_ = g.BeginEdit("a")

	done := make(chan error, 1)
	go func() { done <- g.CommitEdit(context.Background()) }()
	<-entered

	if err := g.CommitEdit(context.Background()); !errors.Is(err, ErrCommitInFlight) {
		t.Fatalf("segundo commit deveria falhar com ErrCommitInFlight, recebido %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("primeiro commit deveria completar: %v", err)
	}
}

func TestSelecaoAtravessaPaginas(t *testing.T) {
	rows := make([]Row, 60)
	for i := range rows {
		rows[i] = row(fmt.Sprintf("id%03d", i), fmt.Sprintf("%04d", i), nil)
	}
	g := newTestGrid(t, &mockStore{}, rows)

	g.ToggleSelectAllOnPage(true)
	g.SetPage(2)
	g.ToggleSelect("id059", true)

	if got := len(g.SelectedIDs()); got != 51 {
		t.Fatalf("esperado 51 selecionados, recebido %d", got)
	}
	if !g.IsSelected("id000") || !g.IsSelected("id059") {
		t.Fatal("seleção deveria persistir entre páginas")
	}

	// desmarcar tudo da página 2 não toca na página 1
	g.ToggleSelectAllOnPage(false)
	if got := len(g.SelectedIDs()); got != 50 {
		t.Fatalf("esperado 50 após desmarcar página 2, recebido %d", got)
	}
}

func TestExclusaoExigeConfirmacao(t *testing.T) {
	store := &mockStore{}
	g := newTestGrid(t, store, []Row{row("a", "1", nil)})

	if err := g.DeleteOne(context.Background(), "a", false); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("esperado ErrNotConfirmed, recebido %v", err)
	}
	g.ToggleSelect("a", true)
	if _, err := g.DeleteSelected(context.Background(), false); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("esperado ErrNotConfirmed no lote, recebido %v", err)
	}
	if len(store.deletedIDs()) != 0 {
		t.Fatal("nada deveria ter chegado ao Store sem confirmação")
	}
}

func TestExclusaoEmLote(t *testing.T) {
	store := &mockStore{}
	g := newTestGrid(t, store, []Row{row("a", "1", nil), row("b", "2", nil), row("c", "3", nil)})
	g.ToggleSelect("a", true)
	g.ToggleSelect("c", true)

	n, err := g.DeleteSelected(context.Background(), true)
	if err != nil {
		t.Fatalf("DeleteSelected: %v", err)
	}
	if n != 2 {
		t.Fatalf("esperado 2 exclusões, recebido %d", n)
	}
	if got := len(g.SelectedIDs()); got != 0 {
		t.Fatalf("sucesso total deveria limpar a seleção, restaram %d", got)
	}
	if got := store.deletedIDs(); len(got) != 2 {
		t.Fatalf("Store deveria ter recebido 2 deletes, recebeu %d", len(got))
	}
}

func TestExclusaoEmLoteAgregaFalhas(t *testing.T) {
	store := &mockStore{DeleteFunc: func(_ context.Context, id string) error {
		if id == "b" {
			return errors.New("registro b travado")
		}
		return nil
	}}
	g := newTestGrid(t, store, []Row{row("a", "1", nil), row("b", "2", nil), row("c", "3", nil)})
	for _, id := range []string{"a", "b", "c"} {
		g.ToggleSelect(id, true)
	}

	n, err := g.DeleteSelected(context.Background(), true)
	if err == nil {
		t.Fatal("falha parcial deveria devolver erro agregado")
	}
	if n != 0 {
		t.Fatalf("com falha a contagem devolvida deve ser 0, recebido %d", n)
	}
	if !strings.Contains(err.Error(), "registro b travado") {
		t.Fatalf("erro agregado deveria citar a falha original: %v", err)
	}
	if got := len(g.SelectedIDs()); got != 3 {
		t.Fatalf("seleção deveria ficar intacta para retry, restaram %d", got)
	}
}

func TestExportIgnoraFiltro(t *testing.T) {
	g := newTestGrid(t, &mockStore{}, []Row{
		row("a", "1234", map[string]any{fields.FieldDescription: "Parafuso"}),
		row("b", "5678", map[string]any{fields.FieldDescription: "Arruela"}),
	})
	g.SetQuery("parafuso")

	data, name, err := g.ExportVisible()
	if err != nil {
		t.Fatalf("ExportVisible: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("workbook vazio")
	}
	if !strings.HasPrefix(name, "dados_exportados_") || !strings.HasSuffix(name, ".xlsx") {
		t.Fatalf("nome de arquivo inesperado: %s", name)
	}
}

package fields

import (
	"regexp"
	"strings"
)

// Nomes lógicos dos campos, na ordem canônica da planilha.
const (
	FieldNCM        = "NCM"
	FieldLastUpdate = "ultima atualização"
	FieldCEST       = "CEST"
	FieldIVA        = "IVA"
	FieldII         = "II"
	FieldIPI        = "IPI"
	FieldPIS        = "PIS"
	FieldCOFINS     = "COFINS"
	FieldICMS       = "ICMS"
	FieldUSDPerKG   = "U$/KG considerado"
	FieldSantos     = "Santos"
	FieldItajai     = "Itajai"

	// Campo de texto livre, anexado ao registro quando o usuário salva
	// uma descrição; não faz parte do conjunto fixo.
	FieldDescription = "descricao"
)

// Expected são os campos esperados em toda planilha importada.
var Expected = []string{
	FieldNCM,
	FieldLastUpdate,
	FieldCEST,
	FieldIVA,
	FieldII,
	FieldIPI,
	FieldPIS,
	FieldCOFINS,
	FieldICMS,
	FieldUSDPerKG,
	FieldSantos,
	FieldItajai,
}

// Variações históricas de grafia/acentuação por campo, vindas de
// planilhas reais já recebidas.
var variants = map[string][]string{
	FieldNCM:        {"NCM", "ncm"},
	FieldLastUpdate: {"ultima atualização", "última atualização", "ultima atualizacao", "Última Atualização"},
	FieldCEST:       {"CEST", "cest"},
	FieldIVA:        {"IVA", "iva"},
	FieldII:         {"II", "ii"},
	FieldIPI:        {"IPI", "ipi"},
	FieldPIS:        {"PIS", "pis", "PIS "}, // PIS com espaço no final
	FieldCOFINS:     {"COFINS", "cofins"},
	FieldICMS:       {"ICMS", "icms"},
	FieldUSDPerKG:   {"U$/KG considerado", "U$/KG Considerado", "u$/kg considerado", "U$/KG  \nconsiderado"},
	FieldSantos:     {"Santos", "santos"},
	FieldItajai:     {"Itajai", "Itajaí", "itajai", "itajaí"},
}

// O storage não aceita $ e / em nomes de campo; estes dois nomes lógicos
// são os únicos do conjunto fixo que precisam de reescrita.
var toStorageMap = map[string]string{
	FieldUSDPerKG:   "U_por_KG_considerado",
	FieldLastUpdate: "ultima_atualizacao",
}

var fromStorageMap = func() map[string]string {
	m := make(map[string]string, len(toStorageMap))
	for logical, storage := range toStorageMap {
		m[storage] = logical
	}
	return m
}()

// Campos internos de bookkeeping que atravessam Normalize/Denormalize
// sem tradução.
var internalFields = map[string]bool{
	"uploaded_at": true,
	"updated_at":  true,
	"file_name":   true,
	"file_size":   true,
}

var (
	collapseRe  = regexp.MustCompile(`\s+`)
	forbiddenRe = regexp.MustCompile(`[~*/\[\]]`)
	digitsRe    = regexp.MustCompile(`\D`)
)

// Collapse normaliza espaços: quebras de linha viram espaço, múltiplos
// espaços viram um, bordas aparadas.
func Collapse(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	return strings.TrimSpace(collapseRe.ReplaceAllString(s, " "))
}

// ToLogical converte o texto cru de um header para o nome lógico do
// campo. Headers desconhecidos voltam como estão (colunas extras são
// preservadas, não descartadas).
func ToLogical(raw string) string {
	normalized := Collapse(raw)
	if normalized == "" {
		return ""
	}

	for _, f := range Expected {
		if f == normalized {
			return f
		}
	}

	lower := strings.ToLower(normalized)

	// "NCM não considerado" é outra coluna, não o código NCM
	if strings.Contains(lower, "ncm") && strings.Contains(lower, "considerado") {
		return normalized
	}

	for _, standard := range Expected {
		for _, v := range variants[standard] {
			vn := strings.ToLower(Collapse(v))
			if vn == lower || strings.Contains(lower, vn) || strings.Contains(vn, lower) {
				return standard
			}
		}
	}

	// Match parcial para os campos mais mutáveis entre planilhas.
	switch {
	case strings.Contains(lower, "ncm") && !strings.Contains(lower, "considerado"):
		return FieldNCM
	case strings.Contains(lower, "cest"):
		return FieldCEST
	case strings.Contains(lower, "ultima") && strings.Contains(lower, "atualizacao"):
		return FieldLastUpdate
	case strings.Contains(lower, "u$") && strings.Contains(lower, "kg") && strings.Contains(lower, "considerado"):
		return FieldUSDPerKG
	}

	return normalized
}

// ToStorage reescreve um nome lógico para um nome aceito pelo storage.
// O sanitizador genérico só roda quando o mapa específico não traduziu,
// para não codificar duas vezes.
func ToStorage(logical string) string {
	if logical == "" {
		return logical
	}
	if storage, ok := toStorageMap[logical]; ok {
		return storage
	}
	if forbiddenRe.MatchString(logical) {
		return sanitize(logical)
	}
	return logical
}

// FromStorage é a inversa exata de ToStorage para o mapa específico;
// nomes fora do mapa passam inalterados.
func FromStorage(storage string) string {
	if storage == "" {
		return storage
	}
	if logical, ok := fromStorageMap[storage]; ok {
		return logical
	}
	// Nomes legados gravados antes do mapa existir.
	switch storage {
	case "U_por_KG_considerado":
		return FieldUSDPerKG
	case "ultima_atualizacao":
		return FieldLastUpdate
	}
	return storage
}

func sanitize(name string) string {
	name = strings.ReplaceAll(name, "$", "_por_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "~", "_")
	name = strings.ReplaceAll(name, "*", "_")
	name = strings.ReplaceAll(name, "[", "_")
	name = strings.ReplaceAll(name, "]", "_")
	return collapseRe.ReplaceAllString(name, "_")
}

// NormalizeDoc traduz as chaves de um documento de nomes lógicos para
// nomes de storage.
func NormalizeDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[ToStorage(k)] = v
	}
	return out
}

// DenormalizeDoc traduz as chaves de volta para nomes lógicos. Campos
// internos de bookkeeping não são tocados.
func DenormalizeDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if internalFields[k] {
			out[k] = v
			continue
		}
		out[FromStorage(k)] = v
	}
	return out
}

// IsRatio indica os campos de alíquota armazenados como fração de [0,1].
func IsRatio(field string) bool {
	switch field {
	case FieldIVA, FieldII, FieldIPI, FieldPIS, FieldCOFINS, FieldICMS:
		return true
	}
	return false
}

// IsNumeric indica os campos ordenados/formatados como número.
func IsNumeric(field string) bool {
	if IsRatio(field) {
		return true
	}
	switch field {
	case FieldUSDPerKG, FieldSantos, FieldItajai:
		return true
	}
	return false
}

// IsDate indica o campo de data (serial legado de planilha).
func IsDate(field string) bool { return field == FieldLastUpdate }

// Digits remove tudo que não for dígito.
func Digits(s string) string { return digitsRe.ReplaceAllString(s, "") }

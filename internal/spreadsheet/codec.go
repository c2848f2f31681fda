package spreadsheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Dias entre 30/12/1899 (época do serial de planilha) e 01/01/1970.
const serialEpochOffset = 25569

const secondsPerDay = 86400

var ptBR = message.NewPrinter(language.BrazilianPortuguese)

// DateToSerial converte uma data de calendário para o serial legado de
// planilha. Seriais >= 60 ganham +1 para reproduzir o 29/02/1900
// fictício do formato; sem isso as datas derivam um dia no round-trip.
func DateToSerial(t time.Time) int {
	utc := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	days := int(utc.Unix()/secondsPerDay) + serialEpochOffset
	if days >= 60 {
		days++
	}
	return days
}

// SerialToDate é a inversa de DateToSerial. A data materializa ao
// meio-dia local para que extrair Y/M/D depois não mude de dia por
// causa de fuso horário.
func SerialToDate(days int) time.Time {
	if days >= 60 {
		days--
	}
	u := time.Unix(int64(days-serialEpochOffset)*secondsPerDay, 0).UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 12, 0, 0, 0, time.Local)
}

// CoerceDate aceita o que quer que esteja gravado no campo de data:
// serial numérico, time.Time, timestamp nativo do banco ou string
// ISO/BR. Retorna false quando o valor não representa uma data.
func CoerceDate(value any) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case primitive.DateTime:
		return v.Time(), true
	case float64:
		return SerialToDate(int(v)), true
	case int:
		return SerialToDate(v), true
	case int32:
		return SerialToDate(int(v)), true
	case int64:
		return SerialToDate(int(v)), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return SerialToDate(int(n)), true
		}
		for _, layout := range []string{"2006-01-02", "02/01/2006"} {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// PercentInputToRatio interpreta a entrada do usuário: valores > 1 são
// percentuais inteiros (93 -> 0,93); valores <= 1 já são fração. A
// mesma heurística vale para importação, edição inline e criação
// manual; um 1.0 digitado como 100% é indistinguível de uma fração.
func PercentInputToRatio(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// RatioToPercentText formata a fração armazenada como percentual pt-BR
// ("0.93" -> "93,00%"). Vazio/nulo vira "-"; texto não numérico volta
// como está.
func RatioToPercentText(value any) string {
	if value == nil {
		return "-"
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return "-"
	}
	f, ok := toFloat(value)
	if !ok || math.IsNaN(f) {
		return stringify(value)
	}
	return ptBR.Sprint(number.Decimal(f*100,
		number.MinFractionDigits(2), number.MaxFractionDigits(2))) + "%"
}

// FormatDecimal formata números simples (U$/KG, fretes) em pt-BR com
// 2 a 4 casas decimais.
func FormatDecimal(v float64) string {
	return ptBR.Sprint(number.Decimal(v,
		number.MinFractionDigits(2), number.MaxFractionDigits(4)))
}

// FormatDateBR renderiza DD/MM/YYYY.
func FormatDateBR(t time.Time) string {
	return t.Format("02/01/2006")
}

// ParseNumber tenta extrair um float de um valor de célula, aceitando
// vírgula decimal. Retorna false para texto não numérico.
func ParseNumber(value any) (float64, bool) {
	return toFloat(value)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
		// vírgula decimal de planilhas brasileiras
		if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
			if f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", value)
	}
}

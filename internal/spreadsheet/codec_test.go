package spreadsheet

import (
	"testing"
	"time"
)

func TestSerialRoundTrip(t *testing.T) {
	// 59 = 28/02/1900 (antes do dia fantasma), 61 = depois dele, os
	// demais são datas modernas
	for _, serial := range []int{59, 61, 25569, 40000, 45423} {
		d := SerialToDate(serial)
		if got := DateToSerial(d); got != serial {
			t.Errorf("round-trip do serial %d devolveu %d (data %v)", serial, got, d)
		}
	}
}

func TestSerialDataConhecida(t *testing.T) {
	d := SerialToDate(45423)
	if d.Year() != 2024 || d.Month() != time.May || d.Day() != 10 {
		t.Fatalf("serial 45423 deveria ser 10/05/2024, veio %v", d)
	}
	// materializa ao meio-dia para não mudar de dia por fuso
	if d.Hour() != 12 {
		t.Fatalf("data deveria materializar ao meio-dia: %v", d)
	}

	back := DateToSerial(time.Date(2024, 5, 10, 23, 59, 0, 0, time.Local))
	if back != 45423 {
		t.Fatalf("DateToSerial(10/05/2024) = %d; esperado 45423", back)
	}
}

func TestCoerceDate(t *testing.T) {
	want := func(v any, y int, m time.Month, d int) {
		t.Helper()
		got, ok := CoerceDate(v)
		if !ok {
			t.Fatalf("CoerceDate(%v) deveria reconhecer", v)
		}
		if got.Year() != y || got.Month() != m || got.Day() != d {
			t.Fatalf("CoerceDate(%v) = %v; esperado %04d-%02d-%02d", v, got, y, m, d)
		}
	}

	want(45423, 2024, time.May, 10)
	want(float64(45423), 2024, time.May, 10)
	want("45423", 2024, time.May, 10)
	want("2024-05-10", 2024, time.May, 10)
	want("10/05/2024", 2024, time.May, 10)
	want(time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), 2024, time.May, 10)

	for _, v := range []any{"", "abc", nil, true} {
		if _, ok := CoerceDate(v); ok {
			t.Errorf("CoerceDate(%v) não deveria reconhecer", v)
		}
	}
}

func TestPercentInputToRatio(t *testing.T) {
	cases := []struct {
		in   float64
		want float64
	}{
		{93, 0.93},   // usuário digitou por cento
		{18, 0.18},
		{100, 1},
		{0.93, 0.93}, // já é fração
		{0.5, 0.5},
		{1, 1},
		{0, 0},
	}
	for _, c := range cases {
		if got := PercentInputToRatio(c.in); got != c.want {
			t.Errorf("PercentInputToRatio(%v) = %v; esperado %v", c.in, got, c.want)
		}
	}
}

func TestRatioToPercentText(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{0.93, "93,00%"},
		{0.0975, "9,75%"},
		{1.0, "100,00%"},
		{0, "0,00%"},
		{"0,5", "50,00%"}, // string numérica com vírgula
		{nil, "-"},
		{"", "-"},
		{"  ", "-"},
		{"isento", "isento"}, // texto não numérico volta como está
	}
	for _, c := range cases {
		if got := RatioToPercentText(c.in); got != c.want {
			t.Errorf("RatioToPercentText(%v) = %q; esperado %q", c.in, got, c.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	ok := func(in any, want float64) {
		t.Helper()
		got, k := ParseNumber(in)
		if !k || got != want {
			t.Errorf("ParseNumber(%v) = (%v, %v); esperado %v", in, got, k, want)
		}
	}
	ok("9,5", 9.5)
	ok("1.5", 1.5)
	ok(" 18 ", 18)
	ok(12, 12)
	ok(12.5, 12.5)

	for _, in := range []any{"", "abc", "1,2,3", nil, true} {
		if _, k := ParseNumber(in); k {
			t.Errorf("ParseNumber(%v) não deveria reconhecer", in)
		}
	}
}

func TestFormatDecimalEDataBR(t *testing.T) {
	if got := FormatDecimal(12.5); got != "12,50" {
		t.Fatalf("FormatDecimal: %q", got)
	}
	if got := FormatDecimal(1234.5); got != "1.234,50" {
		t.Fatalf("FormatDecimal com milhar: %q", got)
	}
	if got := FormatDateBR(time.Date(2024, 5, 10, 12, 0, 0, 0, time.Local)); got != "10/05/2024" {
		t.Fatalf("FormatDateBR: %q", got)
	}
}

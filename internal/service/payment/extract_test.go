package payment

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestExtract(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{name: "multiple amounts", text: "He pagado $50 y $20.50 hoy", want: "70.5"},
		{name: "single amount", text: "Puedo pagar $200", want: "200"},
		{name: "trailing dot", text: "abono $5. mañana", want: "5"},
		{name: "thousands separator stops match", text: "pagué $1,000", want: "1"},
		{name: "no dollar token", text: "no tengo dinero este mes", want: "0"},
		{name: "bare dollar sign", text: "cuánto es en $?", want: "0"},
		{name: "number without dollar", text: "pagaré 300 pesos", want: "0"},
		{name: "arabic-indic digits", text: "pagué $٥٠ ayer", want: "50"},
		{name: "fullwidth digits with decimals", text: "abono $１２.５", want: "12.5"},
		{name: "devanagari trailing dot", text: "$१०. hoy", want: "10"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Extract(tc.text)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("Extract(%q) = %s, want %s", tc.text, got, tc.want)
			}
		})
	}
}

func TestMatchesKeepsOrder(t *testing.T) {
	got := Matches("$10 luego $2.25 y $7")
	want := []string{"10", "2.25", "7"}

	if len(got) != len(want) {
		t.Fatalf("expected %d matches, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].Equal(decimal.RequireFromString(want[i])) {
			t.Fatalf("match %d = %s, want %s", i, got[i], want[i])
		}
	}
}

package num

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSqrt(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"perfect square", "100000", "316.227766016837933200"},
		{"unit", "1", "1"},
		{"zero", "0", "0"},
		{"negative clamps to zero", "-4", "0"},
		{"fractional", "0.25", "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Sqrt(MustParse(tt.in))
			want := MustParse(tt.want)
			assert.True(t, got.Sub(want).Abs().LessThan(MustParse("0.000000000000001")),
				"Sqrt(%s) = %s, want ~%s", tt.in, got, want)
		})
	}
}

func TestSqrtSquaresBack(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Float64Range(0, 1e12).Draw(t, "v")
		d := decimal.NewFromFloat(v)
		r := Sqrt(d)
		back := r.Mul(r)
		// The root carries 18 fractional digits, so the square is within
		// roughly 2*(r+1)*1e-18 of the input at any magnitude.
		tol := r.Add(One).Mul(MustParse("0.000000000000000002"))
		require.True(t, back.Sub(d).Abs().LessThanOrEqual(tol),
			"sqrt(%s)^2 = %s (off by %s)", d, back, back.Sub(d).Abs())
	})
}

func TestDivFloorCeil(t *testing.T) {
	tests := []struct {
		a, b      string
		wantFloor string
		wantCeil  string
	}{
		{"1", "3", "0.333333333333333333", "0.333333333333333334"},
		{"2", "3", "0.666666666666666666", "0.666666666666666667"},
		{"10", "4", "2.5", "2.5"},
		{"9970", "1099.7", "9.066108938801491315", "9.066108938801491316"},
	}
	for _, tt := range tests {
		a, b := MustParse(tt.a), MustParse(tt.b)
		assert.True(t, MustParse(tt.wantFloor).Equal(DivFloor(a, b, StorageScale)),
			"%s / %s floor = %s", tt.a, tt.b, DivFloor(a, b, StorageScale))
		assert.True(t, MustParse(tt.wantCeil).Equal(DivCeil(a, b, StorageScale)),
			"%s / %s ceil = %s", tt.a, tt.b, DivCeil(a, b, StorageScale))
	}

	// Plain Div rounds half-up at its own precision; the floored quotient
	// never exceeds it.
	q := DivFloor(MustParse("9970"), MustParse("1099.7"), StorageScale)
	assert.True(t, q.LessThanOrEqual(MustParse("9970").Div(MustParse("1099.7"))))
}

func TestRoundBank(t *testing.T) {
	// Half-to-even at the boundary digit.
	assert.Equal(t, "2.4", RoundBank(MustParse("2.45"), 1).String())
	assert.Equal(t, "2.6", RoundBank(MustParse("2.55"), 1).String())
	assert.Equal(t, "2.5", RoundBank(MustParse("2.46"), 1).String())
}

func TestClamp(t *testing.T) {
	long := MustParse("1.1234567890123456789999")
	got := Clamp(long)
	assert.True(t, got.Exponent() >= -StorageScale)

	short := MustParse("42.5")
	assert.True(t, short.Equal(Clamp(short)))
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("not-a-number") })
}

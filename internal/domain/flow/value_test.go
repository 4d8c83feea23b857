package flow_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/flowengine/internal/domain/flow"
)

func TestDecimalFloat64(t *testing.T) {
	d := flow.NewDecimal(15099, -2)
	require.InDelta(t, 150.99, d.Float64(), 0.0001)
	require.Equal(t, "150.99", d.String())
}

func TestDecimalPositiveExponent(t *testing.T) {
	d := flow.NewDecimal(15, 2)
	require.InDelta(t, 1500.0, d.Float64(), 0.0001)
}

func TestMatchesSchema(t *testing.T) {
	v := flow.IntValue("money.amount", 100)
	require.True(t, v.MatchesSchema(flow.KindInt, "money.amount"))
	require.True(t, v.MatchesSchema(flow.KindInt, ""))
	require.False(t, v.MatchesSchema(flow.KindInt, "other.tag"))
	require.False(t, v.MatchesSchema(flow.KindString, "money.amount"))
}

func TestValueStringFormatsEachKind(t *testing.T) {
	require.Equal(t, "hello", flow.StringValue("", "hello").String())
	require.Equal(t, "42", flow.IntValue("", 42).String())
	require.Equal(t, "true", flow.BoolValue("", true).String())
	require.Equal(t, "150.99", flow.DecimalValue("", flow.NewDecimal(15099, -2)).String())
}

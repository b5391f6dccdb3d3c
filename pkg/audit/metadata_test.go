package audit

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_CanonicalJSON(t *testing.T) {
	v := MustFromGo(map[string]interface{}{
		"zeta":  1,
		"alpha": []interface{}{"x", true, nil},
		"mid": map[string]interface{}{
			"b": 2.5,
			"a": "<tag>&",
		},
	})

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":["x",true,null],"mid":{"a":"<tag>&","b":2.5},"zeta":1}`, string(data))
}

func TestValue_NumberFormatting(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{1, "1"},
		{-42, "-42"},
		{1.5, "1.5"},
		{0.1, "0.1"},
		{123456789, "123456789"},
		{1e21, "1e+21"},
		{1.5e-7, "1.5e-7"},
		{0.000001, "0.000001"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			data, err := Number(tt.in).MarshalJSON()
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestValue_NonFinite(t *testing.T) {
	assert.True(t, Number(math.NaN()).IsNull())
	assert.True(t, Number(math.Inf(1)).IsNull())

	_, err := FromGo(math.Inf(-1))
	assert.Error(t, err)
}

func TestValue_UnmarshalRoundTrip(t *testing.T) {
	raw := `{"nested":{"list":[1,"two",{"three":3}],"flag":false},"empty":{},"none":null}`

	var v Value
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	assert.Equal(t, KindObject, v.Kind())
	assert.Equal(t, []string{"empty", "nested", "none"}, v.Keys())

	data, err := json.Marshal(v)
	require.NoError(t, err)

	var again Value
	require.NoError(t, json.Unmarshal(data, &again))
	assert.True(t, v.Equal(again))
}

func TestValue_Accessors(t *testing.T) {
	v := Object(map[string]Value{
		"name":  String("report.pdf"),
		"size":  Number(1024),
		"ok":    Bool(true),
		"items": Array(String("a"), String("b")),
	})

	name, _ := v.Get("name")
	s, ok := name.AsString()
	assert.True(t, ok)
	assert.Equal(t, "report.pdf", s)

	size, _ := v.Get("size")
	n, ok := size.AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1024.0, n)

	items, _ := v.Get("items")
	assert.Len(t, items.Items(), 2)

	_, ok = v.Get("missing")
	assert.False(t, ok)

	_, ok = String("x").Get("name")
	assert.False(t, ok)
}

func TestValue_Text(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
		ok   bool
	}{
		{"string", String("false"), "false", true},
		{"bool", Bool(false), "false", true},
		{"number", Number(5), "5", true},
		{"null", Null(), "", false},
		{"object", Object(map[string]Value{"a": Number(1)}), `{"a":1}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.v.Text()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValue_ToGo(t *testing.T) {
	in := map[string]interface{}{
		"a": []interface{}{1.0, "x"},
		"b": nil,
	}
	assert.Equal(t, in, MustFromGo(in).ToGo())
}

func TestFromGo_Unsupported(t *testing.T) {
	_, err := FromGo(struct{}{})
	assert.Error(t, err)
}

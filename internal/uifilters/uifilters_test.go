package uifilters

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEmpty(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", "{}", "[]"} {
		filters, err := NewDecoder().Decode(raw)
		require.NoError(t, err, raw)
		assert.Empty(t, filters, raw)
	}
}

func TestDecodeObjectIsOrdered(t *testing.T) {
	filters, err := NewDecoder().Decode(`{"transactionResult":"HTTP 2xx","environment":"production","host":["a","b"]}`)
	require.NoError(t, err)

	assert.Equal(t, []Filter{
		{Field: "service.environment", Values: []string{"production"}},
		{Field: "host.hostname", Values: []string{"a", "b"}},
		{Field: "transaction.result", Values: []string{"HTTP 2xx"}},
	}, filters)
}

func TestDecodeArrayKeepsPosition(t *testing.T) {
	filters, err := NewDecoder().Decode(`[{"field":"service.version","value":"1.2.0"},{"field":"agentName","value":["nodejs"]}]`)
	require.NoError(t, err)

	assert.Equal(t, []Filter{
		{Field: "service.version", Values: []string{"1.2.0"}},
		{Field: "agent.name", Values: []string{"nodejs"}},
	}, filters)
}

func TestDecodeDropsEmptyValues(t *testing.T) {
	filters, err := NewDecoder().Decode(`{"environment":"","host":[""],"podName":null,"containerId":["c1",""]}`)
	require.NoError(t, err)

	assert.Equal(t, []Filter{{Field: "container.id", Values: []string{"c1"}}}, filters)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{environment`,
		"scalar":        `"production"`,
		"unknown field": `{"password":"x"}`,
		"numeric value": `{"environment":3}`,
		"missing field": `[{"value":"x"}]`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewDecoder().Decode(raw)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestResolve(t *testing.T) {
	f, ok := Resolve("location")
	assert.True(t, ok)
	assert.Equal(t, "client.geo.country_iso_code", f)

	f, ok = Resolve("client.geo.country_iso_code")
	assert.True(t, ok)
	assert.Equal(t, "client.geo.country_iso_code", f)

	_, ok = Resolve("kuery")
	assert.False(t, ok)

	assert.Contains(t, Fields(), "service.environment")
}

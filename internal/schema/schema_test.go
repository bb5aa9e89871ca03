package schema

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, err error) *DecodeError {
	t.Helper()
	require.Error(t, err)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	return decErr
}

func TestExact(t *testing.T) {
	s := Exact(Props{"serviceName": String, "transactionType": String})

	t.Run("decodes declared fields only", func(t *testing.T) {
		rec, err := s.Decode(Input{
			"serviceName":     {"opbeans-node"},
			"transactionType": {"request"},
			"_inspect":        {"true"},
		})
		require.NoError(t, err)
		assert.Equal(t, Record{"serviceName": "opbeans-node", "transactionType": "request"}, rec)
	})

	t.Run("reports every missing field", func(t *testing.T) {
		_, err := s.Decode(Input{})
		decErr := decodeError(t, err)
		assert.Equal(t, []string{"serviceName", "transactionType"}, decErr.Paths())
		for _, f := range decErr.Failures {
			assert.Equal(t, ReasonMissing, f.Reason)
			assert.Equal(t, "string", f.Expected)
			assert.Equal(t, "{ serviceName: string, transactionType: string }", f.Schema)
		}
	})

	t.Run("names the single missing field", func(t *testing.T) {
		_, err := s.Decode(Input{"serviceName": {"opbeans-node"}})
		decErr := decodeError(t, err)
		require.Len(t, decErr.Failures, 1)
		assert.Equal(t, "transactionType", decErr.Failures[0].Path)
	})

	t.Run("rejects repeated values", func(t *testing.T) {
		_, err := s.Decode(Input{
			"serviceName":     {"a"},
			"transactionType": {"request", "page-load"},
		})
		decErr := decodeError(t, err)
		require.Len(t, decErr.Failures, 1)
		assert.Equal(t, ReasonInvalid, decErr.Failures[0].Reason)
	})

	t.Run("accepts empty string", func(t *testing.T) {
		rec, err := s.Decode(Input{"serviceName": {""}, "transactionType": {""}})
		require.NoError(t, err)
		v, ok := rec.Lookup("serviceName")
		assert.True(t, ok)
		assert.Equal(t, "", v)
	})
}

func TestPartial(t *testing.T) {
	s := Partial(Props{"transactionId": String, "traceId": String})

	t.Run("zero fields present yields empty record", func(t *testing.T) {
		rec, err := s.Decode(Input{"unrelated": {"x"}})
		require.NoError(t, err)
		assert.Empty(t, rec)
	})

	t.Run("present fields are validated", func(t *testing.T) {
		_, err := s.Decode(Input{"traceId": {"a", "b"}})
		decErr := decodeError(t, err)
		assert.Equal(t, []string{"traceId"}, decErr.Paths())
		assert.Equal(t, ReasonInvalid, decErr.Failures[0].Reason)
	})

	t.Run("absent is not invalid", func(t *testing.T) {
		rec, err := s.Decode(Input{"traceId": {"abc"}})
		require.NoError(t, err)
		assert.Nil(t, rec.Optional("transactionId"))
		assert.Equal(t, "abc", *rec.Optional("traceId"))
	})
}

func TestIntersect(t *testing.T) {
	s := Intersect(Exact(Props{"a": String}), Partial(Props{"b": String}))

	cases := []struct {
		name    string
		input   Input
		want    Record
		missing []string
	}{
		{name: "a only", input: Input{"a": {"x"}}, want: Record{"a": "x"}},
		{name: "a and b", input: Input{"a": {"x"}, "b": {"y"}}, want: Record{"a": "x", "b": "y"}},
		{name: "empty", input: Input{}, missing: []string{"a"}},
		{name: "b only", input: Input{"b": {"y"}}, missing: []string{"a"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := s.Decode(tc.input)
			if tc.missing != nil {
				decErr := decodeError(t, err)
				assert.Equal(t, tc.missing, decErr.Paths())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, rec)
		})
	}
}

func TestIntersectCollectsFailuresFromAllMembers(t *testing.T) {
	s := Intersect(
		Exact(Props{"transactionType": String}),
		Partial(Props{"uiFilters": String}),
		Exact(Props{"start": String, "end": String}),
	)

	_, err := s.Decode(Input{"uiFilters": {"{}", "{}"}})
	decErr := decodeError(t, err)
	assert.Equal(t, []string{"end", "start", "transactionType", "uiFilters"}, decErr.Paths())
}

func TestIntersectDeduplicatesSharedFields(t *testing.T) {
	s := Intersect(Exact(Props{"start": String}), Exact(Props{"start": String}))

	_, err := s.Decode(Input{})
	decErr := decodeError(t, err)
	assert.Len(t, decErr.Failures, 1)
	assert.NoError(t, Check(s))
	assert.Len(t, s.Fields(), 1)
}

func TestDecodeFromURLValues(t *testing.T) {
	q, err := url.ParseQuery("transactionType=request&start=now-15m&end=now")
	require.NoError(t, err)

	s := Intersect(Exact(Props{"transactionType": String}), Exact(Props{"start": String, "end": String}))
	rec, err := s.Decode(Input(q))
	require.NoError(t, err)
	assert.Equal(t, "now-15m", rec.Get("start"))
}

func TestCheck(t *testing.T) {
	t.Run("optionality conflict", func(t *testing.T) {
		s := Intersect(Exact(Props{"transactionName": String}), Partial(Props{"transactionName": String}))
		err := Check(s)
		require.Error(t, err)

		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, []string{"transactionName"}, conflict.Fields)
	})

	t.Run("disjoint members", func(t *testing.T) {
		s := Intersect(Exact(Props{"a": String}), Partial(Props{"b": String}))
		assert.NoError(t, Check(s))
	})
}

func TestFieldsAndString(t *testing.T) {
	s := Intersect(Exact(Props{"a": String}), Partial(Props{"b": String}))

	fields := s.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, Field{Name: "a", Type: String}, fields[0])
	assert.Equal(t, Field{Name: "b", Type: String, Optional: true}, fields[1])
	assert.Equal(t, "({ a: string } & Partial<{ b: string }>)", s.String())
}

func TestDecodeIsDeterministic(t *testing.T) {
	s := Intersect(Exact(Props{"z": String, "a": String}), Partial(Props{"m": String}))
	in := Input{"m": {"1", "2"}}

	_, first := s.Decode(in)
	_, second := s.Decode(in)
	assert.Equal(t, first, second)
	assert.Equal(t, Input{"m": {"1", "2"}}, in)
}

func TestTypedCodec(t *testing.T) {
	type params struct {
		Name string
		ID   string
	}

	c := Typed(Intersect(Exact(Props{"name": String}), Partial(Props{"id": String})), func(r Record) params {
		return params{Name: r.Get("name"), ID: r.GetOr("id", "")}
	})

	got, err := c.Decode(Input{"name": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, params{Name: "x"}, got)

	_, err = c.Decode(Input{})
	assert.Error(t, err)
}

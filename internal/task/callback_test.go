package task

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallback_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cb      Callback
		wantErr bool
	}{
		{"function", FunctionRef("cleanup"), false},
		{"method", MethodRef("Mailer", "flush"), false},
		{"empty", Callback{}, true},
		{"target without method", Callback{Target: "Mailer"}, true},
		{"both forms", Callback{Function: "f", Target: "T", Method: "m"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cb.Validate()
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidCallback))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCallback_EncodeRoundTrip(t *testing.T) {
	t.Parallel()

	cb := MethodRef("Foo", "bar")
	data, err := cb.Encode()
	require.NoError(t, err)

	decoded, err := DecodeCallback(data)
	require.NoError(t, err)
	assert.True(t, cb.Equal(decoded))
	assert.False(t, cb.Equal(MethodRef("Foo", "baz")))
	assert.Equal(t, "Foo::bar", cb.String())
}

func TestParams_Encode(t *testing.T) {
	t.Parallel()

	var nilParams Params
	data, err := nilParams.Encode()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	assert.True(t, Params{}.Equal(nil))
	assert.True(t, Params{1, "a"}.Equal(Params{1, "a"}))
	assert.False(t, Params{1, "a"}.Equal(Params{"a", 1}))
}

func TestDecodeParams_KeepsNumbersLiteral(t *testing.T) {
	t.Parallel()

	p, err := DecodeParams([]byte(`[1, 2.50, "x"]`))
	require.NoError(t, err)
	require.Len(t, p, 3)
	assert.Equal(t, json.Number("1"), p[0])
	assert.Equal(t, json.Number("2.50"), p[1])
	assert.Equal(t, `f(1, 2.50, "x")`, Synopsis("f", p))

	empty, err := DecodeParams(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestSynopsis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		label  string
		params Params
		want   string
	}{
		{
			name:   "mixed scalars",
			label:  "Foo::bar",
			params: Params{1, `x"y`, true, nil},
			want:   `Foo::bar(1, "x&quot;y", TRUE, NULL)`,
		},
		{
			name:   "no params",
			label:  "cleanup",
			params: nil,
			want:   "cleanup()",
		},
		{
			name:   "floats and false",
			label:  "f",
			params: Params{1.5, false, int64(-3)},
			want:   "f(1.5, FALSE, -3)",
		},
		{
			name:   "html escaping",
			label:  "f",
			params: Params{`<a href='x'>&</a>`},
			want:   `f("&lt;a href=&#039;x&#039;&gt;&amp;&lt;/a&gt;")`,
		},
		{
			name:   "containers",
			label:  "f",
			params: Params{[]any{1}, [2]int{1, 2}, map[string]any{"a": 1}, struct{ A int }{1}},
			want:   "f(ARRAY, ARRAY, OBJECT, OBJECT)",
		},
		{
			name:   "unsupported",
			label:  "f",
			params: Params{make(chan int), func() {}},
			want:   "f(????, ????)",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Synopsis(tc.label, tc.params))
		})
	}
}

func TestPriority_Clamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, PriorityHigh, Priority(0).Clamp())
	assert.Equal(t, PriorityHigh, Priority(-7).Clamp())
	assert.Equal(t, PriorityLow, Priority(3).Clamp())
	assert.Equal(t, PriorityBackground, Priority(99).Clamp())
	assert.Equal(t, "medium", PriorityMedium.String())
}

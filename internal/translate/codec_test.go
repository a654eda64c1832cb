package translate

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/ldap-crud/internal/metadata"
)

func TestCodec_RoundTrip(t *testing.T) {
	var codec Codec

	tests := []struct {
		name      string
		fieldType metadata.FieldType
		value     any
		encoded   string
		decoded   any
	}{
		{"string", metadata.TypeString, "hello", "hello", "hello"},
		{"uid", metadata.TypeUID, "a-b-c", "a-b-c", "a-b-c"},
		{"integer", metadata.TypeInteger, json.Number("-42"), "-42", int64(-42)},
		{"biginteger", metadata.TypeBigInteger, json.Number("123456789012345678901234567890"), "123456789012345678901234567890", mustBigInt("123456789012345678901234567890")},
		{"bigdecimal", metadata.TypeBigDecimal, json.Number("1.7976931348623157E+308"), "1.7976931348623157E+308", json.Number("1.7976931348623157E+308")},
		{"bigdecimal plain", metadata.TypeBigDecimal, json.Number("12.50"), "12.50", json.Number("12.50")},
		{"double", metadata.TypeDouble, json.Number("0.1"), "0.1", 0.1},
		{"double max", metadata.TypeDouble, json.Number("1.7976931348623157E308"), "1.7976931348623157e+308", 1.7976931348623157e308},
		{"boolean true", metadata.TypeBoolean, true, "true", true},
		{"boolean false", metadata.TypeBoolean, false, "false", false},
		{"date", metadata.TypeDate, "2024-01-02T03:04:05.678+0000", "20240102030405.678Z", "2024-01-02T03:04:05.678+0000"},
		{"binary", metadata.TypeBinary, "dGVzdCBiaW5hcnkgZGF0YQ==", "test binary data", "dGVzdCBiaW5hcnkgZGF0YQ=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := codec.Encode(tt.fieldType, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.encoded, encoded)

			decoded, err := codec.Decode(tt.fieldType, []byte(encoded))
			require.NoError(t, err)
			assert.Equal(t, tt.decoded, decoded)

			again, err := codec.Encode(tt.fieldType, decoded)
			require.NoError(t, err)
			assert.Equal(t, encoded, again)
		})
	}
}

func TestCodec_EncodeErrors(t *testing.T) {
	var codec Codec

	tests := []struct {
		name      string
		fieldType metadata.FieldType
		value     any
	}{
		{"string from number", metadata.TypeString, json.Number("1")},
		{"integer from bool", metadata.TypeInteger, true},
		{"integer from fraction", metadata.TypeInteger, json.Number("1.5")},
		{"integer overflow", metadata.TypeInteger, json.Number("99999999999999999999")},
		{"biginteger from text", metadata.TypeBigInteger, "abc"},
		{"bigdecimal from bool", metadata.TypeBigDecimal, false},
		{"double from text", metadata.TypeDouble, "not a number"},
		{"boolean from number", metadata.TypeBoolean, json.Number("1")},
		{"boolean from text", metadata.TypeBoolean, "yes"},
		{"date from garbage", metadata.TypeDate, "yesterday"},
		{"date from number", metadata.TypeDate, json.Number("20240101")},
		{"binary from invalid base64", metadata.TypeBinary, "***"},
		{"array is not scalar", metadata.TypeArray, []any{"a"}},
		{"objectType is never encoded", metadata.TypeObjectType, "person"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Encode(tt.fieldType, tt.value)

			var encErr *EncodingError
			require.ErrorAs(t, err, &encErr)
			assert.Equal(t, tt.fieldType, encErr.Type)
		})
	}
}

func TestCodec_EncodeBigIntegerInputs(t *testing.T) {
	var codec Codec

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"float", float64(42), "42"},
		{"large float", float64(1e20), "100000000000000000000"},
		{"negative float", float64(-7), "-7"},
		{"int64", int64(-3), "-3"},
		{"text", " 12345678901234567890 ", "12345678901234567890"},
		{"big.Int", mustBigInt("98765432109876543210"), "98765432109876543210"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := codec.Encode(metadata.TypeBigInteger, tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, encoded)
		})
	}

	_, err := codec.Encode(metadata.TypeBigInteger, float64(1.5))
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestCodec_DecodeLenient(t *testing.T) {
	var codec Codec

	v, err := codec.Decode(metadata.TypeBoolean, []byte("TRUE"))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = codec.Decode(metadata.TypeDate, []byte("20240102030405Z"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05.000+0000", v)

	v, err = codec.Decode(metadata.TypeDate, []byte("20240102050405+0200"))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05.000+0000", v)

	_, err = codec.Decode(metadata.TypeInteger, []byte("four"))
	assert.Error(t, err)
}

func TestCodec_EncodeDateInputs(t *testing.T) {
	var codec Codec

	for _, input := range []string{
		"2024-01-02T03:04:05.000+0000",
		"2024-01-02T03:04:05Z",
		"2024-01-02T03:04:05.000Z",
		"2024-01-02T04:04:05+01:00",
	} {
		encoded, err := codec.Encode(metadata.TypeDate, input)
		require.NoError(t, err, input)
		assert.Equal(t, "20240102030405.000Z", encoded, input)
	}

	encoded, err := codec.Encode(metadata.TypeDate, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "20240102030405.000Z", encoded)
}

func TestFormatBigDecimal(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"0", "0"},
		{"123", "123"},
		{"-123.45", "-123.45"},
		{"0.001", "0.001"},
		{"0.0000001", "1E-7"},
		{"1.7976931348623157E308", "1.7976931348623157E+308"},
		{"1E+3", "1E+3"},
		{"12E-10", "1.2E-9"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, FormatBigDecimal(d))
		})
	}
}

func mustBigInt(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid big integer " + s)
	}
	return n
}

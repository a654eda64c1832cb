package translate

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/isometry/ldap-crud/internal/metadata"
)

// Date layouts.
const (
	// DateLayout is the ISO-8601 form dates take in documents.
	DateLayout = "2006-01-02T15:04:05.000-0700"

	generalizedTimeLayout = "20060102150405.000"
)

var dateInputLayouts = []string{
	DateLayout,
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

var (
	errTypeMismatch = errors.New("type mismatch")
	errNotFinite    = errors.New("value is not finite")
)

// Codec converts between document values and LDAP attribute values. The
// zero value is ready to use and safe for concurrent use.
type Codec struct{}

// Encode converts one document value to its LDAP string form.
func (Codec) Encode(t metadata.FieldType, v any) (string, error) {
	s, err := encode(t, v)
	if err != nil {
		return "", &EncodingError{Type: t, Value: v, Err: err}
	}
	return s, nil
}

// Decode converts one LDAP value to its document form.
func (Codec) Decode(t metadata.FieldType, raw []byte) (any, error) {
	v, err := decode(t, raw)
	if err != nil {
		return nil, &EncodingError{Type: t, Value: string(raw), Err: err}
	}
	return v, nil
}

func encode(t metadata.FieldType, v any) (string, error) {
	switch t {
	case metadata.TypeString, metadata.TypeUID:
		s, ok := v.(string)
		if !ok {
			return "", errTypeMismatch
		}
		return s, nil

	case metadata.TypeInteger:
		n, err := toInt64(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil

	case metadata.TypeBigInteger:
		n, err := toBigInt(v)
		if err != nil {
			return "", err
		}
		return n.String(), nil

	case metadata.TypeBigDecimal:
		d, err := toDecimal(v)
		if err != nil {
			return "", err
		}
		return FormatBigDecimal(d), nil

	case metadata.TypeDouble:
		f, err := toFloat64(v)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil

	case metadata.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			if strings.EqualFold(b, "true") || strings.EqualFold(b, "false") {
				return strings.ToLower(b), nil
			}
		}
		return "", errTypeMismatch

	case metadata.TypeDate:
		t, err := toTime(v)
		if err != nil {
			return "", err
		}
		return t.UTC().Format(generalizedTimeLayout) + "Z", nil

	case metadata.TypeBinary:
		switch b := v.(type) {
		case []byte:
			return string(b), nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return "", fmt.Errorf("invalid base64: %w", err)
			}
			return string(raw), nil
		}
		return "", errTypeMismatch

	default:
		return "", fmt.Errorf("type %q cannot be encoded", t)
	}
}

func decode(t metadata.FieldType, raw []byte) (any, error) {
	s := string(raw)

	switch t {
	case metadata.TypeString, metadata.TypeUID:
		return s, nil

	case metadata.TypeInteger:
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)

	case metadata.TypeBigInteger:
		n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return n, nil

	case metadata.TypeBigDecimal:
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		return json.Number(FormatBigDecimal(d)), nil

	case metadata.TypeDouble:
		return strconv.ParseFloat(strings.TrimSpace(s), 64)

	case metadata.TypeBoolean:
		switch {
		case strings.EqualFold(s, "true"):
			return true, nil
		case strings.EqualFold(s, "false"):
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", s)

	case metadata.TypeDate:
		ts, err := ParseGeneralizedTime(s)
		if err != nil {
			return nil, err
		}
		return ts.UTC().Format(DateLayout), nil

	case metadata.TypeBinary:
		return base64.StdEncoding.EncodeToString(raw), nil

	default:
		return nil, fmt.Errorf("type %q cannot be decoded", t)
	}
}

// ParseGeneralizedTime parses RFC 4517 Generalized Time. Minutes and seconds
// may be omitted and fractions may use a comma.
func ParseGeneralizedTime(s string) (time.Time, error) {
	s = strings.Replace(s, ",", ".", 1)
	for _, layout := range []string{"20060102150405Z0700", "200601021504Z0700", "2006010215Z0700"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid generalized time %q", s)
}

// FormatBigDecimal renders d the way java.math.BigDecimal.toString does:
// plain notation unless the exponent is positive or the value is very small.
func FormatBigDecimal(d decimal.Decimal) string {
	coefficient := d.Coefficient()
	scale := -int64(d.Exponent())

	digits := new(big.Int).Abs(coefficient).String()
	sign := ""
	if coefficient.Sign() < 0 {
		sign = "-"
	}

	adjusted := -scale + int64(len(digits)-1)

	if scale >= 0 && adjusted >= -6 {
		switch {
		case scale == 0:
			return sign + digits
		case int64(len(digits)) > scale:
			point := int64(len(digits)) - scale
			return sign + digits[:point] + "." + digits[point:]
		default:
			return sign + "0." + strings.Repeat("0", int(scale-int64(len(digits)))) + digits
		}
	}

	var b strings.Builder
	b.WriteString(sign)
	b.WriteString(digits[:1])
	if len(digits) > 1 {
		b.WriteByte('.')
		b.WriteString(digits[1:])
	}
	b.WriteByte('E')
	if adjusted >= 0 {
		b.WriteByte('+')
	}
	b.WriteString(strconv.FormatInt(adjusted, 10))
	return b.String()
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return strconv.ParseInt(n.String(), 10, 64)
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) || n > math.MaxInt64 || n < math.MinInt64 {
			return 0, fmt.Errorf("%v is not an integer", n)
		}
		return int64(n), nil
	}
	return 0, errTypeMismatch
}

func toBigInt(v any) (*big.Int, error) {
	var s string
	switch n := v.(type) {
	case *big.Int:
		return n, nil
	case json.Number:
		s = n.String()
	case string:
		s = strings.TrimSpace(n)
	case int, int32, int64:
		s = fmt.Sprint(n)
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		i, _ := new(big.Float).SetFloat64(n).Int(nil)
		return i, nil
	default:
		return nil, errTypeMismatch
	}

	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return decimal.Decimal{}, errNotFinite
		}
		return decimal.NewFromString(strconv.FormatFloat(n, 'g', -1, 64))
	}
	return decimal.Decimal{}, errTypeMismatch
}

func toFloat64(v any) (float64, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, err
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, err
		}
		f = parsed
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, errTypeMismatch
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errNotFinite
	}
	return f, nil
}

func toTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		for _, layout := range dateInputLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized date %q", t)
	}
	return time.Time{}, errTypeMismatch
}

package dynatable

import (
	"encoding/json"
	"math"
	"reflect"
	"regexp"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is an alias for the dynamodb attribute value map.
type Item = map[string]types.AttributeValue

// Record is the native form of a table row: a JSON-like object.
type Record = map[string]any

// DecodeOptions configures Decode.
type DecodeOptions struct {
	// UseNumber decodes numbers as json.Number instead of float64, keeping
	// the exact decimal text.
	UseNumber bool
}

// Encode converts a native value into its tagged wire form. Strings, numbers
// and booleans map to S, N and BOOL; slices and arrays become L; string-keyed
// maps become M. A nil value becomes NULL, even though Decode rejects NULL:
// the backend is never expected to hold one.
func Encode(v any) (types.AttributeValue, error) {
	switch v := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case string:
		return &types.AttributeValueMemberS{Value: v}, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: v}, nil
	case json.Number:
		if !isDecimal(string(v)) {
			return nil, encodingErrorf("invalid number %q", string(v))
		}
		return &types.AttributeValueMemberN{Value: string(v)}, nil
	case []any:
		if v == nil {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		return encodeList(len(v), func(i int) any { return v[i] })
	case map[string]any:
		if v == nil {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		return encodeObject(v)
	case []byte:
		return nil, encodingErrorf("binary values are not supported")
	}
	return encodeReflect(reflect.ValueOf(v))
}

func encodeReflect(rv reflect.Value) (types.AttributeValue, error) {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		return Encode(rv.Elem().Interface())
	case reflect.String:
		return &types.AttributeValueMemberS{Value: rv.String()}, nil
	case reflect.Bool:
		return &types.AttributeValueMemberBOOL{Value: rv.Bool()}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(rv.Int(), 10)}, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return &types.AttributeValueMemberN{Value: strconv.FormatUint(rv.Uint(), 10)}, nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, encodingErrorf("number %v is not representable", f)
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(f, 'f', -1, rv.Type().Bits())}, nil
	case reflect.Slice:
		if rv.IsNil() {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		fallthrough
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return nil, encodingErrorf("binary values are not supported")
		}
		return encodeList(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, encodingErrorf("map key type %s is not a string", rv.Type().Key())
		}
		if rv.IsNil() {
			return &types.AttributeValueMemberNULL{Value: true}, nil
		}
		m := make(map[string]types.AttributeValue, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			av, err := Encode(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			m[iter.Key().String()] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, encodingErrorf("unsupported value of type %s", rv.Type())
}

func encodeList(n int, at func(int) any) (types.AttributeValue, error) {
	list := make([]types.AttributeValue, 0, n)
	for i := 0; i < n; i++ {
		av, err := Encode(at(i))
		if err != nil {
			return nil, err
		}
		list = append(list, av)
	}
	return &types.AttributeValueMemberL{Value: list}, nil
}

func encodeObject(in map[string]any) (types.AttributeValue, error) {
	m, err := EncodeMap(in)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberM{Value: m}, nil
}

// EncodeMap encodes every entry of a native object.
func EncodeMap(in map[string]any) (Item, error) {
	item := make(Item, len(in))
	for name, value := range in {
		av, err := Encode(value)
		if err != nil {
			return nil, err
		}
		item[name] = av
	}
	return item, nil
}

// Decode converts a tagged value into its native form. NULL is never valid
// and fails with ErrDecode, as do tags outside the supported set.
func Decode(av types.AttributeValue, opts ...func(*DecodeOptions)) (any, error) {
	var options DecodeOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options.decode(av)
}

// DecodeMap decodes every attribute of an item.
func DecodeMap(item Item, opts ...func(*DecodeOptions)) (map[string]any, error) {
	var options DecodeOptions
	for _, opt := range opts {
		opt(&options)
	}
	return options.decodeMap(item)
}

func (o DecodeOptions) decode(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return o.number(v.Value)
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	case *types.AttributeValueMemberL:
		list := make([]any, 0, len(v.Value))
		for _, elem := range v.Value {
			decoded, err := o.decode(elem)
			if err != nil {
				return nil, err
			}
			list = append(list, decoded)
		}
		return list, nil
	case *types.AttributeValueMemberM:
		return o.decodeMap(v.Value)
	case *types.AttributeValueMemberSS:
		return append([]string{}, v.Value...), nil
	case *types.AttributeValueMemberNS:
		if o.UseNumber {
			set := make([]json.Number, 0, len(v.Value))
			for _, n := range v.Value {
				if _, err := strconv.ParseFloat(n, 64); err != nil {
					return nil, decodeErrorf("invalid number %q", n)
				}
				set = append(set, json.Number(n))
			}
			return set, nil
		}
		set := make([]float64, 0, len(v.Value))
		for _, n := range v.Value {
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, decodeErrorf("invalid number %q", n)
			}
			set = append(set, f)
		}
		return set, nil
	case *types.AttributeValueMemberNULL:
		return nil, decodeErrorf("NULL values are not supported")
	case nil:
		return nil, decodeErrorf("missing attribute value")
	}
	return nil, decodeErrorf("unsupported attribute value %T", av)
}

func (o DecodeOptions) decodeMap(item Item) (map[string]any, error) {
	out := make(map[string]any, len(item))
	for name, av := range item {
		v, err := o.decode(av)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (o DecodeOptions) number(s string) (any, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, decodeErrorf("invalid number %q", s)
	}
	if o.UseNumber {
		return json.Number(s), nil
	}
	return f, nil
}

// EncodeAs encodes v with the wire tag declared for a column. Unlike Encode
// it checks the value against the declared type and rejects nil.
func EncodeAs(t ColumnType, v any) (types.AttributeValue, error) {
	if isNil(v) {
		return nil, validationErrorf("%s value is nil", t)
	}
	switch t {
	case String:
		if _, isNumber := v.(json.Number); !isNumber && reflect.ValueOf(v).Kind() == reflect.String {
			return &types.AttributeValueMemberS{Value: reflect.ValueOf(v).String()}, nil
		}
	case Number:
		if n, ok := numberText(v); ok {
			return &types.AttributeValueMemberN{Value: n}, nil
		}
	case Bool:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Bool {
			return &types.AttributeValueMemberBOOL{Value: rv.Bool()}, nil
		}
	case List, Map:
		av, err := Encode(v)
		if err != nil {
			return nil, err
		}
		if _, ok := av.(*types.AttributeValueMemberL); ok && t == List {
			return av, nil
		}
		if _, ok := av.(*types.AttributeValueMemberM); ok && t == Map {
			return av, nil
		}
	case StringSet:
		return encodeSet(t, v, func(elem any) (string, bool) {
			s, ok := elem.(string)
			return s, ok
		}, func(set []string) types.AttributeValue {
			return &types.AttributeValueMemberSS{Value: set}
		})
	case NumberSet:
		return encodeSet(t, v, numberText, func(set []string) types.AttributeValue {
			return &types.AttributeValueMemberNS{Value: set}
		})
	default:
		return nil, validationErrorf("unknown column type %q", t)
	}
	return nil, validationErrorf("value of type %T is not a %s", v, t)
}

func encodeSet(t ColumnType, v any, elem func(any) (string, bool), wrap func([]string) types.AttributeValue) (types.AttributeValue, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, validationErrorf("value of type %T is not a %s", v, t)
	}
	if rv.Len() == 0 {
		return nil, validationErrorf("%s must not be empty", t)
	}
	seen := make(map[string]bool, rv.Len())
	set := make([]string, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		s, ok := elem(rv.Index(i).Interface())
		if !ok {
			return nil, validationErrorf("element %d of type %T is not valid in a %s", i, rv.Index(i).Interface(), t)
		}
		if seen[s] {
			return nil, validationErrorf("duplicate element %q in %s", s, t)
		}
		seen[s] = true
		set = append(set, s)
	}
	return wrap(set), nil
}

// numberText returns the decimal text of a numeric value. Numeric strings
// are accepted so that keys may be passed in their textual form.
func numberText(v any) (string, bool) {
	switch n := v.(type) {
	case json.Number:
		return string(n), isDecimal(string(n))
	case string:
		return n, isDecimal(n)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", false
		}
		return strconv.FormatFloat(f, 'f', -1, rv.Type().Bits()), true
	}
	return "", false
}

var decimalLiteral = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)

// isDecimal reports whether s is a finite decimal literal. ParseFloat alone
// also accepts NaN, Inf and hex floats, none of which N can hold.
func isDecimal(s string) bool {
	if !decimalLiteral.MatchString(s) {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

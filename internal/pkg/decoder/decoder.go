// Package decoder turns positional contract return values into named, display-ready records.
package decoder

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"time"

	"wallet_session/internal/domain/entity"
	"wallet_session/internal/pkg/utils"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// DefaultAmountDecimals is used for amount fields that don't set their own decimals.
const DefaultAmountDecimals uint8 = 18

// TimestampLayout is the display layout of timestamp fields.
const TimestampLayout = time.RFC3339

// Decode maps values onto schema positionally. An arity or type mismatch is a DecodeError.
func Decode(schema entity.RecordSchema, id uint64, values []any) (entity.ContractRecord, error) {
	values = flattenTuple(values, schema.Arity())
	if len(values) != schema.Arity() {
		return entity.ContractRecord{}, entity.Errorf(entity.KindDecodeError,
			"%s #%d: expected %d values, got %d", schema.Name, id, schema.Arity(), len(values))
	}

	record := entity.ContractRecord{
		Schema: schema.Name,
		ID:     id,
		Fields: make([]entity.RecordField, 0, len(values)),
	}
	for i, spec := range schema.Fields {
		field, err := decodeField(spec, values[i])
		if err != nil {
			return entity.ContractRecord{}, entity.NewSessionError(entity.KindDecodeError,
				fmt.Sprintf("%s #%d: field %q", schema.Name, id, spec.Name), err)
		}
		record.Fields = append(record.Fields, field)
	}
	return record, nil
}

// DecodeReturnData unpacks raw eth_call output of method and decodes it.
func DecodeReturnData(contractABI abi.ABI, method string, schema entity.RecordSchema, id uint64, data []byte) (entity.ContractRecord, error) {
	if len(data) == 0 {
		return entity.ContractRecord{}, entity.Errorf(entity.KindDecodeError, "%s #%d: empty return data", schema.Name, id)
	}
	values, err := contractABI.Unpack(method, data)
	if err != nil {
		return entity.ContractRecord{}, entity.NewSessionError(entity.KindDecodeError,
			fmt.Sprintf("%s #%d: unpack %s", schema.Name, id, method), err)
	}
	return Decode(schema, id, values)
}

func decodeField(spec entity.FieldSpec, v any) (entity.RecordField, error) {
	field := entity.RecordField{Name: spec.Name, Kind: spec.Kind}
	switch spec.Kind {
	case entity.FieldAddress:
		addr, err := toAddress(v)
		if err != nil {
			return field, err
		}
		field.Raw, field.Display = addr, addr.Hex()

	case entity.FieldUint, entity.FieldInt:
		n, err := toBigInt(v)
		if err != nil {
			return field, err
		}
		if spec.Kind == entity.FieldUint && n.Sign() < 0 {
			return field, fmt.Errorf("negative value %s for unsigned field", n)
		}
		field.Raw, field.Display = n, n.String()

	case entity.FieldBool:
		b, ok := v.(bool)
		if !ok {
			return field, fmt.Errorf("expected bool, got %T", v)
		}
		field.Raw, field.Display = b, fmt.Sprintf("%t", b)

	case entity.FieldString:
		s, ok := v.(string)
		if !ok {
			return field, fmt.Errorf("expected string, got %T", v)
		}
		field.Raw, field.Display = s, s

	case entity.FieldBytes:
		b, err := toBytes(v)
		if err != nil {
			return field, err
		}
		field.Raw, field.Display = b, hexutil.Encode(b)

	case entity.FieldAmount:
		n, err := toBigInt(v)
		if err != nil {
			return field, err
		}
		decimals := spec.Decimals
		if decimals == 0 {
			decimals = DefaultAmountDecimals
		}
		display, err := utils.FormatBigInt(n, decimals)
		if err != nil {
			return field, err
		}
		field.Raw, field.Display = n, display

	case entity.FieldTimestamp:
		n, err := toBigInt(v)
		if err != nil {
			return field, err
		}
		if n.Sign() < 0 || !n.IsInt64() || n.Int64() > math.MaxInt64/int64(time.Second) {
			return field, fmt.Errorf("timestamp %s out of range", n)
		}
		if n.Sign() == 0 {
			field.Raw, field.Display = time.Time{}, ""
			break
		}
		ts := time.Unix(n.Int64(), 0).UTC()
		field.Raw, field.Display = ts, ts.Format(TimestampLayout)

	case entity.FieldEnum:
		n, err := toBigInt(v)
		if err != nil {
			return field, err
		}
		if n.Sign() < 0 || !n.IsUint64() || n.Uint64() >= uint64(len(spec.Labels)) {
			return field, fmt.Errorf("enum value %s has no label", n)
		}
		field.Raw, field.Display = n.Uint64(), spec.Labels[n.Uint64()]

	default:
		return field, fmt.Errorf("unsupported field kind %q", spec.Kind)
	}
	return field, nil
}

func toAddress(v any) (common.Address, error) {
	switch a := v.(type) {
	case common.Address:
		return a, nil
	case *common.Address:
		if a == nil {
			return common.Address{}, fmt.Errorf("nil address")
		}
		return *a, nil
	case string:
		if !common.IsHexAddress(a) {
			return common.Address{}, fmt.Errorf("invalid address %q", a)
		}
		return common.HexToAddress(a), nil
	default:
		return common.Address{}, fmt.Errorf("expected address, got %T", v)
	}
}

// toBigInt accepts the integer shapes abi.Unpack produces. Strings are rejected on purpose:
// amounts must arrive in smallest units, never pre-formatted.
func toBigInt(v any) (*big.Int, error) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return new(big.Int).Set(n), nil
	case big.Int:
		return new(big.Int).Set(&n), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), nil
	case uint64:
		return new(big.Int).SetUint64(n), nil
	case uint:
		return new(big.Int).SetUint64(uint64(n)), nil
	case int8:
		return big.NewInt(int64(n)), nil
	case int16:
		return big.NewInt(int64(n)), nil
	case int32:
		return big.NewInt(int64(n)), nil
	case int64:
		return big.NewInt(n), nil
	case int:
		return big.NewInt(int64(n)), nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", v)
	}
}

func toBytes(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out, nil
	}
	return nil, fmt.Errorf("expected bytes, got %T", v)
}

// flattenTuple expands a single struct value (a getter returning one tuple) into its fields.
func flattenTuple(values []any, arity int) []any {
	if len(values) != 1 || arity <= 1 {
		return values
	}
	rv := reflect.ValueOf(values[0])
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return values
	}
	// tuple structs built by abi have only exported fields, big.Int and friends don't
	for i := 0; i < rv.NumField(); i++ {
		if !rv.Type().Field(i).IsExported() {
			return values
		}
	}
	out := make([]any, rv.NumField())
	for i := range out {
		out[i] = rv.Field(i).Interface()
	}
	return out
}

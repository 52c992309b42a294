package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldKind describes how a positional return value is turned into a display value.
type FieldKind string

const (
	FieldAddress   FieldKind = "address"
	FieldUint      FieldKind = "uint"
	FieldInt       FieldKind = "int"
	FieldBool      FieldKind = "bool"
	FieldString    FieldKind = "string"
	FieldBytes     FieldKind = "bytes"
	FieldAmount    FieldKind = "amount"    // smallest-unit integer, shown with Decimals
	FieldTimestamp FieldKind = "timestamp" // seconds since epoch
	FieldEnum      FieldKind = "enum"      // uint index into Labels
)

// FieldSpec is one named position of a record tuple.
type FieldSpec struct {
	Name     string    `json:"name" yaml:"name"`
	Kind     FieldKind `json:"kind" yaml:"kind"`
	Decimals uint8     `json:"decimals,omitempty" yaml:"decimals,omitempty"`
	Labels   []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	// ABIType overrides the solidity type used when generating the getter ABI.
	ABIType string `json:"abiType,omitempty" yaml:"abiType,omitempty"`
}

// RecordSchema maps the positional tuple returned by GetterMethod to named fields.
type RecordSchema struct {
	Name         string      `json:"name" yaml:"name"`
	CountMethod  string      `json:"countMethod" yaml:"countMethod"`
	GetterMethod string      `json:"getterMethod" yaml:"getterMethod"`
	Fields       []FieldSpec `json:"fields" yaml:"fields"`
}

// Arity is the number of values a getter must return.
func (s RecordSchema) Arity() int {
	return len(s.Fields)
}

// RecordField is a decoded value.
type RecordField struct {
	Name    string    `json:"name"`
	Kind    FieldKind `json:"kind"`
	Raw     any       `json:"raw"`
	Display string    `json:"display"`
}

// ContractRecord is a decoded on-chain entity. It is created per read and never mutated.
type ContractRecord struct {
	Schema string        `json:"schema"`
	ID     uint64        `json:"id"`
	Fields []RecordField `json:"fields"`
}

// Field returns the named field.
func (r ContractRecord) Field(name string) (RecordField, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return RecordField{}, false
}

// Display returns the display string of the named field or "".
func (r ContractRecord) Display(name string) string {
	f, _ := r.Field(name)
	return f.Display
}

// MarshalJSON writes the record as {"schema":..,"id":..,"values":{name: display,...}} keeping field order.
func (r ContractRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"schema":`)
	schema, err := json.Marshal(r.Schema)
	if err != nil {
		return nil, err
	}
	buf.Write(schema)
	fmt.Fprintf(&buf, `,"id":%d,"values":{`, r.ID)
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Display)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// RecordFailure flags an id that could not be read or decoded during a listing.
type RecordFailure struct {
	ID      uint64    `json:"id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// RecordListing is the result of enumerating ids 1..Total of a contract.
type RecordListing struct {
	Contract string           `json:"contract"`
	ChainID  uint64           `json:"chainId"`
	Total    uint64           `json:"total"`
	Records  []ContractRecord `json:"records"`
	Failures []RecordFailure  `json:"failures,omitempty"`
	Batched  bool             `json:"batched"`
}

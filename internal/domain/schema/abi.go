package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"wallet_session/internal/domain/entity"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

type abiArgument struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type abiFunction struct {
	Type            string        `json:"type"`
	Name            string        `json:"name"`
	StateMutability string        `json:"stateMutability"`
	Inputs          []abiArgument `json:"inputs"`
	Outputs         []abiArgument `json:"outputs"`
}

// SolidityType is the ABI type a field is read as.
func SolidityType(f entity.FieldSpec) (string, error) {
	if f.ABIType != "" {
		return f.ABIType, nil
	}
	switch f.Kind {
	case entity.FieldAddress:
		return "address", nil
	case entity.FieldUint, entity.FieldAmount, entity.FieldTimestamp:
		return "uint256", nil
	case entity.FieldInt:
		return "int256", nil
	case entity.FieldBool:
		return "bool", nil
	case entity.FieldString:
		return "string", nil
	case entity.FieldBytes:
		return "bytes", nil
	case entity.FieldEnum:
		return "uint8", nil
	default:
		return "", fmt.Errorf("field %q: unsupported kind %q", f.Name, f.Kind)
	}
}

// ABIJSON renders the read surface of s (count and getter) as an ABI document.
func ABIJSON(s entity.RecordSchema) ([]byte, error) {
	if s.CountMethod == "" || s.GetterMethod == "" {
		return nil, fmt.Errorf("schema %s: count and getter methods are required", s.Name)
	}
	outputs := make([]abiArgument, 0, len(s.Fields))
	for _, f := range s.Fields {
		typ, err := SolidityType(f)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.Name, err)
		}
		outputs = append(outputs, abiArgument{Name: f.Name, Type: typ})
	}
	doc := []abiFunction{
		{
			Type:            "function",
			Name:            s.CountMethod,
			StateMutability: "view",
			Inputs:          []abiArgument{},
			Outputs:         []abiArgument{{Name: "", Type: "uint256"}},
		},
		{
			Type:            "function",
			Name:            s.GetterMethod,
			StateMutability: "view",
			Inputs:          []abiArgument{{Name: "id", Type: "uint256"}},
			Outputs:         outputs,
		},
	}
	return json.Marshal(doc)
}

// ABI parses the generated ABI of s.
func ABI(s entity.RecordSchema) (abi.ABI, error) {
	raw, err := ABIJSON(s)
	if err != nil {
		return abi.ABI{}, err
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("schema %s: parse generated abi: %w", s.Name, err)
	}
	return parsed, nil
}

// Package jsonx provides JSON serialization using Sonic.
// Drop-in subset of encoding/json with better throughput on the
// large context and export documents this service produces.
package jsonx

import (
	"github.com/bytedance/sonic"
)

// Marshal returns the JSON encoding of v.
func Marshal(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// MarshalIndent returns the indented JSON encoding of v.
// Used for session export documents, which are read by humans.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return sonic.MarshalIndent(v, prefix, indent)
}

// MarshalToString is like Marshal but returns the JSON as a string,
// avoiding the []byte to string conversion allocation.
func MarshalToString(v interface{}) (string, error) {
	return sonic.MarshalString(v)
}

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}

// UnmarshalFromString parses the JSON string and stores the result in v.
func UnmarshalFromString(data string, v interface{}) error {
	return sonic.UnmarshalString(data, v)
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return sonic.Valid(data)
}

package utils

import "encoding/json"

// Unmarshal JSON to generic struct
func UnmarshalFromJSON[T any](data []byte, output *T) error {
	return json.Unmarshal(data, output)
}

// MustMarshal marshals and swallows the error. Only for values that are
// known to be marshalable (maps/structs of plain fields).
func MustMarshal[T any](input T) []byte {
	b, _ := json.Marshal(input)
	return b
}

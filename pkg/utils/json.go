package utils

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MustMarshalJSON panics when v cannot be encoded. Use it only for values
// built in code.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("marshal json: " + err.Error())
	}
	return data
}

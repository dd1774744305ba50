package tool

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ComputeSchemaHash returns a content hash over the tool id, schema version
// and parameter shapes. Descriptions are excluded: rewording a parameter does
// not change the contract.
func ComputeSchemaHash(def Definition) string {
	h := xxhash.New()
	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.Write([]byte{0})
	}

	write(def.ID)
	write(def.SchemaVersion)
	for _, p := range def.Parameters {
		write(p.Name)
		write(string(p.Type))
		if p.Required {
			write("required")
		} else {
			write("optional")
		}
		write(canonicalJSON(p.Default))
		write(canonicalJSON(p.Enum))
	}

	return fmt.Sprintf("%016x", h.Sum64())
}

// canonicalJSON marshals v with sorted map keys; unmarshalable values fall back to %v.
func canonicalJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

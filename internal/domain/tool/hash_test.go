package tool

import "testing"

func TestComputeSchemaHash_Deterministic(t *testing.T) {
	t.Parallel()

	def := Definition{
		ID:            "schedule_appointment",
		SchemaVersion: "1.0.0",
		Parameters: []ParamSpec{
			{Name: "patient_id", Type: ParamTypeString, Required: true},
			{Name: "duration_minutes", Type: ParamTypeInteger, Default: 30},
		},
	}

	h1 := ComputeSchemaHash(def)
	h2 := ComputeSchemaHash(def.Clone())
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s vs %s", h1, h2)
	}
	if len(h1) != 16 {
		t.Errorf("hash length = %d, want 16", len(h1))
	}
}

func TestComputeSchemaHash_DetectsShapeChanges(t *testing.T) {
	t.Parallel()

	base := Definition{
		ID:            "update_device_status",
		SchemaVersion: "1.0.0",
		Parameters: []ParamSpec{
			{Name: "device_id", Type: ParamTypeString, Required: true},
			{Name: "status", Type: ParamTypeString, Required: true, Enum: []any{"active", "maintenance"}},
		},
	}
	baseHash := ComputeSchemaHash(base)

	mutations := map[string]func(d *Definition){
		"version":  func(d *Definition) { d.SchemaVersion = "1.1.0" },
		"type":     func(d *Definition) { d.Parameters[0].Type = ParamTypeInteger },
		"required": func(d *Definition) { d.Parameters[0].Required = false },
		"enum":     func(d *Definition) { d.Parameters[1].Enum = []any{"active"} },
		"default":  func(d *Definition) { d.Parameters[1].Default = "active" },
		"added":    func(d *Definition) { d.Parameters = append(d.Parameters, ParamSpec{Name: "note", Type: ParamTypeString}) },
	}

	for name, mutate := range mutations {
		d := base.Clone()
		mutate(&d)
		if ComputeSchemaHash(d) == baseHash {
			t.Errorf("%s change did not alter the schema hash", name)
		}
	}

	described := base.Clone()
	described.Parameters[0].Description = "reworded"
	if ComputeSchemaHash(described) != baseHash {
		t.Error("description change should not alter the schema hash")
	}
}

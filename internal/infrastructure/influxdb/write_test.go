package influxdb

import (
	"reflect"
	"testing"
)

func TestStorableFields(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]any
		want   map[string]any
	}{
		{
			name:   "numbers and bools kept",
			fields: map[string]any{"t1": 21.5, "n": 3, "on": true},
			want:   map[string]any{"t1": 21.5, "n": 3, "on": true},
		},
		{
			name:   "strings and nil dropped",
			fields: map[string]any{"t1": 21.5, "label": "A", "missing": nil, "nested": map[string]any{"x": 1.0}},
			want:   map[string]any{"t1": 21.5},
		},
		{
			name:   "nothing storable",
			fields: map[string]any{"label": "A"},
			want:   map[string]any{},
		},
		{
			name:   "nil map",
			fields: nil,
			want:   map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storableFields(tt.fields); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("storableFields() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

package query

import (
	"errors"
	"testing"

	"escola-client/pkg/cache"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

type turma struct {
	Codigo     int    `json:"codigo"`
	Designacao string `json:"designacao"`
}

func TestDecode(t *testing.T) {
	want := turma{Codigo: 5, Designacao: "Turma A"}

	tests := []struct {
		name  string
		input any
	}{
		{"typed", want},
		{"raw json", json.RawMessage(`{"codigo":5,"designacao":"Turma A"}`)},
		{"bytes", []byte(`{"codigo":5,"designacao":"Turma A"}`)},
		{"generic map", map[string]any{"codigo": float64(5), "designacao": "Turma A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode[turma](tt.input)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecode_Nil(t *testing.T) {
	got, err := Decode[[]turma](nil)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil slice, got %v", got)
	}
}

func TestDecode_Mismatch(t *testing.T) {
	if _, err := Decode[turma]("not an object"); err == nil {
		t.Error("Expected decode error")
	}
}

func TestDataAs(t *testing.T) {
	if _, err := DataAs[turma](Result{}); !errors.Is(err, cache.ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss without data, got %v", err)
	}

	got, err := DataAs[turma](Result{HasData: true, Data: turma{Codigo: 1}})
	if err != nil || got.Codigo != 1 {
		t.Errorf("Expected codigo 1, got %v (%v)", got, err)
	}
}

func TestStatus_String(t *testing.T) {
	tests := map[Status]string{
		StatusIdle:    "idle",
		StatusLoading: "loading",
		StatusSuccess: "success",
		StatusError:   "error",
		Status(42):    "unknown",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

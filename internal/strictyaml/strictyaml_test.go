package strictyaml

import (
	"strings"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count,omitempty"`
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	var d doc
	if err := Decode("x.yaml", []byte("name: a\ncount: 2\n"), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Name != "a" || d.Count != 2 {
		t.Fatalf("unexpected doc: %+v", d)
	}
}

func TestDecodeJSONByExtension(t *testing.T) {
	t.Parallel()
	var d doc
	if err := Decode("x.json", []byte(`{"name":"a"}`), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Name != "a" {
		t.Fatalf("unexpected doc: %+v", d)
	}
}

func TestDecodeList(t *testing.T) {
	t.Parallel()
	var ds []doc
	if err := Decode("x.yml", []byte("- name: a\n- name: b\n"), &ds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ds) != 2 || ds[1].Name != "b" {
		t.Fatalf("unexpected docs: %+v", ds)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	var d doc
	err := Decode("x.yaml", []byte("name: a\nbogus: 1\n"), &d)
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("want unknown-field error, got %v", err)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()
	var d doc
	if err := Decode("x.json", []byte(`{"name":"a"}{"name":"b"}`), &d); err == nil {
		t.Fatal("want trailing-data error")
	}
}

func TestDecodeNormalizesNonStringKeys(t *testing.T) {
	t.Parallel()
	var m map[string]any
	if err := Decode("x.yaml", []byte("1: one\n2: two\n"), &m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m["1"] != "one" {
		t.Fatalf("unexpected map: %+v", m)
	}
}

package gguf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type kv struct {
	key     string
	valType int32
	value   any
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint64(len(s)))
	buf.WriteString(s)
}

// buildHeader encodes a GGUF header with the given metadata.
func buildHeader(kvs ...kv) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString("GGUF")
	binary.Write(buf, binary.LittleEndian, uint32(3))
	binary.Write(buf, binary.LittleEndian, int64(0))
	binary.Write(buf, binary.LittleEndian, int64(len(kvs)))

	for _, e := range kvs {
		writeString(buf, e.key)
		binary.Write(buf, binary.LittleEndian, e.valType)
		switch v := e.value.(type) {
		case string:
			writeString(buf, v)
		case []uint32:
			binary.Write(buf, binary.LittleEndian, int32(typeUint32))
			binary.Write(buf, binary.LittleEndian, uint64(len(v)))
			for _, x := range v {
				binary.Write(buf, binary.LittleEndian, x)
			}
		default:
			binary.Write(buf, binary.LittleEndian, v)
		}
	}
	return buf.Bytes()
}

func TestReadHeader(t *testing.T) {
	data := buildHeader(
		kv{"general.name", typeString, "test model"},
		kv{"llama.rope.dims", typeArray, []uint32{1, 2, 3}},
		kv{"general.file_type", typeUint32, uint32(15)},
		kv{"general.architecture", typeString, "llama"},
		kv{"split.count", typeUint16, uint16(3)},
	)

	h, err := readHeader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("readHeader() error = %v", err)
	}
	if h.Version != 3 {
		t.Errorf("Version = %d, want 3", h.Version)
	}
	if h.Architecture != "llama" {
		t.Errorf("Architecture = %q, want llama", h.Architecture)
	}
	if h.SplitCount != 3 {
		t.Errorf("SplitCount = %d, want 3", h.SplitCount)
	}
}

func TestReadHeaderNoSplit(t *testing.T) {
	data := buildHeader(kv{"general.name", typeString, "test model"})

	h, err := readHeader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("readHeader() error = %v", err)
	}
	if h.SplitCount != 0 {
		t.Errorf("SplitCount = %d, want 0 for non-split file", h.SplitCount)
	}
}

func TestReadHeaderInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"html error page", []byte("<!DOCTYPE html><html>")},
		{"empty", nil},
		{"truncated", []byte("GG")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := readHeader(bytes.NewReader(tt.data))
			if !errors.Is(err, ErrNotGGUF) {
				t.Errorf("readHeader() error = %v, want ErrNotGGUF", err)
			}
		})
	}
}

func TestReadHeaderUnknownType(t *testing.T) {
	data := buildHeader(kv{"weird", 99, uint8(0)})
	if _, err := readHeader(bytes.NewReader(data)); err == nil {
		t.Error("readHeader() should fail on an unknown value type")
	}
}

func writeFiles(t *testing.T, contents ...[]byte) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".gguf")
		if err := os.WriteFile(paths[i], c, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func TestValidate(t *testing.T) {
	plain := buildHeader(kv{"general.architecture", typeString, "qwen2"})
	split2 := buildHeader(kv{"split.count", typeUint16, uint16(2)})
	split3 := buildHeader(kv{"split.count", typeUint16, uint16(3)})
	garbage := []byte("not a model at all")

	tests := []struct {
		name      string
		files     [][]byte
		byteSplit bool
		wantErr   error
	}{
		{name: "single file", files: [][]byte{plain}},
		{name: "gguf split", files: [][]byte{split2, split2}},
		{name: "byte split checks first part only", files: [][]byte{plain, garbage}, byteSplit: true},
		{name: "not gguf", files: [][]byte{garbage}, wantErr: ErrNotGGUF},
		{name: "bad later part", files: [][]byte{split2, garbage}, wantErr: ErrNotGGUF},
		{name: "count mismatch", files: [][]byte{split3, split3}, wantErr: ErrSplitMismatch},
		{name: "lone first part", files: [][]byte{split2}, wantErr: ErrSplitMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Validate(writeFiles(t, tt.files...), tt.byteSplit)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if h == nil {
				t.Error("Validate() returned nil header")
			}
		})
	}
}

// Package gguf reads the header of GGUF model files, enough to tell a real
// model from an error page and to check split metadata.
package gguf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

const magic = "GGUF"

// value types
const (
	typeUint8   = 0
	typeInt8    = 1
	typeUint16  = 2
	typeInt16   = 3
	typeUint32  = 4
	typeInt32   = 5
	typeFloat32 = 6
	typeBool    = 7
	typeString  = 8
	typeArray   = 9
	typeUint64  = 10
	typeInt64   = 11
	typeFloat64 = 12
)

const (
	keyArchitecture = "general.architecture"
	keySplitCount   = "split.count"

	maxStringLen = 1 << 20
	maxArrayLen  = 1 << 20
)

var (
	// ErrNotGGUF means the file does not start with the GGUF magic.
	ErrNotGGUF = errors.New("not a GGUF file")

	// ErrSplitMismatch means split.count disagrees with the files on disk.
	ErrSplitMismatch = errors.New("split count mismatch")
)

type Header struct {
	Version      uint32
	TensorCount  int64
	KVCount      int64
	Architecture string

	// SplitCount is 0 for a file that is not part of a split model.
	SplitCount int
}

// ReadHeader reads the header and the metadata keys modelfetch cares about.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readHeader(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

func readHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, len(magic))
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotGGUF, err)
	}
	if string(buf) != magic {
		return nil, fmt.Errorf("%w: magic %q", ErrNotGGUF, buf)
	}

	h := &Header{}
	for _, field := range []any{&h.Version, &h.TensorCount, &h.KVCount} {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("failed to read header: %w", err)
		}
	}

	foundArch, foundSplit := false, false
	for i := int64(0); i < h.KVCount && !(foundArch && foundSplit); i++ {
		key, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read key %d: %w", i, err)
		}

		var valType int32
		if err := binary.Read(r, binary.LittleEndian, &valType); err != nil {
			return nil, fmt.Errorf("failed to read value type for key %q: %w", key, err)
		}

		switch {
		case key == keySplitCount && valType == typeUint16:
			var n uint16
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", key, err)
			}
			h.SplitCount = int(n)
			foundSplit = true
		case key == keyArchitecture && valType == typeString:
			if h.Architecture, err = readString(r); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", key, err)
			}
			foundArch = true
		default:
			if err := skipValue(r, valType); err != nil {
				return nil, fmt.Errorf("failed to skip value for key %q: %w", key, err)
			}
		}
	}

	return h, nil
}

func readString(r io.Reader) (string, error) {
	var length uint64
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return "", err
	}
	if length > maxStringLen {
		return "", fmt.Errorf("string too long: %d", length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}
	return string(data), nil
}

func skipValue(r io.Reader, valType int32) error {
	var size int64
	switch valType {
	case typeUint8, typeInt8, typeBool:
		size = 1
	case typeUint16, typeInt16:
		size = 2
	case typeUint32, typeInt32, typeFloat32:
		size = 4
	case typeUint64, typeInt64, typeFloat64:
		size = 8
	case typeString:
		_, err := readString(r)
		return err
	case typeArray:
		var elemType int32
		if err := binary.Read(r, binary.LittleEndian, &elemType); err != nil {
			return err
		}
		var n uint64
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return err
		}
		if n > maxArrayLen {
			return fmt.Errorf("array too long: %d", n)
		}
		for i := uint64(0); i < n; i++ {
			if err := skipValue(r, elemType); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown value type: %d", valType)
	}

	_, err := io.CopyN(io.Discard, r, size)
	return err
}

// Validate checks the files of one model. Every file of a GGUF split carries
// its own header; a byte-level split only has one in the first part, so
// byteSplit limits the check to paths[0]. A split.count in the first header
// must match len(paths).
func Validate(paths []string, byteSplit bool) (*Header, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files to validate")
	}

	first, err := ReadHeader(paths[0])
	if err != nil {
		return nil, err
	}
	if !byteSplit && (len(paths) > 1 || first.SplitCount > 1) && first.SplitCount != len(paths) {
		return nil, fmt.Errorf("%w: header says %d, have %d files", ErrSplitMismatch, first.SplitCount, len(paths))
	}
	if byteSplit {
		return first, nil
	}

	for _, p := range paths[1:] {
		if _, err := ReadHeader(p); err != nil {
			return nil, err
		}
	}
	return first, nil
}

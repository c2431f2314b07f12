package source

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
)

func TestSkipBOM(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"file with BOM", append([]byte{0xEF, 0xBB, 0xBF}, "id,origem"...), "id,origem"},
		{"file without BOM", []byte("id,origem"), "id,origem"},
		{"empty file", []byte{}, ""},
		{"only BOM", []byte{0xEF, 0xBB, 0xBF}, ""},
		{"partial BOM kept", []byte{0xEF, 0xBB, 'a'}, string([]byte{0xEF, 0xBB, 'a'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(skipBOM(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"valid ASCII", []byte("SP,RJ"), "SP,RJ"},
		{"valid multibyte", []byte("São Paulo,Belém"), "São Paulo,Belém"},
		{"invalid byte replaced", []byte{'S', 0x80, 'P'}, "S?P"},
		{"latin-1 input", []byte{'S', 0xE3, 'o'}, "S?o"},
		{"truncated rune at EOF", []byte{'a', 0xC3}, "a?"},
		{"empty input", []byte{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newUTF8Sanitizer(bytes.NewReader(tt.input)))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestUTF8Sanitizer_RuneSplitAcrossReads(t *testing.T) {
	input := "Goiânia,Florianópolis,€"
	got, err := io.ReadAll(newUTF8Sanitizer(iotest.OneByteReader(strings.NewReader(input))))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != input {
		t.Errorf("got %q, want %q", got, input)
	}
}

func TestSizeGuard(t *testing.T) {
	g := &sizeGuard{r: strings.NewReader("0123456789"), max: 4}
	_, err := io.ReadAll(g)
	if !errors.Is(err, errTooLarge) {
		t.Fatalf("err = %v, want errTooLarge", err)
	}

	g = &sizeGuard{r: strings.NewReader("0123456789")}
	got, err := io.ReadAll(g)
	if err != nil || len(got) != 10 {
		t.Errorf("uncapped read = %q, %v", got, err)
	}
}

func TestCleanReader(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte{'o', 'k', 0xFF}...)
	got, err := io.ReadAll(cleanReader(bytes.NewReader(input), 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "ok?" {
		t.Errorf("got %q, want %q", got, "ok?")
	}
}

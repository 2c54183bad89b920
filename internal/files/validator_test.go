package files

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateOneOversizedOfThree(t *testing.T) {
	batch := []FileInfo{
		{Name: "a.png", Size: 1024, Type: "image/png"},
		{Name: "big.pdf", Size: MaxUploadSize + 1, Type: "application/pdf"},
		{Name: "notes.txt", Size: 10, Type: "text/plain"},
	}

	valid, err := Validate(batch)

	if len(valid) != 2 || valid[0].Name != "a.png" || valid[1].Name != "notes.txt" {
		t.Fatalf("valid = %+v", valid)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Violations) != 1 || verr.Violations[0].Name != "big.pdf" {
		t.Fatalf("violations = %+v", verr.Violations)
	}
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("errors.Is(ErrTooLarge) = false for %v", err)
	}
	if !strings.Contains(err.Error(), "big.pdf") {
		t.Errorf("message does not name the file: %q", err.Error())
	}
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	batch := []FileInfo{
		{Name: "run.exe", Size: 10, Type: "application/x-msdownload"},
		{Name: "huge.zip", Size: MaxUploadSize * 2, Type: "application/zip"},
		{Name: "blob", Size: 10, Type: ""},
	}

	valid, err := Validate(batch)
	if len(valid) != 0 {
		t.Fatalf("valid = %+v", valid)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := verr.Names(); !slices.Equal(got, []string{"run.exe", "huge.zip", "blob"}) {
		t.Fatalf("names = %v", got)
	}
	if !errors.Is(err, ErrTypeNotAllowed) || !errors.Is(err, ErrTooLarge) {
		t.Errorf("both causes should be reachable: %v", err)
	}
}

func TestValidateAtLimitPasses(t *testing.T) {
	valid, err := Validate([]FileInfo{{Name: "edge.zip", Size: MaxUploadSize, Type: "application/zip"}})
	if err != nil || len(valid) != 1 {
		t.Fatalf("valid=%v err=%v", valid, err)
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	txt := writeFile(t, dir, "notes.txt", []byte("hello"))
	doc := writeFile(t, dir, "Report.DOCX", []byte("PK"))
	sub := filepath.Join(dir, "sub")
	os.Mkdir(sub, 0o755)

	infos, err := Inspect([]string{txt, doc, sub, filepath.Join(dir, "missing.png")})

	if len(infos) != 2 {
		t.Fatalf("infos = %+v", infos)
	}
	if infos[0].Name != "notes.txt" || infos[0].Type != "text/plain" || infos[0].Size != 5 {
		t.Errorf("txt = %+v", infos[0])
	}
	if infos[1].Type != "application/vnd.openxmlformats-officedocument.wordprocessingml.document" {
		t.Errorf("docx type = %q", infos[1].Type)
	}

	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Violations) != 2 {
		t.Fatalf("expected two violations, got %v", err)
	}
	if !errors.Is(err, ErrIsDirectory) || !errors.Is(err, ErrNotFound) {
		t.Errorf("causes = %v", err)
	}
}

func TestDetectTypeSniffsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	path := writeFile(t, dir, "screenshot.unknownext", png)

	if got := DetectType(path); got != "image/png" {
		t.Fatalf("DetectType = %q", got)
	}
}

func TestPrepareMergesViolations(t *testing.T) {
	dir := t.TempDir()
	ok := writeFile(t, dir, "a.csv", []byte("a,b\n1,2\n"))
	bad := writeFile(t, dir, "tool.sh", []byte("#!/bin/sh\necho hi\n"))

	valid, err := Prepare([]string{ok, bad, filepath.Join(dir, "gone.txt")})
	if len(valid) != 1 || valid[0].Name != "a.csv" {
		t.Fatalf("valid = %+v", valid)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := verr.Names(); !slices.Equal(got, []string{"gone.txt", "tool.sh"}) {
		t.Fatalf("names = %v", got)
	}
	if GetTotalSize(valid) != int64(len("a,b\n1,2\n")) {
		t.Errorf("GetTotalSize = %d", GetTotalSize(valid))
	}
}

func TestTypeOf(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	cases := []struct {
		name string
		head []byte
		want string
	}{
		{"notes.TXT", nil, "text/plain"},
		{"photo.jpeg", nil, "image/jpeg"},
		{"blob", png, "image/png"},
		{"archive.rar", nil, "application/x-rar-compressed"},
	}
	for _, c := range cases {
		if got := TypeOf(c.name, c.head); got != c.want {
			t.Errorf("TypeOf(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

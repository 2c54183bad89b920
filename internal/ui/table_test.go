package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/BioHazard786/huddle/internal/signaling"
)

var sampleFiles = []signaling.FileEntry{
	{FileID: "f-2", Filename: "slides.pdf", Size: 2 << 20, MimeType: "application/pdf", UploaderName: "Bob"},
	{FileID: "f-1", Filename: "notes.txt", Size: 12, MimeType: "text/plain", UploaderName: "Alice"},
}

func TestWriteFilesTable(t *testing.T) {
	var buf bytes.Buffer
	WriteFilesTable(&buf, sampleFiles, time.Now())
	out := buf.String()
	for _, want := range []string{"File ID", "f-2", "slides.pdf", "2.00 MB", "Alice", "2 files"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFilesView(t *testing.T) {
	if got := FilesView(nil, time.Now()); !strings.Contains(got, "No files") {
		t.Errorf("empty view = %q", got)
	}
	got := FilesView(sampleFiles, time.Now())
	if !strings.Contains(got, "notes.txt") || !strings.Contains(got, "Bob") {
		t.Errorf("view = %q", got)
	}
}

package fileapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/BioHazard786/huddle/internal/files"
)

func tempFile(t *testing.T, name string, content []byte) files.FileInfo {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	return files.FileInfo{Path: path, Name: name, Size: int64(len(content)), Type: files.DetectType(path)}
}

func TestUploadSendsMultipartWithIdentity(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 64*1024)
	var (
		mu      sync.Mutex
		gotRoom string
		gotUser string
		gotName string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/upload" {
			http.NotFound(w, r)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, `{"error":"no file"}`, http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)

		mu.Lock()
		gotRoom = r.Header.Get(HeaderRoomID)
		gotUser = r.Header.Get(HeaderUserID)
		gotName = header.Filename
		gotBody = body
		mu.Unlock()

		w.Write([]byte(`{"fileId":"f1","filename":"notes.txt","size":65536}`))
	}))
	defer srv.Close()

	f := tempFile(t, "notes.txt", content)
	var percents []int
	c := New(srv.URL+"/api/", nil)

	up, err := c.Upload(context.Background(), Identity{RoomID: "A1B2", UserID: "u1"}, f, func(p int) {
		percents = append(percents, p)
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if up.FileID != "f1" || up.Size != 65536 {
		t.Errorf("response = %+v", up)
	}
	mu.Lock()
	defer mu.Unlock()
	if gotRoom != "A1B2" || gotUser != "u1" {
		t.Errorf("headers room=%q user=%q", gotRoom, gotUser)
	}
	if gotName != "notes.txt" || !bytes.Equal(gotBody, content) {
		t.Errorf("server got %q with %d bytes", gotName, len(gotBody))
	}
	if len(percents) == 0 || percents[len(percents)-1] != 100 {
		t.Fatalf("progress = %v", percents)
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] <= percents[i-1] {
			t.Fatalf("progress not increasing: %v", percents)
		}
	}
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		w.Write([]byte(`{"error":"file too large"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Upload(context.Background(), Identity{RoomID: "r"}, tempFile(t, "a.txt", []byte("a")), nil)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.Status != http.StatusRequestEntityTooLarge || se.Message != "file too large" {
		t.Errorf("status error = %+v", se)
	}
}

func TestUploadMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	_, err := New(srv.URL, nil).Upload(context.Background(), Identity{}, tempFile(t, "a.txt", []byte("a")), nil)
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestListFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/A1B2" || r.Header.Get(HeaderRoomID) != "A1B2" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"files":[{"fileId":"f1","filename":"a.png","size":10,"mimeType":"image/png","uploadTime":1700000000000,"uploaderName":"Bob"}]}`))
	}))
	defer srv.Close()

	list, err := New(srv.URL, nil).ListFiles(context.Background(), Identity{RoomID: "A1B2", UserID: "u1"})
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(list) != 1 || list[0].FileID != "f1" || list[0].UploadTime != 1700000000000 || list[0].UploaderName != "Bob" {
		t.Fatalf("list = %+v", list)
	}
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/download/f1" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"file not found"}`))
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="a.png"`)
		w.Write([]byte("PNGDATA"))
	}))
	defer srv.Close()
	c := New(srv.URL, nil)

	var buf bytes.Buffer
	n, name, err := c.Download(context.Background(), "f1", &buf)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if n != 7 || name != "a.png" || buf.String() != "PNGDATA" {
		t.Errorf("n=%d name=%q body=%q", n, name, buf.String())
	}

	_, _, err = c.Download(context.Background(), "nope", io.Discard)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Message != "file not found" {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestUploadHonorsContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(srv.URL, nil).Upload(ctx, Identity{}, tempFile(t, "a.txt", []byte("a")), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

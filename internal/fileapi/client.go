package fileapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"strings"

	"github.com/BioHazard786/huddle/internal/dns"
	"github.com/BioHazard786/huddle/internal/files"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/goccy/go-json"
)

const (
	HeaderRoomID = "X-Room-Id"
	HeaderUserID = "X-User-Id"
)

var ErrMalformedResponse = errors.New("malformed response")

// StatusError is a non-2xx answer from the file endpoints.
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Status, e.Message)
}

// Identity is sent with every request so the server can scope files to a room.
type Identity struct {
	RoomID string
	UserID string
}

// Uploaded is the server's answer to a successful upload.
type Uploaded struct {
	FileID   string `json:"fileId"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

// Client talks to the upload, list and download endpoints under a base URL.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for base (e.g. http://host/api). A nil hc gets a
// client that resolves hosts through the dns package.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = dns.DialContext
		hc = &http.Client{Transport: transport}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// Upload streams f as multipart field "file". progress, if set, receives
// whole percentages as the body is sent, ending with 100.
func (c *Client) Upload(ctx context.Context, id Identity, f files.FileInfo, progress func(percent int)) (Uploaded, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return Uploaded{}, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreatePart(filePartHeader(f))
		if err == nil {
			_, err = io.Copy(part, &progressReader{r: file, total: f.Size, report: progress})
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", pr)
	if err != nil {
		pr.Close()
		return Uploaded{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	setIdentity(req, id)

	var out Uploaded
	if err := c.do(req, "upload", &out); err != nil {
		pr.CloseWithError(err)
		return Uploaded{}, err
	}
	return out, nil
}

// ListFiles fetches the authoritative file list of a room.
func (c *Client) ListFiles(ctx context.Context, id Identity) ([]signaling.FileEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/files/"+url.PathEscape(id.RoomID), nil)
	if err != nil {
		return nil, err
	}
	setIdentity(req, id)

	var out struct {
		Files []signaling.FileEntry `json:"files"`
	}
	if err := c.do(req, "list files", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// Download streams a stored file into w and returns the byte count and the
// filename the server suggested, if any.
func (c *Client) Download(ctx context.Context, fileID string, w io.Writer) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/download/"+url.PathEscape(fileID), nil)
	if err != nil {
		return 0, "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, "", &StatusError{Op: "download", Status: resp.StatusCode, Message: readResponseError(resp.Body)}
	}

	var name string
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		name = params["filename"]
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, name, fmt.Errorf("download %s: %w", fileID, err)
	}
	return n, name, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Op: op, Status: resp.StatusCode, Message: readResponseError(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}
	return nil
}

func setIdentity(req *http.Request, id Identity) {
	if id.RoomID != "" {
		req.Header.Set(HeaderRoomID, id.RoomID)
	}
	if id.UserID != "" {
		req.Header.Set(HeaderUserID, id.UserID)
	}
}

func filePartHeader(f files.FileInfo) textproto.MIMEHeader {
	disposition := mime.FormatMediaType("form-data", map[string]string{"name": "file", "filename": f.Name})
	contentType := f.Type
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return textproto.MIMEHeader{
		"Content-Disposition": {disposition},
		"Content-Type":        {contentType},
	}
}

func readResponseError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var parsed struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != "" {
		return parsed.Error
	}
	return strings.TrimSpace(string(data))
}

// progressReader reports whole-percent progress of reads against total.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.report != nil {
		percent := 100
		if p.total > 0 {
			percent = int(min(p.read*100/p.total, 100))
		}
		if errors.Is(err, io.EOF) {
			percent = 100
		}
		if percent != p.last {
			p.last = percent
			p.report(percent)
		}
	}
	return n, err
}

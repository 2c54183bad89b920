package files

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// MaxUploadSize is the per-file ceiling for uploads.
const MaxUploadSize = 10 << 20

var (
	ErrTooLarge       = errors.New("exceeds the 10 MB limit")
	ErrTypeNotAllowed = errors.New("file type not allowed")
	ErrNotFound       = errors.New("file does not exist")
	ErrIsDirectory    = errors.New("is a directory")
	ErrUnreadable     = errors.New("cannot open file (check permissions)")
)

// AllowedTypes are the media types accepted for upload.
var AllowedTypes = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/webp":         true,
	"text/plain":         true,
	"text/csv":           true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.ms-excel":                                                  true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/zip":              true,
	"application/x-rar-compressed": true,
}

// Declared types for the allowed extensions, so the result does not depend
// on the host's mime tables.
var extensionTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".txt":  "text/plain",
	".csv":  "text/csv",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".zip":  "application/zip",
	".rar":  "application/x-rar-compressed",
}

// FileInfo holds information about a file to be uploaded
type FileInfo struct {
	// Path is the absolute path to the file
	Path string

	// Name is the filename (without directory)
	Name string

	// Size is the file size in bytes
	Size int64

	// Type is the declared media type without parameters (e.g. "application/pdf")
	Type string
}

// Violation is one rejected file.
type Violation struct {
	Name string
	Err  error
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %v", v.Name, v.Err)
}

func (v Violation) Unwrap() error {
	return v.Err
}

// ValidationError collects every rejected file of a batch.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	lines := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		lines[i] = v.Error()
	}
	return "file validation failed:\n  - " + strings.Join(lines, "\n  - ")
}

func (e *ValidationError) Unwrap() []error {
	errs := make([]error, len(e.Violations))
	for i, v := range e.Violations {
		errs[i] = v
	}
	return errs
}

// Names returns the names of the rejected files.
func (e *ValidationError) Names() []string {
	names := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		names[i] = v.Name
	}
	return names
}

func (e *ValidationError) add(name string, err error) {
	e.Violations = append(e.Violations, Violation{Name: name, Err: err})
}

func (e *ValidationError) orNil() error {
	if len(e.Violations) == 0 {
		return nil
	}
	return e
}

// Validate checks size and type of every item. It returns the items that
// pass and, if any failed, a *ValidationError naming each of them.
func Validate(batch []FileInfo) ([]FileInfo, error) {
	verr := &ValidationError{}
	var valid []FileInfo

	for _, f := range batch {
		switch {
		case f.Size > MaxUploadSize:
			verr.add(f.Name, ErrTooLarge)
		case !AllowedTypes[f.Type]:
			verr.add(f.Name, fmt.Errorf("%w (%s)", ErrTypeNotAllowed, typeOrUnknown(f.Type)))
		default:
			valid = append(valid, f)
		}
	}
	return valid, verr.orNil()
}

// Inspect stats every path and derives its declared type. Paths that
// cannot be read are reported together in a *ValidationError.
func Inspect(paths []string) ([]FileInfo, error) {
	verr := &ValidationError{}
	var infos []FileInfo

	for _, path := range paths {
		info, err := inspectFile(path)
		if err != nil {
			verr.add(filepath.Base(path), err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, verr.orNil()
}

// Prepare inspects and validates paths in one pass. All violations of both
// steps are reported together; valid files are returned regardless.
func Prepare(paths []string) ([]FileInfo, error) {
	infos, ierr := Inspect(paths)
	valid, verr := Validate(infos)

	var merged ValidationError
	for _, err := range []error{ierr, verr} {
		var v *ValidationError
		if errors.As(err, &v) {
			merged.Violations = append(merged.Violations, v.Violations...)
		}
	}
	return valid, merged.orNil()
}

func inspectFile(path string) (FileInfo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to get absolute path: %w", err)
	}

	stat, err := os.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return FileInfo{}, ErrNotFound
		}
		return FileInfo{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		return FileInfo{}, ErrIsDirectory
	}

	file, err := os.Open(absPath)
	if err != nil {
		return FileInfo{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	file.Close()

	return FileInfo{
		Path: absPath,
		Name: filepath.Base(absPath),
		Size: stat.Size(),
		Type: DetectType(absPath),
	}, nil
}

// DetectType returns the declared media type of path: from its extension
// when known, otherwise sniffed from content. Parameters are stripped.
func DetectType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := baseType(mime.TypeByExtension(ext)); t != "" {
		return t
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return baseType(mt.String())
}

// TypeOf returns the declared media type of an upload named name whose
// content starts with head.
func TypeOf(name string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := baseType(mime.TypeByExtension(ext)); t != "" {
		return t
	}
	return baseType(mimetype.Detect(head).String())
}

func baseType(t string) string {
	if t == "" {
		return ""
	}
	media, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}
	return media
}

func typeOrUnknown(t string) string {
	if t == "" {
		return "unknown type"
	}
	return t
}

// GetTotalSize returns the total size of all files
func GetTotalSize(infos []FileInfo) int64 {
	var total int64
	for _, f := range infos {
		total += f.Size
	}
	return total
}

// Package relay is a development server for huddle rooms: websocket
// signaling plus in-memory file sharing under /api.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BioHazard786/huddle/internal/fileapi"
	"github.com/BioHazard786/huddle/internal/files"
	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const sniffLen = 512

type Server struct {
	hub      *Hub
	mux      *http.ServeMux
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func New(cfg HubConfig) *Server {
	hub := NewHub(cfg)
	s := &Server{
		hub: hub,
		mux: http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			// Development relay: any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: hub.log,
	}

	s.mux.HandleFunc("GET /health", healthCheckHandler)
	s.mux.HandleFunc("/ws", s.serveWs)
	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/files/{roomId}", s.handleList)
	s.mux.HandleFunc("GET /api/download/{fileId}", s.handleDownload)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run drives the hub until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		s.log.Info("relay listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	})
	return g.Wait()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("relay is healthy"))
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "error", err)
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	roomID := r.Header.Get(fileapi.HeaderRoomID)
	userID := r.Header.Get(fileapi.HeaderUserID)

	r.Body = http.MaxBytesReader(w, r.Body, files.MaxUploadSize+1<<20)
	part, header, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large (max 10 MB)")
			return
		}
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, files.MaxUploadSize+1))
	switch {
	case err != nil:
		writeError(w, http.StatusBadRequest, "could not read file")
		return
	case len(data) == 0:
		writeError(w, http.StatusBadRequest, "empty file")
		return
	case len(data) > files.MaxUploadSize:
		writeError(w, http.StatusRequestEntityTooLarge, "file too large (max 10 MB)")
		return
	}

	name := filepath.Base(header.Filename)
	mediaType := files.TypeOf(name, data[:min(sniffLen, len(data))])
	if !files.AllowedTypes[mediaType] {
		writeError(w, http.StatusBadRequest, "file type not allowed")
		return
	}

	stored := &storedFile{
		FileEntry: signaling.FileEntry{
			FileID:     uuid.NewString(),
			Filename:   name,
			Size:       int64(len(data)),
			MimeType:   mediaType,
			UploadTime: time.Now().UnixMilli(),
		},
		roomID: roomID,
		data:   data,
	}

	member := false
	err = s.hub.exec(r.Context(), func() {
		rm, ok := s.hub.rooms[roomID]
		if !ok {
			return
		}
		c := rm.member(userID)
		if c == nil {
			return
		}
		member = true
		stored.UploaderName = c.userName
		rm.files = append(rm.files, stored)
		s.hub.roomcast(rm, signaling.FileUploaded{UploaderUserName: c.userName, Filename: name}, nil)
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "relay shutting down")
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "not a member of that room")
		return
	}

	s.log.Info("file uploaded", "room", roomID, "file", name, "size", stored.Size)
	writeJSON(w, http.StatusOK, fileapi.Uploaded{
		FileID:   stored.FileID,
		Filename: stored.Filename,
		Size:     stored.Size,
		MimeType: stored.MimeType,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	userID := r.Header.Get(fileapi.HeaderUserID)

	var (
		list   []signaling.FileEntry
		member bool
	)
	err := s.hub.exec(r.Context(), func() {
		rm, ok := s.hub.rooms[roomID]
		if !ok || rm.member(userID) == nil {
			return
		}
		member = true
		list = rm.fileEntries()
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "relay shutting down")
		return
	}
	if !member {
		writeError(w, http.StatusForbidden, "not a member of that room")
		return
	}
	if list == nil {
		list = []signaling.FileEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": list})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("fileId")

	var found *storedFile
	err := s.hub.exec(r.Context(), func() {
		for _, rm := range s.hub.rooms {
			for _, f := range rm.files {
				if f.FileID == fileID {
					found = f
					return
				}
			}
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "relay shutting down")
		return
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Type", found.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(found.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": found.Filename}))
	w.WriteHeader(http.StatusOK)
	w.Write(found.data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

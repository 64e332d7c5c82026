package internal

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var allowedAvatarExt = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// HandleAvatarUpload stores a new avatar image for the caller and points the
// profile at it. The stored filename is a uuid so uploads never collide or
// leak user-chosen names.
func (s *Server) HandleAvatarUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxFileSize)
	if err := r.ParseMultipartForm(s.maxFileSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("no avatar file provided"))
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !allowedAvatarExt[ext] {
		writeError(w, http.StatusBadRequest, errors.New("unsupported image type"))
		return
	}
	if header.Size > s.maxFileSize {
		writeError(w, http.StatusRequestEntityTooLarge, errors.New("file too large"))
		return
	}

	avatarDir := filepath.Join(s.uploadDir, "avatars")
	if err := os.MkdirAll(avatarDir, 0755); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to create upload directory: %w", err))
		return
	}

	filename := uuid.NewString() + ext
	storagePath := filepath.Join(avatarDir, filename)
	destFile, err := os.Create(storagePath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to create file: %w", err))
		return
	}
	defer destFile.Close()

	if _, err := destFile.ReadFrom(file); err != nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to save file: %w", err))
		return
	}

	user, err := s.store.GetUserByID(r.Context(), authCtx.UserID)
	if err != nil || user == nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	avatarPath := "avatars/" + filename
	if err := s.store.UpdateProfile(r.Context(), authCtx.UserID, user.Grade, avatarPath); err != nil {
		os.Remove(storagePath)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"avatar": avatarPath})
}

// HandleAvatarDownload serves stored avatar images from /avatars/{filename}.
func (s *Server) HandleAvatarDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	name := filepath.Base(strings.TrimPrefix(r.URL.Path, "/avatars/"))
	if name == "" || name == "." || name == ".." {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	path := filepath.Join(s.uploadDir, "avatars", name)
	absPath, err := filepath.Abs(path)
	if err != nil || !strings.HasPrefix(absPath, filepath.Clean(s.uploadDir)) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}
	http.ServeFile(w, r, path)
}

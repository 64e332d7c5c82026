package internal

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"studychat/internal/storage"
)

type noteRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

type noteLinkRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

type noteLinkDTO struct {
	ID      int64     `json:"id"`
	Title   string    `json:"title"`
	URL     string    `json:"url"`
	AddedAt time.Time `json:"added_at"`
}

type noteDTO struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Category  string        `json:"category,omitempty"`
	Links     []noteLinkDTO `json:"links"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func noteToDTO(n storage.Note) noteDTO {
	links := make([]noteLinkDTO, 0, len(n.Links))
	for _, l := range n.Links {
		links = append(links, noteLinkDTO{ID: l.ID, Title: l.Title, URL: l.URL, AddedAt: l.AddedAt})
	}
	return noteDTO{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		Category:  n.Category,
		Links:     links,
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

// HandleNotes serves GET /notes (optionally ?category=...) and POST /notes.
func (s *Server) HandleNotes(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		notes, err := s.store.ListNotes(r.Context(), authCtx.UserID, r.URL.Query().Get("category"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out := make([]noteDTO, 0, len(notes))
		for _, n := range notes {
			out = append(out, noteToDTO(n))
		}
		writeJSON(w, http.StatusOK, map[string][]noteDTO{"notes": out})
	case http.MethodPost:
		var req noteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			writeError(w, http.StatusBadRequest, errors.New("title is required"))
			return
		}
		id, err := s.store.CreateNote(r.Context(), authCtx.UserID, req.Title, req.Content, req.Category)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		note, err := s.store.GetNote(r.Context(), authCtx.UserID, id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, noteToDTO(*note))
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// HandleNote routes /notes/{id} (GET, PUT, DELETE) and /notes/{id}/links
// (POST attaches a video link).
func (s *Server) HandleNote(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := s.requireAuth(w, r)
	if !ok {
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/notes/"), "/")
	parts := strings.Split(path, "/")
	noteID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid note id"))
		return
	}

	if len(parts) == 2 && parts[1] == "links" {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		s.handleAddNoteLink(w, r, authCtx.UserID, noteID)
		return
	}
	if len(parts) != 1 {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		note, err := s.store.GetNote(r.Context(), authCtx.UserID, noteID)
		if err != nil {
			s.writeNoteError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, noteToDTO(*note))
	case http.MethodPut:
		var req noteRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			writeError(w, http.StatusBadRequest, errors.New("title is required"))
			return
		}
		if err := s.store.UpdateNote(r.Context(), authCtx.UserID, noteID, req.Title, req.Content, req.Category); err != nil {
			s.writeNoteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := s.store.DeleteNote(r.Context(), authCtx.UserID, noteID); err != nil {
			s.writeNoteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

func (s *Server) handleAddNoteLink(w http.ResponseWriter, r *http.Request, userID, noteID int64) {
	var req noteLinkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	id, err := s.store.AddNoteLink(r.Context(), userID, noteID, req.Title, url)
	if err != nil {
		s.writeNoteError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) writeNoteError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNoteNotFound) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

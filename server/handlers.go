package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/meadowfold/cattery"
	"github.com/meadowfold/cattery/gateway"
	"github.com/meadowfold/cattery/objectstore"
	"github.com/meadowfold/cattery/store/catalogdb"
	"github.com/meadowfold/cattery/telemetry"
)

// maxBodySize bounds JSON request bodies.
const maxBodySize = 1 << 20

// maxObjectSize bounds dev-mode object uploads.
const maxObjectSize = 32 << 20

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps the gateway taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	code := gateway.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case gateway.CodeNotFound:
		status = http.StatusNotFound
	case gateway.CodeConflict:
		status = http.StatusConflict
	case gateway.CodeInvalidReorder:
		status = http.StatusUnprocessableEntity
	case gateway.CodeDimensionLookupFailed:
		status = http.StatusBadGateway
	}

	message := err.Error()
	var gerr *gateway.Error
	if errors.As(err, &gerr) {
		message = gerr.Message
	}

	writeJSONStatus(w, status, errorResponse{Code: string(code), Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSONStatus(w, http.StatusBadRequest, errorResponse{Code: "BadRequest", Message: message})
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		writeBadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// recordMutation emits mutation metrics for a finished gateway call.
func recordMutation(r *http.Request, kind, op string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = string(gateway.CodeOf(err))
	}
	telemetry.RecordMutation(r.Context(), kind, op, outcome, time.Since(start))
}

// Cats

func (s *Server) handleCreateCat(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cats")

	var cat catalogdb.Cat
	if !decodeBody(w, r, &cat) {
		return
	}
	if cat.Slug == "" {
		writeBadRequest(w, "slug is required")
		return
	}

	start := time.Now()
	err := s.gateway.CreateCat(r.Context(), &cat)
	recordMutation(r, "cat", "create", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, cat)
}

func (s *Server) handleListCats(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cats")

	cats, err := s.gateway.ListCats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cats)
}

func (s *Server) handleGetCat(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cats")

	cat, err := s.gateway.GetCat(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cat)
}

func (s *Server) handleUpdateCat(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cats")

	var cat catalogdb.Cat
	if !decodeBody(w, r, &cat) {
		return
	}
	cat.Slug = r.PathValue("slug")

	start := time.Now()
	err := s.gateway.UpdateCat(r.Context(), &cat)
	recordMutation(r, "cat", "update", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, cat)
}

func (s *Server) handleDeleteCat(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "cats")

	start := time.Now()
	err := s.gateway.DeleteCat(r.Context(), r.PathValue("slug"))
	recordMutation(r, "cat", "delete", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Litters

func litterID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func (s *Server) handleCreateLitter(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "litters")

	var litter catalogdb.Litter
	if !decodeBody(w, r, &litter) {
		return
	}
	if litter.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	start := time.Now()
	err := s.gateway.CreateLitter(r.Context(), &litter)
	recordMutation(r, "litter", "create", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, litter)
}

func (s *Server) handleListLitters(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "litters")

	litters, err := s.gateway.ListLitters(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, litters)
}

func (s *Server) handleGetLitter(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "litters")

	id, err := litterID(r)
	if err != nil {
		writeBadRequest(w, "invalid litter id")
		return
	}

	litter, err := s.gateway.GetLitter(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, litter)
}

func (s *Server) handleUpdateLitter(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "litters")

	id, err := litterID(r)
	if err != nil {
		writeBadRequest(w, "invalid litter id")
		return
	}

	var litter catalogdb.Litter
	if !decodeBody(w, r, &litter) {
		return
	}
	litter.ID = id

	start := time.Now()
	err = s.gateway.UpdateLitter(r.Context(), &litter)
	recordMutation(r, "litter", "update", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, litter)
}

func (s *Server) handleDeleteLitter(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "litters")

	id, err := litterID(r)
	if err != nil {
		writeBadRequest(w, "invalid litter id")
		return
	}

	start := time.Now()
	err = s.gateway.DeleteLitter(r.Context(), id)
	recordMutation(r, "litter", "delete", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Blog posts

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "posts")

	var post catalogdb.BlogPost
	if !decodeBody(w, r, &post) {
		return
	}
	if post.Slug == "" {
		writeBadRequest(w, "slug is required")
		return
	}

	start := time.Now()
	err := s.gateway.CreatePost(r.Context(), &post)
	recordMutation(r, "post", "create", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, post)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "posts")

	posts, err := s.gateway.ListPosts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, posts)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "posts")

	post, err := s.gateway.GetPost(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, post)
}

func (s *Server) handleUpdatePost(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "posts")

	var post catalogdb.BlogPost
	if !decodeBody(w, r, &post) {
		return
	}
	post.Slug = r.PathValue("slug")

	start := time.Now()
	err := s.gateway.UpdatePost(r.Context(), &post)
	recordMutation(r, "post", "update", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, post)
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "posts")

	start := time.Now()
	err := s.gateway.DeletePost(r.Context(), r.PathValue("slug"))
	recordMutation(r, "post", "delete", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Litter picture weeks

func weekID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("week"), 10, 64)
}

func (s *Server) handleCreateLitterWeek(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "weeks")

	id, err := litterID(r)
	if err != nil {
		writeBadRequest(w, "invalid litter id")
		return
	}

	var week catalogdb.LitterWeek
	if !decodeBody(w, r, &week) {
		return
	}
	week.LitterID = id

	start := time.Now()
	err = s.gateway.CreateLitterWeek(r.Context(), &week)
	recordMutation(r, "litterweek", "create", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, week)
}

func (s *Server) handleListLitterWeeks(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "weeks")

	id, err := litterID(r)
	if err != nil {
		writeBadRequest(w, "invalid litter id")
		return
	}

	weeks, err := s.gateway.ListLitterWeeks(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, weeks)
}

func (s *Server) handleGetLitterWeek(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "weeks")

	id, err := weekID(r)
	if err != nil {
		writeBadRequest(w, "invalid week id")
		return
	}

	week, err := s.gateway.GetLitterWeek(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, week)
}

func (s *Server) handleUpdateLitterWeek(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "weeks")

	litter, err := litterID(r)
	if err != nil {
		writeBadRequest(w, "invalid litter id")
		return
	}
	id, err := weekID(r)
	if err != nil {
		writeBadRequest(w, "invalid week id")
		return
	}

	var week catalogdb.LitterWeek
	if !decodeBody(w, r, &week) {
		return
	}
	week.ID = id
	week.LitterID = litter

	start := time.Now()
	err = s.gateway.UpdateLitterWeek(r.Context(), &week)
	recordMutation(r, "litterweek", "update", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, week)
}

func (s *Server) handleDeleteLitterWeek(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "weeks")

	id, err := weekID(r)
	if err != nil {
		writeBadRequest(w, "invalid week id")
		return
	}

	start := time.Now()
	err = s.gateway.DeleteLitterWeek(r.Context(), id)
	recordMutation(r, "litterweek", "delete", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Gallery images

// ownerFromPath maps the route's collection segment to an owner key.
func ownerFromPath(r *http.Request) (cattery.OwnerKey, error) {
	kind := r.PathValue("kind")
	id := r.PathValue("id")

	var ownerKind cattery.OwnerKind
	switch kind {
	case "cats":
		ownerKind = cattery.OwnerCat
	case "litters":
		ownerKind = cattery.OwnerLitter
	case "posts":
		ownerKind = cattery.OwnerPost
	case "weeks":
		ownerKind = cattery.OwnerLitterWeek
	default:
		return cattery.OwnerKey{}, fmt.Errorf("unknown collection %q", kind)
	}
	if id == "" {
		return cattery.OwnerKey{}, fmt.Errorf("missing owner id")
	}

	return cattery.NewOwnerKey(ownerKind, id), nil
}

type addImageRequest struct {
	Src         string `json:"src"`
	Placeholder string `json:"placeholder,omitempty"`
}

func (s *Server) handleAddImage(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "images")

	owner, err := ownerFromPath(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	telemetry.SetOwner(r, owner.String())

	var req addImageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Src == "" {
		writeBadRequest(w, "src is required")
		return
	}

	start := time.Now()
	ref, err := s.gateway.AddImage(r.Context(), owner, req.Src, req.Placeholder)
	recordMutation(r, string(owner.Kind), "add_image", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONStatus(w, http.StatusCreated, ref)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "images")

	owner, err := ownerFromPath(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	telemetry.SetOwner(r, owner.String())

	refs, err := s.gateway.ListImages(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, refs)
}

type reorderRequest struct {
	Order []string `json:"order"`
}

func (s *Server) handleReorderImages(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "images")

	owner, err := ownerFromPath(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	telemetry.SetOwner(r, owner.String())

	var req reorderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	start := time.Now()
	err = s.gateway.ReorderImages(r.Context(), owner, req.Order)
	recordMutation(r, string(owner.Kind), "reorder_images", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveImage(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "images")

	owner, err := ownerFromPath(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	telemetry.SetOwner(r, owner.String())

	start := time.Now()
	err = s.gateway.RemoveImage(r.Context(), owner, r.PathValue("img"))
	recordMutation(r, string(owner.Kind), "remove_image", start, err)
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Upload capabilities

type issueUploadsRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleIssueUploads(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "uploads")

	var req issueUploadsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	caps, err := s.issuer.Issue(r.Context(), req.Count)
	if err != nil {
		telemetry.RecordUploadsIssued(r.Context(), s.issuer.Mode(), req.Count, "failure")
		writeBadRequest(w, err.Error())
		return
	}

	telemetry.RecordUploadsIssued(r.Context(), s.issuer.Mode(), len(caps), "success")
	writeJSON(w, caps)
}

// Dev-mode object store endpoints

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "objects")

	key := r.PathValue("key")
	if key == "" {
		writeBadRequest(w, "missing object key")
		return
	}

	// Uploads authenticate with the issuer's signature, not the admin token.
	if err := s.issuer.VerifyUploadURL(key, r.URL.Query()); err != nil {
		writeJSONStatus(w, http.StatusForbidden, errorResponse{Code: "Forbidden", Message: err.Error()})
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxObjectSize)
	if err := s.objects.Write(r.Context(), key, body); err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, errorResponse{Code: "Internal", Message: "failed to store object"})
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request) {
	telemetry.SetEndpoint(r, "objects")

	key := r.PathValue("key")

	rc, err := s.objects.Read(r.Context(), key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		writeJSONStatus(w, http.StatusInternalServerError, errorResponse{Code: "Internal", Message: "failed to read object"})
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		writeJSONStatus(w, http.StatusInternalServerError, errorResponse{Code: "Internal", Message: "failed to read object"})
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	_, _ = w.Write(data)
}

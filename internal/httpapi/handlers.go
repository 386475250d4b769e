package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/tryon/internal/models"
	"github.com/digkill/tryon/internal/prodamus"
	"github.com/digkill/tryon/internal/service"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.log.Error("health check failed", "err", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type tryOnRequest struct {
	ItemURL   string `json:"itemUrl" validate:"required,url"`
	SelfieID  string `json:"selfieId" validate:"required,max=64"`
	SiteURL   string `json:"siteUrl" validate:"omitempty,url"`
	SiteTitle string `json:"siteTitle" validate:"max=512"`
}

type tryOnResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

func (s *Server) handleTryOn(w http.ResponseWriter, r *http.Request) {
	var req tryOnRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	jobID, err := s.tryOn.Dispatch(r.Context(), userIDFrom(r.Context()), service.DispatchRequest{
		ItemURL:   req.ItemURL,
		SelfieID:  req.SelfieID,
		SiteURL:   req.SiteURL,
		SiteTitle: req.SiteTitle,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, tryOnResponse{JobID: jobID, Status: string(models.JobStatusProcessing)})
}

type jobResponse struct {
	JobID     string     `json:"jobId"`
	Status    string     `json:"status"`
	ResultURL string     `json:"resultUrl,omitempty"`
	Error     string     `json:"error,omitempty"`
	UserID    string     `json:"userId,omitempty"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

func toJobResponse(job *models.Job, withOwner bool) jobResponse {
	resp := jobResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		ResultURL: job.ResultRef,
		Error:     job.Error,
	}
	if !job.CreatedAt.IsZero() {
		created, updated := job.CreatedAt, job.UpdatedAt
		resp.CreatedAt, resp.UpdatedAt = &created, &updated
	}
	if withOwner {
		resp.UserID = job.UserID
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Status(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(job, false))
}

type imageResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
}

func toImages(images []models.UserImage) []imageResponse {
	out := make([]imageResponse, 0, len(images))
	for _, img := range images {
		out = append(out, imageResponse{ID: img.ID, Name: img.Name, URL: img.URL, CreatedAt: img.CreatedAt})
	}
	return out
}

type profileResponse struct {
	UserID  string          `json:"userId"`
	Email   string          `json:"email,omitempty"`
	Name    string          `json:"name,omitempty"`
	Picture string          `json:"picture,omitempty"`
	Credits int             `json:"credits"`
	Images  []imageResponse `json:"images"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	view, err := s.users.Profile(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, profileResponse{
		UserID:  view.Account.UserID,
		Email:   view.Account.Email,
		Name:    view.Account.Name,
		Picture: view.Account.Picture,
		Credits: view.Credits,
		Images:  toImages(view.Images),
	})
}

type historyResponse struct {
	JobID     string    `json:"jobId"`
	ResultURL string    `json:"resultUrl"`
	ItemURL   string    `json:"itemUrl"`
	SelfieURL string    `json:"selfieUrl"`
	SiteURL   string    `json:"siteUrl,omitempty"`
	SiteTitle string    `json:"siteTitle,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", service.ErrValidation))
			return
		}
		limit = n
	}
	entries, err := s.tryOn.History(r.Context(), userIDFrom(r.Context()), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyResponse{
			JobID:     e.JobID,
			ResultURL: e.ResultRef,
			ItemURL:   e.ItemURL,
			SelfieURL: e.SelfieURL,
			SiteURL:   e.SiteURL,
			SiteTitle: e.SiteTitle,
			CreatedAt: e.Timestamp,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	images, err := s.users.Images(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toImages(images))
}

type uploadURLRequest struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required"`
}

type uploadURLResponse struct {
	UploadURL string `json:"uploadUrl"`
	Key       string `json:"key"`
	PublicURL string `json:"publicUrl"`
	ExpiresIn int    `json:"expiresIn"`
}

func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	var req uploadURLRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ticket, err := s.users.UploadURL(r.Context(), userIDFrom(r.Context()), req.Filename, req.ContentType)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, uploadURLResponse{
		UploadURL: ticket.UploadURL,
		Key:       ticket.Key,
		PublicURL: ticket.PublicURL,
		ExpiresIn: int(ticket.ExpiresIn.Seconds()),
	})
}

type saveImageRequest struct {
	Key  string `json:"key" validate:"required,max=1024"`
	Name string `json:"name" validate:"max=255"`
}

func (s *Server) handleSaveImage(w http.ResponseWriter, r *http.Request) {
	var req saveImageRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	img, err := s.users.SaveImage(r.Context(), userIDFrom(r.Context()), req.Key, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toImages([]models.UserImage{*img})[0])
}

func (s *Server) handleDeleteImage(w http.ResponseWriter, r *http.Request) {
	if err := s.users.DeleteImage(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "imageID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProdamusWebhook accepts both form encoded and JSON notifications. The
// signature travels in the Sign header.
func (s *Server) handleProdamusWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var payload map[string]any
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&payload); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid json: %v", service.ErrValidation, err))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid form: %v", service.ErrValidation, err))
			return
		}
		payload = prodamus.DecodeForm(r.PostForm)
	}

	signature := r.Header.Get("Sign")
	if signature == "" {
		signature = r.URL.Query().Get("sign")
	}
	if strings.TrimSpace(signature) == "" {
		s.writeError(w, r, fmt.Errorf("%w: missing Sign header", service.ErrSignatureInvalid))
		return
	}

	res, err := s.payments.HandleWebhook(r.Context(), payload, signature)
	if err != nil {
		if errors.Is(err, service.ErrSignatureInvalid) {
			s.writeJSON(w, http.StatusForbidden, errorResponse{Code: "SIGNATURE_INVALID", Message: "rejected"})
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": res.Outcome, "credits": res.Credits})
}

type grantRequest struct {
	UserID string `json:"userId" validate:"required"`
	Amount int    `json:"amount" validate:"required,gt=0,lte=10000"`
	Key    string `json:"key" validate:"required,max=128"`
}

func (s *Server) handleGrantCredits(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	status := "credited"
	if err := s.ledger.Grant(r.Context(), req.UserID, req.Amount, req.Key); err != nil {
		if !errors.Is(err, service.ErrAlreadyProcessed) {
			s.writeError(w, r, err)
			return
		}
		status = "already_processed"
	}
	balance, err := s.ledger.Balance(r.Context(), req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("admin credit grant", "user_id", req.UserID, "amount", req.Amount, "key", req.Key, "status", status)
	s.writeJSON(w, http.StatusOK, map[string]any{"status": status, "balance": balance})
}

func (s *Server) handleAdminJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toJobResponse(job, true))
}

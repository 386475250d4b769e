package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/digkill/tryon/internal/models"
	"github.com/digkill/tryon/internal/repository"
	"github.com/digkill/tryon/internal/storage"
)

type UserService struct {
	accounts        AccountStore
	images          ImageStore
	blobs           BlobStore
	startingCredits int
	maxImages       int
	uploadTTL       time.Duration
	log             *slog.Logger
}

func NewUserService(accounts AccountStore, images ImageStore, blobs BlobStore, startingCredits, maxImages int, uploadTTL time.Duration, log *slog.Logger) *UserService {
	if maxImages <= 0 {
		maxImages = 5
	}
	if uploadTTL <= 0 {
		uploadTTL = 5 * time.Minute
	}
	return &UserService{
		accounts:        accounts,
		images:          images,
		blobs:           blobs,
		startingCredits: startingCredits,
		maxImages:       maxImages,
		uploadTTL:       uploadTTL,
		log:             log,
	}
}

type ProfileView struct {
	Account models.UserAccount
	Credits int
	Images  []models.UserImage
}

// Ensure creates the account on the first authenticated request.
func (s *UserService) Ensure(ctx context.Context, profile models.Profile) (*models.UserAccount, error) {
	if profile.UserID == "" {
		return nil, ErrUnauthorized
	}
	acc, created, err := s.accounts.Ensure(ctx, profile, s.startingCredits)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	if created {
		s.log.Info("user account created", "user_id", profile.UserID, "credits", s.startingCredits)
	}
	return acc, nil
}

func (s *UserService) Profile(ctx context.Context, userID string) (*ProfileView, error) {
	acc, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if acc == nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	images, err := s.images.ListImages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return &ProfileView{Account: *acc, Credits: acc.Balance(s.startingCredits), Images: images}, nil
}

func (s *UserService) Images(ctx context.Context, userID string) ([]models.UserImage, error) {
	images, err := s.images.ListImages(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	return images, nil
}

type UploadTicket struct {
	UploadURL string
	Key       string
	PublicURL string
	ExpiresIn time.Duration
}

// UploadURL issues a presigned PUT for a new selfie. The image is registered
// separately with SaveImage once the browser finished the upload.
func (s *UserService) UploadURL(ctx context.Context, userID, filename, contentType string) (*UploadTicket, error) {
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: contentType must be an image type", ErrValidation)
	}
	key := storage.UploadKey(userID, filename)
	signed, err := s.blobs.PresignUpload(ctx, key, contentType, s.uploadTTL)
	if err != nil {
		return nil, fmt.Errorf("presign upload: %w", err)
	}
	return &UploadTicket{UploadURL: signed, Key: key, PublicURL: s.blobs.URL(key), ExpiresIn: s.uploadTTL}, nil
}

// SaveImage registers an uploaded selfie. Keys outside the user's upload
// prefix are rejected.
func (s *UserService) SaveImage(ctx context.Context, userID, key, name string) (*models.UserImage, error) {
	if !strings.HasPrefix(key, "uploads/"+userID+"/") || strings.Contains(key, "..") {
		return nil, fmt.Errorf("%w: key does not belong to the user", ErrValidation)
	}
	if name == "" {
		name = key[strings.LastIndex(key, "/")+1:]
	}
	img := models.UserImage{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		URL:       s.blobs.URL(key),
		Key:       key,
		CreatedAt: time.Now().UTC(),
	}
	outcome, err := s.images.AddImage(ctx, img, s.maxImages)
	if err != nil {
		return nil, fmt.Errorf("add image: %w", err)
	}
	if outcome == repository.PreconditionFailed {
		return nil, fmt.Errorf("%w: at most %d images can be stored", ErrValidation, s.maxImages)
	}
	return &img, nil
}

// DeleteImage removes the image record and then its blob. A blob that cannot
// be deleted is logged and left behind.
func (s *UserService) DeleteImage(ctx context.Context, userID, imageID string) error {
	img, err := s.images.FindImage(ctx, userID, imageID)
	if err != nil {
		return fmt.Errorf("find image: %w", err)
	}
	if img == nil {
		return fmt.Errorf("image %s: %w", imageID, ErrNotFound)
	}
	deleted, err := s.images.DeleteImage(ctx, userID, imageID)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	if !deleted {
		return fmt.Errorf("image %s: %w", imageID, ErrNotFound)
	}
	if err := s.blobs.Delete(ctx, img.Key); err != nil {
		s.log.Warn("delete image blob", "user_id", userID, "key", img.Key, "err", err)
	}
	return nil
}

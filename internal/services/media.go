package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"services-market-backend/internal/apperr"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// MediaConfig describes the bucket listing images are uploaded to
type MediaConfig struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PublicBase string
	ExpiresIn  time.Duration
}

// MediaService issues pre-signed upload URLs for listing and chat images
type MediaService struct {
	presign   *s3.PresignClient
	bucket    string
	publicURL string
	expiresIn time.Duration
}

// NewMediaService creates a new media service
func NewMediaService(ctx context.Context, cfg MediaConfig) (*MediaService, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := strings.TrimRight(cfg.PublicBase, "/")
	if publicURL == "" {
		publicURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &MediaService{
		presign:   s3.NewPresignClient(s3Client),
		bucket:    cfg.Bucket,
		publicURL: publicURL,
		expiresIn: cfg.ExpiresIn,
	}, nil
}

// UploadRequest represents a request to get a pre-signed URL
type UploadRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// UploadResponse represents the response with pre-signed URL
type UploadResponse struct {
	UploadURL string `json:"upload_url"`
	ImageURL  string `json:"image_url"`
	Name      string `json:"name"`
	ExpiresIn int    `json:"expires_in"`
}

// GetPreSignedURL generates a pre-signed PUT URL under the user's prefix
func (s *MediaService) GetPreSignedURL(ctx context.Context, userID string, req UploadRequest) (*UploadResponse, error) {
	ext, ok := imageExtensions[req.ContentType]
	if !ok {
		return nil, apperr.Validation("upload image", "unsupported content type %q", req.ContentType)
	}

	// Key: listings/{user_id}/{image_id}.{ext}
	key := fmt.Sprintf("listings/%s/%s%s", userID, uuid.New().String(), ext)

	request, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(req.ContentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.expiresIn
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate pre-signed URL: %w", err)
	}

	name := path.Base(strings.ReplaceAll(req.Filename, "\\", "/"))
	if name == "." || name == "/" {
		name = path.Base(key)
	}

	return &UploadResponse{
		UploadURL: request.URL,
		ImageURL:  s.publicURL + "/" + key,
		Name:      name,
		ExpiresIn: int(s.expiresIn.Seconds()),
	}, nil
}

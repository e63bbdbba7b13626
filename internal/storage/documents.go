package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	MaxDocumentSize   = 10 * 1024 * 1024
	presignedURLTTL   = 15 * time.Minute
	documentKeyPrefix = "documents"
)

var (
	ErrFileTooBig           = errors.New("file size exceeds 10MB limit")
	ErrEmptyFile            = errors.New("file is empty")
	ErrInvalidFileType      = errors.New("invalid file type, only PDF, JPEG and PNG are allowed")
	ErrMissingOwner         = errors.New("psychologist and patient ids are required")
	ErrBucketCreationFailed = errors.New("failed to create storage bucket")
	ErrUploadFailed         = errors.New("failed to upload file")
	ErrDeleteFailed         = errors.New("failed to delete file")
	ErrURLGenerationFailed  = errors.New("failed to generate presigned URL")

	extensions = map[string]string{
		"application/pdf": ".pdf",
		"image/jpeg":      ".jpg",
		"image/png":       ".png",
	}
)

// objectAPI is the subset of *minio.Client used here.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// StoredDocument describes an uploaded patient document.
type StoredDocument struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

type DocumentStore struct {
	client objectAPI
	bucket string
	now    func() time.Time
}

// NewDocumentStore connects to an S3-compatible endpoint and creates the
// bucket when missing.
func NewDocumentStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*DocumentStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	s := newDocumentStore(client, bucket)
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func newDocumentStore(client objectAPI, bucket string) *DocumentStore {
	return &DocumentStore{client: client, bucket: bucket, now: time.Now}
}

func (s *DocumentStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("%w: check bucket existence: %v", ErrBucketCreationFailed, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("%w: create bucket: %v", ErrBucketCreationFailed, err)
		}
	}
	return nil
}

// Validate checks a prospective upload and returns the normalized content type.
func Validate(psychologistID, patientID, contentType string, size int64) (string, error) {
	if strings.TrimSpace(psychologistID) == "" || strings.TrimSpace(patientID) == "" {
		return "", ErrMissingOwner
	}
	if size <= 0 {
		return "", ErrEmptyFile
	}
	if size > MaxDocumentSize {
		return "", ErrFileTooBig
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if _, ok := extensions[ct]; !ok {
		return "", ErrInvalidFileType
	}
	return ct, nil
}

// Upload stores a patient document under the practitioner's namespace.
func (s *DocumentStore) Upload(ctx context.Context, psychologistID, patientID string, file io.Reader, size int64, contentType string) (*StoredDocument, error) {
	ct, err := Validate(psychologistID, patientID, contentType, size)
	if err != nil {
		return nil, err
	}

	key := ObjectKey(psychologistID, patientID, uuid.NewString(), ct)
	_, err = s.client.PutObject(ctx, s.bucket, key, file, size, minio.PutObjectOptions{
		ContentType: ct,
		UserMetadata: map[string]string{
			"Psychologist-ID": psychologistID,
			"Patient-ID":      patientID,
			"Uploaded-At":     s.now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	u, err := s.PresignedURL(ctx, key)
	if err != nil {
		return nil, err
	}
	return &StoredDocument{Key: key, URL: u, ContentType: ct, Size: size}, nil
}

func (s *DocumentStore) PresignedURL(ctx context.Context, key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty object key", ErrURLGenerationFailed)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, presignedURLTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrURLGenerationFailed, err)
	}
	return u.String(), nil
}

func (s *DocumentStore) Delete(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

// OwnedBy reports whether key lives under the practitioner's namespace.
func OwnedBy(key, psychologistID string) bool {
	return strings.HasPrefix(key, documentKeyPrefix+"/"+psychologistID+"/")
}

func ObjectKey(psychologistID, patientID, id, contentType string) string {
	return fmt.Sprintf("%s/%s/%s/%s%s", documentKeyPrefix, psychologistID, patientID, id, extensions[contentType])
}

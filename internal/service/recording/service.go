// Package recording stores captured caller audio in object storage.
package recording

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"vocalq-backend/internal/audio"
	"vocalq-backend/pkg/config"
	"vocalq-backend/pkg/resilience"
)

// ObjectStorage is the subset of *minio.Client the service needs
type ObjectStorage interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// NewMinioClient connects to MinIO
func NewMinioClient(cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return client, nil
}

// Service uploads call recordings as μ-law WAV objects
type Service struct {
	storage ObjectStorage
	bucket  string
	breaker *resilience.Breaker
	log     *zap.Logger
}

// NewService creates a recording service. breaker may be nil.
func NewService(storage ObjectStorage, bucket string, breaker *resilience.Breaker, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{storage: storage, bucket: bucket, breaker: breaker, log: log}
}

// EnsureBucket creates the recordings bucket when it is missing
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.storage.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.storage.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	s.log.Info("Recordings bucket created", zap.String("bucket", s.bucket))
	return nil
}

// ObjectKey is where the recording of a call is stored
func ObjectKey(callID string) string {
	return "recordings/" + callID + ".wav"
}

// Upload stores 8 kHz μ-law audio and returns its object key
func (s *Service) Upload(ctx context.Context, callID string, mulaw []byte) (string, error) {
	if len(mulaw) == 0 {
		return "", fmt.Errorf("empty recording")
	}
	key := ObjectKey(callID)
	data := audio.WAV(mulaw, audio.EncodingMulaw, 8000)
	opts := minio.PutObjectOptions{
		ContentType:  "audio/wav",
		UserMetadata: map[string]string{"call-id": callID},
	}

	put := func(ctx context.Context) error {
		_, err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
		return err
	}
	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, "put_object", put)
	} else {
		err = put(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}

	s.log.Info("Call recording stored",
		zap.String("call_id", callID),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return key, nil
}

// URL returns a time-limited download link for a stored recording
func (s *Service) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	u, err := s.storage.PresignedGetObject(ctx, s.bucket, key, expires, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign recording: %w", err)
	}
	return u.String(), nil
}

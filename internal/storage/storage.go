// Package storage keeps user-uploaded images (profile photos) either in S3
// or on local disk when AWS is not configured.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/chachabrian/unipool-backend/internal/config"
)

// MaxImageBytes bounds a single upload.
const MaxImageBytes = 5 << 20

var (
	ErrNotImage = errors.New("storage: file is not an image")
	ErrTooLarge = fmt.Errorf("storage: upload larger than %d bytes", MaxImageBytes)
)

// Images stores an image under folder and returns its public URL.
type Images interface {
	Put(ctx context.Context, folder, filename string, r io.Reader) (url string, err error)
	Delete(ctx context.Context, url string) error
}

// New picks S3 when AWS credentials and a bucket are configured, otherwise
// the local directory.
func New(cfg config.Storage, log *slog.Logger) (Images, error) {
	if cfg.AWSRegion != "" && cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" && cfg.S3Bucket != "" {
		sess, err := session.NewSession(&aws.Config{
			Region:      aws.String(cfg.AWSRegion),
			Credentials: credentials.NewStaticCredentials(cfg.AWSAccessKey, cfg.AWSSecretKey, ""),
		})
		if err != nil {
			return nil, fmt.Errorf("storage: create AWS session: %w", err)
		}
		log.Info("using S3 image storage", "bucket", cfg.S3Bucket, "region", cfg.AWSRegion)
		return &S3{
			client:   s3.New(sess),
			uploader: s3manager.NewUploader(sess),
			bucket:   cfg.S3Bucket,
			region:   cfg.AWSRegion,
		}, nil
	}

	log.Warn("AWS S3 not configured, storing uploads on local disk", "dir", cfg.LocalDir)
	return NewLocal(cfg.LocalDir, cfg.BaseURL)
}

// readImage buffers at most MaxImageBytes and sniffs the content type.
func readImage(r io.Reader) ([]byte, string, error) {
	buf := bytes.NewBuffer(nil)
	n, err := io.Copy(buf, io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("storage: read upload: %w", err)
	}
	if n > MaxImageBytes {
		return nil, "", ErrTooLarge
	}
	contentType := http.DetectContentType(buf.Bytes())
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", ErrNotImage
	}
	return buf.Bytes(), contentType, nil
}

func objectName(folder, filename string) string {
	return path.Join(folder, fmt.Sprintf("%d%s", time.Now().UnixNano(), strings.ToLower(filepath.Ext(filename))))
}

type S3 struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	region   string
}

func (s *S3) Put(ctx context.Context, folder, filename string, r io.Reader) (string, error) {
	body, contentType, err := readImage(r)
	if err != nil {
		return "", err
	}
	key := objectName(folder, filename)
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("storage: upload to S3: %w", err)
	}
	return s.url(key), nil
}

func (s *S3) url(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func (s *S3) Delete(ctx context.Context, url string) error {
	key := strings.TrimPrefix(url, s.url(""))
	if key == url {
		return fmt.Errorf("storage: %q is not in bucket %s", url, s.bucket)
	}
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// Local writes files under dir and serves them from baseURL + "/uploads".
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create upload directory: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (l *Local) Dir() string { return l.dir }

func (l *Local) Put(ctx context.Context, folder, filename string, r io.Reader) (string, error) {
	body, _, err := readImage(r)
	if err != nil {
		return "", err
	}
	name := objectName(folder, filename)
	full := filepath.Join(l.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("storage: create folder: %w", err)
	}
	if err := os.WriteFile(full, body, 0o644); err != nil {
		return "", fmt.Errorf("storage: save file: %w", err)
	}
	return l.baseURL + "/uploads/" + name, nil
}

func (l *Local) Delete(ctx context.Context, url string) error {
	prefix := l.baseURL + "/uploads/"
	if !strings.HasPrefix(url, prefix) {
		return fmt.Errorf("storage: %q is not a local upload", url)
	}
	rel := filepath.FromSlash(strings.TrimPrefix(url, prefix))
	if strings.Contains(rel, "..") {
		return fmt.Errorf("storage: invalid path %q", rel)
	}
	err := os.Remove(filepath.Join(l.dir, rel))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

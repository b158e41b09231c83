package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/siphon/internal/domain"
	"github.com/tanq16/siphon/internal/transport"
	"github.com/tanq16/siphon/internal/utils"
)

// S3API is the subset of the S3 client the bucket root uses.
type S3API interface {
	manager.UploadAPIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Root streams reassembled media into a bucket prefix.
type S3Root struct {
	handle   domain.RootHandle
	bucket   string
	prefix   string
	client   S3API
	uploader *manager.Uploader

	mu       sync.Mutex
	reserved map[string]bool
}

func NewS3Client(ctx context.Context) (*s3.Client, error) {
	profile := os.Getenv("AWS_PROFILE")
	if profile == "" {
		profile = "default"
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithSharedConfigProfile(profile), config.WithRetryMode("adaptive"))
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %v", err)
	}
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.DisableLogOutputChecksumValidationSkipped = true
	}), nil
}

func NewS3Root(h domain.RootHandle, client S3API) (*S3Root, error) {
	if h.Scheme != domain.RootS3 {
		return nil, fmt.Errorf("not an s3 root: %s", h)
	}
	bucket, prefix, _ := strings.Cut(h.Location, "/")
	if bucket == "" {
		return nil, fmt.Errorf("s3 root %s has no bucket", h)
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 8 * utils.DefaultBufferSize
		u.Concurrency = 2
	})
	return &S3Root{
		handle:   h,
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
		client:   client,
		uploader: uploader,
		reserved: make(map[string]bool),
	}, nil
}

func (r *S3Root) Handle() domain.RootHandle {
	return r.handle
}

func (r *S3Root) key(name string) string {
	if r.prefix == "" {
		return name
	}
	return path.Join(r.prefix, name)
}

func (r *S3Root) exists(ctx context.Context, name string) bool {
	if r.reserved[name] {
		return true
	}
	_, err := r.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(r.key(name))})
	return err == nil
}

// Create reserves a unique object name and starts a streaming upload fed by the sink.
func (r *S3Root) Create(ctx context.Context, itemID, name string) (transport.Sink, error) {
	r.mu.Lock()
	final := utils.RenewName(name, func(candidate string) bool { return r.exists(ctx, candidate) })
	r.reserved[final] = true
	r.mu.Unlock()

	uploadCtx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := r.uploader.Upload(uploadCtx, &s3.PutObjectInput{
			Bucket: aws.String(r.bucket),
			Key:    aws.String(r.key(final)),
			Body:   pr,
		})
		pr.CloseWithError(err)
		done <- err
	}()
	log.Debug().Str("op", "store/s3").Str("id", itemID).Msgf("Streaming to s3://%s/%s", r.bucket, r.key(final))
	return &s3Sink{root: r, name: final, pw: pw, done: done, cancel: cancel}, nil
}

func (r *S3Root) release(name string) {
	r.mu.Lock()
	delete(r.reserved, name)
	r.mu.Unlock()
}

func (r *S3Root) Remove(ctx context.Context, fileName string) error {
	if fileName == "" {
		return nil
	}
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(r.bucket), Key: aws.String(r.key(fileName))})
	if err != nil {
		return fmt.Errorf("error deleting s3 object: %w", err)
	}
	return nil
}

var errUploadAborted = errors.New("upload aborted")

type s3Sink struct {
	root   *S3Root
	name   string
	pw     *io.PipeWriter
	done   chan error
	cancel context.CancelFunc
}

func (s *s3Sink) Write(p []byte) (int, error) {
	return s.pw.Write(p)
}

func (s *s3Sink) Commit() (string, error) {
	defer s.root.release(s.name)
	defer s.cancel()
	s.pw.Close()
	if err := <-s.done; err != nil {
		return "", fmt.Errorf("error uploading %s: %w", s.name, err)
	}
	return s.name, nil
}

func (s *s3Sink) Abort() error {
	defer s.root.release(s.name)
	s.pw.CloseWithError(errUploadAborted)
	s.cancel()
	<-s.done
	return nil
}

package handlers

import (
	"bytes"
	"context"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/grigorimaxim422/atom/common"
	"github.com/grigorimaxim422/atom/common/config"
	"github.com/grigorimaxim422/atom/common/log"
	"github.com/pkg/errors"
)

// ObjectStore is the slice of the S3 API the handler touches, so
// tests can stand in for the real client.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds a client from the config section. A non-empty
// endpoint switches to path-style addressing, which bucket-compatible
// stores like Spaces and minio expect.
func NewS3Client(ctx context.Context, cfg config.S3) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.Key, cfg.Secret, "")),
	)
	if err != nil {
		return nil, errors.Wrap(err, "aws config")
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Handler reads and writes objects in one bucket.
type S3Handler struct {
	store  ObjectStore
	bucket string
	mimes  map[string]string
}

// NewS3Handler wraps a store. Custom MIME types map extensions like
// ".pt" to the content type to upload them under; they win over the
// system table.
func NewS3Handler(store ObjectStore, bucket string, customMIME map[string]string) *S3Handler {
	if customMIME == nil {
		customMIME = map[string]string{}
	}
	return &S3Handler{store: store, bucket: bucket, mimes: customMIME}
}

// Put uploads the file at src under location, private, with the
// content type inferred from its extension. Returns the object key.
func (self *S3Handler) Put(ctx context.Context, src, location string) (string, error) {
	return self.Upload(ctx, src, location, "", false)
}

// Upload is Put with an explicit content type (empty means infer) and
// the option to make the object publicly readable.
func (self *S3Handler) Upload(ctx context.Context, src, location, contentType string, public bool) (string, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return "", errors.Wrapf(err, "read %s", src)
	}
	key := path.Join(location, filepath.Base(src))
	if contentType == "" {
		contentType = self.contentType(src)
	}

	acl := types.ObjectCannedACLPrivate
	if public {
		acl = types.ObjectCannedACLPublicRead
	}
	_, err = self.store.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(self.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         acl,
	})
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", key)
	}
	log.Info("uploaded %s to %s as %s", src, self.bucket, key)
	return key, nil
}

// Get downloads the object at key into the local file at dst. A key
// the bucket does not hold is common.ErrNotFound.
func (self *S3Handler) Get(ctx context.Context, key, dst string) error {
	out, err := self.store.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(self.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return errors.Wrapf(common.ErrNotFound, "s3 object %s", key)
		}
		return errors.Wrapf(err, "get %s", key)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "mkdir for %s", dst)
	}
	file, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	defer file.Close()
	if _, err := io.Copy(file, out.Body); err != nil {
		return errors.Wrapf(err, "write %s", dst)
	}
	return nil
}

// contentType resolves custom types first, then the extension table,
// then falls back to a raw byte stream.
func (self *S3Handler) contentType(src string) string {
	ext := filepath.Ext(src)
	if ct, ok := self.mimes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

package blobstore

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"

	"github.com/mammothbox/mammothbox/internal/errs"
)

// S3Store is a Store backed by an S3 (or S3-compatible) bucket, addressed
// by s3://{bucket}/{key} URIs. Mirrors FilesystemStore's key layout so the
// two backends are interchangeable from a caller's perspective.
type S3Store struct {
	client *s3.S3
	bucket string
}

func NewS3Store(sess *session.Session, bucket string) *S3Store {
	return &S3Store{client: s3.New(sess), bucket: bucket}
}

// NewAWSSession builds the shared AWS session used to construct an S3Store,
// picking up credentials from the standard provider chain (env, shared
// config, EC2/ECS role).
func NewAWSSession(region string) (*session.Session, error) {
	return session.NewSession(&aws.Config{Region: aws.String(region)})
}

func (s *S3Store) keyToURI(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *S3Store) uriToKey(uri string) (string, error) {
	prefix := "s3://" + s.bucket + "/"
	if !strings.HasPrefix(uri, prefix) {
		return "", errs.Validation("invalid URI for this bucket: " + uri)
	}
	return strings.TrimPrefix(uri, prefix), nil
}

func (s *S3Store) put(ctx context.Context, key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", errs.Storage("read body", err)
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", errs.Storage("put object", err)
	}
	return s.keyToURI(key), nil
}

func (s *S3Store) StoreRaw(ctx context.Context, requestID, partID, filename string, r io.Reader) (string, error) {
	key := path.Join("incoming", requestID, partID, filename)
	return s.put(ctx, key, r)
}

func (s *S3Store) StoreMedia(ctx context.Context, clusterID, assetID, filename string, r io.Reader) (string, error) {
	key := path.Join("media", "clusters", clusterID, filename)
	return s.put(ctx, key, r)
}

func (s *S3Store) StoreDerived(ctx context.Context, clusterID, assetID, filename string, r io.Reader) (string, error) {
	key := path.Join("media", "derived", clusterID, assetID, filename)
	return s.put(ctx, key, r)
}

func (s *S3Store) Retrieve(ctx context.Context, uri string) (io.ReadCloser, error) {
	key, err := s.uriToKey(uri)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, errs.NotFound("object not found: " + uri)
		}
		return nil, errs.Storage("get object", err)
	}
	return out.Body, nil
}

func (s *S3Store) Exists(ctx context.Context, uri string) (bool, error) {
	key, err := s.uriToKey(uri)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, errs.Storage("head object", err)
	}
	return true, nil
}

func (s *S3Store) Size(ctx context.Context, uri string) (int64, error) {
	key, err := s.uriToKey(uri)
	if err != nil {
		return 0, err
	}
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return 0, errs.NotFound("object not found: " + uri)
		}
		return 0, errs.Storage("head object", err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

func (s *S3Store) Delete(ctx context.Context, uri string) error {
	key, err := s.uriToKey(uri)
	if err != nil {
		return err
	}
	if exists, err := s.Exists(ctx, uri); err != nil {
		return err
	} else if !exists {
		return errs.NotFound("object not found: " + uri)
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errs.Storage("delete object", err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	if isGlobPattern(prefix) {
		return s.listGlob(ctx, prefix)
	}

	key := prefix
	if strings.HasPrefix(key, "s3://") {
		k, err := s.uriToKey(key)
		if err != nil {
			return nil, err
		}
		key = k
	}

	var uris []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(key),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			uris = append(uris, s.keyToURI(aws.StringValue(obj.Key)))
		}
		return true
	})
	if err != nil {
		return nil, errs.Storage("list objects", err)
	}
	return uris, nil
}

func (s *S3Store) listGlob(ctx context.Context, pattern string) ([]string, error) {
	var uris []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if matchesGlob(pattern, key) {
				uris = append(uris, s.keyToURI(key))
			}
		}
		return true
	})
	if err != nil {
		return nil, errs.Storage("list objects", err)
	}
	return uris, nil
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}

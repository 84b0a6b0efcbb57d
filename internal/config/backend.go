// Copyright (c) Fan Club Authors.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fanclub/master/pkg/log"
)

// Backend is the pluggable target archive backups are pushed to, mirroring
// the teacher corpus's ArchiveBackend abstraction (spec SPEC_FULL §4.1a).
// The working profile itself is always read/written locally (spec §6.3);
// a Backend only ever receives backup snapshots.
type Backend interface {
	// Name identifies the backend for logging.
	Name() string
	// Store uploads/copies a named backup blob. Implementations must be
	// safe to call when the backend's destination is unreachable: they
	// should return an error, never panic, and must never block the
	// caller beyond a reasonable network timeout.
	Store(ctx context.Context, name string, data []byte) error
	// List enumerates known backup names, newest first when the
	// underlying store can report that ordering.
	List(ctx context.Context) ([]string, error)
	// Load retrieves a previously stored backup blob by name.
	Load(ctx context.Context, name string) ([]byte, error)
}

// fileBackend stores backups as plain files in a local directory. This is
// the default, always-available backend.
type fileBackend struct {
	dir string
}

func newFileBackend(dir string) *fileBackend {
	return &fileBackend{dir: dir}
}

func (b *fileBackend) Name() string { return "file" }

func (b *fileBackend) Store(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("fileBackend: mkdir: %w", err)
	}
	return atomicWriteFile(filepath.Join(b.dir, name), data)
}

func (b *fileBackend) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func (b *fileBackend) Load(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(b.dir, name))
}

// s3Backend pushes backups to an S3-compatible bucket. It is optional
// (spec SPEC_FULL §4.1a): the archive must work fully with only the file
// backend, and a broken/unreachable bucket must never block local saves.
type s3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Backend builds the optional S3-compatible remote backend for
// wiring into Archive.SetRemoteBackend (spec SPEC_FULL §4.1a).
func NewS3Backend(ctx context.Context, bucket, region, prefix string) (Backend, error) {
	return newS3Backend(ctx, bucket, region, prefix)
}

func newS3Backend(ctx context.Context, bucket, region, prefix string) (*s3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("s3Backend: load AWS config: %w", err)
	}
	return &s3Backend{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (b *s3Backend) Name() string { return "s3" }

func (b *s3Backend) key(name string) string {
	if b.prefix == "" {
		return name
	}
	return filepath.Join(b.prefix, name)
}

func (b *s3Backend) Store(ctx context.Context, name string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
		Body:   bytesReader(data),
	})
	if err != nil {
		log.Warnf("s3Backend: PutObject %q failed: %v", name, err)
		return err
	}
	return nil
}

func (b *s3Backend) List(ctx context.Context) ([]string, error) {
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(b.prefix),
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Contents))
	for _, obj := range out.Contents {
		names = append(names, aws.ToString(obj.Key))
	}
	return names, nil
}

func (b *s3Backend) Load(ctx context.Context, name string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(name)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return readAll(out.Body)
}

package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/jmerrifield20/uavledger/internal/faults"
	"go.uber.org/zap"
)

// ── Fake S3 ──────────────────────────────────────────────────────────────

type fakeS3 struct {
	putVersion  *string
	headVersion *string
	putErr      error
	headErr     error
	pages       []*s3.ListObjectVersionsOutput
	listCalls   int
	objects     map[string]string // versionID -> body
	prefixPages []*s3.ListObjectsV2Output
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &s3.PutObjectOutput{VersionId: f.putVersion}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{VersionId: f.headVersion}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.VersionId)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader([]byte(body)))}, nil
}

func (f *fakeS3) ListObjectVersions(_ context.Context, _ *s3.ListObjectVersionsInput, _ ...func(*s3.Options)) (*s3.ListObjectVersionsOutput, error) {
	p := f.pages[f.listCalls]
	f.listCalls++
	return p, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	p := f.prefixPages[0]
	f.prefixPages = f.prefixPages[1:]
	return p, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestS3Put_returnsVersion(t *testing.T) {
	s := newS3Store(&fakeS3{putVersion: aws.String("v-1")}, "bucket", zap.NewNop())
	v, err := s.Put(context.Background(), "flights/f/flight.log", []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if v != "v-1" {
		t.Errorf("got %q, want v-1", v)
	}
}

func TestS3Put_fallsBackToHead(t *testing.T) {
	s := newS3Store(&fakeS3{headVersion: aws.String("v-head")}, "bucket", zap.NewNop())
	v, err := s.Put(context.Background(), "k", []byte("x"))
	if err != nil || v != "v-head" {
		t.Errorf("got %q, %v; want v-head", v, err)
	}
}

func TestS3Put_unversionedBucket(t *testing.T) {
	s := newS3Store(&fakeS3{headVersion: aws.String("null")}, "bucket", zap.NewNop())
	if _, err := s.Put(context.Background(), "k", []byte("x")); !errors.Is(err, ErrUnversioned) {
		t.Errorf("expected ErrUnversioned, got %v", err)
	}
}

func TestS3Put_classifiesErrors(t *testing.T) {
	transient := newS3Store(&fakeS3{putErr: errors.New("dial tcp: i/o timeout")}, "b", zap.NewNop())
	if _, err := transient.Put(context.Background(), "k", nil); !errors.Is(err, faults.ErrTransientIO) {
		t.Errorf("network error: expected ErrTransientIO, got %v", err)
	}

	denied := &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	permanent := newS3Store(&fakeS3{putErr: denied}, "b", zap.NewNop())
	_, err := permanent.Put(context.Background(), "k", nil)
	if err == nil || faults.IsRetryable(err) {
		t.Errorf("AccessDenied: expected permanent error, got %v", err)
	}
}

func TestS3ListVersions_paginatesAndFilters(t *testing.T) {
	now := time.Now()
	fake := &fakeS3{pages: []*s3.ListObjectVersionsOutput{
		{
			IsTruncated: true,
			Versions: []types.ObjectVersion{
				{Key: aws.String("k"), VersionId: aws.String("v1"), Size: 1, LastModified: aws.Time(now.Add(-2 * time.Minute))},
				{Key: aws.String("k.bak"), VersionId: aws.String("other"), Size: 9, LastModified: aws.Time(now)},
			},
			NextKeyMarker:       aws.String("k"),
			NextVersionIdMarker: aws.String("v1"),
		},
		{
			Versions: []types.ObjectVersion{
				{Key: aws.String("k"), VersionId: aws.String("v2"), Size: 2, IsLatest: true, LastModified: aws.Time(now.Add(-time.Minute))},
			},
		},
	}}
	s := newS3Store(fake, "b", zap.NewNop())

	versions, err := s.ListVersions(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
	if versions[0].ID != "v2" || !versions[0].IsLatest {
		t.Errorf("expected v2 first and latest, got %+v", versions[0])
	}
	if fake.listCalls != 2 {
		t.Errorf("expected 2 pages, got %d", fake.listCalls)
	}
}

func TestS3GetVersion(t *testing.T) {
	s := newS3Store(&fakeS3{objects: map[string]string{"v1": "hello\n"}}, "b", zap.NewNop())
	body, err := s.GetVersion(context.Background(), "k", "v1")
	if err != nil || string(body) != "hello\n" {
		t.Errorf("GetVersion: got %q, %v", body, err)
	}
	if _, err := s.GetVersion(context.Background(), "k", "v9"); !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("expected ErrVersionNotFound, got %v", err)
	}
}

func TestS3Exists(t *testing.T) {
	present := newS3Store(&fakeS3{}, "b", zap.NewNop())
	if ok, err := present.Exists(context.Background(), "k"); !ok || err != nil {
		t.Errorf("expected exists, got %v, %v", ok, err)
	}
	missing := newS3Store(&fakeS3{headErr: &types.NotFound{}}, "b", zap.NewNop())
	if ok, err := missing.Exists(context.Background(), "k"); ok || err != nil {
		t.Errorf("expected not found without error, got %v, %v", ok, err)
	}
}

func TestS3ListPrefixes(t *testing.T) {
	fake := &fakeS3{prefixPages: []*s3.ListObjectsV2Output{
		{IsTruncated: true, NextContinuationToken: aws.String("t"), CommonPrefixes: []types.CommonPrefix{{Prefix: aws.String("flights/a/")}}},
		{CommonPrefixes: []types.CommonPrefix{{Prefix: aws.String("flights/b/")}}},
	}}
	s := newS3Store(fake, "b", zap.NewNop())
	got, err := s.ListPrefixes(context.Background(), "flights/")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "flights/a/" || got[1] != "flights/b/" {
		t.Errorf("ListPrefixes: got %v", got)
	}
}

func TestS3Ping_notConnected(t *testing.T) {
	s := newS3Store(&fakeS3{headErr: errors.New("no route to host")}, "b", zap.NewNop())
	if err := s.Ping(context.Background()); !errors.Is(err, faults.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/goartstore/record-module/internal/storage"
)

// fakeS3 — хранилище объектов в памяти.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Bucket+"/"+*in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestPutOpenRemove(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	s := New(fake, "records", "records/")

	res, err := s.Put(ctx, strings.NewReader("рентген"), "xray.png", "alice")
	if err != nil {
		t.Fatalf("Put() ошибка: %v", err)
	}
	if !strings.HasPrefix(res.ID, "alice/") {
		t.Errorf("ID = %s, ожидался префикс alice/", res.ID)
	}
	if res.Size != int64(len("рентген")) || len(res.Checksum) != 64 {
		t.Errorf("PutResult = %+v", res)
	}
	if _, ok := fake.objects["records/records/"+res.ID]; !ok {
		t.Error("объект не записан с префиксом ключа")
	}

	rc, err := s.Open(ctx, res.ID)
	if err != nil {
		t.Fatalf("Open() ошибка: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "рентген" {
		t.Errorf("содержимое = %q", data)
	}

	if err := s.Remove(ctx, res.ID); err != nil {
		t.Fatalf("Remove() ошибка: %v", err)
	}
	if _, err := s.Open(ctx, res.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Open() после удаления = %v, ожидался ErrNotFound", err)
	}
}

func TestCheckReady(t *testing.T) {
	fake := newFakeS3()
	s := New(fake, "records", "")

	if status, _ := s.CheckReady(context.Background()); status != "ok" {
		t.Errorf("CheckReady() = %s, ожидался ok", status)
	}
	fake.headErr = errors.New("нет доступа")
	if status, _ := s.CheckReady(context.Background()); status != "fail" {
		t.Errorf("CheckReady() = %s, ожидался fail", status)
	}
}

func TestSafeSegment(t *testing.T) {
	tests := map[string]string{
		"alice":      "alice",
		"0xAbC":      "0xAbC",
		"a/b":        "a_b",
		"":           "_",
		"..":         "_",
		"user@mail":  "user_mail",
		"пользователь": "____________",
	}
	for in, want := range tests {
		if got := safeSegment(in); got != want {
			t.Errorf("safeSegment(%q) = %q, ожидалось %q", in, got, want)
		}
	}
}

package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeS3 is an in-memory S3API that can be told to fail the next N calls.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	heads    int
	gets     int
	failNext int
	failWith error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) maybeFail() error {
	if f.failNext > 0 {
		f.failNext--
		return f.failWith
	}
	return nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.maybeFail(); err != nil {
		return nil, err
	}
	body, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heads++
	if err := f.maybeFail(); err != nil {
		return nil, err
	}
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if err := f.maybeFail(); err != nil {
		return nil, err
	}
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

// storeFactories lists every backend that must satisfy the Store contract.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return newTestSQLiteStore(t) },
		"s3":     func(t *testing.T) Store { return NewS3Store(newFakeS3()) },
	}
}

func TestStoreContract(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()

			ok, err := s.Exists(ctx, "bucket", "exp/a_b.json")
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if ok {
				t.Fatal("Exists = true before Put")
			}

			if _, err := s.Get(ctx, "bucket", "exp/a_b.json"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get before Put error = %v, want ErrNotFound", err)
			}

			body := []byte(`{"status":"success"}`)
			if err := s.Put(ctx, "bucket", "exp/a_b.json", body); err != nil {
				t.Fatalf("Put: %v", err)
			}

			ok, err = s.Exists(ctx, "bucket", "exp/a_b.json")
			if err != nil || !ok {
				t.Fatalf("Exists after Put = %v, %v; want true, nil", ok, err)
			}

			got, err := s.Get(ctx, "bucket", "exp/a_b.json")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, body) {
				t.Errorf("Get = %q, want %q", got, body)
			}

			// Buckets are independent namespaces.
			ok, _ = s.Exists(ctx, "other", "exp/a_b.json")
			if ok {
				t.Error("object visible in a different bucket")
			}
		})
	}
}

func TestStorePutIdempotent(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			ctx := context.Background()
			body := []byte(`{"status":"error","error":"boom"}`)

			for i := 0; i < 2; i++ {
				if err := s.Put(ctx, "bucket", "k", body); err != nil {
					t.Fatalf("Put[%d]: %v", i, err)
				}
			}

			got, err := s.Get(ctx, "bucket", "k")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if !bytes.Equal(got, body) {
				t.Errorf("Get = %q, want %q", got, body)
			}
		})
	}
}

func TestSQLiteStoreCount(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, "bucket", fmt.Sprintf("exp/%d_s.json", i), []byte("{}")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	// Overwrite does not add a row.
	if err := s.Put(ctx, "bucket", "exp/0_s.json", []byte("{}")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	n, err := s.Count(ctx, "bucket")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}
}

func TestSQLiteStoreSharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")

	writer, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore(writer): %v", err)
	}
	defer writer.Close()

	reader, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore(reader): %v", err)
	}
	defer reader.Close()

	ctx := context.Background()
	if err := writer.Put(ctx, "bucket", "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	ok, err := reader.Exists(ctx, "bucket", "k")
	if err != nil || !ok {
		t.Fatalf("reader Exists = %v, %v; want true, nil", ok, err)
	}
}

func TestS3StoreClassifiesErrors(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake)
	ctx := context.Background()

	fake.failNext = 1
	fake.failWith = &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce request rate"}
	_, err := s.Exists(ctx, "bucket", "k")
	if !IsTransient(err) {
		t.Errorf("SlowDown error = %v, want transient", err)
	}

	fake.failNext = 1
	fake.failWith = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
	err = s.Put(ctx, "bucket", "k", []byte("v"))
	if err == nil || IsTransient(err) {
		t.Errorf("AccessDenied error = %v, want permanent", err)
	}

	fake.failNext = 1
	fake.failWith = errors.New("connection reset by peer")
	_, err = s.Get(ctx, "bucket", "k")
	if !IsTransient(err) {
		t.Errorf("network error = %v, want transient", err)
	}
}

func TestOpenKinds(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Kind: KindMemory})
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open(memory) = %T, want *MemoryStore", s)
	}

	s, err = Open(ctx, Options{Kind: KindSQLite, SQLitePath: filepath.Join(t.TempDir(), "o.db")})
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	s.Close()

	if _, err := Open(ctx, Options{Kind: KindSQLite}); err == nil {
		t.Error("Open(sqlite) without path should fail")
	}
	if _, err := Open(ctx, Options{Kind: "gcs"}); err == nil {
		t.Error("Open(gcs) should fail")
	}
}

package modelstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"

	"equipguard/internal/config"
	"equipguard/internal/model"
)

func TestFileStoreSaveAllLoad(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFile(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	if err := store.SaveAll(ctx, map[string][]byte{"scaler": []byte(`{"a":1}`), "model_supervised": []byte(`{"b":2}`)}); err != nil {
		t.Fatalf("save all: %v", err)
	}
	got, err := store.Load(ctx, "scaler")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected data %s", got)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
	if _, err := store.Load(ctx, "model_unsupervised"); !errors.Is(err, model.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestFileStoreReaderKeepsItsGeneration(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writer, _ := NewFile(dir)
	if err := writer.SaveAll(ctx, map[string][]byte{"scaler": []byte("s1"), "model_supervised": []byte("m1")}); err != nil {
		t.Fatalf("save all: %v", err)
	}

	reader, _ := NewFile(dir)
	if got, _ := reader.Load(ctx, "scaler"); string(got) != "s1" {
		t.Fatalf("unexpected scaler %s", got)
	}
	if err := writer.SaveAll(ctx, map[string][]byte{"scaler": []byte("s2"), "model_supervised": []byte("m2")}); err != nil {
		t.Fatalf("second save all: %v", err)
	}
	// The reader resolved the first generation and must not see a mix.
	if got, _ := reader.Load(ctx, "model_supervised"); string(got) != "m1" {
		t.Fatalf("reader mixed generations: got %s", got)
	}

	fresh, _ := NewFile(dir)
	for name, want := range map[string]string{"scaler": "s2", "model_supervised": "m2"} {
		if got, err := fresh.Load(ctx, name); err != nil || string(got) != want {
			t.Fatalf("load %s: got %s, %v", name, got, err)
		}
	}
}

func TestFileStoreFailedSaveKeepsPreviousSet(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewFile(dir)
	if err := store.SaveAll(context.Background(), map[string][]byte{"scaler": []byte("old")}); err != nil {
		t.Fatalf("save all: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.SaveAll(ctx, map[string][]byte{"scaler": []byte("new"), "model_supervised": []byte("m")}); err == nil {
		t.Fatalf("expected cancelled save to fail")
	}
	if err := store.SaveAll(context.Background(), map[string][]byte{"scaler": []byte("x"), "../bad": []byte("y")}); err == nil {
		t.Fatalf("expected invalid name to fail")
	}

	fresh, _ := NewFile(dir)
	if got, err := fresh.Load(context.Background(), "scaler"); err != nil || string(got) != "old" {
		t.Fatalf("expected previous set, got %s, %v", got, err)
	}
	entries, _ := os.ReadDir(dir)
	gens := 0
	for _, e := range entries {
		if e.IsDir() {
			gens++
		}
	}
	if gens != 1 {
		t.Fatalf("expected only the live generation on disk, found %d", gens)
	}
}

func TestFileStoreSaveKeepsOtherArtifacts(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store, _ := NewFile(dir)
	if err := store.SaveAll(ctx, map[string][]byte{"scaler": []byte("s"), "model_supervised": []byte("m1")}); err != nil {
		t.Fatalf("save all: %v", err)
	}
	if err := store.Save(ctx, "model_supervised", []byte("m2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	fresh, _ := NewFile(dir)
	if got, _ := fresh.Load(ctx, "scaler"); string(got) != "s" {
		t.Fatalf("scaler lost on single save: %s", got)
	}
	if got, _ := fresh.Load(ctx, "model_supervised"); string(got) != "m2" {
		t.Fatalf("unexpected model %s", got)
	}
}

func TestFileStoreRejectsPathNames(t *testing.T) {
	store, _ := NewFile(t.TempDir())
	if err := store.Save(context.Background(), "../escape", []byte("x")); err == nil {
		t.Fatalf("expected invalid name error")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	store, err := New(context.Background(), config.ModelStoreConfig{Backend: "file", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, ok := store.(*fileStore); !ok {
		t.Fatalf("expected file store, got %T", store)
	}
	if _, err := New(context.Background(), config.ModelStoreConfig{Backend: "floppy"}); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "models.db")
	store, err := NewSQLite(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	if err := store.SaveAll(ctx, map[string][]byte{"scaler": []byte("v1")}); err != nil {
		t.Fatalf("save all: %v", err)
	}
	if err := store.Save(ctx, "scaler", []byte("v2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Load(ctx, "scaler")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != "v2" {
		t.Fatalf("expected upserted value, got %s", got)
	}
	if _, err := store.Load(ctx, "missing"); !errors.Is(err, model.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestPostgresSaveAllUsesTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(postgresDialect.create)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(postgresDialect.upsert))
	prep.ExpectExec().
		WithArgs("scaler", []byte("payload"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	store, err := newSQLStore(context.Background(), db, postgresDialect)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.SaveAll(context.Background(), map[string][]byte{"scaler": []byte("payload")}); err != nil {
		t.Fatalf("save all: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresSaveAllRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(postgresDialect.create)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(postgresDialect.upsert))
	prep.ExpectExec().WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	store, err := newSQLStore(context.Background(), db, postgresDialect)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := store.SaveAll(context.Background(), map[string][]byte{"scaler": []byte("payload")}); err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresLoadMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(postgresDialect.create)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(postgresDialect.load)).
		WithArgs("scaler").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	store, err := newSQLStore(context.Background(), db, postgresDialect)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := store.Load(context.Background(), "scaler"); !errors.Is(err, model.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
	failOn  string
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.StringValue(in.Key)
	if f.failOn != "" && key == f.failOn {
		return nil, errors.New("access denied")
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[key] = data
	f.puts = append(f.puts, key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "the specified key does not exist", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3SaveAllWritesPointerLast(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	store := newS3Store(fake, "bucket", "/equipguard/")
	ctx := context.Background()

	if err := store.SaveAll(ctx, map[string][]byte{"scaler": []byte("s"), "model_supervised": []byte("m")}); err != nil {
		t.Fatalf("save all: %v", err)
	}
	if last := fake.puts[len(fake.puts)-1]; last != "equipguard/CURRENT" {
		t.Fatalf("expected CURRENT written last, got %s", last)
	}

	// A fresh store resolves the generation from the pointer.
	reader := newS3Store(fake, "bucket", "equipguard")
	got, err := reader.Load(ctx, "model_supervised")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != "m" {
		t.Fatalf("unexpected data %s", got)
	}
	if _, err := reader.Load(ctx, "model_unsupervised"); !errors.Is(err, model.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestS3FailedSaveKeepsPreviousGeneration(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	store := newS3Store(fake, "bucket", "equipguard")
	ctx := context.Background()
	if err := store.SaveAll(ctx, map[string][]byte{"scaler": []byte("old")}); err != nil {
		t.Fatalf("save all: %v", err)
	}

	fake.failOn = "equipguard/CURRENT"
	if err := store.SaveAll(ctx, map[string][]byte{"scaler": []byte("new")}); err == nil {
		t.Fatalf("expected pointer write to fail")
	}

	reader := newS3Store(fake, "bucket", "equipguard")
	got, err := reader.Load(ctx, "scaler")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != "old" {
		t.Fatalf("expected previous generation, got %s", got)
	}
}

func TestS3LoadWithoutPointer(t *testing.T) {
	store := newS3Store(&fakeS3{objects: map[string][]byte{}}, "bucket", "p")
	if _, err := store.Load(context.Background(), "scaler"); !errors.Is(err, model.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestS3SaveWritesNewGeneration(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	store := newS3Store(fake, "bucket", "eg")
	ctx := context.Background()
	if err := store.SaveAll(ctx, map[string][]byte{"scaler": []byte("s"), "model_supervised": []byte("m1")}); err != nil {
		t.Fatalf("save all: %v", err)
	}
	oldGen := string(fake.objects["eg/CURRENT"])

	if err := store.Save(ctx, "model_supervised", []byte("m2")); err != nil {
		t.Fatalf("save: %v", err)
	}
	newGen := string(fake.objects["eg/CURRENT"])
	if newGen == oldGen {
		t.Fatalf("save must publish a new generation")
	}
	if got := string(fake.objects["eg/"+oldGen+"/model_supervised.json"]); got != "m1" {
		t.Fatalf("live generation was modified in place: %s", got)
	}

	reader := newS3Store(fake, "bucket", "eg")
	if got, _ := reader.Load(ctx, "scaler"); string(got) != "s" {
		t.Fatalf("scaler lost on single save: %s", got)
	}
	if got, _ := reader.Load(ctx, "model_supervised"); string(got) != "m2" {
		t.Fatalf("unexpected model %s", got)
	}
}

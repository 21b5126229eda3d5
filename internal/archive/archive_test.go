package archive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/tablestage/internal/domain"
	"github.com/ashureev/tablestage/internal/store"
)

type fakeObjects struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (f *fakeObjects) Put(_ context.Context, key string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[key] = data
	return nil
}

// fakeRepo records writes and can fail them.
type fakeRepo struct {
	store.Repository
	approved []domain.StagingRecord
	err      error
}

func (f *fakeRepo) Approve(_ context.Context, rec domain.StagingRecord) error {
	if f.err != nil {
		return f.err
	}
	f.approved = append(f.approved, rec)
	return nil
}

func (f *fakeRepo) PreStage(ctx context.Context, rec domain.StagingRecord) error {
	return f.Approve(ctx, rec)
}

func testRecord() domain.StagingRecord {
	return domain.StagingRecord{
		ID:         "s1",
		WorldID:    "w1",
		RegionID:   "r1",
		ApprovedAt: time.Date(1024, 3, 1, 9, 0, 0, 0, time.UTC),
		TTLHours:   3,
		Source:     domain.SourcePreStaged,
	}
}

func TestArchivesAfterWrite(t *testing.T) {
	objects := &fakeObjects{}
	repo := &fakeRepo{}
	a := Wrap(repo, objects, nil)

	if err := a.PreStage(context.Background(), testRecord()); err != nil {
		t.Fatal(err)
	}
	raw, ok := objects.data["stagings/w1/r1/s1.json"]
	if !ok {
		t.Fatalf("snapshot missing, have %v", objects.data)
	}
	var got domain.StagingRecord
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Source != domain.SourcePreStaged {
		t.Errorf("source = %s", got.Source)
	}
}

func TestArchiveFailureDoesNotFailWrite(t *testing.T) {
	a := Wrap(&fakeRepo{}, &fakeObjects{err: errors.New("bucket gone")}, nil)
	if err := a.Approve(context.Background(), testRecord()); err != nil {
		t.Fatalf("Approve = %v, want nil", err)
	}
}

func TestNoSnapshotWhenWriteFails(t *testing.T) {
	objects := &fakeObjects{}
	a := Wrap(&fakeRepo{err: errors.New("disk full")}, objects, nil)
	if err := a.Approve(context.Background(), testRecord()); err == nil {
		t.Fatal("expected write error")
	}
	if len(objects.data) != 0 {
		t.Error("snapshot written for failed write")
	}
}

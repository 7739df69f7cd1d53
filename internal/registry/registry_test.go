package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/voter-gate/internal/apperrors"
	"github.com/kozaktomas/voter-gate/internal/database"
	"github.com/kozaktomas/voter-gate/internal/database/memory"
	"github.com/kozaktomas/voter-gate/internal/identity"
)

var fixedNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func claim(t *testing.T, primary, secondary string) identity.Claim {
	t.Helper()
	c, err := identity.NewDeriver("test-pepper").Claim(primary, secondary)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return c
}

func enrollment(c identity.Claim, emb []float32) Enrollment {
	return Enrollment{
		Claim: c,
		Model: "buffalo_l",
		Dim:   len(emb),
		Reference: database.Reference{
			Embedding: emb,
			SourceRef: "file://ref.jpg",
			Source:    database.SourceEnrolled,
		},
	}
}

func TestRegister_AndLookup(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.NewVoterStore(), WithClock(func() time.Time { return fixedNow }))
	c := claim(t, "ID1", "V1")

	if _, err := reg.Lookup(ctx, c.Key); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected NotFound before registration, got %v", err)
	}

	v, err := reg.Register(ctx, enrollment(c, []float32{1, 0, 0}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !v.RegisteredAt.Equal(fixedNow) {
		t.Errorf("expected RegisteredAt %v, got %v", fixedNow, v.RegisteredAt)
	}

	got, err := reg.Lookup(ctx, c.Key)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got.References) != 1 || got.References[0].SourceRef != "file://ref.jpg" {
		t.Errorf("unexpected references: %+v", got.References)
	}
	if !got.References[0].AddedAt.Equal(fixedNow) {
		t.Errorf("expected reference timestamp to default to now")
	}

	ok, err := reg.Exists(ctx, c.Key)
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func TestRegister_DuplicateNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.NewVoterStore())
	c := claim(t, "ID1", "V1")

	if _, err := reg.Register(ctx, enrollment(c, []float32{1, 0, 0})); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := reg.Register(ctx, enrollment(c, []float32{0, 1, 0}))
	if !errors.Is(err, apperrors.ErrAlreadyRegistered) {
		t.Fatalf("expected AlreadyRegistered, got %v", err)
	}

	got, _ := reg.Lookup(ctx, c.Key)
	if got.References[0].Embedding[0] != 1 {
		t.Errorf("original reference was overwritten: %v", got.References[0].Embedding)
	}
}

func TestRegister_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.NewVoterStore())
	c := claim(t, "ID1", "V1")

	const workers = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.Register(ctx, enrollment(c, []float32{float32(i + 1), 1, 0}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrAlreadyRegistered):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Errorf("expected 1 success and %d conflicts, got %d and %d", workers-1, successes, conflicts)
	}
	n, _ := reg.store.Count(ctx)
	if n != 1 {
		t.Errorf("expected exactly one record, got %d", n)
	}
}

func TestRegister_StoreErrorIsInternal(t *testing.T) {
	store := memory.NewVoterStore()
	store.InsertError = fmt.Errorf("disk full")
	reg := New(store)

	_, err := reg.Register(context.Background(), enrollment(claim(t, "ID1", "V1"), []float32{1, 0}))
	if apperrors.KindOf(err) != apperrors.KindInternal {
		t.Errorf("expected internal error, got %v", err)
	}
}

func TestRegister_DuplicateFaceRejected(t *testing.T) {
	ctx := context.Background()
	index := database.NewFaceIndex()
	reg := New(memory.NewVoterStore(), WithDuplicateCheck(index, 0.9))

	if _, err := reg.Register(ctx, enrollment(claim(t, "ID1", "V1"), []float32{1, 0, 0})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := reg.Register(ctx, enrollment(claim(t, "ID2", "V2"), []float32{0.99, 0.05, 0}))
	if !errors.Is(err, apperrors.ErrDuplicateBiometric) {
		t.Fatalf("expected DuplicateBiometric, got %v", err)
	}

	// A clearly different face is accepted.
	if _, err := reg.Register(ctx, enrollment(claim(t, "ID3", "V3"), []float32{0, 0, 1})); err != nil {
		t.Errorf("expected distinct face to register, got %v", err)
	}
	if index.Count() != 2 {
		t.Errorf("expected 2 indexed references, got %d", index.Count())
	}
}

func TestReenroll(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.NewVoterStore(), WithClock(func() time.Time { return fixedNow }))
	c := claim(t, "ID1", "V1")

	if _, err := reg.Reenroll(ctx, enrollment(c, []float32{1, 0})); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected NotFound for unknown voter, got %v", err)
	}

	if _, err := reg.Register(ctx, enrollment(c, []float32{1, 0})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	v, err := reg.Reenroll(ctx, enrollment(c, []float32{0, 1}))
	if err != nil {
		t.Fatalf("Reenroll: %v", err)
	}
	if v.ReplacedAt == nil {
		t.Error("expected ReplacedAt to be set")
	}
	if len(v.References) != 1 || v.References[0].Embedding[1] != 1 {
		t.Errorf("expected references replaced, got %+v", v.References)
	}
}

func TestAddReference(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.NewVoterStore())
	c := claim(t, "ID1", "V1")

	ref := database.Reference{Embedding: []float32{0, 1}, Source: database.SourceCaptured}
	if err := reg.AddReference(ctx, c.Key, "buffalo_l", ref); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	if _, err := reg.Register(ctx, enrollment(c, []float32{1, 0})); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.AddReference(ctx, c.Key, "other-model", ref); !errors.Is(err, apperrors.ErrIncompatibleEmbedding) {
		t.Errorf("expected IncompatibleEmbedding for a different model, got %v", err)
	}
	if err := reg.AddReference(ctx, c.Key, "buffalo_l", ref); err != nil {
		t.Fatalf("AddReference: %v", err)
	}

	v, _ := reg.Lookup(ctx, c.Key)
	if len(v.References) != 2 {
		t.Errorf("expected 2 references, got %d", len(v.References))
	}
}

func TestList_Redacted(t *testing.T) {
	ctx := context.Background()
	reg := New(memory.NewVoterStore())
	c := claim(t, "ID1", "VOTER-123456")

	if _, err := reg.Register(ctx, enrollment(c, []float32{1, 0})); err != nil {
		t.Fatalf("Register: %v", err)
	}

	list, err := reg.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 voter, got %d", len(list))
	}
	s := list[0]
	if s.IdentityKey != c.Key.Short() {
		t.Errorf("expected short key %q, got %q", c.Key.Short(), s.IdentityKey)
	}
	if s.SecondaryIdentifier != "*******3456" {
		t.Errorf("expected masked secondary, got %q", s.SecondaryIdentifier)
	}
	if s.ReferenceCount != 1 {
		t.Errorf("expected 1 reference, got %d", s.ReferenceCount)
	}

	one, err := reg.Summary(ctx, c.Key)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if one.SecondaryIdentifier != s.SecondaryIdentifier {
		t.Errorf("Summary and List disagree: %q vs %q", one.SecondaryIdentifier, s.SecondaryIdentifier)
	}
}

func TestRebuildIndex(t *testing.T) {
	ctx := context.Background()
	store := memory.NewVoterStore()
	plain := New(store)
	for i, emb := range [][]float32{{1, 0}, {0, 1}} {
		c := claim(t, fmt.Sprintf("ID%d", i), "V")
		if _, err := plain.Register(ctx, enrollment(c, emb)); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	index := database.NewFaceIndex()
	reg := New(store, WithDuplicateCheck(index, 0.9))
	n, err := reg.RebuildIndex(ctx)
	if err != nil {
		t.Fatalf("RebuildIndex: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 indexed references, got %d", n)
	}
}

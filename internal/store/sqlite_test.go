package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/procurelabs/spachat/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestIdentityRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetIdentity(ctx)
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no identity, got %+v", got)
	}

	id := &domain.Identity{UserID: "user-abc", CreatedAt: time.Now()}
	if err := repo.SaveIdentity(ctx, id); err != nil {
		t.Fatalf("SaveIdentity failed: %v", err)
	}

	got, err = repo.GetIdentity(ctx)
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if got == nil || got.UserID != "user-abc" {
		t.Errorf("GetIdentity = %+v, want user-abc", got)
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	got, err := repo.GetCredential(ctx, "gateway")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no credential, got %+v", got)
	}

	cred := &domain.Credential{
		Key:       "gateway",
		Token:     "tok-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := repo.PutCredential(ctx, cred); err != nil {
		t.Fatalf("PutCredential failed: %v", err)
	}

	got, err = repo.GetCredential(ctx, "gateway")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if got == nil || got.Token != "tok-1" {
		t.Fatalf("GetCredential = %+v, want tok-1", got)
	}
	if got.Expired(time.Minute) {
		t.Error("credential should not be expired")
	}

	// Replacing under the same key keeps a single row.
	cred.Token = "tok-2"
	if err := repo.PutCredential(ctx, cred); err != nil {
		t.Fatalf("PutCredential failed: %v", err)
	}
	got, err = repo.GetCredential(ctx, "gateway")
	if err != nil {
		t.Fatalf("GetCredential failed: %v", err)
	}
	if got.Token != "tok-2" {
		t.Errorf("Token = %q, want tok-2", got.Token)
	}
}

func TestManifestReplacedWholesale(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	first := []domain.FileEntry{
		{Name: "a.csv", Size: 10, Modified: time.Now(), URL: "https://x/a.csv"},
		{Name: "b.csv", Size: 20, Modified: time.Now(), URL: "https://x/b.csv"},
	}
	if err := repo.SaveManifest(ctx, first); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}

	second := []domain.FileEntry{
		{Name: "c.png", Size: 30, Modified: time.Now(), URL: "https://x/c.png"},
	}
	if err := repo.SaveManifest(ctx, second); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}

	files, fetchedAt, err := repo.GetManifest(ctx)
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if len(files) != 1 || files[0].Name != "c.png" {
		t.Errorf("manifest not replaced wholesale: %+v", files)
	}
	if fetchedAt.IsZero() {
		t.Error("expected non-zero fetched time")
	}
}

func TestManifestOrderPreserved(t *testing.T) {
	t.Parallel()
	repo := newTestStore(t)
	ctx := context.Background()

	in := []domain.FileEntry{
		{Name: "z.csv", URL: "https://x/z.csv", Modified: time.Now()},
		{Name: "a.csv", URL: "https://x/a.csv", Modified: time.Now()},
		{Name: "m.csv", URL: "https://x/m.csv", Modified: time.Now()},
	}
	if err := repo.SaveManifest(ctx, in); err != nil {
		t.Fatalf("SaveManifest failed: %v", err)
	}

	files, _, err := repo.GetManifest(ctx)
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	for i := range in {
		if files[i].Name != in[i].Name {
			t.Fatalf("order not preserved: got %+v", files)
		}
	}
}

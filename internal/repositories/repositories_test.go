package repositories

import (
	"database/sql"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
	tu "github.com/desertthunder/agx/internal/testing"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCookieRepository(t *testing.T) {
	t.Run("Create and Get", func(t *testing.T) {
		repo := NewCookieRepository(setupTestDB(t))
		expires := time.Now().Add(time.Hour).Truncate(time.Second)

		c := &models.StoredCookie{Host: "127.0.0.1:8045", Name: "ag_session", Value: "s1", Expires: expires}
		if err := repo.Create(c); err != nil {
			t.Fatalf("failed to create cookie: %v", err)
		}

		got, err := repo.Get("127.0.0.1:8045/ag_session")
		if err != nil {
			t.Fatalf("failed to get cookie: %v", err)
		}
		if got.Value != "s1" || got.Path != "/" || !got.Expires.Equal(expires) {
			t.Errorf("unexpected cookie %+v", got)
		}
	})

	t.Run("Create replaces", func(t *testing.T) {
		repo := NewCookieRepository(setupTestDB(t))
		repo.Create(&models.StoredCookie{Host: "h", Name: "n", Value: "old"})
		if err := repo.Create(&models.StoredCookie{Host: "h", Name: "n", Value: "new"}); err != nil {
			t.Fatal(err)
		}
		all, _ := repo.List(nil)
		if len(all) != 1 || all[0].Value != "new" || !all[0].Expires.IsZero() {
			t.Errorf("List() = %+v", all)
		}
	})

	t.Run("List by host", func(t *testing.T) {
		repo := NewCookieRepository(setupTestDB(t))
		repo.Create(&models.StoredCookie{Host: "a", Name: "x", Value: "1"})
		repo.Create(&models.StoredCookie{Host: "b", Name: "x", Value: "2"})
		got, err := repo.List(map[string]any{"host": "b"})
		if err != nil || len(got) != 1 || got[0].Value != "2" {
			t.Errorf("List(host=b) = %+v, %v", got, err)
		}
	})

	t.Run("Delete and DeleteHost", func(t *testing.T) {
		repo := NewCookieRepository(setupTestDB(t))
		repo.Create(&models.StoredCookie{Host: "a", Name: "x", Value: "1"})
		repo.Create(&models.StoredCookie{Host: "a", Name: "y", Value: "1"})

		if err := repo.Delete("a/x"); err != nil {
			t.Fatal(err)
		}
		if err := repo.Delete("a/x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("second delete error = %v, want ErrNotFound", err)
		}
		if err := repo.DeleteHost("a"); err != nil {
			t.Fatal(err)
		}
		if all, _ := repo.List(nil); len(all) != 0 {
			t.Errorf("cookies left: %+v", all)
		}
	})
}

func TestCookieRepositoryErrors(t *testing.T) {
	repo := NewCookieRepository(setupTestDB(t))

	if err := repo.Create(&models.StoredCookie{Name: "n"}); err == nil {
		t.Error("expected validation error without host")
	}
	if _, err := repo.Get("no-separator"); err == nil {
		t.Error("expected error for malformed id")
	}
	if _, err := repo.Get("h/n"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() missing error = %v", err)
	}
}

func TestPersistentJar(t *testing.T) {
	base, _ := url.Parse("http://127.0.0.1:8045")
	api, _ := url.Parse("http://127.0.0.1:8045/api/admin/accounts")

	t.Run("survives reload", func(t *testing.T) {
		repo := NewCookieRepository(setupTestDB(t))
		jar := NewPersistentJar(repo, tu.QuietLogger())
		jar.SetCookies(base, []*http.Cookie{{Name: tu.SessionCookie, Value: "s1", Path: "/", MaxAge: 3600}})

		if got := jar.Cookies(api); len(got) != 1 || got[0].Value != "s1" {
			t.Fatalf("Cookies() = %v", got)
		}

		reloaded := NewPersistentJar(repo, tu.QuietLogger())
		if err := reloaded.Load(base); err != nil {
			t.Fatal(err)
		}
		if got := reloaded.Cookies(api); len(got) != 1 || got[0].Value != "s1" {
			t.Errorf("reloaded Cookies() = %v", got)
		}
	})

	t.Run("max age zero or negative deletes", func(t *testing.T) {
		repo := NewCookieRepository(setupTestDB(t))
		jar := NewPersistentJar(repo, tu.QuietLogger())
		jar.SetCookies(base, []*http.Cookie{{Name: "ag_session", Value: "s1", Path: "/"}})
		jar.SetCookies(base, []*http.Cookie{{Name: "ag_session", Value: "", Path: "/", MaxAge: -1}})

		if all, _ := repo.List(nil); len(all) != 0 {
			t.Errorf("stored after logout: %+v", all)
		}
		if got := jar.Cookies(api); len(got) != 0 {
			t.Errorf("in-memory after logout: %v", got)
		}
	})

	t.Run("expired rows dropped on load", func(t *testing.T) {
		repo := NewCookieRepository(setupTestDB(t))
		repo.Create(&models.StoredCookie{Host: base.Host, Name: "ag_session", Value: "old", Expires: time.Now().Add(-time.Minute)})

		jar := NewPersistentJar(repo, tu.QuietLogger())
		if err := jar.Load(base); err != nil {
			t.Fatal(err)
		}
		if got := jar.Cookies(api); len(got) != 0 {
			t.Errorf("expired cookie served: %v", got)
		}
		if all, _ := repo.List(nil); len(all) != 0 {
			t.Errorf("expired cookie kept: %+v", all)
		}
	})

	t.Run("clear", func(t *testing.T) {
		repo := NewCookieRepository(setupTestDB(t))
		jar := NewPersistentJar(repo, tu.QuietLogger())
		jar.SetCookies(base, []*http.Cookie{{Name: "ag_session", Value: "s1", Path: "/", MaxAge: 60}})

		if err := jar.Clear(base); err != nil {
			t.Fatal(err)
		}
		if got := jar.Cookies(api); len(got) != 0 {
			t.Errorf("Cookies() after Clear = %v", got)
		}
		if all, _ := repo.List(nil); len(all) != 0 {
			t.Errorf("stored after Clear: %+v", all)
		}
	})

	t.Run("login through fake backend persists session", func(t *testing.T) {
		b := tu.NewFakeBackend(t)
		b.Update(func(b *tu.FakeBackend) { b.Password = "secret123" })
		u, _ := url.Parse(b.URL)

		repo := NewCookieRepository(setupTestDB(t))
		client := &http.Client{Jar: NewPersistentJar(repo, tu.QuietLogger())}
		resp, err := client.Post(b.URL+"/api/auth/login", "application/json", strings.NewReader(`{"password":"secret123"}`))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()

		stored, _ := repo.List(map[string]any{"host": u.Host})
		if len(stored) != 1 || stored[0].Name != tu.SessionCookie {
			t.Fatalf("stored = %+v", stored)
		}

		next := NewPersistentJar(repo, tu.QuietLogger())
		next.Load(u)
		resp, err = (&http.Client{Jar: next}).Get(b.URL + "/api/admin/accounts")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status with restored session = %d", resp.StatusCode)
		}
	})
}

func TestImportRunRepository(t *testing.T) {
	t.Run("Create Get List Delete", func(t *testing.T) {
		repo := NewImportRunRepository(setupTestDB(t))
		older := &models.ImportRun{Source: "text", Total: 2, Succeeded: 1, Failed: 1, Created: time.Now().Add(-time.Hour)}
		newer := &models.ImportRun{Source: "accounts.json", Total: 3, Succeeded: 3}

		for _, run := range []*models.ImportRun{older, newer} {
			if err := repo.Create(run); err != nil {
				t.Fatalf("failed to create run: %v", err)
			}
		}
		if newer.RunID == "" || newer.Created.IsZero() {
			t.Error("id and timestamp should be set after creation")
		}

		got, err := repo.Get(older.RunID)
		if err != nil || got.Failed != 1 || got.Source != "text" {
			t.Errorf("Get() = %+v, %v", got, err)
		}

		runs, err := repo.List(nil)
		if err != nil || len(runs) != 2 || runs[0].RunID != newer.RunID {
			t.Errorf("List() = %+v, %v", runs, err)
		}
		if runs, _ := repo.List(map[string]any{"source": "text"}); len(runs) != 1 {
			t.Errorf("List(source) = %+v", runs)
		}
		if runs, _ := repo.List(map[string]any{"limit": 1}); len(runs) != 1 {
			t.Errorf("List(limit) = %+v", runs)
		}

		if err := repo.Delete(older.RunID); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.Get(older.RunID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get() after delete error = %v", err)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		repo := NewImportRunRepository(setupTestDB(t))
		if err := repo.Create(&models.ImportRun{Source: "text", Total: 2, Succeeded: 1}); err == nil {
			t.Error("expected error when counters do not add up")
		}
		if err := repo.Delete("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete() missing error = %v", err)
		}
	})

	t.Run("Closed database", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewImportRunRepository(db)
		db.Close()
		if _, err := repo.List(nil); err == nil {
			t.Error("expected error on closed database")
		}
	})
}

package repositories

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/shared"
)

// PersistentJar is an [http.CookieJar] backed by [CookieRepository].
//
// Cookies are served from an in-memory jar; every SetCookies call is mirrored into the database. Deleted or
// expired cookies are removed from both.
type PersistentJar struct {
	repo   *CookieRepository
	logger *log.Logger
	now    func() time.Time

	mu  sync.Mutex
	jar *cookiejar.Jar
}

// NewPersistentJar creates an empty jar over repo. Call [PersistentJar.Load] to restore stored cookies.
func NewPersistentJar(repo *CookieRepository, logger *log.Logger) *PersistentJar {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	jar, _ := cookiejar.New(nil)
	return &PersistentJar{repo: repo, logger: shared.WithLogger(logger, "component", "cookies"), now: time.Now, jar: jar}
}

// Load restores the stored cookies of u's host. Expired rows are deleted.
func (j *PersistentJar) Load(u *url.URL) error {
	stored, err := j.repo.List(map[string]any{"host": u.Host})
	if err != nil {
		return err
	}

	now := j.now()
	var live []*http.Cookie
	for _, c := range stored {
		if c.Expired(now) {
			if err := j.repo.Delete(c.ID()); err != nil {
				j.logger.Warn("failed to drop expired cookie", "name", c.Name, "error", err)
			}
			continue
		}
		live = append(live, &http.Cookie{Name: c.Name, Value: c.Value, Path: c.Path, Expires: c.Expires})
	}

	j.mu.Lock()
	j.jar.SetCookies(u, live)
	j.mu.Unlock()

	j.logger.Debug("cookies restored", "host", u.Host, "count", len(live))
	return nil
}

// SetCookies implements [http.CookieJar].
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	j.jar.SetCookies(u, cookies)
	j.mu.Unlock()

	now := j.now()
	for _, c := range cookies {
		if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now)) {
			if err := j.repo.Delete(u.Host + "/" + c.Name); err != nil {
				j.logger.Debug("cookie not stored", "name", c.Name, "error", err)
			}
			continue
		}

		expires := c.Expires
		if c.MaxAge > 0 {
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		stored := &models.StoredCookie{Host: u.Host, Name: c.Name, Value: c.Value, Path: c.Path, Expires: expires}
		if err := j.repo.Create(stored); err != nil {
			j.logger.Warn("failed to persist cookie", "name", c.Name, "error", err)
		}
	}
}

// Cookies implements [http.CookieJar].
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// Clear forgets every cookie of u's host, in memory and on disk.
func (j *PersistentJar) Clear(u *url.URL) error {
	jar, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
	return j.repo.DeleteHost(u.Host)
}

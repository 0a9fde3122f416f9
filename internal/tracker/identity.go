package tracker

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VisitorCookie holds the visitor id in cookie mode.
const VisitorCookie = "mp_uuid"

const visitorRetention = 365 * 24 * time.Hour

// hashHex is the digest used for fingerprints and privacy-mode identities.
func hashHex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprint derives the cookieless visitor id from the environment. Missing
// attributes contribute their zero value instead of failing.
func Fingerprint(env Environment) string {
	lang := env.Language
	if lang == "" {
		lang = "unknown"
	}
	platform := env.Platform
	if platform == "" {
		platform = "unknown"
	}

	parts := []string{
		lang,
		platform,
		strconv.Itoa(env.ScreenWidth),
		strconv.Itoa(env.ScreenHeight),
		strconv.Itoa(env.ColorDepth + env.PixelDepth),
		storageFlags(env),
		strconv.Itoa(env.HardwareConcurrency),
		strings.Join(env.MimeTypes, ""),
		strings.Join(env.Plugins, ""),
	}
	if env.JavaEnabled != nil {
		parts = append(parts, strconv.FormatBool(*env.JavaEnabled))
	}
	return hashHex(strings.Join(parts, "|"))
}

func storageFlags(env Environment) string {
	return strconv.FormatBool(env.LocalStorage) + strconv.FormatBool(env.IndexedDB) + strconv.FormatBool(env.CookieEnabled)
}

// identityManager owns the durable visitor id.
type identityManager struct {
	host       Host
	clock      Clock
	cookieless bool
	domain     string
}

func newIdentityManager(host Host, clock Clock, cfg Config) *identityManager {
	m := &identityManager{host: host, clock: clock, cookieless: cfg.Cookieless}
	if cfg.CrossDomain {
		if u, err := url.Parse(host.URL()); err == nil {
			m.domain = u.Hostname()
		}
	}
	return m
}

// GetOrCreateVisitorID returns the visitor id, creating and persisting it on
// first use in cookie mode. When the tag has been switched to cookieless mode
// an existing cookie is adopted for this visit and then removed.
func (m *identityManager) GetOrCreateVisitorID() string {
	existing, ok := m.host.Cookie(VisitorCookie)
	if m.cookieless {
		if ok && existing != "" {
			m.host.RemoveCookie(VisitorCookie)
			return existing
		}
		return Fingerprint(m.host.Environment())
	}
	if ok && existing != "" {
		return existing
	}

	id := uuid.NewString()
	m.host.SetCookie(Cookie{
		Name:    VisitorCookie,
		Value:   id,
		Expires: m.clock.Now().Add(visitorRetention),
		Path:    "/",
		Domain:  m.domain,
	})
	return id
}

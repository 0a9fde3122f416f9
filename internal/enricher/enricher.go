package enricher

import (
	"net"
	"time"

	"github.com/mssola/useragent"
	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

type Enricher struct {
	geoIP *geoip2.Reader
	now   func() time.Time
}

func NewEnricher(geoIPPath string) *Enricher {
	var geoIP *geoip2.Reader
	if geoIPPath != "" {
		r, err := geoip2.Open(geoIPPath)
		if err != nil {
			log.Warn().Err(err).Str("path", geoIPPath).Msg("GeoIP database unavailable, skipping geo enrichment")
		} else {
			geoIP = r
		}
	}

	return &Enricher{
		geoIP: geoIP,
		now:   time.Now,
	}
}

// Enrichment is the request-level context attached to every collected event.
type Enrichment struct {
	ServerTimestamp int64  `json:"server_timestamp"`
	Browser         string `json:"browser"`
	BrowserVersion  string `json:"browser_version"`
	OS              string `json:"os"`
	DeviceType      string `json:"device_type"`
	Country         string `json:"country"`
	City            string `json:"city"`
	ClientIP        string `json:"client_ip,omitempty"`
}

func (e *Enricher) Enrich(userAgentString, clientIP string) Enrichment {
	enriched := Enrichment{
		ServerTimestamp: e.now().UnixMilli(),
		ClientIP:        clientIP,
	}

	if userAgentString != "" {
		ua := useragent.New(userAgentString)
		enriched.Browser, enriched.BrowserVersion = ua.Browser()
		enriched.OS = ua.OS()
		enriched.DeviceType = getDeviceType(ua)
	}

	if e.geoIP != nil && clientIP != "" {
		if ip := net.ParseIP(clientIP); ip != nil {
			record, err := e.geoIP.City(ip)
			if err == nil {
				enriched.Country = record.Country.IsoCode
				if name, ok := record.City.Names["en"]; ok {
					enriched.City = name
				}
			}
		}
	}

	return enriched
}

func getDeviceType(ua *useragent.UserAgent) string {
	if ua.Bot() {
		return "bot"
	}
	if ua.Mobile() {
		return "mobile"
	}
	return "desktop"
}

// ClientIP strips the port from a request's remote address. RealIP middleware
// has already replaced it with the forwarded address when one was sent.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func (e *Enricher) Close() {
	if e.geoIP != nil {
		e.geoIP.Close()
	}
}

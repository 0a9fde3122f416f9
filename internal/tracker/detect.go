package tracker

import (
	"errors"
	"regexp"
	"strings"

	"github.com/mssola/useragent"
)

var ErrAutomatedAgent = errors.New("automated user agent")

// Device classes reported by the config getter.
const (
	DevicePhone   = "phone"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

var botPattern = regexp.MustCompile(`(?i)(preview|funnelytics|crawl|hexometer|curl|lynx|ptst|nuhk|googlebot|googlesecurityscanner|gtmetrix|slurp|ask jeeves/teoma|ia_archiver|google web preview|mediapartners-google|baiduspider|ezooms|yahooseeker|altavista|mercator|scooter|infoseek|ultraseek|lycos|wget|yadirectfetcher|magpie-crawler|nutch crawler|cms crawler|domnutch|netseer|digincore|fr-crawler|wesee|aliasio|bingpreview|headlesschrome|facebookexternalhit|facebookplatform|facebookexternalua|bot|crawler|sp(i|y)der|search|worm|fetch|nutch)`)

var (
	tabletPattern = regexp.MustCompile(`ipad|tablet|kindle|playbook|silk`)
	phonePattern  = regexp.MustCompile(`mobi|ipod|phone|blackberry|opera mini|fennec|minimo|symbian|psp|nintendo ds|archos|skyfire|puffin|blazer|bolt|gobrowser|iris|maemo|semc|teashark|uzard`)
)

// isAutomated reports whether the page is being loaded by a crawler, a
// headless browser or a visitor who opted out through the URL.
func isAutomated(env Environment, pageURL string) bool {
	if env.Webdriver || strings.Contains(pageURL, "disable_tracking") {
		return true
	}
	if botPattern.MatchString(env.UserAgent) {
		return true
	}
	return env.UserAgent != "" && useragent.New(env.UserAgent).Bot()
}

// deviceType classifies a user agent as phone, tablet or desktop.
func deviceType(ua string) string {
	ua = strings.ToLower(ua)
	if tabletPattern.MatchString(ua) || isTabletAndroid(ua) || isTouchWindows(ua) || isTabletPuffin(ua) {
		return DeviceTablet
	}
	if phonePattern.MatchString(ua) {
		return DevicePhone
	}
	return DeviceDesktop
}

func isTabletAndroid(ua string) bool {
	i := strings.Index(ua, "android")
	return i >= 0 && !strings.Contains(ua[i:], "mobile")
}

func isTouchWindows(ua string) bool {
	i := strings.Index(ua, "windows")
	if i < 0 {
		return false
	}
	rest := ua[i:]
	return strings.Contains(rest, "touch") && !strings.Contains(rest, "phone")
}

func isTabletPuffin(ua string) bool {
	i := strings.Index(ua, "puffin")
	if i < 0 {
		return false
	}
	rest := ua[i:]
	return !strings.Contains(rest, "ip") && !strings.Contains(rest, "ap") && !strings.Contains(rest, "wp")
}

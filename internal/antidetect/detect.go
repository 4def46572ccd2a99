// internal/antidetect/detect.go
package antidetect

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BlockKind classifies a page that denies access
type BlockKind string

const (
	NotBlocked    BlockKind = ""
	AccessDenied  BlockKind = "access_denied"
	ChallengePage BlockKind = "challenge"
	CaptchaWall   BlockKind = "captcha"
	RateLimited   BlockKind = "rate_limited"
)

// CaptchaType represents the type of CAPTCHA
type CaptchaType int

const (
	NoCaptcha CaptchaType = iota
	RecaptchaV2
	RecaptchaV3
	HCaptcha
	FunCaptcha
)

// String returns the captcha type name
func (t CaptchaType) String() string {
	switch t {
	case RecaptchaV2:
		return "recaptcha_v2"
	case RecaptchaV3:
		return "recaptcha_v3"
	case HCaptcha:
		return "hcaptcha"
	case FunCaptcha:
		return "funcaptcha"
	default:
		return "none"
	}
}

var deniedPatterns = []string{
	"access denied",
	"access to this page has been denied",
	"you don't have permission to access",
	"request blocked",
	"your ip has been blocked",
	"pardon our interruption",
	"sorry, you have been blocked",
}

var challengePatterns = []string{
	"checking your browser",
	"just a moment...",
	"verify you are human",
	"please verify you are a human",
	"press & hold",
	"enable javascript and cookies to continue",
}

// challengeMarkers are matched against raw markup
var challengeMarkers = []string{
	"cf-browser-verification",
	"cf-challenge",
	"_px-captcha",
	"/cdn-cgi/challenge-platform/",
}

var rateLimitPatterns = []string{
	"too many requests",
	"rate limit exceeded",
}

// DetectCaptcha detects a CAPTCHA widget in HTML content
func DetectCaptcha(html string) (CaptchaType, bool) {
	html = strings.ToLower(html)

	if strings.Contains(html, "recaptcha/api.js?render=") {
		return RecaptchaV3, true
	}
	if strings.Contains(html, "g-recaptcha") {
		return RecaptchaV2, true
	}
	if strings.Contains(html, "h-captcha") {
		return HCaptcha, true
	}
	if strings.Contains(html, "funcaptcha") || strings.Contains(html, "arkoselabs") {
		return FunCaptcha, true
	}
	return NoCaptcha, false
}

// SiteKey returns the data-sitekey of the first captcha widget, if any
func SiteKey(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	key, _ := doc.Find("[data-sitekey]").First().Attr("data-sitekey")
	return key
}

// Detect reports whether the page denies access. Only the title and the
// visible body text are inspected for phrases so product copy embedded in
// scripts does not trigger false positives.
func Detect(html, title string) (BlockKind, bool) {
	lowerTitle := strings.ToLower(strings.TrimSpace(title))
	text := lowerTitle
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
		doc.Find("script, style, noscript").Remove()
		text += " " + strings.ToLower(doc.Find("body").Text())
	}

	for _, p := range rateLimitPatterns {
		if strings.Contains(text, p) {
			return RateLimited, true
		}
	}
	for _, p := range deniedPatterns {
		if strings.Contains(text, p) {
			return AccessDenied, true
		}
	}
	for _, p := range challengePatterns {
		if strings.Contains(text, p) {
			return ChallengePage, true
		}
	}
	lowerHTML := strings.ToLower(html)
	for _, m := range challengeMarkers {
		if strings.Contains(lowerHTML, m) {
			return ChallengePage, true
		}
	}
	if _, ok := DetectCaptcha(html); ok {
		return CaptchaWall, true
	}
	return NotBlocked, false
}

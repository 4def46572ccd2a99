// internal/antidetect/detect_test.go
package antidetect

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		html    string
		title   string
		kind    BlockKind
		blocked bool
	}{
		{"product page", `<html><body><h1>Linen shirt</h1><p>In stock</p></body></html>`, "Linen shirt", NotBlocked, false},
		{"denied title", `<html><body>nothing here</body></html>`, "Access Denied", AccessDenied, true},
		{"denied body", `<html><body><h1>Sorry, you have been blocked</h1></body></html>`, "Oops", AccessDenied, true},
		{"challenge", `<html><body><p>Checking your browser before accessing</p></body></html>`, "Just a moment...", ChallengePage, true},
		{"challenge marker", `<html><body><div id="cf-challenge-running"></div></body></html>`, "", ChallengePage, true},
		{"rate limited", `<html><body>Too Many Requests</body></html>`, "429", RateLimited, true},
		{"captcha wall", `<html><body><div class="g-recaptcha" data-sitekey="k"></div></body></html>`, "Verify", CaptchaWall, true},
		{"phrase only in script", `<html><body><script>var msg = "access denied";</script><p>ok</p></body></html>`, "Shop", NotBlocked, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, blocked := Detect(tt.html, tt.title)
			if blocked != tt.blocked || kind != tt.kind {
				t.Errorf("Detect() = (%q, %v), want (%q, %v)", kind, blocked, tt.kind, tt.blocked)
			}
		})
	}
}

func TestDetectCaptcha(t *testing.T) {
	tests := []struct {
		html string
		want CaptchaType
	}{
		{`<div class="g-recaptcha" data-sitekey="abc"></div>`, RecaptchaV2},
		{`<script src="https://www.google.com/recaptcha/api.js?render=abc"></script>`, RecaptchaV3},
		{`<div class="h-captcha" data-sitekey="abc"></div>`, HCaptcha},
		{`<iframe src="https://client-api.arkoselabs.com/fc"></iframe>`, FunCaptcha},
		{`<form><input name="q"></form>`, NoCaptcha},
	}
	for _, tt := range tests {
		got, found := DetectCaptcha(tt.html)
		if got != tt.want || found != (tt.want != NoCaptcha) {
			t.Errorf("DetectCaptcha(%q) = %s, %v", tt.html, got, found)
		}
	}
}

func TestSiteKey(t *testing.T) {
	if got := SiteKey(`<div class="h-captcha" data-sitekey="site-123"></div>`); got != "site-123" {
		t.Errorf("SiteKey() = %q", got)
	}
	if got := SiteKey(`<div></div>`); got != "" {
		t.Errorf("SiteKey() = %q, want empty", got)
	}
}

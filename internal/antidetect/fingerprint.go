// internal/antidetect/fingerprint.go
package antidetect

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
)

// Viewport represents screen dimensions
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// WebGLProfile is a plausible GPU vendor/renderer pair
type WebGLProfile struct {
	Vendor   string `json:"vendor"`
	Renderer string `json:"renderer"`
}

// Profile is the browser identity presented for one browser context.
// All of its parts are chosen together so they stay consistent.
type Profile struct {
	UserAgent   string       `json:"user_agent"`
	Platform    string       `json:"platform"`
	Languages   []string     `json:"languages"`
	Viewport    Viewport     `json:"viewport"`
	WebGL       WebGLProfile `json:"webgl"`
	CanvasNoise int          `json:"canvas_noise"`
	HardwareCPU int          `json:"hardware_concurrency"`
}

// AcceptLanguage renders Languages as an Accept-Language header value
func (p Profile) AcceptLanguage() string {
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", lang, 1.0-0.1*float64(i)))
	}
	return strings.Join(parts, ",")
}

type uaPlatform struct {
	userAgent string
	platform  string
}

func getDefaultUserAgents() []uaPlatform {
	return []uaPlatform{
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", "Win32"},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36", "Win32"},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", "MacIntel"},
		{"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36", "Linux x86_64"},
	}
}

func getWebGLProfiles() []WebGLProfile {
	return []WebGLProfile{
		{Vendor: "Google Inc. (Intel)", Renderer: "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{Vendor: "Google Inc. (NVIDIA)", Renderer: "ANGLE (NVIDIA, NVIDIA GeForce GTX 1660 Ti Direct3D11 vs_5_0 ps_5_0, D3D11)"},
		{Vendor: "Google Inc. (AMD)", Renderer: "ANGLE (AMD, AMD Radeon RX 580 Series Direct3D11 vs_5_0 ps_5_0, D3D11)"},
	}
}

func getCommonViewports() []Viewport {
	return []Viewport{
		{1920, 1080}, {1366, 768}, {1536, 864}, {1440, 900}, {1280, 720},
	}
}

// NewProfile picks a random consistent browser identity
func NewProfile(rng *rand.Rand, languages []string) Profile {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	if len(languages) == 0 {
		languages = []string{"en-US", "en"}
	}
	agents := getDefaultUserAgents()
	ua := agents[rng.Intn(len(agents))]
	webgl := getWebGLProfiles()
	viewports := getCommonViewports()

	return Profile{
		UserAgent:   ua.userAgent,
		Platform:    ua.platform,
		Languages:   append([]string(nil), languages...),
		Viewport:    viewports[rng.Intn(len(viewports))],
		WebGL:       webgl[rng.Intn(len(webgl))],
		CanvasNoise: 1 + rng.Intn(9),
		HardwareCPU: []int{4, 8, 12, 16}[rng.Intn(4)],
	}
}

// FingerprintScripts returns the scripts installed once per browser context,
// before any page script runs.
func FingerprintScripts(p Profile) []string {
	langs, _ := json.Marshal(p.Languages)
	platform, _ := json.Marshal(p.Platform)
	vendor, _ := json.Marshal(p.WebGL.Vendor)
	renderer, _ := json.Marshal(p.WebGL.Renderer)

	return []string{
		"Object.defineProperty(navigator, 'webdriver', { get: () => undefined });",
		"window.chrome = window.chrome || { runtime: {} };",
		fmt.Sprintf("Object.defineProperty(navigator, 'languages', { get: () => %s });", langs),
		fmt.Sprintf("Object.defineProperty(navigator, 'platform', { get: () => %s });", platform),
		fmt.Sprintf("Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => %d });", p.HardwareCPU),
		"Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });",
		`(() => {
  const query = window.navigator.permissions && window.navigator.permissions.query;
  if (!query) return;
  window.navigator.permissions.query = (parameters) =>
    parameters.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : query(parameters);
})();`,
		fmt.Sprintf(`(() => {
  const patch = (proto) => {
    const getParameter = proto.getParameter;
    proto.getParameter = function (param) {
      if (param === 37445) return %s;
      if (param === 37446) return %s;
      return getParameter.call(this, param);
    };
  };
  if (window.WebGLRenderingContext) patch(WebGLRenderingContext.prototype);
  if (window.WebGL2RenderingContext) patch(WebGL2RenderingContext.prototype);
})();`, vendor, renderer),
		fmt.Sprintf(`(() => {
  const toDataURL = HTMLCanvasElement.prototype.toDataURL;
  HTMLCanvasElement.prototype.toDataURL = function (...args) {
    const ctx = this.getContext('2d');
    if (ctx && this.width > 0 && this.height > 0) {
      const image = ctx.getImageData(0, 0, this.width, this.height);
      for (let i = 0; i < image.data.length; i += 4 * %d) {
        image.data[i] = image.data[i] ^ 1;
      }
      ctx.putImageData(image, 0, 0);
    }
    return toDataURL.apply(this, args);
  };
})();`, 97+p.CanvasNoise),
	}
}

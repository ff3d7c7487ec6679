package browser

import "strconv"

// DefaultUserAgent is a generic desktop identity without a browser version.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"

// Options configures a browser launch.
type Options struct {
	Headless     bool
	Minimal      bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	JSHeapMB     int
	ExecPath     string
}

// DefaultOptions returns the ultra-minimal headless profile.
func DefaultOptions() Options {
	return Options{
		Headless:     true,
		Minimal:      true,
		UserAgent:    DefaultUserAgent,
		WindowWidth:  800,
		WindowHeight: 600,
		JSHeapMB:     512,
	}
}

// Flag is a single Chrome command-line switch. An empty Value renders as a
// bare boolean switch.
type Flag struct {
	Name  string
	Value string
}

// Flags renders the command-line switches for opts. Every driver applies this
// exact list so the launch profile does not drift between drivers.
func (o Options) Flags() []Flag {
	width, height := o.WindowWidth, o.WindowHeight
	if width <= 0 {
		width = 800
	}
	if height <= 0 {
		height = 600
	}
	ua := o.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	flags := []Flag{
		{Name: "no-sandbox"},
		{Name: "disable-dev-shm-usage"},
		{Name: "disable-gpu"},
		{Name: "window-size", Value: strconv.Itoa(width) + "," + strconv.Itoa(height)},
		{Name: "user-agent", Value: ua},
	}
	if o.Headless {
		flags = append(flags, Flag{Name: "headless", Value: "new"})
	}
	if !o.Minimal {
		return flags
	}

	flags = append(flags,
		Flag{Name: "disable-software-rasterizer"},
		Flag{Name: "disable-extensions"},
		Flag{Name: "disable-plugins"},
		Flag{Name: "blink-settings", Value: "imagesEnabled=false"},
		Flag{Name: "memory-pressure-off"},
		Flag{Name: "disable-background-timer-throttling"},
		Flag{Name: "disable-renderer-backgrounding"},
		Flag{Name: "disable-backgrounding-occluded-windows"},
		Flag{Name: "disable-features", Value: "TranslateUI,VizDisplayCompositor,AudioServiceOutOfProcess"},
		Flag{Name: "disable-ipc-flooding-protection"},
		Flag{Name: "disable-background-networking"},
		Flag{Name: "disable-sync"},
		Flag{Name: "disable-default-apps"},
		Flag{Name: "no-first-run"},
		Flag{Name: "disable-client-side-phishing-detection"},
		Flag{Name: "disable-component-update"},
		Flag{Name: "disable-domain-reliability"},
		Flag{Name: "disable-background-mode"},
		Flag{Name: "renderer-process-limit", Value: "1"},
		Flag{Name: "media-cache-size", Value: "1"},
		Flag{Name: "disk-cache-size", Value: "1"},
		Flag{Name: "aggressive-cache-discard"},
		Flag{Name: "disable-application-cache"},
		Flag{Name: "disable-site-isolation-trials"},
		Flag{Name: "mute-audio"},
	)
	if o.JSHeapMB > 0 {
		flags = append(flags, Flag{Name: "js-flags", Value: "--max-old-space-size=" + strconv.Itoa(o.JSHeapMB)})
	}
	return flags
}

package browser

import (
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/webrender/webrender/internal/config"
)

// flag is one Chrome command line switch. A false bool removes a switch
// that chromedp would otherwise pass by default.
type flag struct {
	name  string
	value interface{}
}

// allocatorFlags derives the Chrome switches for cfg.
func allocatorFlags(cfg config.BrowserConfig, goos string) []flag {
	flags := []flag{
		{"headless", cfg.Headless},
		{"enable-automation", false},
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
		{"disable-gpu", cfg.Headless},
		{"hide-scrollbars", true},
		{"mute-audio", true},
	}

	if cfg.IgnoreTLSErrors {
		flags = append(flags,
			flag{"ignore-certificate-errors", true},
			flag{"allow-insecure-localhost", true},
		)
	}
	if cfg.DisableCache {
		flags = append(flags,
			flag{"disk-cache-size", "0"},
			flag{"media-cache-size", "0"},
		)
	}

	// Running inside containers as root needs these.
	if goos == "linux" {
		flags = append(flags,
			flag{"no-sandbox", true},
			flag{"disable-dev-shm-usage", true},
			flag{"disable-setuid-sandbox", true},
		)
	}

	// Custom arguments come last so they can override anything above.
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags = append(flags, flag{name, value})
		} else {
			flags = append(flags, flag{name, true})
		}
	}
	return flags
}

// DefaultAllocatorOptions assembles the exec allocator options for cfg.
func DefaultAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range allocatorFlags(cfg, runtime.GOOS) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}

	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if w, h := cfg.Viewport["width"], cfg.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}
	return opts
}

package stealth

import (
	"testing"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersona_IsZero(t *testing.T) {
	assert.True(t, Persona{}.IsZero())
	assert.False(t, Persona{Timezone: "Europe/Berlin"}.IsZero())
	assert.False(t, Persona{Languages: []string{"de"}}.IsZero())
}

func TestPersona_AcceptLanguage(t *testing.T) {
	assert.Equal(t, "", Persona{}.AcceptLanguage())
	assert.Equal(t, "en-US", Persona{Languages: []string{"en-US"}}.AcceptLanguage())
	assert.Equal(t, "en-US,en;q=0.9,de;q=0.8", Persona{Languages: []string{"en-US", "en", "de"}}.AcceptLanguage())
}

func TestApply(t *testing.T) {
	assert.Empty(t, Apply(Persona{}))

	tasks := Apply(Persona{
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) webrender-test",
		Platform:  "Linux x86_64",
		Languages: []string{"de-DE", "de"},
		Timezone:  "Europe/Berlin",
		Locale:    "de-DE",
	})
	require.Len(t, tasks, 3)

	ua, ok := tasks[0].(*emulation.SetUserAgentOverrideParams)
	require.True(t, ok)
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64) webrender-test", ua.UserAgent)
	assert.Equal(t, "de-DE,de;q=0.9", ua.AcceptLanguage)
	assert.Equal(t, "Linux x86_64", ua.Platform)

	tz, ok := tasks[1].(*emulation.SetTimezoneOverrideParams)
	require.True(t, ok)
	assert.Equal(t, "Europe/Berlin", tz.TimezoneID)

	locale, ok := tasks[2].(*emulation.SetLocaleOverrideParams)
	require.True(t, ok)
	assert.Equal(t, "de-DE", locale.Locale)

	// Timezone alone does not touch the user agent.
	only := Apply(Persona{Timezone: "UTC"})
	require.Len(t, only, 1)
	_, ok = only[0].(*emulation.SetTimezoneOverrideParams)
	assert.True(t, ok)
}

func TestApply_LanguagesWithoutUserAgent(t *testing.T) {
	p := Persona{Languages: []string{"fr-FR", "fr"}, Platform: "Win32"}

	tasks := Apply(p)
	require.Len(t, tasks, 1)
	_, ok := tasks[0].(chromedp.ActionFunc)
	assert.True(t, ok, "user agent is looked up from the browser")

	ua := userAgentOverride(p, "Mozilla/5.0 HeadlessChrome/140.0")
	assert.Equal(t, "Mozilla/5.0 HeadlessChrome/140.0", ua.UserAgent)
	assert.Equal(t, "fr-FR,fr;q=0.9", ua.AcceptLanguage)
	assert.Equal(t, "Win32", ua.Platform)
}

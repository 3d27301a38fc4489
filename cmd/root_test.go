package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webrender/webrender/api/schemas"
	"github.com/webrender/webrender/internal/config"
)

// executeCommand runs a fresh command tree with args and returns its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile = ""
	t.Cleanup(func() { cfgFile = "" })

	root := newRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "webrender version "+Version)
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestRootCmd_InvalidConfigFailsBeforeRunning(t *testing.T) {
	t.Setenv("WEBRENDER_RENDER_COMPLETION", "whenever")
	_, err := executeCommand(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `got "whenever"`)
}

func TestRootCmd_MissingExplicitConfigFile(t *testing.T) {
	_, err := executeCommand(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

// loadConfig runs initializeConfig the way the root command does and
// returns the resulting configuration.
func loadConfig(t *testing.T, cmd *cobra.Command, args ...string) *config.Config {
	t.Helper()
	require.NoError(t, cmd.ParseFlags(args))
	v := viper.New()
	config.SetDefaults(v)
	require.NoError(t, initializeConfig(cmd, v))
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	return cfg
}

func TestInitializeConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webrender.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  host: 127.0.0.1
render:
  completion: idle-network
  idle_timeout: 500ms
browser:
  headless: false
`), 0o600))

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	t.Run("file", func(t *testing.T) {
		cfg := loadConfig(t, newServeCmd())
		assert.Equal(t, 9000, cfg.Server().Port)
		assert.Equal(t, "127.0.0.1", cfg.Server().Host)
		assert.Equal(t, config.CompletionIdleNetwork, cfg.Render().Completion)
		assert.Equal(t, 500*time.Millisecond, cfg.Render().IdleTimeout)
		assert.False(t, cfg.Browser().Headless)
	})

	t.Run("env over file", func(t *testing.T) {
		t.Setenv("WEBRENDER_SERVER_PORT", "9100")
		cfg := loadConfig(t, newServeCmd())
		assert.Equal(t, 9100, cfg.Server().Port)
	})

	t.Run("flag over env", func(t *testing.T) {
		t.Setenv("WEBRENDER_SERVER_PORT", "9100")
		cfg := loadConfig(t, newServeCmd(), "--port", "9200", "--completion", "explicit-lifecycle", "--chrome-bin", "/opt/chrome")
		assert.Equal(t, 9200, cfg.Server().Port)
		assert.Equal(t, config.CompletionExplicitLifecycle, cfg.Render().Completion)
		assert.Equal(t, "/opt/chrome", cfg.Browser().ExecPath)
	})
}

func TestRenderOptions_Request(t *testing.T) {
	opts := &renderOptions{
		js:      "return 1",
		jsOn:    "load",
		timeout: 5 * time.Second,
		pdfPath: "out.pdf",
		network: true,
		headers: []string{"X-One: 1", "Authorization:Bearer abc"},
	}
	req, err := opts.request([]string{"https://example.com/"})
	require.NoError(t, err)
	assert.Equal(t, schemas.RenderRequest{
		URL:             "https://example.com/",
		JS:              "return 1",
		JSOn:            schemas.JSOnLoad,
		Timeout:         5 * time.Second,
		TakePDFSnapshot: true,
		CaptureNetwork:  true,
		ExtraHTTPHeaders: map[string]string{
			"X-One":         "1",
			"Authorization": "Bearer abc",
		},
	}, req)

	blank, err := (&renderOptions{jsOn: "commit"}).request(nil)
	require.NoError(t, err)
	assert.Empty(t, blank.URL)
	assert.Nil(t, blank.ExtraHTTPHeaders)

	_, err = (&renderOptions{jsOn: "idle"}).request(nil)
	assert.ErrorContains(t, err, "--js-on")

	_, err = (&renderOptions{jsOn: "commit", headers: []string{"no-colon"}}).request(nil)
	assert.ErrorContains(t, err, "--header")

	_, err = (&renderOptions{jsOn: "commit", timeout: -time.Second}).request(nil)
	assert.ErrorContains(t, err, "--timeout")
}

func TestWritePDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.pdf")
	require.NoError(t, writePDF(path, "JVBERi0xLjQ="))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	assert.Error(t, writePDF(path, "not base64!"))
}

func TestConfigFrom(t *testing.T) {
	_, err := configFrom(context.Background())
	assert.Error(t, err)

	want := config.NewDefaultConfig()
	got, err := configFrom(context.WithValue(context.Background(), configKey, want))
	require.NoError(t, err)
	assert.Equal(t, want.Render(), got.Render())
	assert.Equal(t, want.Server().BaseURL(), got.Server().BaseURL())
}

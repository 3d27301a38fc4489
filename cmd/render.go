package cmd

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/webrender/webrender/api/schemas"
	"github.com/webrender/webrender/internal/browser"
	"github.com/webrender/webrender/internal/config"
	"github.com/webrender/webrender/internal/observability"
	"github.com/webrender/webrender/internal/render"
)

// errRenderFailed is returned after a failed render's body was printed.
var errRenderFailed = errors.New("render failed")

type renderOptions struct {
	js      string
	jsOn    string
	timeout time.Duration
	pdfPath string
	network bool
	headers []string
}

func newRenderCmd() *cobra.Command {
	defaults := config.NewDefaultConfig()
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render [url]",
		Short: "Render one page and print the result as JSON",
		Long: `Renders a page once without starting the API. The response body that
POST /render would return is printed on stdout. An empty or missing url
renders about:blank.`,
		Example: `  webrender render https://example.com --js 'return document.title'
  webrender render https://example.com --pdf page.pdf --network`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			req, err := opts.request(args)
			if err != nil {
				return err
			}
			return runRender(cmd, cfg, req, opts.pdfPath)
		},
	}
	addBrowserFlags(cmd, defaults)
	cmd.Flags().StringVar(&opts.js, "js", "", "script body to run in the page; its return value is the result")
	cmd.Flags().StringVar(&opts.jsOn, "js-on", string(schemas.JSOnCommit), "milestone to run the script at: commit, domcontentloaded or load")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "render time budget (render.default_timeout when zero)")
	cmd.Flags().StringVar(&opts.pdfPath, "pdf", "", "write an A4 PDF of the page to this file")
	cmd.Flags().BoolVar(&opts.network, "network", false, "include the network trace (HAR) in the output")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, `extra HTTP header as "Name: value" (repeatable)`)
	return cmd
}

func (o *renderOptions) request(args []string) (schemas.RenderRequest, error) {
	req := schemas.RenderRequest{
		JS:              o.js,
		JSOn:            schemas.JSOn(o.jsOn),
		Timeout:         o.timeout,
		TakePDFSnapshot: o.pdfPath != "",
		CaptureNetwork:  o.network,
	}
	if len(args) == 1 {
		req.URL = args[0]
	}
	if !req.JSOn.Valid() {
		return req, fmt.Errorf("invalid --js-on %q", o.jsOn)
	}
	if o.timeout < 0 {
		return req, errors.New("--timeout must not be negative")
	}
	for _, h := range o.headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return req, fmt.Errorf("invalid --header %q, want \"Name: value\"", h)
		}
		if req.ExtraHTTPHeaders == nil {
			req.ExtraHTTPHeaders = make(map[string]string)
		}
		req.ExtraHTTPHeaders[name] = strings.TrimSpace(value)
	}
	return req, nil
}

func runRender(cmd *cobra.Command, cfg config.Interface, req schemas.RenderRequest, pdfPath string) error {
	ctx := cmd.Context()
	logger := observability.GetLogger()

	var launchErr error
	manager := browser.NewManager(cfg.Browser(), logger,
		browser.WithCreatorVersion(Version),
		// A one-shot render reports launch failures instead of exiting.
		browser.WithFatalHandler(func(err error) { launchErr = err }),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := manager.Release(closeCtx); err != nil {
			logger.Warn("Failed to close the browser.", zap.Error(err))
		}
	}()

	engine := render.NewEngine(manager, cfg.Render(), logger)
	out := engine.Render(ctx, req)
	if launchErr != nil {
		return fmt.Errorf("could not start the browser: %w", launchErr)
	}

	resp := out.Response(req.URL)
	if pdfPath != "" && resp.PDFSnapshot != "" {
		if err := writePDF(pdfPath, resp.PDFSnapshot); err != nil {
			return err
		}
		logger.Info("PDF written.", zap.String("path", pdfPath))
		resp.PDFSnapshot = ""
	}

	enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("could not write result: %w", err)
	}
	if !out.OK() {
		return errRenderFailed
	}
	return nil
}

func writePDF(path, encoded string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("could not decode PDF: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write PDF: %w", err)
	}
	return nil
}

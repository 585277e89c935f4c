package generate

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
)

// EngineChrome is the name of the headless Chrome engine.
const EngineChrome = "chrome"

// ChromeEngine prints documents with headless Chrome over the DevTools
// protocol. The browser is started on first use and shared by every call;
// each document gets its own tab.
type ChromeEngine struct {
	bin             string
	controlURL      string
	localFileAccess bool

	mu      sync.Mutex
	browser *rod.Browser
}

// NewChromeEngine returns an engine that connects to controlURL when set,
// or launches bin (or a discovered Chrome when bin is empty).
func NewChromeEngine(bin, controlURL string, localFileAccess bool) *ChromeEngine {
	return &ChromeEngine{bin: bin, controlURL: controlURL, localFileAccess: localFileAccess}
}

func (e *ChromeEngine) Name() string { return EngineChrome }

func (e *ChromeEngine) connect() (*rod.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.browser != nil {
		if _, err := e.browser.Version(); err == nil {
			return e.browser, nil
		}
		_ = e.browser.Close()
		e.browser = nil
	}

	controlURL := e.controlURL
	if controlURL == "" {
		launch := launcher.New().Headless(true)
		if e.bin != "" {
			launch = launch.Bin(e.bin)
		}
		if e.localFileAccess {
			launch = launch.Set(flags.Flag("allow-file-access-from-files"))
		}
		url, err := launch.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	e.browser = browser
	return browser, nil
}

func (e *ChromeEngine) Render(ctx context.Context, html, outputPath string, opts PageOptions) error {
	width, height, err := opts.Dimensions()
	if err != nil {
		return err
	}
	browser, err := e.connect()
	if err != nil {
		return err
	}

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fmt.Errorf("open tab: %w", err)
	}
	defer page.Close()

	if err := page.SetDocumentContent(html); err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	stream, err := page.PDF(&proto.PagePrintToPDF{
		Landscape:       false, // width and height are already oriented
		PrintBackground: true,
		PaperWidth:      &width,
		PaperHeight:     &height,
		MarginTop:       &opts.MarginTop,
		MarginRight:     &opts.MarginRight,
		MarginBottom:    &opts.MarginBottom,
		MarginLeft:      &opts.MarginLeft,
	})
	if err != nil {
		return fmt.Errorf("print to pdf: %w", err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	if _, err := io.Copy(out, stream); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return out.Close()
}

// Close shuts the browser down if one was started.
func (e *ChromeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser == nil {
		return nil
	}
	err := e.browser.Close()
	e.browser = nil
	return err
}

package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/septivank/webill/internal/config"
	"go.uber.org/zap"
)

// ErrRenderFailed is returned when a document cannot be produced
var ErrRenderFailed = errors.New("document render failed")

const defaultRenderTimeout = 30 * time.Second

// A4 in inches, the unit Chrome expects
const (
	a4WidthInches  = 210 / 25.4
	a4HeightInches = 297 / 25.4
	marginInches   = 15 / 25.4
)

// PDFRenderer converts an HTML document into PDF bytes
type PDFRenderer interface {
	RenderPDF(ctx context.Context, html string) ([]byte, error)
}

// ChromeRenderer renders HTML to PDF through the Chrome DevTools Protocol
type ChromeRenderer struct {
	timeout     time.Duration
	logger      *zap.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewChromeRenderer creates a renderer that launches headless Chrome, or attaches
// to a remote instance when a URL is configured.
func NewChromeRenderer(cfg *config.RenderConfig, logger *zap.Logger) *ChromeRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}

	r := &ChromeRenderer{timeout: timeout, logger: logger}

	if cfg.ChromeRemoteURL != "" {
		r.allocCtx, r.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.ChromeRemoteURL)
		return r
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("font-render-hinting", "none"),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.Flag("no-sandbox", true))
	}
	r.allocCtx, r.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return r
}

// RenderPDF prints html to an A4 PDF
func (r *ChromeRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	if strings.TrimSpace(html) == "" {
		return nil, fmt.Errorf("%w: empty html", ErrRenderFailed)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	browserCtx, browserCancel := chromedp.NewContext(r.allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			r.logger.Debug(fmt.Sprintf(format, args...))
		}),
	)
	defer browserCancel()

	// chromedp contexts do not inherit deadlines from ctx
	stop := context.AfterFunc(ctx, browserCancel)
	defer stop()

	var pdf []byte
	err := chromedp.Run(browserCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(a4WidthInches).
				WithPaperHeight(a4HeightInches).
				WithMarginTop(marginInches).
				WithMarginBottom(marginInches).
				WithMarginLeft(marginInches).
				WithMarginRight(marginInches).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = data
			return nil
		}),
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %v", ErrRenderFailed, r.timeout)
		}
		r.logger.Error("chromedp rendering failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	if len(pdf) == 0 {
		return nil, fmt.Errorf("%w: empty pdf", ErrRenderFailed)
	}

	r.logger.Debug("pdf rendered", zap.Int("bytes", len(pdf)), zap.Duration("duration", time.Since(start)))
	return pdf, nil
}

// Close shuts down the browser allocator
func (r *ChromeRenderer) Close() error {
	if r.allocCancel != nil {
		r.allocCancel()
	}
	return nil
}

// BillRenderer produces bill PDFs
type BillRenderer struct {
	pdf PDFRenderer
}

// NewBillRenderer creates a BillRenderer on top of a PDF backend
func NewBillRenderer(pdf PDFRenderer) *BillRenderer {
	return &BillRenderer{pdf: pdf}
}

// RenderBill builds the bill HTML and prints it
func (r *BillRenderer) RenderBill(ctx context.Context, b Bill) ([]byte, error) {
	html, err := BillHTML(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	return r.pdf.RenderPDF(ctx, html)
}

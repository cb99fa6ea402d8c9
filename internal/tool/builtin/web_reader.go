package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/localhive/localhive/internal/tool"
	"github.com/localhive/localhive/internal/util"
)

const (
	webReaderTimeout      = 15 * time.Second
	webReaderMaxBody      = 2 << 20 // 2MB
	webReaderMaxRunes     = 8000    // truncate to keep tool output inside the model context
	webReaderUserAgent    = "LocalHive/0.1 (Web Reader)"
	webReaderMaxRedirects = 10
)

// webReaderClient is a dedicated HTTP client with explicit timeout and
// redirect limit, safer than http.DefaultClient.
var webReaderClient = &http.Client{
	Timeout: webReaderTimeout,
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		if len(via) >= webReaderMaxRedirects {
			return fmt.Errorf("exceeded %d redirects", webReaderMaxRedirects)
		}
		return nil
	},
}

// WebReaderTool reads and extracts the text content of a web page, giving
// worker agents a research capability.
type WebReaderTool struct{}

func NewWebReaderTool() *WebReaderTool { return &WebReaderTool{} }

func (t *WebReaderTool) Name() string { return "web_reader" }
func (t *WebReaderTool) Description() string {
	return "Read the main text content of a web page by URL. Returns the page title and body text."
}

func (t *WebReaderTool) Init(_ context.Context) error { return nil }
func (t *WebReaderTool) Close() error                 { return nil }

func (t *WebReaderTool) Execute(ctx context.Context, args map[string]string) (tool.Result, error) {
	if err := tool.RequireArgs(args, "url"); err != nil {
		return tool.Errorf(t.Name(), "%v", err), nil
	}
	url := strings.TrimSpace(args["url"])
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return tool.Errorf(t.Name(), "url must start with http:// or https://"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return tool.Errorf(t.Name(), "request creation failed: %v", err), nil
	}
	req.Header.Set("User-Agent", webReaderUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := webReaderClient.Do(req)
	if err != nil {
		return tool.Errorf(t.Name(), "request failed: %v", err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return tool.Errorf(t.Name(), "HTTP %d: %s", resp.StatusCode, resp.Status), nil
	}

	limited := io.LimitReader(resp.Body, webReaderMaxBody)
	contentType := resp.Header.Get("Content-Type")
	ctLower := strings.ToLower(contentType)

	if strings.Contains(ctLower, "text/plain") {
		raw, _ := io.ReadAll(limited)
		return tool.OK(t.Name(), util.TruncateRunes(string(raw), webReaderMaxRunes)), nil
	}
	if !strings.Contains(ctLower, "text/html") && !strings.Contains(ctLower, "application/xhtml") {
		return tool.Errorf(t.Name(), "unsupported content type: %s", contentType), nil
	}

	// Auto-detect charset (BOM, meta tag, Content-Type header) and
	// transcode to UTF-8 before parsing.
	utf8Reader, err := charset.NewReader(limited, contentType)
	if err != nil {
		utf8Reader = limited
	}

	title, text, err := extractHTMLText(utf8Reader)
	if err != nil {
		return tool.Errorf(t.Name(), "content parse failed: %v", err), nil
	}

	var sb strings.Builder
	if title != "" {
		fmt.Fprintf(&sb, "Title: %s\n\n", title)
	}
	sb.WriteString(util.TruncateRunes(text, webReaderMaxRunes))
	return tool.OK(t.Name(), sb.String()), nil
}

// extractHTMLText walks the parsed document collecting the title and the
// visible text, skipping script/style/nav chrome.
func extractHTMLText(r io.Reader) (title, text string, err error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "nav", "header", "footer", "iframe":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				sb.WriteString(s)
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, sb.String(), nil
}

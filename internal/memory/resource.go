package memory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// MaxResourceBytes caps how much of a resource is read. Callers that stage
// content for the engine should reject anything larger up front.
const MaxResourceBytes = 4 << 20

const defaultFetchTimeout = 30 * time.Second

// resourceLoader resolves resource locators to text. Supported locators are
// local paths, file:// URLs and http(s):// URLs.
type resourceLoader struct {
	client   *http.Client
	maxBytes int64
}

func newResourceLoader(client *http.Client) *resourceLoader {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &resourceLoader{client: client, maxBytes: MaxResourceBytes}
}

// Load returns the resource's content. Blank content yields ErrEmptyResource.
func (l *resourceLoader) Load(ctx context.Context, locator string) (string, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case strings.HasPrefix(locator, "http://"), strings.HasPrefix(locator, "https://"):
		data, err = l.fetch(ctx, locator)
	case strings.HasPrefix(locator, "file://"):
		u, perr := url.Parse(locator)
		if perr != nil {
			return "", fmt.Errorf("parse %q: %w", locator, perr)
		}
		data, err = l.readFile(u.Path)
	default:
		data, err = l.readFile(locator)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", ErrEmptyResource
	}
	return string(data), nil
}

func (l *resourceLoader) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open resource: %w", err)
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *resourceLoader) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch resource: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetch resource: unexpected HTTP status %d", resp.StatusCode)
	}
	return l.readLimited(resp.Body)
}

func (l *resourceLoader) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read resource: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("resource exceeds %d bytes", l.maxBytes)
	}
	return data, nil
}

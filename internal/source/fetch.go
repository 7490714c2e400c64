package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/net/html"
)

// Fetcher downloads snapshot files listed on an HTML index page.
type Fetcher struct {
	Client *http.Client // http.DefaultClient when nil
	Prefix string       // DefaultPrefix when empty
	Logger *slog.Logger
}

func (f *Fetcher) client() *http.Client {
	if f.Client == nil {
		return http.DefaultClient
	}
	return f.Client
}

func (f *Fetcher) prefix() string {
	if f.Prefix == "" {
		return DefaultPrefix
	}
	return f.Prefix
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

// Fetch downloads into dir every CSV linked from the first table of the page
// at baseURL whose name contains the prefix and is not already in dir. It
// returns the names written. A failed download does not stop the others; the
// failures are returned together.
func (f *Fetcher) Fetch(ctx context.Context, baseURL, dir string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse index url: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	links, err := f.index(ctx, base)
	if err != nil {
		return nil, err
	}

	type pending struct {
		ref  *url.URL
		name string
	}
	var (
		missing []pending
		errs    *multierror.Error
	)
	for _, href := range links {
		ref, err := url.Parse(href)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", href, err))
			continue
		}
		name := path.Base(ref.Path)
		if !strings.Contains(name, f.prefix()) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			continue
		}
		missing = append(missing, pending{ref: ref, name: name})
	}
	if len(missing) == 0 {
		f.logger().Info("no new snapshot files", "url", baseURL)
		return []string{}, errs.ErrorOrNil()
	}
	f.logger().Info("downloading snapshot files", "count", len(missing))

	downloaded := []string{}
	for _, p := range missing {
		n, err := f.download(ctx, base.ResolveReference(p.ref), filepath.Join(dir, p.name))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		f.logger().Info("downloaded snapshot file", "file", p.name, "size", humanize.Bytes(uint64(n)))
		downloaded = append(downloaded, p.name)
	}
	return downloaded, errs.ErrorOrNil()
}

func (f *Fetcher) get(ctx context.Context, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	return resp, nil
}

// index returns the hrefs of the links inside the page's first table.
func (f *Fetcher) index(ctx context.Context, base *url.URL) ([]string, error) {
	resp, err := f.get(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	defer resp.Body.Close()

	links, err := TableLinks(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	return links, nil
}

// TableLinks returns the href of every anchor inside the first <table> of
// the document, in document order. A page without a table has no links.
func TableLinks(r io.Reader) ([]string, error) {
	links := []string{}
	depth := 0
	done := false
	tokenizer := html.NewTokenizer(r)
	for !done {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if err := tokenizer.Err(); !errors.Is(err, io.EOF) {
				return nil, err
			}
			return links, nil
		case html.StartTagToken:
			tok := tokenizer.Token()
			switch tok.Data {
			case "table":
				depth++
			case "a":
				if depth == 0 {
					continue
				}
				for _, attr := range tok.Attr {
					if attr.Key == "href" && attr.Val != "" {
						links = append(links, attr.Val)
					}
				}
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if string(name) == "table" && depth > 0 {
				depth--
				done = depth == 0
			}
		}
	}
	return links, nil
}

// download writes the body at u to dest through a temporary file, so an
// interrupted transfer never leaves a partial snapshot behind.
func (f *Fetcher) download(ctx context.Context, u *url.URL, dest string) (int64, error) {
	resp, err := f.get(ctx, u)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, err
	}
	return n, nil
}

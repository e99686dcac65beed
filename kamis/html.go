package kamis

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"agri-price-api/config"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"
)

// HTMLSource scrapes the public KAMIS market pages, one page per product id.
type HTMLSource struct {
	client      *http.Client
	baseURL     string
	productIDs  []int
	perPage     int
	concurrency int
	userAgent   string
}

func NewHTMLSource(cfg config.KamisConfig) *HTMLSource {
	return NewHTMLSourceWithClient(cfg, &http.Client{Timeout: cfg.Timeout()})
}

func NewHTMLSourceWithClient(cfg config.KamisConfig, client *http.Client) *HTMLSource {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	perPage := cfg.PerPage
	if perPage < 1 {
		perPage = 3000
	}
	return &HTMLSource{
		client:      client,
		baseURL:     cfg.BaseURL,
		productIDs:  cfg.ProductIDs,
		perPage:     perPage,
		concurrency: concurrency,
		userAgent:   cfg.UserAgent,
	}
}

// Fetch emits one batch per product page. A page that cannot be fetched or
// parsed becomes a batch holding a single row error; the run only fails when
// ctx ends, emit fails, or every page failed.
func (s *HTMLSource) Fetch(ctx context.Context, q Query, emit func(Batch) error) error {
	ids := q.ProductIDs
	if len(ids) == 0 {
		ids = s.productIDs
	}

	var (
		mu      sync.Mutex
		failed  int
		lastErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			raws, err := s.fetchProduct(gctx, id)
			if err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				label := fmt.Sprintf("product %d", id)
				mu.Lock()
				defer mu.Unlock()
				failed++
				lastErr = err
				return emit(Batch{
					Label:  label,
					Errors: []RowError{{Format: FormatHTML, Label: label, Reason: err.Error()}},
				})
			}
			if len(raws) == 0 {
				return nil
			}
			b := NormalizeAll(raws[0].Product, raws, q)

			mu.Lock()
			defer mu.Unlock()
			return emit(b)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(ids) > 0 && failed == len(ids) {
		return fmt.Errorf("all %d product pages failed, last: %w", failed, lastErr)
	}
	return nil
}

func (s *HTMLSource) productURL(id int) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid kamis base url: %w", err)
	}
	v := u.Query()
	v.Set("product", strconv.Itoa(id))
	v.Set("per_page", strconv.Itoa(s.perPage))
	u.RawQuery = v.Encode()
	return u.String(), nil
}

func (s *HTMLSource) fetchProduct(ctx context.Context, id int) ([]RawRecord, error) {
	target, err := s.productURL(id)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch product %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch product %d: unexpected status %d", id, resp.StatusCode)
	}

	raws, err := ParseProductPage(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse product %d: %w", id, err)
	}
	return raws, nil
}

// ParseProductPage extracts rows from a KAMIS market page. The product name
// comes from the first <h3>; rows come from the first <table>. A page with
// no table has no rows.
func ParseProductPage(r io.Reader) ([]RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}

	product := strings.TrimSpace(doc.Find("h3").First().Text())
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, nil
	}

	var header []string
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		cells := tr.Find("th")
		if cells.Length() == 0 {
			return true
		}
		cells.Each(func(_ int, th *goquery.Selection) {
			header = append(header, strings.TrimSpace(th.Text()))
		})
		return false
	})
	if len(header) == 0 {
		return nil, nil
	}

	idx := indexHeader(header)
	if missing := idx.missing(product != ""); len(missing) > 0 {
		return nil, fmt.Errorf("table is missing columns: %s", strings.Join(missing, ", "))
	}

	var out []RawRecord
	line := 0
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() == 0 {
			return
		}
		line++
		cells := make([]string, 0, tds.Length())
		tds.Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, td.Text())
		})
		if blank(cells) {
			return
		}
		out = append(out, idx.record(FormatHTML, line, product, cells))
	})
	return out, nil
}

package scraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"grass_farm/internal/shared/logger"
	"grass_farm/proxypool/model"
)

// TableScraper 解析 HTML 表格形式的代理列表：第一列 IP，第二列端口，
// 若存在表头含 "type"/"protocol" 的列则用作 scheme。
type TableScraper struct {
	url    string
	client *http.Client
}

func NewTableScraper(url string) *TableScraper {
	return &TableScraper{
		url: url,
		client: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

func (s *TableScraper) Name() string {
	return s.url
}

func (s *TableScraper) Scrape(ctx context.Context) ([]*model.Proxy, error) {
	l := logger.WithComponent("ProxyPool/Scraper")
	l.Info().Str("source", s.Name()).Msg("Starting scrape...")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", s.Name(), err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page for %s: %w", s.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received non-200 status code (%d) from %s", resp.StatusCode, s.Name())
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for %s: %w", s.Name(), err)
	}

	var proxies []*model.Proxy
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		schemeCol := -1
		table.Find("th").Each(func(i int, th *goquery.Selection) {
			h := strings.ToLower(strings.TrimSpace(th.Text()))
			if strings.Contains(h, "type") || strings.Contains(h, "protocol") {
				schemeCol = i
			}
		})

		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}
			ip := strings.TrimSpace(cells.Eq(0).Text())
			portStr := strings.TrimSpace(cells.Eq(1).Text())
			if net.ParseIP(ip) == nil {
				return
			}
			if _, err := strconv.Atoi(portStr); err != nil {
				l.Warn().Str("ip", ip).Str("port", portStr).Msg("Failed to parse port, skipping.")
				return
			}

			scheme := "http"
			if schemeCol >= 0 && schemeCol < cells.Length() {
				if t := strings.ToLower(strings.TrimSpace(cells.Eq(schemeCol).Text())); strings.HasPrefix(t, "socks5") {
					scheme = "socks5"
				}
			}

			p, err := model.ParseProxy(scheme + "://" + net.JoinHostPort(ip, portStr))
			if err != nil {
				return
			}
			proxies = append(proxies, p)
		})
	})

	proxies = dedupe(proxies)
	l.Info().Int("count", len(proxies)).Str("source", s.Name()).Msg("Scrape finished.")
	return proxies, nil
}

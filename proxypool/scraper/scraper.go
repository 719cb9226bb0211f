package scraper

import (
	"context"
	"strings"

	"grass_farm/proxypool/model"
)

// Scraper 接口定义了从公开代理源抓取代理的行为。
// 实现者只负责抓取和解析，不做可达性检测。
type Scraper interface {
	Scrape(ctx context.Context) ([]*model.Proxy, error)

	// Name 返回抓取器的名称，用于日志记录。
	Name() string
}

// presets 是内置的公开代理表格页面，可以在 sources 里直接写名字。
var presets = map[string]string{
	"ip3366":            "http://www.ip3366.net/?stype=1&page=1",
	"kuaidaili":         "https://www.kuaidaili.com/free/inha/1/",
	"qiyunip":           "https://www.qiyunip.com/freeProxy/1.html",
	"proxydb":           "https://proxydb.net/?protocol=http&protocol=https&protocol=socks5",
	"proxylistdownload": "https://www.proxy-list.download/HTTP",
}

// FromSources 根据逗号分隔的来源列表构造抓取器。
// 来源可以是 presets 中的名字（按 HTML 表格解析），以 "table+" 开头的 URL
// 同样按表格解析，其余 URL 按纯文本列表解析。
func FromSources(sources string) []Scraper {
	var out []Scraper
	for _, src := range strings.Split(sources, ",") {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if u, ok := presets[strings.ToLower(src)]; ok {
			out = append(out, NewTableScraper(u))
			continue
		}
		if rest, ok := strings.CutPrefix(src, "table+"); ok {
			out = append(out, NewTableScraper(rest))
			continue
		}
		out = append(out, NewListScraper(src))
	}
	return out
}

// dedupe keeps the first occurrence of every normalized proxy.
func dedupe(proxies []*model.Proxy) []*model.Proxy {
	seen := make(map[string]struct{}, len(proxies))
	out := proxies[:0]
	for _, p := range proxies {
		key := p.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

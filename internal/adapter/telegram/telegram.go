// Package telegram reads public channels through their t.me/s preview
// pages. No bot token is required; only public channels are reachable.
package telegram

import (
	"context"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/social-monitor/internal/adapter"
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

// DefaultBaseURL is the preview host.
const DefaultBaseURL = "https://t.me"

// DefaultChannels are read when neither the rule nor config names any.
var DefaultChannels = []string{"cryptonews", "blockchain", "defi_news", "nft_news"}

const (
	defaultResults = 100
	maxPages       = 10
)

// Config configures the adapter.
type Config struct {
	BaseURL  string
	Channels []string
}

// Adapter implements monitor.Adapter for public channel previews.
type Adapter struct {
	client *adapter.Client
	cfg    Config
}

// New returns an Adapter.
func New(client *adapter.Client, cfg Config) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Channels) == 0 {
		cfg.Channels = DefaultChannels
	}
	return &Adapter{client: client, cfg: cfg}
}

// Platform implements monitor.Adapter.
func (a *Adapter) Platform() monitor.Platform {
	return monitor.PlatformTelegram
}

// Fetch implements monitor.Adapter. Each channel is paged backwards from
// the newest message until Since, MaxResults or the page cap is reached.
// Term filtering is left to the matcher; previews cannot be searched.
func (a *Adapter) Fetch(ctx context.Context, criteria monitor.Criteria) iter.Seq2[monitor.RawPost, error] {
	return func(yield func(monitor.RawPost, error) bool) {
		channels := criteria.FilterList("channels")
		if len(channels) == 0 {
			channels = a.cfg.Channels
		}
		remaining := criteria.MaxResults
		if remaining <= 0 {
			remaining = defaultResults
		}
		for _, channel := range channels {
			channel = monitor.NormalizeAccount(channel)
			if channel == "" {
				continue
			}
			before := ""
			for page := 0; page < maxPages; page++ {
				msgs, oldest, err := a.page(ctx, channel, before)
				if err != nil {
					yield(monitor.RawPost{}, err)
					return
				}
				stale := false
				// Pages list oldest first; yield newest first.
				for i := len(msgs) - 1; i >= 0; i-- {
					post := msgs[i]
					if !criteria.Since.IsZero() && !post.CreatedAt.IsZero() && post.CreatedAt.Before(criteria.Since) {
						stale = true
						break
					}
					if !yield(post, nil) {
						return
					}
					remaining--
					if remaining == 0 {
						return
					}
				}
				if stale || oldest <= 1 || len(msgs) == 0 {
					break
				}
				before = strconv.Itoa(oldest)
			}
		}
	}
}

func (a *Adapter) page(ctx context.Context, channel, before string) ([]monitor.RawPost, int, error) {
	target := a.cfg.BaseURL + "/s/" + url.PathEscape(channel)
	if before != "" {
		target += "?before=" + url.QueryEscape(before)
	}
	resp, err := a.client.Get(ctx, target, map[string]string{"Accept": "text/html"})
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, 0, a.client.Wrap(err)
	}
	msgs, oldest := ParseMessages(doc, channel)
	return msgs, oldest, nil
}

// ParseMessages extracts posts from a preview page and reports the lowest
// message number seen, which is the cursor for the previous page.
func ParseMessages(doc *goquery.Document, channel string) ([]monitor.RawPost, int) {
	var out []monitor.RawPost
	oldest := 0
	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, s *goquery.Selection) {
		ref, _ := s.Attr("data-post")
		ref = strings.TrimSpace(ref)
		if ref == "" {
			return
		}
		if slash := strings.LastIndex(ref, "/"); slash >= 0 {
			if n, err := strconv.Atoi(ref[slash+1:]); err == nil && (oldest == 0 || n < oldest) {
				oldest = n
			}
		}
		text := strings.TrimSpace(s.Find(".tgme_widget_message_text").First().Text())
		if text == "" {
			return
		}
		author := strings.TrimSpace(s.Find(".tgme_widget_message_owner_name").First().Text())
		if author == "" {
			author = channel
		}
		var created time.Time
		if dt, ok := s.Find(".tgme_widget_message_date time").Attr("datetime"); ok {
			if t, err := time.Parse(time.RFC3339, dt); err == nil {
				created = t.UTC()
			}
		}
		out = append(out, monitor.RawPost{
			Platform:   monitor.PlatformTelegram,
			ExternalID: ref,
			Author:     author,
			Content:    text,
			URL:        "https://t.me/" + ref,
			CreatedAt:  created,
			Engagement: monitor.Engagement{
				Views: ParseCount(s.Find(".tgme_widget_message_views").First().Text()),
			},
		})
	})
	return out, oldest
}

// ParseCount reads abbreviated counters such as "950", "1.2K" or "3M".
func ParseCount(raw string) int {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(raw, "K"):
		mult, raw = 1e3, strings.TrimSuffix(raw, "K")
	case strings.HasSuffix(raw, "M"):
		mult, raw = 1e6, strings.TrimSuffix(raw, "M")
	case strings.HasSuffix(raw, "B"):
		mult, raw = 1e9, strings.TrimSuffix(raw, "B")
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0
	}
	return int(v*mult + 0.5)
}

// Package rss reads RSS and Atom feeds named by a rule's feeds filter or
// the configured defaults.
package rss

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/social-monitor/internal/adapter"
	"github.com/JakeFAU/social-monitor/internal/monitor"
)

const defaultResults = 100

// Config configures the adapter.
type Config struct {
	Feeds []string
}

// Adapter implements monitor.Adapter over feed URLs.
type Adapter struct {
	client *adapter.Client
	cfg    Config
}

// New returns an Adapter.
func New(client *adapter.Client, cfg Config) *Adapter {
	return &Adapter{client: client, cfg: cfg}
}

// Platform implements monitor.Adapter.
func (a *Adapter) Platform() monitor.Platform {
	return monitor.PlatformRSS
}

// Fetch implements monitor.Adapter. Feeds are read in order; items older
// than criteria.Since are skipped.
func (a *Adapter) Fetch(ctx context.Context, criteria monitor.Criteria) iter.Seq2[monitor.RawPost, error] {
	return func(yield func(monitor.RawPost, error) bool) {
		feeds := criteria.FilterList("feeds")
		if len(feeds) == 0 {
			feeds = a.cfg.Feeds
		}
		if len(feeds) == 0 {
			yield(monitor.RawPost{}, adapter.Permanent(monitor.PlatformRSS, "no feeds configured for rule %s", criteria.RuleID))
			return
		}
		remaining := criteria.MaxResults
		if remaining <= 0 {
			remaining = defaultResults
		}
		for _, feedURL := range feeds {
			feed, err := a.load(ctx, feedURL)
			if err != nil {
				yield(monitor.RawPost{}, err)
				return
			}
			for _, item := range feed.Items {
				post, ok := toRawPost(feed, item)
				if !ok {
					continue
				}
				if !criteria.Since.IsZero() && !post.CreatedAt.IsZero() && post.CreatedAt.Before(criteria.Since) {
					continue
				}
				if !yield(post, nil) {
					return
				}
				remaining--
				if remaining == 0 {
					return
				}
			}
		}
	}
}

func (a *Adapter) load(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	resp, err := a.client.Get(ctx, feedURL, map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, a.client.Wrap(ctx.Err())
		}
		return nil, adapter.Permanent(monitor.PlatformRSS, "parse feed %s: %w", feedURL, err)
	}
	return feed, nil
}

func toRawPost(feed *gofeed.Feed, item *gofeed.Item) (monitor.RawPost, bool) {
	if item == nil {
		return monitor.RawPost{}, false
	}
	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = strings.TrimSpace(item.Link)
	}
	if id == "" {
		return monitor.RawPost{}, false
	}
	body := item.Description
	if body == "" {
		body = item.Content
	}
	content := strings.TrimSpace(item.Title)
	if text := plainText(body); text != "" {
		content += "\n\n" + text
	}
	var created time.Time
	switch {
	case item.PublishedParsed != nil:
		created = item.PublishedParsed.UTC()
	case item.UpdatedParsed != nil:
		created = item.UpdatedParsed.UTC()
	}
	return monitor.RawPost{
		Platform:   monitor.PlatformRSS,
		ExternalID: id,
		Author:     author(feed, item),
		Content:    content,
		URL:        item.Link,
		CreatedAt:  created,
	}, true
}

func author(feed *gofeed.Feed, item *gofeed.Item) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	for _, p := range item.Authors {
		if p != nil && p.Name != "" {
			return p.Name
		}
	}
	if feed != nil {
		return feed.Title
	}
	return ""
}

// plainText strips markup from feed HTML fragments.
func plainText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" || !strings.Contains(fragment, "<") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

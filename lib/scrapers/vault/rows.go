package vault

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"vaultsync-backend/lib/catalog"
	"vaultsync-backend/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// flattens whatever markup a selection matched down to its cleaned
// visible text
func selectionText(sel *goquery.Selection) string {
	var text strings.Builder
	for _, node := range sel.Nodes {
		text.WriteString(htmlutil.GetText(node))
	}
	return htmlutil.CleanText(text.String())
}

func resolveURL(base *url.URL, href string) string {
	if base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// pulls the raw catalog rows matching the wanted date text out of a
// rendered page snapshot. a malformed row is skipped, never fatal to
// the batch.
func scrapeRows(ctx context.Context, doc *goquery.Document, base *url.URL, wantDate string) []catalog.RawRow {
	var rows []catalog.RawRow
	doc.Find(rowsSelector).Each(func(_ int, row *goquery.Selection) {
		date := selectionText(row.Find("td.update-date"))
		if date == "" {
			slog.DebugContext(ctx, "skipping row without a date cell")
			return
		}
		if date != wantDate {
			return
		}

		titleLink := row.Find("td.update-title a").First()
		title := selectionText(titleLink)
		productURL := titleLink.AttrOr("href", "")
		downloadLink := row.Find("td.update-actions a.download").First().AttrOr("href", "")

		if title == "" || productURL == "" || downloadLink == "" {
			slog.WarnContext(ctx, "skipping malformed catalog row",
				"date", date,
				"title", title,
				"has_product_url", productURL != "",
				"has_download_link", downloadLink != "",
			)
			return
		}

		rows = append(rows, catalog.RawRow{
			ID:           row.AttrOr("data-entry-id", ""),
			Title:        title,
			Date:         date,
			DownloadLink: resolveURL(base, downloadLink),
			ProductURL:   resolveURL(base, productURL),
		})
	})
	return rows
}

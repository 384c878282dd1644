package catalog

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
)

var versionToken = regexp.MustCompile(`\bv\d+(\.\d+){0,3}\b`)

// splits a product title into its display name and version, e.g.
// "Plugin X v2.3.1" gives ("Plugin X", "2.3.1"). titles without a
// version token come back with an empty version.
func SplitVersion(title string) (name, version string) {
	title = strings.TrimSpace(title)

	loc := versionToken.FindStringIndex(title)
	if loc == nil {
		return title, ""
	}

	version = strings.TrimPrefix(title[loc[0]:loc[1]], "v")
	name = strings.Join(strings.Fields(title[:loc[0]]+title[loc[1]:]), " ")
	return name, version
}

// the slug is the last non-empty path segment of the product URL and
// the product id comes from its product_id query parameter. malformed
// URLs degrade to empty values rather than failing the row.
func ParseProductURL(raw string) (slug, productID string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	slug = segments[len(segments)-1]
	productID = u.Query().Get("product_id")
	return slug, productID
}

// turns scraped rows into validated entries. unversioned rows are
// dropped here and never reach the download stage.
func Normalize(ctx context.Context, rows []RawRow) []Entry {
	var entries []Entry
	for _, row := range rows {
		name, version := SplitVersion(row.Title)
		if version == "" {
			slog.DebugContext(ctx, "dropping unversioned row", "title", row.Title)
			continue
		}

		slug, productID := ParseProductURL(row.ProductURL)

		id := row.ID
		if id == "" {
			id = slug
		}

		entries = append(entries, Entry{
			ID:           id,
			Slug:         slug,
			ProductID:    productID,
			ProductName:  row.Title,
			Name:         name,
			Version:      version,
			Date:         row.Date,
			DownloadLink: row.DownloadLink,
			ProductURL:   row.ProductURL,
		})
	}
	return entries
}

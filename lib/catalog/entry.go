package catalog

import "time"

// one dated release row off the vault's catalog page, enriched with
// download results as the pipeline progresses
type Entry struct {
	ID          string `json:"id" csv:"id"`
	Slug        string `json:"slug" csv:"slug"`
	ProductID   string `json:"product_id" csv:"product_id"`
	ProductName string `json:"product_name" csv:"product_name"`
	Name        string `json:"name" csv:"name"`
	Version     string `json:"version" csv:"version"`
	Date        string `json:"date" csv:"date"`

	DownloadLink string `json:"download_link" csv:"download_link"`
	ProductURL   string `json:"product_url" csv:"product_url"`

	Filename     string    `json:"filename,omitempty" csv:"filename"`
	FilePath     string    `json:"file_path,omitempty" csv:"file_path"`
	FileURL      string    `json:"file_url,omitempty" csv:"file_url"`
	FileSize     int64     `json:"file_size,omitempty" csv:"file_size"`
	DownloadedAt time.Time `json:"downloaded_at,omitempty" csv:"downloaded_at"`

	// only ever set on entries that failed to download
	Error string `json:"error,omitempty" csv:"error"`
}

// a row as it appears in the rendered page, before any validation
type RawRow struct {
	ID           string
	Title        string
	Date         string
	DownloadLink string
	ProductURL   string
}

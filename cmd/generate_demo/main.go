// Command generate_demo builds a throwaway library for local development:
// two accounts, a handful of public-domain EPUBs in the content store, one
// virtual KOReader device and plausible progress plus reading statistics.
// Usage: go run cmd/generate_demo/main.go [-db path] [-storage path]
package main

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/config"
	"github.com/koshelf/koshelf/internal/contentstore"
	"github.com/koshelf/koshelf/internal/database"
	"github.com/koshelf/koshelf/internal/database/books"
	"github.com/koshelf/koshelf/internal/database/devices"
	"github.com/koshelf/koshelf/internal/database/stats"
	"github.com/koshelf/koshelf/internal/database/syncs"
	"github.com/koshelf/koshelf/internal/entities"
	statsingest "github.com/koshelf/koshelf/internal/stats"
	"github.com/koshelf/koshelf/internal/syncer"
)

const (
	defaultDemoDatabasePath = "./demo/koshelf.db"
	defaultDemoStoragePath  = "./demo/storage"

	demoDeviceID   = "demo-kobo-0001"
	demoDeviceName = "Demo Kobo"
)

type demoBook struct {
	title      string
	author     string
	language   string
	year       string
	identifier string
	excerpt    string

	// reading state for the demo user
	percentage float64
	pages      int
	page       int
	seconds    int64
}

func main() {
	dbPath := flag.String("db", defaultDemoDatabasePath, "path to the demo database file")
	storagePath := flag.String("storage", defaultDemoStoragePath, "path to the demo content store")
	flag.Parse()

	log.Printf("Generating demo library at %s (storage %s)...", *dbPath, *storagePath)

	if err := os.Remove(*dbPath); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to remove existing demo database: %v", err)
	}

	db, err := database.NewDatabase(*dbPath)
	if err != nil {
		log.Fatalf("Failed to create database: %v", err)
	}
	defer db.Close()

	store, err := contentstore.New(*storagePath)
	if err != nil {
		log.Fatalf("Failed to open content store: %v", err)
	}

	cfg := config.NewConfig()
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	authService := auth.NewService(db.DB, tokens, cfg.Auth)

	admin, err := authService.CreateUser("admin", "admin@example.com", "admin12345", true)
	if err != nil {
		log.Fatalf("Failed to create admin user: %v", err)
	}
	reader, err := authService.CreateUser("demo", "demo@example.com", "demo12345", false)
	if err != nil {
		log.Fatalf("Failed to create demo user: %v", err)
	}
	log.Printf("Created users admin (id=%d) and demo (id=%d)", admin.ID, reader.ID)

	bookRepo := books.NewRepository(db.DB)
	catalogue := createBooks(bookRepo, store, admin.ID)

	deviceRepo := devices.NewRepository(db.DB)
	syncRepo := syncs.NewRepository(db.DB)
	reconciler := syncer.NewReconciler(syncRepo, deviceRepo, bookRepo)
	createProgress(reconciler, reader.ID, catalogue)

	statsRepo := stats.NewRepository(db.DB)
	ingestor := statsingest.NewIngestor(statsRepo, bookRepo)
	createStatistics(ingestor, reader.ID, catalogue)

	log.Printf("Demo library ready: %d books, login demo/demo12345 or admin/admin12345", len(catalogue))
}

func demoCatalogue() []demoBook {
	return []demoBook{
		{
			title:      "Frankenstein; or, The Modern Prometheus",
			author:     "Mary Wollstonecraft Shelley",
			language:   "en",
			year:       "1818",
			identifier: "urn:uuid:demo-frankenstein",
			excerpt:    "You will rejoice to hear that no disaster has accompanied the commencement of an enterprise which you have regarded with such evil forebodings.",
			percentage: 64,
			pages:      280,
			page:       179,
			seconds:    5 * 3600,
		},
		{
			title:      "The Adventures of Sherlock Holmes",
			author:     "Arthur Conan Doyle",
			language:   "en",
			year:       "1892",
			identifier: "urn:uuid:demo-sherlock",
			excerpt:    "To Sherlock Holmes she is always the woman. I have seldom heard him mention her under any other name.",
			percentage: 100,
			pages:      310,
			page:       310,
			seconds:    9 * 3600,
		},
		{
			title:      "Pride and Prejudice",
			author:     "Jane Austen",
			language:   "en",
			year:       "1813",
			identifier: "urn:uuid:demo-pride",
			excerpt:    "It is a truth universally acknowledged, that a single man in possession of a good fortune, must be in want of a wife.",
			percentage: 12,
			pages:      350,
			page:       42,
			seconds:    50 * 60,
		},
		{
			title:      "The Time Machine",
			author:     "H. G. Wells",
			language:   "en",
			year:       "1895",
			identifier: "urn:uuid:demo-timemachine",
			excerpt:    "The Time Traveller (for so it will be convenient to speak of him) was expounding a recondite matter to us.",
		},
	}
}

func createBooks(repo *books.Repository, store *contentstore.Store, uploaderID uint) map[string]*entities.Book {
	created := make(map[string]*entities.Book)
	for _, d := range demoCatalogue() {
		data, err := buildEPUB(d)
		if err != nil {
			log.Fatalf("Failed to build EPUB for %q: %v", d.title, err)
		}
		hash, size, err := store.Put(bytes.NewReader(data))
		if err != nil {
			log.Fatalf("Failed to store %q: %v", d.title, err)
		}

		published := publicationDate(d.year)
		book := &entities.Book{
			Title:        d.title,
			Author:       d.author,
			FileName:     safeFileName(d.title) + ".epub",
			Format:       "epub",
			FileSize:     size,
			FileHash:     hash,
			Language:     d.language,
			PublishedAt:  published,
			UploadedByID: &uploaderID,
		}
		if err := repo.Create(book); err != nil {
			log.Fatalf("Failed to create book %q: %v", d.title, err)
		}
		created[d.title] = book
		log.Printf("Added %q (%s, %d bytes)", d.title, hash[:12], size)
	}
	return created
}

func createProgress(reconciler *syncer.Reconciler, userID uint, catalogue map[string]*entities.Book) {
	ts := time.Now().Add(-2 * time.Hour).Unix()
	for title, book := range catalogue {
		d := lookupDemo(title)
		if d == nil || d.percentage == 0 {
			continue
		}
		page := d.page
		upd := syncer.ProgressUpdate{
			Document:   book.FileHash,
			Progress:   fmt.Sprintf("/body/DocFragment[%d]/body/p[3]", d.page/10+1),
			Percentage: d.percentage,
			Device:     demoDeviceName,
			DeviceID:   demoDeviceID,
			Page:       &page,
			Timestamp:  &ts,
		}
		if _, err := reconciler.UploadProgress(userID, upd); err != nil {
			log.Fatalf("Failed to record progress for %q: %v", title, err)
		}
	}
}

func createStatistics(ingestor *statsingest.Ingestor, userID uint, catalogue map[string]*entities.Book) {
	lastRead := time.Now().Add(-90 * time.Minute).Unix()
	for title := range catalogue {
		d := lookupDemo(title)
		if d == nil || d.seconds == 0 {
			continue
		}
		payload := fmt.Sprintf(`{
			"title": %q,
			"authors": %q,
			"device_id": %q,
			"pages": %d,
			"page": %d,
			"percentage": %.4f,
			"time_spent_reading": %d,
			"last_time": %d
		}`, d.title, d.author, demoDeviceID, d.pages, d.page, d.percentage/100, d.seconds, lastRead)
		if _, err := ingestor.Ingest(userID, demoDeviceName, []byte(payload)); err != nil {
			log.Fatalf("Failed to ingest statistics for %q: %v", title, err)
		}
	}
}

func lookupDemo(title string) *demoBook {
	for _, d := range demoCatalogue() {
		if d.title == title {
			return &d
		}
	}
	return nil
}

func buildEPUB(d demoBook) ([]byte, error) {
	opf := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" xmlns:dc="http://purl.org/dc/elements/1.1/" version="3.0" unique-identifier="pub-id">
  <metadata>
    <dc:identifier id="pub-id">%s</dc:identifier>
    <dc:title>%s</dc:title>
    <dc:creator>%s</dc:creator>
    <dc:language>%s</dc:language>
    <dc:date>%s</dc:date>
  </metadata>
  <manifest>
    <item id="chapter1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
  </manifest>
  <spine>
    <itemref idref="chapter1"/>
  </spine>
</package>`, d.identifier, xmlEscape(d.title), xmlEscape(d.author), d.language, d.year)

	chapter := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>%s</title></head>
<body><h1>%s</h1><p>%s</p></body>
</html>`, xmlEscape(d.title), xmlEscape(d.title), xmlEscape(d.excerpt))

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	// The mimetype entry must be first and uncompressed.
	mt, err := w.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		return nil, err
	}
	if _, err := mt.Write([]byte("application/epub+zip")); err != nil {
		return nil, err
	}

	files := []struct{ name, content string }{
		{"META-INF/container.xml", `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`},
		{"OEBPS/content.opf", opf},
		{"OEBPS/chapter1.xhtml", chapter},
	}
	for _, f := range files {
		fw, err := w.Create(f.name)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write([]byte(f.content)); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func publicationDate(year string) *time.Time {
	t, err := time.Parse("2006", year)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func safeFileName(title string) string {
	out := make([]rune, 0, len(title))
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ':
			out = append(out, '_')
		}
	}
	return string(out)
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}

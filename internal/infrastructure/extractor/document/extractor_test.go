package document

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExtractPlainText(t *testing.T) {
	path := writeFile(t, "invoice.txt", []byte("  Invoice for DDM\nAccount No: 1234567  "))
	got, err := NewExtractor(0).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != "Invoice for DDM\nAccount No: 1234567" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestExtractInvalidUTF8IsEmpty(t *testing.T) {
	path := writeFile(t, "blob.txt", []byte{0xff, 0xfe, 0x00, 0x81})
	got, err := NewExtractor(0).Extract(context.Background(), path)
	if err != nil || got != "" {
		t.Fatalf("expected empty snippet, got %q err=%v", got, err)
	}
}

func TestExtractUnsupportedFormatIsEmpty(t *testing.T) {
	path := writeFile(t, "setup.exe", []byte("MZ"))
	got, err := NewExtractor(0).Extract(context.Background(), path)
	if err != nil || got != "" {
		t.Fatalf("expected empty snippet, got %q err=%v", got, err)
	}
}

func TestExtractTruncatesByRunes(t *testing.T) {
	path := writeFile(t, "long.md", []byte(strings.Repeat("é", 50)))
	got, err := NewExtractor(10).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if got != strings.Repeat("é", 10) {
		t.Fatalf("unexpected truncation %q", got)
	}
}

func TestExtractDOCX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contract.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	parts := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/></Types>`,
		"word/document.xml":   `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>Master Services Agreement</w:t></w:r></w:p><w:p><w:r><w:t>LEGAL review</w:t></w:r></w:p></w:body></w:document>`,
	}
	for name, body := range parts {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := NewExtractor(0).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(got, "Master Services Agreement") || !strings.Contains(got, "LEGAL review") {
		t.Fatalf("unexpected docx text %q", got)
	}
}

func TestExtractCorruptDOCXFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewExtractor(0).Extract(context.Background(), path); err == nil {
		t.Fatal("expected error for corrupt docx")
	}
}

func TestExtractXLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.xlsx")
	wb := excelize.NewFile()
	if err := wb.SetCellValue("Sheet1", "A1", "Vendor"); err != nil {
		t.Fatal(err)
	}
	if err := wb.SetCellValue("Sheet1", "B1", "ACME"); err != nil {
		t.Fatal(err)
	}
	if err := wb.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	wb.Close()

	got, err := NewExtractor(0).Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !strings.Contains(got, "Vendor\tACME") {
		t.Fatalf("unexpected xlsx text %q", got)
	}
}

func TestExtractCorruptPDFFails(t *testing.T) {
	path := writeFile(t, "broken.pdf", []byte("not a pdf"))
	if _, err := NewExtractor(0).Extract(context.Background(), path); err == nil {
		t.Fatalf("expected error for corrupt pdf")
	}
}

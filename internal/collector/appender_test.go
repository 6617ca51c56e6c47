package collector

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAppenderAppendsLinesWithTrailingNewlines(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAppender(dir)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}
	defer a.Close()

	if err := a.Append("sensor.temp", [][]byte{[]byte(`{"a":1}`), []byte(`{"a":2}`)}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := a.Append("sensor.temp", [][]byte{[]byte(`{"a":3}`)}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sensor.temp.jsonl"))
	if err != nil {
		t.Fatalf("reading jsonl: %v", err)
	}
	want := "{\"a\":1}\n{\"a\":2}\n{\"a\":3}\n"
	if string(data) != want {
		t.Fatalf("got %q, want %q", string(data), want)
	}
}

func TestAppenderSeparatesTopicsIntoDistinctFiles(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAppender(dir)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}
	defer a.Close()

	a.Append("a", [][]byte{[]byte("1")})
	a.Append("b", [][]byte{[]byte("2")})

	da, _ := os.ReadFile(filepath.Join(dir, "a.jsonl"))
	db, _ := os.ReadFile(filepath.Join(dir, "b.jsonl"))
	if string(da) != "1\n" || string(db) != "2\n" {
		t.Fatalf("unexpected contents: a=%q b=%q", da, db)
	}
}

func TestAppenderNoopOnEmptyLines(t *testing.T) {
	dir := t.TempDir()
	a, err := NewAppender(dir)
	if err != nil {
		t.Fatalf("NewAppender: %v", err)
	}
	defer a.Close()

	if err := a.Append("t", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "t.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected no file to be created for an empty append")
	}
}

package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSplitNameVersion(t *testing.T) {
	cases := []struct {
		base, name, version string
	}{
		{"jei-1.20.1-15.2.0.27", "jei", "1.20.1-15.2.0.27"},
		{"sodium_0.5.8", "sodium", "0.5.8"},
		{"create-6.0", "create", "6.0"},
		{"plainmod", "plainmod", ""},
		{"mod-with-dashes", "mod-with-dashes", ""},
	}
	for _, c := range cases {
		name, version := splitNameVersion(c.base)
		if name != c.name || version != c.version {
			t.Errorf("splitNameVersion(%q) = (%q, %q), want (%q, %q)",
				c.base, name, version, c.name, c.version)
		}
	}
}

func TestFSScannerFindsJars(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	writeFile(t, filepath.Join(dir, "jei-15.2.0.27.jar"), "jar-content-a")
	writeFile(t, filepath.Join(sub, "sodium-0.5.8.JAR"), "jar-content-b")
	writeFile(t, filepath.Join(dir, "readme.txt"), "not a jar")

	mods, err := FSScanner{}.Scan(context.Background(), dir)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(mods) != 2 {
		t.Fatalf("found %d mods, want 2: %+v", len(mods), mods)
	}

	byID := map[string]DiscoveredMod{}
	for _, m := range mods {
		byID[m.ModID] = m
	}
	jei, ok := byID["jei"]
	if !ok {
		t.Fatalf("jei not discovered: %v", byID)
	}
	if jei.Version != "15.2.0.27" {
		t.Errorf("jei version = %q", jei.Version)
	}
	if jei.ContentHash == "" || jei.Size != int64(len("jar-content-a")) {
		t.Errorf("jei fingerprint incomplete: %+v", jei)
	}
	if _, ok := byID["sodium"]; !ok {
		t.Error("nested uppercase .JAR not discovered")
	}
}

func TestFSScannerStableHash(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "jei-15.2.0.27.jar"), "same-content")

	first, err := FSScanner{}.Scan(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := FSScanner{}.Scan(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if first[0].ContentHash != second[0].ContentHash {
		t.Fatal("hash of unchanged content differs between scans")
	}
}

func TestFSScannerRejectsMissingPath(t *testing.T) {
	_, err := FSScanner{}.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err == nil {
		t.Fatal("expected error for missing scan path")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

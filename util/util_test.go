package util

import (
	"strings"
	"testing"
)

func TestNormalizeInput(t *testing.T) {
	got := NormalizeInput("line one\nline <two>")
	if strings.Contains(got, "\n") {
		t.Error("Expected newlines to be flattened")
	}
	if strings.Contains(got, "<two>") {
		t.Error("Expected HTML to be escaped")
	}
}

func TestMarkdownLinksToHTML(t *testing.T) {
	got := MarkdownLinksToHTML("see [the docs](https://example.com/docs) here")
	want := `see <a href="https://example.com/docs" target="_blank" rel="noopener noreferrer">the docs</a> here`
	if got != want {
		t.Errorf("got %q", got)
	}

	plain := "no links here"
	if MarkdownLinksToHTML(plain) != plain {
		t.Error("Text without links must pass through unchanged")
	}
}

func TestExtractMarkdownLinks(t *testing.T) {
	urls := ExtractMarkdownLinks("[a](https://a.example) and [b](https://b.example)")
	if len(urls) != 2 || urls[0] != "https://a.example" || urls[1] != "https://b.example" {
		t.Errorf("got %v", urls)
	}
	if len(ExtractMarkdownLinks("nothing")) != 0 {
		t.Error("Expected no links")
	}
}

func TestGetNameAndVersion(t *testing.T) {
	got := GetNameAndVersion()
	if !strings.HasPrefix(got, Name) {
		t.Errorf("got %q", got)
	}
	if GetVersion() == "" {
		t.Error("Expected a version string")
	}
}

func TestOrigin(t *testing.T) {
	c := &AppConfig{}
	c.Conf.Domain = "example.com"
	if c.Origin() != "https://example.com" {
		t.Errorf("got %q, expected https default", c.Origin())
	}
	c.Conf.Protocol = "http"
	if c.Origin() != "http://example.com" {
		t.Errorf("got %q", c.Origin())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("B3014_DOMAIN", "env.example")
	t.Setenv("B3014_HTTPPORT", "8081")
	t.Setenv("B3014_CLOSED", "true")

	c, err := ReadConf()
	if err != nil {
		t.Fatalf("ReadConf failed: %v", err)
	}
	if c.Conf.Domain != "env.example" {
		t.Errorf("got domain %q", c.Conf.Domain)
	}
	if c.Conf.HttpPort != 8081 {
		t.Errorf("got port %d", c.Conf.HttpPort)
	}
	if !c.Conf.Closed {
		t.Error("Expected closed mode from env")
	}
}

func TestGeneratePemKeypair(t *testing.T) {
	keys := GeneratePemKeypair()
	if !strings.Contains(keys.Private, "RSA PRIVATE KEY") {
		t.Error("Expected a PKCS#1 private key PEM")
	}
	if !strings.Contains(keys.Public, "PUBLIC KEY") {
		t.Error("Expected a PKIX public key PEM")
	}
}

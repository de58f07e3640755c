package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// NormalizeText strips markup, lowercases and collapses whitespace so that
// trivially different copies of the same text share a fingerprint.
func NormalizeText(text string) string {
	if strings.ContainsRune(text, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			doc.Find("script, style, noscript").Remove()
			text = doc.Text()
		}
	}
	text = strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// PlainText strips markup but keeps case and sentence punctuation.
func PlainText(text string) string {
	if !strings.ContainsRune(text, '<') {
		return strings.TrimSpace(text)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.TrimSpace(text)
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Fingerprint hashes the given parts after normalization. Parts are joined
// with a separator that cannot appear in normalized text.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(NormalizeText(p)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// MemberSetFingerprint hashes an id set independent of its order.
func MemberSetFingerprint(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(h[:])
}

// MaxEmbeddingInput bounds the text sent to embedding services, in runes.
const MaxEmbeddingInput = 8000

// ArticleText is the text embedded for an article: title and body, truncated.
func ArticleText(a Article) string {
	text := strings.TrimSpace(a.Title + " " + PlainText(a.RawText))
	return truncateRunes(text, MaxEmbeddingInput)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// DocumentFromArticle maps an article onto the clustering boundary type.
func DocumentFromArticle(a Article) Document {
	fp := a.Fingerprint
	if fp == "" {
		fp = Fingerprint(a.Title, a.RawText)
	}
	d := Document{
		ID:          a.ID,
		SourceID:    a.SourceID,
		Text:        ArticleText(a),
		Fingerprint: fp,
		PublishedAt: a.PublishedAt,
	}
	if a.Embedding != nil {
		d.Vector = a.Embedding.Vector
	}
	return d
}

// DocumentFromStatement maps a statement onto the clustering boundary type.
func DocumentFromStatement(s Statement) Document {
	fp := s.Fingerprint
	if fp == "" {
		fp = Fingerprint(s.Text)
	}
	d := Document{
		ID:          s.ID,
		SourceID:    s.SourceID,
		Text:        s.Text,
		Fingerprint: fp,
		PublishedAt: s.PublishedAt,
	}
	if s.Embedding != nil {
		d.Vector = s.Embedding.Vector
	}
	return d
}

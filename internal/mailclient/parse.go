package mailclient

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"coursemail-engine/internal/domain"
)

const maxPartBytes = 6 << 20

// Parse decodes one RFC 5322 message into a RawMessage. The plain-text part
// wins; an HTML-only message is flattened to text. fallbackDate is used
// when the Date header is missing or broken.
func Parse(uid uint32, raw []byte, fallbackDate time.Time) (domain.RawMessage, error) {
	msg := domain.RawMessage{UID: uid, ReceivedAt: fallbackDate}
	if len(raw) == 0 {
		return msg, &ParseError{UID: uid, Err: errors.New("empty message body")}
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !(mr != nil && message.IsUnknownCharset(err)) {
		return msg, &ParseError{UID: uid, Err: err}
	}

	h := mr.Header
	if subj, err := h.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subj)
	} else {
		msg.Subject = strings.TrimSpace(h.Get("Subject"))
	}
	msg.From = formatFrom(h)
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}
	if d, err := h.Date(); err == nil && !d.IsZero() {
		msg.ReceivedAt = d
	}

	var plain, html strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !(p != nil && message.IsUnknownCharset(err)) {
			if plain.Len() == 0 && html.Len() == 0 {
				return msg, &ParseError{UID: uid, Err: fmt.Errorf("read part: %w", err)}
			}
			break
		}

		ih, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, _ := ih.ContentType()
		b, err := io.ReadAll(io.LimitReader(p.Body, maxPartBytes))
		if err != nil {
			continue
		}
		switch {
		case mediaType == "" || strings.HasPrefix(mediaType, "text/plain"):
			appendPart(&plain, string(b))
		case strings.HasPrefix(mediaType, "text/html"):
			appendPart(&html, string(b))
		}
	}

	body := plain.String()
	if strings.TrimSpace(body) == "" && html.Len() > 0 {
		body = HTMLToText(html.String())
	}
	msg.Body = strings.ReplaceAll(body, "\r\n", "\n")
	return msg, nil
}

func appendPart(sb *strings.Builder, s string) {
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(s)
}

func formatFrom(h mail.Header) string {
	list, err := h.AddressList("From")
	if err != nil || len(list) == 0 {
		return strings.TrimSpace(h.Get("From"))
	}
	a := list[0]
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// HTMLToText keeps one line per block element so line-anchored rules
// (e.g. "課程：...") still see line ends.
func HTMLToText(src string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return src
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, tr, li, h1, h2, h3, h4, table").AfterHtml("\n")

	lines := strings.Split(doc.Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, ln := range lines {
		ln = strings.Join(strings.Fields(strings.ReplaceAll(ln, "\u00a0", " ")), " ")
		if ln != "" {
			out = append(out, ln)
		}
	}
	return strings.Join(out, "\n")
}

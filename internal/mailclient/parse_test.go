package mailclient

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawMail(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func TestParsePlainText(t *testing.T) {
	raw := rawMail(
		"From: NCCU Moodle <noreply@moodle.nccu.edu.tw>",
		"To: 114921039@nccu.edu.tw",
		"Subject: Moodle: [Compilers] HW1",
		"Message-Id: <abc123@moodle.nccu.edu.tw>",
		"Date: Wed, 12 Nov 2025 10:00:00 +0800",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Please submit by the deadline.",
	)

	msg, err := Parse(42, raw, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, uint32(42), msg.UID)
	assert.Equal(t, "Moodle: [Compilers] HW1", msg.Subject)
	assert.Equal(t, "NCCU Moodle <noreply@moodle.nccu.edu.tw>", msg.From)
	assert.Equal(t, "abc123@moodle.nccu.edu.tw", msg.MessageID)
	assert.Equal(t, "Please submit by the deadline.", msg.Body)
	assert.True(t, msg.ReceivedAt.Equal(time.Date(2025, 11, 12, 2, 0, 0, 0, time.UTC)))
}

func TestParseEncodedSubjectAndBase64Body(t *testing.T) {
	raw := rawMail(
		"From: noreply@moodle.nccu.edu.tw",
		"Subject: =?UTF-8?B?TW9vZGxlOiBb6LOH5paZ57WQ5qeLXSDkvZzmpa3kuIA=?=",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: base64",
		"",
		"5oiq5q2i5pel5pyf77yaMjAyNS8xMS8yMCAyMzo1OQroqrLnqIvvvJros4fmlpnntZDmp4s=",
	)

	msg, err := Parse(7, raw, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "Moodle: [資料結構] 作業一", msg.Subject)
	assert.Equal(t, "截止日期：2025/11/20 23:59\n課程：資料結構", msg.Body)
}

func TestParseMultipartPrefersPlain(t *testing.T) {
	raw := rawMail(
		"From: noreply@moodle.nccu.edu.tw",
		"Subject: multipart",
		"Content-Type: multipart/alternative; boundary=b1",
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html body</p>",
		"--b1--",
	)

	msg, err := Parse(1, raw, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "plain body", msg.Body)
}

func TestParseHTMLOnlyFlattened(t *testing.T) {
	raw := rawMail(
		"From: noreply@moodle.nccu.edu.tw",
		"Subject: html only",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><head><style>p{}</style></head><body>",
		"<p>課程：資料庫</p><div>截止日期：2025/12/01&nbsp;08:30</div>",
		"</body></html>",
	)

	msg, err := Parse(3, raw, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "課程：資料庫\n截止日期：2025/12/01 08:30", msg.Body)
}

func TestParseFallbackDate(t *testing.T) {
	internal := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := rawMail(
		"From: a@b.c",
		"Subject: no date header",
		"",
		"x",
	)

	msg, err := Parse(9, raw, internal)
	require.NoError(t, err)
	assert.Equal(t, internal, msg.ReceivedAt)
}

func TestParseEmptyIsParseError(t *testing.T) {
	_, err := Parse(5, nil, time.Time{})
	require.Error(t, err)
	assert.True(t, IsParse(err))
}

func TestHTMLToText(t *testing.T) {
	got := HTMLToText("<ul><li>one</li><li>two<br>three</li></ul><script>x()</script>")
	assert.Equal(t, "one\ntwo\nthree", got)
}

package tokenizer

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"net/mail"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// TokenDecodeFailed is emitted in place of the content of a message
// part that could not be decoded.
const TokenDecodeFailed = "decode:failed"

// Headers whose mere presence is a classification feature.
var markerHeaders = []string{
	"List-Unsubscribe",
	"Precedence",
	"Reply-To",
	"X-Mailer",
	"X-Priority",
	"X-Bulk",
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// Config holds token extraction settings
type Config struct {
	MinWordLength int
	MaxWordLength int
	MaxTokens     int
}

// DefaultConfig returns default tokenizer settings
func DefaultConfig() Config {
	return Config{
		MinWordLength: 3,
		MaxWordLength: 20,
		MaxTokens:     1000,
	}
}

// Result is a deduplicated token set extracted from one message.
// Degraded is set when part of the message could not be decoded and
// tokenization proceeded on what was readable.
type Result struct {
	Tokens   []string
	Degraded bool
}

// Tokenizer extracts classification features from raw messages.
// Stateless; safe for concurrent use.
type Tokenizer struct {
	cfg Config
}

// New creates a tokenizer with the given settings
func New(cfg Config) *Tokenizer {
	if cfg.MinWordLength == 0 && cfg.MaxWordLength == 0 {
		cfg = DefaultConfig()
	}
	return &Tokenizer{cfg: cfg}
}

type scan struct {
	set         map[string]struct{}
	degraded    bool
	attachments int
	hasHTML     bool
}

func (s *scan) add(token string) {
	s.set[token] = struct{}{}
}

func (s *scan) fail() {
	s.set[TokenDecodeFailed] = struct{}{}
	s.degraded = true
}

// Tokenize extracts the token set of a raw message. Identical input
// bytes always produce an identical token set. Decoding failures
// degrade the result instead of aborting it.
func (t *Tokenizer) Tokenize(raw []byte) *Result {
	s := &scan{set: make(map[string]struct{})}

	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		// Headers too broken to parse: fall back to bare word
		// extraction over the full message bytes.
		s.fail()
		t.words(string(raw), "", s)
		return t.finish(s)
	}
	if err != nil {
		s.fail()
	}

	t.headerTokens(entity, s)
	t.walkPart(entity, s)

	if s.hasHTML {
		s.add("mime:html")
	}
	if s.attachments > 0 {
		s.add("mime:attachments:" + countBucket(s.attachments))
	}

	return t.finish(s)
}

func (t *Tokenizer) finish(s *scan) *Result {
	tokens := make([]string, 0, len(s.set))
	for tok := range s.set {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	if t.cfg.MaxTokens > 0 && len(tokens) > t.cfg.MaxTokens {
		tokens = tokens[:t.cfg.MaxTokens]
	}
	return &Result{Tokens: tokens, Degraded: s.degraded}
}

func (t *Tokenizer) headerTokens(entity *message.Entity, s *scan) {
	if from := entity.Header.Get("From"); from != "" {
		if addr, err := mail.ParseAddress(from); err == nil {
			if i := strings.LastIndex(addr.Address, "@"); i >= 0 {
				s.add("from:domain:" + strings.ToLower(addr.Address[i+1:]))
			}
		}
	}

	recipients := 0
	for _, name := range []string{"To", "Cc"} {
		if v := entity.Header.Get(name); v != "" {
			if addrs, err := mail.ParseAddressList(v); err == nil {
				recipients += len(addrs)
			} else {
				recipients += strings.Count(v, ",") + 1
			}
		}
	}
	s.add("to:count:" + countBucket(recipients))

	t.words(entity.Header.Get("Subject"), "subject:", s)

	for _, name := range markerHeaders {
		if entity.Header.Get(name) != "" {
			s.add("hdr:" + strings.ToLower(name))
		}
	}
}

func (t *Tokenizer) walkPart(entity *message.Entity, s *scan) {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				s.fail()
				break
			}
			t.walkPart(part, s)
		}
		return
	}

	if disp, _, _ := entity.Header.ContentDisposition(); disp == "attachment" {
		s.attachments++
		return
	}

	ctype, _, err := entity.Header.ContentType()
	if err != nil {
		ctype = "text/plain"
	}

	switch {
	case ctype == "text/html":
		s.hasHTML = true
		t.readText(entity, s, true)
	case strings.HasPrefix(ctype, "text/"):
		t.readText(entity, s, false)
	default:
		// Inline non-text content counts toward the attachment
		// bucket; its bytes carry no word evidence.
		s.attachments++
	}
}

func (t *Tokenizer) readText(entity *message.Entity, s *scan, html bool) {
	body, err := io.ReadAll(entity.Body)
	if err != nil {
		s.fail()
		return
	}

	text := string(body)
	if html {
		text = htmlTagPattern.ReplaceAllString(text, " ")
	}
	t.words(text, "", s)
}

// words splits text into lowercase word tokens on non-alphanumeric
// boundaries, discarding words outside the configured length bounds.
func (t *Tokenizer) words(text, prefix string, s *scan) {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, word := range fields {
		if len(word) < t.cfg.MinWordLength || len(word) > t.cfg.MaxWordLength {
			continue
		}
		s.add(prefix + word)
	}
}

func countBucket(n int) string {
	switch {
	case n <= 0:
		return "0"
	case n == 1:
		return "1"
	case n <= 5:
		return "2-5"
	default:
		return "6+"
	}
}

// MessageID derives the stable identity of a raw message, used to keep
// training idempotent. The Message-Id header wins; messages without one
// fall back to a content hash.
func MessageID(raw []byte) string {
	if msg, err := mail.ReadMessage(bytes.NewReader(raw)); err == nil {
		if id := strings.Trim(msg.Header.Get("Message-Id"), "<> \t"); id != "" {
			return id
		}
	}
	return fmt.Sprintf("sha256:%x", sha256.Sum256(raw))
}

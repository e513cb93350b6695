package telegram

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

// MaxMessageLen is Telegram's limit on one message's text.
const MaxMessageLen = 4096

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))

// inlineTags are the tags Telegram's HTML mode accepts, mapped to the
// name it is emitted under.
var inlineTags = map[string]string{
	"b": "b", "strong": "b",
	"i": "i", "em": "i",
	"u": "u", "ins": "u",
	"s": "s", "strike": "s", "del": "s",
	"code":       "code",
	"pre":        "pre",
	"blockquote": "blockquote",
	"tg-spoiler": "tg-spoiler",
}

var extraNewlines = regexp.MustCompile(`\n{3,}`)

// RenderHTML converts markdown to the HTML subset Telegram accepts.
// Unsupported structure is flattened to text and line breaks.
func RenderHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return sanitize(buf.String()), nil
}

type listState struct {
	ordered bool
	n       int
}

func sanitize(in string) string {
	var (
		out   strings.Builder
		lists []listState
		// open records what each allowed start tag emitted, so the
		// matching end tag closes the same thing.
		open  []string
		inPre bool
	)
	z := html.NewTokenizer(strings.NewReader(in))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			s := extraNewlines.ReplaceAllString(out.String(), "\n\n")
			return strings.TrimSpace(s)

		case html.TextToken:
			text := string(z.Text())
			if !inPre && len(lists) > 0 && strings.TrimSpace(text) == "" {
				continue
			}
			out.WriteString(html.EscapeString(text))

		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "br":
				out.WriteString("\n")
			case "hr":
				out.WriteString("\n\n")
			case "h1", "h2", "h3", "h4", "h5", "h6":
				out.WriteString("<b>")
			case "ul":
				lists = append(lists, listState{})
			case "ol":
				lists = append(lists, listState{ordered: true})
			case "li":
				depth := len(lists)
				out.WriteString(strings.Repeat("  ", max(depth-1, 0)))
				if depth > 0 && lists[depth-1].ordered {
					lists[depth-1].n++
					fmt.Fprintf(&out, "%d. ", lists[depth-1].n)
				} else {
					out.WriteString("• ")
				}
			case "a":
				href := attr(tok, "href")
				if safeHref(href) {
					fmt.Fprintf(&out, `<a href="%s">`, html.EscapeString(href))
					open = append(open, "a")
				} else {
					open = append(open, "")
				}
			case "img":
				out.WriteString(html.EscapeString(attr(tok, "alt")))
			default:
				name, ok := inlineTags[tok.Data]
				if !ok {
					continue
				}
				if name == "pre" {
					inPre = true
				}
				if name == "code" && inPre {
					if class := attr(tok, "class"); strings.HasPrefix(class, "language-") {
						fmt.Fprintf(&out, `<code class="%s">`, html.EscapeString(class))
						continue
					}
				}
				fmt.Fprintf(&out, "<%s>", name)
			}

		case html.EndTagToken:
			name := z.Token().Data
			switch name {
			case "p":
				out.WriteString("\n\n")
			case "h1", "h2", "h3", "h4", "h5", "h6":
				out.WriteString("</b>\n\n")
			case "li":
				out.WriteString("\n")
			case "ul", "ol":
				if len(lists) > 0 {
					lists = lists[:len(lists)-1]
				}
				if len(lists) == 0 {
					out.WriteString("\n")
				}
			case "a":
				if n := len(open); n > 0 {
					if open[n-1] == "a" {
						out.WriteString("</a>")
					}
					open = open[:n-1]
				}
			default:
				mapped, ok := inlineTags[name]
				if !ok {
					continue
				}
				fmt.Fprintf(&out, "</%s>", mapped)
				if mapped == "pre" {
					inPre = false
					out.WriteString("\n\n")
				} else if mapped == "blockquote" {
					out.WriteString("\n\n")
				}
			}
		}
	}
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func safeHref(href string) bool {
	for _, p := range []string{"http://", "https://", "tg://", "mailto:"} {
		if strings.HasPrefix(strings.ToLower(href), p) {
			return true
		}
	}
	return false
}

// Split breaks text into chunks of at most limit runes, preferring
// paragraph, then line, then word boundaries.
func Split(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		head := runePrefix(text, limit)
		cut := -1
		for _, sep := range []string{"\n\n", "\n", " "} {
			if i := strings.LastIndex(head, sep); i > len(head)/2 {
				cut = i
				break
			}
		}
		if cut < 0 {
			cut = len(head)
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// runePrefix returns the longest prefix of s with at most n runes.
func runePrefix(s string, n int) string {
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i]
}

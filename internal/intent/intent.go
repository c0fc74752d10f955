// Package intent decides whether a typed request asks for a picture or for a
// chat reply.
//
// Detection runs in two passes. The first matches a fixed set of English and
// Chinese drawing phrases as regular expressions. When nothing matches, the
// multi-word English phrases are compared against every run of words of the
// same length using Jaro-Winkler similarity, so that speech-recognition slips
// such as "creat an imagine" still route to the image generator.
//
// In both passes the matched phrase is cut out of the text and the remainder
// becomes the image description.
package intent

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultFuzzyThreshold = 0.92

// Kind is the routing decision for one request.
type Kind int

const (
	// KindChat sends the text to the chat backend unchanged.
	KindChat Kind = iota
	// KindImage renders Result.Text as a picture.
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "chat"
}

// Result is the outcome of [Detector.Detect].
type Result struct {
	Kind Kind
	// Text is the chat message for KindChat and the image description for
	// KindImage.
	Text string
}

// patterns are the drawing phrases, matched case-insensitively.
var patterns = []string{
	`画[一个]*`,
	`生成[一个]*图`,
	`绘制[一个]*`,
	`展示[一个]*`,
	`显示[一个]*图`,
	`\bcreate an image\b`,
	`\bdraw\b`,
	`\bgenerate a picture\b`,
	`\bshow me\b`,
}

// fuzzyPhrases are the English phrases long enough to be compared fuzzily.
// Single words are left to the exact pass; "draw" against "drew" scores too
// close to unrelated words to be useful.
var fuzzyPhrases = []string{
	"create an image",
	"generate a picture",
}

var wordRE = regexp.MustCompile(`\p{L}+`)

// Option configures a [Detector].
type Option func(*Detector)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for the fuzzy pass.
// A value above 1 disables it. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(d *Detector) { d.threshold = threshold }
}

// Detector classifies requests. It is read-only after construction and safe
// for concurrent use.
type Detector struct {
	exact     *regexp.Regexp
	phrases   [][]string
	threshold float64
}

// New returns a Detector with the built-in phrase set.
func New(opts ...Option) *Detector {
	d := &Detector{
		exact:     regexp.MustCompile(`(?i)` + strings.Join(patterns, "|")),
		threshold: defaultFuzzyThreshold,
	}
	for _, p := range fuzzyPhrases {
		d.phrases = append(d.phrases, strings.Fields(p))
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Detect classifies text. An image request whose description would be empty
// uses the whole request as the description.
func (d *Detector) Detect(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Kind: KindChat}
	}
	if d.exact.MatchString(text) {
		return imageResult(text, d.exact.ReplaceAllString(text, ""))
	}
	if start, end, ok := d.fuzzy(text); ok {
		return imageResult(text, text[:start]+text[end:])
	}
	return Result{Kind: KindChat, Text: text}
}

func imageResult(original, rest string) Result {
	desc := strings.Join(strings.Fields(rest), " ")
	if desc == "" {
		desc = original
	}
	return Result{Kind: KindImage, Text: desc}
}

// fuzzy returns the byte span of the first word run that is close enough to
// one of the fuzzy phrases.
func (d *Detector) fuzzy(text string) (start, end int, ok bool) {
	if d.threshold > 1 {
		return 0, 0, false
	}
	spans := wordRE.FindAllStringIndex(text, -1)
	words := make([]string, len(spans))
	for i, s := range spans {
		words[i] = strings.ToLower(text[s[0]:s[1]])
	}

	for _, phrase := range d.phrases {
		n := len(phrase)
		want := strings.Join(phrase, " ")
		for i := 0; i+n <= len(words); i++ {
			got := strings.Join(words[i:i+n], " ")
			if matchr.JaroWinkler(got, want, false) >= d.threshold {
				return spans[i][0], spans[i+n-1][1], true
			}
		}
	}
	return 0, 0, false
}

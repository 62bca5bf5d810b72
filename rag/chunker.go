package rag

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultChunkSize is the default target number of characters per chunk.
const DefaultChunkSize = 500

// DefaultChunkOverlap is the default number of characters carried into the next chunk.
const DefaultChunkOverlap = 50

const paragraphSeparator = "\n\n"

var (
	lineEndings      = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
	paragraphBreak   = regexp.MustCompile(`\n\n+`)
)

// Segment is one chunk of text with rune offsets into the normalized source.
type Segment struct {
	Content     string
	StartOffset int
	EndOffset   int
}

// Chunker splits text into overlapping, paragraph-aware segments.
type Chunker struct {
	chunkSize int
	overlap   int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithChunkSize sets the target chunk size in characters.
func WithChunkSize(size int) ChunkerOption {
	return func(c *Chunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) ChunkerOption {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewChunker creates a chunker with the given options.
func NewChunker(opts ...ChunkerOption) *Chunker {
	c := &Chunker{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	// Ensure overlap doesn't exceed chunk size
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Split chunks text with the configured size and overlap.
func (c *Chunker) Split(text string) []Segment {
	return Chunk(text, c.chunkSize, c.overlap)
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

type piece struct {
	text       string
	start, end int
}

// Chunk splits text into segments of at most targetSize characters plus the
// overlap prefix. Paragraphs are accumulated greedily; when the next
// paragraph would overflow, the buffer is emitted and the next one is seeded
// with the trailing overlap characters of the emitted buffer.
func Chunk(text string, targetSize, overlap int) []Segment {
	if targetSize <= 0 {
		targetSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}

	normalized := normalizeText(text)
	if strings.TrimSpace(normalized) == "" {
		return nil
	}

	pieces := paragraphs(normalized)
	var segments []Segment

	var buf string
	var bufLen, bufStart, bufEnd int
	sepLen := utf8.RuneCountInString(paragraphSeparator)

	emit := func() {
		content := strings.TrimSpace(buf)
		if content == "" {
			return
		}
		segments = append(segments, Segment{Content: content, StartOffset: bufStart, EndOffset: bufEnd})
	}

	for _, para := range pieces {
		for _, p := range splitOversized(para, targetSize) {
			pLen := utf8.RuneCountInString(p.text)

			if bufLen > 0 && bufLen+sepLen+pLen > targetSize {
				emit()

				tail := lastRunes(buf, overlap)
				tailLen := utf8.RuneCountInString(tail)
				if room := targetSize + overlap - sepLen - pLen; tailLen > room {
					if room < 0 {
						room = 0
					}
					tail = lastRunes(tail, room)
					tailLen = utf8.RuneCountInString(tail)
				}

				if tailLen == 0 {
					buf = p.text
					bufLen = pLen
					bufStart = p.start
				} else {
					buf = tail + paragraphSeparator + p.text
					bufLen = tailLen + sepLen + pLen
					bufStart = max(bufEnd-tailLen, 0)
				}
				bufEnd = p.end
				continue
			}

			if bufLen == 0 {
				buf = p.text
				bufLen = pLen
				bufStart = p.start
			} else {
				buf += paragraphSeparator + p.text
				bufLen += sepLen + pLen
			}
			bufEnd = p.end
		}
	}

	emit()
	return segments
}

func normalizeText(text string) string {
	normalized := lineEndings.Replace(text)
	return excessBlankLines.ReplaceAllString(normalized, paragraphSeparator)
}

// paragraphs returns the trimmed, non-empty paragraphs of normalized text
// with their rune offsets.
func paragraphs(normalized string) []piece {
	var pieces []piece

	// Byte offsets only ever increase, so rune offsets can be counted incrementally.
	lastByte, lastRune := 0, 0
	runeAt := func(b int) int {
		lastRune += utf8.RuneCountInString(normalized[lastByte:b])
		lastByte = b
		return lastRune
	}

	add := func(from, to int) {
		span := normalized[from:to]
		trimmedLeft := strings.TrimLeftFunc(span, unicode.IsSpace)
		trimmed := strings.TrimRightFunc(trimmedLeft, unicode.IsSpace)
		if trimmed == "" {
			return
		}
		startByte := from + len(span) - len(trimmedLeft)
		endByte := startByte + len(trimmed)
		start := runeAt(startByte)
		end := runeAt(endByte)
		pieces = append(pieces, piece{text: trimmed, start: start, end: end})
	}

	prev := 0
	for _, loc := range paragraphBreak.FindAllStringIndex(normalized, -1) {
		add(prev, loc[0])
		prev = loc[1]
	}
	add(prev, len(normalized))
	return pieces
}

// splitOversized cuts a paragraph longer than size into pieces of at most
// size characters, preferring whitespace in the second half of each window.
func splitOversized(p piece, size int) []piece {
	runes := []rune(p.text)
	if len(runes) <= size {
		return []piece{p}
	}

	var out []piece
	for i := 0; i < len(runes); {
		j := min(i+size, len(runes))
		if j < len(runes) {
			for k := j; k > i+size/2; k-- {
				if unicode.IsSpace(runes[k-1]) {
					j = k
					break
				}
			}
		}

		lead := 0
		for i+lead < j && unicode.IsSpace(runes[i+lead]) {
			lead++
		}
		trail := 0
		for j-trail > i+lead && unicode.IsSpace(runes[j-trail-1]) {
			trail++
		}
		if i+lead < j-trail {
			out = append(out, piece{
				text:  string(runes[i+lead : j-trail]),
				start: p.start + i + lead,
				end:   p.start + j - trail,
			})
		}
		i = j
	}
	return out
}

func lastRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

package chunker

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/astroline/destinyai/pkg/tokenizer"
)

// Chunker splits report text into bounded, sentence-aligned chunks.
type Chunker interface {
	Chunk(text string, opts ChunkOptions) []TextChunk
}

// ChunkOptions sizes are measured in characters (runes).
type ChunkOptions struct {
	ChunkSize    int // soft upper bound before a flush
	ChunkOverlap int // trailing characters carried into the next chunk
	MinChunk     int // chunks shorter than this are merged into a neighbour
}

type TextChunk struct {
	Content   string
	Index     int
	Section   string // nearest preceding heading, if any
	Start     int    // rune offset into the source text
	End       int    // exclusive
	WordCount int
}

func DefaultOptions() ChunkOptions {
	return ChunkOptions{
		ChunkSize:    600,
		ChunkOverlap: 100,
		MinChunk:     100,
	}
}

type sentenceChunker struct{}

func New() Chunker {
	return sentenceChunker{}
}

func (sentenceChunker) Chunk(text string, opts ChunkOptions) []TextChunk {
	return Split(text, opts)
}

// SplitStrings returns only the chunk contents, in order.
func SplitStrings(text string, opts ChunkOptions) []string {
	chunks := Split(text, opts)
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

// Split is deterministic: the same text and options always produce the same chunks.
// Every chunk is a contiguous slice of the source text no longer than
// ChunkSize+ChunkOverlap runes.
func Split(text string, opts ChunkOptions) []TextChunk {
	opts = normalize(opts)
	runes := []rune(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := splitSentences(runes, opts.ChunkSize)
	spans, bodyStarts := accumulate(runes, sentences, opts)
	spans, bodyStarts = mergeSmall(runes, spans, bodyStarts, opts)

	headings := findHeadings(runes)
	chunks := make([]TextChunk, 0, len(spans))
	for i, sp := range spans {
		content := string(runes[sp.start:sp.end])
		chunks = append(chunks, TextChunk{
			Content:   content,
			Index:     i,
			Section:   sectionAt(headings, bodyStarts[i]),
			Start:     sp.start,
			End:       sp.end,
			WordCount: tokenizer.CountWords(content),
		})
	}
	return chunks
}

func normalize(opts ChunkOptions) ChunkOptions {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.ChunkOverlap >= opts.ChunkSize {
		opts.ChunkOverlap = opts.ChunkSize / 5
	}
	if opts.MinChunk < 0 {
		opts.MinChunk = 0
	}
	return opts
}

// accumulate packs sentences into chunks. It returns the trimmed chunk spans and,
// per chunk, the offset where its own (non-overlap) content begins.
func accumulate(runes []rune, sentences []span, opts ChunkOptions) ([]span, []int) {
	var (
		spans      []span
		bodyStarts []int
		cur        = span{start: -1}
		body       = -1
	)

	flush := func() {
		if cur.start < 0 {
			return
		}
		if t, ok := trimSpan(runes, cur); ok {
			spans = append(spans, t)
			bodyStarts = append(bodyStarts, max(body, t.start))
		}
		cur = span{start: -1}
		body = -1
	}

	for _, s := range sentences {
		if cur.start < 0 {
			cur = s
			body = skipSpace(runes, s)
			continue
		}
		if s.end-cur.start <= opts.ChunkSize {
			cur.end = s.end
			continue
		}

		flushed, ok := trimSpan(runes, cur)
		flush()
		if !ok || opts.ChunkOverlap == 0 {
			cur = s
			body = skipSpace(runes, s)
			continue
		}
		// Seed with the tail of the flushed chunk; the sentence is always added
		// after the seed, so a chunk never exceeds ChunkSize+ChunkOverlap.
		seedStart := max(flushed.end-opts.ChunkOverlap, flushed.start, s.end-opts.ChunkSize-opts.ChunkOverlap)
		cur = span{start: seedStart, end: s.end}
		body = skipSpace(runes, s)
	}
	flush()

	return spans, bodyStarts
}

// mergeSmall folds chunks shorter than MinChunk into a neighbour when the
// merged chunk still fits within ChunkSize+ChunkOverlap.
func mergeSmall(runes []rune, spans []span, bodyStarts []int, opts ChunkOptions) ([]span, []int) {
	if len(spans) < 2 || opts.MinChunk <= 0 {
		return spans, bodyStarts
	}
	limit := opts.ChunkSize + opts.ChunkOverlap

	outSpans := make([]span, 0, len(spans))
	outBodies := make([]int, 0, len(spans))
	for i, sp := range spans {
		if n := len(outSpans); n > 0 && sp.len() < opts.MinChunk {
			merged := span{start: outSpans[n-1].start, end: max(outSpans[n-1].end, sp.end)}
			if merged.len() <= limit {
				outSpans[n-1] = merged
				continue
			}
		}
		outSpans = append(outSpans, sp)
		outBodies = append(outBodies, bodyStarts[i])
	}

	if len(outSpans) > 1 && outSpans[0].len() < opts.MinChunk {
		merged := span{start: outSpans[0].start, end: max(outSpans[0].end, outSpans[1].end)}
		if merged.len() <= limit {
			outSpans[1] = merged
			outBodies[1] = outBodies[0]
			outSpans = outSpans[1:]
			outBodies = outBodies[1:]
		}
	}

	for i := range outSpans {
		if t, ok := trimSpan(runes, outSpans[i]); ok {
			outSpans[i] = t
		}
	}
	return outSpans, outBodies
}

func skipSpace(runes []rune, s span) int {
	i := s.start
	for i < s.end && unicode.IsSpace(runes[i]) {
		i++
	}
	return i
}

func trimSpan(runes []rune, s span) (span, bool) {
	for s.start < s.end && unicode.IsSpace(runes[s.start]) {
		s.start++
	}
	for s.end > s.start && unicode.IsSpace(runes[s.end-1]) {
		s.end--
	}
	return s, s.end > s.start
}

func isTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '：', '!', '?':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '」', '』', '）', ')', '】', '》':
		return true
	}
	return false
}

// splitSentences cuts runes at sentence terminators. A '.' only ends a
// sentence when followed by whitespace or end of text, so decimals and
// abbreviations inside a word stay intact. Sentences longer than maxLen are
// hard-split.
func splitSentences(runes []rune, maxLen int) []span {
	var out []span
	start := 0
	n := len(runes)

	for i := 0; i < n; i++ {
		r := runes[i]
		end := false
		switch {
		case isTerminator(r):
			end = true
		case r == '.':
			end = i+1 == n || unicode.IsSpace(runes[i+1]) || isCloser(runes[i+1])
		}
		if !end {
			continue
		}
		j := i + 1
		for j < n && (isTerminator(runes[j]) || runes[j] == '.' || isCloser(runes[j])) {
			j++
		}
		out = appendHardSplit(out, span{start, j}, maxLen)
		start = j
		i = j - 1
	}
	if start < n {
		out = appendHardSplit(out, span{start, n}, maxLen)
	}
	return out
}

func appendHardSplit(out []span, s span, maxLen int) []span {
	for s.len() > maxLen {
		out = append(out, span{s.start, s.start + maxLen})
		s.start += maxLen
	}
	if s.len() > 0 {
		out = append(out, s)
	}
	return out
}

type heading struct {
	offset int
	title  string
}

var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*$`),
	regexp.MustCompile(`^【(.+?)】$`),
	regexp.MustCompile(`^(第[一二三四五六七八九十百零〇0-9]+[章节部篇].*)$`),
}

func findHeadings(runes []rune) []heading {
	var out []heading
	lineStart := 0
	for i := 0; i <= len(runes); i++ {
		if i < len(runes) && runes[i] != '\n' {
			continue
		}
		line := strings.TrimSpace(string(runes[lineStart:i]))
		if title := matchHeading(line); title != "" {
			out = append(out, heading{offset: lineStart, title: title})
		}
		lineStart = i + 1
	}
	return out
}

func matchHeading(line string) string {
	if line == "" {
		return ""
	}
	for _, re := range headingPatterns {
		if m := re.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func sectionAt(headings []heading, offset int) string {
	section := ""
	for _, h := range headings {
		if h.offset > offset {
			break
		}
		section = h.title
	}
	return section
}

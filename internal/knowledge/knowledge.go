// Package knowledge implements KnowledgeBase, a TF-IDF retrieval store that
// chunks documents, tokenises Korean/English text, and serves cosine-
// similarity search over a JSON-file index (SPEC_FULL.md §4.14, grounded on
// original_source/knowledge_base.py). One document per file under
// <dir>/docs/<uuid>.json, a single shared index at <dir>/index.json,
// coordinated across writers with the same exclusive-lock idiom as
// internal/usage.
package knowledge

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openclaw/flux/internal/filelock"
	"github.com/openclaw/flux/pkg/models"
)

// chunkMaxChars bounds a single chunk's length before sentence-boundary
// resplitting kicks in.
const chunkMaxChars = 500

// maxFileSize bounds files accepted by IndexFile/IndexDirectory.
const maxFileSize = 10 * 1024 * 1024

var allowedExtensions = map[string]bool{".txt": true, ".md": true, ".json": true}

var stopWords = map[string]bool{
	"은": true, "는": true, "이": true, "가": true, "을": true, "를": true,
	"의": true, "에": true, "에서": true, "로": true, "으로": true,
	"와": true, "과": true, "도": true, "만": true, "부터": true, "까지": true,
	"에게": true, "한테": true, "께": true,
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "being": true,
	"in": true, "on": true, "at": true, "of": true, "and": true, "or": true,
	"to": true, "for": true, "with": true, "by": true,
	"from": true, "as": true, "into": true, "about": true, "that": true,
	"this": true, "it": true, "not": true, "but": true,
}

// koreanSuffixes are matched longest-first against a token's tail.
var koreanSuffixes = []string{
	"에서는", "으로는", "에서", "으로", "부터", "까지",
	"에게", "한테", "이나", "이란", "이라",
	"은", "는", "이", "가", "을", "를", "의", "에",
	"로", "와", "과", "도", "만", "께",
}

var (
	tokenPattern     = regexp.MustCompile(`[a-zA-Z가-힣0-9]+`)
	hangulPattern    = regexp.MustCompile(`[가-힣]`)
	paragraphSplit   = regexp.MustCompile(`\n\s*\n`)
	sentenceBoundary = regexp.MustCompile(`(?:[.!?。])\s+`)
)

// index is the on-disk TF-IDF index shape, shared across every document.
type index struct {
	Version    int                    `json:"version"`
	DocCount   int                    `json:"doc_count"`
	ChunkCount int                    `json:"chunk_count"`
	IDF        map[string]float64     `json:"idf"`
	Chunks     map[string]chunkEntry  `json:"chunks"`
}

type chunkEntry struct {
	TF      map[string]float64 `json:"tf"`
	DocID   string             `json:"doc_id"`
	ChunkID int                `json:"chunk_id"`
}

func emptyIndex() index {
	return index{Version: 1, IDF: map[string]float64{}, Chunks: map[string]chunkEntry{}}
}

// SearchResult is one ranked hit returned by Search.
type SearchResult struct {
	DocID   string  `json:"doc_id"`
	Title   string  `json:"title"`
	Chunk   string  `json:"chunk"`
	ChunkID int     `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// DocumentSummary is the listing entry returned by ListDocuments.
type DocumentSummary struct {
	DocID      string    `json:"doc_id"`
	Title      string    `json:"title"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	ChunkCount int       `json:"chunk_count"`
}

// Stats summarises the current index.
type Stats struct {
	DocCount   int   `json:"doc_count"`
	ChunkCount int   `json:"chunk_count"`
	IndexSize  int64 `json:"index_size"`
}

// KnowledgeBase is a TF-IDF document store rooted at a directory.
type KnowledgeBase struct {
	dir       string
	docsDir   string
	indexPath string
}

// New opens (creating directories as needed) a KnowledgeBase rooted at dir.
func New(dir string) (*KnowledgeBase, error) {
	docsDir := filepath.Join(dir, "docs")
	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		return nil, err
	}
	return &KnowledgeBase{dir: dir, docsDir: docsDir, indexPath: filepath.Join(dir, "index.json")}, nil
}

// AddResult is returned by AddDocument.
type AddResult struct {
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	ChunkCount int    `json:"chunk_count"`
}

// AddDocument splits content into chunks, tokenises each, persists the
// document, and folds its chunks into the shared index.
func (kb *KnowledgeBase) AddDocument(title, content, source string) (*AddResult, error) {
	if source == "" {
		source = "user"
	}
	docID := uuid.NewString()
	now := time.Now().UTC()

	rawChunks := splitChunks(content)
	chunks := make([]models.KnowledgeChunk, len(rawChunks))
	for i, text := range rawChunks {
		chunks[i] = models.KnowledgeChunk{ChunkID: itoa(i), Text: text, Tokens: tokenize(text)}
	}

	doc := models.KnowledgeDocument{
		ID:        docID,
		Title:     title,
		Content:   content,
		Source:    source,
		CreatedAt: now,
		Chunks:    chunks,
	}

	docPath, err := kb.docPath(docID)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(docPath, doc); err != nil {
		return nil, err
	}

	if err := kb.withIndex(func(idx *index) {
		addChunksToIndex(idx, docID, chunks)
	}); err != nil {
		return nil, err
	}

	return &AddResult{DocID: docID, Title: title, ChunkCount: len(chunks)}, nil
}

// RemoveDocument deletes a document's file and drops its chunks from the
// index. Reports false if the document did not exist.
func (kb *KnowledgeBase) RemoveDocument(docID string) (bool, error) {
	docPath, err := kb.docPath(docID)
	if err != nil {
		return false, nil
	}
	if _, err := os.Stat(docPath); os.IsNotExist(err) {
		return false, nil
	}

	if err := kb.withIndex(func(idx *index) {
		removeDocFromIndex(idx, docID)
	}); err != nil {
		return false, err
	}
	if err := os.Remove(docPath); err != nil {
		return false, nil
	}
	return true, nil
}

// Search tokenises query, scores every indexed chunk by cosine similarity of
// its TF-IDF vector against the query's, and returns the top-k by score
// descending (ties broken by index iteration order).
func (kb *KnowledgeBase) Search(query string, topK int) ([]SearchResult, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}
	idx, err := kb.loadIndex()
	if err != nil {
		return nil, err
	}
	if len(idx.Chunks) == 0 {
		return nil, nil
	}

	queryVec := tfidfVector(computeTF(queryTokens), idx.IDF)

	type scored struct {
		docID   string
		chunkID int
		score   float64
	}
	var hits []scored
	for _, entry := range idx.Chunks {
		chunkVec := tfidfVector(entry.TF, idx.IDF)
		score := cosineSimilarity(queryVec, chunkVec)
		if score > 0 {
			hits = append(hits, scored{docID: entry.DocID, chunkID: entry.ChunkID, score: score})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if topK <= 0 {
		topK = 5
	}
	if len(hits) > topK {
		hits = hits[:topK]
	}

	docCache := map[string]*models.KnowledgeDocument{}
	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		doc, ok := docCache[h.docID]
		if !ok {
			doc, _ = kb.loadDoc(h.docID)
			docCache[h.docID] = doc
		}
		if doc == nil {
			continue
		}
		text := ""
		for _, c := range doc.Chunks {
			if c.ChunkID == itoa(h.chunkID) {
				text = c.Text
				break
			}
		}
		results = append(results, SearchResult{
			DocID:   h.docID,
			Title:   doc.Title,
			Chunk:   text,
			ChunkID: h.chunkID,
			Score:   math.Round(h.score*10000) / 10000,
		})
	}
	return results, nil
}

// Context builds a system-prompt-ready context string from the top search
// results, truncating once the running length would exceed maxChars.
func (kb *KnowledgeBase) Context(query string, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = 1000
	}
	results, err := kb.Search(query, 10)
	if err != nil || len(results) == 0 {
		return "", err
	}

	var parts []string
	total := 0
	for _, r := range results {
		entry := "[" + r.Title + "] " + r.Chunk
		if total+len(entry)+1 > maxChars {
			if remaining := maxChars - total; remaining > 50 {
				parts = append(parts, entry[:remaining])
			}
			break
		}
		parts = append(parts, entry)
		total += len(entry) + 1
	}
	return strings.Join(parts, "\n"), nil
}

// Stats reports document/chunk counts and the on-disk index size.
func (kb *KnowledgeBase) Stats() (Stats, error) {
	idx, err := kb.loadIndex()
	if err != nil {
		return Stats{}, err
	}
	var size int64
	if info, err := os.Stat(kb.indexPath); err == nil {
		size = info.Size()
	}
	return Stats{DocCount: idx.DocCount, ChunkCount: idx.ChunkCount, IndexSize: size}, nil
}

// ListDocuments returns every stored document's summary, newest first.
func (kb *KnowledgeBase) ListDocuments() ([]DocumentSummary, error) {
	entries, err := os.ReadDir(kb.docsDir)
	if err != nil {
		return nil, err
	}
	var out []DocumentSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var doc models.KnowledgeDocument
		if err := readJSON(filepath.Join(kb.docsDir, e.Name()), &doc); err != nil {
			continue
		}
		out = append(out, DocumentSummary{
			DocID: doc.ID, Title: doc.Title, Source: doc.Source,
			CreatedAt: doc.CreatedAt, ChunkCount: len(doc.Chunks),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// IndexFile reads a .txt/.md/.json file under maxFileSize and adds it as a
// document titled by its base name.
func (kb *KnowledgeBase) IndexFile(path string) (*AddResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !allowedExtensions[ext] {
		return nil, errUnsupportedExtension(ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, errNotAFile(path)
	}
	if info.Size() > maxFileSize {
		return nil, errFileTooLarge(info.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return kb.AddDocument(filepath.Base(path), string(data), "file:"+path)
}

// IndexDirectory indexes every .txt/.md file directly inside dir, skipping
// (and not failing on) files that error.
func (kb *KnowledgeBase) IndexDirectory(dir string) ([]AddResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var results []AddResult
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		r, err := kb.IndexFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		results = append(results, *r)
	}
	return results, nil
}

// RebuildIndex reconstructs the TF-IDF index from every document on disk,
// discarding whatever was previously stored at indexPath.
func (kb *KnowledgeBase) RebuildIndex() (Stats, error) {
	entries, err := os.ReadDir(kb.docsDir)
	if os.IsNotExist(err) {
		fresh := emptyIndex()
		return Stats{}, writeJSON(kb.indexPath, fresh)
	}
	if err != nil {
		return Stats{}, err
	}

	fresh := emptyIndex()
	docIDs := map[string]bool{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		var doc models.KnowledgeDocument
		if err := readJSON(filepath.Join(kb.docsDir, e.Name()), &doc); err != nil || doc.ID == "" {
			continue
		}
		docIDs[doc.ID] = true
		addChunksToIndex(&fresh, doc.ID, doc.Chunks)
	}
	fresh.DocCount = len(docIDs)

	if err := kb.mutateIndex(func() (index, error) { return fresh, nil }); err != nil {
		return Stats{}, err
	}
	return Stats{DocCount: fresh.DocCount, ChunkCount: fresh.ChunkCount}, nil
}

func (kb *KnowledgeBase) docPath(docID string) (string, error) {
	path := filepath.Join(kb.docsDir, docID+".json")
	realDocs, err := filepath.EvalSymlinks(kb.docsDir)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, realDocs+string(filepath.Separator)) && absPath != realDocs {
		return "", errInvalidDocPath(docID)
	}
	return path, nil
}

func (kb *KnowledgeBase) loadDoc(docID string) (*models.KnowledgeDocument, error) {
	path, err := kb.docPath(docID)
	if err != nil {
		return nil, err
	}
	var doc models.KnowledgeDocument
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (kb *KnowledgeBase) loadIndex() (index, error) {
	var idx index
	if err := readJSON(kb.indexPath, &idx); err != nil {
		if os.IsNotExist(err) {
			return emptyIndex(), nil
		}
		return emptyIndex(), nil
	}
	if idx.Version != 1 || idx.Chunks == nil {
		return emptyIndex(), nil
	}
	return idx, nil
}

// withIndex loads the index under an exclusive lock, runs mutate against it,
// recomputes derived fields, and writes it back.
func (kb *KnowledgeBase) withIndex(mutate func(idx *index)) error {
	return filelock.With(kb.indexPath, func() error {
		idx, err := kb.loadIndex()
		if err != nil {
			return err
		}
		mutate(&idx)
		return writeJSON(kb.indexPath, idx)
	})
}

func (kb *KnowledgeBase) mutateIndex(build func() (index, error)) error {
	return filelock.With(kb.indexPath, func() error {
		idx, err := build()
		if err != nil {
			return err
		}
		return writeJSON(kb.indexPath, idx)
	})
}

func addChunksToIndex(idx *index, docID string, chunks []models.KnowledgeChunk) {
	for _, c := range chunks {
		key := docID + ":" + c.ChunkID
		idx.Chunks[key] = chunkEntry{TF: computeTF(c.Tokens), DocID: docID, ChunkID: atoiOr(c.ChunkID, 0)}
	}
	recompute(idx)
}

func removeDocFromIndex(idx *index, docID string) {
	for key, entry := range idx.Chunks {
		if entry.DocID == docID {
			delete(idx.Chunks, key)
		}
	}
	recompute(idx)
}

func recompute(idx *index) {
	idx.IDF = computeIDF(idx.Chunks)
	idx.ChunkCount = len(idx.Chunks)
	docIDs := map[string]bool{}
	for _, entry := range idx.Chunks {
		docIDs[entry.DocID] = true
	}
	idx.DocCount = len(docIDs)
}

// computeTF returns term frequency normalised by token count.
func computeTF(tokens []string) map[string]float64 {
	if len(tokens) == 0 {
		return map[string]float64{}
	}
	counts := map[string]int{}
	for _, t := range tokens {
		counts[t]++
	}
	tf := make(map[string]float64, len(counts))
	for term, count := range counts {
		tf[term] = float64(count) / float64(len(tokens))
	}
	return tf
}

// computeIDF returns log((N+1)/(1+df)) per term across all chunks.
func computeIDF(chunks map[string]chunkEntry) map[string]float64 {
	n := len(chunks)
	if n == 0 {
		return map[string]float64{}
	}
	df := map[string]int{}
	for _, entry := range chunks {
		seen := map[string]bool{}
		for term := range entry.TF {
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}
	idf := make(map[string]float64, len(df))
	for term, freq := range df {
		idf[term] = math.Log(float64(n+1) / float64(1+freq))
	}
	return idf
}

func tfidfVector(tf, idf map[string]float64) map[string]float64 {
	vec := make(map[string]float64, len(tf))
	for term, v := range tf {
		vec[term] = v * idf[term]
	}
	return vec
}

func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, va := range a {
		if vb, ok := b[term]; ok {
			dot += va * vb
		}
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// tokenize lowercases, extracts alphanumeric/Hangul runs, strips Korean
// particle suffixes, and drops stopwords.
func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		stripped := stripKoreanSuffix(tok)
		if stripped != "" && !stopWords[stripped] {
			out = append(out, stripped)
		}
	}
	return out
}

func stripKoreanSuffix(token string) string {
	if !hangulPattern.MatchString(token) {
		return token
	}
	runes := []rune(token)
	for _, suffix := range koreanSuffixes {
		sr := []rune(suffix)
		if len(runes) > len(sr) && strings.HasSuffix(token, suffix) {
			return string(runes[:len(runes)-len(sr)])
		}
	}
	return token
}

// splitChunks splits on blank-line paragraph boundaries, then resplits any
// paragraph over chunkMaxChars at sentence-ending punctuation.
func splitChunks(text string) []string {
	paragraphs := paragraphSplit.Split(strings.TrimSpace(text), -1)
	var chunks []string
	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len([]rune(para)) <= chunkMaxChars {
			chunks = append(chunks, para)
			continue
		}
		sentences := sentenceBoundary.Split(para, -1)
		current := ""
		for _, sent := range sentences {
			if current != "" && len([]rune(current))+len([]rune(sent))+1 > chunkMaxChars {
				chunks = append(chunks, strings.TrimSpace(current))
				current = sent
			} else if current != "" {
				current = current + " " + sent
			} else {
				current = sent
			}
		}
		if strings.TrimSpace(current) != "" {
			chunks = append(chunks, strings.TrimSpace(current))
		}
	}
	out := chunks[:0]
	for _, c := range chunks {
		if strings.TrimSpace(c) != "" {
			out = append(out, c)
		}
	}
	return out
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func itoa(i int) string { return strconv.Itoa(i) }

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func errUnsupportedExtension(ext string) error {
	return fmt.Errorf("unsupported file extension: %s (allowed: .json, .md, .txt)", ext)
}

func errNotAFile(path string) error {
	return fmt.Errorf("not a file: %s", path)
}

func errFileTooLarge(size int64) error {
	return fmt.Errorf("file too large: %d bytes (max %d)", size, int64(maxFileSize))
}

func errInvalidDocPath(docID string) error {
	return fmt.Errorf("invalid document path: %s", docID)
}

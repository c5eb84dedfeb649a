package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/highlight/highlighter/html"

	"github.com/rohankatakam/homergraph/internal/entity"
)

// bleve's "html" highlighter wraps matches in <mark>...</mark>; the
// snippet contract (store.go, spec §6) requires <b>...</b> markup, so
// fragments are rewritten before being returned.
var (
	markOpen  = "<mark>"
	markClose = "</mark>"
)

func rewriteHighlightMarkup(fragment string) string {
	fragment = strings.ReplaceAll(fragment, markOpen, "<b>")
	fragment = strings.ReplaceAll(fragment, markClose, "</b>")
	return fragment
}

// ftsDoc is the document shape indexed into bleve: one row per
// (node_id, content_type) pair, matching the fulltext_index table it
// mirrors. The fields carry no json tags, so bleve indexes them under
// their Go names, which the mapping and queries below use.
type ftsDoc struct {
	NodeID      int64
	ContentType string
	Content     string
}

// ftsIndex wraps a bleve index. Opened alongside the SQL database; a
// missing index directory is created fresh, an existing one is reopened.
type ftsIndex struct {
	idx bleve.Index
}

func openFTSIndex(path string) (*ftsIndex, error) {
	idx, err := bleve.Open(path)
	if err == nil {
		return &ftsIndex{idx: idx}, nil
	}

	mapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	contentField := bleve.NewTextFieldMapping()
	contentField.Store = true
	contentField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("Content", contentField)
	mapping.AddDocumentMapping("_default", docMapping)

	idx, err = bleve.New(path, mapping)
	if err != nil {
		return nil, fmt.Errorf("create fulltext index: %w", err)
	}
	return &ftsIndex{idx: idx}, nil
}

func (f *ftsIndex) docID(id entity.NodeId, contentType string) string {
	return strconv.FormatInt(int64(id), 10) + ":" + contentType
}

func (f *ftsIndex) index(id entity.NodeId, contentType, content string) error {
	doc := ftsDoc{NodeID: int64(id), ContentType: contentType, Content: content}
	return f.idx.Index(f.docID(id, contentType), doc)
}

func (f *ftsIndex) search(query string, scope SearchScope) ([]SearchHit, error) {
	limit := scope.Limit
	if limit <= 0 {
		limit = 20
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("Content")

	var finalQuery bleve.Query = matchQuery
	if len(scope.ContentTypes) > 0 {
		typeQueries := make([]bleve.Query, 0, len(scope.ContentTypes))
		for _, ct := range scope.ContentTypes {
			tq := bleve.NewTermQuery(ct)
			tq.SetField("ContentType")
			typeQueries = append(typeQueries, tq)
		}
		typeFilter := bleve.NewDisjunctionQuery(typeQueries...)
		finalQuery = bleve.NewConjunctionQuery(matchQuery, typeFilter)
	}

	req := bleve.NewSearchRequestOptions(finalQuery, limit, 0, false)
	req.Fields = []string{"NodeID", "ContentType", "Content"}
	req.Highlight = bleve.NewHighlightWithStyle(html.Name)
	req.Highlight.AddField("Content")

	result, err := f.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}

	hits := make([]SearchHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		nodeIDRaw, _ := hit.Fields["NodeID"].(float64)
		snippet := ""
		if frags, ok := hit.Fragments["Content"]; ok && len(frags) > 0 {
			rewritten := make([]string, len(frags))
			for i, frag := range frags {
				rewritten[i] = rewriteHighlightMarkup(frag)
			}
			snippet = strings.Join(rewritten, " … ")
		} else if content, ok := hit.Fields["Content"].(string); ok {
			snippet = content
		}
		hits = append(hits, SearchHit{
			NodeID:  entity.NodeId(int64(nodeIDRaw)),
			Snippet: snippet,
			Rank:    hit.Score,
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Rank > hits[j].Rank })
	return hits, nil
}

func (f *ftsIndex) close() error {
	return f.idx.Close()
}

// Package search mirrors public stories into Elasticsearch for the community
// feed search.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"story-workers/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ErrSearchFailed = errors.New("SEARCH_FAILED")

const defaultSize = 20

// Index is a public-story index. A nil client disables it: writes are
// dropped and searches return nothing.
type Index struct {
	client *elasticsearch.Client
	name   string
}

func NewIndex(client *elasticsearch.Client, name string) *Index {
	return &Index{client: client, name: name}
}

func (i *Index) Enabled() bool {
	return i != nil && i.client != nil
}

func (i *Index) Upsert(ctx context.Context, story models.Story) error {
	if !i.Enabled() {
		return nil
	}

	body, err := json.Marshal(story)
	if err != nil {
		return fmt.Errorf("%w: encode story: %v", ErrSearchFailed, err)
	}

	req := esapi.IndexRequest{
		Index:      i.name,
		DocumentID: story.ID,
		Body:       bytes.NewReader(body),
		Refresh:    "wait_for",
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("%w: index %s: %s", ErrSearchFailed, story.ID, res.Status())
	}
	return nil
}

// Remove deletes a story from the index. Missing documents are not an error.
func (i *Index) Remove(ctx context.Context, id string) error {
	if !i.Enabled() {
		return nil
	}

	req := esapi.DeleteRequest{Index: i.name, DocumentID: id}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: delete %s: %s", ErrSearchFailed, id, res.Status())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.Story `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search matches query against title, topic and summary of public stories,
// best match first and newest first among equals.
func (i *Index) Search(ctx context.Context, query string, size int) ([]models.Story, error) {
	if !i.Enabled() {
		return []models.Story{}, nil
	}
	if size <= 0 || size > 100 {
		size = defaultSize
	}

	body, _ := json.Marshal(BuildQuery(query, size))
	req := esapi.SearchRequest{
		Index: []string{i.name},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return []models.Story{}, nil
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, res.String())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrSearchFailed, err)
	}

	stories := make([]models.Story, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		stories = append(stories, hit.Source)
	}
	return stories, nil
}

// BuildQuery returns the search body for query. An empty query lists every
// public story.
func BuildQuery(query string, size int) map[string]interface{} {
	var must interface{} = map[string]interface{}{"match_all": map[string]interface{}{}}
	if query != "" {
		must = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^3", "topic^2", "summary"},
				"type":   "best_fields",
			},
		}
	}

	return map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   []interface{}{must},
				"filter": []interface{}{map[string]interface{}{"term": map[string]interface{}{"isPublic": true}}},
			},
		},
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"createdAt": map[string]interface{}{"order": "desc"}},
		},
	}
}

package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"formauth-service/internal/client"
	"formauth-service/internal/config"
	"formauth-service/internal/models"
	"formauth-service/internal/util"
)

// Indexer writes security events into the Elasticsearch audit index and
// serves the audit search API.
type Indexer struct {
	es    *client.ESClient
	index string
}

func NewIndexer(esClient *client.ESClient, cfg *config.Config) *Indexer {
	return &Indexer{
		es:    esClient,
		index: cfg.Elasticsearch.AuditIndex,
	}
}

// ErrIndexerUnavailable is returned when Elasticsearch was never
// initialized, e.g. in a degraded development setup.
var ErrIndexerUnavailable = errors.New("audit indexer unavailable")

// Index stores one security event, keyed by its event id.
func (i *Indexer) Index(ctx context.Context, event *models.SecurityEvent) error {
	if i == nil || i.es == nil {
		return ErrIndexerUnavailable
	}

	res, err := i.es.IndexDocument(ctx, i.index, event.EventID, event)
	if err != nil {
		util.Error("Failed to index audit event",
			zap.String("event_type", event.EventType),
			zap.String("login", event.Login),
			zap.Error(err))
		return fmt.Errorf("failed to index audit event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("audit index error: %s", res.Status())
	}

	util.Debug("Audit event indexed",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType))

	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.SecurityEvent `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchByLogin returns the most recent audit events for a login,
// newest first.
func (i *Indexer) SearchByLogin(ctx context.Context, login string, size int) ([]models.SecurityEvent, error) {
	if i == nil || i.es == nil {
		return nil, ErrIndexerUnavailable
	}
	if size <= 0 {
		size = 50
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"login": login,
			},
		},
		"sort": []map[string]interface{}{
			{"occurred_at": map[string]interface{}{"order": "desc"}},
		},
		"size": size,
	}

	res, err := i.es.Search(ctx, i.index, query)
	if err != nil {
		return nil, fmt.Errorf("audit search failed: %w", err)
	}

	var parsed searchResponse
	if err := i.es.ParseResponse(res, &parsed); err != nil {
		return nil, fmt.Errorf("audit search failed: %w", err)
	}

	events := make([]models.SecurityEvent, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		events = append(events, hit.Source)
	}
	return events, nil
}

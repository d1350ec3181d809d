package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"

	"quorum/api/internal/store"
)

// DataStore is the read surface the exporter needs.
type DataStore interface {
	GetRelease(ctx context.Context, releaseID string) (store.Release, error)
	ListAuditTrail(ctx context.Context, releaseID string) ([]store.AuditEntry, error)
}

// Service renders release audit trails. uploader may be nil when object
// storage is not configured.
type Service struct {
	store    DataStore
	uploader *Uploader
}

func NewService(dataStore DataStore, uploader *Uploader) *Service {
	return &Service{store: dataStore, uploader: uploader}
}

// Export renders the full audit trail of a release as a PDF. When an
// uploader is configured the artifact is also pushed to object storage;
// upload failures never fail the export itself.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	release, err := s.store.GetRelease(ctx, req.ReleaseID)
	if err != nil {
		return nil, fmt.Errorf("get release: %w", err)
	}

	entries, err := s.store.ListAuditTrail(ctx, req.ReleaseID)
	if err != nil {
		return nil, fmt.Errorf("list audit trail: %w", err)
	}

	data := TemplateData{
		ReleaseName:   release.Name,
		NamespaceID:   release.NamespaceID,
		ApprovalMode:  string(release.ApprovalMode),
		ApprovalState: string(release.ApprovalState),
		Closed:        release.Closed,
		EntryCount:    len(entries),
	}
	for _, entry := range entries {
		data.Entries = append(data.Entries, TemplateEntry{
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Action:     string(entry.Action),
			Actor:      entry.Actor,
			CreatedAt:  entry.CreatedAt,
			Changes:    changedFields(entry.Before, entry.After),
		})
	}

	html, err := RenderAuditHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	result, err := exportPDF(html, release.Name)
	if err != nil {
		return nil, err
	}

	if s.uploader != nil {
		url, err := s.uploader.Upload(ctx, result.Filename, result.MimeType, result.Data)
		if err != nil {
			log.Printf("export: artifact upload failed: %v", err)
		} else {
			result.ArtifactURL = url
		}
	}

	return result, nil
}

// changedFields lists the top-level keys that differ between the before and
// after snapshots of an audit entry. Creates list every key of the new
// snapshot, deletes every key of the old one.
func changedFields(before, after json.RawMessage) []string {
	var left, right map[string]json.RawMessage
	_ = json.Unmarshal(before, &left)
	_ = json.Unmarshal(after, &right)

	seen := map[string]bool{}
	for key, value := range right {
		if prev, ok := left[key]; !ok || string(prev) != string(value) {
			seen[key] = true
		}
	}
	for key := range left {
		if _, ok := right[key]; !ok {
			seen[key] = true
		}
	}

	fields := make([]string, 0, len(seen))
	for key := range seen {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return fields
}

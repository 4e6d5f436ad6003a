package db

import (
	"context"
	"encoding/json"
	"fmt"

	"hubclient/internal/types"
)

// ContentItemRepository persists the content items produced per
// notification. Items are keyed by notification id and position, so saving
// the same notification twice overwrites rather than duplicates.
type ContentItemRepository struct {
	db DBTX
}

// NewContentItemRepository creates a new ContentItemRepository.
func NewContentItemRepository(db DBTX) *ContentItemRepository {
	return &ContentItemRepository{db: db}
}

// SaveBatch upserts items in order and drops rows left over from an earlier
// save of the same notification that produced more items.
func (r *ContentItemRepository) SaveBatch(ctx context.Context, notificationID string, items []types.ContentItem) error {
	for i, item := range items {
		payload, err := json.Marshal(item)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode content item", err)
		}
		_, err = r.db.Exec(ctx,
			`INSERT INTO content_items
			 (notification_id, ordinal, kind, created_at, project_name, project_version_name,
			  project_version_link, component_name, component_version_name, contract_version, payload)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (notification_id, ordinal) DO UPDATE
			 SET kind = EXCLUDED.kind,
			     created_at = EXCLUDED.created_at,
			     project_name = EXCLUDED.project_name,
			     project_version_name = EXCLUDED.project_version_name,
			     project_version_link = EXCLUDED.project_version_link,
			     component_name = EXCLUDED.component_name,
			     component_version_name = EXCLUDED.component_version_name,
			     contract_version = EXCLUDED.contract_version,
			     payload = EXCLUDED.payload,
			     stored_at = NOW()`,
			notificationID,
			i,
			string(item.Kind),
			item.CreatedAt,
			item.ProjectVersion.ProjectName,
			item.ProjectVersion.VersionName,
			item.ProjectVersion.VersionLink,
			item.ComponentName,
			item.ComponentVersionName,
			types.ContentContractVersion,
			payload,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB,
				fmt.Sprintf("failed to save content item %d", i), err)
		}
	}

	_, err := r.db.Exec(ctx,
		`DELETE FROM content_items WHERE notification_id = $1 AND ordinal >= $2`,
		notificationID, len(items),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to trim stale content items", err)
	}
	return nil
}

// ListByProjectVersion returns the newest stored items of a project version,
// newest first.
func (r *ContentItemRepository) ListByProjectVersion(ctx context.Context, versionLink string, limit int) ([]types.ContentItem, error) {
	rows, err := r.db.Query(ctx,
		`SELECT payload FROM content_items
		 WHERE project_version_link = $1
		 ORDER BY created_at DESC, notification_id, ordinal
		 LIMIT $2`,
		versionLink, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list content items", err)
	}
	defer rows.Close()

	items := make([]types.ContentItem, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan content item", err)
		}
		var item types.ContentItem
		if err := json.Unmarshal(payload, &item); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "stored content item is corrupt", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate content items", err)
	}
	return items, nil
}

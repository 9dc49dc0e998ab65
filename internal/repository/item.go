package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pensieve-ai/pensieve/internal/domain"
)

// ItemRepository handles persistence of knowledge items.
type ItemRepository struct {
	db dbtx
}

func NewItemRepository(pool *pgxpool.Pool) *ItemRepository {
	return &ItemRepository{db: pool}
}

func NewItemRepositoryWithTx(tx pgx.Tx) *ItemRepository {
	return &ItemRepository{db: tx}
}

func (r *ItemRepository) Create(ctx context.Context, item *domain.KnowledgeItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO knowledge_items
			(id, owner_id, kind, status, title, source_uri, raw_object_key, derived_text_key, metadata, source_time, error_message, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, item.OwnerID, item.Kind, item.Status, item.Title,
		nullableString(item.SourceURI), nullableString(item.RawObjectKey), nullableString(item.DerivedTextKey),
		metadata, item.SourceTime, item.ErrorMessage, item.IngestedAt,
	)
	return err
}

func (r *ItemRepository) GetByID(ctx context.Context, id string) (*domain.KnowledgeItem, error) {
	var item domain.KnowledgeItem
	var sourceURI, rawObjectKey, derivedTextKey *string
	var metadata []byte
	err := r.db.QueryRow(ctx,
		`SELECT id, owner_id, kind, status, title, source_uri, raw_object_key, derived_text_key, metadata, source_time, error_message, ingested_at
		 FROM knowledge_items WHERE id = $1`,
		id,
	).Scan(&item.ID, &item.OwnerID, &item.Kind, &item.Status, &item.Title,
		&sourceURI, &rawObjectKey, &derivedTextKey, &metadata,
		&item.SourceTime, &item.ErrorMessage, &item.IngestedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrItemNotFound
		}
		return nil, err
	}
	if sourceURI != nil {
		item.SourceURI = *sourceURI
	}
	if rawObjectKey != nil {
		item.RawObjectKey = *rawObjectKey
	}
	if derivedTextKey != nil {
		item.DerivedTextKey = *derivedTextKey
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &item, nil
}

// MarkProcessing claims the item for a pass, clearing any prior error. The
// claim succeeds only from a non-terminal status, so a finished item can
// never be reprocessed.
func (r *ItemRepository) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE knowledge_items SET status = $2, error_message = ''
		 WHERE id = $1 AND status NOT IN ($3, $4)`,
		id, domain.ItemStatusProcessing, domain.ItemStatusReady, domain.ItemStatusFailed,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkReady settles the item as READY. Only a PROCESSING item settles, so
// terminal statuses stay absorbing.
func (r *ItemRepository) MarkReady(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE knowledge_items SET status = $2, error_message = ''
		 WHERE id = $1 AND status = $3`,
		id, domain.ItemStatusReady, domain.ItemStatusProcessing,
	)
	return err
}

// MarkFailed settles the item as FAILED with the given reason.
func (r *ItemRepository) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE knowledge_items SET status = $2, error_message = $3
		 WHERE id = $1 AND status = $4`,
		id, domain.ItemStatusFailed, reason, domain.ItemStatusProcessing,
	)
	return err
}

func (r *ItemRepository) UpdateExtraction(ctx context.Context, id, title, sourceURI, derivedTextKey string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE knowledge_items SET title = $2, source_uri = $3, derived_text_key = $4
		 WHERE id = $1`,
		id, title, nullableString(sourceURI), nullableString(derivedTextKey),
	)
	return err
}

// MergeMetadata applies the patch on top of the stored metadata; patch keys
// win on conflict.
func (r *ItemRepository) MergeMetadata(ctx context.Context, id string, patch domain.Metadata) error {
	if len(patch) == 0 {
		return nil
	}
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}
	_, err = r.db.Exec(ctx,
		`UPDATE knowledge_items SET metadata = metadata || CAST($2 AS jsonb) WHERE id = $1`,
		id, raw,
	)
	return err
}

func (r *ItemRepository) SetSourceTime(ctx context.Context, id string, sourceTime time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE knowledge_items SET source_time = $2 WHERE id = $1`,
		id, sourceTime.UTC(),
	)
	return err
}

func (r *ItemRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*domain.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, owner_id, kind, status, title, source_uri, raw_object_key, derived_text_key, metadata, source_time, error_message, ingested_at
		 FROM knowledge_items WHERE owner_id = $1
		 ORDER BY ingested_at DESC LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.KnowledgeItem
	for rows.Next() {
		var item domain.KnowledgeItem
		var sourceURI, rawObjectKey, derivedTextKey *string
		var metadata []byte
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.Kind, &item.Status, &item.Title,
			&sourceURI, &rawObjectKey, &derivedTextKey, &metadata,
			&item.SourceTime, &item.ErrorMessage, &item.IngestedAt); err != nil {
			return nil, err
		}
		if sourceURI != nil {
			item.SourceURI = *sourceURI
		}
		if rawObjectKey != nil {
			item.RawObjectKey = *rawObjectKey
		}
		if derivedTextKey != nil {
			item.DerivedTextKey = *derivedTextKey
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal metadata: %w", err)
			}
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

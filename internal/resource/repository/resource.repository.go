package repository

import (
	"database/sql"
	"time"

	"kolab/internal/resource/model"
	"kolab/pkg/logger"
)

// ResourceRepository is the read surface of the storage collaborator. The
// coordination layer never writes resource content; edits happen elsewhere
// and reach this layer as tree-changed events.
type ResourceRepository struct {
	DB *sql.DB
}

func NewResourceRepository(db *sql.DB) *ResourceRepository {
	return &ResourceRepository{DB: db}
}

// GetTree returns the full flat snapshot of a domain tree. The revision
// marker is the row's last-modified timestamp.
func (r *ResourceRepository) GetTree(domain model.Domain) ([]model.ResourceNode, error) {
	rows, err := r.DB.Query(`SELECT id, name, kind, parent_id, updated_at FROM resources WHERE domain = $1
		ORDER BY CASE WHEN kind = 'folder' THEN 0 ELSE 1 END, name ASC`, string(domain))
	if err != nil {
		logger.Sugar.Errorf("Failed to get %s tree: %v", domain, err)
		return nil, err
	}
	defer rows.Close()

	var nodes []model.ResourceNode
	for rows.Next() {
		var n model.ResourceNode
		var parentID sql.NullString
		var updatedAt time.Time
		if err := rows.Scan(&n.ID, &n.Name, &n.Kind, &parentID, &updatedAt); err != nil {
			logger.Sugar.Errorf("Failed to scan %s tree row: %v", domain, err)
			return nil, err
		}
		n.ParentID = parentID.String
		n.Revision = updatedAt.UTC().Format(time.RFC3339Nano)
		n.Domain = domain
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// GetResource returns one resource's opaque content plus its revision marker.
func (r *ResourceRepository) GetResource(id string) (*model.Resource, error) {
	var res model.Resource
	var updatedAt time.Time
	err := r.DB.QueryRow(`SELECT id, content, updated_at FROM resources WHERE id = $1`, id).
		Scan(&res.ID, &res.Content, &updatedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			logger.Sugar.Errorf("Failed to get resource %s: %v", id, err)
		}
		return nil, err
	}
	res.Revision = updatedAt.UTC().Format(time.RFC3339Nano)
	return &res, nil
}

// LogActivity records a coordination action (lock acquired/released, forced
// unlock) for the audit trail.
func (r *ResourceRepository) LogActivity(entryID, userID string, domain model.Domain, resourceID, action, itemName string) error {
	_, err := r.DB.Exec(`INSERT INTO activity_log (id, user_id, domain, resource_id, action, item_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		entryID, userID, string(domain), resourceID, action, itemName)
	if err != nil {
		logger.Sugar.Errorf("Failed to log %s activity for %s: %v", action, resourceID, err)
	}
	return err
}

package service

import (
	"errors"

	"kolab/internal/resource/model"
	"kolab/internal/resource/repository"
	"kolab/socket"
)

// ErrUnknownDomain rejects requests naming a domain outside the closed set.
var ErrUnknownDomain = errors.New("unknown domain")

// ResourceService exposes the coordination layer's read surface and the
// storage collaborator's notification entry point.
type ResourceService struct {
	Repo *repository.ResourceRepository
	Hub  *socket.Hub
}

func NewResourceService(repo *repository.ResourceRepository, hub *socket.Hub) *ResourceService {
	return &ResourceService{Repo: repo, Hub: hub}
}

// GetTree returns a full flat snapshot of a domain tree for diff baselines.
func (s *ResourceService) GetTree(domain model.Domain) ([]model.ResourceNode, error) {
	if !domain.Valid() {
		return nil, ErrUnknownDomain
	}
	return s.Repo.GetTree(domain)
}

// GetResource returns one resource's opaque content and revision.
func (s *ResourceService) GetResource(id string) (*model.Resource, error) {
	return s.Repo.GetResource(id)
}

// Locks returns the live lock table of one domain, for clients that want the
// full picture without joining every room.
func (s *ResourceService) Locks(domain model.Domain) (map[string]model.LockInfo, error) {
	if !domain.Valid() {
		return nil, ErrUnknownDomain
	}
	byResource := make(map[string]model.LockInfo)
	for _, l := range s.Hub.Locks.Snapshot(domain) {
		byResource[l.ResourceID] = l.Info()
	}
	return byResource, nil
}

// NotifyChanged is the inbound hook the storage collaborator calls after it
// wrote a domain. It fans out tree_changed so every client re-fetches and
// re-diffs; when a specific resource is named, its revision move is announced
// too.
func (s *ResourceService) NotifyChanged(domain model.Domain, resourceID string) error {
	if !domain.Valid() {
		return ErrUnknownDomain
	}
	s.Hub.NotifyTreeChanged(domain)

	if resourceID != "" {
		res, err := s.Repo.GetResource(resourceID)
		if err != nil {
			// Deleted resources still trigger the tree event above; nothing
			// further to announce.
			return nil
		}
		s.Hub.NotifyContentUpdated(domain, resourceID, res.Revision)
	}
	return nil
}

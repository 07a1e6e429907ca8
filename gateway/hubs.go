package gateway

import (
	"context"

	"github.com/jrsteele09/aps-viewer-server/aps"
	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
)

type Hub struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Entry is a folder or item within a project folder.
type Entry struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Folder bool   `json:"folder"`
}

// Version is an item version; URN is the viewable handle.
type Version struct {
	ID   string `json:"id"`
	URN  string `json:"urn"`
	Name string `json:"name"`
}

// Hubs lists the hubs the user can access.
func (g *Gateway) Hubs(ctx context.Context, accessToken string) ([]Hub, error) {
	resources, err := g.upstream.Hubs(ctx, accessToken)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to list hubs")
	}
	hubs := make([]Hub, 0, len(resources))
	for _, r := range resources {
		hubs = append(hubs, Hub{ID: r.ID, Name: r.Attributes.Name})
	}
	return hubs, nil
}

// Projects lists the projects of hubID.
func (g *Gateway) Projects(ctx context.Context, accessToken, hubID string) ([]Project, error) {
	resources, err := g.upstream.Projects(ctx, accessToken, hubID)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to list projects")
	}
	projects := make([]Project, 0, len(resources))
	for _, r := range resources {
		projects = append(projects, Project{ID: r.ID, Name: r.Attributes.Name})
	}
	return projects, nil
}

// ProjectContents lists a folder, or the project's top folders when folderID
// is empty.
func (g *Gateway) ProjectContents(ctx context.Context, accessToken, hubID, projectID, folderID string) ([]Entry, error) {
	var (
		resources []aps.Resource
		err       error
	)
	if folderID == "" {
		resources, err = g.upstream.TopFolders(ctx, accessToken, hubID, projectID)
	} else {
		resources, err = g.upstream.FolderContents(ctx, accessToken, projectID, folderID)
	}
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to list project contents")
	}
	entries := make([]Entry, 0, len(resources))
	for _, r := range resources {
		entries = append(entries, Entry{ID: r.ID, Name: r.Attributes.DisplayName, Folder: r.Type == "folders"})
	}
	return entries, nil
}

// ItemVersions lists the versions of an item.
func (g *Gateway) ItemVersions(ctx context.Context, accessToken, projectID, itemID string) ([]Version, error) {
	resources, err := g.upstream.ItemVersions(ctx, accessToken, projectID, itemID)
	if err != nil {
		return nil, apperrors.Wrapf(err, "failed to list item versions")
	}
	versions := make([]Version, 0, len(resources))
	for _, r := range resources {
		versions = append(versions, Version{ID: r.ID, URN: aps.Urnify(r.ID), Name: r.Attributes.CreateTime})
	}
	return versions, nil
}

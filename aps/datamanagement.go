package aps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	apperrors "github.com/jrsteele09/aps-viewer-server/internal/errors"
	"github.com/tidwall/gjson"
)

// Data management calls run on behalf of the signed in user, so they take the
// user's access token instead of the service token.

// Hubs lists the hubs visible to the user.
func (c *Client) Hubs(ctx context.Context, accessToken string) ([]Resource, error) {
	return c.listResources(ctx, accessToken, c.endpoint("/project/v1/hubs", nil))
}

// Projects lists the projects of a hub.
func (c *Client) Projects(ctx context.Context, accessToken, hubID string) ([]Resource, error) {
	return c.listResources(ctx, accessToken, c.endpoint("/project/v1/hubs/"+url.PathEscape(hubID)+"/projects", nil))
}

// TopFolders lists the root folders of a project.
func (c *Client) TopFolders(ctx context.Context, accessToken, hubID, projectID string) ([]Resource, error) {
	path := fmt.Sprintf("/project/v1/hubs/%s/projects/%s/topFolders", url.PathEscape(hubID), url.PathEscape(projectID))
	return c.listResources(ctx, accessToken, c.endpoint(path, nil))
}

// FolderContents lists the folders and items within a folder.
func (c *Client) FolderContents(ctx context.Context, accessToken, projectID, folderID string) ([]Resource, error) {
	path := fmt.Sprintf("/data/v1/projects/%s/folders/%s/contents", url.PathEscape(projectID), url.PathEscape(folderID))
	return c.listResources(ctx, accessToken, c.endpoint(path, nil))
}

// ItemVersions lists the versions of an item.
func (c *Client) ItemVersions(ctx context.Context, accessToken, projectID, itemID string) ([]Resource, error) {
	path := fmt.Sprintf("/data/v1/projects/%s/items/%s/versions", url.PathEscape(projectID), url.PathEscape(itemID))
	return c.listResources(ctx, accessToken, c.endpoint(path, nil))
}

// listResources follows links.next.href until the collection is exhausted.
func (c *Client) listResources(ctx context.Context, accessToken, u string) ([]Resource, error) {
	var all []Resource
	for page := 0; u != ""; page++ {
		if page >= MaxPages {
			return nil, fmt.Errorf("%w: listing exceeded %d pages", apperrors.ErrUpstream, MaxPages)
		}
		req, err := c.newJSONRequest(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if err := c.send(req, accessToken, &raw); err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(raw)
		var resources []Resource
		if data := doc.Get("data"); data.Exists() {
			if err := json.Unmarshal([]byte(data.Raw), &resources); err != nil {
				return nil, fmt.Errorf("%w: failed to decode resources: %v", apperrors.ErrUpstream, err)
			}
		}
		all = append(all, resources...)
		u = doc.Get("links.next.href").String()
	}
	return all, nil
}

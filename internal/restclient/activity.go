package restclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rpattn/fieldsync/internal/domain"
)

// RecentActivity lists the global activity feed, newest first.
func (c *Client) RecentActivity(ctx context.Context, limit int) ([]domain.ActivityEntry, error) {
	path := "/activity/"
	if limit > 0 {
		path += "?" + url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
	}
	var out []domain.ActivityEntry
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

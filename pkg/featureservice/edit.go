package featureservice

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rotisserie/eris"
)

// EditError describes a per-item edit failure.
type EditError struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// EditOutcome is the result for one feature in an applyEdits call.
type EditOutcome struct {
	ObjectID int64      `json:"objectId"`
	Success  bool       `json:"success"`
	Error    *EditError `json:"error,omitempty"`
}

// EditResults collects per-item outcomes of an applyEdits call.
type EditResults struct {
	AddResults    []EditOutcome `json:"addResults"`
	UpdateResults []EditOutcome `json:"updateResults"`
	DeleteResults []EditOutcome `json:"deleteResults"`
}

// ApplyEdits sends adds and updates to the layer in one call and returns the
// per-item outcomes. The caller is responsible for chunking; the layer
// rejects oversized payloads outright rather than partially applying them.
func (c *Client) ApplyEdits(ctx context.Context, adds, updates []Feature) (*EditResults, error) {
	params := url.Values{}

	if len(adds) > 0 {
		b, err := json.Marshal(adds)
		if err != nil {
			return nil, eris.Wrap(err, "featureservice: marshal adds")
		}
		params.Set("adds", string(b))
	}
	if len(updates) > 0 {
		b, err := json.Marshal(updates)
		if err != nil {
			return nil, eris.Wrap(err, "featureservice: marshal updates")
		}
		params.Set("updates", string(b))
	}
	if len(adds) == 0 && len(updates) == 0 {
		return &EditResults{}, nil
	}

	body, err := c.do(ctx, "applyEdits", params)
	if err != nil {
		return nil, err
	}

	var results EditResults
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "featureservice: parse applyEdits response")
	}
	return &results, nil
}

type deleteResponse struct {
	DeleteResults []EditOutcome `json:"deleteResults"`
}

// DeleteWhere deletes all features matching the where clause and returns the
// number of rows removed. Retrying with the same clause is safe: the clause
// re-resolves against current layer state.
func (c *Client) DeleteWhere(ctx context.Context, where string) (int, error) {
	if where == "" {
		return 0, eris.New("featureservice: refusing to delete with empty where clause")
	}

	body, err := c.do(ctx, "deleteFeatures", url.Values{"where": {where}})
	if err != nil {
		return 0, err
	}

	var resp deleteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, eris.Wrap(err, "featureservice: parse deleteFeatures response")
	}

	deleted := 0
	for _, r := range resp.DeleteResults {
		if r.Success {
			deleted++
		}
	}
	return deleted, nil
}

package featureservice

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/rotisserie/eris"
)

// Geometry is a point geometry in the layer's spatial reference.
type Geometry struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FromPoint builds a Geometry from a go-geom point.
func FromPoint(p *geom.Point) *Geometry {
	if p == nil {
		return nil
	}
	return &Geometry{X: p.X(), Y: p.Y()}
}

// Point converts the geometry back to a go-geom point.
func (g *Geometry) Point() *geom.Point {
	if g == nil {
		return nil
	}
	return geom.NewPointFlat(geom.XY, []float64{g.X, g.Y})
}

// Feature is one row of a feature layer: attributes plus optional geometry.
type Feature struct {
	Attributes map[string]any `json:"attributes"`
	Geometry   *Geometry      `json:"geometry,omitempty"`
}

type queryResponse struct {
	Features              []Feature `json:"features"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit"`
}

// Query returns all features matching the where clause, following the
// server's transfer limit with resultOffset paging. Geometry is not
// returned; reconciliation operates on attributes only.
func (c *Client) Query(ctx context.Context, where string, outFields []string) ([]Feature, error) {
	if where == "" {
		where = "1=1"
	}
	fields := "*"
	if len(outFields) > 0 {
		fields = strings.Join(outFields, ",")
	}

	var all []Feature
	offset := 0
	for {
		params := url.Values{
			"where":             {where},
			"outFields":         {fields},
			"returnGeometry":    {"false"},
			"resultOffset":      {strconv.Itoa(offset)},
			"resultRecordCount": {strconv.Itoa(c.pageSize)},
		}

		body, err := c.do(ctx, "query", params)
		if err != nil {
			return nil, err
		}

		var page queryResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, eris.Wrap(err, "featureservice: parse query response")
		}

		all = append(all, page.Features...)
		if !page.ExceededTransferLimit || len(page.Features) == 0 {
			break
		}
		offset += len(page.Features)

		zap.L().Debug("featureservice: following transfer limit",
			zap.Int("offset", offset),
			zap.String("where", where),
		)
	}

	return all, nil
}

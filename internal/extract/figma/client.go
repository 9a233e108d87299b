// File: internal/extract/figma/client.go
// Description: Design-snapshot extraction from the Figma REST API. Pure
// network client; the browser pool is never involved here.

package figma

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/parityscan/parity-cli/api/schemas"
	"github.com/parityscan/parity-cli/internal/config"
	"github.com/parityscan/parity-cli/internal/faults"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxResponseBytes caps how much of a nodes response the client will read.
// Figma files can serialize to hundreds of megabytes; past this limit the
// caller must narrow the node selection instead.
const maxResponseBytes = 64 << 20

// Client fetches design snapshots from the Figma REST API, throttled by a
// client-side rate limiter because the API rejects bursts aggressively.
type Client struct {
	cfg     config.FigmaConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient builds a Figma API client from configuration.
func NewClient(cfg config.FigmaConfig, logger *zap.Logger) *Client {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Limit(2)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("figma_client"),
	}
}

// nodesResponse mirrors the subset of the /v1/files/:key/nodes payload the
// compare engine consumes.
type nodesResponse struct {
	Name  string `json:"name"`
	Nodes map[string]struct {
		Document nodeDoc `json:"document"`
	} `json:"nodes"`
}

type nodeDoc struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Type                string       `json:"type"`
	Characters          string       `json:"characters"`
	AbsoluteBoundingBox *boundingBox `json:"absoluteBoundingBox"`
	Fills               []fill       `json:"fills"`
	Style               *typeStyle   `json:"style"`
	Children            []nodeDoc    `json:"children"`
}

type boundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type fill struct {
	Type    string `json:"type"`
	Visible *bool  `json:"visible"`
	Color   *struct {
		R float64 `json:"r"`
		G float64 `json:"g"`
		B float64 `json:"b"`
		A float64 `json:"a"`
	} `json:"color"`
}

type typeStyle struct {
	FontSize float64 `json:"fontSize"`
}

// GetSnapshot fetches the node subtree for fileKey/nodeID and flattens it
// into a DesignSnapshot. Failures are tagged at the source so the
// classifier never has to pattern-match our own errors.
func (c *Client) GetSnapshot(ctx context.Context, fileKey, nodeID string) (*schemas.DesignSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, faults.Tag(fmt.Errorf("rate limiter wait aborted: %w", err), faults.KindTimeout)
	}

	endpoint := fmt.Sprintf("%s/v1/files/%s/nodes", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(fileKey))
	q := url.Values{}
	if nodeID != "" {
		q.Set("ids", nodeID)
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, faults.Tag(fmt.Errorf("failed to build figma request: %w", err), faults.KindBadRequest)
	}
	req.Header.Set("X-Figma-Token", c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, faults.Tag(fmt.Errorf("figma request cancelled: %w", err), faults.KindTimeout)
		}
		return nil, faults.Tag(fmt.Errorf("figma request failed: %w", err), faults.KindNetwork)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, faults.Tag(fmt.Errorf("failed to read figma response: %w", err), faults.KindNetwork)
	}
	if len(body) > maxResponseBytes {
		return nil, faults.Tag(
			fmt.Errorf("figma response exceeds maximum size of %d bytes", maxResponseBytes),
			faults.KindOversized)
	}

	var parsed nodesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, faults.Tag(fmt.Errorf("failed to decode figma response: %w", err), faults.KindBadRequest)
	}
	if len(parsed.Nodes) == 0 {
		return nil, faults.Tag(
			fmt.Errorf("could not find node %q in file %q", nodeID, fileKey),
			faults.KindSelector)
	}

	snapshot := &schemas.DesignSnapshot{
		FileKey:      fileKey,
		NodeID:       nodeID,
		DocumentName: parsed.Name,
		FetchedAt:    time.Now(),
	}
	for _, n := range parsed.Nodes {
		snapshot.Nodes = append(snapshot.Nodes, convertNode(n.Document))
	}

	c.logger.Debug("Design snapshot fetched",
		zap.String("file_key", fileKey),
		zap.String("node_id", nodeID),
		zap.Int("root_nodes", len(snapshot.Nodes)),
		zap.Duration("took", time.Since(start)))
	return snapshot, nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return faults.Tag(fmt.Errorf("figma rejected credentials (status %d)", resp.StatusCode), faults.KindAuth)
	case resp.StatusCode == http.StatusNotFound:
		return faults.Tag(fmt.Errorf("figma file or node not found (status %d)", resp.StatusCode), faults.KindBadRequest)
	case resp.StatusCode == http.StatusTooManyRequests:
		return faults.Tag(fmt.Errorf("figma rate limit hit (status %d)", resp.StatusCode), faults.KindNetwork)
	case resp.StatusCode >= 500:
		return faults.Tag(fmt.Errorf("figma server error (status %d)", resp.StatusCode), faults.KindNetwork)
	default:
		return fmt.Errorf("unexpected figma response status %d", resp.StatusCode)
	}
}

// convertNode maps the wire node tree onto the domain snapshot tree.
func convertNode(doc nodeDoc) schemas.DesignNode {
	node := schemas.DesignNode{
		ID:   doc.ID,
		Name: doc.Name,
		Type: doc.Type,
		Text: doc.Characters,
	}
	if doc.AbsoluteBoundingBox != nil {
		node.Box = schemas.BoundingBox{
			X:      doc.AbsoluteBoundingBox.X,
			Y:      doc.AbsoluteBoundingBox.Y,
			Width:  doc.AbsoluteBoundingBox.Width,
			Height: doc.AbsoluteBoundingBox.Height,
		}
	}
	if doc.Style != nil {
		node.FontSize = doc.Style.FontSize
	}
	for _, f := range doc.Fills {
		if f.Type != "SOLID" || f.Color == nil {
			continue
		}
		if f.Visible != nil && !*f.Visible {
			continue
		}
		node.Fill = fmt.Sprintf("#%02x%02x%02x",
			int(f.Color.R*255+0.5), int(f.Color.G*255+0.5), int(f.Color.B*255+0.5))
		break
	}
	for _, child := range doc.Children {
		node.Children = append(node.Children, convertNode(child))
	}
	return node
}

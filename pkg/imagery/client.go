// Package imagery talks to the satellite imagery service: it downloads
// rasters and lists the historical acquisitions of a farm.
//
// History responses are free-form JSON. The client pulls the id, acquisition
// time and raster location of each acquisition out with gjson paths, so any
// provider that returns parallel arrays can be wired in through configuration.
package imagery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/agroyield/pkg/change"
	"github.com/HatiCode/agroyield/pkg/errs"
	"github.com/HatiCode/agroyield/pkg/httpx"
	"github.com/HatiCode/agroyield/pkg/raster"
	agrotls "github.com/HatiCode/agroyield/pkg/tls"
)

// Defaults applied by New to empty Config fields.
const (
	DefaultHistoryPath = "/farms/{{.FarmID}}/images?before={{.Before}}"
	DefaultIDPath      = "images.#.id"
	DefaultTimePath    = "images.#.acquired_at"
	DefaultURIPath     = "images.#.uri"
	DefaultTimeout     = 30 * time.Second
)

// maxRasterBytes caps a single raster download.
const maxRasterBytes = 256 << 20

// Config describes the imagery service.
type Config struct {
	// BaseURL and Token are required.
	BaseURL string
	Token   string

	// HistoryPath is a text/template rendered with {{.FarmID}} and
	// {{.Before}} (RFC3339) and resolved against BaseURL.
	HistoryPath string

	// gjson paths into the history response. All three must yield arrays
	// of the same length.
	IDPath   string
	TimePath string
	URIPath  string

	// TimeFormat is "rfc3339" (default), "unix" or "unix_milli".
	TimeFormat string

	Timeout time.Duration
	TLS     agrotls.Config
}

// Client is safe for concurrent use.
type Client struct {
	cfg     Config
	base    *url.URL
	history *template.Template
	http    *http.Client
	logger  *slog.Logger
}

// New validates cfg and builds a Client. Missing credentials yield a
// configuration error.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, errs.Configuration("imagery base URL and token are required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errs.Configuration("invalid imagery base URL %q", cfg.BaseURL)
	}

	if cfg.HistoryPath == "" {
		cfg.HistoryPath = DefaultHistoryPath
	}
	if cfg.IDPath == "" {
		cfg.IDPath = DefaultIDPath
	}
	if cfg.TimePath == "" {
		cfg.TimePath = DefaultTimePath
	}
	if cfg.URIPath == "" {
		cfg.URIPath = DefaultURIPath
	}
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = "rfc3339"
	}
	if !slices.Contains([]string{"rfc3339", "unix", "unix_milli"}, cfg.TimeFormat) {
		return nil, errs.Configuration("unsupported imagery time format %q", cfg.TimeFormat)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	tmpl, err := template.New("history").Option("missingkey=error").Parse(cfg.HistoryPath)
	if err != nil {
		return nil, errs.Configuration("parse history path: %v", err)
	}

	hc, err := httpx.NewClient(cfg.TLS, cfg.Timeout)
	if err != nil {
		return nil, errs.Configuration("imagery client: %v", err)
	}

	return &Client{cfg: cfg, base: base, history: tmpl, http: hc, logger: logger}, nil
}

// Fetch downloads the raster behind ref. Relative URIs are resolved against
// the base URL; absolute ones must name the base URL's scheme and host, since
// every request carries the imagery token.
func (c *Client) Fetch(ctx context.Context, ref change.Reference) (*raster.Image, error) {
	target, err := c.resolve(ref.URI)
	if err != nil {
		return nil, err
	}
	body, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", ref.ID, err)
	}

	var img raster.Image
	if err := json.Unmarshal(body, &img); err != nil {
		return nil, fmt.Errorf("decode image %s: %w", ref.ID, err)
	}
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("image %s: %w", ref.ID, err)
	}
	c.logger.Debug("fetched image", "image", ref.ID, "width", img.Width, "height", img.Height, "bands", len(img.Bands))
	return &img, nil
}

// History lists the acquisitions of farmID taken strictly before before,
// oldest first.
func (c *Client) History(ctx context.Context, farmID string, before time.Time) ([]change.Reference, error) {
	var buf bytes.Buffer
	data := map[string]string{
		"FarmID": url.PathEscape(farmID),
		"Before": url.QueryEscape(before.UTC().Format(time.RFC3339)),
	}
	if err := c.history.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render history path: %w", err)
	}
	target, err := c.resolve(buf.String())
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("history for farm %s: %w", farmID, err)
	}
	refs, err := c.parseHistory(body)
	if err != nil {
		return nil, fmt.Errorf("history for farm %s: %w", farmID, err)
	}

	out := refs[:0]
	for _, r := range refs {
		if r.AcquiredAt.Before(before) {
			out = append(out, r)
		}
	}
	slices.SortStableFunc(out, func(a, b change.Reference) int {
		return a.AcquiredAt.Compare(b.AcquiredAt)
	})
	return out, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func (c *Client) parseHistory(body []byte) ([]change.Reference, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	ids := gjson.GetBytes(body, c.cfg.IDPath)
	times := gjson.GetBytes(body, c.cfg.TimePath)
	uris := gjson.GetBytes(body, c.cfg.URIPath)
	if !ids.Exists() {
		return nil, nil
	}

	idArr, timeArr, uriArr := ids.Array(), times.Array(), uris.Array()
	if len(timeArr) != len(idArr) || len(uriArr) != len(idArr) {
		return nil, fmt.Errorf("history arrays disagree: %d ids, %d times, %d uris",
			len(idArr), len(timeArr), len(uriArr))
	}

	refs := make([]change.Reference, 0, len(idArr))
	for i := range idArr {
		at, err := parseTime(timeArr[i], c.cfg.TimeFormat)
		if err != nil {
			return nil, fmt.Errorf("acquisition time [%d]: %w", i, err)
		}
		refs = append(refs, change.Reference{
			ID:         idArr[i].String(),
			AcquiredAt: at,
			URI:        uriArr[i].String(),
		})
	}
	return refs, nil
}

func (c *Client) resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("empty image location")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image location %q: %w", ref, err)
	}
	if u.IsAbs() || u.Host != "" {
		if !strings.EqualFold(u.Scheme, c.base.Scheme) || !strings.EqualFold(u.Host, c.base.Host) {
			return "", errs.New(errs.CodeInvalidInput, "image location %q is outside %s", ref, c.base.Host)
		}
		return u.String(), nil
	}
	base := *c.base
	base.Path = strings.TrimSuffix(base.Path, "/") + "/"
	return base.ResolveReference(&url.URL{
		Path:     strings.TrimPrefix(u.Path, "/"),
		RawQuery: u.RawQuery,
	}).String(), nil
}

func (c *Client) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRasterBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxRasterBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxRasterBytes)
	}
	return body, nil
}

func parseTime(v gjson.Result, format string) (time.Time, error) {
	switch format {
	case "unix":
		return time.Unix(int64(v.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(v.Float())).UTC(), nil
	default:
		return time.Parse(time.RFC3339, v.String())
	}
}

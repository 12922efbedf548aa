package hub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"llmds/internal/diag"
	"llmds/pkg/contract"
)

// DefaultEndpoint is the public dataset hub.
const DefaultEndpoint = "https://huggingface.co"

// TokenEnv is the ambient credential used when no explicit token is configured.
const TokenEnv = "HF_TOKEN"

// Options: upload sink configuration.
type Options struct {
	Endpoint    string
	RepoID      string // owner/name
	Token       string
	Private     bool
	Description string
	Timeout     time.Duration
}

// ResolveToken returns the explicit token or the ambient HF_TOKEN.
func ResolveToken(explicit string) string {
	if t := strings.TrimSpace(explicit); t != "" {
		return t
	}
	return strings.TrimSpace(os.Getenv(TokenEnv))
}

// Client pushes artifacts of one input file plus a dataset card in a single commit.
type Client struct {
	http   *resty.Client
	opts   Options
	logger *diag.Logger
}

// New validates the options; a missing repo id or token is a configuration error.
func New(opts Options, logger *diag.Logger) (*Client, error) {
	opts.RepoID = strings.Trim(strings.TrimSpace(opts.RepoID), "/")
	if opts.RepoID == "" || strings.Count(opts.RepoID, "/") != 1 {
		return nil, fmt.Errorf("hub: %w: repo id must be owner/name", contract.ErrInvalidInput)
	}
	opts.Token = ResolveToken(opts.Token)
	if opts.Token == "" {
		return nil, fmt.Errorf("hub: %w: missing token (flag or %s)", contract.ErrInvalidInput, TokenEnv)
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.Endpoint, "/")).
		SetTimeout(opts.Timeout).
		SetAuthToken(opts.Token).
		SetHeader("Accept", "application/json")
	return &Client{http: hc, opts: opts, logger: logger}, nil
}

// RepoID returns the target repository.
func (c *Client) RepoID() string { return c.opts.RepoID }

// Upload commits files (paths on disk) plus a README card. When files is empty every
// {basename}_* artifact in dir is uploaded.
// Errors: ErrAuth (401), ErrPermission (403), ErrNotFound (repo still missing after an
// auto-create attempt), UpstreamError otherwise.
func (c *Client) Upload(ctx context.Context, dir, basename string, files []string) error {
	if len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join(dir, basename+"_*"))
		if err != nil {
			return fmt.Errorf("hub: %w", err)
		}
		files = matches
	}
	if len(files) == 0 {
		return fmt.Errorf("hub: %w: no artifacts for %s", contract.ErrNoContent, basename)
	}
	sort.Strings(files)

	timer := c.logger.StartWithKV("hub", "upload", basename, "", map[string]string{"repo": c.opts.RepoID, "files": fmt.Sprintf("%d", len(files))})
	body, err := c.commitBody(basename, files)
	if err != nil {
		return err
	}
	err = c.commit(ctx, body)
	if errors.Is(err, contract.ErrNotFound) {
		c.logger.Warn("hub", "repository missing, creating", basename, map[string]string{"repo": c.opts.RepoID})
		if cerr := c.createRepo(ctx); cerr != nil {
			return cerr
		}
		err = c.commit(ctx, body)
	}
	if err != nil {
		return err
	}
	timer.Finish("upload", int64(len(files)))
	diag.IncOp("hub", "finish", "success")
	return nil
}

type ndLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type ndFile struct {
	Content  string `json:"content"`
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
}

// commitBody builds the NDJSON commit payload: header, README, then data files.
func (c *Client) commitBody(basename string, files []string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	header := map[string]string{
		"summary":     fmt.Sprintf("Upload %s datasets", basename),
		"description": "upload id " + uuid.NewString(),
	}
	if err := enc.Encode(ndLine{Key: "header", Value: header}); err != nil {
		return nil, err
	}
	info := CardInfo{RepoID: c.opts.RepoID, Basename: basename, Description: c.opts.Description}
	var payload []ndFile
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("hub: read %s: %w", f, err)
		}
		name := filepath.Base(f)
		repoPath := "data/" + name
		info.Files = append(info.Files, CardFile{
			Path:    repoPath,
			Type:    typeOf(basename, name),
			Format:  strings.TrimPrefix(filepath.Ext(name), "."),
			Records: countRecords(name, data),
		})
		payload = append(payload, ndFile{Content: base64.StdEncoding.EncodeToString(data), Path: repoPath, Encoding: "base64"})
	}
	card, err := Card(info)
	if err != nil {
		return nil, err
	}
	lines := append([]ndFile{{Content: base64.StdEncoding.EncodeToString([]byte(card)), Path: "README.md", Encoding: "base64"}}, payload...)
	for _, l := range lines {
		if err := enc.Encode(ndLine{Key: "file", Value: l}); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (c *Client) commit(ctx context.Context, body []byte) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-ndjson").
		SetBody(body).
		Post("/api/datasets/" + c.opts.RepoID + "/commit/main")
	if err != nil {
		return fmt.Errorf("hub: commit: %w", err)
	}
	return statusErr(resp)
}

func (c *Client) createRepo(ctx context.Context) error {
	org, name, _ := strings.Cut(c.opts.RepoID, "/")
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]any{"type": "dataset", "name": name, "organization": org, "private": c.opts.Private}).
		Post("/api/repos/create")
	if err != nil {
		return fmt.Errorf("hub: create repo: %w", err)
	}
	if resp.StatusCode() == http.StatusConflict {
		return nil
	}
	return statusErr(resp)
}

func statusErr(resp *resty.Response) error {
	st := resp.StatusCode()
	if st >= 200 && st < 300 {
		return nil
	}
	up := &contract.HTTPError{Service: "hub", Status: st, Msg: contract.Trim(resp.String(), 200)}
	switch st {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", contract.ErrAuth, up)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %w", contract.ErrPermission, up)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", contract.ErrNotFound, up)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", contract.ErrRateLimited, up)
	}
	return up
}

// Hint returns an actionable troubleshooting line for an upload error.
func Hint(err error) string {
	switch {
	case errors.Is(err, contract.ErrAuth):
		return "check the token (--token or " + TokenEnv + ") is valid and not expired"
	case errors.Is(err, contract.ErrPermission):
		return "the token needs write access to the repository or its organization"
	case errors.Is(err, contract.ErrNotFound):
		return "the repository does not exist and could not be created; check --repo-id"
	case errors.Is(err, contract.ErrRateLimited):
		return "the hub is rate limiting uploads; retry later"
	default:
		return "check network connectivity and the hub status page"
	}
}

// typeOf extracts the dataset type from "{basename}_{type}.{ext}"; conversion notes
// have none.
func typeOf(basename, name string) string {
	ext := filepath.Ext(name)
	if ext == ".txt" {
		return ""
	}
	stem := strings.TrimSuffix(name, ext)
	if !strings.HasPrefix(stem, basename+"_") {
		return ""
	}
	return strings.TrimPrefix(stem, basename+"_")
}

// countRecords is a best effort record count for the card.
func countRecords(name string, data []byte) int {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl":
		n := 0
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
		for sc.Scan() {
			if len(bytes.TrimSpace(sc.Bytes())) > 0 {
				n++
			}
		}
		return n
	case ".json":
		var arr []json.RawMessage
		if json.Unmarshal(data, &arr) == nil {
			return len(arr)
		}
	}
	return 0
}

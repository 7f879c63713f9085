package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPinataURL    = "https://api.pinata.cloud"
	DefaultDaemonURL    = "http://127.0.0.1:5001/api/v0"
	defaultPinTimeout   = 60 * time.Second
	defaultArtifactName = "artifact.json"
	maxPinResponseBytes = 1 << 20
)

// PinResult describes where published content ended up.
type PinResult struct {
	CID         string `json:"cid"`
	Size        int64  `json:"size"`
	Timestamp   string `json:"timestamp,omitempty"`
	IsDuplicate bool   `json:"is_duplicate,omitempty"`
	Pinner      string `json:"pinner"`
}

// Pinner is one publishing strategy.
type Pinner interface {
	Name() string
	Pin(ctx context.Context, data []byte, name string) (*PinResult, error)
}

// Publisher tries its pinners in order and returns the first success.
type Publisher struct {
	pinners []Pinner
	logger  *slog.Logger
}

// NewPublisher creates a publisher. Order matters: earlier pinners are
// preferred.
func NewPublisher(pinners ...Pinner) *Publisher {
	return &Publisher{
		pinners: pinners,
		logger:  slog.Default().With("component", "ipfs_publisher"),
	}
}

// Publish pins data, falling through the strategies on failure. If every
// strategy fails the result is a *PublishError.
func (p *Publisher) Publish(ctx context.Context, data []byte, name string) (*PinResult, error) {
	if name == "" {
		name = defaultArtifactName
	}
	perr := &PublishError{}
	for _, pin := range p.pinners {
		res, err := pin.Pin(ctx, data, name)
		if err == nil {
			res.Pinner = pin.Name()
			p.logger.InfoContext(ctx, "artifact published", "pinner", pin.Name(), "cid", res.CID, "size", res.Size)
			return res, nil
		}
		p.logger.WarnContext(ctx, "pinner failed", "pinner", pin.Name(), "error", err)
		perr.Failures = append(perr.Failures, PinFailure{Pinner: pin.Name(), Err: err})
	}
	return nil, perr
}

// PublishJSON publishes v as compact JSON with sorted object keys.
func (p *Publisher) PublishJSON(ctx context.Context, v any, name string) (*PinResult, error) {
	data, err := compactSortedJSON(v)
	if err != nil {
		return nil, fmt.Errorf("artifacts: encode json: %w", err)
	}
	return p.Publish(ctx, data, name)
}

// encoding/json sorts map keys, so a round trip through a generic value
// gives every object sorted keys regardless of struct field order.
func compactSortedJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// PinataConfig holds Pinata credentials. JWT takes precedence over the
// key/secret pair.
type PinataConfig struct {
	BaseURL   string
	JWT       string
	APIKey    string
	APISecret string
	Client    *http.Client
}

// PinataPinner pins through the Pinata pinFileToIPFS API with CIDv1.
type PinataPinner struct {
	cfg PinataConfig
}

// NewPinataPinner creates a Pinata pinner.
func NewPinataPinner(cfg PinataConfig) *PinataPinner {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPinataURL
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: defaultPinTimeout}
	}
	return &PinataPinner{cfg: cfg}
}

func (p *PinataPinner) Name() string { return "pinata" }

func (p *PinataPinner) authorize(req *http.Request) error {
	switch {
	case p.cfg.JWT != "":
		req.Header.Set("Authorization", "Bearer "+p.cfg.JWT)
	case p.cfg.APIKey != "" && p.cfg.APISecret != "":
		req.Header.Set("pinata_api_key", p.cfg.APIKey)
		req.Header.Set("pinata_secret_api_key", p.cfg.APISecret)
	default:
		return errors.New("pinata credentials not configured")
	}
	return nil
}

func (p *PinataPinner) Pin(ctx context.Context, data []byte, name string) (*PinResult, error) {
	meta, _ := json.Marshal(map[string]any{"name": name, "keyvalues": map[string]string{}})
	opts, _ := json.Marshal(map[string]any{"cidVersion": 1, "wrapWithDirectory": false})

	body, contentType, err := multipartFile(data, name, map[string]string{
		"pinataMetadata": string(meta),
		"pinataOptions":  string(opts),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/pinning/pinFileToIPFS", body)
	if err != nil {
		return nil, err
	}
	if err := p.authorize(req); err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var out struct {
		IpfsHash    string `json:"IpfsHash"`
		PinSize     int64  `json:"PinSize"`
		Timestamp   string `json:"Timestamp"`
		IsDuplicate bool   `json:"isDuplicate"`
	}
	if err := doJSON(p.cfg.Client, req, &out); err != nil {
		return nil, err
	}
	if out.IpfsHash == "" {
		return nil, errors.New("pinata response missing IpfsHash")
	}
	return &PinResult{CID: out.IpfsHash, Size: out.PinSize, Timestamp: out.Timestamp, IsDuplicate: out.IsDuplicate}, nil
}

// DaemonPinner adds content through a local IPFS daemon's HTTP API.
type DaemonPinner struct {
	apiURL string
	client *http.Client
}

// NewDaemonPinner creates a daemon pinner. An empty apiURL means
// DefaultDaemonURL.
func NewDaemonPinner(apiURL string, client *http.Client) *DaemonPinner {
	if apiURL == "" {
		apiURL = DefaultDaemonURL
	}
	if client == nil {
		client = &http.Client{Timeout: defaultPinTimeout}
	}
	return &DaemonPinner{apiURL: strings.TrimRight(apiURL, "/"), client: client}
}

func (p *DaemonPinner) Name() string { return "ipfs-daemon" }

func (p *DaemonPinner) Pin(ctx context.Context, data []byte, name string) (*PinResult, error) {
	body, contentType, err := multipartFile(data, name, nil)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL+"/add", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var out struct {
		Hash string `json:"Hash"`
		Size string `json:"Size"`
	}
	if err := doJSON(p.client, req, &out); err != nil {
		return nil, err
	}
	if out.Hash == "" {
		return nil, errors.New("ipfs daemon response missing Hash")
	}
	size, _ := strconv.ParseInt(out.Size, 10, 64)
	return &PinResult{CID: out.Hash, Size: size}, nil
}

// StorePinner keeps content in a content-addressed Store. The returned CID is
// the store's "sha256:" key, not an IPFS CID.
type StorePinner struct {
	store Store
}

// NewStorePinner wraps store.
func NewStorePinner(store Store) *StorePinner {
	return &StorePinner{store: store}
}

func (p *StorePinner) Name() string { return "store" }

func (p *StorePinner) Pin(ctx context.Context, data []byte, _ string) (*PinResult, error) {
	key, err := p.store.Store(ctx, data)
	if err != nil {
		return nil, err
	}
	return &PinResult{CID: key, Size: int64(len(data)), Timestamp: time.Now().UTC().Format(time.RFC3339)}, nil
}

func multipartFile(data []byte, filename string, fields map[string]string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPinResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

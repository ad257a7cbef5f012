package provider

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

// HTTPSProvider implements the fixed HMAC-signed JSON wire protocol (§6).
type HTTPSProvider struct {
	tag       string
	authURL   string
	reportURL string
	infoURL   string
	secret    []byte

	client   *http.Client
	nonces   NonceStore
	validate *validator.Validate
}

// HTTPSConfig configures one HTTPSProvider instance.
type HTTPSConfig struct {
	Tag       string        `koanf:"tag" validate:"required"`
	AuthURL   string        `koanf:"auth_url" validate:"required,url"`
	ReportURL string        `koanf:"report_url" validate:"required,url"`
	InfoURL   string        `koanf:"info_url" validate:"required,url"`
	Secret    string        `koanf:"secret" validate:"required"`
	Timeout   time.Duration `koanf:"timeout"`
}

// NewHTTPSProvider constructs a provider from cfg, applying a 5s default
// per-request timeout (§5) when cfg.Timeout is zero.
func NewHTTPSProvider(cfg HTTPSConfig, nonces NonceStore) *HTTPSProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSProvider{
		tag:       cfg.Tag,
		authURL:   cfg.AuthURL,
		reportURL: cfg.ReportURL,
		infoURL:   cfg.InfoURL,
		secret:    []byte(cfg.Secret),
		client:    &http.Client{Timeout: timeout},
		nonces:    nonces,
		validate:  validator.New(),
	}
}

func (p *HTTPSProvider) Tag() string { return p.tag }

// signedEnvelope fields common to every request/response body (§6).
type signedEnvelope struct {
	Timestamp int64  `json:"timestamp" validate:"required"`
	Nonce     string `json:"nonce" validate:"required,min=20"`
}

type authRequest struct {
	signedEnvelope
	RFID string `json:"rfid" validate:"required"`
}

type authResponse struct {
	signedEnvelope
	RFID    string `json:"rfid"`
	Credits uint32 `json:"credits"`
	UID     string `json:"uid"`
	Nethz   string `json:"nethz"`
}

type reportRequest struct {
	signedEnvelope
	RFID string `json:"rfid" validate:"required"`
	Slot uint16 `json:"slot"`
}

type reportResponse struct {
	signedEnvelope
}

type infoResponse struct {
	signedEnvelope
	LastReset       int64  `json:"last_reset"`
	NextReset       int64  `json:"next_reset"`
	StandardCredits uint32 `json:"standard_credits"`
	ResetInterval   int64  `json:"reset_interval"`
}

func newNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// signedResponse bundles the raw body, status, and X-SIGNATURE header of a
// provider reply, since verification must run against the exact body bytes
// rather than a re-marshalled struct.
type signedResponse struct {
	body      []byte
	status    int
	signature string
}

// postSigned signs the already-marshalled body, POSTs it to url, and
// returns the raw response.
func (p *HTTPSProvider) postSigned(ctx context.Context, url string, body []byte) (signedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return signedResponse{}, fmt.Errorf("provider %s: build request: %w", p.tag, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-SIGNATURE", sign(p.secret, body))

	resp, err := p.client.Do(req)
	if err != nil {
		return signedResponse{}, fmt.Errorf("provider %s: transport error: %w", p.tag, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return signedResponse{status: resp.StatusCode}, fmt.Errorf("provider %s: read response: %w", p.tag, err)
	}
	return signedResponse{
		body:      respBody,
		status:    resp.StatusCode,
		signature: resp.Header.Get("X-SIGNATURE"),
	}, nil
}

// Auth implements Provider.Auth (§6: "auth: 200 with {rfid, credits,
// uid|nethz} = user known; any non-200 = unknown").
func (p *HTTPSProvider) Auth(ctx context.Context, cardID string) (*User, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.tag, err)
	}
	reqBody, err := json.Marshal(authRequest{
		signedEnvelope: signedEnvelope{Timestamp: time.Now().Unix(), Nonce: nonce},
		RFID:           cardID,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: marshal request: %w", p.tag, err)
	}

	sr, err := p.postSigned(ctx, p.authURL, reqBody)
	if err != nil {
		return nil, err
	}
	if sr.status != http.StatusOK {
		return nil, nil
	}

	var resp authResponse
	if err := json.Unmarshal(sr.body, &resp); err != nil {
		return nil, fmt.Errorf("provider %s: %w: malformed response body", p.tag, ErrVerification)
	}
	if err := p.validate.Struct(resp); err != nil {
		return nil, fmt.Errorf("provider %s: %w: %v", p.tag, ErrVerification, err)
	}
	if err := verifyMessage(ctx, p.secret, sr.body, sr.signature, resp.Timestamp, resp.Nonce, p.nonces); err != nil {
		return nil, err
	}

	return &User{
		CardID:      resp.RFID,
		Credits:     resp.Credits,
		ExternalID:  firstNonEmpty(resp.UID, resp.Nethz),
		DisplayName: firstNonEmpty(resp.Nethz, resp.UID),
	}, nil
}

// Report implements Provider.Report (§6: "report: 201 = accepted; 500 =
// failed; other = failed").
func (p *HTTPSProvider) Report(ctx context.Context, cardID string, slot uint16) (bool, error) {
	nonce, err := newNonce()
	if err != nil {
		return false, fmt.Errorf("provider %s: %w", p.tag, err)
	}
	reqBody, err := json.Marshal(reportRequest{
		signedEnvelope: signedEnvelope{Timestamp: time.Now().Unix(), Nonce: nonce},
		RFID:           cardID,
		Slot:           slot,
	})
	if err != nil {
		return false, fmt.Errorf("provider %s: marshal request: %w", p.tag, err)
	}

	sr, err := p.postSigned(ctx, p.reportURL, reqBody)
	if err != nil {
		return false, err
	}
	if sr.status != http.StatusCreated {
		return false, nil
	}

	var resp reportResponse
	if err := json.Unmarshal(sr.body, &resp); err != nil {
		return false, fmt.Errorf("provider %s: %w: malformed response body", p.tag, ErrVerification)
	}
	if err := verifyMessage(ctx, p.secret, sr.body, sr.signature, resp.Timestamp, resp.Nonce, p.nonces); err != nil {
		return false, err
	}

	return true, nil
}

// Info implements Provider.Info (§6: info endpoint).
func (p *HTTPSProvider) Info(ctx context.Context) (*Info, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", p.tag, err)
	}
	reqBody, err := json.Marshal(signedEnvelope{Timestamp: time.Now().Unix(), Nonce: nonce})
	if err != nil {
		return nil, fmt.Errorf("provider %s: marshal request: %w", p.tag, err)
	}

	sr, err := p.postSigned(ctx, p.infoURL, reqBody)
	if err != nil {
		return nil, err
	}
	if sr.status != http.StatusOK {
		return nil, fmt.Errorf("provider %s: info returned status %d", p.tag, sr.status)
	}

	var resp infoResponse
	if err := json.Unmarshal(sr.body, &resp); err != nil {
		return nil, fmt.Errorf("provider %s: %w: malformed response body", p.tag, ErrVerification)
	}
	if err := verifyMessage(ctx, p.secret, sr.body, sr.signature, resp.Timestamp, resp.Nonce, p.nonces); err != nil {
		return nil, err
	}

	return &Info{
		LastReset:       time.Unix(resp.LastReset, 0),
		NextReset:       time.Unix(resp.NextReset, 0),
		StandardCredits: resp.StandardCredits,
		ResetInterval:   time.Duration(resp.ResetInterval) * time.Second,
	}, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

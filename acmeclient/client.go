// Package acmeclient implements certd.Signer on top of the lego ACME client,
// answering HTTP-01 challenges through a shared challenge directory.
package acmeclient

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	legolog "github.com/go-acme/lego/v4/log"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/caasmo/certd"
)

const (
	userAgent            = "certd"
	maxIntermediateBytes = 1 << 20
)

// AcmeUser implements lego's registration.User interface.
type AcmeUser struct {
	Email        string
	Registration *registration.Resource
	PrivateKey   crypto.PrivateKey
}

func (u *AcmeUser) GetEmail() string                        { return u.Email }
func (u *AcmeUser) GetRegistration() *registration.Resource { return u.Registration }
func (u *AcmeUser) GetPrivateKey() crypto.PrivateKey        { return u.PrivateKey }

// Client signs CSRs with the ACME CA named in each request.
type Client struct {
	email         string
	httpClient    *http.Client
	clientFactory clientFactory
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithEmail sets the contact address used when an account has to be registered.
func WithEmail(email string) Option {
	return func(c *Client) { c.email = email }
}

// WithHTTPClient replaces the HTTP client used for the CA and the intermediate fetch.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		panic("acmeclient.New: received nil logger")
	}
	c := &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		clientFactory: defaultClientFactory,
		logger:        logger.With("component", "acme"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RouteLegoLogs sends lego's internal logging through logger.
func RouteLegoLogs(logger *slog.Logger) {
	legolog.Logger = slog.NewLogLogger(logger.With("component", "lego").Handler(), slog.LevelInfo)
}

// Sign runs the ACME order for req.CSR. The account bound to the account key is
// reused when the CA knows it and registered otherwise.
func (c *Client) Sign(ctx context.Context, req certd.SignRequest) (*certd.SignResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := c.logger.With("cert", req.Name)

	keyPEM, err := os.ReadFile(req.AccountKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read ACME account key: %w", err)
	}
	accountKey, err := certcrypto.ParsePEMPrivateKey(keyPEM)
	if err != nil {
		log.Error("Failed to parse ACME account private key", "path", req.AccountKeyPath, "error", err)
		return nil, fmt.Errorf("failed to parse ACME account private key: %w", err)
	}

	csr, err := certcrypto.PemDecodeTox509CSR(req.CSR)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSR: %w", err)
	}

	user := &AcmeUser{Email: c.email, PrivateKey: accountKey}
	legoConfig := lego.NewConfig(user)
	legoConfig.CADirURL = req.CAURL
	legoConfig.UserAgent = userAgent
	if c.httpClient != nil {
		legoConfig.HTTPClient = c.httpClient
	}

	client, err := c.clientFactory(legoConfig)
	if err != nil {
		log.Error("Failed to create ACME client", "ca", req.CAURL, "error", err)
		return nil, fmt.Errorf("failed to create ACME client: %w", err)
	}

	provider, err := NewChallengeDir(req.ChallengeDir)
	if err != nil {
		return nil, err
	}
	if err := client.SetHTTP01Provider(provider); err != nil {
		log.Error("Failed to set HTTP01 provider", "error", err)
		return nil, fmt.Errorf("failed to set HTTP01 provider: %w", err)
	}

	reg, err := client.ResolveAccountByKey()
	if err != nil {
		log.Info("No ACME account for this key, registering", "error", err)
		reg, err = client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			log.Error("ACME account registration failed", "email", user.Email, "error", err)
			return nil, fmt.Errorf("ACME registration failed: %w", err)
		}
	}
	user.Registration = reg

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resource, err := client.ObtainForCSR(certificate.ObtainForCSRRequest{
		CSR:    csr,
		Bundle: false,
	})
	if err != nil {
		log.Error("Failed to obtain certificate", "domains", csr.DNSNames, "error", err)
		return nil, fmt.Errorf("failed to obtain certificate for domains %v: %w", csr.DNSNames, err)
	}
	if resource == nil || len(resource.Certificate) == 0 {
		return nil, errors.New("empty certificate payload received from ACME server")
	}
	log.Info("Successfully obtained certificate", "domains", csr.DNSNames, "certificate_url", resource.CertURL)

	return &certd.SignResult{
		Certificate: resource.Certificate,
		Issuer:      resource.IssuerCertificate,
	}, nil
}

// FetchIntermediate downloads a PEM certificate bundle and checks it parses.
func (c *Client) FetchIntermediate(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIntermediateBytes))
	if err != nil {
		return nil, err
	}
	if _, err := certcrypto.ParsePEMBundle(body); err != nil {
		return nil, fmt.Errorf("intermediate is not a PEM certificate: %w", err)
	}
	return body, nil
}

type clientFactory func(*lego.Config) (acmeClient, error)

type acmeClient interface {
	ResolveAccountByKey() (*registration.Resource, error)
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	SetHTTP01Provider(provider challenge.Provider) error
	ObtainForCSR(request certificate.ObtainForCSRRequest) (*certificate.Resource, error)
}

func defaultClientFactory(cfg *lego.Config) (acmeClient, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoClientAdapter{client: client}, nil
}

type legoClientAdapter struct {
	client *lego.Client
}

func (l *legoClientAdapter) ResolveAccountByKey() (*registration.Resource, error) {
	return l.client.Registration.ResolveAccountByKey()
}

func (l *legoClientAdapter) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return l.client.Registration.Register(options)
}

func (l *legoClientAdapter) SetHTTP01Provider(provider challenge.Provider) error {
	return l.client.Challenge.SetHTTP01Provider(provider)
}

func (l *legoClientAdapter) ObtainForCSR(request certificate.ObtainForCSRRequest) (*certificate.Resource, error) {
	return l.client.Certificate.ObtainForCSR(request)
}

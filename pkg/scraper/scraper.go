package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/newsqa/internal/models"
	"golang.org/x/time/rate"
)

var (
	ErrInvalidURL = errors.New("invalid URL")
	ErrBlockedURL = errors.New("blocked URL")
	ErrFetch      = errors.New("failed to fetch URL")
)

var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// Elements that carry no article text.
const noiseSelector = "script, style, nav, footer, noscript"

type ScraperConfig struct {
	RateLimit float64 // requests per second
	Timeout   time.Duration
	UserAgent string
	// AllowPrivateHosts skips the loopback/private address checks.
	AllowPrivateHosts bool
}

type Scraper struct {
	config  ScraperConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.RateLimit < 0 {
		return nil, fmt.Errorf("rate limit must be positive")
	}
	if config.UserAgent == "" {
		config.UserAgent = "Mozilla/5.0"
	}

	return &Scraper{
		config:  config,
		client:  newClient(config),
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// newClient checks every redirect hop against the URL policy and, unless
// private hosts are allowed, refuses to dial a blocked address whatever name
// resolved to it.
func newClient(config ScraperConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !config.AllowPrivateHosts {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control: func(_, address string, _ syscall.RawConn) error {
				return checkDialAddress(address)
			},
		}
		transport.DialContext = dialer.DialContext
	}

	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: stopped after 10 redirects", ErrFetch)
			}
			return ValidateURL(req.URL.String(), config.AllowPrivateHosts)
		},
	}
}

// checkDialAddress rejects a resolved host:port that points at a blocked address.
func checkDialAddress(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedURL, address)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedURL, address)
	}
	if isBlockedAddr(addr) {
		return fmt.Errorf("%w: requests to private IPs are not allowed", ErrBlockedURL)
	}
	return nil
}

func New() *Scraper {
	s, _ := NewWithConfig(ScraperConfig{})
	return s
}

// ValidateURL rejects non-HTTP(S) schemes, well-known internal hostnames and
// literal loopback, private, link-local, unspecified or 0.0.0.0/8 addresses.
func ValidateURL(rawURL string, allowPrivate bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: protocol %s: is not allowed", ErrBlockedURL, parsed.Scheme)
	}
	if allowPrivate {
		return nil
	}

	host := strings.ToLower(parsed.Hostname())
	if blockedHostnames[host] || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: requests to %s are not allowed", ErrBlockedURL, host)
	}
	if addr, err := netip.ParseAddr(host); err == nil && isBlockedAddr(addr) {
		return fmt.Errorf("%w: requests to private IPs are not allowed", ErrBlockedURL)
	}
	return nil
}

// "This host on this network"; Linux routes the whole range to the local host.
var thisNetwork = netip.MustParsePrefix("0.0.0.0/8")

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() || addr.IsUnspecified() || thisNetwork.Contains(addr)
}

// Fetch downloads rawURL and returns its readable body text with whitespace
// collapsed.
func (s *Scraper) Fetch(ctx context.Context, rawURL string) (models.Document, error) {
	if err := ValidateURL(rawURL, s.config.AllowPrivateHosts); err != nil {
		return models.Document{}, err
	}

	// Apply rate limiting
	if err := s.limiter.Wait(ctx); err != nil {
		return models.Document{}, fmt.Errorf("%w: %s: %v", ErrFetch, rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, ErrBlockedURL) {
			return models.Document{}, fmt.Errorf("%s: %w", rawURL, err)
		}
		return models.Document{}, fmt.Errorf("%w: %s: %v", ErrFetch, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Document{}, fmt.Errorf("%w: %s: received status code %d", ErrFetch, rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return models.Document{}, fmt.Errorf("%w: %s: %v", ErrFetch, rawURL, err)
	}

	title := cleanContent(doc.Find("title").First().Text())
	doc.Find(noiseSelector).Remove()

	return models.Document{
		URL:     rawURL,
		Title:   title,
		Content: cleanContent(doc.Find("body").Text()),
	}, nil
}

func cleanContent(content string) string {
	return strings.Join(strings.Fields(content), " ")
}

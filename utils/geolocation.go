package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"nodewatch/models"
)

const (
	defaultGeoAPIURL = "http://ip-api.com"
	// ip-api field mask for status,message,continent,country,regionName,
	// city,district,zip,lat,lon,isp,org,as,query.
	geoAPIFields = "33288191"
	geoCacheTTL  = 24 * time.Hour
	geoTimeout   = 5 * time.Second
)

var ErrHostNotLocated = errors.New("host could not be located")

// GeoResolver looks up HostDetail records, first from a local GeoLite2 City
// database and then from the public ip-api endpoint.
type GeoResolver struct {
	db         *geoip2.Reader
	httpClient *http.Client
	cache      *gocache.Cache
	limiter    ratelimit.Limiter
	apiBaseURL string
	timeout    time.Duration
	margin     float64
	logger     *zap.Logger
}

// NewGeoResolver never fails on a missing database; it falls back to API-only mode.
// API requests are raced against timeout stretched by margin.
func NewGeoResolver(dbPath string, apiRatePerMinute int, timeout time.Duration, margin float64, logger *zap.Logger) *GeoResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if apiRatePerMinute <= 0 {
		apiRatePerMinute = 40
	}
	if timeout <= 0 {
		timeout = geoTimeout
	}

	var db *geoip2.Reader
	if dbPath != "" {
		var err error
		db, err = geoip2.Open(dbPath)
		if err != nil {
			logger.Warn("could not open GeoIP database, using API fallback only",
				zap.String("path", dbPath), zap.Error(err))
			db = nil
		}
	}

	return &GeoResolver{
		db: db,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		cache:      gocache.New(geoCacheTTL, time.Hour),
		limiter:    ratelimit.New(apiRatePerMinute, ratelimit.Per(time.Minute)),
		apiBaseURL: defaultGeoAPIURL,
		timeout:    timeout,
		margin:     margin,
		logger:     logger,
	}
}

func (g *GeoResolver) Close() {
	if g != nil && g.db != nil {
		g.db.Close()
	}
}

// Lookup is safe to call on a nil GeoResolver.
func (g *GeoResolver) Lookup(ctx context.Context, host string) (*models.HostDetail, error) {
	if g == nil {
		return nil, ErrHostNotLocated
	}

	// 1. Check cache
	if val, ok := g.cache.Get(host); ok {
		detail := val.(models.HostDetail)
		return &detail, nil
	}

	// 2. Try DB (if available)
	if detail, ok := g.lookupDB(ctx, host); ok {
		g.cache.SetDefault(host, *detail)
		return detail, nil
	}

	// 3. Try API fallback
	detail, err := g.fetchFromAPI(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", host, err)
	}
	g.cache.SetDefault(host, *detail)
	return detail, nil
}

func (g *GeoResolver) lookupDB(ctx context.Context, host string) (*models.HostDetail, bool) {
	if g.db == nil {
		return nil, false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil || len(addrs) == 0 {
			return nil, false
		}
		ip = addrs[0].IP
	}

	record, err := g.db.City(ip)
	if err != nil {
		return nil, false
	}

	detail := &models.HostDetail{
		Host: host,
		IP:   ip.String(),
		Coordinates: models.Coordinates{
			Latitude:  record.Location.Latitude,
			Longitude: record.Location.Longitude,
		},
		Continent: record.Continent.Names["en"],
		Country:   record.Country.Names["en"],
		City:      record.City.Names["en"],
		Zip:       record.Postal.Code,
	}
	if len(record.Subdivisions) > 0 {
		detail.Region = record.Subdivisions[0].Names["en"]
	}
	detail.Location = formatLocation(detail.City, detail.Region, detail.Country)
	return detail, true
}

type ipAPIResponse struct {
	Status     string  `json:"status"`
	Message    string  `json:"message"`
	Continent  string  `json:"continent"`
	Country    string  `json:"country"`
	RegionName string  `json:"regionName"`
	City       string  `json:"city"`
	District   string  `json:"district"`
	Zip        string  `json:"zip"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	ISP        string  `json:"isp"`
	Org        string  `json:"org"`
	AS         string  `json:"as"`
	Query      string  `json:"query"`
}

func (g *GeoResolver) fetchFromAPI(ctx context.Context, host string) (*models.HostDetail, error) {
	// Take blocks until a slot frees up and cannot be interrupted.
	g.limiter.Take()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return CallWithTimeout(ctx, RaceTimeout(g.timeout, g.margin), func(ctx context.Context) (*models.HostDetail, error) {
		return g.requestAPI(ctx, host)
	})
}

func (g *GeoResolver) requestAPI(ctx context.Context, host string) (*models.HostDetail, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=%s", g.apiBaseURL, url.PathEscape(host), geoAPIFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api error: %d", resp.StatusCode)
	}

	var apiResp ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, err
	}
	if apiResp.Status == "fail" {
		return nil, fmt.Errorf("%w: %s", ErrHostNotLocated, apiResp.Message)
	}

	organization := apiResp.Org
	if organization == "" {
		organization = apiResp.ISP
	}

	return &models.HostDetail{
		Host: host,
		IP:   apiResp.Query,
		Coordinates: models.Coordinates{
			Latitude:  apiResp.Lat,
			Longitude: apiResp.Lon,
		},
		Location:     formatLocation(apiResp.City, apiResp.RegionName, apiResp.Country),
		Organization: organization,
		AS:           apiResp.AS,
		Continent:    apiResp.Continent,
		Country:      apiResp.Country,
		Region:       apiResp.RegionName,
		City:         apiResp.City,
		District:     apiResp.District,
		Zip:          apiResp.Zip,
	}, nil
}

func formatLocation(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}

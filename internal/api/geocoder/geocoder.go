// Package geocoder 逆地理编码，为行程起终点补全地址
package geocoder

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"github.com/langchou/motonav/internal/models"
)

// DefaultNominatimURL OpenStreetMap 公共实例
const DefaultNominatimURL = "https://nominatim.openstreetmap.org"

// Config 逆地理编码配置
type Config struct {
	GoogleAPIKey string // 为空时使用 Nominatim
	NominatimURL string
	UserAgent    string
	CacheSize    int
	CacheTTL     time.Duration
	Timeout      time.Duration
}

type reverseAPI interface {
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
}

// Client 逆地理编码客户端
// 配置了 Google API Key 时使用 Google，否则使用 Nominatim
type Client struct {
	google       reverseAPI
	nominatimURL string
	userAgent    string
	httpClient   *http.Client
	logger       *zap.Logger

	// 缓存：避免重复请求相同坐标
	cache *expirable.LRU[string, *models.Address]

	// Nominatim 请求限流（每秒最多 1 次）
	nominatimMu          sync.Mutex
	lastNominatimRequest time.Time
	minInterval          time.Duration
}

// NewClient 创建逆地理编码客户端
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.NominatimURL == "" {
		cfg.NominatimURL = DefaultNominatimURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "motonav/1.0 (motorcycle navigation)"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &Client{
		nominatimURL: strings.TrimRight(cfg.NominatimURL, "/"),
		userAgent:    cfg.UserAgent,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       logger,
		cache:        expirable.NewLRU[string, *models.Address](cfg.CacheSize, nil, cfg.CacheTTL),
		minInterval:  time.Second,
	}

	if cfg.GoogleAPIKey != "" {
		gc, err := maps.NewClient(maps.WithAPIKey(cfg.GoogleAPIKey), maps.WithHTTPClient(c.httpClient))
		if err != nil {
			return nil, fmt.Errorf("create maps client: %w", err)
		}
		c.google = gc
	}
	return c, nil
}

// Provider 当前使用的服务提供商
func (c *Client) Provider() string {
	if c.google != nil {
		return "google"
	}
	return "nominatim"
}

// ReverseGeocode 根据经纬度获取结构化地址
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	// 精确到小数点后4位，约11米
	key := fmt.Sprintf("%.4f,%.4f", lat, lng)
	if addr, ok := c.cache.Get(key); ok {
		return addr, nil
	}

	var addr *models.Address
	var err error
	if c.google != nil {
		addr, err = c.reverseGoogle(ctx, lat, lng)
	} else {
		addr, err = c.reverseNominatim(ctx, lat, lng)
	}
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, addr)
	return addr, nil
}

// Resolve 坐标未带地址时补全地址，失败时原样返回
func (c *Client) Resolve(ctx context.Context, coord models.Coordinate) models.Coordinate {
	if coord.Address != "" {
		return coord
	}
	addr, err := c.ReverseGeocode(ctx, coord.Latitude, coord.Longitude)
	if err != nil {
		c.logger.Warn("Reverse geocoding failed",
			zap.String("coordinate", coord.String()),
			zap.Error(err))
		return coord
	}
	return coord.WithAddress(addr.Label())
}

// CacheLen 缓存条目数
func (c *Client) CacheLen() int {
	return c.cache.Len()
}

// ============ Google 实现 ============

func (c *Client) reverseGoogle(ctx context.Context, lat, lng float64) (*models.Address, error) {
	results, err := c.google.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	})
	if err != nil {
		return nil, fmt.Errorf("google reverse geocode: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no reverse geocode result")
	}

	r := results[0]
	addr := &models.Address{FormattedAddress: r.FormattedAddress}
	for _, comp := range r.AddressComponents {
		for _, t := range comp.Types {
			switch t {
			case "country":
				addr.Country = comp.LongName
			case "administrative_area_level_1":
				addr.Province = comp.LongName
			case "locality":
				addr.City = comp.LongName
			case "sublocality", "administrative_area_level_2":
				if addr.District == "" {
					addr.District = comp.LongName
				}
			case "route":
				addr.Street = comp.LongName
			case "street_number":
				addr.StreetNumber = comp.LongName
			}
		}
	}

	c.logger.Debug("Geocoded via Google",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("address", addr.FormattedAddress))
	return addr, nil
}

// ============ Nominatim (OpenStreetMap) 实现 ============

type nominatimResponse struct {
	DisplayName string           `json:"display_name"`
	Error       string           `json:"error"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	Road        string `json:"road"`
	HouseNumber string `json:"house_number"`
	Suburb      string `json:"suburb"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	County      string `json:"county"`
	State       string `json:"state"`
	Country     string `json:"country"`
}

func (c *Client) reverseNominatim(ctx context.Context, lat, lng float64) (*models.Address, error) {
	c.nominatimMu.Lock()
	elapsed := time.Since(c.lastNominatimRequest)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastNominatimRequest = time.Now()
	c.nominatimMu.Unlock()

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lng))
	q.Set("format", "json")
	apiURL := c.nominatimURL + "/reverse?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// Nominatim 要求设置 User-Agent
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("nominatim api returned status %d", resp.StatusCode)
	}

	var result nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("nominatim api error: %s", result.Error)
	}

	// 城市字段可能在 city/town/village 中
	city := result.Address.City
	if city == "" {
		city = result.Address.Town
	}
	if city == "" {
		city = result.Address.Village
	}

	addr := &models.Address{
		FormattedAddress: result.DisplayName,
		Country:          result.Address.Country,
		Province:         result.Address.State,
		City:             city,
		District:         result.Address.County,
		Street:           result.Address.Road,
		StreetNumber:     result.Address.HouseNumber,
	}

	c.logger.Debug("Geocoded via Nominatim",
		zap.Float64("lat", lat),
		zap.Float64("lng", lng),
		zap.String("address", addr.FormattedAddress))
	return addr, nil
}

// Package directions 封装外部路线服务，把服务商返回的数据转换为引擎的 Route 类型
package directions

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"googlemaps.github.io/maps"

	"github.com/langchou/motonav/internal/fuel"
	"github.com/langchou/motonav/internal/models"
)

const (
	// DefaultMinAlternatives 备选路线最少数量
	DefaultMinAlternatives = 3

	// PlaceholderTrafficRate 服务商未提供拥堵数据时的统一占位值
	PlaceholderTrafficRate = 3

	// SyntheticScaleStep 合成路线每个位置的放大步长: 1 + 0.1*index
	SyntheticScaleStep = 0.1
)

// Provider 路线获取接口，导航会话只依赖该接口
type Provider interface {
	FetchRoutes(ctx context.Context, origin, destination models.Coordinate, motor models.MotorProfile) (*models.RouteSet, error)
}

// Config 适配器配置
type Config struct {
	APIKey          string
	BaseURL         string        // 为空时使用 Google 默认地址
	Avoid           []string      // tolls, highways, ferries
	MinAlternatives int           // 补齐目标
	Timeout         time.Duration // 单次请求超时
}

// directionsAPI 便于测试替换的最小接口
type directionsAPI interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// Adapter Google Directions 适配器
type Adapter struct {
	client directionsAPI
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// NewAdapter 创建适配器
func NewAdapter(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	opts := []maps.ClientOption{
		maps.WithAPIKey(cfg.APIKey),
		maps.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}

	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return newAdapter(client, cfg, logger), nil
}

func newAdapter(client directionsAPI, cfg Config, logger *zap.Logger) *Adapter {
	if cfg.MinAlternatives <= 0 {
		cfg.MinAlternatives = DefaultMinAlternatives
	}
	return &Adapter{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// FetchRoutes 一次请求获取服务商的全部备选路线并转换为 RouteSet。
// 第一条路线即 bestRoute（沿用服务商排序）；备选不足时按合成策略补齐并打上 Synthetic 标记。
func (a *Adapter) FetchRoutes(ctx context.Context, origin, destination models.Coordinate, motor models.MotorProfile) (*models.RouteSet, error) {
	if err := fuel.ValidateEfficiency(motor.FuelEfficiencyKmPerLiter); err != nil {
		return nil, err
	}

	req := &maps.DirectionsRequest{
		Origin:        origin.String(),
		Destination:   destination.String(),
		Mode:          maps.TravelModeDriving,
		Alternatives:  true,
		DepartureTime: "now",
		TrafficModel:  maps.TrafficModelBestGuess,
	}
	for _, avoid := range a.cfg.Avoid {
		switch strings.TrimSpace(avoid) {
		case "tolls":
			req.Avoid = append(req.Avoid, maps.AvoidTolls)
		case "highways":
			req.Avoid = append(req.Avoid, maps.AvoidHighways)
		case "ferries":
			req.Avoid = append(req.Avoid, maps.AvoidFerries)
		}
	}

	started := a.now()
	routes, _, err := a.client.Directions(ctx, req)
	if err != nil {
		err = classify(err)
		a.logger.Warn("Directions request failed",
			zap.String("origin", req.Origin),
			zap.String("destination", req.Destination),
			zap.Error(err))
		return nil, err
	}
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoutesFound, req.Origin, req.Destination)
	}

	converted := make([]models.Route, 0, len(routes))
	for i := range routes {
		r, err := a.convertRoute(&routes[i], origin, destination, motor)
		if err != nil {
			return nil, err
		}
		converted = append(converted, r)
	}

	set := &models.RouteSet{
		Origin:       origin,
		Destination:  destination,
		BestRoute:    converted[0],
		Alternatives: PadAlternatives(converted, a.cfg.MinAlternatives),
		FetchedAt:    a.now(),
	}

	a.logger.Info("Fetched routes",
		zap.Int("provider_routes", len(routes)),
		zap.Int("synthetic", set.SyntheticCount()),
		zap.Float64("best_distance_m", set.BestRoute.DistanceMeters),
		zap.Duration("latency", a.now().Sub(started)))

	return set, nil
}

// convertRoute 把服务商路线转换为 Route，多段路线的距离和时间累加
func (a *Adapter) convertRoute(r *maps.Route, origin, destination models.Coordinate, motor models.MotorProfile) (models.Route, error) {
	var distanceM, durationS, trafficS float64
	var instructions []string
	for _, leg := range r.Legs {
		if leg == nil {
			continue
		}
		distanceM += float64(leg.Distance.Meters)
		durationS += leg.Duration.Seconds()
		trafficS += leg.DurationInTraffic.Seconds()
		for _, step := range leg.Steps {
			if step == nil {
				continue
			}
			if text := StripTags(step.HTMLInstructions); text != "" {
				instructions = append(instructions, text)
			}
		}
	}

	coords, err := decodePolyline(r.OverviewPolyline.Points)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: decode polyline: %v", ErrProviderError, err)
	}
	// 折线至少两个点
	if len(coords) < 2 {
		coords = []models.Coordinate{origin, destination}
	}

	liters, err := fuel.Liters(distanceM/1000, motor.FuelEfficiencyKmPerLiter)
	if err != nil {
		return models.Route{}, err
	}

	return models.Route{
		ID:                 a.newID(),
		Summary:            r.Summary,
		DistanceMeters:     distanceM,
		DurationSeconds:    durationS,
		FuelEstimateLiters: liters,
		TrafficRate:        TrafficRate(durationS, trafficS),
		Coordinates:        coords,
		Instructions:       instructions,
	}, nil
}

func decodePolyline(points string) ([]models.Coordinate, error) {
	if points == "" {
		return nil, nil
	}
	latlngs, err := maps.DecodePolyline(points)
	if err != nil {
		return nil, err
	}
	coords := make([]models.Coordinate, 0, len(latlngs))
	for _, ll := range latlngs {
		coords = append(coords, models.NewCoordinate(ll.Lat, ll.Lng))
	}
	return coords, nil
}

// TrafficRate 根据拥堵时长与常规时长之比分为 1..5 档；无拥堵数据时返回占位值
func TrafficRate(durationSeconds, inTrafficSeconds float64) int {
	if durationSeconds <= 0 || inTrafficSeconds <= 0 {
		return PlaceholderTrafficRate
	}
	ratio := inTrafficSeconds / durationSeconds
	switch {
	case ratio < 1.1:
		return 1
	case ratio < 1.25:
		return 2
	case ratio < 1.5:
		return 3
	case ratio < 1.75:
		return 4
	default:
		return 5
	}
}

// PadAlternatives 备选不足 minCount 时，克隆最后一条真实路线并按 1+0.1*index 放大
// 距离、时间和油耗。合成路线标记 Synthetic，ID 带 "-synthetic-<index>" 后缀。
func PadAlternatives(routes []models.Route, minCount int) []models.Route {
	out := make([]models.Route, 0, max(len(routes), minCount))
	for _, r := range routes {
		out = append(out, r.Clone())
	}
	if len(out) == 0 {
		return out
	}

	base := out[len(out)-1]
	for i := len(out); i < minCount; i++ {
		factor := 1 + SyntheticScaleStep*float64(i)
		clone := base.Clone()
		clone.ID = fmt.Sprintf("%s-synthetic-%d", base.ID, i)
		clone.DistanceMeters = base.DistanceMeters * factor
		clone.DurationSeconds = base.DurationSeconds * factor
		clone.FuelEstimateLiters = base.FuelEstimateLiters * factor
		clone.Synthetic = true
		out = append(out, clone)
	}
	return out
}

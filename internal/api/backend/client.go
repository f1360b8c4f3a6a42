// Package backend 后端接口客户端：行程、保养记录和车辆登记
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/langchou/motonav/internal/models"
)

// 持久化错误
var (
	ErrTripSaveFailed        = errors.New("backend: trip save failed")
	ErrMaintenanceSaveFailed = errors.New("backend: maintenance save failed")
	ErrMotorFetchFailed      = errors.New("backend: motor registry fetch failed")
	ErrMotorNotFound         = errors.New("backend: motor not found")
)

// Client 后端 API 客户端
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

// NewClient 创建后端客户端
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
	}
}

// MaintenanceRecord POST /api/maintenance-records 的请求体
type MaintenanceRecord struct {
	UserID    string             `json:"userId"`
	MotorID   string             `json:"motorId"`
	Type      string             `json:"type"`
	Timestamp time.Time          `json:"timestamp"`
	Location  models.Coordinate  `json:"location"`
	Details   MaintenanceDetails `json:"details"`
}

// MaintenanceDetails 保养明细
type MaintenanceDetails struct {
	Cost     float64  `json:"cost"`
	Quantity *float64 `json:"quantity,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// NewMaintenanceRecord 由保养动作构建请求体
func NewMaintenanceRecord(userID, motorID string, a models.MaintenanceAction) MaintenanceRecord {
	return MaintenanceRecord{
		UserID:    userID,
		MotorID:   motorID,
		Type:      string(a.Type),
		Timestamp: a.Timestamp,
		Location:  a.Location,
		Details: MaintenanceDetails{
			Cost:     a.Cost,
			Quantity: a.Quantity,
			Notes:    a.Notes,
		},
	}
}

// doRequest 执行带认证的 JSON 请求
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// post 发送 JSON，非 2xx 返回包装了 sentinel 的错误
func (c *Client) post(ctx context.Context, path string, payload any, sentinel error) error {
	resp, err := c.doRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status=%d body=%s", sentinel, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// SaveTrip POST /api/trips
func (c *Client) SaveTrip(ctx context.Context, trip models.TripSummary) error {
	if err := c.post(ctx, "/api/trips", trip, ErrTripSaveFailed); err != nil {
		return err
	}
	c.logger.Info("Trip saved to backend",
		zap.String("session_id", trip.SessionID),
		zap.Float64("actual_km", trip.ActualDistanceKm))
	return nil
}

// SaveMaintenance POST /api/maintenance-records
func (c *Client) SaveMaintenance(ctx context.Context, record MaintenanceRecord) error {
	if err := c.post(ctx, "/api/maintenance-records", record, ErrMaintenanceSaveFailed); err != nil {
		return err
	}
	c.logger.Info("Maintenance record saved to backend",
		zap.String("motor_id", record.MotorID),
		zap.String("type", record.Type))
	return nil
}

// ListMotors GET /api/user-motors/user/:id，兼容裸数组和 {"data": [...]} 两种响应
func (c *Client) ListMotors(ctx context.Context, userID string) ([]models.MotorProfile, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/user-motors/user/"+url.PathEscape(userID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMotorFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrMotorFetchFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrMotorFetchFailed, err)
	}

	var motors []models.MotorProfile
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped struct {
			Data []models.MotorProfile `json:"data"`
		}
		err = json.Unmarshal(trimmed, &wrapped)
		motors = wrapped.Data
	} else {
		err = json.Unmarshal(trimmed, &motors)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode motors: %v", ErrMotorFetchFailed, err)
	}
	return motors, nil
}

// FindMotor 在车辆登记中按 ID 查找
func (c *Client) FindMotor(ctx context.Context, userID, motorID string) (models.MotorProfile, error) {
	motors, err := c.ListMotors(ctx, userID)
	if err != nil {
		return models.MotorProfile{}, err
	}
	for _, m := range motors {
		if m.ID == motorID {
			return m, nil
		}
	}
	return models.MotorProfile{}, fmt.Errorf("%w: %s for user %s", ErrMotorNotFound, motorID, userID)
}

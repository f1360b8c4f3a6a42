package directions

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// 路线获取错误
var (
	ErrNoConnectivity = errors.New("route fetch: no connectivity")
	ErrProviderError  = errors.New("route fetch: provider error")
	ErrNoRoutesFound  = errors.New("route fetch: no routes found")
)

// classify 把底层错误归类为上面三种错误之一
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNoConnectivity) || errors.Is(err, ErrProviderError) || errors.Is(err, ErrNoRoutesFound) {
		return err
	}

	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr),
		errors.As(err, &urlErr):
		return fmt.Errorf("%w: %v", ErrNoConnectivity, err)
	case strings.Contains(err.Error(), "ZERO_RESULTS"), strings.Contains(err.Error(), "NOT_FOUND"):
		return fmt.Errorf("%w: %v", ErrNoRoutesFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrProviderError, err)
	}
}

// IsRetryable 是否值得提示用户重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNoConnectivity) || errors.Is(err, ErrProviderError)
}

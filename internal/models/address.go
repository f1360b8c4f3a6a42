package models

import "strings"

// Address 结构化地址信息（用于逆地理编码结果）
type Address struct {
	FormattedAddress string `json:"formatted_address,omitempty"` // 完整格式化地址
	Country          string `json:"country,omitempty"`           // 国家
	Province         string `json:"province,omitempty"`          // 省/州
	City             string `json:"city,omitempty"`              // 市
	District         string `json:"district,omitempty"`          // 区/县
	Street           string `json:"street,omitempty"`            // 道路
	StreetNumber     string `json:"street_number,omitempty"`     // 门牌号
}

// Label 显示用地址，没有格式化地址时由各级字段拼接
func (a Address) Label() string {
	if a.FormattedAddress != "" {
		return a.FormattedAddress
	}
	street := strings.TrimSpace(a.StreetNumber + " " + a.Street)
	var parts []string
	for _, p := range []string{street, a.District, a.City, a.Province, a.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

package model

import (
	"fmt"
	"time"
)

// ISOTime 以 ISO 8601 格式序列化的时间，用于事件和健康检查等非持久化载荷。
type ISOTime time.Time

const isoFormat = "2006-01-02T15:04:05.000000"

// MarshalJSON implements the json.Marshaler interface.
func (t ISOTime) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", t.String())), nil
}

func (t ISOTime) String() string {
	return time.Time(t).Format(isoFormat)
}

// Now 返回当前时间的 ISOTime。
func Now() ISOTime {
	return ISOTime(time.Now())
}

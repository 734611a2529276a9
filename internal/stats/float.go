package stats

import (
	"bytes"
	"encoding/json"
	"math"
)

// Float 序列化时把 NaN / Inf 写成 null，反序列化时 null 还原为 NaN
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// IsNaN 是否为 NaN
func (f Float) IsNaN() bool { return math.IsNaN(float64(f)) }

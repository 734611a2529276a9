package oss

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/anal_data_server/config"
)

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "text/csv", ContentTypeFor(".csv"))
	assert.Equal(t, "text/csv", ContentTypeFor(".CSV"))
	assert.Equal(t, "application/json", ContentTypeFor(".json"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor(".bin"))
}

func TestClient_GetURL(t *testing.T) {
	// 创建客户端不会发起网络请求
	c, err := NewClient(&config.OSSConfig{
		Endpoint:        "oss-cn-hangzhou.aliyuncs.com",
		AccessKeyID:     "id",
		AccessKeySecret: "secret",
		BucketName:      "datalens",
		CDNDomain:       "cdn.example.com",
	})
	require.NoError(t, err)

	url := c.GetURL("charts/histogram/a.json")
	assert.Equal(t, "https://cdn.example.com/charts/histogram/a.json", url)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/config"
	"github.com/qs3c/anal_data_server/internal/pkg/lock"
	"github.com/qs3c/anal_data_server/internal/pkg/queue"
	"github.com/qs3c/anal_data_server/internal/pkg/response"
	"github.com/qs3c/anal_data_server/internal/repository"
	"github.com/qs3c/anal_data_server/internal/service"
	"github.com/qs3c/anal_data_server/internal/stats"
	"github.com/qs3c/anal_data_server/internal/table"
	"github.com/qs3c/anal_data_server/internal/testutil"
	"github.com/qs3c/anal_data_server/internal/translator"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testContext 本地测试上下文
type testContext struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Queue  *queue.Queue
	Router *gin.Engine
}

func setupHandlers(t *testing.T) *testContext {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})

	cfg := &config.Config{
		Upload: config.UploadConfig{
			MaxSize:           1 << 20,
			Dir:               t.TempDir(),
			AllowedExtensions: []string{".csv", ".tsv", ".xlsx"},
		},
	}

	datasetRepo := repository.NewDatasetRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	jobRepo := repository.NewJobRepository(db)
	loader := table.NewFileLoader(0)
	q := queue.NewQueue(client, "test_queue")

	datasetHandler := NewDatasetHandler(
		service.NewDatasetService(datasetRepo, loader, cfg),
		service.NewQuestionService(datasetRepo, analysisRepo, loader, stats.NewEngine(0), translator.New(0, 0)),
	)
	analysisHandler := NewAnalysisHandler(service.NewAnalysisService(
		analysisRepo, jobRepo, datasetRepo, q,
		lock.NewLocker(client, "analysis:start:", 10*time.Second),
	))
	healthHandler := NewHealthHandler(q, nil)

	router := gin.New()
	api := router.Group("/api/v1")
	api.GET("/health", healthHandler.Health)
	api.POST("/datasets", datasetHandler.Upload)
	api.GET("/datasets", datasetHandler.List)
	api.GET("/datasets/:id", datasetHandler.Get)
	api.POST("/datasets/:id/analyze", analysisHandler.Start)
	api.GET("/datasets/:id/analyses", analysisHandler.ListByDataset)
	api.POST("/datasets/:id/text-to-sql", datasetHandler.TextToSQL)
	api.GET("/analyses/:id", analysisHandler.Get)

	return &testContext{DB: db, Redis: client, Queue: q, Router: router}
}

func performRequest(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func performUpload(t *testing.T, r http.Handler, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	var resp response.Response
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)
	return resp
}

// decodeData 把响应中的 data 解码到 v
func decodeData(t *testing.T, resp response.Response, v interface{}) {
	t.Helper()
	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func queueLength(t *testing.T, tc *testContext) int64 {
	t.Helper()
	n, err := tc.Queue.Length(context.Background())
	require.NoError(t, err)
	return n
}

package render

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/qs3c/anal_data_server/internal/viz"
)

// LocalPrefix 本地存储产物的引用前缀
const LocalPrefix = "local://"

// Uploader 对象存储上传接口，*oss.Client 实现了它
type Uploader interface {
	UploadFile(objectKey string, data []byte, contentType string) (string, error)
}

// Store 图表和清洗文件的产物存储。配置了 OSS 时上传，否则写入本地目录。
type Store struct {
	uploader Uploader
	localDir string
}

func NewStore(uploader Uploader, localDir string) *Store {
	return &Store{uploader: uploader, localDir: localDir}
}

// Put 保存产物，返回引用
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.uploader != nil {
		return s.uploader.UploadFile(key, data, contentType)
	}

	path, err := s.localPath(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save artifact locally: %w", err)
	}
	return LocalPrefix + key, nil
}

// Open 读取本地产物，ref 必须是 local:// 引用
func (s *Store) Open(ref string) ([]byte, error) {
	if !strings.HasPrefix(ref, LocalPrefix) {
		return nil, fmt.Errorf("not a local artifact: %s", ref)
	}
	path, err := s.localPath(strings.TrimPrefix(ref, LocalPrefix))
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

func (s *Store) localPath(key string) (string, error) {
	if s.localDir == "" {
		return "", fmt.Errorf("artifact dir not configured")
	}
	clean := filepath.Clean("/" + key)
	return filepath.Join(s.localDir, filepath.FromSlash(clean)), nil
}

// Render 把图表描述保存为 JSON 产物
func (s *Store) Render(ctx context.Context, spec viz.Spec) (string, error) {
	data, err := json.Marshal(spec)
	if err != nil {
		return "", &viz.RenderError{Chart: spec.Title, Err: err}
	}
	key := fmt.Sprintf("charts/%s/%s.json", spec.Type, uuid.NewString())
	ref, err := s.Put(ctx, key, data, "application/json")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &viz.RenderError{Chart: spec.Title, Err: err}
	}
	return ref, nil
}

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/anal_data_server/config"
	"github.com/qs3c/anal_data_server/internal/database"
	"github.com/qs3c/anal_data_server/internal/model"
	"github.com/qs3c/anal_data_server/internal/pkg/cron"
	"github.com/qs3c/anal_data_server/internal/repository"
)

var (
	dryRun       = flag.Bool("dry-run", true, "Dry run mode, don't actually change anything")
	uploadExpire = flag.Int("upload-expire", 0, "Hours to keep unanalyzed datasets (0 uses config)")
	orphanExpire = flag.Int("orphan-expire", 24, "Hours to keep dataset files without a record")
	reapStale    = flag.Bool("reap-stale", true, "Fail analyses stuck in processing or never picked up")
	cleanUploads = flag.Bool("clean-uploads", true, "Delete expired unanalyzed datasets")
	cleanOrphans = flag.Bool("clean-orphans", true, "Delete dataset files without a record")
)

func main() {
	flag.Parse()

	log.Println("🧹 Starting cleanup task...")
	log.Printf("Mode: dry-run=%v", *dryRun)

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 连接数据库
	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	expireHours := cfg.Upload.ExpireHours
	if *uploadExpire > 0 {
		expireHours = *uploadExpire
	}

	analysisRepo := repository.NewAnalysisRepository(db)
	datasetRepo := repository.NewDatasetRepository(db)
	jobRepo := repository.NewJobRepository(db)
	svc := cron.NewService(analysisRepo, datasetRepo, jobRepo, cfg.Pipeline.StaleAfter, expireHours)

	now := time.Now()
	var reaped int64
	var expired, deletedFiles int
	var deletedSize int64

	// 1. 回收卡住的分析
	if *reapStale {
		log.Printf("\n⏱  Reaping analyses stuck or unclaimed longer than %s...", cfg.Pipeline.StaleAfter)
		if *dryRun {
			stale, err := analysisRepo.ListStale(now.Add(-cfg.Pipeline.StaleAfter))
			if err != nil {
				log.Printf("Failed to list stale analyses: %v", err)
			}
			for _, a := range stale {
				log.Printf("  - analysis %d (dataset %d, %s, stage %q)", a.ID, a.DatasetID, a.Status, a.CurrentStage)
			}
			reaped = int64(len(stale))
		} else {
			reaped = svc.ReapStale(now)
		}
	}

	// 2. 删除过期的未分析数据集
	if *cleanUploads && expireHours > 0 {
		log.Printf("\n📦 Cleaning unanalyzed datasets (older than %d hours)...", expireHours)
		if *dryRun {
			datasets, err := datasetRepo.ListUnanalyzedBefore(now.Add(-time.Duration(expireHours) * time.Hour))
			if err != nil {
				log.Printf("Failed to list expired datasets: %v", err)
			}
			for _, ds := range datasets {
				log.Printf("  - dataset %d %s (%s)", ds.ID, ds.OriginalFilename, formatSize(ds.FileSize))
			}
			expired = len(datasets)
		} else {
			expired = svc.ExpireUploads(now)
		}
	}

	// 3. 删除没有记录的数据集文件
	if *cleanOrphans {
		log.Printf("\n🗑  Cleaning orphaned dataset files (older than %d hours)...", *orphanExpire)
		deletedSize, deletedFiles = cleanOrphanFiles(db, cfg.Upload.Dir, *orphanExpire, *dryRun)
	}

	// 4. 统计当前占用
	log.Println("\n📈 Scanning current disk usage...")
	totalSize, totalFiles := getDirSize(cfg.Upload.Dir)
	artifactSize, artifactFiles := getDirSize(cfg.Upload.ArtifactDir)

	// 输出统计
	log.Println("\n" + strings.Repeat("=", 60))
	log.Println("📊 Cleanup Summary")
	log.Println(strings.Repeat("=", 60))
	log.Printf("Stale analyses: %d", reaped)
	log.Printf("Expired datasets: %d", expired)
	log.Printf("Dataset files: %d (%s)", totalFiles, formatSize(totalSize))
	log.Printf("Artifact files: %d (%s)", artifactFiles, formatSize(artifactSize))
	log.Printf("Orphaned files deleted: %d", deletedFiles)
	log.Printf("Freed space: %s", formatSize(deletedSize))
	if *dryRun {
		log.Println("\n⚠️  DRY RUN MODE - Nothing was actually changed")
		log.Println("   Run with -dry-run=false to apply")
	} else {
		log.Println("\n✅ Cleanup completed!")
	}
	log.Println(strings.Repeat("=", 60))
}

// cleanOrphanFiles 删除上传目录中没有对应数据集记录的文件
func cleanOrphanFiles(db *gorm.DB, uploadDir string, expireHours int, dryRun bool) (int64, int) {
	var paths []string
	if err := db.Model(&model.Dataset{}).Pluck("file_path", &paths).Error; err != nil {
		log.Printf("Failed to query datasets: %v", err)
		return 0, 0
	}
	known := make(map[string]bool, len(paths))
	for _, p := range paths {
		known[filepath.Clean(p)] = true
	}

	entries, err := os.ReadDir(uploadDir)
	if err != nil {
		log.Printf("Failed to read upload dir: %v", err)
		return 0, 0
	}

	expireTime := time.Now().Add(-time.Duration(expireHours) * time.Hour)
	var totalSize int64
	var count int
	for _, entry := range entries {
		// 产物目录等子目录不处理
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(uploadDir, entry.Name())
		if known[filepath.Clean(path)] {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(expireTime) {
			continue
		}

		log.Printf("  - %s (%s, %s old)",
			entry.Name(),
			formatSize(info.Size()),
			time.Since(info.ModTime()).Round(time.Hour))

		if !dryRun {
			if err := os.Remove(path); err != nil {
				log.Printf("    ❌ Failed to delete: %v", err)
				continue
			}
		}
		totalSize += info.Size()
		count++
	}

	log.Printf("Found %d orphaned files (total: %s)", count, formatSize(totalSize))
	return totalSize, count
}

// getDirSize 计算目录大小和文件数
func getDirSize(path string) (int64, int) {
	var size int64
	var files int
	filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			size += info.Size()
			files++
		}
		return nil
	})
	return size, files
}

// formatSize 格式化文件大小
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

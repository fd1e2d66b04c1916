package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"RadioRoyal/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "广播归档管理",
	Long:  `查看和管理MinIO中的广播归档，支持列出文件、查看统计信息、删除前缀下的归档。`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cfg.MinioEnabled() {
			log.Fatal("MINIO_ENDPOINT 未设置，归档未启用")
		}
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		archive, err := storage.NewArchive(ctx, cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			n, err := archive.Delete(ctx, minioPrefix)
			fmt.Printf("已删除 %d 个对象 (前缀: %s)\n", n, minioPrefix)
			if err != nil {
				log.Fatalf("删除失败: %v", err)
			}
			return
		}

		objects, stats, err := archive.List(ctx, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}
		if !minioStats {
			for _, o := range objects {
				fmt.Printf("%-60s %10s  %s\n", o.Key, storage.FormatSize(o.Size), o.LastModified.Format("2006-01-02 15:04:05"))
			}
		}
		fmt.Printf("\n对象数量: %d, 总大小: %s", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		if !stats.LastModified.IsZero() {
			fmt.Printf(", 最后修改: %s", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "broadcasts/", "按前缀过滤归档或指定要删除的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除前缀下的所有归档")

	minioCmd.Example = `  # 列出所有归档
  radioroyal minio

  # 某一天的归档
  radioroyal minio -p "broadcasts/2026/10/16/"

  # 统计信息
  radioroyal minio -s

  # 删除某个月的归档
  radioroyal minio -d -p "broadcasts/2026/09/"`
}

package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"RadioRoyal/cache"
	"RadioRoyal/db"
	"RadioRoyal/model"

	"github.com/spf13/cobra"
)

const redisCheckKey = "https://www.youtube.com/watch?v=radioroyal0"

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "检查解析缓存的Redis",
	Long:  `连接 REDIS_HOST，做一次读写探测，再通过解析缓存写入并读回一个直链记录。`,
	Run: func(cmd *cobra.Command, args []string) {
		if !cfg.RedisEnabled() {
			log.Fatal("REDIS_HOST 未设置，解析缓存使用内存")
		}
		fmt.Printf("Redis: %s:%s db=%d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)
		if err := db.ConnectRedis(cfg); err != nil {
			log.Fatalf("无法连接到Redis: %v", err)
		}
		defer func() {
			if err := db.CloseRedis(); err != nil {
				log.Printf("关闭Redis连接时发生错误: %v", err)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.CheckRedis(ctx); err != nil {
			log.Fatalf("Redis读写探测失败: %v", err)
		}

		sources := cache.NewRedisSourceCache(db.RedisClient)
		sample := model.ResolvedSource{
			Key:       redisCheckKey,
			DirectURL: "https://example.invalid/check.m4a",
			ExpiresAt: time.Now().Add(time.Minute),
		}
		if err := sources.Set(ctx, sample); err != nil {
			log.Fatalf("解析缓存写入失败: %v", err)
		}
		got, ok, err := sources.Get(ctx, sample.Key)
		if err != nil || !ok || got.DirectURL != sample.DirectURL {
			log.Fatalf("解析缓存读回不一致: ok=%v err=%v", ok, err)
		}
		db.RedisClient.Del(ctx, sources.GetSourceKey(sample.Key))
		fmt.Println("Redis 解析缓存可用")
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
}
